// Package postgres stores the weather cache and tracking events in
// PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/geo"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/weather"
)

//go:embed schema.sql
var schema string

// Store implements weather.CacheStore, geo.EventStore and geo.EventWriter.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to connect: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Health checks database connectivity.
func (s *Store) Health(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: failed to apply schema: %w", err)
	}
	return nil
}

// Get returns the cached snapshot for key if it has not expired at now.
func (s *Store) Get(ctx context.Context, key weather.CacheKey, now time.Time) (weather.CacheRecord, bool, error) {
	query := `
		SELECT payload, created_at, expires_at
		FROM weather_cache
		WHERE cache_key = $1 AND expires_at > $2
	`

	var (
		payload []byte
		rec     = weather.CacheRecord{Key: key}
	)
	err := s.pool.QueryRow(ctx, query, key.String(), now).Scan(&payload, &rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return weather.CacheRecord{}, false, nil
	}
	if err != nil {
		return weather.CacheRecord{}, false, fmt.Errorf("postgres: failed to read weather cache: %w", err)
	}
	if err := json.Unmarshal(payload, &rec.Snapshot); err != nil {
		return weather.CacheRecord{}, false, fmt.Errorf("postgres: corrupt weather cache payload: %w", err)
	}
	return rec, true, nil
}

// Upsert writes record, overwriting any row with the same key.
func (s *Store) Upsert(ctx context.Context, record weather.CacheRecord) error {
	payload, err := json.Marshal(record.Snapshot)
	if err != nil {
		return fmt.Errorf("postgres: failed to encode snapshot: %w", err)
	}

	query := `
		INSERT INTO weather_cache (
			cache_key, latitude, longitude, cache_date, cache_hour, source,
			payload, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (cache_key) DO UPDATE SET
			payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`

	k := record.Key
	_, err = s.pool.Exec(ctx, query,
		k.String(), k.Latitude, k.Longitude, k.Date, k.Hour, k.Source,
		payload, record.CreatedAt, record.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert weather cache: %w", err)
	}
	return nil
}

// DeleteExpired removes rows expired at now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM weather_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to delete expired cache rows: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// InsertEvent stores a tracking event.
func (s *Store) InsertEvent(ctx context.Context, e geo.TrackingEvent) error {
	query := `
		INSERT INTO tracking_events (
			id, source, event_type, vehicle_id, latitude, longitude,
			speed, timestamp_utc, raw_payload, processed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	var vehicle *string
	if e.VehicleID != "" {
		vehicle = &e.VehicleID
	}
	var raw []byte
	if len(e.RawPayload) > 0 {
		raw = e.RawPayload
	}

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.Source, e.EventType, vehicle, e.Latitude, e.Longitude,
		e.Speed, e.Timestamp, raw, e.Processed,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save tracking event: %w", err)
	}
	return nil
}

// FindEvents runs the bounding box query described by filter.
func (s *Store) FindEvents(ctx context.Context, filter geo.EventFilter) ([]geo.TrackingEvent, error) {
	query := `
		SELECT id, source, event_type, vehicle_id, latitude, longitude,
			   speed, timestamp_utc, raw_payload, processed
		FROM tracking_events
		WHERE latitude BETWEEN $1 AND $2
		  AND longitude BETWEEN $3 AND $4
		  AND timestamp_utc >= $5 AND timestamp_utc < $6
		  AND ($7 = '' OR source = $7)
		  AND (cardinality($8::text[]) = 0 OR event_type = ANY($8::text[]))
		ORDER BY timestamp_utc
	`

	eventTypes := filter.EventTypes
	if eventTypes == nil {
		eventTypes = []string{}
	}

	b := filter.Bounds
	rows, err := s.pool.Query(ctx, query,
		b.MinLatitude, b.MaxLatitude, b.MinLongitude, b.MaxLongitude,
		filter.From, filter.To, filter.Source, eventTypes,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query tracking events: %w", err)
	}
	defer rows.Close()

	var results []geo.TrackingEvent
	for rows.Next() {
		var (
			e       geo.TrackingEvent
			vehicle *string
			raw     []byte
		)
		err := rows.Scan(
			&e.ID, &e.Source, &e.EventType, &vehicle, &e.Latitude, &e.Longitude,
			&e.Speed, &e.Timestamp, &raw, &e.Processed,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan tracking event: %w", err)
		}
		if vehicle != nil {
			e.VehicleID = *vehicle
		}
		e.RawPayload = raw
		e.Timestamp = e.Timestamp.UTC()
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to read tracking events: %w", err)
	}

	return results, nil
}
