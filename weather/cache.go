package weather

import (
	"context"
	"fmt"
	"math"
	"time"
)

// DefaultSource tags cache entries fetched from OpenWeather.
const DefaultSource = "openweathermap"

// CacheKey identifies one cached snapshot. Coordinates are rounded to two
// decimals (about 1 km) so nearby sites share an entry.
type CacheKey struct {
	Latitude  float64 `json:"latitude" toml:"latitude"`
	Longitude float64 `json:"longitude" toml:"longitude"`
	Date      string  `json:"date" toml:"date"`
	Hour      int     `json:"hour" toml:"hour"`
	Source    string  `json:"source" toml:"source"`
}

// NewCacheKey builds a key with rounded coordinates.
func NewCacheKey(latitude, longitude float64, date string, hour int, source string) CacheKey {
	return CacheKey{
		Latitude:  roundCoordinate(latitude),
		Longitude: roundCoordinate(longitude),
		Date:      date,
		Hour:      hour,
		Source:    source,
	}
}

func roundCoordinate(v float64) float64 {
	r := round(v, 2)
	if r == 0 {
		return math.Abs(r)
	}
	return r
}

// String renders the key as a stable map/file key.
func (k CacheKey) String() string {
	return fmt.Sprintf("%.2f:%.2f:%s:%02d:%s", k.Latitude, k.Longitude, k.Date, k.Hour, k.Source)
}

// CacheRecord is a cached snapshot with its expiry.
type CacheRecord struct {
	Key       CacheKey  `json:"key" toml:"key"`
	Snapshot  Snapshot  `json:"snapshot" toml:"snapshot"`
	CreatedAt time.Time `json:"created_at" toml:"created_at"`
	ExpiresAt time.Time `json:"expires_at" toml:"expires_at"`
}

// Expired reports whether the record is past its expiry at now.
func (r CacheRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// CacheStore persists snapshots. Get must treat expired records as absent
// without deleting them; only DeleteExpired removes rows.
type CacheStore interface {
	Get(ctx context.Context, key CacheKey, now time.Time) (CacheRecord, bool, error)
	Upsert(ctx context.Context, record CacheRecord) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
