package weather

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/api"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/errorutil"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/logger"
)

// DefaultTTL is how long a fetched snapshot stays fresh.
const DefaultTTL = time.Hour

// Resolver answers weather lookups for site visits.
type Resolver struct {
	provider Provider
	cache    CacheStore
	ttl      time.Duration
	source   string
	now      func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock replaces time.Now. The clock decides the cache hour.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithTTL sets the cache lifetime of fetched snapshots.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithSource sets the source tag written into cache keys.
func WithSource(source string) Option {
	return func(r *Resolver) {
		if source != "" {
			r.source = source
		}
	}
}

// NewResolver builds a resolver. A nil provider or one without credentials
// always yields fallback data; a nil cache disables caching.
func NewResolver(provider Provider, cache CacheStore, opts ...Option) *Resolver {
	r := &Resolver{
		provider: provider,
		cache:    cache,
		ttl:      DefaultTTL,
		source:   DefaultSource,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetCurrentWeather returns the snapshot for a site on date (YYYY-MM-DD,
// empty means today). It never fails: provider problems produce a fallback
// snapshot and cache problems are logged.
func (r *Resolver) GetCurrentWeather(ctx context.Context, latitude, longitude float64, date string) Snapshot {
	now := r.now().UTC()
	if date == "" {
		date = now.Format(time.DateOnly)
	}
	key := NewCacheKey(latitude, longitude, date, now.Hour(), r.source)
	log := logger.Get().Logger

	complete := logger.LogOperationStart("weather_resolve", map[string]any{
		"cache_key": key.String(),
	})

	if snapshot, ok := r.lookup(ctx, key, now, log); ok {
		complete(nil)
		return snapshot
	}

	if !r.providerReady() {
		logger.Debug("No weather provider credential, using fallback for %s", key)
		complete(nil)
		return FallbackSnapshot(latitude, longitude, key.Hour)
	}

	snapshot, err := r.fetch(ctx, latitude, longitude)
	if err != nil {
		errorutil.LogWarning(log, "weather provider fetch", err, errorutil.CoordinateContext(latitude, longitude)...)
		complete(err)
		return FallbackSnapshot(latitude, longitude, key.Hour)
	}

	if r.cache != nil {
		record := CacheRecord{
			Key:       key,
			Snapshot:  snapshot,
			CreatedAt: now,
			ExpiresAt: now.Add(r.ttl),
		}
		errorutil.BestEffort(log, "weather cache write", func() error {
			return r.cache.Upsert(ctx, record)
		}, errorutil.CacheContext(key.String(), r.source)...)
	}

	complete(nil)
	return snapshot
}

// GetForecast returns the high and low over the next 24 hours, or
// DefaultForecast when the provider cannot answer.
func (r *Resolver) GetForecast(ctx context.Context, latitude, longitude float64) Forecast {
	if !r.providerReady() {
		return DefaultForecast
	}

	complete := logger.LogOperationStart("weather_forecast", map[string]any{
		"latitude":  latitude,
		"longitude": longitude,
	})

	resp, err := r.provider.GetForecast(ctx, api.ForecastParams{
		Latitude:  latitude,
		Longitude: longitude,
		Count:     forecastSampleCount,
	})
	if err != nil {
		complete(err)
		return DefaultForecast
	}
	if len(resp.List) == 0 {
		complete(nil)
		return DefaultForecast
	}

	samples := resp.List
	if len(samples) > forecastSampleCount {
		samples = samples[:forecastSampleCount]
	}

	high, low := math.Inf(-1), math.Inf(1)
	for _, item := range samples {
		high = math.Max(high, item.Main.Temp)
		low = math.Min(low, item.Main.Temp)
	}

	complete(nil)
	return Forecast{High: round(high, 1), Low: round(low, 1)}
}

func (r *Resolver) providerReady() bool {
	return r.provider != nil && r.provider.Configured()
}

// lookup returns a fresh cached snapshot. Read errors count as a miss.
func (r *Resolver) lookup(ctx context.Context, key CacheKey, now time.Time, log *slog.Logger) (Snapshot, bool) {
	if r.cache == nil {
		return Snapshot{}, false
	}

	record, found, err := r.cache.Get(ctx, key, now)
	if err != nil {
		errorutil.LogWarning(log, "weather cache read", err, errorutil.CacheContext(key.String(), r.source)...)
		return Snapshot{}, false
	}
	if !found || record.Expired(now) {
		return Snapshot{}, false
	}

	logger.Debug("Weather cache hit for %s", key)
	return record.Snapshot, true
}

// fetch reads current conditions and the next forecast samples.
func (r *Resolver) fetch(ctx context.Context, latitude, longitude float64) (Snapshot, error) {
	params := api.ForecastParams{Latitude: latitude, Longitude: longitude}

	current, err := r.provider.GetCurrentWeather(ctx, params)
	if err != nil {
		return Snapshot{}, err
	}

	params.Count = forecastSampleCount
	forecast, err := r.provider.GetForecast(ctx, params)
	if err != nil {
		return Snapshot{}, err
	}

	return snapshotFromProvider(current, forecast), nil
}
