package geo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/errorutil"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/logger"
)

const (
	// DefaultRadiusKm is used when a query leaves the radius at zero.
	DefaultRadiusKm = 0.1
	// DefaultMaxRadiusKm bounds how wide a single query may search.
	DefaultMaxRadiusKm = 50.0
)

// Matcher finds tracking events near a site.
type Matcher struct {
	store         EventStore
	source        string
	defaultRadius float64
	maxRadius     float64
	now           func() time.Time
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithDefaultSource filters queries that name no source.
func WithDefaultSource(source string) MatcherOption {
	return func(m *Matcher) { m.source = source }
}

// WithRadius overrides the default and maximum radius in km.
func WithRadius(defaultKm, maxKm float64) MatcherOption {
	return func(m *Matcher) {
		if defaultKm > 0 {
			m.defaultRadius = defaultKm
		}
		if maxKm > 0 {
			m.maxRadius = maxKm
		}
	}
}

// WithMatcherClock replaces time.Now; it decides "today" for undated queries.
func WithMatcherClock(now func() time.Time) MatcherOption {
	return func(m *Matcher) { m.now = now }
}

// NewMatcher builds a matcher over store.
func NewMatcher(store EventStore, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		store:         store,
		defaultRadius: DefaultRadiusKm,
		maxRadius:     DefaultMaxRadiusKm,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FindEventsByLocationRadius returns the events within query.RadiusKm of
// the query point on query.Date, nearest first. Storage errors are wrapped
// in ErrQueryFailed and never replaced by an empty result.
func (m *Matcher) FindEventsByLocationRadius(ctx context.Context, query LocationQuery) ([]MatchedEvent, error) {
	filter, err := m.buildFilter(&query)
	if err != nil {
		return nil, err
	}

	complete := logger.LogOperationStart("tracking_match", map[string]any{
		"latitude":  query.Latitude,
		"longitude": query.Longitude,
		"date":      query.Date,
		"radius_km": query.RadiusKm,
	})

	candidates, err := m.store.FindEvents(ctx, filter)
	if err != nil {
		logger.LogStructuredError(err, map[string]any{
			"operation": "tracking_match",
			"source":    filter.Source,
			"date":      query.Date,
		})
		err = fmt.Errorf("%w: %w", ErrQueryFailed, err)
		complete(err)
		return nil, err
	}

	matches := make([]MatchedEvent, 0, len(candidates))
	for _, event := range candidates {
		d := HaversineKm(query.Latitude, query.Longitude, event.Latitude, event.Longitude)
		if d > query.RadiusKm {
			continue
		}
		matches = append(matches, MatchedEvent{TrackingEvent: event, DistanceKm: d})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceKm < matches[j].DistanceKm
	})

	logger.LogWithFields(logger.DebugLevel, "Tracking events matched", map[string]any{
		"candidates": len(candidates),
		"matched":    len(matches),
	})
	complete(nil)
	return matches, nil
}

// GetLocationSummary folds the matches for query into counts.
func (m *Matcher) GetLocationSummary(ctx context.Context, query LocationQuery) (LocationSummary, error) {
	matches, err := m.FindEventsByLocationRadius(ctx, query)
	if err != nil {
		return LocationSummary{}, err
	}
	return Summarize(matches), nil
}

// Summarize aggregates matched events. It performs no I/O.
func Summarize(matches []MatchedEvent) LocationSummary {
	summary := LocationSummary{
		TotalEvents:     len(matches),
		EventsByType:    make(map[string]int),
		EventsByVehicle: make(map[string]int),
		UniqueVehicles:  []string{},
	}

	for _, match := range matches {
		summary.EventsByType[match.EventType]++
		if match.VehicleID != "" {
			if summary.EventsByVehicle[match.VehicleID] == 0 {
				summary.UniqueVehicles = append(summary.UniqueVehicles, match.VehicleID)
			}
			summary.EventsByVehicle[match.VehicleID]++
		}

		ts := match.Timestamp
		if summary.TimeRange == nil {
			summary.TimeRange = &TimeRange{Start: ts, End: ts}
			continue
		}
		if ts.Before(summary.TimeRange.Start) {
			summary.TimeRange.Start = ts
		}
		if ts.After(summary.TimeRange.End) {
			summary.TimeRange.End = ts
		}
	}

	sort.Strings(summary.UniqueVehicles)
	return summary
}

// buildFilter validates query, applies defaults in place and returns the
// storage filter for it.
func (m *Matcher) buildFilter(query *LocationQuery) (EventFilter, error) {
	if query.RadiusKm == 0 {
		query.RadiusKm = m.defaultRadius
	}
	if query.Date == "" {
		query.Date = m.now().UTC().Format(time.DateOnly)
	}
	if query.Source == "" {
		query.Source = m.source
	}

	var errs errorutil.ValidationErrors
	errs.Check(errorutil.ValidateCoordinate("latitude", query.Latitude, true))
	errs.Check(errorutil.ValidateCoordinate("longitude", query.Longitude, false))
	errs.Check(errorutil.ValidateRange("radius_km", query.RadiusKm, 0, m.maxRadius))
	errs.Check(errorutil.ValidateDate("date", query.Date))
	if err := errs.Err(); err != nil {
		return EventFilter{}, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}

	day, _ := time.Parse(time.DateOnly, query.Date)
	return EventFilter{
		Bounds:     BoundingBox(query.Latitude, query.Longitude, query.RadiusKm),
		Source:     query.Source,
		From:       day,
		To:         day.Add(24 * time.Hour),
		EventTypes: query.EventTypes,
	}, nil
}
