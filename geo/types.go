// Package geo matches vehicle tracking events to site visits by distance.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrQueryFailed wraps every storage failure seen by the matcher.
	ErrQueryFailed = errors.New("query failed")
	// ErrInvalidQuery is returned for out-of-range coordinates, radius or date.
	ErrInvalidQuery = errors.New("invalid location query")
	// ErrInvalidPayload is returned by the ingestor for unusable webhooks.
	ErrInvalidPayload = errors.New("invalid tracking payload")
)

// TrackingEvent is one telematics event. Events are immutable once stored.
type TrackingEvent struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	EventType  string          `json:"event_type"`
	VehicleID  string          `json:"vehicle_id,omitempty"`
	Latitude   float64         `json:"latitude"`
	Longitude  float64         `json:"longitude"`
	Speed      *float64        `json:"speed,omitempty"`
	Timestamp  time.Time       `json:"timestamp_utc"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
	Processed  bool            `json:"processed"`
}

// LocationQuery asks for events near a point on one UTC day.
type LocationQuery struct {
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	Date       string   `json:"date"` // YYYY-MM-DD, empty means today
	RadiusKm   float64  `json:"radius_km"`
	EventTypes []string `json:"event_types,omitempty"`
	Source     string   `json:"source,omitempty"`
}

// MatchedEvent is a tracking event with its distance from the query point.
type MatchedEvent struct {
	TrackingEvent
	DistanceKm float64 `json:"distance_km"`
}

// TimeRange spans the first and last matched event.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// LocationSummary aggregates the events matched for a query.
type LocationSummary struct {
	TotalEvents     int            `json:"total_events"`
	EventsByType    map[string]int `json:"events_by_type"`
	EventsByVehicle map[string]int `json:"events_by_vehicle"`
	UniqueVehicles  []string       `json:"unique_vehicles"`
	TimeRange       *TimeRange     `json:"time_range,omitempty"`
}

// Bounds is a latitude/longitude rectangle, inclusive on all sides.
type Bounds struct {
	MinLatitude  float64
	MaxLatitude  float64
	MinLongitude float64
	MaxLongitude float64
}

// Contains reports whether the point lies inside b.
func (b Bounds) Contains(latitude, longitude float64) bool {
	return latitude >= b.MinLatitude && latitude <= b.MaxLatitude &&
		longitude >= b.MinLongitude && longitude <= b.MaxLongitude
}

// EventFilter is the storage query shape: box, source, [From, To) and
// optional event types. An empty Source or EventTypes matches all.
type EventFilter struct {
	Bounds     Bounds
	Source     string
	From       time.Time
	To         time.Time
	EventTypes []string
}

// Matches applies the filter to a single event. Stores without a query
// language use it directly.
func (f EventFilter) Matches(e TrackingEvent) bool {
	if !f.Bounds.Contains(e.Latitude, e.Longitude) {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if e.Timestamp.Before(f.From) || !e.Timestamp.Before(f.To) {
		return false
	}
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if t == e.EventType {
			return true
		}
	}
	return false
}

// EventStore reads tracking events.
type EventStore interface {
	FindEvents(ctx context.Context, filter EventFilter) ([]TrackingEvent, error)
}

// EventWriter stores newly ingested events.
type EventWriter interface {
	InsertEvent(ctx context.Context, event TrackingEvent) error
}
