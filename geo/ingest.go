package geo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/logger"
)

// Telematics vendors disagree on field names; the first path present wins.
var (
	eventTypePaths = []string{"event_type", "eventType", "type"}
	vehiclePaths   = []string{"vehicle_id", "vehicleId", "vehicle.id"}
	latitudePaths  = []string{"latitude", "lat", "location.latitude", "location.lat"}
	longitudePaths = []string{"longitude", "lng", "lon", "location.longitude", "location.lng"}
	speedPaths     = []string{"speed", "speed_kmh", "location.speed"}
	timePaths      = []string{"timestamp", "time", "recorded_at"}
)

// Ingestor turns webhook bodies into stored tracking events.
type Ingestor struct {
	writer EventWriter
	now    func() time.Time
	newID  func() string
}

// NewIngestor builds an ingestor writing to w.
func NewIngestor(w EventWriter) *Ingestor {
	return &Ingestor{writer: w, now: time.Now, newID: uuid.NewString}
}

// Ingest parses body from source, stamps received_at into the raw payload
// and stores the event. The stored raw payload is the stamped body.
func (in *Ingestor) Ingest(ctx context.Context, source string, body []byte) (TrackingEvent, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return TrackingEvent{}, fmt.Errorf("%w: source is required", ErrInvalidPayload)
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return TrackingEvent{}, fmt.Errorf("%w: body is not a JSON object", ErrInvalidPayload)
	}

	doc := gjson.ParseBytes(body)
	receivedAt := in.now().UTC()

	eventType := first(doc, eventTypePaths).String()
	if eventType == "" {
		return TrackingEvent{}, fmt.Errorf("%w: event_type is required", ErrInvalidPayload)
	}

	lat, lon := first(doc, latitudePaths), first(doc, longitudePaths)
	if lat.Type != gjson.Number || lon.Type != gjson.Number {
		return TrackingEvent{}, fmt.Errorf("%w: numeric latitude and longitude are required", ErrInvalidPayload)
	}
	if lat.Float() < -90 || lat.Float() > 90 || lon.Float() < -180 || lon.Float() > 180 {
		return TrackingEvent{}, fmt.Errorf("%w: coordinates out of range", ErrInvalidPayload)
	}

	timestamp := receivedAt
	if ts := first(doc, timePaths); ts.Exists() {
		parsed, err := parseTimestamp(ts)
		if err != nil {
			return TrackingEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		timestamp = parsed
	}

	raw, err := sjson.SetBytes(body, "received_at", receivedAt.Format(time.RFC3339))
	if err != nil {
		return TrackingEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	event := TrackingEvent{
		ID:         in.newID(),
		Source:     source,
		EventType:  eventType,
		VehicleID:  first(doc, vehiclePaths).String(),
		Latitude:   lat.Float(),
		Longitude:  lon.Float(),
		Timestamp:  timestamp,
		RawPayload: raw,
	}
	if speed := first(doc, speedPaths); speed.Type == gjson.Number {
		v := speed.Float()
		event.Speed = &v
	}

	if err := in.writer.InsertEvent(ctx, event); err != nil {
		return TrackingEvent{}, fmt.Errorf("store tracking event: %w", err)
	}

	logger.LogWithFields(logger.InfoLevel, "Tracking event ingested", map[string]any{
		"id":         event.ID,
		"source":     source,
		"event_type": eventType,
		"vehicle_id": event.VehicleID,
	})
	return event, nil
}

func first(doc gjson.Result, paths []string) gjson.Result {
	for _, p := range paths {
		if r := doc.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

// parseTimestamp accepts RFC 3339 strings and unix seconds or milliseconds.
func parseTimestamp(r gjson.Result) (time.Time, error) {
	if r.Type == gjson.Number {
		v := r.Int()
		if v > 1e12 {
			return time.UnixMilli(v).UTC(), nil
		}
		return time.Unix(v, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, r.String())
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q is not RFC 3339", r.String())
	}
	return t.UTC(), nil
}
