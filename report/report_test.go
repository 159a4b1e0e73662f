package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/api"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/geo"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/weather"
)

type fixedWeather struct {
	snapshot weather.Snapshot
	forecast weather.Forecast
	gotDate  string
}

func (f *fixedWeather) GetCurrentWeather(ctx context.Context, lat, lon float64, date string) weather.Snapshot {
	f.gotDate = date
	return f.snapshot
}

func (f *fixedWeather) GetForecast(ctx context.Context, lat, lon float64) weather.Forecast {
	return f.forecast
}

type fixedMatcher struct {
	matches []geo.MatchedEvent
	err     error
	query   geo.LocationQuery
}

func (m *fixedMatcher) FindEventsByLocationRadius(ctx context.Context, q geo.LocationQuery) ([]geo.MatchedEvent, error) {
	m.query = q
	return m.matches, m.err
}

type fakeNarrator struct {
	text    string
	err     error
	request api.NarrativeRequest
}

func (n *fakeNarrator) Generate(ctx context.Context, req api.NarrativeRequest) (*api.NarrativeResponse, error) {
	n.request = req
	if n.err != nil {
		return nil, n.err
	}
	return &api.NarrativeResponse{Text: n.text}, nil
}

var visitDay = time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)

func fixtures() (*fixedWeather, *fixedMatcher) {
	w := &fixedWeather{
		snapshot: weather.Snapshot{Temperature: -5, Conditions: weather.LightSnow, SnowfallCm: 1.2, PrecipitationMm: 2, WindSpeedKmh: 14, Trend: weather.TrendDown, Confidence: 0.9},
		forecast: weather.Forecast{High: -2, Low: -9},
	}
	m := &fixedMatcher{matches: []geo.MatchedEvent{
		{TrackingEvent: geo.TrackingEvent{ID: "a", EventType: "plow", VehicleID: "truck-1", Timestamp: visitDay.Add(6 * time.Hour)}, DistanceKm: 0.01},
		{TrackingEvent: geo.TrackingEvent{ID: "b", EventType: "salt", VehicleID: "truck-2", Timestamp: visitDay.Add(7*time.Hour + 30*time.Minute)}, DistanceKm: 0.04},
	}}
	return w, m
}

func TestBuildWithTemplate(t *testing.T) {
	w, m := fixtures()
	b := NewBuilder(w, m, nil)

	rep, err := b.Build(context.Background(), Request{Latitude: 45, Longitude: -75, Date: "2024-01-15", RadiusKm: 0.2, SiteName: "Elm St lot"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if rep.NarrativeSource != SourceTemplate {
		t.Errorf("NarrativeSource = %q", rep.NarrativeSource)
	}
	for _, want := range []string{"Elm St lot", "2024-01-15", "light snow", "-5°C", "falling", "1.2 cm", "high -2°C", "2 tracking events from 2 vehicles", "06:00 and 07:30 UTC"} {
		if !strings.Contains(rep.Narrative, want) {
			t.Errorf("narrative missing %q:\n%s", want, rep.Narrative)
		}
	}
	if strings.Contains(rep.Narrative, "[missing:") {
		t.Errorf("unresolved template variable:\n%s", rep.Narrative)
	}
	if rep.Tracking.TotalEvents != 2 || len(rep.Events) != 2 {
		t.Errorf("tracking summary = %+v", rep.Tracking)
	}
	if m.query.RadiusKm != 0.2 || w.gotDate != "2024-01-15" {
		t.Errorf("query not forwarded: %+v, date %q", m.query, w.gotDate)
	}
}

func TestBuildWithNarrator(t *testing.T) {
	w, m := fixtures()
	n := &fakeNarrator{text: "Crews plowed and salted the lot during light snow."}

	rep, err := NewBuilder(w, m, n).Build(context.Background(), Request{Latitude: 45, Longitude: -75, Date: "2024-01-15"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if rep.Narrative != n.text || rep.NarrativeSource != SourceClaude {
		t.Errorf("narrative = %q from %s", rep.Narrative, rep.NarrativeSource)
	}
	if !strings.Contains(n.request.System, "SERVICE ACTIVITY NEAR SITE") || !strings.Contains(n.request.System, "plow: 1") {
		t.Errorf("system context incomplete:\n%s", n.request.System)
	}
	if !strings.Contains(n.request.Prompt, "45.0000, -75.0000") {
		t.Errorf("prompt missing site: %s", n.request.Prompt)
	}
}

func TestNarratorFailureFallsBackToTemplate(t *testing.T) {
	w, m := fixtures()
	w.snapshot.IsFallback = true
	n := &fakeNarrator{err: errors.New("overloaded")}

	rep, err := NewBuilder(w, m, n).Build(context.Background(), Request{Latitude: 45, Longitude: -75, Date: "2024-01-15"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if rep.NarrativeSource != SourceTemplate {
		t.Errorf("NarrativeSource = %q", rep.NarrativeSource)
	}
	if !strings.Contains(rep.Narrative, "estimated") {
		t.Errorf("fallback weather not flagged in narrative:\n%s", rep.Narrative)
	}
}

func TestMatcherFailureFailsReport(t *testing.T) {
	w, m := fixtures()
	m.err = errors.Join(geo.ErrQueryFailed, errors.New("db down"))

	if _, err := NewBuilder(w, m, nil).Build(context.Background(), Request{Latitude: 45, Longitude: -75}); !errors.Is(err, geo.ErrQueryFailed) {
		t.Errorf("Build() error = %v, want ErrQueryFailed", err)
	}
}

func TestUndatedRequestUsesToday(t *testing.T) {
	w, m := fixtures()
	b := NewBuilder(w, m, nil)
	b.now = func() time.Time { return time.Date(2024, time.February, 2, 22, 0, 0, 0, time.UTC) }

	rep, err := b.Build(context.Background(), Request{Latitude: 45, Longitude: -75})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if rep.Date != "2024-02-02" || m.query.Date != "2024-02-02" {
		t.Errorf("date = %q / %q", rep.Date, m.query.Date)
	}
}

func TestSubstituteTemplateVariables(t *testing.T) {
	got := substituteTemplateVariables("{{a}} and {{b}} but not {{ c }}", map[string]string{"a": "x"})
	if got != "x and [missing:b] but not {{ c }}" {
		t.Errorf("got %q", got)
	}
}

func TestNoActivityNarrative(t *testing.T) {
	w, _ := fixtures()
	rep, err := NewBuilder(w, &fixedMatcher{}, nil).Build(context.Background(), Request{Latitude: 45, Longitude: -75, Date: "2024-01-15"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(rep.Narrative, "No vehicle activity") {
		t.Errorf("narrative = %s", rep.Narrative)
	}
}
