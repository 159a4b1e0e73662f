// Package report assembles site-condition reports that back a compliance
// visit: weather at the site, the day's forecast and the tracking events
// that corroborate the visit.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/api"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/geo"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/errorutil"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/logger"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/weather"
)

const (
	SourceClaude   = "claude"
	SourceTemplate = "template"
)

// WeatherSource is satisfied by *weather.Resolver.
type WeatherSource interface {
	GetCurrentWeather(ctx context.Context, latitude, longitude float64, date string) weather.Snapshot
	GetForecast(ctx context.Context, latitude, longitude float64) weather.Forecast
}

// EventMatcher is satisfied by *geo.Matcher.
type EventMatcher interface {
	FindEventsByLocationRadius(ctx context.Context, query geo.LocationQuery) ([]geo.MatchedEvent, error)
}

// Narrator is satisfied by *api.NarrativeClient.
type Narrator interface {
	Generate(ctx context.Context, request api.NarrativeRequest) (*api.NarrativeResponse, error)
}

// Request identifies the site visit being reported on.
type Request struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Date      string  `json:"date"`
	RadiusKm  float64 `json:"radius_km"`
	SiteName  string  `json:"site_name,omitempty"`
}

// SiteReport is the assembled report.
type SiteReport struct {
	SiteName        string              `json:"site_name,omitempty"`
	Latitude        float64             `json:"latitude"`
	Longitude       float64             `json:"longitude"`
	Date            string              `json:"date"`
	Weather         weather.Snapshot    `json:"weather"`
	Forecast        weather.Forecast    `json:"forecast"`
	Tracking        geo.LocationSummary `json:"tracking"`
	Events          []geo.MatchedEvent  `json:"events"`
	Narrative       string              `json:"narrative"`
	NarrativeSource string              `json:"narrative_source"`
	GeneratedAt     time.Time           `json:"generated_at"`
}

// Builder assembles reports. A nil narrator always uses the template.
type Builder struct {
	weather  WeatherSource
	matcher  EventMatcher
	narrator Narrator
	now      func() time.Time
}

// NewBuilder creates a report builder.
func NewBuilder(w WeatherSource, m EventMatcher, n Narrator) *Builder {
	return &Builder{weather: w, matcher: m, narrator: n, now: time.Now}
}

// Build assembles the report for req. Only a tracking query failure is
// returned as an error; weather and narrative problems degrade.
func (b *Builder) Build(ctx context.Context, req Request) (*SiteReport, error) {
	complete := logger.LogOperationStart("site_report", map[string]any{
		"latitude":  req.Latitude,
		"longitude": req.Longitude,
		"date":      req.Date,
	})

	if req.Date == "" {
		req.Date = b.now().UTC().Format(time.DateOnly)
	}

	matches, err := b.matcher.FindEventsByLocationRadius(ctx, geo.LocationQuery{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Date:      req.Date,
		RadiusKm:  req.RadiusKm,
	})
	if err != nil {
		complete(err)
		return nil, err
	}

	rep := &SiteReport{
		SiteName:    req.SiteName,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Date:        req.Date,
		Weather:     b.weather.GetCurrentWeather(ctx, req.Latitude, req.Longitude, req.Date),
		Forecast:    b.weather.GetForecast(ctx, req.Latitude, req.Longitude),
		Tracking:    geo.Summarize(matches),
		Events:      matches,
		GeneratedAt: b.now().UTC(),
	}

	rep.Narrative, rep.NarrativeSource = b.narrate(ctx, rep)

	complete(nil)
	return rep, nil
}

// narrate asks the narrator and falls back to the template on any failure.
func (b *Builder) narrate(ctx context.Context, rep *SiteReport) (string, string) {
	vars := reportVariables(rep)
	fallback := substituteTemplateVariables(fallbackTemplate, vars)

	if b.narrator == nil {
		return fallback, SourceTemplate
	}

	resp, err := b.narrator.Generate(ctx, api.NarrativeRequest{
		System: formatSiteContext(rep),
		Prompt: substituteTemplateVariables(promptTemplate, vars),
	})
	if err == nil && resp != nil {
		return resp.Text, SourceClaude
	}
	if err == nil {
		err = errors.New("narrator returned no response")
	}

	errorutil.LogWarning(logger.Get().Logger, "report narrative", err,
		errorutil.CoordinateContext(rep.Latitude, rep.Longitude)...)
	return fallback, SourceTemplate
}
