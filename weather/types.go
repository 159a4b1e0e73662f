// Package weather resolves site weather for compliance reports. Lookups go
// through a cache before the provider, and provider failures degrade to a
// deterministic fallback snapshot instead of an error.
package weather

import (
	"context"
	"math"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/api"
)

// Condition is the internal weather vocabulary used on reports.
type Condition string

const (
	Clear        Condition = "clear"
	Rain         Condition = "rain"
	LightSnow    Condition = "lightSnow"
	HeavySnow    Condition = "heavySnow"
	DriftingSnow Condition = "driftingSnow"
	FreezingRain Condition = "freezingRain"
	Sleet        Condition = "sleet"
)

// IsSnow reports whether c is one of the snow conditions.
func (c Condition) IsSnow() bool {
	return c == LightSnow || c == HeavySnow || c == DriftingSnow
}

// Trend is the temperature direction over the next forecast sample.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendSteady Trend = "steady"
)

// Snapshot is the weather recorded against a site visit.
type Snapshot struct {
	Temperature     float64   `json:"temperature" toml:"temperature"`
	Conditions      Condition `json:"conditions" toml:"conditions"`
	PrecipitationMm float64   `json:"precipitation_mm" toml:"precipitation_mm"`
	SnowfallCm      float64   `json:"snowfall_cm" toml:"snowfall_cm"`
	WindSpeedKmh    float64   `json:"wind_speed_kmh" toml:"wind_speed_kmh"`
	Trend           Trend     `json:"temperature_trend" toml:"temperature_trend"`
	Confidence      float64   `json:"forecast_confidence" toml:"forecast_confidence"`
	IsFallback      bool      `json:"is_fallback" toml:"is_fallback"`
}

// Forecast is the high/low over the next 24 hours.
type Forecast struct {
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	IsFallback bool    `json:"is_fallback"`
}

// Provider is the upstream weather source. *api.OpenWeatherClient
// satisfies it.
type Provider interface {
	Configured() bool
	GetCurrentWeather(ctx context.Context, params api.ForecastParams) (*api.CurrentWeatherResponse, error)
	GetForecast(ctx context.Context, params api.ForecastParams) (*api.ForecastResponse, error)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
