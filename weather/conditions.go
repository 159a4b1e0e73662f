package weather

import (
	"strings"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/api"
)

// conditionRule maps provider text to a Condition when any phrase matches.
type conditionRule struct {
	phrases []string
	result  Condition
}

// conditionRules is evaluated top to bottom and the first match wins.
// Specific phrases sit above generic ones: "heavy snow" also contains "snow".
var conditionRules = []conditionRule{
	{phrases: []string{"freezing"}, result: FreezingRain},
	{phrases: []string{"sleet"}, result: Sleet},
	{phrases: []string{"heavy snow", "heavy shower snow", "blizzard"}, result: HeavySnow},
	{phrases: []string{"light snow", "snow shower", "shower snow", "light shower snow"}, result: LightSnow},
	{phrases: []string{"drifting snow", "blowing snow"}, result: DriftingSnow},
	{phrases: []string{"snow"}, result: LightSnow},
	{phrases: []string{"rain", "drizzle"}, result: Rain},
}

// MapCondition maps a provider main/description pair onto a Condition.
func MapCondition(main, description string) Condition {
	text := strings.ToLower(strings.TrimSpace(main + " " + description))
	for _, rule := range conditionRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(text, phrase) {
				return rule.result
			}
		}
	}
	return Clear
}

// trendThreshold is the temperature change in °C that counts as movement.
const trendThreshold = 2.0

// DeriveTrend compares the next forecast temperature with the current one.
func DeriveTrend(current, next float64) Trend {
	delta := next - current
	switch {
	case delta > trendThreshold:
		return TrendUp
	case delta < -trendThreshold:
		return TrendDown
	default:
		return TrendSteady
	}
}

const (
	baseConfidence      = 0.9
	minConfidence       = 0.1
	missingWeatherCost  = 0.2
	missingMainCost     = 0.3
	emptyForecastCost   = 0.1
	fallbackConfidence  = 0.2
	forecastSampleCount = 8
)

// Confidence scores a provider response. Missing fields only ever lower it.
func Confidence(hasWeather, hasMain, hasForecast bool) float64 {
	c := baseConfidence
	if !hasWeather {
		c -= missingWeatherCost
	}
	if !hasMain {
		c -= missingMainCost
	}
	if !hasForecast {
		c -= emptyForecastCost
	}
	if c < minConfidence {
		c = minConfidence
	}
	return round(c, 2)
}

// snapshotFromProvider converts provider payloads into a Snapshot.
// forecast may be nil.
func snapshotFromProvider(current *api.CurrentWeatherResponse, forecast *api.ForecastResponse) Snapshot {
	var main, description string
	if current.HasWeather && len(current.Weather) > 0 {
		main = current.Weather[0].Main
		description = current.Weather[0].Description
	}

	hasForecast := forecast != nil && len(forecast.List) > 0
	trend := TrendSteady
	if hasForecast && current.HasMain {
		trend = DeriveTrend(current.Main.Temp, forecast.List[0].Main.Temp)
	}

	precipitation := current.Rain.Volume()
	if precipitation == 0 {
		precipitation = current.Snow.Volume()
	}

	return Snapshot{
		Temperature:     round(current.Main.Temp, 1),
		Conditions:      MapCondition(main, description),
		PrecipitationMm: round(precipitation, 1),
		SnowfallCm:      round(current.Snow.Volume()/10, 2),
		WindSpeedKmh:    round(current.Wind.Speed*3.6, 1),
		Trend:           trend,
		Confidence:      Confidence(current.HasWeather, current.HasMain, hasForecast),
	}
}
