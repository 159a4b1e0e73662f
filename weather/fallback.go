package weather

import "math"

// DefaultForecast is returned by GetForecast when the provider is unusable.
var DefaultForecast = Forecast{High: -2, Low: -8, IsFallback: true}

var fallbackConditions = []Condition{Clear, LightSnow, LightSnow, HeavySnow, DriftingSnow, FreezingRain, Sleet, Rain}

// noise is a deterministic value in [0, 1) for a location, hour and salt.
// The same inputs always produce the same output.
func noise(latitude, longitude float64, hour int, salt float64) float64 {
	v := math.Sin(latitude*12.9898+longitude*78.233+float64(hour)*37.719+salt*4.1414) * 43758.5453
	return v - math.Floor(v)
}

// FallbackSnapshot returns a plausible winter snapshot derived only from
// the location and hour. It is flagged IsFallback and carries low confidence.
func FallbackSnapshot(latitude, longitude float64, hour int) Snapshot {
	n := func(salt float64) float64 { return noise(latitude, longitude, hour, salt) }

	conditions := fallbackConditions[int(n(1)*float64(len(fallbackConditions)))%len(fallbackConditions)]

	var precipitation, snowfall float64
	switch {
	case conditions.IsSnow():
		snowfall = round(n(2)*3, 1)
		precipitation = round(snowfall*10*0.5, 1)
	case conditions != Clear:
		precipitation = round(n(2)*5, 1)
	}

	return Snapshot{
		Temperature:     round(-15+n(3)*17, 1),
		Conditions:      conditions,
		PrecipitationMm: precipitation,
		SnowfallCm:      snowfall,
		WindSpeedKmh:    round(n(4)*40, 1),
		Trend:           TrendSteady,
		Confidence:      fallbackConfidence,
		IsFallback:      true,
	}
}
