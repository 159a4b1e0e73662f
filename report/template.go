package report

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/logger"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/weather"
)

const promptTemplate = `Write a short, factual site-conditions note for a snow removal compliance record at {{site}} on {{date}}.
Use plain past tense, at most four sentences, no headings or lists. Mention the conditions, temperature, snowfall and any service activity recorded near the site.`

const fallbackTemplate = `Site conditions at {{site}} on {{date}}: {{conditions}}, {{temperature}} ({{trend}}), {{snowfall}} of snowfall, {{precipitation}} precipitation and wind {{wind}}. Forecast high {{high}}, low {{low}}. {{activity}}{{data_note}}`

var templateVar = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)

// substituteTemplateVariables replaces {{name}} placeholders. Unknown names
// become [missing:name] so a bad template is visible rather than silent.
func substituteTemplateVariables(template string, variables map[string]string) string {
	return templateVar.ReplaceAllStringFunc(template, func(match string) string {
		name := templateVar.FindStringSubmatch(match)[1]
		if value, ok := variables[name]; ok {
			return value
		}
		logger.LogWithFields(logger.WarnLevel, "Template variable missing", map[string]any{
			"missing_variable": name,
			"available_vars":   variableNames(variables),
		})
		return fmt.Sprintf("[missing:%s]", name)
	})
}

func variableNames(variables map[string]string) []string {
	names := make([]string, 0, len(variables))
	for name := range variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// reportVariables flattens a report into template variables.
func reportVariables(rep *SiteReport) map[string]string {
	site := rep.SiteName
	if site == "" {
		site = fmt.Sprintf("%.4f, %.4f", rep.Latitude, rep.Longitude)
	}

	vars := map[string]string{
		"site":          site,
		"date":          rep.Date,
		"conditions":    describeCondition(rep.Weather.Conditions),
		"temperature":   formatTemperature(rep.Weather.Temperature),
		"trend":         describeTrend(rep.Weather.Trend),
		"snowfall":      fmt.Sprintf("%.1f cm", rep.Weather.SnowfallCm),
		"precipitation": fmt.Sprintf("%.1f mm", rep.Weather.PrecipitationMm),
		"wind":          fmt.Sprintf("%.0f km/h", rep.Weather.WindSpeedKmh),
		"high":          formatTemperature(rep.Forecast.High),
		"low":           formatTemperature(rep.Forecast.Low),
		"activity":      describeActivity(rep),
		"data_note":     "",
	}
	if rep.Weather.IsFallback || rep.Forecast.IsFallback {
		vars["data_note"] = " Weather figures are estimated; live provider data was unavailable."
	}
	return vars
}

// formatSiteContext renders the structured context sent as the system prompt.
func formatSiteContext(rep *SiteReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "SITE CONDITIONS FOR %s\n", strings.ToUpper(reportVariables(rep)["site"]))
	fmt.Fprintf(&b, "Visit date: %s\n\n", rep.Date)

	b.WriteString("WEATHER AT SITE:\n")
	fmt.Fprintf(&b, "- Temperature: %s, trend %s\n", formatTemperature(rep.Weather.Temperature), rep.Weather.Trend)
	fmt.Fprintf(&b, "- Conditions: %s\n", describeCondition(rep.Weather.Conditions))
	fmt.Fprintf(&b, "- Snowfall: %.1f cm, precipitation %.1f mm\n", rep.Weather.SnowfallCm, rep.Weather.PrecipitationMm)
	fmt.Fprintf(&b, "- Wind: %.0f km/h\n", rep.Weather.WindSpeedKmh)
	fmt.Fprintf(&b, "- Data confidence: %.0f%%\n", rep.Weather.Confidence*100)
	if rep.Weather.IsFallback {
		b.WriteString("- Note: live weather was unavailable; figures are estimates and must be described as such\n")
	}
	b.WriteString("\n")

	b.WriteString("NEXT 24 HOURS:\n")
	fmt.Fprintf(&b, "- High %s, low %s\n\n", formatTemperature(rep.Forecast.High), formatTemperature(rep.Forecast.Low))

	b.WriteString("SERVICE ACTIVITY NEAR SITE:\n")
	if rep.Tracking.TotalEvents == 0 {
		b.WriteString("- No tracking events recorded\n")
	} else {
		for _, t := range sortedKeys(rep.Tracking.EventsByType) {
			fmt.Fprintf(&b, "- %s: %d\n", t, rep.Tracking.EventsByType[t])
		}
		fmt.Fprintf(&b, "- Vehicles: %s\n", strings.Join(rep.Tracking.UniqueVehicles, ", "))
		if tr := rep.Tracking.TimeRange; tr != nil {
			fmt.Fprintf(&b, "- Between %s and %s UTC\n", tr.Start.UTC().Format("15:04"), tr.End.UTC().Format("15:04"))
		}
	}

	return b.String()
}

func describeActivity(rep *SiteReport) string {
	n := rep.Tracking.TotalEvents
	switch {
	case n == 0:
		return "No vehicle activity was recorded near the site."
	case len(rep.Tracking.UniqueVehicles) == 0:
		return fmt.Sprintf("%d tracking events were recorded near the site.", n)
	}

	noun := "vehicles"
	if len(rep.Tracking.UniqueVehicles) == 1 {
		noun = "vehicle"
	}
	msg := fmt.Sprintf("%d tracking events from %d %s were recorded near the site", n, len(rep.Tracking.UniqueVehicles), noun)
	if tr := rep.Tracking.TimeRange; tr != nil {
		msg += fmt.Sprintf(" between %s and %s UTC", tr.Start.UTC().Format("15:04"), tr.End.UTC().Format("15:04"))
	}
	return msg + "."
}

func describeCondition(c weather.Condition) string {
	switch c {
	case weather.LightSnow:
		return "light snow"
	case weather.HeavySnow:
		return "heavy snow"
	case weather.DriftingSnow:
		return "drifting snow"
	case weather.FreezingRain:
		return "freezing rain"
	case weather.Sleet:
		return "sleet"
	case weather.Rain:
		return "rain"
	default:
		return "clear"
	}
}

func describeTrend(t weather.Trend) string {
	switch t {
	case weather.TrendUp:
		return "rising"
	case weather.TrendDown:
		return "falling"
	default:
		return "steady"
	}
}

func formatTemperature(temp float64) string {
	return fmt.Sprintf("%.0f°C", temp)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
