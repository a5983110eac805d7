// Package recommend maps analysis output and goals to prioritized
// recommendations.
package recommend

import (
	"fmt"

	"example.com/healthsync/internal/domain"
)

// TemplateID selects the message template for a result. The mapping is a pure
// function of (metric, trend classification, anomaly flag): identical inputs
// always select the same template.
func TemplateID(metric domain.MetricType, trend domain.TrendClass, anomaly bool) string {
	if anomaly {
		return fmt.Sprintf("%s.%s.anomaly", metric, trend)
	}
	return fmt.Sprintf("%s.%s", metric, trend)
}

// Messages is the template catalog consumed by the presentation layer. Keys
// not present fall back to the generic template.
var Messages = map[string]string{
	"steps.declining":              "Your daily step count is trending down. Try adding short walks to your routine.",
	"steps.flat":                   "Your step count is holding steady. A small daily increase would move you toward your goal.",
	"steps.improving":              "Your step count is trending up. Keep it going!",
	"steps.declining.anomaly":      "Your steps dropped sharply compared to your recent baseline. Consider a recovery walk today.",
	"sleep_minutes.declining":      "You are sleeping less than usual. Try to keep a consistent bedtime.",
	"sleep_minutes.flat":           "Your sleep duration is stable. Aim for your nightly target to build the habit.",
	"sleep_minutes.improving":      "Your sleep duration is improving. Keep the routine that is working.",
	"heart_rate.improving.anomaly": "Your heart rate is unusually elevated versus your baseline. If this persists, consider consulting a professional.",
	"heart_rate.flat":              "Your heart rate is within its usual range.",
	"calories.declining":           "Your energy expenditure is trending down. A little more daily activity would help.",
	"distance_m.declining":         "Your covered distance is shrinking week over week. Plan a longer walk or ride.",
}

// Message resolves a template id to display text.
func Message(templateID string) string {
	if msg, ok := Messages[templateID]; ok {
		return msg
	}
	return "You are behind on this goal. Small consistent steps close the gap."
}
