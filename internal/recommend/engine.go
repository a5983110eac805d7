package recommend

import (
	"sort"

	"example.com/healthsync/internal/domain"
)

const (
	anomalyWeight   = 0.3
	decliningWeight = 0.2
)

// Engine derives prioritized recommendations from analysis snapshots. It
// holds no state: identical input yields identical ordered output.
type Engine struct{}

// NewEngine constructs an Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Recommend returns at most one recommendation per metric type, most urgent
// first. Urgency is the goal-progress deficit plus fixed weights for an
// anomaly flag and a declining trend, capped at 1. Ties break on the fixed
// metric priority order.
func (e *Engine) Recommend(results []domain.AnalysisResult) []domain.Recommendation {
	latest := latestPerMetric(results)

	recs := make([]domain.Recommendation, 0, len(latest))
	for _, result := range latest {
		urgency := urgencyScore(result)
		if urgency <= 0 {
			continue
		}
		recs = append(recs, domain.Recommendation{
			Metric:     result.Metric,
			Urgency:    urgency,
			TemplateID: TemplateID(result.Metric, result.Trend, result.Anomaly),
			Result:     result,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Urgency != recs[j].Urgency {
			return recs[i].Urgency > recs[j].Urgency
		}
		return recs[i].Metric.Priority() < recs[j].Metric.Priority()
	})
	return recs
}

// latestPerMetric keeps the most recent window's result for each metric, in
// deterministic metric order.
func latestPerMetric(results []domain.AnalysisResult) []domain.AnalysisResult {
	byMetric := make(map[domain.MetricType]domain.AnalysisResult)
	for _, result := range results {
		existing, ok := byMetric[result.Metric]
		if !ok || result.Window.Start.After(existing.Window.Start) {
			byMetric[result.Metric] = result
		}
	}

	out := make([]domain.AnalysisResult, 0, len(byMetric))
	for _, result := range byMetric {
		out = append(out, result)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out
}

func urgencyScore(result domain.AnalysisResult) float64 {
	var urgency float64
	if result.GoalProgress != nil {
		deficit := 1 - *result.GoalProgress/100
		if deficit > 0 {
			urgency += deficit
		}
	}
	if result.Anomaly {
		urgency += anomalyWeight
	}
	if result.Trend == domain.TrendDeclining {
		urgency += decliningWeight
	}
	if urgency > 1 {
		urgency = 1
	}
	return urgency
}
