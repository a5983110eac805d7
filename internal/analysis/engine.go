// Package analysis aggregates normalized points into per-period results with
// trend, anomaly, and goal-progress signals.
package analysis

import (
	"math"
	"sort"
	"time"

	"example.com/healthsync/internal/domain"
)

const (
	// trendWindow is the number of trailing periods fed to the OLS fit.
	trendWindow = 7
	// flatThreshold classifies a slope as flat relative to the series mean.
	flatThreshold = 0.05
	// anomalyTrailing bounds how many prior periods feed the z-score baseline.
	anomalyTrailing = 30
	// anomalyMinHistory is the minimum history before anomalies are flagged.
	anomalyMinHistory = 5
	// anomalyZ is the absolute z-score above which a period is anomalous.
	anomalyZ = 2.5
)

// Engine computes analysis snapshots. It is stateless; every run recomputes
// from the points it is handed.
type Engine struct{}

// NewEngine constructs an Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Analyze produces one AnalysisResult per (metric, period window) with data
// present, ordered by metric then window start. Cumulative metrics aggregate
// by sum, rate-like metrics by mean. Results are immutable snapshots.
func (e *Engine) Analyze(points []domain.HealthDataPoint, goals []domain.Goal, period domain.Period) []domain.AnalysisResult {
	if len(points) == 0 {
		return nil
	}

	goalByMetric := make(map[domain.MetricType]domain.Goal, len(goals))
	for _, goal := range goals {
		if goal.Target > 0 && goal.Period == period {
			goalByMetric[goal.Metric] = goal
		}
	}

	grouped := make(map[domain.MetricType][]domain.HealthDataPoint)
	for _, point := range points {
		grouped[point.Metric] = append(grouped[point.Metric], point)
	}

	metrics := make([]domain.MetricType, 0, len(grouped))
	for metric := range grouped {
		metrics = append(metrics, metric)
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i] < metrics[j] })

	var results []domain.AnalysisResult
	for _, metric := range metrics {
		windows, aggregates := bucket(grouped[metric], metric, period)
		goal, hasGoal := goalByMetric[metric]

		for i, window := range windows {
			slope := trendSlope(trailing(aggregates, i, trendWindow))
			result := domain.AnalysisResult{
				Metric:     metric,
				Window:     window,
				Aggregate:  aggregates[i],
				TrendSlope: slope,
				Trend:      classifyTrend(slope, trailing(aggregates, i, trendWindow)),
				Anomaly:    isAnomalous(aggregates, i),
			}
			if hasGoal {
				progress := goalProgress(aggregates[i], goal.Target)
				result.GoalProgress = &progress
			}
			results = append(results, result)
		}
	}
	return results
}

// bucket groups the metric's points into calendar-aligned period windows and
// aggregates each one. Returned slices are parallel and ordered ascending.
func bucket(points []domain.HealthDataPoint, metric domain.MetricType, period domain.Period) ([]domain.Window, []float64) {
	type acc struct {
		sum   float64
		count int
	}
	buckets := make(map[time.Time]*acc)
	for _, point := range points {
		start := periodStart(point.Timestamp.UTC(), period)
		entry, ok := buckets[start]
		if !ok {
			entry = &acc{}
			buckets[start] = entry
		}
		entry.sum += point.Value
		entry.count++
	}

	starts := make([]time.Time, 0, len(buckets))
	for start := range buckets {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	windows := make([]domain.Window, 0, len(starts))
	aggregates := make([]float64, 0, len(starts))
	for _, start := range starts {
		entry := buckets[start]
		value := entry.sum
		if !metric.Cumulative() && entry.count > 0 {
			value = entry.sum / float64(entry.count)
		}
		windows = append(windows, domain.Window{Start: start, End: periodEnd(start, period)})
		aggregates = append(aggregates, value)
	}
	return windows, aggregates
}

func periodStart(ts time.Time, period domain.Period) time.Time {
	switch period {
	case domain.PeriodWeek:
		day := ts.Truncate(24 * time.Hour)
		// ISO weeks start on Monday.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case domain.PeriodMonth:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return ts.Truncate(24 * time.Hour)
	}
}

func periodEnd(start time.Time, period domain.Period) time.Time {
	switch period {
	case domain.PeriodWeek:
		return start.AddDate(0, 0, 7)
	case domain.PeriodMonth:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// trailing returns up to n values ending at index i inclusive.
func trailing(values []float64, i, n int) []float64 {
	lo := i - n + 1
	if lo < 0 {
		lo = 0
	}
	return values[lo : i+1]
}

// trendSlope fits an ordinary least-squares line over the values and returns
// its slope. Fewer than two values yield zero.
func trendSlope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}

	meanX := float64(n-1) / 2
	var meanY float64
	for _, v := range values {
		meanY += v
	}
	meanY /= float64(n)

	var num, den float64
	for i, v := range values {
		dx := float64(i) - meanX
		num += dx * (v - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func classifyTrend(slope float64, values []float64) domain.TrendClass {
	var mean float64
	for _, v := range values {
		mean += v
	}
	if len(values) > 0 {
		mean /= float64(len(values))
	}
	if mean == 0 || math.Abs(slope)/math.Abs(mean) < flatThreshold {
		return domain.TrendFlat
	}
	if slope > 0 {
		return domain.TrendImproving
	}
	return domain.TrendDeclining
}

// isAnomalous flags index i when its value deviates more than anomalyZ
// standard deviations from the trailing baseline. Insufficient history means
// no anomaly, not an error.
func isAnomalous(values []float64, i int) bool {
	lo := i - anomalyTrailing
	if lo < 0 {
		lo = 0
	}
	history := values[lo:i]
	if len(history) < anomalyMinHistory {
		return false
	}

	var mean float64
	for _, v := range history {
		mean += v
	}
	mean /= float64(len(history))

	var variance float64
	for _, v := range history {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(history))
	std := math.Sqrt(variance)
	if std == 0 {
		return false
	}

	return math.Abs(values[i]-mean)/std > anomalyZ
}

// goalProgress clamps progress to [0, 100].
func goalProgress(aggregate, target float64) float64 {
	progress := 100 * aggregate / target
	if progress < 0 {
		return 0
	}
	return math.Min(100, progress)
}
