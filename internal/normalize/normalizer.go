// Package normalize converts raw provider records into the canonical
// HealthDataPoint stream.
package normalize

import (
	"math"
	"sort"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/provider"
)

// Canonical units per metric: steps=count, heart_rate=bpm,
// sleep_minutes=minutes, calories=kcal, distance_m=meters.

// Normalizer converts, deduplicates, and orders raw records. Malformed records
// are dropped and counted; the batch fails only when the drop ratio exceeds
// the configured threshold.
type Normalizer struct {
	dropThreshold float64
}

// New constructs a Normalizer. A non-positive threshold falls back to the
// default of 0.2.
func New(dropThreshold float64) *Normalizer {
	if dropThreshold <= 0 {
		dropThreshold = 0.2
	}
	return &Normalizer{dropThreshold: dropThreshold}
}

// Normalize converts the batch into canonical points: unit conversion, UTC
// alignment, dedup by (metric, timestamp, source) keeping the most recently
// ingested value, and cross-source conflict resolution preferring the finer
// reporting granularity. Output is sorted ascending by timestamp per metric.
func (n *Normalizer) Normalize(batchID string, records []provider.RawRecord) ([]domain.HealthDataPoint, error) {
	if len(records) == 0 {
		return nil, nil
	}

	type dedupeKey struct {
		metric domain.MetricType
		ts     int64
		source string
	}

	dropped := 0
	byRecord := make(map[dedupeKey]candidate, len(records))
	for i, rec := range records {
		value, ok := convertValue(rec)
		if !ok || rec.StartTime.IsZero() || !rec.Metric.Valid() {
			dropped++
			continue
		}

		key := dedupeKey{metric: rec.Metric, ts: rec.StartTime.UTC().UnixNano(), source: rec.Source}
		cand := candidate{
			point: domain.HealthDataPoint{
				Timestamp: rec.StartTime.UTC(),
				Metric:    rec.Metric,
				Value:     value,
				Source:    rec.Source,
				BatchID:   batchID,
			},
			granularity: rec.GranularitySeconds,
			order:       i,
		}
		// Later ingestion wins for the same (metric, timestamp, source).
		if existing, found := byRecord[key]; !found || cand.order >= existing.order {
			byRecord[key] = cand
		}
	}

	ratio := float64(dropped) / float64(len(records))
	recordDropRatio(ratio)
	if ratio > n.dropThreshold {
		return nil, &domain.DataIntegrityError{BatchID: batchID, DropRatio: ratio}
	}

	// Conflict resolution: when several sources report the same metric at the
	// same instant, keep the source with the smaller reporting granularity;
	// identical granularity tie-breaks on the lexicographically larger source
	// id for determinism.
	type conflictKey struct {
		metric domain.MetricType
		ts     int64
	}
	byInstant := make(map[conflictKey]candidate, len(byRecord))
	for key, cand := range byRecord {
		ck := conflictKey{metric: key.metric, ts: key.ts}
		existing, found := byInstant[ck]
		if !found || prefer(cand, existing) {
			byInstant[ck] = cand
		}
	}

	points := make([]domain.HealthDataPoint, 0, len(byInstant))
	for _, cand := range byInstant {
		points = append(points, cand.point)
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Metric != points[j].Metric {
			return points[i].Metric < points[j].Metric
		}
		if !points[i].Timestamp.Equal(points[j].Timestamp) {
			return points[i].Timestamp.Before(points[j].Timestamp)
		}
		return points[i].Source < points[j].Source
	})
	return points, nil
}

type candidate struct {
	point       domain.HealthDataPoint
	granularity int
	order       int
}

// prefer reports whether a should replace b for the same (metric, instant).
func prefer(a, b candidate) bool {
	if a.granularity != b.granularity {
		return a.granularity < b.granularity
	}
	return a.point.Source > b.point.Source
}

// convertValue maps the provider unit onto the metric's canonical unit.
func convertValue(rec provider.RawRecord) (float64, bool) {
	if math.IsNaN(rec.Value) || math.IsInf(rec.Value, 0) {
		return 0, false
	}

	switch rec.Metric {
	case domain.MetricSteps, domain.MetricHeartRate:
		switch rec.Unit {
		case "", "count", "bpm":
			return rec.Value, true
		}
	case domain.MetricSleepMinutes:
		switch rec.Unit {
		case "", "min", "minutes":
			return rec.Value, true
		case "ms":
			return rec.Value / 60000, true
		case "s", "seconds":
			return rec.Value / 60, true
		case "h", "hours":
			return rec.Value * 60, true
		}
	case domain.MetricCalories:
		switch rec.Unit {
		case "", "kcal":
			return rec.Value, true
		case "kJ":
			return rec.Value / 4.184, true
		}
	case domain.MetricDistance:
		switch rec.Unit {
		case "", "m", "meters":
			return rec.Value, true
		case "km":
			return rec.Value * 1000, true
		case "mi":
			return rec.Value * 1609.344, true
		}
	}
	return 0, false
}
