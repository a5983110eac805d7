package normalize

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/provider"
)

func rawRecord(metric domain.MetricType, ts time.Time, value float64, unit, source string, granularity int) provider.RawRecord {
	return provider.RawRecord{
		Metric:             metric,
		StartTime:          ts,
		EndTime:            ts.Add(time.Minute),
		Value:              value,
		Unit:               unit,
		Source:             source,
		GranularitySeconds: granularity,
	}
}

func TestNormalizeSortsAndTimestampsUTC(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	early := time.Date(2026, time.August, 29, 10, 0, 0, 0, loc)
	late := early.Add(time.Hour)

	n := New(0.2)
	points, err := n.Normalize("batch-1", []provider.RawRecord{
		rawRecord(domain.MetricSteps, late, 200, "count", "watch", 60),
		rawRecord(domain.MetricSteps, early, 100, "count", "watch", 60),
	})
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.True(t, points[0].Timestamp.Before(points[1].Timestamp))
	require.Equal(t, time.UTC, points[0].Timestamp.Location())
	require.Equal(t, early.UTC(), points[0].Timestamp)
	require.Equal(t, "batch-1", points[0].BatchID)
}

func TestNormalizeUnitConversions(t *testing.T) {
	ts := time.Date(2026, time.August, 29, 8, 0, 0, 0, time.UTC)
	n := New(0.2)

	cases := []struct {
		name   string
		record provider.RawRecord
		want   float64
	}{
		{"sleep milliseconds", rawRecord(domain.MetricSleepMinutes, ts, 27e6, "ms", "watch", 60), 450},
		{"sleep seconds", rawRecord(domain.MetricSleepMinutes, ts, 1800, "s", "watch", 60), 30},
		{"sleep hours", rawRecord(domain.MetricSleepMinutes, ts, 7.5, "h", "watch", 60), 450},
		{"calories kilojoules", rawRecord(domain.MetricCalories, ts, 418.4, "kJ", "watch", 60), 100},
		{"distance kilometers", rawRecord(domain.MetricDistance, ts, 2.5, "km", "watch", 60), 2500},
		{"distance miles", rawRecord(domain.MetricDistance, ts, 1, "mi", "watch", 60), 1609.344},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			points, err := n.Normalize("batch-1", []provider.RawRecord{tc.record})
			require.NoError(t, err)
			require.Len(t, points, 1)
			require.InDelta(t, tc.want, points[0].Value, 1e-9)
		})
	}
}

func TestNormalizeDedupesSameSourceKeepingLatest(t *testing.T) {
	ts := time.Date(2026, time.August, 29, 8, 0, 0, 0, time.UTC)
	n := New(0.2)

	points, err := n.Normalize("batch-1", []provider.RawRecord{
		rawRecord(domain.MetricSteps, ts, 100, "count", "watch", 60),
		rawRecord(domain.MetricSteps, ts, 150, "count", "watch", 60),
	})
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, 150.0, points[0].Value)
}

func TestNormalizePrefersFinerGranularityAcrossSources(t *testing.T) {
	ts := time.Date(2026, time.August, 29, 8, 0, 0, 0, time.UTC)
	n := New(0.2)

	// Watch samples every minute, phone every five: the watch reading wins.
	points, err := n.Normalize("batch-1", []provider.RawRecord{
		rawRecord(domain.MetricSteps, ts, 3000, "count", "phone", 300),
		rawRecord(domain.MetricSteps, ts, 3200, "count", "watch", 60),
	})
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, "watch", points[0].Source)
	require.Equal(t, 3200.0, points[0].Value)
}

func TestNormalizeGranularityTieBreaksOnSource(t *testing.T) {
	ts := time.Date(2026, time.August, 29, 8, 0, 0, 0, time.UTC)
	n := New(0.2)

	points, err := n.Normalize("batch-1", []provider.RawRecord{
		rawRecord(domain.MetricSteps, ts, 10, "count", "alpha", 60),
		rawRecord(domain.MetricSteps, ts, 20, "count", "beta", 60),
	})
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, "beta", points[0].Source)
}

func TestNormalizeDropRatioAboveThresholdFailsBatch(t *testing.T) {
	ts := time.Date(2026, time.August, 29, 8, 0, 0, 0, time.UTC)
	n := New(0.2)

	// Two of four records malformed: 50% dropped.
	_, err := n.Normalize("batch-1", []provider.RawRecord{
		rawRecord(domain.MetricSteps, ts, 100, "count", "watch", 60),
		rawRecord(domain.MetricSteps, ts.Add(time.Minute), 110, "count", "watch", 60),
		rawRecord(domain.MetricSteps, time.Time{}, 120, "count", "watch", 60),
		rawRecord(domain.MetricSteps, ts.Add(2*time.Minute), math.NaN(), "count", "watch", 60),
	})
	var integrityErr *domain.DataIntegrityError
	require.ErrorAs(t, err, &integrityErr)
	require.Equal(t, "batch-1", integrityErr.BatchID)
	require.InDelta(t, 0.5, integrityErr.DropRatio, 1e-9)
}

func TestNormalizeDropRatioAtThresholdSucceeds(t *testing.T) {
	ts := time.Date(2026, time.August, 29, 8, 0, 0, 0, time.UTC)
	n := New(0.2)

	records := make([]provider.RawRecord, 0, 5)
	for i := 0; i < 4; i++ {
		records = append(records, rawRecord(domain.MetricSteps, ts.Add(time.Duration(i)*time.Minute), 100, "count", "watch", 60))
	}
	records = append(records, rawRecord(domain.MetricSteps, time.Time{}, 0, "count", "watch", 60))

	points, err := n.Normalize("batch-1", records)
	require.NoError(t, err)
	require.Len(t, points, 4)
}

func TestNormalizeDropsUnknownUnitsAndMetrics(t *testing.T) {
	ts := time.Date(2026, time.August, 29, 8, 0, 0, 0, time.UTC)
	n := New(0.6)

	points, err := n.Normalize("batch-1", []provider.RawRecord{
		rawRecord(domain.MetricSteps, ts, 100, "count", "watch", 60),
		rawRecord(domain.MetricSteps, ts.Add(time.Minute), 100, "furlongs", "watch", 60),
		rawRecord(domain.MetricType("blood_sugar"), ts, 5.5, "mmol", "watch", 60),
	})
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, 100.0, points[0].Value)
}

func TestNormalizeEmptyBatch(t *testing.T) {
	points, err := New(0.2).Normalize("batch-1", nil)
	require.NoError(t, err)
	require.Empty(t, points)
}

func TestNormalizeUniqueTriples(t *testing.T) {
	ts := time.Date(2026, time.August, 29, 8, 0, 0, 0, time.UTC)
	n := New(0.2)

	points, err := n.Normalize("batch-1", []provider.RawRecord{
		rawRecord(domain.MetricSteps, ts, 100, "count", "watch", 60),
		rawRecord(domain.MetricHeartRate, ts, 62, "bpm", "watch", 60),
		rawRecord(domain.MetricSteps, ts.Add(time.Minute), 40, "count", "watch", 60),
		rawRecord(domain.MetricSteps, ts, 90, "count", "watch", 60),
	})
	require.NoError(t, err)

	type triple struct {
		metric domain.MetricType
		ts     int64
		source string
	}
	seen := make(map[triple]struct{})
	for _, p := range points {
		key := triple{p.Metric, p.Timestamp.UnixNano(), p.Source}
		_, dup := seen[key]
		require.False(t, dup, "duplicate (metric, timestamp, source) triple")
		seen[key] = struct{}{}
	}
	require.Len(t, points, 3)
}
