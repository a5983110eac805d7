package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	batchPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "healthsync",
		Subsystem: "persistence",
		Name:      "last_batch_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent normalized batch persisted to Postgres.",
	})
	cycleCompletedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "healthsync",
		Subsystem: "ingest",
		Name:      "last_cycle_completed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent ingestion cycle that finished.",
	})
)

func init() {
	prometheus.MustRegister(batchPersistGauge, cycleCompletedGauge)
}

// RecordBatchPersisted updates the persistence watermark gauge.
func RecordBatchPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	batchPersistGauge.Set(float64(ts.Unix()))
}

// RecordCycleCompleted updates the ingestion cycle watermark gauge.
func RecordCycleCompleted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	cycleCompletedGauge.Set(float64(ts.Unix()))
}
