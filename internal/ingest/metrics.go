package ingest

import "github.com/prometheus/client_golang/prometheus"

var (
	cycleCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "ingest",
		Name:      "cycles_total",
		Help:      "Number of completed ingestion cycles.",
	})

	syncedStreams = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "ingest",
		Name:      "streams_synced_total",
		Help:      "Number of metric streams synced across all cycles.",
	})

	batchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "ingest",
		Name:      "batch_failures_total",
		Help:      "Number of per-metric batch failures, labeled by metric.",
	}, []string{"metric"})
)

func init() {
	prometheus.MustRegister(cycleCounter, syncedStreams, batchFailures)
}

func recordCycle(synced int) {
	cycleCounter.Inc()
	syncedStreams.Add(float64(synced))
}

func recordBatchFailure(metric string) {
	batchFailures.WithLabelValues(metric).Inc()
}
