package provider

import "github.com/prometheus/client_golang/prometheus"

var retryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "healthsync",
	Subsystem: "provider",
	Name:      "retries_total",
	Help:      "Number of provider request retries grouped by endpoint and cause.",
}, []string{"endpoint", "cause"})

func init() {
	prometheus.MustRegister(retryCounter)
}

func recordRetry(endpoint, cause string) {
	retryCounter.WithLabelValues(endpoint, cause).Inc()
}
