package credentials

import "github.com/prometheus/client_golang/prometheus"

var refreshCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "healthsync",
	Subsystem: "credentials",
	Name:      "refresh_total",
	Help:      "Number of credential refresh attempts grouped by outcome.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(refreshCounter)
}

func recordRefresh(result string) {
	refreshCounter.WithLabelValues(result).Inc()
}
