package normalize

import "github.com/prometheus/client_golang/prometheus"

var dropRatioGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "healthsync",
	Subsystem: "normalize",
	Name:      "batch_drop_ratio",
	Help:      "Fraction of malformed records dropped from the most recent batch.",
})

func init() {
	prometheus.MustRegister(dropRatioGauge)
}

func recordDropRatio(ratio float64) {
	dropRatioGauge.Set(ratio)
}
