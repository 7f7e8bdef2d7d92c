package tilegroup

import "github.com/prometheus/client_golang/prometheus"

var (
	slotsAllocatedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinytxn",
			Subsystem: "tilegroup",
			Name:      "slots_allocated_total",
			Help:      "Counter of tuple slots handed out.",
		})

	tileGroupGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tinytxn",
			Subsystem: "tilegroup",
			Name:      "groups",
			Help:      "Number of tile groups of the most recently grown table.",
		})
)

func init() {
	prometheus.MustRegister(slotsAllocatedCounter)
	prometheus.MustRegister(tileGroupGauge)
}
