package tso

import "github.com/prometheus/client_golang/prometheus"

var tsoCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tinytxn",
		Subsystem: "tso",
		Name:      "events",
		Help:      "Counter of tso events",
	}, []string{"type"})

func init() {
	prometheus.MustRegister(tsoCounter)
}
