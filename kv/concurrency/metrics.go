package concurrency

import "github.com/prometheus/client_golang/prometheus"

var (
	txnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinytxn",
			Subsystem: "txn",
			Name:      "events_total",
			Help:      "Counter of transaction lifecycle events.",
		}, []string{"type"})

	conflictCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinytxn",
			Subsystem: "txn",
			Name:      "conflicts_total",
			Help:      "Counter of protocol rejections by reason.",
		}, []string{"reason"})

	activeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tinytxn",
			Subsystem: "txn",
			Name:      "active",
			Help:      "Number of transactions that have begun and not yet finished.",
		})
)

func init() {
	prometheus.MustRegister(txnCounter)
	prometheus.MustRegister(conflictCounter)
	prometheus.MustRegister(activeGauge)
}
