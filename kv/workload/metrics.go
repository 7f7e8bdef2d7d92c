package workload

import "github.com/prometheus/client_golang/prometheus"

var (
	txnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tinytxn",
			Subsystem: "workload",
			Name:      "txn_duration_seconds",
			Help:      "Bucketed histogram of the time from the first attempt of a transaction to its outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 20),
		}, []string{"result"})

	attemptCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinytxn",
			Subsystem: "workload",
			Name:      "attempts_total",
			Help:      "Counter of transaction attempts, retries included.",
		})
)

func init() {
	prometheus.MustRegister(txnDuration)
	prometheus.MustRegister(attemptCounter)
}
