package workload

import (
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pingcap-incubator/tinytxn/kv/util/worker"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// outcome is what a driver goroutine reports for each transaction it ran.
type outcome struct {
	committed  bool
	attempts   int
	increments int
	latency    time.Duration
}

// progressTask asks the collector to log what it has seen so far.
type progressTask struct{}

// collector aggregates outcomes on a worker goroutine.
type collector struct {
	start time.Time

	committed  int64
	gaveUp     int64
	attempts   int64
	increments int64
	// latencies of committed transactions in seconds.
	latencies []float64

	summary Summary
}

var _ worker.Starter = &collector{}
var _ worker.Finisher = &collector{}

func (c *collector) Start() {
	c.start = time.Now()
}

func (c *collector) Handle(t worker.Task) {
	switch task := t.(type) {
	case outcome:
		c.attempts += int64(task.attempts)
		attemptCounter.Add(float64(task.attempts))
		if !task.committed {
			c.gaveUp++
			txnDuration.WithLabelValues("gave_up").Observe(task.latency.Seconds())
			return
		}
		c.committed++
		c.increments += int64(task.increments)
		c.latencies = append(c.latencies, task.latency.Seconds())
		txnDuration.WithLabelValues("committed").Observe(task.latency.Seconds())
	case progressTask:
		elapsed := time.Since(c.start)
		log.Info("workload progress",
			zap.Duration("elapsed", elapsed),
			zap.Int64("committed", c.committed),
			zap.Int64("gave-up", c.gaveUp),
			zap.Int64("attempts", c.attempts),
			zap.Float64("txn-per-second", float64(c.committed)/elapsed.Seconds()))
	default:
		log.Warn("collector got unexpected task", zap.Any("task", t))
	}
}

func (c *collector) Finish() {
	s := Summary{
		Elapsed:    time.Since(c.start),
		Committed:  c.committed,
		GaveUp:     c.gaveUp,
		Attempts:   c.attempts,
		Increments: c.increments,
	}
	if len(c.latencies) > 0 {
		data := stats.Float64Data(c.latencies)
		mean, _ := stats.Mean(data)
		p50, _ := stats.Percentile(data, 50)
		p99, _ := stats.Percentile(data, 99)
		max, _ := stats.Max(data)
		s.Mean = seconds(mean)
		s.P50 = seconds(p50)
		s.P99 = seconds(p99)
		s.Max = seconds(max)
	}
	c.summary = s
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
