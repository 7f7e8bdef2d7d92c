// Package workload drives a table with concurrent read-modify-write transactions and checks that the result is
// what a serial execution of the committed transactions would have produced.
//
// The table holds one counter per key, all starting at 0. Every transaction reads a few distinct counters and writes
// each back incremented by one. Since an increment is only applied by a committed transaction, the sum of all
// counters at the end must equal the number of increments made by committed transactions. A lost update or a dirty
// write breaks that equation.
package workload

import (
	"context"
	"math/bits"
	"math/rand"
	"sync"
	"time"

	"github.com/dgryski/go-farm"
	"github.com/pingcap-incubator/tinytxn/kv/concurrency"
	"github.com/pingcap-incubator/tinytxn/kv/config"
	"github.com/pingcap-incubator/tinytxn/kv/storage/tilegroup"
	"github.com/pingcap-incubator/tinytxn/kv/table"
	"github.com/pingcap-incubator/tinytxn/kv/tso"
	"github.com/pingcap-incubator/tinytxn/kv/util/codec"
	"github.com/pingcap-incubator/tinytxn/kv/util/worker"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrInconsistent is returned when the final state of the table does not match the committed transactions.
var ErrInconsistent = errors.New("workload: table is inconsistent with committed transactions")

// Summary describes a finished run.
type Summary struct {
	Elapsed time.Duration
	// Committed is the number of transactions that eventually committed.
	Committed int64
	// GaveUp is the number of transactions still aborting after max-retries retries.
	GaveUp int64
	// Attempts counts every try, so Attempts - Committed - GaveUp is the number of retries.
	Attempts   int64
	Increments int64

	// Latency of committed transactions, retries included.
	Mean time.Duration
	P50  time.Duration
	P99  time.Duration
	Max  time.Duration

	// Rows, Sum and Digest describe the table after the run.
	Rows   int
	Sum    int64
	Digest uint64
}

// Fields returns the summary as log fields.
func (s *Summary) Fields() []zap.Field {
	return []zap.Field{
		zap.Duration("elapsed", s.Elapsed),
		zap.Int64("committed", s.Committed),
		zap.Int64("gave-up", s.GaveUp),
		zap.Int64("retries", s.Attempts-s.Committed-s.GaveUp),
		zap.Int64("increments", s.Increments),
		zap.Duration("latency-mean", s.Mean),
		zap.Duration("latency-p50", s.P50),
		zap.Duration("latency-p99", s.P99),
		zap.Duration("latency-max", s.Max),
		zap.Int("rows", s.Rows),
		zap.Int64("sum", s.Sum),
		zap.Uint64("digest", s.Digest),
	}
}

// NewTable creates an empty table with the storage and transaction settings of cfg.
func NewTable(cfg *config.Config) (*table.Table, error) {
	policy, err := cfg.CommitPolicy()
	if err != nil {
		return nil, err
	}
	store := tilegroup.NewManager(int(cfg.Storage.TileGroupCapacity))
	return table.NewTable(store, concurrency.NewManager(store, tso.NewOracle(), policy)), nil
}

// Key returns the table key of counter i.
func Key(i int64) []byte {
	return codec.EncodeInt(i)
}

// Preload inserts counters 0 to keys-1, all set to 0, in one transaction.
func Preload(tbl *table.Table, keys int64) error {
	txn := tbl.Begin()
	zero := codec.EncodeInt(0)
	for i := int64(0); i < keys; i++ {
		if err := tbl.Insert(txn, Key(i), zero); err != nil {
			tbl.Abort(txn)
			return errors.Annotatef(err, "preload key %d", i)
		}
	}
	if result := tbl.Commit(txn); result != concurrency.ResultSuccess {
		return errors.Errorf("preload transaction finished with %s", result)
	}
	log.Info("workload preloaded", zap.Int64("keys", keys))
	return nil
}

// Verify reads the whole table in one transaction and checks the counters against the increments committed.
func Verify(tbl *table.Table, s *Summary) error {
	txn := tbl.Begin()
	kvs, err := tbl.Scan(txn, nil, 0)
	if err != nil {
		tbl.Abort(txn)
		return errors.Annotate(err, "verify scan")
	}
	if result := tbl.Commit(txn); result != concurrency.ResultSuccess {
		return errors.Errorf("verify transaction finished with %s", result)
	}

	s.Rows, s.Sum, s.Digest = len(kvs), 0, 0
	row := make([]byte, 0, 16)
	for _, kv := range kvs {
		_, v, err := codec.DecodeInt(kv.Value)
		if err != nil {
			return errors.Annotatef(err, "decode counter %x", kv.Key)
		}
		s.Sum += v
		row = append(append(row[:0], kv.Key...), kv.Value...)
		s.Digest = bits.RotateLeft64(s.Digest, 1) ^ farm.Fingerprint64(row)
	}
	if s.Sum != s.Increments {
		return errors.Annotatef(ErrInconsistent, "sum %d, committed increments %d", s.Sum, s.Increments)
	}
	return nil
}

type driver struct {
	cfg     config.BenchConfig
	tbl     *table.Table
	limiter *rate.Limiter
	sender  chan<- worker.Task
}

func newLimiter(perSecond int64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), int(perSecond))
}

// Run preloads tbl, runs the workload described by cfg against it and verifies the result. tbl must be empty.
func Run(ctx context.Context, cfg config.BenchConfig, tbl *table.Table) (*Summary, error) {
	if err := Preload(tbl, cfg.Keys); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	w := worker.NewWorker("workload-collector", int(cfg.Workers)*2, &wg)
	c := &collector{}
	w.Start(c)

	d := &driver{
		cfg:     cfg,
		tbl:     tbl,
		limiter: newLimiter(cfg.Rate),
		sender:  w.Sender(),
	}

	var reporterWg sync.WaitGroup
	stopReport := make(chan struct{})
	if interval := cfg.ReportInterval.Duration; interval > 0 {
		reporterWg.Add(1)
		go func() {
			defer reporterWg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					d.sender <- progressTask{}
				case <-stopReport:
					return
				}
			}
		}()
	}

	log.Info("workload started",
		zap.Int64("workers", cfg.Workers),
		zap.Int64("txns-per-worker", cfg.TxnsPerWorker),
		zap.Int64("ops-per-txn", cfg.OpsPerTxn),
		zap.Int64("rate", cfg.Rate))
	g, gctx := errgroup.WithContext(ctx)
	for i := int64(0); i < cfg.Workers; i++ {
		r := rand.New(rand.NewSource(cfg.Seed + i))
		g.Go(func() error {
			return d.runWorker(gctx, r)
		})
	}
	err := g.Wait()

	close(stopReport)
	reporterWg.Wait()
	w.Stop()
	wg.Wait()
	if err != nil {
		return nil, err
	}

	s := c.summary
	if err := Verify(tbl, &s); err != nil {
		return &s, err
	}
	return &s, nil
}

func (d *driver) runWorker(ctx context.Context, r *rand.Rand) error {
	for i := int64(0); i < d.cfg.TxnsPerWorker; i++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return errors.Trace(err)
		}
		o, err := d.runTxn(ctx, d.pickKeys(r))
		if err != nil {
			return err
		}
		d.sender <- o
	}
	return nil
}

// pickKeys returns ops-per-txn distinct counters.
func (d *driver) pickKeys(r *rand.Rand) []int64 {
	perm := r.Perm(int(d.cfg.Keys))[:d.cfg.OpsPerTxn]
	keys := make([]int64, len(perm))
	for i, k := range perm {
		keys[i] = int64(k)
	}
	return keys
}

func (d *driver) runTxn(ctx context.Context, keys []int64) (outcome, error) {
	start := time.Now()
	for attempt := 1; ; attempt++ {
		committed, err := d.increment(keys)
		if err != nil {
			return outcome{}, err
		}
		if committed {
			return outcome{committed: true, attempts: attempt, increments: len(keys), latency: time.Since(start)}, nil
		}
		if int64(attempt) > d.cfg.MaxRetries {
			log.Debug("transaction gave up", zap.Int("attempts", attempt), zap.Int64s("keys", keys))
			return outcome{attempts: attempt, latency: time.Since(start)}, nil
		}
		if err := ctx.Err(); err != nil {
			return outcome{}, errors.Trace(err)
		}
	}
}

// increment runs one attempt at adding one to every counter in keys. It returns false when the transaction aborted.
func (d *driver) increment(keys []int64) (bool, error) {
	txn := d.tbl.Begin()
	for _, k := range keys {
		key := Key(k)
		v, err := d.tbl.Read(txn, key)
		if err == nil {
			var n int64
			if _, n, err = codec.DecodeInt(v); err == nil {
				err = d.tbl.Update(txn, key, codec.EncodeInt(n+1))
			}
		}
		if err != nil {
			d.tbl.Abort(txn)
			if errors.Cause(err) == table.ErrTxnConflict {
				return false, nil
			}
			return false, errors.Annotatef(err, "txn %d increment key %d", txn.ID(), k)
		}
	}
	return d.tbl.Commit(txn) == concurrency.ResultSuccess, nil
}
