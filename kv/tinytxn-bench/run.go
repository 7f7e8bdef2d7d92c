package main

import (
	"net/http"

	"github.com/pingcap-incubator/tinytxn/kv/workload"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "run",
		Short: "Run concurrent read-modify-write transactions and verify the result",
		Args:  cobra.NoArgs,
		RunE:  runCommandFunc,
	}
	m.Flags().Int64("workers", 0, "number of concurrent workers")
	m.Flags().Int64("keys", 0, "number of counters in the table")
	m.Flags().Int64("txns-per-worker", 0, "transactions run by each worker")
	m.Flags().Int64("ops-per-txn", 0, "counters incremented by each transaction")
	m.Flags().Int64("max-retries", 0, "retries of an aborted transaction before giving up")
	m.Flags().Int64("seed", 0, "random seed of the first worker")
	m.Flags().Int64("rate", 0, "transactions started per second by all workers, 0 for no limit")
	m.Flags().Duration("report-interval", 0, "interval of progress reports, 0 to disable")
	m.Flags().String("status-addr", "", "address serving /metrics")
	return m
}

func runCommandFunc(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr := cfg.Bench.StatusAddr; addr != "" {
		go serveMetrics(addr)
	}

	tbl, err := workload.NewTable(cfg)
	if err != nil {
		return err
	}
	log.Info("run workload",
		zap.Uint64("tile-group-capacity", cfg.Storage.TileGroupCapacity),
		zap.String("commit-timestamp", cfg.Txn.CommitTimestamp),
		zap.Int64("keys", cfg.Bench.Keys),
		zap.Int64("seed", cfg.Bench.Seed))
	s, err := workload.Run(globalContext, cfg.Bench, tbl)
	if s != nil {
		log.Info("workload finished", s.Fields()...)
	}
	return err
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", zap.Error(err))
	}
}
