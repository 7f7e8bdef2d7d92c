package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap-incubator/tinytxn/kv/config"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	configPath string

	globalContext context.Context
	globalCancel  context.CancelFunc
)

func main() {
	globalContext, globalCancel = context.WithCancel(context.Background())

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	closeDone := make(chan struct{}, 1)
	go func() {
		sig := <-sc
		log.Info("got signal to exit", zap.String("signal", sig.String()))
		globalCancel()

		select {
		case <-sc:
			// send signal again, return directly
			log.Warn("got signal again, exit now", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(10 * time.Second):
			log.Warn("wait 10s for closed, force exit")
			os.Exit(1)
		case <-closeDone:
			return
		}
	}()

	rootCmd := &cobra.Command{
		Use:           "tinytxn-bench",
		Short:         "Drive the timestamp ordering transaction engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "C", "", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().Uint64("tile-group-capacity", 0, "number of tuple slots per tile group")
	rootCmd.PersistentFlags().String("commit-timestamp", "", "end commit id of committing transactions: begin or fresh")

	rootCmd.AddCommand(
		newRunCommand(),
		newShellCommand(),
	)

	cobra.EnablePrefixMatching = true

	err := rootCmd.Execute()
	globalCancel()
	closeDone <- struct{}{}
	if err != nil {
		log.Fatal("tinytxn-bench failed", zap.Error(err))
	}
	log.Sync()
}

// loadConfig builds the configuration of cmd: defaults, then the config file, then the flags set on the command line.
// It also installs the configured logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	if err := applyFlags(cmd.Flags(), cfg); err != nil {
		return nil, err
	}
	if err := cfg.SetupLogger(); err != nil {
		return nil, errors.Annotate(err, "setup logger")
	}
	log.ReplaceGlobals(cfg.GetZapLogger(), cfg.GetZapLogProperties())
	for _, msg := range cfg.WarningMsgs {
		log.Warn(msg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags copies the flags changed on the command line into cfg.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "log-level":
			cfg.Log.Level = f.Value.String()
		case "tile-group-capacity":
			cfg.Storage.TileGroupCapacity, err = fs.GetUint64(f.Name)
		case "commit-timestamp":
			cfg.Txn.CommitTimestamp = f.Value.String()
		case "workers":
			cfg.Bench.Workers, err = fs.GetInt64(f.Name)
		case "keys":
			cfg.Bench.Keys, err = fs.GetInt64(f.Name)
		case "txns-per-worker":
			cfg.Bench.TxnsPerWorker, err = fs.GetInt64(f.Name)
		case "ops-per-txn":
			cfg.Bench.OpsPerTxn, err = fs.GetInt64(f.Name)
		case "max-retries":
			cfg.Bench.MaxRetries, err = fs.GetInt64(f.Name)
		case "seed":
			cfg.Bench.Seed, err = fs.GetInt64(f.Name)
		case "rate":
			cfg.Bench.Rate, err = fs.GetInt64(f.Name)
		case "report-interval":
			var d time.Duration
			d, err = fs.GetDuration(f.Name)
			cfg.Bench.ReportInterval = config.NewDuration(d)
		case "status-addr":
			cfg.Bench.StatusAddr = f.Value.String()
		}
	})
	return errors.Annotate(err, "apply flags")
}
