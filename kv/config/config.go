package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap-incubator/tinytxn/kv/concurrency"
	"github.com/pingcap-incubator/tinytxn/kv/storage/tilegroup"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the configuration of the engine and of the benchmark driving it.
type Config struct {
	// Log related config.
	Log log.Config `toml:"log" json:"log"`

	Storage StorageConfig `toml:"storage" json:"storage"`
	Txn     TxnConfig     `toml:"txn" json:"txn"`
	Bench   BenchConfig   `toml:"bench" json:"bench"`

	// WarningMsgs contains all warnings during parsing.
	WarningMsgs []string `toml:"-" json:"-"`

	logger   *zap.Logger
	logProps *log.ZapProperties
}

type StorageConfig struct {
	// TileGroupCapacity is the number of tuple slots in each tile group.
	TileGroupCapacity uint64 `toml:"tile-group-capacity" json:"tile-group-capacity"`
}

type TxnConfig struct {
	// CommitTimestamp selects the end commit id written by committing transactions, "begin" or "fresh".
	CommitTimestamp string `toml:"commit-timestamp" json:"commit-timestamp"`
}

type BenchConfig struct {
	Workers       int64 `toml:"workers" json:"workers"`
	Keys          int64 `toml:"keys" json:"keys"`
	TxnsPerWorker int64 `toml:"txns-per-worker" json:"txns-per-worker"`
	OpsPerTxn     int64 `toml:"ops-per-txn" json:"ops-per-txn"`
	// MaxRetries bounds how many times an aborted transaction is run again.
	MaxRetries int64 `toml:"max-retries" json:"max-retries"`
	Seed       int64 `toml:"seed" json:"seed"`
	// Rate limits the transactions started per second by all workers together. 0 means no limit.
	Rate int64 `toml:"rate" json:"rate"`
	// ReportInterval is how often progress is logged. 0 disables progress reports.
	ReportInterval Duration `toml:"report-interval" json:"report-interval"`
	// StatusAddr serves /metrics when set.
	StatusAddr string `toml:"status-addr" json:"status-addr"`
}

const (
	defaultTileGroupCapacity = tilegroup.DefaultCapacity
	defaultCommitTimestamp   = "begin"

	defaultWorkers        = 8
	defaultKeys           = 64
	defaultTxnsPerWorker  = 1000
	defaultOpsPerTxn      = 4
	defaultMaxRetries     = 100
	defaultSeed           = 1
	defaultReportInterval = 10 * time.Second
)

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	c := &Config{}
	c.Log.Level = getLogLevel()
	if err := c.Adjust(nil); err != nil {
		// Defaults always adjust cleanly.
		panic(err)
	}
	return c
}

// NewTestConfig returns a small configuration that runs in well under a second.
func NewTestConfig() *Config {
	c := &Config{
		Storage: StorageConfig{TileGroupCapacity: 64},
		Bench: BenchConfig{
			Workers:        4,
			Keys:           8,
			TxnsPerWorker:  50,
			OpsPerTxn:      2,
			MaxRetries:     1000,
			ReportInterval: NewDuration(time.Hour),
		},
	}
	c.Log.Level = getLogLevel()
	if err := c.Adjust(nil); err != nil {
		panic(err)
	}
	return c
}

// LoadFile decodes the TOML file at path over c. Keys the file defines replace the values already in c, unknown keys
// are reported in WarningMsgs.
func (c *Config) LoadFile(path string) error {
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.Annotatef(err, "load config %s", path)
	}
	return c.Adjust(&meta)
}

// Adjust fills unset items with defaults.
func (c *Config) Adjust(meta *toml.MetaData) error {
	configMetaData := newConfigMetadata(meta)
	if err := configMetaData.CheckUndecoded(); err != nil {
		c.WarningMsgs = append(c.WarningMsgs, err.Error())
	}

	adjustString(&c.Log.Level, "info")
	adjustUint64(&c.Storage.TileGroupCapacity, defaultTileGroupCapacity)
	adjustString(&c.Txn.CommitTimestamp, defaultCommitTimestamp)
	c.Txn.CommitTimestamp = strings.ToLower(c.Txn.CommitTimestamp)

	b := &c.Bench
	adjustInt64(&b.Workers, defaultWorkers)
	adjustInt64(&b.Keys, defaultKeys)
	adjustInt64(&b.TxnsPerWorker, defaultTxnsPerWorker)
	adjustInt64(&b.OpsPerTxn, defaultOpsPerTxn)
	if !configMetaData.Child("bench").IsDefined("max-retries") {
		adjustInt64(&b.MaxRetries, defaultMaxRetries)
	}
	adjustInt64(&b.Seed, defaultSeed)
	if !configMetaData.Child("bench").IsDefined("report-interval") {
		adjustDuration(&b.ReportInterval, defaultReportInterval)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Storage.TileGroupCapacity == 0 || c.Storage.TileGroupCapacity > uint64(tilegroup.InvalidOID) {
		return errors.Errorf("tile-group-capacity must be in (0, %d], got %d", tilegroup.InvalidOID,
			c.Storage.TileGroupCapacity)
	}
	if _, err := c.CommitPolicy(); err != nil {
		return err
	}

	b := c.Bench
	if b.Workers <= 0 {
		return errors.Errorf("workers must be greater than 0, got %d", b.Workers)
	}
	if b.Keys <= 0 {
		return errors.Errorf("keys must be greater than 0, got %d", b.Keys)
	}
	if b.TxnsPerWorker <= 0 {
		return errors.Errorf("txns-per-worker must be greater than 0, got %d", b.TxnsPerWorker)
	}
	if b.OpsPerTxn <= 0 || b.OpsPerTxn > b.Keys {
		return errors.Errorf("ops-per-txn must be in (0, keys], got %d", b.OpsPerTxn)
	}
	if b.MaxRetries < 0 {
		return errors.Errorf("max-retries must not be negative, got %d", b.MaxRetries)
	}
	if b.Rate < 0 {
		return errors.Errorf("rate must not be negative, got %d", b.Rate)
	}
	if b.ReportInterval.Duration < 0 {
		return errors.Errorf("report-interval must not be negative, got %s", b.ReportInterval)
	}
	return nil
}

// CommitPolicy returns the commit timestamp policy named by txn.commit-timestamp.
func (c *Config) CommitPolicy() (concurrency.CommitPolicy, error) {
	return concurrency.ParseCommitPolicy(c.Txn.CommitTimestamp)
}

// SetupLogger setup the logger.
func (c *Config) SetupLogger() error {
	lg, p, err := log.InitLogger(&c.Log, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return err
	}
	c.logger = lg
	c.logProps = p
	return nil
}

// GetZapLogger gets the created zap logger.
func (c *Config) GetZapLogger() *zap.Logger {
	return c.logger
}

// GetZapLogProperties gets properties of the zap logger.
func (c *Config) GetZapLogProperties() *log.ZapProperties {
	return c.logProps
}

func adjustString(v *string, defValue string) {
	if len(*v) == 0 {
		*v = defValue
	}
}

func adjustUint64(v *uint64, defValue uint64) {
	if *v == 0 {
		*v = defValue
	}
}

func adjustInt64(v *int64, defValue int64) {
	if *v == 0 {
		*v = defValue
	}
}

func adjustDuration(v *Duration, defValue time.Duration) {
	if v.Duration == 0 {
		v.Duration = defValue
	}
}

type configMetaData struct {
	meta *toml.MetaData
	path []string
}

func newConfigMetadata(meta *toml.MetaData) *configMetaData {
	return &configMetaData{meta: meta}
}

func (m *configMetaData) IsDefined(key string) bool {
	if m.meta == nil {
		return false
	}
	keys := append([]string(nil), m.path...)
	keys = append(keys, key)
	return m.meta.IsDefined(keys...)
}

func (m *configMetaData) Child(path ...string) *configMetaData {
	newPath := append([]string(nil), m.path...)
	newPath = append(newPath, path...)
	return &configMetaData{
		meta: m.meta,
		path: newPath,
	}
}

func (m *configMetaData) CheckUndecoded() error {
	if m.meta == nil {
		return nil
	}
	undecoded := m.meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	errInfo := "Config contains undefined item: "
	for _, key := range undecoded {
		errInfo += key.String() + ", "
	}
	return errors.New(errInfo[:len(errInfo)-2])
}
