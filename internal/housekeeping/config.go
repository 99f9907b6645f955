package housekeeping

import (
	"runtime"
	"time"
)

type ErrorHandler func(err error)

// Config controls the retention pipeline. Keep* values are ages; zero disables that task.
type Config struct {
	Enabled bool `mapstructure:"enabled"`

	// Interval between two pruning passes. A pass also runs once at start.
	Interval time.Duration `mapstructure:"interval"`
	// Workers bounds how many tables are pruned concurrently.
	Workers int `mapstructure:"workers"`
	// BatchRows is the maximum number of rows removed per delete statement.
	BatchRows int `mapstructure:"batch_rows"`
	// IdleSleep is the pause between two batches so live traffic keeps the write lock.
	IdleSleep time.Duration `mapstructure:"idle_sleep"`

	KeepTurns       time.Duration `mapstructure:"keep_turns"`
	KeepAudit       time.Duration `mapstructure:"keep_audit"`
	KeepIdleThreads time.Duration `mapstructure:"keep_idle_threads"`

	OnError ErrorHandler `mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Interval:        6 * time.Hour,
		Workers:         max(2, runtime.NumCPU()),
		BatchRows:       500,
		IdleSleep:       50 * time.Millisecond,
		KeepTurns:       90 * 24 * time.Hour,
		KeepAudit:       30 * 24 * time.Hour,
		KeepIdleThreads: 180 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 6 * time.Hour
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BatchRows <= 0 {
		c.BatchRows = 500
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
	return c
}
