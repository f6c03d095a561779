package scheduler

import (
	"time"
)

// Config controls sweep intervals and batch sizes.
type Config struct {
	RunInterval     time.Duration
	BatchSize       int
	LockTTL         time.Duration
	LedgerSweepSpec string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:     time.Minute,
		BatchSize:       50,
		LockTTL:         90 * time.Second,
		LedgerSweepSpec: "@hourly",
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LedgerSweepSpec == "" {
		c.LedgerSweepSpec = defaults.LedgerSweepSpec
	}
	return c
}
