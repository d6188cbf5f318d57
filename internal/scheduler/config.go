package scheduler

import (
	"time"

	"github.com/smallbiznis/aerocert/internal/config"
)

const (
	JobRecomputeStatuses = "recompute_statuses"
	JobComplianceMetrics = "compliance_metrics"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	Enabled          bool
	RunInterval      time.Duration
	BatchSize        int
	RecomputeTimeout time.Duration
	MetricsTimeout   time.Duration
	JobLockTTL       time.Duration
	EnabledJobs      []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		RunInterval:      15 * time.Minute,
		BatchSize:        500,
		RecomputeTimeout: 10 * time.Minute,
		MetricsTimeout:   2 * time.Minute,
		JobLockTTL:       15 * time.Minute,
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
	if c.RecomputeTimeout <= 0 {
		c.RecomputeTimeout = defaults.RecomputeTimeout
	}
	if c.MetricsTimeout <= 0 {
		c.MetricsTimeout = defaults.MetricsTimeout
	}
	if c.JobLockTTL <= 0 {
		c.JobLockTTL = defaults.JobLockTTL
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Scheduler.Enabled,
		RunInterval: cfg.Scheduler.RunInterval,
		BatchSize:   cfg.Scheduler.BatchSize,
		EnabledJobs: cfg.Scheduler.EnabledJobs,
	}.withDefaults()
}
