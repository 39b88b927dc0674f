package scheduler

import (
	"time"

	"github.com/smallbiznis/campaigncredit/internal/config"
)

const (
	JobExpireOrders        = "expire_orders"
	JobReplayNotifications = "replay_notifications"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
	LockTTL     time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		RunInterval: time.Minute,
		BatchSize:   100,
		JobTimeout:  30 * time.Second,
	}
}

// ProvideConfig maps application config onto scheduler settings.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Scheduler.Enabled,
		RunInterval: cfg.Scheduler.Interval,
		BatchSize:   cfg.Scheduler.BatchSize,
		JobTimeout:  cfg.Scheduler.JobTimeout,
		EnabledJobs: cfg.Scheduler.EnabledJobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	// lock must outlive a timed-out job so a slow replica does not overlap itself
	if c.LockTTL <= 0 {
		c.LockTTL = c.JobTimeout + 5*time.Second
	}
	return c
}
