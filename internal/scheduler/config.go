package scheduler

import (
	"strings"
	"time"

	"github.com/rubenoroz/closeframe-sub002/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	// StaleAfter is how long an automated payout may sit in PENDING before
	// the sweep re-drives its transfer.
	StaleAfter  time.Duration
	LeaderTTL   time.Duration
	JobTimeout  time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   100,
		StaleAfter:  30 * time.Minute,
		LeaderTTL:   2 * time.Minute,
		JobTimeout:  30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	c := Config{
		RunInterval: cfg.Payout.SchedulerInterval,
		StaleAfter:  cfg.Payout.StaleAfter,
	}
	for _, job := range strings.Split(cfg.SchedulerJobs, ",") {
		if job = strings.TrimSpace(job); job != "" {
			c.EnabledJobs = append(c.EnabledJobs, job)
		}
	}
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaults.StaleAfter
	}
	if c.LeaderTTL <= 0 {
		c.LeaderTTL = defaults.LeaderTTL
	}
	if c.LeaderTTL < c.RunInterval {
		c.LeaderTTL = 2 * c.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
