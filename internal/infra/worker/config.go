package worker

import (
	"fmt"
	"log/slog"
	"time"

	"deprecations-feed/internal/pkg/config"
)

// WorkerConfig controls when and how long the collector runs.
//
// Environment variables:
//   - CRON_SCHEDULE: five-field cron expression (default: "0 6 * * *")
//   - WORKER_TIMEZONE: IANA timezone for the schedule (default: "UTC")
//   - RUN_TIMEOUT: bound on one complete run, 1m-4h (default: 30m)
//   - WORKER_HEALTH_PORT: health server port, 1024-65535 (default: 9091)
//   - RUN_ONCE: run a single collection and exit (default: false)
type WorkerConfig struct {
	// CronSchedule is the cron expression for scheduled runs.
	// Format: "minute hour day month weekday"
	CronSchedule string

	// Timezone is the IANA timezone name the schedule is evaluated in.
	Timezone string

	// RunTimeout bounds one run including storage and enhancement.
	RunTimeout time.Duration

	// HealthPort is the port of the health check HTTP server.
	HealthPort int

	// RunOnce runs one collection immediately and exits, for CI jobs.
	RunOnce bool
}

// DefaultConfig returns a WorkerConfig with default values: a daily run at
// 06:00 UTC bounded to 30 minutes.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		CronSchedule: "0 6 * * *",
		Timezone:     "UTC",
		RunTimeout:   30 * time.Minute,
		HealthPort:   9091,
		RunOnce:      false,
	}
}

// Validate checks every field and returns all problems together.
func (c *WorkerConfig) Validate() error {
	var errs []error

	if err := config.ValidateCronSchedule(c.CronSchedule); err != nil {
		errs = append(errs, fmt.Errorf("cron schedule: %w", err))
	}
	if err := config.ValidateTimezone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if err := config.ValidatePositiveDuration(c.RunTimeout); err != nil {
		errs = append(errs, fmt.Errorf("run timeout: %w", err))
	}
	if err := config.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("health port: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}
	return nil
}

// Location returns the schedule's timezone, falling back to UTC.
func (c *WorkerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoadConfigFromEnv loads the worker configuration with the fail-open
// strategy: an invalid value is replaced by its default, logged, and counted
// in the worker's config metrics. The returned error is always nil.
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) (*WorkerConfig, error) {
	cfg := DefaultConfig()

	var cm *config.ConfigMetrics
	if metrics != nil {
		cm = metrics.ConfigMetrics
	}
	l := config.NewLoader(cm)

	cfg.CronSchedule = l.String("CRON_SCHEDULE", cfg.CronSchedule, config.ValidateCronSchedule)
	cfg.Timezone = l.String("WORKER_TIMEZONE", cfg.Timezone, config.ValidateTimezone)
	cfg.RunTimeout = l.Duration("RUN_TIMEOUT", cfg.RunTimeout, func(d time.Duration) error {
		return config.ValidateDuration(d, time.Minute, 4*time.Hour)
	})
	cfg.HealthPort = l.Int("WORKER_HEALTH_PORT", cfg.HealthPort, func(v int) error {
		return config.ValidateIntRange(v, 1024, 65535)
	})
	cfg.RunOnce = l.Bool("RUN_ONCE", cfg.RunOnce)
	l.Finish()

	for _, warning := range l.Warnings {
		logger.Warn("Configuration fallback applied", slog.String("warning", warning))
	}

	return &cfg, nil
}
