package config

import (
	"fmt"
	"time"

	envconfig "deprecations-feed/internal/pkg/config"
)

// CollectorConfig holds the orchestrator settings and the source catalogue location.
type CollectorConfig struct {
	// MaxConcurrent bounds how many tasks run at once. Default: 5
	MaxConcurrent int

	// TaskTimeout bounds a single task attempt. Default: 300s
	TaskTimeout time.Duration

	// FailFast cancels the remaining tasks after the first failure. Default: false
	FailFast bool

	// RetryFailed retries fetch and timeout failures once. Default: true
	RetryFailed bool

	// Breakers enables per-task circuit breakers. Default: true
	Breakers bool

	// SourcesFile is the YAML source catalogue. Default: configs/sources.yaml
	SourcesFile string

	// UserAgent is sent with every source request.
	UserAgent string

	// HTTPTimeout bounds a single source request. Default: 30s
	HTTPTimeout time.Duration

	// HTTPFreshness is how long a fetched page is reused without
	// revalidation when the response carries no max-age. Default: 23h
	HTTPFreshness time.Duration

	// HostInterval is the minimum gap between requests to one host. Default: 1s
	HostInterval time.Duration
}

// DefaultCollectorConfig returns the orchestrator defaults.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		MaxConcurrent: 5,
		TaskTimeout:   300 * time.Second,
		FailFast:      false,
		RetryFailed:   true,
		Breakers:      true,
		SourcesFile:   "configs/sources.yaml",
		UserAgent:     "deprecations-feed/1.0 (+https://github.com/deprecations-feed)",
		HTTPTimeout:   30 * time.Second,
		HTTPFreshness: 23 * time.Hour,
		HostInterval:  time.Second,
	}
}

// LoadCollectorConfig reads COLLECT_* and SOURCES_FILE.
func LoadCollectorConfig(l *envconfig.Loader) CollectorConfig {
	cfg := DefaultCollectorConfig()

	cfg.MaxConcurrent = l.Int("COLLECT_MAX_CONCURRENT", cfg.MaxConcurrent, func(v int) error {
		return envconfig.ValidateIntRange(v, 1, 64)
	})
	cfg.TaskTimeout = l.Duration("COLLECT_TASK_TIMEOUT", cfg.TaskTimeout, func(d time.Duration) error {
		return envconfig.ValidateDuration(d, time.Second, time.Hour)
	})
	cfg.FailFast = l.Bool("COLLECT_FAIL_FAST", cfg.FailFast)
	cfg.RetryFailed = l.Bool("COLLECT_RETRY_FAILED", cfg.RetryFailed)
	cfg.Breakers = l.Bool("COLLECT_CIRCUIT_BREAKERS", cfg.Breakers)
	cfg.SourcesFile = envconfig.LoadEnvString("SOURCES_FILE", cfg.SourcesFile)
	cfg.UserAgent = envconfig.LoadEnvString("COLLECT_USER_AGENT", cfg.UserAgent)
	cfg.HTTPTimeout = l.Duration("COLLECT_HTTP_TIMEOUT", cfg.HTTPTimeout, func(d time.Duration) error {
		return envconfig.ValidateDuration(d, time.Second, 5*time.Minute)
	})
	cfg.HTTPFreshness = l.Duration("COLLECT_HTTP_FRESHNESS", cfg.HTTPFreshness, envconfig.ValidateNonNegativeDuration)
	cfg.HostInterval = l.Duration("COLLECT_HOST_INTERVAL", cfg.HostInterval, envconfig.ValidateNonNegativeDuration)

	return cfg
}

// Validate rejects settings the orchestrator cannot run with.
func (c CollectorConfig) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("COLLECT_MAX_CONCURRENT must be positive")
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("COLLECT_TASK_TIMEOUT must be positive")
	}
	if c.SourcesFile == "" {
		return fmt.Errorf("SOURCES_FILE cannot be empty")
	}
	return nil
}
