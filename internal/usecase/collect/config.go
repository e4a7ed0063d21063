package collect

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by Run for an unusable configuration.
var ErrInvalidConfig = errors.New("invalid collector configuration")

// Config controls one orchestration run.
type Config struct {
	// MaxConcurrent bounds the number of tasks in flight.
	MaxConcurrent int
	// TimeoutPerTask bounds each attempt of each task.
	TimeoutPerTask time.Duration
	// FailFast cancels every pending and in-flight task on the first failure.
	FailFast bool
	// RetryFailed retries a task once after a fetch or timeout failure.
	RetryFailed bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  5,
		TimeoutPerTask: 300 * time.Second,
		FailFast:       false,
		RetryFailed:    true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: max_concurrent must be positive, got %d", ErrInvalidConfig, c.MaxConcurrent)
	}
	if c.TimeoutPerTask <= 0 {
		return fmt.Errorf("%w: timeout_per_task must be positive, got %s", ErrInvalidConfig, c.TimeoutPerTask)
	}
	return nil
}
