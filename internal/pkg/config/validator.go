package config

import (
	"cmp"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCronSchedule accepts five-field cron expressions such as
// "0 */6 * * *".
func ValidateCronSchedule(schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		return errors.New("invalid cron schedule: cannot be empty")
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// ValidateTimezone accepts IANA names that the runtime can load. Offsets
// like "+09:00" are rejected.
func ValidateTimezone(timezone string) error {
	if timezone == "" {
		return errors.New("invalid timezone: cannot be empty")
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return nil
}

func inRange[T cmp.Ordered](v, lo, hi T) error {
	switch {
	case lo > hi:
		return fmt.Errorf("invalid range [%v, %v]", lo, hi)
	case v < lo:
		return fmt.Errorf("%v is below the minimum %v", v, lo)
	case v > hi:
		return fmt.Errorf("%v exceeds the maximum %v", v, hi)
	}
	return nil
}

// ValidateDuration accepts lo <= d <= hi.
func ValidateDuration(d, lo, hi time.Duration) error { return inRange(d, lo, hi) }

// ValidateIntRange accepts lo <= v <= hi.
func ValidateIntRange(v, lo, hi int) error { return inRange(v, lo, hi) }

// ValidatePositiveDuration validates that a duration is strictly positive.
func ValidatePositiveDuration(duration time.Duration) error {
	if duration <= 0 {
		return fmt.Errorf("duration must be positive, got %v", duration)
	}
	return nil
}

// ValidateNonNegativeDuration accepts zero. Used for grace periods and TTLs
// where zero is meaningful.
func ValidateNonNegativeDuration(duration time.Duration) error {
	if duration < 0 {
		return fmt.Errorf("duration must not be negative, got %v", duration)
	}
	return nil
}

// ValidateOneOf returns a validator accepting only the listed values,
// compared case-insensitively.
//
// Example:
//
//	LoadEnvWithFallback("CACHE_BACKEND", "", ValidateOneOf("filesystem", "actions", "postgres"))
func ValidateOneOf(allowed ...string) func(string) error {
	return func(value string) error {
		for _, a := range allowed {
			if strings.EqualFold(value, a) {
				return nil
			}
		}
		return fmt.Errorf("value '%s' must be one of [%s]", value, strings.Join(allowed, ", "))
	}
}
