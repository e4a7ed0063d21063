// Package config provides fail-open environment loading for the worker and CLI.
//
// Every loader returns a usable value: a missing variable yields the default
// silently, an unparsable or invalid one yields the default plus a warning.
// Configuration problems degrade to defaults instead of stopping a
// collection run.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConfigLoadResult represents the result of loading a configuration value.
//
// Fields:
//   - Value: The loaded configuration value (may be fallback if validation failed)
//   - Warnings: List of warning messages (one per fallback applied)
//   - FallbackApplied: True if the default value was used due to validation failure
//
// Example:
//
//	result := LoadEnvDuration("COLLECT_TASK_TIMEOUT", 300*time.Second, ValidatePositiveDuration)
//	timeout := result.Value.(time.Duration)
type ConfigLoadResult struct {
	Value           interface{}
	Warnings        []string
	FallbackApplied bool
}

// LoadEnvString loads a string value from an environment variable.
// No validation is performed.
func LoadEnvString(envKey, defaultValue string) string {
	value := os.Getenv(envKey)
	if value == "" {
		return defaultValue
	}
	return value
}

// LoadEnvWithFallback loads a string value with validation and fallback to
// defaultValue on validation failure. A nil validator accepts any value.
//
// Warning format:
//
//	"Invalid {envKey}='{value}': {error}, falling back to default '{default}'"
func LoadEnvWithFallback(envKey, defaultValue string, validator func(string) error) ConfigLoadResult {
	return load(envKey, defaultValue, func(s string) (string, error) { return s, nil }, validator, "%s")
}

// LoadEnvDuration loads a time.ParseDuration value ("30s", "5m", "1h30m")
// with validation and fallback.
func LoadEnvDuration(envKey string, defaultValue time.Duration, validator func(time.Duration) error) ConfigLoadResult {
	return load(envKey, defaultValue, time.ParseDuration, validator, "%v")
}

// LoadEnvInt loads a base-10 integer with validation and fallback.
// Spaces, decimals and trailing characters are rejected.
func LoadEnvInt(envKey string, defaultValue int, validator func(int) error) ConfigLoadResult {
	parse := func(s string) (int, error) {
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid integer format")
		}
		return v, nil
	}
	return load(envKey, defaultValue, parse, validator, "%d")
}

// LoadEnvBool loads a boolean with fallback.
//
// True values: "1", "t", "T", "true", "TRUE", "True"
// False values: "0", "f", "F", "false", "FALSE", "False"
func LoadEnvBool(envKey string, defaultValue bool) ConfigLoadResult {
	parse := func(s string) (bool, error) {
		switch s {
		case "1", "t", "T", "true", "TRUE", "True":
			return true, nil
		case "0", "f", "F", "false", "FALSE", "False":
			return false, nil
		}
		return false, fmt.Errorf("invalid boolean format, expected 'true' or 'false'")
	}
	return load(envKey, defaultValue, parse, nil, "%t")
}

func load[T any](envKey string, defaultValue T, parse func(string) (T, error), validator func(T) error, verb string) ConfigLoadResult {
	raw := strings.TrimSpace(os.Getenv(envKey))
	if raw == "" {
		return ConfigLoadResult{Value: defaultValue}
	}

	fallback := func(err error) ConfigLoadResult {
		warning := fmt.Sprintf("Invalid %s='%s': %v, falling back to default '"+verb+"'",
			envKey, raw, err, defaultValue)
		return ConfigLoadResult{
			Value:           defaultValue,
			Warnings:        []string{warning},
			FallbackApplied: true,
		}
	}

	value, err := parse(raw)
	if err != nil {
		return fallback(err)
	}
	if validator != nil {
		if err := validator(value); err != nil {
			return fallback(err)
		}
	}
	return ConfigLoadResult{Value: value}
}

// Loader accumulates warnings over several lookups and reports each
// fallback to the component's ConfigMetrics.
//
// Example:
//
//	l := NewLoader(metrics)
//	workers := l.Int("COLLECT_MAX_CONCURRENT", 5, func(v int) error { return ValidateIntRange(v, 1, 64) })
//	timeout := l.Duration("COLLECT_TASK_TIMEOUT", 300*time.Second, ValidatePositiveDuration)
//	l.Finish()
//	for _, w := range l.Warnings { logger.Warn(w) }
type Loader struct {
	Warnings []string

	metrics  *ConfigMetrics
	fallback bool
}

// NewLoader returns a loader. metrics may be nil.
func NewLoader(metrics *ConfigMetrics) *Loader {
	return &Loader{metrics: metrics}
}

// String loads a validated string.
func (l *Loader) String(envKey, defaultValue string, validator func(string) error) string {
	return l.record(envKey, LoadEnvWithFallback(envKey, defaultValue, validator)).(string)
}

// Int loads a validated integer.
func (l *Loader) Int(envKey string, defaultValue int, validator func(int) error) int {
	return l.record(envKey, LoadEnvInt(envKey, defaultValue, validator)).(int)
}

// Duration loads a validated duration.
func (l *Loader) Duration(envKey string, defaultValue time.Duration, validator func(time.Duration) error) time.Duration {
	return l.record(envKey, LoadEnvDuration(envKey, defaultValue, validator)).(time.Duration)
}

// Bool loads a boolean.
func (l *Loader) Bool(envKey string, defaultValue bool) bool {
	return l.record(envKey, LoadEnvBool(envKey, defaultValue)).(bool)
}

// FallbackApplied reports whether any lookup fell back to its default.
func (l *Loader) FallbackApplied() bool {
	return l.fallback
}

// Finish records the load timestamp and the fallback gauge.
func (l *Loader) Finish() {
	if l.metrics == nil {
		return
	}
	l.metrics.Loaded(l.fallback)
}

func (l *Loader) record(envKey string, result ConfigLoadResult) interface{} {
	if result.FallbackApplied {
		l.fallback = true
		l.Warnings = append(l.Warnings, result.Warnings...)
		if l.metrics != nil {
			l.metrics.Reject(strings.ToLower(envKey))
		}
	}
	return result.Value
}
