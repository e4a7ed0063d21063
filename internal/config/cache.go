// Package config defines the per-component configuration of the collector.
// Each Load function reads the environment through an envconfig.Loader, so an
// invalid value degrades to its default with a warning rather than an error.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	envconfig "deprecations-feed/internal/pkg/config"
)

// Cache backend names accepted by CACHE_BACKEND.
const (
	BackendFileSystem = "filesystem"
	BackendActions    = "actions"
	BackendPostgres   = "postgres"
)

// CacheConfig selects and tunes the storage backend and the cache manager.
type CacheConfig struct {
	// Backend forces a backend. Empty means auto-detect from InCI.
	Backend string

	// Dir is the filesystem backend directory. Empty uses the backend default.
	Dir string

	// InCI is true when GITHUB_ACTIONS=true; Workspace is GITHUB_WORKSPACE.
	InCI      bool
	Workspace string

	// UseStale serves expired entries when a fresh fetch fails. Default: true
	UseStale bool

	// DefaultTTL applies to generic entries (24h); RecordTTL to dated provider snapshots (48h).
	DefaultTTL time.Duration
	RecordTTL  time.Duration

	// KeyPrefix and KeyVersion build the CI cache key.
	KeyPrefix  string
	KeyVersion string

	// PurgeGrace keeps expired entries this long before a purge removes them. Default: 7 days
	PurgeGrace time.Duration

	// LookbackDays bounds how far LatestRecords walks back. Default: 7
	LookbackDays int
}

// DefaultCacheConfig returns the defaults for local runs.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		UseStale:     true,
		DefaultTTL:   24 * time.Hour,
		RecordTTL:    48 * time.Hour,
		KeyPrefix:    "deprecations-cache",
		KeyVersion:   "v1",
		PurgeGrace:   7 * 24 * time.Hour,
		LookbackDays: 7,
	}
}

// LoadCacheConfig reads CACHE_* and the CI environment variables.
func LoadCacheConfig(l *envconfig.Loader) CacheConfig {
	cfg := DefaultCacheConfig()

	cfg.Backend = strings.ToLower(l.String("CACHE_BACKEND", "",
		envconfig.ValidateOneOf(BackendFileSystem, BackendActions, BackendPostgres)))
	cfg.Dir = envconfig.LoadEnvString("CACHE_DIR", "")
	cfg.InCI = l.Bool("GITHUB_ACTIONS", false)
	cfg.Workspace = os.Getenv("GITHUB_WORKSPACE")
	cfg.UseStale = l.Bool("CACHE_USE_STALE", cfg.UseStale)
	cfg.DefaultTTL = l.Duration("CACHE_DEFAULT_TTL", cfg.DefaultTTL, envconfig.ValidateNonNegativeDuration)
	cfg.RecordTTL = l.Duration("CACHE_RECORD_TTL", cfg.RecordTTL, envconfig.ValidateNonNegativeDuration)
	cfg.KeyPrefix = l.String("CACHE_KEY_PREFIX", cfg.KeyPrefix, validateKeyPart)
	cfg.KeyVersion = l.String("CACHE_KEY_VERSION", cfg.KeyVersion, validateKeyPart)
	cfg.PurgeGrace = l.Duration("CACHE_PURGE_GRACE", cfg.PurgeGrace, envconfig.ValidateNonNegativeDuration)
	cfg.LookbackDays = l.Int("CACHE_LOOKBACK_DAYS", cfg.LookbackDays, func(v int) error {
		return envconfig.ValidateIntRange(v, 0, 90)
	})

	return cfg
}

// ResolvedBackend returns the backend that will be used: the explicit
// choice if any, otherwise actions inside CI and filesystem elsewhere.
func (c CacheConfig) ResolvedBackend() string {
	if c.Backend != "" {
		return c.Backend
	}
	if c.InCI {
		return BackendActions
	}
	return BackendFileSystem
}

// Validate checks values a caller may have set directly.
func (c CacheConfig) Validate() error {
	if c.DefaultTTL < 0 || c.RecordTTL < 0 {
		return fmt.Errorf("cache TTLs must not be negative")
	}
	if c.PurgeGrace < 0 {
		return fmt.Errorf("CACHE_PURGE_GRACE must not be negative")
	}
	if err := validateKeyPart(c.KeyPrefix); err != nil {
		return fmt.Errorf("CACHE_KEY_PREFIX: %w", err)
	}
	if err := validateKeyPart(c.KeyVersion); err != nil {
		return fmt.Errorf("CACHE_KEY_VERSION: %w", err)
	}
	switch c.Backend {
	case "", BackendFileSystem, BackendActions, BackendPostgres:
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Backend)
	}
	return nil
}

func validateKeyPart(s string) error {
	if s == "" {
		return fmt.Errorf("cannot be empty")
	}
	if strings.ContainsAny(s, " ,/\\") {
		return fmt.Errorf("must not contain spaces, commas or slashes")
	}
	return nil
}
