package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	envconfig "deprecations-feed/internal/pkg/config"
)

// Enhancer types accepted by ENHANCER_TYPE.
const (
	EnhancerNone     = "none"
	EnhancerTemplate = "template"
	EnhancerClaude   = "claude"
	EnhancerOpenAI   = "openai"
)

// EnhancerConfig configures the optional step that annotates changed records.
type EnhancerConfig struct {
	// Type selects the implementation. Default: none
	Type string

	// APIKey is ANTHROPIC_API_KEY or OPENAI_API_KEY depending on Type.
	APIKey string

	// Model overrides the provider's default model.
	Model string

	// MaxTokens bounds a single response. Default: 512
	MaxTokens int

	// Parallelism bounds concurrent requests. Default: 3
	Parallelism int

	// Timeout bounds a single request. Default: 60s
	Timeout time.Duration

	// CacheTTL is how long an enhancement stays cached. Default: 30 days
	CacheTTL time.Duration
}

// DefaultEnhancerConfig returns a disabled enhancer.
func DefaultEnhancerConfig() EnhancerConfig {
	return EnhancerConfig{
		Type:        EnhancerNone,
		MaxTokens:   512,
		Parallelism: 3,
		Timeout:     60 * time.Second,
		CacheTTL:    30 * 24 * time.Hour,
	}
}

// LoadEnhancerConfig reads ENHANCER_* and the provider API key.
func LoadEnhancerConfig(l *envconfig.Loader) EnhancerConfig {
	cfg := DefaultEnhancerConfig()

	cfg.Type = strings.ToLower(l.String("ENHANCER_TYPE", cfg.Type,
		envconfig.ValidateOneOf(EnhancerNone, EnhancerTemplate, EnhancerClaude, EnhancerOpenAI)))
	switch cfg.Type {
	case EnhancerClaude:
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case EnhancerOpenAI:
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg.Model = envconfig.LoadEnvString("ENHANCER_MODEL", "")
	cfg.MaxTokens = l.Int("ENHANCER_MAX_TOKENS", cfg.MaxTokens, func(v int) error {
		return envconfig.ValidateIntRange(v, 64, 8192)
	})
	cfg.Parallelism = l.Int("ENHANCER_PARALLELISM", cfg.Parallelism, func(v int) error {
		return envconfig.ValidateIntRange(v, 1, 20)
	})
	cfg.Timeout = l.Duration("ENHANCER_TIMEOUT", cfg.Timeout, envconfig.ValidatePositiveDuration)
	cfg.CacheTTL = l.Duration("ENHANCER_CACHE_TTL", cfg.CacheTTL, envconfig.ValidatePositiveDuration)

	return cfg
}

// Enabled reports whether an external enhancer is configured.
func (c EnhancerConfig) Enabled() bool {
	return c.Type != "" && c.Type != EnhancerNone
}

// Validate requires an API key for the external enhancers.
func (c EnhancerConfig) Validate() error {
	switch c.Type {
	case "", EnhancerNone, EnhancerTemplate:
		return nil
	case EnhancerClaude:
		if c.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when ENHANCER_TYPE=claude")
		}
	case EnhancerOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when ENHANCER_TYPE=openai")
		}
	default:
		return fmt.Errorf("unknown ENHANCER_TYPE %q", c.Type)
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("ENHANCER_PARALLELISM must be positive")
	}
	return nil
}
