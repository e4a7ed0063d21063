package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	envconfig "deprecations-feed/internal/pkg/config"
)

// WebhookConfig is one chat channel.
type WebhookConfig struct {
	Enabled    bool
	WebhookURL string
}

// NotifyConfig configures announcements of new and changed records.
type NotifyConfig struct {
	Discord WebhookConfig
	Slack   WebhookConfig

	// Timeout bounds one webhook request. Default: 30s
	Timeout time.Duration

	// MaxConcurrent bounds in-flight channel deliveries. Default: 10
	MaxConcurrent int

	// MaxPerRun caps notices sent per run so a first run over an empty
	// store does not flood the channels. Default: 20
	MaxPerRun int
}

// DefaultNotifyConfig returns a configuration with every channel disabled.
func DefaultNotifyConfig() NotifyConfig {
	return NotifyConfig{
		Timeout:       30 * time.Second,
		MaxConcurrent: 10,
		MaxPerRun:     20,
	}
}

// LoadNotifyConfig reads DISCORD_*, SLACK_* and NOTIFY_*. A channel whose
// webhook URL fails validation is disabled with a warning instead of
// failing startup.
func LoadNotifyConfig(l *envconfig.Loader, logger *slog.Logger) NotifyConfig {
	cfg := DefaultNotifyConfig()

	cfg.Discord = loadWebhook(l, logger, "DISCORD", validateDiscordWebhook)
	cfg.Slack = loadWebhook(l, logger, "SLACK", validateSlackWebhook)
	cfg.Timeout = l.Duration("NOTIFY_TIMEOUT", cfg.Timeout, envconfig.ValidatePositiveDuration)
	cfg.MaxConcurrent = l.Int("NOTIFY_MAX_CONCURRENT", cfg.MaxConcurrent, func(v int) error {
		return envconfig.ValidateIntRange(v, 1, 100)
	})
	cfg.MaxPerRun = l.Int("NOTIFY_MAX_PER_RUN", cfg.MaxPerRun, func(v int) error {
		return envconfig.ValidateIntRange(v, 0, 1000)
	})

	return cfg
}

func loadWebhook(l *envconfig.Loader, logger *slog.Logger, prefix string, validate func(string) error) WebhookConfig {
	if !l.Bool(prefix+"_ENABLED", false) {
		return WebhookConfig{}
	}
	raw := envconfig.LoadEnvString(prefix+"_WEBHOOK_URL", "")
	if err := validate(raw); err != nil {
		logger.Warn("invalid webhook URL, disabling notifications",
			slog.String("channel", strings.ToLower(prefix)),
			slog.Any("error", err))
		return WebhookConfig{}
	}
	return WebhookConfig{Enabled: true, WebhookURL: raw}
}

func validateDiscordWebhook(raw string) error {
	return validateWebhook(raw, "discord.com", "/api/webhooks/")
}

func validateSlackWebhook(raw string) error {
	return validateWebhook(raw, "hooks.slack.com", "/services/")
}

func validateWebhook(raw, host, pathPrefix string) error {
	if raw == "" {
		return fmt.Errorf("webhook URL is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse webhook URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("webhook URL must use https, got %q", u.Scheme)
	}
	if u.Host != host {
		return fmt.Errorf("webhook host must be %s, got %q", host, u.Host)
	}
	if !strings.HasPrefix(u.Path, pathPrefix) {
		return fmt.Errorf("webhook path must start with %s", pathPrefix)
	}
	return nil
}

// AnyEnabled reports whether at least one channel is configured.
func (c NotifyConfig) AnyEnabled() bool {
	return c.Discord.Enabled || c.Slack.Enabled
}
