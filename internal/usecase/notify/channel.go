package notify

import (
	"context"

	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/infra/notifier"
)

// Channel is one destination for notices.
type Channel interface {
	Name() string
	IsEnabled() bool
	Send(ctx context.Context, notice entity.Notice) error
}

// WebhookChannel adapts a notifier.Notifier to Channel.
type WebhookChannel struct {
	name     string
	notifier notifier.Notifier
	enabled  bool
}

// NewDiscordChannel returns the Discord channel. A disabled config yields a
// channel backed by notifier.Discard.
func NewDiscordChannel(config notifier.DiscordConfig) *WebhookChannel {
	n := notifier.Discard
	if config.Enabled {
		n = notifier.NewDiscordNotifier(config)
	}
	return &WebhookChannel{name: "discord", notifier: n, enabled: config.Enabled}
}

// NewSlackChannel returns the Slack channel.
func NewSlackChannel(config notifier.SlackConfig) *WebhookChannel {
	n := notifier.Discard
	if config.Enabled {
		n = notifier.NewSlackNotifier(config)
	}
	return &WebhookChannel{name: "slack", notifier: n, enabled: config.Enabled}
}

func (c *WebhookChannel) Name() string {
	return c.name
}

func (c *WebhookChannel) IsEnabled() bool {
	return c.enabled
}

func (c *WebhookChannel) Send(ctx context.Context, notice entity.Notice) error {
	if !c.enabled {
		return ErrChannelDisabled
	}
	if notice.Record.Provider == "" || notice.Record.Model == "" {
		return ErrInvalidNotice
	}
	return c.notifier.Notify(ctx, notice)
}
