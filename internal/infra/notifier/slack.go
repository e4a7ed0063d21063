package notifier

import (
	"context"
	"fmt"
	"time"

	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/utils/text"
)

// SlackConfig configures the Slack incoming-webhook channel.
type SlackConfig struct {
	Enabled    bool
	WebhookURL string
	Timeout    time.Duration
}

// Block Kit limits.
const (
	maxSectionTextLength = 3000
	maxContextTextLength = 2000
	maxFallbackLength    = 150
)

type SlackWebhookPayload struct {
	Text   string       `json:"text"`
	Blocks []SlackBlock `json:"blocks"`
}

type SlackBlock struct {
	Type     string            `json:"type"`
	Text     *SlackTextObject  `json:"text,omitempty"`
	Elements []SlackTextObject `json:"elements,omitempty"`
}

type SlackTextObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SlackNotifier posts a section and a context block per notice.
type SlackNotifier struct {
	hook *webhook
}

func NewSlackNotifier(config SlackConfig) *SlackNotifier {
	return &SlackNotifier{
		hook: newWebhook("Slack", config.WebhookURL, config.Timeout, 1.0, 1),
	}
}

func (s *SlackNotifier) buildBlockKitPayload(n entity.Notice) SlackWebhookPayload {
	title := n.Title()
	heading := "*" + title + "*"
	if n.Record.SourceURL != "" {
		heading = fmt.Sprintf("*<%s|%s>*", n.Record.SourceURL, title)
	}

	section := heading
	if body := noticeBody(n); body != "" {
		section += "\n\n" + body
	}

	footer := fmt.Sprintf("%s • deprecated %s • replacement: %s",
		n.Record.Provider, dateOnly(n.Record.DeprecationDate), noticeReplacement(n))

	return SlackWebhookPayload{
		Text: text.Truncate(title, maxFallbackLength),
		Blocks: []SlackBlock{
			{
				Type: "section",
				Text: &SlackTextObject{Type: "mrkdwn", Text: text.Truncate(section, maxSectionTextLength)},
			},
			{
				Type:     "context",
				Elements: []SlackTextObject{{Type: "mrkdwn", Text: text.Truncate(footer, maxContextTextLength)}},
			},
		},
	}
}

// Notify implements Notifier.
func (s *SlackNotifier) Notify(ctx context.Context, notice entity.Notice) error {
	return s.hook.deliver(ctx, notice, s.buildBlockKitPayload(notice))
}
