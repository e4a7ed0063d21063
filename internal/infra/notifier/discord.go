package notifier

import (
	"context"
	"time"

	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/utils/text"
)

// DiscordConfig configures the Discord webhook channel.
type DiscordConfig struct {
	Enabled    bool
	WebhookURL string
	Timeout    time.Duration
}

// Discord embed limits.
const (
	maxTitleLength       = 256
	maxDescriptionLength = 4096
	maxFieldValueLength  = 1024
)

// Embed colours by urgency.
const (
	discordRedColor    = 15548997 // retired or retiring within the warning window
	discordYellowColor = 16705372
	discordBlueColor   = 5793266
)

// urgentDays and soonDays bound the red and yellow colour bands.
const (
	urgentDays = 30
	soonDays   = 90
)

type DiscordWebhookPayload struct {
	Embeds []DiscordEmbed `json:"embeds"`
}

type DiscordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	URL         string              `json:"url,omitempty"`
	Color       int                 `json:"color"`
	Fields      []DiscordEmbedField `json:"fields,omitempty"`
	Footer      DiscordEmbedFooter  `json:"footer"`
	Timestamp   string              `json:"timestamp"`
}

type DiscordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type DiscordEmbedFooter struct {
	Text string `json:"text"`
}

// DiscordNotifier posts one embed per notice.
// Discord allows 30 requests a minute per webhook.
type DiscordNotifier struct {
	hook *webhook
	now  func() time.Time
}

func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		hook: newWebhook("Discord", config.WebhookURL, config.Timeout, 0.5, 3),
		now:  time.Now,
	}
}

func (d *DiscordNotifier) buildEmbedPayload(n entity.Notice) DiscordWebhookPayload {
	embed := DiscordEmbed{
		Title:       text.Truncate(n.Title(), maxTitleLength),
		Description: text.Truncate(noticeBody(n), maxDescriptionLength),
		URL:         n.Record.SourceURL,
		Color:       urgencyColor(n.DaysUntilRetirement(d.now())),
		Fields: []DiscordEmbedField{
			{Name: "Deprecated", Value: dateOnly(n.Record.DeprecationDate), Inline: true},
			{Name: "Retires", Value: dateOnly(n.Record.RetirementDate), Inline: true},
			{Name: "Replacement", Value: text.Truncate(noticeReplacement(n), maxFieldValueLength), Inline: true},
		},
		Footer:    DiscordEmbedFooter{Text: n.Record.Provider},
		Timestamp: n.Record.LastUpdated.UTC().Format(time.RFC3339),
	}
	return DiscordWebhookPayload{Embeds: []DiscordEmbed{embed}}
}

func urgencyColor(days int) int {
	switch {
	case days <= urgentDays:
		return discordRedColor
	case days <= soonDays:
		return discordYellowColor
	default:
		return discordBlueColor
	}
}

// Notify implements Notifier.
func (d *DiscordNotifier) Notify(ctx context.Context, notice entity.Notice) error {
	return d.hook.deliver(ctx, notice, d.buildEmbedPayload(notice))
}
