package enhancer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"deprecations-feed/internal/config"
	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/resilience/circuitbreaker"
)

// DefaultClaudeModel is used when ENHANCER_MODEL is unset.
const DefaultClaudeModel = string(anthropic.ModelClaudeSonnet4_5_20250929)

// Claude enhances records with Anthropic's Messages API.
type Claude struct {
	client    anthropic.Client
	model     string
	maxTokens int
	caller    caller
}

// NewClaude creates a Claude enhancer. SDK-level retries are disabled so
// retry.WithBackoff owns the retry policy.
func NewClaude(cfg config.EnhancerConfig, opts ...Option) *Claude {
	o := buildOptions(opts)

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(o.httpClient),
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultClaudeModel
	}

	slog.Info("initialized claude enhancer",
		slog.String("model", model),
		slog.Int("max_tokens", cfg.MaxTokens))

	return &Claude{
		client:    anthropic.NewClient(reqOpts...),
		model:     model,
		maxTokens: cfg.MaxTokens,
		caller:    newCaller("claude", cfg.Timeout, circuitbreaker.EnhancerConfig("claude"), o),
	}
}

// Name implements enhance.Enhancer.
func (c *Claude) Name() string { return "claude" }

// Enhance implements enhance.Enhancer.
func (c *Claude) Enhance(ctx context.Context, r entity.Record) (entity.Enhancement, error) {
	return c.caller.enhance(ctx, r, c.complete)
}

func (c *Claude) complete(ctx context.Context, prompt string) (string, error) {
	requestID := uuid.New().String()

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(prompt),
			),
		},
	})
	if err != nil {
		slog.ErrorContext(ctx, "claude request failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", statusError("claude", apiErr.StatusCode, err)
		}
		return "", statusError("claude", 0, err)
	}

	if len(message.Content) == 0 {
		return "", fmt.Errorf("claude api returned empty response")
	}
	block, ok := message.Content[0].AsAny().(anthropic.TextBlock)
	if !ok {
		return "", fmt.Errorf("claude api returned unexpected response type")
	}

	slog.DebugContext(ctx, "claude request completed",
		slog.String("request_id", requestID),
		slog.Int64("output_tokens", message.Usage.OutputTokens))
	return block.Text, nil
}
