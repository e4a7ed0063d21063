package enhancer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"deprecations-feed/internal/config"
	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/resilience/circuitbreaker"
)

// DefaultOpenAIModel is used when ENHANCER_MODEL is unset.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAI enhances records with the Chat Completions API.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
	caller    caller
}

// NewOpenAI creates an OpenAI enhancer.
func NewOpenAI(cfg config.EnhancerConfig, opts ...Option) *OpenAI {
	o := buildOptions(opts)

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.HTTPClient = o.httpClient
	if o.baseURL != "" {
		clientCfg.BaseURL = o.baseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	slog.Info("initialized openai enhancer",
		slog.String("model", model),
		slog.Int("max_tokens", cfg.MaxTokens))

	return &OpenAI{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		maxTokens: cfg.MaxTokens,
		caller:    newCaller("openai", cfg.Timeout, circuitbreaker.EnhancerConfig("openai"), o),
	}
}

// Name implements enhance.Enhancer.
func (o *OpenAI) Name() string { return "openai" }

// Enhance implements enhance.Enhancer.
func (o *OpenAI) Enhance(ctx context.Context, r entity.Record) (entity.Enhancement, error) {
	return o.caller.enhance(ctx, r, o.complete)
}

func (o *OpenAI) complete(ctx context.Context, prompt string) (string, error) {
	requestID := uuid.New().String()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		}},
	})
	if err != nil {
		slog.ErrorContext(ctx, "openai request failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", statusError("openai", apiErr.HTTPStatusCode, err)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return "", statusError("openai", reqErr.HTTPStatusCode, err)
		}
		return "", statusError("openai", 0, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai api returned no choices")
	}

	slog.DebugContext(ctx, "openai request completed",
		slog.String("request_id", requestID),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens))
	return resp.Choices[0].Message.Content, nil
}
