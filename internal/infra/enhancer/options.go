// Package enhancer implements record enhancers backed by hosted language
// models. Every call goes through a circuit breaker and retry with backoff.
package enhancer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"deprecations-feed/internal/config"
	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/observability/tracing"
	"deprecations-feed/internal/resilience/circuitbreaker"
	"deprecations-feed/internal/resilience/retry"
	"deprecations-feed/internal/usecase/enhance"
)

// ErrCircuitOpen is returned while the provider's breaker rejects requests.
var ErrCircuitOpen = errors.New("enhancer unavailable: circuit breaker open")

type options struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Config
	breaker    *circuitbreaker.Config
	metrics    MetricsRecorder
	now        func() time.Time
}

// Option customises an enhancer.
type Option func(*options)

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithRetryConfig replaces the retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(o *options) { o.retry = cfg }
}

// WithBreakerConfig replaces the circuit breaker policy.
func WithBreakerConfig(cfg circuitbreaker.Config) Option {
	return func(o *options) { o.breaker = &cfg }
}

// WithMetrics replaces the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces the clock used to stamp enhancements.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{
		httpClient: &http.Client{Transport: tracing.Transport(http.DefaultTransport)},
		retry:      retry.EnhancerAPIConfig(),
		metrics:    NewPrometheusMetrics(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// caller runs one provider request with timeout, breaker, retry and metrics.
type caller struct {
	provider string
	timeout  time.Duration
	breaker  *circuitbreaker.CircuitBreaker
	retry    retry.Config
	metrics  MetricsRecorder
	now      func() time.Time
}

func newCaller(provider string, timeout time.Duration, defaultBreaker circuitbreaker.Config, o options) caller {
	cfg := defaultBreaker
	if o.breaker != nil {
		cfg = *o.breaker
	}
	return caller{
		provider: provider,
		timeout:  timeout,
		breaker:  circuitbreaker.New(cfg),
		retry:    o.retry,
		metrics:  o.metrics,
		now:      o.now,
	}
}

// enhance sends prompt through complete and parses the reply.
func (c caller) enhance(ctx context.Context, r entity.Record, complete func(ctx context.Context, prompt string) (string, error)) (entity.Enhancement, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	prompt := BuildPrompt(r)
	var enh entity.Enhancement

	err := retry.WithBackoff(ctx, c.retry, func() error {
		start := time.Now()
		out, err := c.breaker.Execute(func() (interface{}, error) {
			return complete(ctx, prompt)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				slog.Warn("enhancer circuit breaker open, request rejected",
					slog.String("provider", c.provider),
					slog.String("state", c.breaker.State().String()))
				return ErrCircuitOpen
			}
			c.metrics.RecordRequest(c.provider, false, time.Since(start))
			return err
		}

		parsed, err := ParseResponse(out.(string))
		c.metrics.RecordRequest(c.provider, err == nil, time.Since(start))
		if err != nil {
			return err
		}
		enh = parsed
		return nil
	})
	if err != nil {
		return entity.Enhancement{}, fmt.Errorf("%s enhance %s/%s: %w", c.provider, r.Provider, r.Model, err)
	}

	enh.Generator = c.provider
	enh.GeneratedAt = c.now().UTC()
	return enh, nil
}

// statusError lets retry.IsRetryable see the HTTP status of a provider error.
func statusError(provider string, status int, err error) error {
	if status == 0 {
		return fmt.Errorf("%s api error: %w", provider, err)
	}
	return fmt.Errorf("%s api error: %w", provider, &retry.HTTPError{StatusCode: status, Message: err.Error()})
}

// New builds the enhancer cfg selects. It returns nil when enhancement is
// disabled.
func New(cfg config.EnhancerConfig, opts ...Option) (enhance.Enhancer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case config.EnhancerTemplate:
		return NewTemplate(opts...), nil
	case config.EnhancerClaude:
		return NewClaude(cfg, opts...), nil
	case config.EnhancerOpenAI:
		return NewOpenAI(cfg, opts...), nil
	default:
		return nil, nil
	}
}
