package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/resilience/retry"
)

const (
	defaultMaxAttempts = 2
	defaultBaseDelay   = 5 * time.Second
	defaultRetryAfter  = 5 * time.Second
)

// StatusError is a non-2xx webhook response.
type StatusError struct {
	Channel    string
	StatusCode int
	Body       string
	// RetryAfter is set for 429 responses.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.RateLimited() {
		return fmt.Sprintf("%s rate limit exceeded (retry after %v)", e.Channel, e.RetryAfter)
	}
	return fmt.Sprintf("%s webhook returned %d: %s", e.Channel, e.StatusCode, e.Body)
}

func (e *StatusError) RateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// Temporary reports whether another attempt may succeed. 5xx responses are;
// other 4xx are not.
func (e *StatusError) Temporary() bool { return e.StatusCode >= 500 }

// shouldRetry treats transport errors as temporary.
func shouldRetry(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

// webhook posts JSON payloads to one incoming-webhook URL through a token
// bucket and a bounded retry loop. Discord and Slack differ only in payload
// shape and limits.
type webhook struct {
	channel     string
	url         string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
	now         func() time.Time
}

func newWebhook(channel, url string, timeout time.Duration, perSecond float64, burst int) *webhook {
	return &webhook{
		channel:     channel,
		url:         url,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Limit(perSecond), burst),
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		now:         time.Now,
	}
}

// retryAfter reads the back-off from a Discord style JSON body
// (retry_after in fractional seconds), then the Retry-After header.
func (w *webhook) retryAfter(resp *http.Response, body []byte) time.Duration {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.RetryAfter > 0 {
		return time.Duration(payload.RetryAfter * float64(time.Second))
	}
	if d := retry.ParseRetryAfter(resp.Header.Get("Retry-After"), w.now()); d > 0 {
		return d
	}
	return defaultRetryAfter
}

// post sends payload once.
func (w *webhook) post(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", w.channel, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	se := &StatusError{Channel: w.channel, StatusCode: resp.StatusCode, Body: string(body)}
	if se.RateLimited() {
		se.RetryAfter = w.retryAfter(resp, body)
	}
	return se
}

// deliver waits for a token and posts payload. A 429 waits out the server's
// delay, server and transport errors back off linearly, and client errors
// fail at once.
func (w *webhook) deliver(ctx context.Context, notice entity.Notice, payload any) error {
	logger := slog.Default().With(
		slog.String("request_id", uuid.NewString()),
		slog.String("channel", w.channel),
		slog.String("provider", notice.Record.Provider),
		slog.String("model", notice.Record.Model),
	)

	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limiter: %w", w.channel, err)
	}

	var err error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err = w.post(ctx, payload); err == nil {
			logger.Info("notification delivered", slog.Int("attempt", attempt))
			return nil
		}

		var wait time.Duration
		var se *StatusError
		switch {
		case errors.As(err, &se) && se.RateLimited():
			wait = se.RetryAfter
			logger.Warn("rate limited, backing off",
				slog.Duration("retry_after", wait),
				slog.Int("attempt", attempt))
		case !shouldRetry(err):
			logger.Error("notification rejected", slog.Any("error", err))
			return err
		case attempt < w.maxAttempts:
			wait = w.baseDelay * time.Duration(attempt)
			logger.Warn("webhook request failed, retrying",
				slog.Any("error", err),
				slog.Int("attempt", attempt),
				slog.Duration("delay", wait))
		}
		if attempt == w.maxAttempts {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s delivery cancelled during back-off: %w", w.channel, ctx.Err())
		}
	}

	logger.Error("notification failed after all attempts",
		slog.Any("error", err),
		slog.Int("max_attempts", w.maxAttempts))
	return fmt.Errorf("%s notification failed after %d attempts: %w", w.channel, w.maxAttempts, err)
}
