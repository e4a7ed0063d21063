package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:    attempts,
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// failing returns fn failing with errs in order, then succeeding.
func failing(calls *int, errs ...error) func() error {
	return func() error {
		*calls++
		if *calls <= len(errs) {
			return errs[*calls-1]
		}
		return nil
	}
}

func TestWithBackoff(t *testing.T) {
	serverErr := &HTTPError{StatusCode: http.StatusBadGateway, Message: "Bad Gateway"}
	notFound := &HTTPError{StatusCode: http.StatusNotFound, Message: "Not Found"}

	tests := []struct {
		name      string
		attempts  int
		errs      []error
		wantCalls int
		wantErr   error
		wantMsg   string
	}{
		{name: "first call succeeds", attempts: 3, wantCalls: 1},
		{name: "succeeds on the last attempt", attempts: 3, errs: []error{serverErr, serverErr}, wantCalls: 3},
		{
			name: "attempts exhausted", attempts: 2, errs: []error{serverErr, serverErr, serverErr},
			wantCalls: 2, wantErr: serverErr, wantMsg: "max retry attempts (2) exceeded",
		},
		{name: "non-retryable error stops at once", attempts: 3, errs: []error{notFound}, wantCalls: 1, wantErr: notFound},
		{name: "zero attempts still calls once", attempts: 0, errs: []error{serverErr}, wantCalls: 1, wantErr: serverErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := WithBackoff(context.Background(), fastConfig(tt.attempts), failing(&calls, tt.errs...))

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestWithBackoff_ContextCancelledWhileWaiting(t *testing.T) {
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := WithBackoff(ctx, cfg, failing(&calls, syscall.ECONNRESET, syscall.ECONNRESET))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "retry aborted")
	assert.Equal(t, 1, calls)
}

func TestWithBackoff_CustomRetryable(t *testing.T) {
	errFlaky := errors.New("flaky")
	cfg := fastConfig(3)
	cfg.Retryable = func(err error) bool { return errors.Is(err, errFlaky) }

	calls := 0
	require.NoError(t, WithBackoff(context.Background(), cfg, failing(&calls, errFlaky, errFlaky)))
	assert.Equal(t, 3, calls)
}

func TestWaitFor(t *testing.T) {
	limited := &HTTPError{StatusCode: http.StatusTooManyRequests, RetryAfter: 3 * time.Second}

	assert.Equal(t, time.Second, waitFor(errors.New("x"), time.Second, time.Minute))
	assert.Equal(t, 3*time.Second, waitFor(limited, time.Second, time.Minute))
	assert.Equal(t, 2*time.Second, waitFor(fmt.Errorf("wrapped: %w", limited), time.Second, 2*time.Second),
		"hint is capped at MaxDelay")
	assert.Equal(t, 5*time.Second, waitFor(limited, 5*time.Second, time.Minute), "shorter hint keeps the back-off")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), false},
		{&HTTPError{StatusCode: 500}, true},
		{&HTTPError{StatusCode: 503}, true},
		{&HTTPError{StatusCode: 429}, true},
		{&HTTPError{StatusCode: 408}, true},
		{&HTTPError{StatusCode: 400}, false},
		{&HTTPError{StatusCode: 404}, false},
		{syscall.ECONNREFUSED, true},
		{fmt.Errorf("dial: %w", syscall.ECONNRESET), true},
		{syscall.ETIMEDOUT, true},
		{syscall.ENETUNREACH, true},
		{errors.New("parse failure"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryable(tt.err), "IsRetryable(%v)", tt.err)
	}
}

func TestPolicies(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		attempts int
		initial  time.Duration
	}{
		{"collect task", CollectTaskConfig(), 2, 2 * time.Second},
		{"source fetch", SourceFetchConfig(), 3, time.Second},
		{"enhancer api", EnhancerAPIConfig(), 3, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.attempts, tt.cfg.MaxAttempts)
			assert.Equal(t, tt.initial, tt.cfg.InitialDelay)
			assert.Equal(t, 10*time.Second, tt.cfg.MaxDelay)
			assert.Nil(t, tt.cfg.Retryable)
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 120*time.Second, ParseRetryAfter("120", now))
	assert.Equal(t, 30*time.Second, ParseRetryAfter("Sat, 01 Mar 2025 12:00:30 GMT", now))
	assert.Zero(t, ParseRetryAfter("Sat, 01 Mar 2025 11:00:00 GMT", now), "past dates")
	assert.Zero(t, ParseRetryAfter("-5", now))
	assert.Zero(t, ParseRetryAfter("soon", now))
	assert.Zero(t, ParseRetryAfter("", now))
}

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{StatusCode: 503, Message: "Service Unavailable"}
	assert.Equal(t, "HTTP 503: Service Unavailable", err.Error())
}

func TestAddJitter(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := addJitter(base, 0.2)
		assert.GreaterOrEqual(t, got, base)
		assert.LessOrEqual(t, got, base+20*time.Millisecond)
	}
	assert.Equal(t, base, addJitter(base, 0))
	assert.LessOrEqual(t, addJitter(base, 5), 2*base, "fraction is capped at 1")
}
