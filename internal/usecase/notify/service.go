// Package notify announces new and changed deprecation records on chat
// channels without blocking the collection run.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/resilience/circuitbreaker"
)

const (
	defaultPoolTimeout         = 5 * time.Second
	defaultNotificationTimeout = 30 * time.Second
)

// Service dispatches notices to every enabled channel.
type Service interface {
	// NotifyChanged queues notices for delivery and returns immediately.
	// Each channel receives the notices in order, one at a time. Failures
	// are logged and counted, never returned.
	NotifyChanged(ctx context.Context, notices []entity.Notice) error

	// Wait blocks until queued deliveries finish or ctx is done. Unlike
	// Shutdown it does not cancel anything.
	Wait(ctx context.Context) error

	// GetChannelHealth reports each channel's breaker state.
	GetChannelHealth() []ChannelHealthStatus

	// Shutdown cancels in-flight deliveries and waits for them to return.
	Shutdown(ctx context.Context) error
}

// ChannelHealthStatus is one channel's entry in the health endpoint.
type ChannelHealthStatus struct {
	Name               string `json:"name"`
	Enabled            bool   `json:"enabled"`
	CircuitBreakerOpen bool   `json:"circuit_breaker_open"`
}

// Options tunes a Service. Zero values take defaults.
type Options struct {
	MaxConcurrent int
	// MaxPerRun caps the notices taken from one NotifyChanged call.
	// Zero means no cap.
	MaxPerRun           int
	PoolTimeout         time.Duration
	NotificationTimeout time.Duration
	// Breakers defaults to one NotifyChannelConfig breaker per channel.
	Breakers *circuitbreaker.Registry
	Logger   *slog.Logger
}

type service struct {
	channels            []Channel
	workerPool          chan struct{}
	breakers            *circuitbreaker.Registry
	maxPerRun           int
	poolTimeout         time.Duration
	notificationTimeout time.Duration
	logger              *slog.Logger

	wg             sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// NewService returns a Service over channels.
func NewService(channels []Channel, opts Options) Service {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	if opts.PoolTimeout <= 0 {
		opts.PoolTimeout = defaultPoolTimeout
	}
	if opts.NotificationTimeout <= 0 {
		opts.NotificationTimeout = defaultNotificationTimeout
	}
	if opts.Breakers == nil {
		opts.Breakers = circuitbreaker.NewRegistry(circuitbreaker.NotifyChannelConfig)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	return &service{
		channels:            channels,
		workerPool:          make(chan struct{}, opts.MaxConcurrent),
		breakers:            opts.Breakers,
		maxPerRun:           opts.MaxPerRun,
		poolTimeout:         opts.PoolTimeout,
		notificationTimeout: opts.NotificationTimeout,
		logger:              opts.Logger,
		shutdownCtx:         shutdownCtx,
		shutdownCancel:      shutdownCancel,
	}
}

// NotifyChanged implements Service.
func (s *service) NotifyChanged(ctx context.Context, notices []entity.Notice) error {
	if len(notices) == 0 {
		return nil
	}

	enabled := make([]Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		if ch.IsEnabled() {
			enabled = append(enabled, ch)
		}
	}
	channelsEnabled.Set(float64(len(enabled)))
	if len(enabled) == 0 {
		return nil
	}

	requestID, _ := ctx.Value(requestIDKey).(string)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	logger := s.logger.With(slog.String("request_id", requestID))

	if s.shutdownCtx.Err() != nil {
		logger.Warn("notification service is shut down, dropping notices", slog.Int("notices", len(notices)))
		for _, ch := range enabled {
			recordDropped(ch.Name(), "shutdown", len(notices))
		}
		return nil
	}

	batch := notices
	if s.maxPerRun > 0 && len(batch) > s.maxPerRun {
		logger.Warn("too many notices for one run, sending the first ones only",
			slog.Int("notices", len(notices)),
			slog.Int("limit", s.maxPerRun))
		for _, ch := range enabled {
			recordDropped(ch.Name(), "run_limit", len(notices)-s.maxPerRun)
		}
		batch = notices[:s.maxPerRun]
	}

	logger.Info("dispatching notices",
		slog.Int("notices", len(batch)),
		slog.Int("enabled_channels", len(enabled)))

	for _, ch := range enabled {
		s.wg.Add(1)
		go s.notifyChannel(logger, ch, batch)
	}
	return nil
}

// notifyChannel delivers batch to one channel in order.
func (s *service) notifyChannel(logger *slog.Logger, channel Channel, batch []entity.Notice) {
	defer s.wg.Done()

	activeNotifications.Inc()
	defer activeNotifications.Dec()

	logger = logger.With(slog.String("channel", channel.Name()))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in notification channel",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	select {
	case s.workerPool <- struct{}{}:
		defer func() { <-s.workerPool }()
	case <-time.After(s.poolTimeout):
		logger.Warn("notices dropped: worker pool full", slog.Int("notices", len(batch)))
		recordDropped(channel.Name(), "pool_full", len(batch))
		return
	case <-s.shutdownCtx.Done():
		recordDropped(channel.Name(), "shutdown", len(batch))
		return
	}

	cb := s.breakers.Get(channel.Name())
	for i, notice := range batch {
		if s.shutdownCtx.Err() != nil {
			recordDropped(channel.Name(), "shutdown", len(batch)-i)
			return
		}
		if err := s.send(logger, cb, channel, notice); errors.Is(err, gobreaker.ErrOpenState) {
			logger.Warn("channel circuit breaker open, skipping remaining notices",
				slog.Int("skipped", len(batch)-i))
			recordDropped(channel.Name(), "circuit_open", len(batch)-i)
			return
		}
	}
}

// send delivers one notice through the channel's breaker.
func (s *service) send(logger *slog.Logger, cb *circuitbreaker.CircuitBreaker, channel Channel, notice entity.Notice) error {
	ctx, cancel := context.WithTimeout(s.shutdownCtx, s.notificationTimeout)
	defer cancel()

	wasOpen := cb.IsOpen()
	start := time.Now()
	recordDispatch(channel.Name())

	_, err := cb.Execute(func() (interface{}, error) {
		return nil, channel.Send(ctx, notice)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return gobreaker.ErrOpenState
	}

	duration := time.Since(start)
	recordResult(channel.Name(), duration, err)

	attrs := []any{
		slog.String("provider", notice.Record.Provider),
		slog.String("model", notice.Record.Model),
		slog.Duration("send_duration", duration),
	}
	if err != nil {
		logger.Warn("channel notification failed", append(attrs, slog.Any("error", err))...)
		if !wasOpen && cb.IsOpen() {
			logger.Error("circuit breaker opened for channel")
			recordCircuitBreakerOpen(channel.Name())
		}
		return err
	}
	logger.Info("channel notification sent", attrs...)
	return nil
}

// Wait implements Service.
func (s *service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetChannelHealth implements Service.
func (s *service) GetChannelHealth() []ChannelHealthStatus {
	statuses := make([]ChannelHealthStatus, 0, len(s.channels))
	for _, ch := range s.channels {
		statuses = append(statuses, ChannelHealthStatus{
			Name:               ch.Name(),
			Enabled:            ch.IsEnabled(),
			CircuitBreakerOpen: s.breakers.Get(ch.Name()).IsOpen(),
		})
	}
	return statuses
}

// Shutdown implements Service.
func (s *service) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down notification service")
	s.shutdownCancel()

	if err := s.Wait(ctx); err != nil {
		s.logger.Warn("notification service shutdown timeout")
		return err
	}
	s.logger.Info("notification service shutdown complete")
	return nil
}

type contextKey string

// requestIDKey lets callers thread their own request ID into the logs.
const requestIDKey contextKey = "request_id"

// WithRequestID returns ctx carrying id for NotifyChanged's logs.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}
