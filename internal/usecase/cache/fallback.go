package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"deprecations-feed/internal/observability/metrics"
)

// Origin tells where a value returned by GetWithFallback came from.
type Origin int

const (
	// OriginNone means no value was returned.
	OriginNone Origin = iota
	// OriginFresh means the producer supplied the value on this call.
	OriginFresh
	// OriginCache means a live cached value was served without calling the producer.
	OriginCache
	// OriginStale means the producer failed and an expired value was served.
	OriginStale
)

// String returns the lowercase origin name.
func (o Origin) String() string {
	switch o {
	case OriginFresh:
		return "fresh"
	case OriginCache:
		return "cache"
	case OriginStale:
		return "stale"
	default:
		return "none"
	}
}

// Producer supplies a fresh value. It may fail.
type Producer[T any] interface {
	Produce(ctx context.Context) (T, error)
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc[T any] func(ctx context.Context) (T, error)

// Produce calls f.
func (f ProducerFunc[T]) Produce(ctx context.Context) (T, error) { return f(ctx) }

// GetWithFallback calls producer and stores its result under key with ttl.
// When the producer fails and useStale is set, the last stored value is
// returned even if it has expired; errors while reading that value are
// logged and treated as a miss. Without a stale value the producer error is
// returned. With useStale unset the cache is not read at all.
//
// Concurrent calls for the same key share one producer call. The shared call
// runs with the context of the caller that started it.
func GetWithFallback[T any](ctx context.Context, m *Manager, key string, producer Producer[T], ttl time.Duration, useStale bool) (T, Origin, error) {
	var zero T

	v, err, _ := m.flight.Do(key, func() (interface{}, error) {
		fresh, err := producer.Produce(ctx)
		if err != nil {
			return nil, err
		}
		if err := m.SaveWithTTL(ctx, key, fresh, ttl); err != nil {
			m.logger.Warn("failed to persist fresh value",
				slog.String("key", key),
				slog.Any("error", err))
		}
		return fresh, nil
	})
	if err == nil {
		if v == nil {
			// T is an interface type and the producer returned nil.
			return zero, OriginFresh, nil
		}
		fresh, ok := v.(T)
		if !ok {
			return zero, OriginNone, fmt.Errorf("cache key %q shared by producers of different types", key)
		}
		return fresh, OriginFresh, nil
	}

	metrics.RecordCacheLookup(metrics.CacheFetchFailure)
	if !useStale {
		return zero, OriginNone, err
	}

	var stale T
	ok, readErr := m.GetStale(ctx, key, &stale)
	if readErr != nil {
		m.logger.Warn("stale cache read failed",
			slog.String("key", key),
			slog.Any("error", readErr))
		return zero, OriginNone, err
	}
	if !ok {
		return zero, OriginNone, err
	}

	metrics.RecordCacheLookup(metrics.CacheStale)
	m.logger.Warn("serving stale value after fetch failure",
		slog.String("key", key),
		slog.Any("error", err))
	return stale, OriginStale, nil
}

// GetOrFetch serves a live cached value when one exists and otherwise
// behaves like GetWithFallback. A cache read error is logged and the
// producer is called.
func GetOrFetch[T any](ctx context.Context, m *Manager, key string, producer Producer[T], ttl time.Duration, useStale bool) (T, Origin, error) {
	var cached T
	ok, err := m.Get(ctx, key, &cached)
	if err != nil {
		m.logger.Warn("cache read failed, fetching fresh value",
			slog.String("key", key),
			slog.Any("error", err))
	}
	if ok {
		return cached, OriginCache, nil
	}
	return GetWithFallback(ctx, m, key, producer, ttl, useStale)
}
