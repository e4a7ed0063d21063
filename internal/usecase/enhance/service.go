// Package enhance annotates the records that changed during a run with
// generated reader-facing text.
package enhance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/observability/metrics"
	"deprecations-feed/internal/usecase/cache"
)

// Enhancer generates text for one record.
type Enhancer interface {
	Name() string
	Enhance(ctx context.Context, record entity.Record) (entity.Enhancement, error)
}

// Enhanced pairs a record with its enhancement.
type Enhanced struct {
	Record      entity.Record
	Enhancement entity.Enhancement
}

// Stats summarises one EnhanceChanged call.
type Stats struct {
	Requested int
	Cached    int
	Generated int
	Failed    int
	Duration  time.Duration
}

// Service runs an Enhancer over changed records with a read-through cache
// keyed by each record's full hash.
type Service struct {
	enhancer    Enhancer
	cache       *cache.Manager
	ttl         time.Duration
	parallelism int
}

// NewService creates a Service. ttl bounds how long generated text is kept;
// parallelism bounds concurrent enhancer calls.
func NewService(enhancer Enhancer, cm *cache.Manager, ttl time.Duration, parallelism int) *Service {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Service{enhancer: enhancer, cache: cm, ttl: ttl, parallelism: parallelism}
}

// Key is the cache key of the enhancement for record.
func Key(record entity.Record) string {
	return cache.GenerateKey(cache.PrefixEnhancements, record.FullHash(), nil)
}

// EnhanceChanged enhances every record in changed. Records whose content was
// already enhanced are served from the cache. An enhancer failure is logged
// and the record skipped; only cancellation aborts the call.
func (s *Service) EnhanceChanged(ctx context.Context, changed []entity.Record) ([]Enhanced, Stats, error) {
	logger := slog.Default()
	start := time.Now()
	stats := Stats{Requested: len(changed)}

	var mu sync.Mutex
	out := make([]Enhanced, 0, len(changed))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.parallelism)

	for _, record := range changed {
		record := record
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			producer := cache.ProducerFunc[entity.Enhancement](func(ctx context.Context) (entity.Enhancement, error) {
				return s.enhancer.Enhance(ctx, record)
			})
			enh, origin, err := cache.GetOrFetch[entity.Enhancement](egCtx, s.cache, Key(record), producer, s.ttl, false)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				stats.Failed++
				logger.Warn("failed to enhance record",
					slog.String("enhancer", s.enhancer.Name()),
					slog.String("provider", record.Provider),
					slog.String("model", record.Model),
					slog.Any("error", err))
				return nil
			}
			if origin == cache.OriginCache {
				stats.Cached++
				metrics.RecordEnhancementCacheHit()
			} else {
				stats.Generated++
			}
			out = append(out, Enhanced{Record: record, Enhancement: enh})
			return nil
		})
	}

	err := eg.Wait()
	stats.Duration = time.Since(start)
	logger.Info("enhancement completed",
		slog.String("enhancer", s.enhancer.Name()),
		slog.Int("requested", stats.Requested),
		slog.Int("cached", stats.Cached),
		slog.Int("generated", stats.Generated),
		slog.Int("failed", stats.Failed),
		slog.Duration("duration", stats.Duration))
	return out, stats, err
}

// Lookup returns the cached enhancement for record, if any.
func (s *Service) Lookup(ctx context.Context, record entity.Record) (entity.Enhancement, bool, error) {
	var enh entity.Enhancement
	ok, err := s.cache.Get(ctx, Key(record), &enh)
	return enh, ok, err
}
