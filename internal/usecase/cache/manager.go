// Package cache layers read-through and stale-fallback semantics over a
// storage.Backend. Values are stored as JSON; the backend is chosen by the
// caller and injected at construction.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/infra/storage"
	"deprecations-feed/internal/observability/metrics"
)

// Default TTLs.
const (
	DefaultTTL       = 24 * time.Hour
	DefaultRecordTTL = 48 * time.Hour
)

// Options configures a Manager. Zero values take the defaults.
type Options struct {
	// DefaultTTL applies to Save.
	DefaultTTL time.Duration
	// RecordTTL applies to dated record snapshots.
	RecordTTL time.Duration
	// UseStaleOnError is the process-wide default for stale fallback.
	UseStaleOnError bool
	Now             func() time.Time
	Logger          *slog.Logger
}

// Manager provides typed cache access over a storage backend.
// It is safe for concurrent use.
type Manager struct {
	backend storage.Backend
	opts    Options
	logger  *slog.Logger
	flight  singleflight.Group
}

// NewManager creates a Manager over backend.
func NewManager(backend storage.Backend, opts Options) *Manager {
	if opts.DefaultTTL == 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.RecordTTL == 0 {
		opts.RecordTTL = DefaultRecordTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{backend: backend, opts: opts, logger: logger}
}

// Backend returns the underlying storage backend.
func (m *Manager) Backend() storage.Backend { return m.backend }

// UseStaleOnError reports the configured stale fallback default.
func (m *Manager) UseStaleOnError() bool { return m.opts.UseStaleOnError }

// Save stores v under key with the default TTL.
func (m *Manager) Save(ctx context.Context, key string, v any) error {
	return m.SaveWithTTL(ctx, key, v, m.opts.DefaultTTL)
}

// SaveWithTTL stores v under key with ttl. storage.NoExpiry never expires.
func (m *Manager) SaveWithTTL(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache value %q: %w", key, err)
	}
	return m.backend.Put(ctx, key, data, ttl)
}

// Get decodes the live value under key into out. It reports false on a miss
// or an expired entry. Storage errors are returned to the caller.
func (m *Manager) Get(ctx context.Context, key string, out any) (bool, error) {
	data, ok, err := m.backend.Get(ctx, key)
	if err != nil {
		metrics.RecordCacheLookup(metrics.CacheError)
		return false, err
	}
	if !ok {
		metrics.RecordCacheLookup(metrics.CacheMiss)
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		metrics.RecordCacheLookup(metrics.CacheError)
		return false, fmt.Errorf("decode cache value %q: %w", key, err)
	}
	metrics.RecordCacheLookup(metrics.CacheHit)
	return true, nil
}

// GetStale decodes the value under key into out regardless of expiry.
func (m *Manager) GetStale(ctx context.Context, key string, out any) (bool, error) {
	data, ok, err := m.backend.GetStale(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode cache value %q: %w", key, err)
	}
	return true, nil
}

// Delete removes key.
func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.backend.Delete(ctx, key)
}

// Purge removes entries that expired more than grace ago.
func (m *Manager) Purge(ctx context.Context, grace time.Duration) (int, error) {
	n, err := m.backend.Purge(ctx, grace)
	if n > 0 {
		metrics.RecordCachePurge(n)
	}
	return n, err
}

// SaveRecords stores a provider's records for date with the record TTL.
func (m *Manager) SaveRecords(ctx context.Context, provider string, date time.Time, records []entity.Record) error {
	if records == nil {
		records = []entity.Record{}
	}
	return m.SaveWithTTL(ctx, RecordsKey(provider, date), records, m.opts.RecordTTL)
}

// GetRecords returns a provider's live records for date.
func (m *Manager) GetRecords(ctx context.Context, provider string, date time.Time) ([]entity.Record, bool, error) {
	var records []entity.Record
	ok, err := m.Get(ctx, RecordsKey(provider, date), &records)
	if err != nil || !ok {
		return nil, false, err
	}
	return records, true, nil
}

// LatestRecords walks back from date one day at a time, at most maxAgeDays
// days, and returns the first live snapshot found together with its day.
func (m *Manager) LatestRecords(ctx context.Context, provider string, date time.Time, maxAgeDays int) ([]entity.Record, time.Time, bool, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	for i := 0; i < maxAgeDays; i++ {
		if err := ctx.Err(); err != nil {
			return nil, time.Time{}, false, err
		}
		check := day.AddDate(0, 0, -i)
		records, ok, err := m.GetRecords(ctx, provider, check)
		if err != nil {
			return nil, time.Time{}, false, err
		}
		if ok {
			return records, check, true, nil
		}
	}
	return nil, time.Time{}, false, nil
}

// GetAll fetches the snapshot for date of every provider. Providers without
// a snapshot are omitted; a read error for one provider is logged and the
// provider omitted.
func (m *Manager) GetAll(ctx context.Context, providers []string, date time.Time) (map[string][]entity.Record, error) {
	out := make(map[string][]entity.Record, len(providers))
	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		records, ok, err := m.GetRecords(ctx, p, date)
		if err != nil {
			m.logger.Warn("failed to read provider snapshot",
				slog.String("provider", p),
				slog.Any("error", err))
			continue
		}
		if ok {
			out[p] = records
		}
	}
	return out, nil
}

// Providers lists the providers that have a live snapshot for date.
func (m *Manager) Providers(ctx context.Context, date time.Time) ([]string, error) {
	suffix := ":" + date.UTC().Format(dateLayout)
	keys, err := m.backend.List(ctx, PrefixDeprecations+":*"+suffix)
	if err != nil {
		return nil, err
	}
	providers := make([]string, 0, len(keys))
	for _, k := range keys {
		p := k[len(PrefixDeprecations)+1 : len(k)-len(suffix)]
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers, nil
}
