package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"deprecations-feed/internal/infra/db"
	"deprecations-feed/internal/resilience/circuitbreaker"
)

// Postgres stores entries in the cache_entries table. Expiry is evaluated in
// Go with the backend clock, the same way as on the filesystem, so both
// variants agree on when an entry expires.
type Postgres struct {
	db  *circuitbreaker.DBCircuitBreaker
	now func() time.Time
}

// NewPostgres wraps conn with a circuit breaker. Call Migrate once before use.
func NewPostgres(conn *sql.DB, opts ...Option) *Postgres {
	o := applyOptions(opts)
	return &Postgres{db: circuitbreaker.NewDBCircuitBreaker(conn), now: o.now}
}

// Migrate creates the cache_entries table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	return wrapErr("migrate", "", db.MigrateUp(ctx, p.db.DB()))
}

// Put implements Backend. The upsert is a single statement, so readers see
// either the previous or the new row.
func (p *Postgres) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := checkKey("put", key); err != nil {
		return err
	}
	const query = `
INSERT INTO cache_entries (key, data, created_at, ttl_seconds)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE
SET data = EXCLUDED.data, created_at = EXCLUDED.created_at, ttl_seconds = EXCLUDED.ttl_seconds`

	entry := NewEntry(key, value, ttl, p.now())
	if value == nil {
		entry.Data = []byte{}
	}
	_, err := p.db.ExecContext(ctx, query, entry.Key, entry.Data, entry.CreatedAt, entry.TTL)
	return wrapErr("put", key, err)
}

// Get implements Backend.
func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, ok, err := p.entry(ctx, "get", key)
	if err != nil || !ok {
		return nil, false, err
	}
	if entry.Expired(p.now()) {
		return nil, false, nil
	}
	return entry.Data, true, nil
}

// GetStale implements Backend.
func (p *Postgres) GetStale(ctx context.Context, key string) ([]byte, bool, error) {
	entry, ok, err := p.entry(ctx, "get_stale", key)
	if err != nil || !ok {
		return nil, false, err
	}
	return entry.Data, true, nil
}

func (p *Postgres) entry(ctx context.Context, op, key string) (Entry, bool, error) {
	if err := checkKey(op, key); err != nil {
		return Entry{}, false, err
	}
	const query = `
SELECT data, created_at, ttl_seconds
FROM cache_entries
WHERE key = $1`

	entry := Entry{Key: key}
	err := p.db.QueryRowScan(ctx, query, []interface{}{key}, &entry.Data, &entry.CreatedAt, &entry.TTL)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, wrapErr(op, key, err)
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, true, nil
}

// Delete implements Backend.
func (p *Postgres) Delete(ctx context.Context, key string) error {
	if err := checkKey("delete", key); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = $1`, key)
	return wrapErr("delete", key, err)
}

// List implements Backend.
func (p *Postgres) List(ctx context.Context, pattern string) ([]string, error) {
	const query = `
SELECT key, created_at, ttl_seconds
FROM cache_entries
ORDER BY key ASC`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapErr("list", "", err)
	}
	defer func() { _ = rows.Close() }()

	now := p.now()
	var keys []string
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.Key, &entry.CreatedAt, &entry.TTL); err != nil {
			return nil, wrapErr("list", "", fmt.Errorf("scan: %w", err))
		}
		if entry.Expired(now) {
			continue
		}
		ok, err := MatchKey(pattern, entry.Key)
		if err != nil {
			return nil, wrapErr("list", "", err)
		}
		if ok {
			keys = append(keys, entry.Key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list", "", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear implements Backend.
func (p *Postgres) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	return wrapErr("clear", "", err)
}

// Purge implements Backend.
func (p *Postgres) Purge(ctx context.Context, grace time.Duration) (int, error) {
	const query = `
DELETE FROM cache_entries
WHERE ttl_seconds >= 0
  AND created_at + make_interval(secs => ttl_seconds + $1::double precision) <= $2`

	res, err := p.db.ExecContext(ctx, query, grace.Seconds(), p.now().UTC())
	if err != nil {
		return 0, wrapErr("purge", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("purge", "", err)
	}
	return int(n), nil
}

// Breaker exposes the circuit breaker state for health reporting.
func (p *Postgres) Breaker() *circuitbreaker.DBCircuitBreaker {
	return p.db
}
