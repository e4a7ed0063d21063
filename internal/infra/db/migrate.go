package db

import (
	"context"
	"database/sql"
)

// CacheEntriesTable holds one row per storage key for the Postgres backend.
const CacheEntriesTable = "cache_entries"

// MigrateUp creates the schema used by the Postgres storage backend.
// Every statement is idempotent, so it is safe to run on each start.
func MigrateUp(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS cache_entries (
    key         TEXT PRIMARY KEY,
    data        BYTEA NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    ttl_seconds BIGINT NOT NULL DEFAULT -1
)`); err != nil {
		return err
	}

	indexes := []string{
		// purge scans by creation time
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_created_at ON cache_entries(created_at)`,
		// key prefix listing (records:, snapshots:, http:)
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_key_prefix ON cache_entries(key text_pattern_ops)`,
	}
	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return err
		}
	}

	return nil
}

// MigrateDown drops the cache schema.
// Use with caution: this deletes every cached entry and the stored records.
func MigrateDown(ctx context.Context, db *sql.DB) error {
	dropStatements := []string{
		`DROP INDEX IF EXISTS idx_cache_entries_key_prefix`,
		`DROP INDEX IF EXISTS idx_cache_entries_created_at`,
		`DROP TABLE IF EXISTS cache_entries`,
	}
	for _, stmt := range dropStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
