package repository

import (
	"context"
	"time"

	"deprecations-feed/internal/domain/entity"
)

// StoreResult reports how a batch was merged into the store.
type StoreResult struct {
	Inserted  int
	Updated   int
	Unchanged int
	// Changed holds the inserted and updated records in input order.
	Changed []entity.Record
}

// Add accumulates other into r.
func (r *StoreResult) Add(other StoreResult) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Unchanged += other.Unchanged
	r.Changed = append(r.Changed, other.Changed...)
}

// RecordRepository persists the deduplicated set of deprecation records.
//
// Store merges by identity: an unknown identity is inserted, a known
// identity with a different full hash replaces the stored record, and a
// known identity with the same full hash is left alone. Every mutation
// rewrites the whole collection atomically.
type RecordRepository interface {
	Store(ctx context.Context, records []entity.Record) (StoreResult, error)
	GetAll(ctx context.Context) ([]entity.Record, error)
	GetByProvider(ctx context.Context, provider string) ([]entity.Record, error)
	// GetByDateRange returns records whose deprecation date lies in [start, end].
	GetByDateRange(ctx context.Context, start, end time.Time) ([]entity.Record, error)
	DeleteByProvider(ctx context.Context, provider string) (int, error)
	ClearAll(ctx context.Context) error
	// Update replaces the record with the same identity or returns entity.ErrNotFound.
	Update(ctx context.Context, record entity.Record) error
}
