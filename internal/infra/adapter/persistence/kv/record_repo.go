// Package kv implements repositories on top of a storage.Backend.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/infra/storage"
	"deprecations-feed/internal/repository"
)

// RecordsKey is the backend key holding the whole record collection.
const RecordsKey = "records:all"

const documentVersion = 1

type recordDocument struct {
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Records   []entity.Record `json:"records"`
}

// RecordRepo stores every record as one JSON document under RecordsKey.
// Mutations are serialised by a mutex and written with a single atomic Put.
// Separate processes sharing the backend are last-writer-wins.
type RecordRepo struct {
	backend storage.Backend
	now     func() time.Time
	mu      sync.Mutex
}

var _ repository.RecordRepository = (*RecordRepo)(nil)

// NewRecordRepo creates a RecordRepo. A nil now uses time.Now.
func NewRecordRepo(backend storage.Backend, now func() time.Time) *RecordRepo {
	if now == nil {
		now = time.Now
	}
	return &RecordRepo{backend: backend, now: now}
}

func (repo *RecordRepo) load(ctx context.Context) ([]entity.Record, error) {
	data, ok, err := repo.backend.Get(ctx, RecordsKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var doc recordDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode record document: %w", err)
	}
	return doc.Records, nil
}

func (repo *RecordRepo) save(ctx context.Context, records []entity.Record) error {
	sortRecords(records)
	doc := recordDocument{
		Version:   documentVersion,
		UpdatedAt: repo.now().UTC(),
		Records:   records,
	}
	if doc.Records == nil {
		doc.Records = []entity.Record{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode record document: %w", err)
	}
	return repo.backend.Put(ctx, RecordsKey, data, storage.NoExpiry)
}

// Store merges records into the collection. Records sharing an identity
// within one batch collapse to the last of them before the merge, and the
// copies it supersedes count as unchanged, so every input is counted once
// and Changed holds each identity at most once.
func (repo *RecordRepo) Store(ctx context.Context, records []entity.Record) (repository.StoreResult, error) {
	var res repository.StoreResult
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return res, fmt.Errorf("Store: %w", err)
		}
	}
	batch := collapse(records)
	res.Unchanged = len(records) - len(batch)

	repo.mu.Lock()
	defer repo.mu.Unlock()

	current, err := repo.load(ctx)
	if err != nil {
		return res, fmt.Errorf("Store: %w", err)
	}

	index := make(map[string]int, len(current))
	for i, r := range current {
		index[r.IdentityHash()] = i
	}

	for _, r := range batch {
		i, exists := index[r.IdentityHash()]
		switch {
		case !exists:
			current = append(current, r)
			res.Inserted++
			res.Changed = append(res.Changed, r)
		case current[i].FullHash() != r.FullHash():
			current[i] = r
			res.Updated++
			res.Changed = append(res.Changed, r)
		default:
			res.Unchanged++
		}
	}

	if res.Inserted+res.Updated == 0 {
		return res, nil
	}
	if err := repo.save(ctx, current); err != nil {
		return repository.StoreResult{}, fmt.Errorf("Store: %w", err)
	}
	return res, nil
}

// collapse keeps one record per identity: the last one, at the position of
// the first.
func collapse(records []entity.Record) []entity.Record {
	pos := make(map[string]int, len(records))
	out := make([]entity.Record, 0, len(records))
	for _, r := range records {
		id := r.IdentityHash()
		if i, ok := pos[id]; ok {
			out[i] = r
			continue
		}
		pos[id] = len(out)
		out = append(out, r)
	}
	return out
}

// GetAll returns every stored record.
func (repo *RecordRepo) GetAll(ctx context.Context) ([]entity.Record, error) {
	return repo.filter(ctx, "GetAll", func(entity.Record) bool { return true })
}

// GetByProvider returns the records of one provider.
func (repo *RecordRepo) GetByProvider(ctx context.Context, provider string) ([]entity.Record, error) {
	return repo.filter(ctx, "GetByProvider", func(r entity.Record) bool { return r.Provider == provider })
}

// GetByDateRange returns records deprecated within [start, end].
func (repo *RecordRepo) GetByDateRange(ctx context.Context, start, end time.Time) ([]entity.Record, error) {
	return repo.filter(ctx, "GetByDateRange", func(r entity.Record) bool {
		return !r.DeprecationDate.Before(start) && !r.DeprecationDate.After(end)
	})
}

func (repo *RecordRepo) filter(ctx context.Context, op string, keep func(entity.Record) bool) ([]entity.Record, error) {
	repo.mu.Lock()
	current, err := repo.load(ctx)
	repo.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]entity.Record, 0, len(current))
	for _, r := range current {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// DeleteByProvider removes every record of provider and returns how many were removed.
func (repo *RecordRepo) DeleteByProvider(ctx context.Context, provider string) (int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	current, err := repo.load(ctx)
	if err != nil {
		return 0, fmt.Errorf("DeleteByProvider: %w", err)
	}
	kept := current[:0]
	for _, r := range current {
		if r.Provider != provider {
			kept = append(kept, r)
		}
	}
	removed := len(current) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := repo.save(ctx, kept); err != nil {
		return 0, fmt.Errorf("DeleteByProvider: %w", err)
	}
	return removed, nil
}

// ClearAll removes the whole collection.
func (repo *RecordRepo) ClearAll(ctx context.Context) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if err := repo.backend.Delete(ctx, RecordsKey); err != nil {
		return fmt.Errorf("ClearAll: %w", err)
	}
	return nil
}

// Update replaces the record with the same identity and stamps it with the
// current time.
func (repo *RecordRepo) Update(ctx context.Context, record entity.Record) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()

	current, err := repo.load(ctx)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	for i := range current {
		if current[i].SameIdentity(record) {
			current[i] = record.WithLastUpdated(repo.now())
			if err := repo.save(ctx, current); err != nil {
				return fmt.Errorf("Update: %w", err)
			}
			return nil
		}
	}
	return fmt.Errorf("Update: %s/%s: %w", record.Provider, record.Model, entity.ErrNotFound)
}

func sortRecords(records []entity.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if !a.DeprecationDate.Equal(b.DeprecationDate) {
			return a.DeprecationDate.Before(b.DeprecationDate)
		}
		return a.Model < b.Model
	})
}
