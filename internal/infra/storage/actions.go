package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// StateFileName is the manifest written next to the entries.
	StateFileName = "cache-state.json"
	// StateVersion is the manifest schema version.
	StateVersion = "1.0.0"

	// DefaultKeyPrefix and DefaultKeyVersion form the CI cache key.
	DefaultKeyPrefix  = "deprecations-cache"
	DefaultKeyVersion = "v1"

	// ActionsSubdir is appended to the workspace to locate the cache directory.
	ActionsSubdir = ".github-cache/deprecations"

	statusActive = "active"
)

// State is the manifest of keys known to be live in the cache directory.
type State struct {
	Version     string                `json:"version"`
	CreatedAt   time.Time             `json:"created_at"`
	LastUpdated time.Time             `json:"last_updated"`
	Entries     map[string]StateEntry `json:"entries"`
}

// StateEntry records when a key was written.
type StateEntry struct {
	AddedAt time.Time `json:"added_at"`
	Status  string    `json:"status"`
}

// ActionsConfig configures the CI-managed backend.
type ActionsConfig struct {
	// Dir is the cache directory that the CI cache step saves and restores.
	Dir string
	// KeyPrefix and KeyVersion form the external cache key.
	KeyPrefix  string
	KeyVersion string
}

// Actions is a filesystem backend whose directory is persisted between
// otherwise stateless CI runs. It keeps a manifest of live keys and derives
// the cache key and restore-key chain the CI cache step needs.
type Actions struct {
	fs        *FileSystem
	statePath string
	prefix    string
	version   string
	now       func() time.Time

	mu sync.Mutex
}

// NewActions creates the CI-managed backend. The manifest is created lazily.
func NewActions(cfg ActionsConfig, opts ...Option) (*Actions, error) {
	if cfg.Dir == "" {
		cfg.Dir = ActionsSubdir
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.KeyVersion == "" {
		cfg.KeyVersion = DefaultKeyVersion
	}

	plain, err := NewFileSystem(cfg.Dir, opts...)
	if err != nil {
		return nil, err
	}
	return &Actions{
		fs:        plain,
		statePath: filepath.Join(cfg.Dir, StateFileName),
		prefix:    cfg.KeyPrefix,
		version:   cfg.KeyVersion,
		now:       plain.now,
	}, nil
}

// ActionsDir returns the cache directory inside a CI workspace.
func ActionsDir(workspace string) string {
	if workspace == "" {
		return ActionsSubdir
	}
	return filepath.Join(workspace, ActionsSubdir)
}

// Dir returns the cache directory.
func (a *Actions) Dir() string { return a.fs.Dir() }

// Put implements Backend and records key in the manifest.
func (a *Actions) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := a.fs.Put(ctx, key, value, ttl); err != nil {
		return err
	}
	return a.updateState("put", key, func(st *State, now time.Time) {
		st.Entries[key] = StateEntry{AddedAt: now, Status: statusActive}
	})
}

// Get implements Backend.
func (a *Actions) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return a.fs.Get(ctx, key)
}

// GetStale implements Backend.
func (a *Actions) GetStale(ctx context.Context, key string) ([]byte, bool, error) {
	return a.fs.GetStale(ctx, key)
}

// Delete implements Backend and drops key from the manifest.
func (a *Actions) Delete(ctx context.Context, key string) error {
	if err := a.fs.Delete(ctx, key); err != nil {
		return err
	}
	return a.updateState("delete", key, func(st *State, _ time.Time) {
		delete(st.Entries, key)
	})
}

// List implements Backend.
func (a *Actions) List(ctx context.Context, pattern string) ([]string, error) {
	return a.fs.List(ctx, pattern)
}

// Clear implements Backend and resets the manifest.
func (a *Actions) Clear(ctx context.Context) error {
	if err := a.fs.Clear(ctx); err != nil {
		return err
	}
	return a.updateState("clear", "", func(st *State, _ time.Time) {
		st.Entries = map[string]StateEntry{}
	})
}

// Purge implements Backend and drops purged keys from the manifest.
func (a *Actions) Purge(ctx context.Context, grace time.Duration) (int, error) {
	removed, err := a.fs.purge(ctx, grace)
	if len(removed) > 0 {
		stateErr := a.updateState("purge", "", func(st *State, _ time.Time) {
			for _, key := range removed {
				delete(st.Entries, key)
			}
		})
		err = errors.Join(err, stateErr)
	}
	return len(removed), err
}

// State returns the current manifest. A missing manifest yields an empty one.
func (a *Actions) State() (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, err := a.loadState()
	return st, wrapErr("state", "", err)
}

// CacheKey is the key the CI cache step saves the directory under for day now.
func (a *Actions) CacheKey(now time.Time) string {
	return a.keyBase() + now.UTC().Format("2006-01-02")
}

// RestoreKeys is the fallback chain used when no cache exists for today:
// exact date, then the same month, then the same year, then any prior cache.
func (a *Actions) RestoreKeys(now time.Time) []string {
	base := a.keyBase()
	now = now.UTC()
	return []string{
		a.CacheKey(now),
		base + now.Format("2006-01-"),
		base + now.Format("2006-"),
		base,
	}
}

func (a *Actions) keyBase() string {
	return fmt.Sprintf("%s-%s-", a.prefix, a.version)
}

// Plan is what a CI job needs to save and restore the cache directory.
type Plan struct {
	Path        string   `json:"path"`
	Key         string   `json:"key"`
	RestoreKeys []string `json:"restore_keys"`
}

// Plan returns the cache plan for day now.
func (a *Actions) Plan(now time.Time) Plan {
	return Plan{Path: a.Dir(), Key: a.CacheKey(now), RestoreKeys: a.RestoreKeys(now)}
}

// Info combines directory statistics with the manifest.
type Info struct {
	Stats
	ManifestEntries int       `json:"manifest_entries"`
	CreatedAt       time.Time `json:"created_at"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Info reports what the cache directory currently holds.
func (a *Actions) Info(ctx context.Context) (Info, error) {
	st, err := a.fs.Stats(ctx)
	if err != nil {
		return Info{}, err
	}
	manifest, err := a.State()
	if err != nil {
		return Info{}, err
	}
	return Info{
		Stats:           st,
		ManifestEntries: len(manifest.Entries),
		CreatedAt:       manifest.CreatedAt,
		LastUpdated:     manifest.LastUpdated,
	}, nil
}

func (a *Actions) updateState(op, key string, apply func(*State, time.Time)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, err := a.loadState()
	if err != nil {
		return wrapErr(op, key, err)
	}
	now := a.now().UTC()
	apply(&st, now)
	st.LastUpdated = now

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return wrapErr(op, key, fmt.Errorf("encode state: %w", err))
	}
	if err := writeFileAtomic(a.statePath, data, 0o644); err != nil {
		return wrapErr(op, key, fmt.Errorf("write state: %w", err))
	}
	return nil
}

// loadState must be called with mu held.
func (a *Actions) loadState() (State, error) {
	fresh := func() State {
		now := a.now().UTC()
		return State{
			Version:     StateVersion,
			CreatedAt:   now,
			LastUpdated: now,
			Entries:     map[string]StateEntry{},
		}
	}

	data, err := os.ReadFile(a.statePath)
	if errors.Is(err, fs.ErrNotExist) {
		return fresh(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Warn("cache state manifest is corrupt, starting a new one",
			slog.String("path", a.statePath),
			slog.Any("error", err))
		return fresh(), nil
	}
	if st.Entries == nil {
		st.Entries = map[string]StateEntry{}
	}
	if st.Version == "" {
		st.Version = StateVersion
	}
	return st, nil
}
