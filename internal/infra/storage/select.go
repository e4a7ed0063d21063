package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"deprecations-feed/internal/config"
)

// Kind names a backend variant.
type Kind string

const (
	KindFileSystem Kind = config.BackendFileSystem
	KindActions    Kind = config.BackendActions
	KindPostgres   Kind = config.BackendPostgres
)

// ErrNoDatabase is returned when the postgres backend is selected without a connection.
var ErrNoDatabase = errors.New("postgres backend selected but no database connection")

// Select builds the backend the configuration asks for. The choice is made
// once at startup: an explicit CACHE_BACKEND wins, otherwise the CI-managed
// backend is used inside GitHub Actions and the plain filesystem elsewhere.
func Select(cfg config.CacheConfig, conn *sql.DB, opts ...Option) (Backend, Kind, error) {
	kind := Kind(cfg.ResolvedBackend())
	switch kind {
	case KindFileSystem:
		b, err := NewFileSystem(cfg.Dir, opts...)
		if err != nil {
			return nil, kind, err
		}
		return b, kind, nil
	case KindActions:
		dir := cfg.Dir
		if dir == "" {
			dir = ActionsDir(cfg.Workspace)
		}
		b, err := NewActions(ActionsConfig{
			Dir:        dir,
			KeyPrefix:  cfg.KeyPrefix,
			KeyVersion: cfg.KeyVersion,
		}, opts...)
		if err != nil {
			return nil, kind, err
		}
		return b, kind, nil
	case KindPostgres:
		if conn == nil {
			return nil, kind, ErrNoDatabase
		}
		return NewPostgres(conn, opts...), kind, nil
	default:
		return nil, kind, fmt.Errorf("unknown cache backend %q", kind)
	}
}
