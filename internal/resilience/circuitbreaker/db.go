package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// DBCircuitBreaker guards a *sql.DB. The Postgres cache backend sends every
// statement through it, so a dead database fails cache calls at once
// instead of after the driver's timeout.
type DBCircuitBreaker struct {
	cb *CircuitBreaker
	db *sql.DB
}

// DBConfig opens after five consecutive failures and tries again after
// thirty seconds. Missing rows and caller cancellations are not failures.
func DBConfig() Config {
	return Config{
		Name:                "database",
		MaxRequests:         3,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		FailureThreshold:    1.0,
		MinRequests:         5,
		ConsecutiveFailures: 5,
		IsSuccessful:        dbSuccess,
	}
}

func dbSuccess(err error) bool {
	return err == nil || errors.Is(err, sql.ErrNoRows) || errors.Is(err, context.Canceled)
}

func NewDBCircuitBreaker(db *sql.DB) *DBCircuitBreaker {
	return NewDBCircuitBreakerWithConfig(db, DBConfig())
}

func NewDBCircuitBreakerWithConfig(db *sql.DB, cfg Config) *DBCircuitBreaker {
	if cfg.IsSuccessful == nil {
		cfg.IsSuccessful = dbSuccess
	}
	return &DBCircuitBreaker{cb: New(cfg), db: db}
}

// guarded runs fn inside the breaker and restores its typed result.
func guarded[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (interface{}, error) { return fn() })
	if v, ok := out.(T); ok {
		return v, err
	}
	var zero T
	return zero, err
}

func (d *DBCircuitBreaker) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return guarded(d.cb, func() (*sql.Rows, error) { return d.db.QueryContext(ctx, query, args...) })
}

func (d *DBCircuitBreaker) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return guarded(d.cb, func() (sql.Result, error) { return d.db.ExecContext(ctx, query, args...) })
}

// QueryRowScan runs a single-row query and scans it inside the breaker, so
// scan errors count too. It returns sql.ErrNoRows unchanged.
func (d *DBCircuitBreaker) QueryRowScan(ctx context.Context, query string, args []interface{}, dest ...interface{}) error {
	_, err := guarded(d.cb, func() (struct{}, error) {
		return struct{}{}, d.db.QueryRowContext(ctx, query, args...).Scan(dest...)
	})
	return err
}

func (d *DBCircuitBreaker) State() gobreaker.State { return d.cb.State() }
func (d *DBCircuitBreaker) IsOpen() bool           { return d.cb.IsOpen() }

// DB returns the unguarded connection, for migrations.
func (d *DBCircuitBreaker) DB() *sql.DB { return d.db }
