package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sony/gobreaker"
)

func TestNewDBCircuitBreaker(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer func() { _ = db.Close() }()

	dcb := NewDBCircuitBreaker(db)

	if dcb.DB() != db {
		t.Error("expected db to be set")
	}
	if dcb.State() != gobreaker.StateClosed {
		t.Errorf("expected initial state to be Closed, got %s", dcb.State())
	}
}

func TestDBCircuitBreaker_ExecContext_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("DELETE FROM cache_entries").
		WillReturnResult(sqlmock.NewResult(0, 2))

	dcb := NewDBCircuitBreaker(db)
	res, err := dcb.ExecContext(context.Background(), "DELETE FROM cache_entries")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n, _ := res.RowsAffected(); n != 2 {
		t.Errorf("expected 2 rows affected, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDBCircuitBreaker_QueryRowScan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT data FROM cache_entries").
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte("v")))
	mock.ExpectQuery("SELECT data FROM cache_entries").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	dcb := NewDBCircuitBreaker(db)

	var data []byte
	if err := dcb.QueryRowScan(context.Background(), "SELECT data FROM cache_entries WHERE key = $1", []interface{}{"k"}, &data); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if string(data) != "v" {
		t.Errorf("expected data 'v', got %q", data)
	}

	err = dcb.QueryRowScan(context.Background(), "SELECT data FROM cache_entries WHERE key = $1", []interface{}{"missing"}, &data)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
	if dcb.State() != gobreaker.StateClosed {
		t.Errorf("missing rows must not count as failures, state=%s", dcb.State())
	}
}

func TestDBCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer func() { _ = db.Close() }()

	cfg := DBConfig()
	cfg.ConsecutiveFailures = 2
	dcb := NewDBCircuitBreakerWithConfig(db, cfg)

	dbErr := errors.New("connection refused")
	for i := 0; i < 2; i++ {
		mock.ExpectQuery("SELECT key FROM cache_entries").WillReturnError(dbErr)
		if _, err := dcb.QueryContext(context.Background(), "SELECT key FROM cache_entries"); !errors.Is(err, dbErr) {
			t.Fatalf("attempt %d: expected db error, got %v", i, err)
		}
	}

	if !dcb.IsOpen() {
		t.Fatalf("expected circuit to be open, got %s", dcb.State())
	}
	if _, err := dcb.QueryContext(context.Background(), "SELECT key FROM cache_entries"); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
}

func TestDBCircuitBreaker_CancellationDoesNotCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer func() { _ = db.Close() }()

	cfg := DBConfig()
	cfg.ConsecutiveFailures = 1
	dcb := NewDBCircuitBreakerWithConfig(db, cfg)

	mock.ExpectExec("DELETE FROM cache_entries").WillReturnError(context.Canceled)
	if _, err := dcb.ExecContext(context.Background(), "DELETE FROM cache_entries"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if dcb.IsOpen() {
		t.Error("a cancelled statement must not open the circuit")
	}
}
