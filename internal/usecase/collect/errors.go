package collect

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/infra/storage"
)

// Kind classifies a task or item failure.
type Kind string

const (
	// KindValidation is a record that failed its invariants. Never retried.
	KindValidation Kind = "validation"
	// KindFetch is a network or parsing failure inside a task. Retried once.
	KindFetch Kind = "fetch"
	// KindTimeout is an attempt that exceeded its deadline. Retried like KindFetch.
	KindTimeout Kind = "timeout"
	// KindStorage is a failure to persist the task's records.
	KindStorage Kind = "storage"
	// KindCancelled is a task stopped by fail-fast or by the caller.
	KindCancelled Kind = "cancelled"
)

// ErrTaskTimeout marks an attempt that ran past TimeoutPerTask.
var ErrTaskTimeout = errors.New("task timed out")

// TaskError describes the failure of one task, or of one item when Item is set.
type TaskError struct {
	Task     string `json:"task"`
	Kind     Kind   `json:"kind"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts,omitempty"`
	// Item is the 1-based position of the rejected raw item, 0 for task errors.
	Item int   `json:"item,omitempty"`
	Err  error `json:"-"`
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	if e.Item > 0 {
		return fmt.Sprintf("task %q item %d: %s: %s", e.Task, e.Item, e.Kind, e.Message)
	}
	return fmt.Sprintf("task %q: %s: %s", e.Task, e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *TaskError) Unwrap() error { return e.Err }

// FailFastError is returned by Run when fail-fast stopped the run.
// The partial Result is returned alongside it.
type FailFastError struct {
	Cause TaskError
}

// Error implements the error interface.
func (e *FailFastError) Error() string {
	return "collection stopped by fail-fast: " + e.Cause.Error()
}

// Unwrap returns the triggering task error.
func (e *FailFastError) Unwrap() error { return &e.Cause }

// Classify maps an error returned while running a task to a Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTaskTimeout):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case entity.IsValidation(err):
		return KindValidation
	case errors.Is(err, storage.ErrStorage):
		return KindStorage
	default:
		return KindFetch
	}
}

// retryable reports whether a failed attempt is worth repeating.
// Open breakers are not: the next attempt would be rejected too.
func retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	k := Classify(err)
	return k == KindFetch || k == KindTimeout
}
