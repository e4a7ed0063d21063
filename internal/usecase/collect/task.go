package collect

import (
	"context"

	"deprecations-feed/internal/domain/entity"
)

// Task is one independent unit of collection, usually one source.
// Produce should honour ctx; the orchestrator stops waiting when the
// attempt deadline passes whether or not it does.
type Task interface {
	Name() string
	Produce(ctx context.Context) ([]entity.RawRecord, error)
}

// TaskFunc adapts a function to Task.
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context) ([]entity.RawRecord, error)
}

// NewTask returns a Task named name that calls fn.
func NewTask(name string, fn func(ctx context.Context) ([]entity.RawRecord, error)) TaskFunc {
	return TaskFunc{TaskName: name, Fn: fn}
}

// Name returns the task name.
func (t TaskFunc) Name() string { return t.TaskName }

// Produce calls the wrapped function.
func (t TaskFunc) Produce(ctx context.Context) ([]entity.RawRecord, error) { return t.Fn(ctx) }
