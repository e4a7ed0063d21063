// Package notifier delivers deprecation notices to chat webhooks.
package notifier

import (
	"context"

	"deprecations-feed/internal/domain/entity"
)

// Notifier sends one notice to an external channel.
type Notifier interface {
	// Notify blocks until the notice was accepted, retries were exhausted
	// or ctx was cancelled.
	Notify(ctx context.Context, notice entity.Notice) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, notice entity.Notice) error

func (f Func) Notify(ctx context.Context, notice entity.Notice) error {
	return f(ctx, notice)
}

// Discard accepts every notice and sends nothing. Disabled channels use it.
var Discard Notifier = Func(func(context.Context, entity.Notice) error { return nil })
