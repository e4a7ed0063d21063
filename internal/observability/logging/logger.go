package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the slog handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Options configures New. A zero Options logs JSON to stdout at the level
// named by LOG_LEVEL.
type Options struct {
	Format Format
	Output io.Writer
	// Level overrides LOG_LEVEL when non-nil.
	Level *slog.Level
}

// New builds a logger. JSON output records the source location of warnings
// and errors.
func New(opts Options) *slog.Logger {
	level := ParseLevel(os.Getenv("LOG_LEVEL"))
	if opts.Level != nil {
		level = *opts.Level
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	if opts.Format == FormatText {
		return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelWarn,
	}))
}

// NewLogger is the worker's logger: JSON on stdout.
func NewLogger() *slog.Logger {
	return New(Options{Format: FormatJSON})
}

// NewTextLogger is the cachectl logger: text on stderr, so stdout stays free
// for command output.
func NewTextLogger() *slog.Logger {
	return New(Options{Format: FormatText, Output: os.Stderr})
}

// ParseLevel maps debug, warn and error (any case) to their slog levels.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type runIDKey struct{}

// ContextWithRunID stores the collection run id in ctx.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run id stored in ctx, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// WithRunID tags logger with the run id from ctx, if there is one.
func WithRunID(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := RunIDFromContext(ctx); id != "" {
		return logger.With(slog.String("run_id", id))
	}
	return logger
}
