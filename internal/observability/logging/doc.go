// Package logging builds the slog loggers used by the worker and cachectl
// and carries the collection run id through contexts.
//
//	logger := logging.NewLogger()
//	ctx = logging.ContextWithRunID(ctx, result.RunID)
//	logging.WithRunID(ctx, logger).Info("collection started")
package logging
