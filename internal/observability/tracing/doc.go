// Package tracing provides OpenTelemetry tracing helpers.
//
// Spans are created through the globally registered TracerProvider, so the
// commands decide where spans go (or nowhere, with the default no-op
// provider) and tests can install an in-memory exporter.
//
// Example usage:
//
//	ctx, span := tracing.StartSpan(ctx, "collect.run", attribute.Int("tasks", len(tasks)))
//	defer span.End()
//
//	client := &http.Client{Transport: tracing.Transport(http.DefaultTransport)}
package tracing
