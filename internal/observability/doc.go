// Package observability groups the logging, metrics and tracing helpers
// used by the collector, the cache and the commands.
//
// Subpackages:
//   - logging: slog construction and context propagation (logger, run id)
//   - metrics: Prometheus collectors for collection, cache, sources and enhancement
//   - tracing: OpenTelemetry spans for runs, tasks and outbound HTTP
//   - slo: collection service level gauges
package observability
