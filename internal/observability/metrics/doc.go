// Package metrics provides Prometheus collectors for the collector, the
// snapshot cache, source HTTP traffic and the enhancement step.
//
// All collectors are registered on the default registry through promauto
// and exposed by the worker's /metrics endpoint. Callers use the Record*
// helpers in business.go rather than touching the vectors directly so label
// values stay consistent.
package metrics
