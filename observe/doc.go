// Package observe provides logging, tracing and metrics for dependency calls.
//
// Logging is structured and backed by zap, with optional rotating file
// output. Tracing and metrics use OpenTelemetry; an Instrumentation turns
// the resilience executor's hooks into one span per call, attempt events,
// and counters and histograms keyed by dependency.
package observe
