// Package telemetry holds umpire's self-observability.
//
// tracing.go starts the optional OTLP/HTTP trace exporter and hands out
// tracers; with no endpoint configured the global no-op provider is kept.
//
// counters.go keeps in-process check and fetch-error counters and renders
// them in the Prometheus text exposition format for GET /metrics.
package telemetry
