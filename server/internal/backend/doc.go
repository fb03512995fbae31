// Package backend retrieves metric samples from the supported metrics
// services behind a single Adapter contract:
//
//	Fetch(ctx, RangeQuery) (Series, error)
//
// Implemented adapters: graphite render API (graphite.go), librato
// summarized measurements (librato.go), Prometheus query_range
// (prometheus.go). Factory: New(name, config.BackendsConfig).
//
// Each adapter owns one *http.Client built at construction and shared by all
// concurrent Fetch calls. The client timeout bounds every call. Adapters
// never cache and never retry.
//
// Failures are classified with the ErrMetricNotFound and
// ErrServiceUnavailable sentinels; anything else is an unclassified error.
package backend
