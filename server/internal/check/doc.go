// Package check turns a /check request into a threshold outcome.
//
// ParseRequest validates query parameters. Service fetches the named
// metric (or both halves of a composite in parallel) from the selected
// backend, combines them, and evaluates the mean against the bounds.
// Mapping outcomes and errors to HTTP responses is left to the api package.
package check
