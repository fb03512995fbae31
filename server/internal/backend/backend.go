package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/obsidianstack/umpire/server/internal/config"
)

// Classified fetch failures. Adapters wrap these with %w so callers can
// tell them apart with errors.Is.
var (
	// ErrMetricNotFound means the backend authoritatively has no such metric.
	ErrMetricNotFound = errors.New("metric not found")

	// ErrServiceUnavailable means the backend could not be reached, timed
	// out, or answered with a server error.
	ErrServiceUnavailable = errors.New("metrics service unavailable")
)

// Series is an ordered run of samples, one per aggregation bucket, oldest
// first. A Series is never modified after an adapter returns it.
type Series []float64

// RangeQuery identifies exactly what to fetch. The window is
// [now-Range, now], with now read at call time.
type RangeQuery struct {
	Metric string
	Range  time.Duration
	Source string
	Field  Field
}

// Validate checks the query constraints shared by every adapter.
func (q RangeQuery) Validate() error {
	if q.Metric == "" {
		return errors.New("backend: metric name is required")
	}
	if q.Range <= 0 {
		return fmt.Errorf("backend: range must be positive, got %v", q.Range)
	}
	return nil
}

// seconds returns the range in whole seconds.
func (q RangeQuery) seconds() int64 {
	return int64(q.Range / time.Second)
}

// Adapter is the contract every metrics backend implements.
// Implementations must be safe for concurrent use.
type Adapter interface {
	Fetch(ctx context.Context, q RangeQuery) (Series, error)
}

// Names of the supported backends.
const (
	Graphite   = "graphite"
	Librato    = "librato"
	Prometheus = "prometheus"
)

// New returns the Adapter for the named backend. The HTTP client is built
// once here and reused across Fetch calls.
func New(name string, cfg config.BackendsConfig) (Adapter, error) {
	switch name {
	case Graphite:
		if cfg.Graphite.URL == "" {
			return nil, fmt.Errorf("backend %q: url is required", name)
		}
		return &graphiteAdapter{
			baseURL: strings.TrimRight(cfg.Graphite.URL, "/"),
			client:  buildHTTPClient(cfg.Timeout, credentials{}),
		}, nil
	case Librato:
		if cfg.Librato.Email == "" {
			return nil, fmt.Errorf("backend %q: email is required", name)
		}
		return &libratoAdapter{
			baseURL: strings.TrimRight(cfg.Librato.URL, "/"),
			client: buildHTTPClient(cfg.Timeout, credentials{
				username: cfg.Librato.Email,
				password: cfg.Librato.Token(),
			}),
			resolution: cfg.Librato.Resolution,
			now:        time.Now,
		}, nil
	case Prometheus:
		if cfg.Prometheus.URL == "" {
			return nil, fmt.Errorf("backend %q: url is required", name)
		}
		return newPromAdapter(
			strings.TrimRight(cfg.Prometheus.URL, "/"),
			&authRoundTripper{
				base:  http.DefaultTransport,
				creds: credentials{token: cfg.Prometheus.BearerToken()},
			},
			cfg.Timeout,
			cfg.Prometheus.Step,
			cfg.Prometheus.SourceLabel,
		)
	default:
		return nil, fmt.Errorf("backend: unsupported type %q", name)
	}
}

// NewAll builds every backend that has enough configuration, keyed by name.
func NewAll(cfg config.BackendsConfig) (map[string]Adapter, error) {
	out := make(map[string]Adapter)
	for _, name := range cfg.Enabled() {
		a, err := New(name, cfg)
		if err != nil {
			return nil, err
		}
		out[name] = a
	}
	return out, nil
}

// credentials are the optional auth settings of one backend client.
type credentials struct {
	username string
	password string
	token    string
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base  http.RoundTripper
	creds credentials
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch {
	case t.creds.token != "":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.creds.token)
	case t.creds.username != "":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.creds.username, t.creds.password)
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs the shared client for one backend.
func buildHTTPClient(timeout time.Duration, creds credentials) *http.Client {
	return &http.Client{
		Transport: &authRoundTripper{base: http.DefaultTransport, creds: creds},
		Timeout:   timeout,
	}
}

// getJSON performs an HTTP GET and decodes a 200 response body into v.
// Transport failures and 5xx map to ErrServiceUnavailable, 404 maps to
// ErrMetricNotFound. Any other status is an unclassified error.
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrMetricNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: backend returned HTTP %d", ErrServiceUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
