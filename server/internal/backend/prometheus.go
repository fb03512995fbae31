package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

type promAdapter struct {
	api         promv1.API
	timeout     time.Duration
	step        time.Duration
	sourceLabel string
	now         func() time.Time
}

// newPromAdapter builds the query API client for address. rt carries the
// backend credentials; timeout bounds every Fetch.
func newPromAdapter(address string, rt http.RoundTripper, timeout, step time.Duration, sourceLabel string) (*promAdapter, error) {
	client, err := promapi.NewClient(promapi.Config{Address: address, RoundTripper: rt})
	if err != nil {
		return nil, fmt.Errorf("backend %q: %w", Prometheus, err)
	}
	return &promAdapter{
		api:         promv1.NewAPI(client),
		timeout:     timeout,
		step:        step,
		sourceLabel: sourceLabel,
		now:         time.Now,
	}, nil
}

// Fetch runs a range query for q.Metric over [now-q.Range, now] at the
// configured step. Every returned series is fanned in per timestamp using
// q.Field. An empty matrix means the metric does not exist.
func (p *promAdapter) Fetch(ctx context.Context, q RangeQuery) (Series, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	end := p.now()
	r := promv1.Range{Start: end.Add(-q.Range), End: end, Step: p.step}

	val, warnings, err := p.api.QueryRange(ctx, p.selector(q), r)
	if err != nil {
		err = classifyPromError(err)
		slog.Warn("backend: prometheus fetch failed", "metric", q.Metric, "err", err)
		return nil, fmt.Errorf("prometheus %q: %w", q.Metric, err)
	}
	if len(warnings) > 0 {
		slog.Debug("backend: prometheus query warnings", "metric", q.Metric, "warnings", warnings)
	}

	matrix, ok := val.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("prometheus %q: unexpected result type %T", q.Metric, val)
	}
	if len(matrix) == 0 {
		return nil, fmt.Errorf("prometheus %q: %w", q.Metric, ErrMetricNotFound)
	}

	return reduceBuckets(alignByTimestamp(matrix), q.Field), nil
}

// classifyPromError maps query API failures onto the backend sentinels.
// Server-side and timeout errors, as well as transport failures, are
// ErrServiceUnavailable. Query errors such as bad_data stay unclassified.
func classifyPromError(err error) error {
	var apiErr *promv1.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Type {
		case promv1.ErrServer, promv1.ErrTimeout:
			return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
		return err
	}
	// *url.Error and context.DeadlineExceeded both satisfy net.Error.
	var ne net.Error
	if errors.As(err, &ne) {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return err
}

// selector adds the source matcher to the metric expression, if any.
func (p *promAdapter) selector(q RangeQuery) string {
	if q.Source == "" {
		return q.Metric
	}
	matcher := fmt.Sprintf("%s=%q", p.sourceLabel, q.Source)
	if strings.HasSuffix(q.Metric, "}") {
		inner := strings.TrimSuffix(q.Metric, "}")
		if strings.HasSuffix(inner, "{") {
			return inner + matcher + "}"
		}
		return inner + "," + matcher + "}"
	}
	return q.Metric + "{" + matcher + "}"
}

// alignByTimestamp groups the samples of every stream by timestamp and
// returns the groups in chronological order. NaN samples (stale markers)
// and infinities are skipped.
func alignByTimestamp(matrix model.Matrix) [][]float64 {
	groups := make(map[model.Time][]float64)
	for _, stream := range matrix {
		for _, sp := range stream.Values {
			v := float64(sp.Value)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			groups[sp.Timestamp] = append(groups[sp.Timestamp], v)
		}
	}

	stamps := make([]model.Time, 0, len(groups))
	for ts := range groups {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	out := make([][]float64, len(stamps))
	for i, ts := range stamps {
		out[i] = groups[ts]
	}
	return out
}
