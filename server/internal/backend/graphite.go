package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

type graphiteAdapter struct {
	baseURL string
	client  *http.Client
}

// graphiteTarget is one series in a render API JSON response. Each
// datapoint is [value, timestamp]; value is null for empty buckets.
type graphiteTarget struct {
	Target     string        `json:"target"`
	Datapoints [][2]*float64 `json:"datapoints"`
}

// Fetch queries the graphite render API for the last q.Range seconds.
//
// A target that matches several series (a glob) is fanned in per bucket
// index using q.Field. Graphite has no source dimension, so q.Source is
// ignored.
func (g *graphiteAdapter) Fetch(ctx context.Context, q RangeQuery) (Series, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Source != "" {
		slog.Debug("backend: graphite ignores source filter", "metric", q.Metric, "source", q.Source)
	}

	params := url.Values{}
	params.Set("target", q.Metric)
	params.Set("from", "-"+strconv.FormatInt(q.seconds(), 10)+"s")
	params.Set("until", "now")
	params.Set("format", "json")

	var targets []graphiteTarget
	if err := getJSON(ctx, g.client, g.baseURL+"/render?"+params.Encode(), &targets); err != nil {
		slog.Warn("backend: graphite fetch failed", "metric", q.Metric, "err", err)
		return nil, fmt.Errorf("graphite %q: %w", q.Metric, err)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("graphite %q: %w", q.Metric, ErrMetricNotFound)
	}

	width := 0
	for _, t := range targets {
		width = max(width, len(t.Datapoints))
	}
	buckets := make([][]float64, width)
	for _, t := range targets {
		for i, dp := range t.Datapoints {
			if dp[0] == nil {
				continue
			}
			buckets[i] = append(buckets[i], *dp[0])
		}
	}
	return reduceBuckets(buckets, q.Field), nil
}
