package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/obsidianstack/umpire/server/internal/config"
)

// libratoAdapter reads summarized measurements from the librato metrics API.
//
// Measurements are requested with summarize_sources=true, so every bucket
// is already a fan-in across sources and the facets mean:
//
//	value        mean of per-source means
//	count        mean of per-source counts
//	min, max     mean of per-source min / max
//	sum          mean of per-source sums
//	sum_squares  mean of per-source sums of squares
//	sum_means    sum of per-source means
//	summarized   number of sources summarized
type libratoAdapter struct {
	baseURL string
	client  *http.Client
	// resolution is the librato measurement period in seconds.
	resolution int
	now        func() time.Time
}

type libratoResponse struct {
	// Measurements is keyed by source; "all" holds the summarized series.
	Measurements map[string][]map[string]any `json:"measurements"`
}

// Fetch returns the requested facet of every summarized bucket since
// now-q.Range. Buckets that do not carry the facet are skipped.
func (l *libratoAdapter) Fetch(ctx context.Context, q RangeQuery) (Series, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("start_time", strconv.FormatInt(l.now().Add(-q.Range).Unix(), 10))
	resolution := l.resolution
	if resolution <= 0 {
		resolution = config.DefaultLibratoResolution
	}
	params.Set("resolution", strconv.Itoa(resolution))
	params.Set("summarize_sources", "true")
	if q.Source != "" {
		params.Set("source", q.Source)
	}
	u := l.baseURL + "/v1/metrics/" + url.PathEscape(q.Metric) + "?" + params.Encode()

	var body libratoResponse
	if err := getJSON(ctx, l.client, u, &body); err != nil {
		slog.Warn("backend: librato fetch failed", "metric", q.Metric, "err", err)
		return nil, fmt.Errorf("librato %q: %w", q.Metric, err)
	}

	all, ok := body.Measurements["all"]
	if !ok {
		return Series{}, nil
	}

	key := libratoKeys[q.Field]
	out := make(Series, 0, len(all))
	for _, m := range all {
		v, ok := m[key].(float64)
		if !ok {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
