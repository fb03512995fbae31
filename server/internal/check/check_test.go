package check

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/umpire/server/internal/backend"
	"github.com/obsidianstack/umpire/server/internal/composite"
	"github.com/obsidianstack/umpire/server/internal/telemetry"
)

// fakeAdapter serves canned series keyed by metric name.
type fakeAdapter struct {
	mu      sync.Mutex
	series  map[string]backend.Series
	errs    map[string]error
	queries []backend.RangeQuery
}

func (f *fakeAdapter) Fetch(_ context.Context, q backend.RangeQuery) (backend.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if err, ok := f.errs[q.Metric]; ok {
		return nil, err
	}
	s, ok := f.series[q.Metric]
	if !ok {
		return nil, backend.ErrMetricNotFound
	}
	return s, nil
}

func (f *fakeAdapter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func newService(t *testing.T, a *fakeAdapter) (*Service, *telemetry.Counters) {
	t.Helper()
	c := telemetry.NewCounters()
	return NewService(map[string]backend.Adapter{backend.Graphite: a}, c), c
}

func params(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return v
}

// --- ParseRequest ---

func TestParseRequest_Single(t *testing.T) {
	req, err := ParseRequest(params(
		"metric", "cpu.load", "range", "300", "max", "0.8",
		"source", "web1", "from", "max", "empty_ok", "1",
	), backend.Graphite)
	require.NoError(t, err)

	assert.Equal(t, backend.Graphite, req.Backend)
	assert.Equal(t, []string{"cpu.load"}, req.Metrics)
	assert.False(t, req.Composite())
	assert.Equal(t, 300*time.Second, req.Query.Range)
	assert.Equal(t, "web1", req.Query.Source)
	assert.Equal(t, backend.FieldMax, req.Query.Field)
	assert.Nil(t, req.Bounds.Min)
	require.NotNil(t, req.Bounds.Max)
	assert.Equal(t, 0.8, *req.Bounds.Max)
	assert.True(t, req.EmptyOK)
}

func TestParseRequest_ExplicitBackend(t *testing.T) {
	req, err := ParseRequest(params("metric", "a", "range", "60", "min", "1", "backend", "librato"), backend.Graphite)
	require.NoError(t, err)
	assert.Equal(t, "librato", req.Backend)
	assert.Equal(t, backend.FieldValue, req.Query.Field)
	assert.False(t, req.EmptyOK)
}

func TestParseRequest_Composite(t *testing.T) {
	req, err := ParseRequest(params("metric", "errors,requests", "range", "60", "max", "0.05", "compose", "divide"), backend.Graphite)
	require.NoError(t, err)
	assert.True(t, req.Composite())
	assert.Equal(t, composite.Divide, req.Compose)
	assert.Equal(t, []string{"errors", "requests"}, req.Metrics)
}

func TestParseRequest_MissingParameters(t *testing.T) {
	cases := map[string]url.Values{
		"no metric":    params("range", "60", "max", "1"),
		"no range":     params("metric", "a", "max", "1"),
		"no bounds":    params("metric", "a", "range", "60"),
		"only commas":  params("metric", ",", "range", "60", "max", "1"),
		"empty values": params("metric", "", "range", "", "max", ""),
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRequest(p, backend.Graphite)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, MsgMissingParameters, ve.Msg)
		})
	}
}

func TestParseRequest_InvalidValues(t *testing.T) {
	cases := map[string]url.Values{
		"range not a number": params("metric", "a", "range", "soon", "max", "1"),
		"range zero":         params("metric", "a", "range", "0", "max", "1"),
		"range negative":     params("metric", "a", "range", "-5", "max", "1"),
		"min not a number":   params("metric", "a", "range", "60", "min", "low"),
		"max not a number":   params("metric", "a", "range", "60", "max", "high"),
		"unknown field":      params("metric", "a", "range", "60", "max", "1", "from", "median"),
		"range overflows":    params("metric", "a", "range", "10000000000", "max", "1"),
		"range wraps":        params("metric", "a", "range", "20000000000", "max", "1"),
		"max NaN":            params("metric", "a", "range", "60", "max", "NaN"),
		"min infinite":       params("metric", "a", "range", "60", "min", "-Inf"),
		"max infinite":       params("metric", "a", "range", "60", "max", "+Inf"),
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRequest(p, backend.Graphite)
			var ve *ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestParseRequest_LargestRange(t *testing.T) {
	req, err := ParseRequest(params("metric", "a", "range", "9223372036", "max", "1"), backend.Graphite)
	require.NoError(t, err)
	assert.Positive(t, req.Query.Range)
	assert.Equal(t, int64(9223372036), int64(req.Query.Range/time.Second))
}

func TestParseRequest_MultipleMetricsWithoutCompose(t *testing.T) {
	_, err := ParseRequest(params("metric", "a,b", "range", "60", "max", "1"), backend.Graphite)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, MsgNotComposite, ve.Msg)
}

func TestParseRequest_ComposeErrors(t *testing.T) {
	_, err := ParseRequest(params("metric", "a", "range", "60", "max", "1", "compose", "sum"), backend.Graphite)
	assert.ErrorIs(t, err, composite.ErrTooFewMetrics)
	assert.EqualError(t, err, "too few metrics")

	_, err = ParseRequest(params("metric", "a,b,c", "range", "60", "max", "1", "compose", "sum"), backend.Graphite)
	assert.ErrorIs(t, err, composite.ErrTooManyMetrics)
	assert.ErrorIs(t, err, composite.ErrArity)

	_, err = ParseRequest(params("metric", "a,b", "range", "60", "max", "1", "compose", "avg"), backend.Graphite)
	var ue *composite.UnknownFunctionError
	require.ErrorAs(t, err, &ue)
	assert.EqualError(t, err, "invalid compose function: avg")
}

func TestParseRequest_ArityCheckedBeforeFunctionName(t *testing.T) {
	_, err := ParseRequest(params("metric", "a", "range", "60", "max", "1", "compose", "avg"), backend.Graphite)
	assert.ErrorIs(t, err, composite.ErrTooFewMetrics)
}

// --- Service ---

func TestRun_PassingCheck(t *testing.T) {
	a := &fakeAdapter{series: map[string]backend.Series{"cpu.load": {0.5, 0.6, 0.55}}}
	s, _ := newService(t, a)

	req, err := ParseRequest(params("metric", "cpu.load", "range", "300", "max", "0.8"), backend.Graphite)
	require.NoError(t, err)

	out, err := s.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, out.NoData)
	assert.False(t, out.Violated)
	assert.InDelta(t, 0.55, out.Value, 1e-9)

	require.Len(t, a.queries, 1)
	assert.Equal(t, "cpu.load", a.queries[0].Metric)
	assert.Equal(t, 300*time.Second, a.queries[0].Range)
}

func TestRun_ViolatedCheck(t *testing.T) {
	a := &fakeAdapter{series: map[string]backend.Series{"cpu.load": {0.9, 0.95}}}
	s, _ := newService(t, a)

	req, err := ParseRequest(params("metric", "cpu.load", "range", "300", "max", "0.8"), backend.Graphite)
	require.NoError(t, err)

	out, err := s.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, out.Violated)
	assert.InDelta(t, 0.925, out.Value, 1e-9)
}

func TestRun_EmptySeries(t *testing.T) {
	a := &fakeAdapter{series: map[string]backend.Series{"quiet": {}}}
	s, _ := newService(t, a)

	req, err := ParseRequest(params("metric", "quiet", "range", "60", "min", "1"), backend.Graphite)
	require.NoError(t, err)

	out, err := s.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, out.NoData)
}

func TestRun_MetricNotFound(t *testing.T) {
	a := &fakeAdapter{}
	s, c := newService(t, a)

	req, err := ParseRequest(params("metric", "ghost.metric", "range", "60", "max", "1"), backend.Graphite)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), req)
	assert.ErrorIs(t, err, backend.ErrMetricNotFound)
	assert.Equal(t, telemetry.KindNotFound, Kind(err))

	fams := c.Families()
	require.Len(t, fams[1].GetMetric(), 1)
	assert.Equal(t, 1.0, fams[1].GetMetric()[0].GetCounter().GetValue())
}

func TestRun_UnconfiguredBackend(t *testing.T) {
	a := &fakeAdapter{}
	s, _ := newService(t, a)

	req, err := ParseRequest(params("metric", "a", "range", "60", "max", "1", "backend", "librato"), backend.Graphite)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), req)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Msg, "librato")
	assert.Zero(t, a.calls())
}

func TestRun_Composite(t *testing.T) {
	a := &fakeAdapter{series: map[string]backend.Series{
		"errors":   {1, 2, 3},
		"requests": {10, 0, 30},
	}}
	s, _ := newService(t, a)

	req, err := ParseRequest(params("metric", "errors,requests", "range", "60", "max", "0.5", "compose", "divide"), backend.Graphite)
	require.NoError(t, err)

	out, err := s.Run(context.Background(), req)
	require.NoError(t, err)
	// 1/10 and 3/30; the zero divisor position is omitted.
	assert.InDelta(t, 0.1, out.Value, 1e-9)
	assert.False(t, out.Violated)
	assert.Equal(t, 2, a.calls())
}

func TestGetCompositeSeries_FetchErrorPropagates(t *testing.T) {
	down := errors.Join(backend.ErrServiceUnavailable, errors.New("request timed out"))
	a := &fakeAdapter{
		series: map[string]backend.Series{"a": {1}},
		errs:   map[string]error{"b": down},
	}
	s, c := newService(t, a)

	_, err := s.GetCompositeSeries(context.Background(), backend.Graphite, composite.Sum, []string{"a", "b"}, backend.RangeQuery{Range: time.Minute})
	assert.ErrorIs(t, err, backend.ErrServiceUnavailable)
	assert.Equal(t, telemetry.KindUnavailable, Kind(err))

	fams := c.Families()
	require.Len(t, fams[1].GetMetric(), 1)
}

func TestGetCompositeSeries_ArityBeforeFetch(t *testing.T) {
	a := &fakeAdapter{series: map[string]backend.Series{"a": {1}}}
	s, _ := newService(t, a)

	_, err := s.GetCompositeSeries(context.Background(), backend.Graphite, composite.Sum, []string{"a"}, backend.RangeQuery{Range: time.Minute})
	assert.ErrorIs(t, err, composite.ErrTooFewMetrics)
	assert.Zero(t, a.calls())
}

func TestKind(t *testing.T) {
	assert.Equal(t, telemetry.KindNotFound, Kind(backend.ErrMetricNotFound))
	assert.Equal(t, telemetry.KindUnavailable, Kind(backend.ErrServiceUnavailable))
	assert.Equal(t, telemetry.KindOther, Kind(errors.New("boom")))
}

func TestBackends(t *testing.T) {
	s := NewService(map[string]backend.Adapter{
		backend.Prometheus: &fakeAdapter{},
		backend.Graphite:   &fakeAdapter{},
	}, nil)
	assert.Equal(t, []string{backend.Graphite, backend.Prometheus}, s.Backends())
}
