package check

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/umpire/server/internal/backend"
	"github.com/obsidianstack/umpire/server/internal/composite"
	"github.com/obsidianstack/umpire/server/internal/telemetry"
	"github.com/obsidianstack/umpire/server/internal/threshold"
)

// Service runs checks against a fixed set of backend adapters.
// The adapters are built once at startup and shared by all requests.
//
// Service is safe for concurrent use.
type Service struct {
	adapters map[string]backend.Adapter
	counters *telemetry.Counters
	tracer   trace.Tracer
}

// NewService creates a Service over the given adapters, keyed by backend
// name. counters may be nil.
func NewService(adapters map[string]backend.Adapter, counters *telemetry.Counters) *Service {
	return &Service{
		adapters: adapters,
		counters: counters,
		tracer:   telemetry.Tracer("umpire/check"),
	}
}

// Backends returns the configured backend names, sorted.
func (s *Service) Backends() []string {
	out := make([]string, 0, len(s.adapters))
	for name := range s.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Run executes one check: fetch, compose when requested, evaluate.
func (s *Service) Run(ctx context.Context, req Request) (threshold.Outcome, error) {
	var (
		series backend.Series
		err    error
	)
	if req.Composite() {
		series, err = s.GetCompositeSeries(ctx, req.Backend, req.Compose, req.Metrics, req.Query)
	} else {
		if len(req.Metrics) != 1 {
			return threshold.Outcome{}, &ValidationError{Msg: MsgNotComposite}
		}
		q := req.Query
		q.Metric = req.Metrics[0]
		series, err = s.GetSeries(ctx, req.Backend, q)
	}
	if err != nil {
		return threshold.Outcome{}, err
	}
	return s.Evaluate(series, req.Bounds), nil
}

// GetSeries fetches one metric from the named backend.
func (s *Service) GetSeries(ctx context.Context, name string, q backend.RangeQuery) (backend.Series, error) {
	a, err := s.adapter(name)
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, name, a, q)
}

// GetCompositeSeries fetches exactly two metrics from the named backend in
// parallel and combines them with fn. The arity check happens before any
// fetch. If either fetch fails, its error is returned unchanged.
func (s *Service) GetCompositeSeries(ctx context.Context, name string, fn composite.Function, metrics []string, q backend.RangeQuery) (backend.Series, error) {
	if err := composite.CheckArity(len(metrics)); err != nil {
		return nil, err
	}
	a, err := s.adapter(name)
	if err != nil {
		return nil, err
	}

	results := make([]backend.Series, len(metrics))
	var g errgroup.Group
	for i, m := range metrics {
		mq := q
		mq.Metric = m
		g.Go(func() error {
			series, err := s.fetch(ctx, name, a, mq)
			if err != nil {
				return err
			}
			results[i] = series
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return composite.ComposeAll(fn, results)
}

// Evaluate reduces series and checks it against bounds.
func (s *Service) Evaluate(series backend.Series, bounds threshold.Bounds) threshold.Outcome {
	return threshold.Evaluate(series, bounds)
}

func (s *Service) adapter(name string) (backend.Adapter, error) {
	a, ok := s.adapters[name]
	if !ok {
		return nil, invalid("backend %q is not configured", name)
	}
	return a, nil
}

// fetch calls the adapter inside a trace span and records failures.
func (s *Service) fetch(ctx context.Context, name string, a backend.Adapter, q backend.RangeQuery) (backend.Series, error) {
	ctx, span := s.tracer.Start(ctx, "check.fetch",
		trace.WithAttributes(
			attribute.String("umpire.backend", name),
			attribute.String("umpire.metric", q.Metric),
			attribute.String("umpire.field", q.Field.String()),
			attribute.Int64("umpire.range_seconds", int64(q.Range.Seconds())),
		),
	)
	defer span.End()

	series, err := a.Fetch(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.counters.ObserveFetchError(name, Kind(err))
		return nil, fmt.Errorf("check: fetch %s from %s: %w", q.Metric, name, err)
	}

	span.SetAttributes(attribute.Int("umpire.samples", len(series)))
	slog.Debug("check: fetched series",
		"backend", name,
		"metric", q.Metric,
		"field", q.Field.String(),
		"samples", len(series),
	)
	return series, nil
}

// Kind classifies a fetch error for counters and logs.
func Kind(err error) string {
	switch {
	case errors.Is(err, backend.ErrMetricNotFound):
		return telemetry.KindNotFound
	case errors.Is(err, backend.ErrServiceUnavailable):
		return telemetry.KindUnavailable
	default:
		return telemetry.KindOther
	}
}
