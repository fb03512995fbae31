package telemetry

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Metric family names exposed on /metrics.
const (
	ChecksTotal      = "umpire_checks_total"
	FetchErrorsTotal = "umpire_backend_fetch_errors_total"
)

// Fetch error kinds.
const (
	KindNotFound    = "not_found"
	KindUnavailable = "unavailable"
	KindOther       = "error"
)

// Format is the exposition content type written by WriteText.
var Format = expfmt.NewFormat(expfmt.TypeTextPlain)

type checkKey struct {
	backend string
	code    int
}

type fetchKey struct {
	backend string
	kind    string
}

// Counters accumulates check outcomes for the lifetime of the process.
// A nil *Counters is valid and records nothing.
//
// Counters is safe for concurrent use.
type Counters struct {
	mu          sync.Mutex
	checks      map[checkKey]float64
	fetchErrors map[fetchKey]float64
}

// NewCounters returns an empty Counters.
func NewCounters() *Counters {
	return &Counters{
		checks:      make(map[checkKey]float64),
		fetchErrors: make(map[fetchKey]float64),
	}
}

// ObserveCheck counts one answered /check request by backend and status code.
func (c *Counters) ObserveCheck(backend string, code int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[checkKey{backend, code}]++
}

// ObserveFetchError counts one failed backend fetch by backend and kind.
func (c *Counters) ObserveFetchError(backend, kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchErrors[fetchKey{backend, kind}]++
}

// Families returns the current values as Prometheus metric families with
// label sets in a stable order.
func (c *Counters) Families() []*dto.MetricFamily {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	checks := make([]*dto.Metric, 0, len(c.checks))
	for k, v := range c.checks {
		checks = append(checks, counter(v, "backend", k.backend, "code", strconv.Itoa(k.code)))
	}
	fetches := make([]*dto.Metric, 0, len(c.fetchErrors))
	for k, v := range c.fetchErrors {
		fetches = append(fetches, counter(v, "backend", k.backend, "kind", k.kind))
	}
	sortMetrics(checks)
	sortMetrics(fetches)

	return []*dto.MetricFamily{
		{
			Name:   proto.String(ChecksTotal),
			Help:   proto.String("Answered check requests by backend and HTTP status code."),
			Type:   dto.MetricType_COUNTER.Enum(),
			Metric: checks,
		},
		{
			Name:   proto.String(FetchErrorsTotal),
			Help:   proto.String("Failed backend fetches by backend and failure kind."),
			Type:   dto.MetricType_COUNTER.Enum(),
			Metric: fetches,
		},
	}
}

// WriteText renders all families in the Prometheus text format.
func (c *Counters) WriteText(w io.Writer) error {
	for _, mf := range c.Families() {
		if len(mf.GetMetric()) == 0 {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("telemetry: write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// counter builds one counter sample from alternating label name/value pairs.
func counter(v float64, labels ...string) *dto.Metric {
	m := &dto.Metric{Counter: &dto.Counter{Value: proto.Float64(v)}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{
			Name:  proto.String(labels[i]),
			Value: proto.String(labels[i+1]),
		})
	}
	return m
}

func sortMetrics(ms []*dto.Metric) {
	sort.Slice(ms, func(i, j int) bool {
		return labelKey(ms[i]) < labelKey(ms[j])
	})
}

func labelKey(m *dto.Metric) string {
	var s string
	for _, lp := range m.GetLabel() {
		s += lp.GetName() + "=" + lp.GetValue() + ","
	}
	return s
}
