package check

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/obsidianstack/umpire/server/internal/backend"
	"github.com/obsidianstack/umpire/server/internal/composite"
	"github.com/obsidianstack/umpire/server/internal/threshold"
)

// Validation messages returned to callers verbatim.
const (
	MsgMissingParameters = "missing parameters"
	MsgNotComposite      = "multiple metrics without a compose function"
)

// maxRangeSeconds is the largest range whose duration fits in time.Duration.
const maxRangeSeconds = math.MaxInt64 / int64(time.Second)

// ValidationError is a malformed or incomplete check request.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Request is a parsed /check request.
type Request struct {
	// Backend names the adapter to query.
	Backend string

	// Metrics holds one metric, or two when Compose is set.
	Metrics []string

	// Compose is zero for single-metric checks.
	Compose composite.Function

	// Query carries range, source and field; its Metric is filled per fetch.
	Query backend.RangeQuery

	Bounds threshold.Bounds

	// EmptyOK turns a NoData outcome into a passing check.
	EmptyOK bool
}

// Composite reports whether the request combines two metrics.
func (r Request) Composite() bool {
	return r.Compose != 0
}

// ParseRequest validates /check query parameters:
//
//	metric    required; comma-joined pair when compose is set
//	range     required; seconds, integer > 0
//	min, max  at least one required; float
//	backend   optional; defaults to defaultBackend
//	source    optional source filter
//	from      optional aggregation field (default value)
//	compose   optional: sum | divide | multiply
//	empty_ok  optional; any non-empty value means true
//
// Wrong metric counts for compose yield composite.ErrArity errors and an
// unknown compose name yields *composite.UnknownFunctionError. Every other
// problem is a *ValidationError.
func ParseRequest(params url.Values, defaultBackend string) (Request, error) {
	metric := params.Get("metric")
	rawRange := params.Get("range")
	rawMin, rawMax := params.Get("min"), params.Get("max")
	if metric == "" || rawRange == "" {
		return Request{}, &ValidationError{Msg: MsgMissingParameters}
	}

	var bounds threshold.Bounds
	if rawMin != "" {
		bounds.Min = new(float64)
	}
	if rawMax != "" {
		bounds.Max = new(float64)
	}
	if !bounds.Set() {
		return Request{}, &ValidationError{Msg: MsgMissingParameters}
	}

	secs, err := strconv.ParseInt(rawRange, 10, 64)
	if err != nil || secs <= 0 {
		return Request{}, invalid("range must be a positive number of seconds, got %q", rawRange)
	}
	if secs > maxRangeSeconds {
		return Request{}, invalid("range must be at most %d seconds, got %q", maxRangeSeconds, rawRange)
	}

	if bounds.Min != nil {
		if *bounds.Min, err = parseBound("min", rawMin); err != nil {
			return Request{}, err
		}
	}
	if bounds.Max != nil {
		if *bounds.Max, err = parseBound("max", rawMax); err != nil {
			return Request{}, err
		}
	}

	field, err := backend.ParseField(params.Get("from"))
	if err != nil {
		return Request{}, &ValidationError{Msg: err.Error()}
	}

	name := params.Get("backend")
	if name == "" {
		name = defaultBackend
	}

	req := Request{
		Backend: name,
		Metrics: splitMetrics(metric),
		Query: backend.RangeQuery{
			Range:  time.Duration(secs) * time.Second,
			Source: params.Get("source"),
			Field:  field,
		},
		Bounds:  bounds,
		EmptyOK: params.Get("empty_ok") != "",
	}

	compose := params.Get("compose")
	if compose == "" {
		switch len(req.Metrics) {
		case 0:
			return Request{}, &ValidationError{Msg: MsgMissingParameters}
		case 1:
			return req, nil
		default:
			return Request{}, &ValidationError{Msg: MsgNotComposite}
		}
	}

	if err := composite.CheckArity(len(req.Metrics)); err != nil {
		return Request{}, err
	}
	fn, err := composite.ParseFunction(compose)
	if err != nil {
		return Request{}, err
	}
	req.Compose = fn
	return req, nil
}

// parseBound parses a finite float bound.
func parseBound(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, invalid("%s must be a finite number, got %q", name, raw)
	}
	return v, nil
}

// splitMetrics splits a comma-joined metric list, dropping empty elements.
func splitMetrics(s string) []string {
	var out []string
	for _, m := range strings.Split(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}
