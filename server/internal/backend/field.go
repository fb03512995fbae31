package backend

import (
	"fmt"
	"math"
)

// Field selects which statistical facet of a backend's fan-in aggregation
// becomes the sample value of each bucket.
type Field int

const (
	FieldValue Field = iota
	FieldCount
	FieldMin
	FieldMax
	FieldSum
	FieldSumOfSquares
	FieldSumOfMeans
	FieldSummarizedCount
)

var fieldNames = map[Field]string{
	FieldValue:           "value",
	FieldCount:           "count",
	FieldMin:             "min",
	FieldMax:             "max",
	FieldSum:             "sum",
	FieldSumOfSquares:    "sum_of_squares",
	FieldSumOfMeans:      "sum_of_means",
	FieldSummarizedCount: "summarized_count",
}

// librato's summarized measurement keys.
var libratoKeys = map[Field]string{
	FieldValue:           "value",
	FieldCount:           "count",
	FieldMin:             "min",
	FieldMax:             "max",
	FieldSum:             "sum",
	FieldSumOfSquares:    "sum_squares",
	FieldSumOfMeans:      "sum_means",
	FieldSummarizedCount: "summarized",
}

// ParseField resolves a field name. The empty string is FieldValue, and the
// librato wire names (sum_squares, sum_means, summarized) are accepted as
// aliases.
func ParseField(s string) (Field, error) {
	if s == "" {
		return FieldValue, nil
	}
	for f, name := range fieldNames {
		if s == name || s == libratoKeys[f] {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown aggregation field %q", s)
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// reduce collapses the values several sources reported for one bucket into
// a single sample according to f:
//
//	value                 mean
//	count, summarized     number of sources
//	min, max              extremum
//	sum, sum_of_means     sum
//	sum_of_squares        sum of squares
//
// vals must be non-empty.
func reduce(vals []float64, f Field) float64 {
	switch f {
	case FieldCount, FieldSummarizedCount:
		return float64(len(vals))
	case FieldMin:
		m := vals[0]
		for _, v := range vals[1:] {
			m = min(m, v)
		}
		return m
	case FieldMax:
		m := vals[0]
		for _, v := range vals[1:] {
			m = max(m, v)
		}
		return m
	case FieldSum, FieldSumOfMeans:
		var s float64
		for _, v := range vals {
			s += v
		}
		return s
	case FieldSumOfSquares:
		var s float64
		for _, v := range vals {
			s += v * v
		}
		return s
	default:
		var s float64
		for _, v := range vals {
			s += v
		}
		return s / float64(len(vals))
	}
}

// reduceBuckets applies reduce to every bucket in order. Buckets with no
// values are dropped rather than emitted as placeholders, and so are
// buckets whose reduction overflows to an infinity.
func reduceBuckets(buckets [][]float64, f Field) Series {
	out := make(Series, 0, len(buckets))
	for _, b := range buckets {
		if len(b) == 0 {
			continue
		}
		v := reduce(b, f)
		if math.IsInf(v, 0) || math.IsNaN(v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
