package threshold

import "github.com/obsidianstack/umpire/server/internal/backend"

// Bounds are the optional limits a series mean is checked against.
// A nil bound is not checked.
type Bounds struct {
	Min *float64
	Max *float64
}

// Set reports whether at least one bound is present.
func (b Bounds) Set() bool {
	return b.Min != nil || b.Max != nil
}

// Outcome is the result of one evaluation. When NoData is true, Value and
// Violated are meaningless.
type Outcome struct {
	NoData   bool
	Value    float64
	Violated bool
}

// Evaluate reduces s to its mean and checks it against b.
//
// An empty series yields NoData regardless of bounds. Otherwise the
// outcome is violated when the mean is strictly below Min or strictly
// above Max; a mean equal to a bound passes.
func Evaluate(s backend.Series, b Bounds) Outcome {
	if len(s) == 0 {
		return Outcome{NoData: true}
	}
	v := Mean(s)
	return Outcome{
		Value:    v,
		Violated: (b.Min != nil && v < *b.Min) || (b.Max != nil && v > *b.Max),
	}
}

// Mean returns the arithmetic mean of s, or 0 for an empty series.
// It is computed as a running mean so large finite samples do not
// overflow an intermediate sum.
func Mean(s backend.Series) float64 {
	var m float64
	for i, v := range s {
		m += (v - m) / float64(i+1)
	}
	return m
}
