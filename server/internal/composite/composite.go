package composite

import (
	"errors"
	"fmt"
	"math"

	"github.com/obsidianstack/umpire/server/internal/backend"
)

// Function is a binary sample-by-sample operation over two series.
type Function int

const (
	Sum Function = iota + 1
	Divide
	Multiply
)

func (f Function) String() string {
	switch f {
	case Sum:
		return "sum"
	case Divide:
		return "divide"
	case Multiply:
		return "multiply"
	default:
		return fmt.Sprintf("function(%d)", int(f))
	}
}

// ErrArity is matched by every wrong-number-of-metrics failure.
var ErrArity = errors.New("composite metrics take exactly two metrics")

// Arity failures. Both satisfy errors.Is(err, ErrArity).
var (
	ErrTooFewMetrics  = &arityError{msg: "too few metrics"}
	ErrTooManyMetrics = &arityError{msg: "too many metrics"}
)

type arityError struct{ msg string }

func (e *arityError) Error() string        { return e.msg }
func (e *arityError) Is(target error) bool { return target == ErrArity }

// UnknownFunctionError reports a compose name that is not sum, divide or multiply.
type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return "invalid compose function: " + e.Name
}

// ParseFunction resolves a compose parameter to a Function.
func ParseFunction(name string) (Function, error) {
	switch name {
	case "sum":
		return Sum, nil
	case "divide":
		return Divide, nil
	case "multiply":
		return Multiply, nil
	default:
		return 0, &UnknownFunctionError{Name: name}
	}
}

// CheckArity validates the number of metrics handed to a composition.
func CheckArity(n int) error {
	switch {
	case n < 2:
		return ErrTooFewMetrics
	case n > 2:
		return ErrTooManyMetrics
	default:
		return nil
	}
}

// ComposeAll is Compose with the arity check applied to a list of series.
func ComposeAll(fn Function, series []backend.Series) (backend.Series, error) {
	if err := CheckArity(len(series)); err != nil {
		return nil, err
	}
	return Compose(fn, series[0], series[1])
}

// Compose combines a and b index by index into a new series:
//
//	sum       a[i] + b[i], truncated to the shorter input
//	divide    a[i] / b[i], skipping i where b[i] is absent or zero
//	multiply  a[i] * b[i], skipping i where b[i] is absent
//
// Skipped positions are omitted, so the result may be shorter than both
// inputs. Results that overflow to an infinity are omitted the same way.
// Neither input is modified.
func Compose(fn Function, a, b backend.Series) (backend.Series, error) {
	n := min(len(a), len(b))
	out := make(backend.Series, 0, n)

	switch fn {
	case Sum:
		for i := 0; i < n; i++ {
			out = appendFinite(out, a[i]+b[i])
		}
	case Divide:
		for i := 0; i < n; i++ {
			if b[i] == 0 {
				continue
			}
			out = appendFinite(out, a[i]/b[i])
		}
	case Multiply:
		for i := 0; i < n; i++ {
			out = appendFinite(out, a[i]*b[i])
		}
	default:
		return nil, &UnknownFunctionError{Name: fn.String()}
	}
	return out, nil
}

func appendFinite(s backend.Series, v float64) backend.Series {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return s
	}
	return append(s, v)
}
