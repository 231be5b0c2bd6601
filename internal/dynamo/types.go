package dynamo

import (
	"context"
	"math"
)

// PackedState is the flat, fixed-order vector encoding of the full evolved
// state at one instant.
type PackedState []float64

func (s PackedState) Clone() PackedState {
	c := make(PackedState, len(s))
	copy(c, s)
	return c
}

func (s PackedState) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s PackedState) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// RhsEvaluator computes ydot = f(t, y). Implementations must not retain y or
// ydot after returning. A returned error is reported through the solver's
// status and ends the advance in progress.
type RhsEvaluator interface {
	Evaluate(ctx context.Context, t float64, y, ydot PackedState) error
}

// RhsFunc adapts a plain function to RhsEvaluator.
type RhsFunc func(ctx context.Context, t float64, y, ydot PackedState) error

func (f RhsFunc) Evaluate(ctx context.Context, t float64, y, ydot PackedState) error {
	return f(ctx, t, y, ydot)
}

// OutputSink is called once per accepted output advance. Returning false
// requests early termination of the run.
type OutputSink interface {
	Output(t float64, y PackedState) (bool, error)
}

// OutputFunc adapts a plain function to OutputSink.
type OutputFunc func(t float64, y PackedState) (bool, error)

func (f OutputFunc) Output(t float64, y PackedState) (bool, error) {
	return f(t, y)
}
