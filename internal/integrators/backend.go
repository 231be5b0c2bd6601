package integrators

import (
	"context"
	"fmt"
	"strings"

	"github.com/san-kum/kinsim/internal/dynamo"
)

// Method selects the linear multistep family.
type Method int

const (
	// BDF is backward differentiation, for stiff problems.
	BDF Method = iota
	// Adams is the Adams predictor-corrector family, for non-stiff problems.
	Adams
)

func (m Method) String() string {
	switch m {
	case BDF:
		return "bdf"
	case Adams:
		return "adams"
	}
	return "unknown"
}

// ParseMethod maps a configuration name to a Method.
func ParseMethod(name string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bdf", "":
		return BDF, nil
	case "adams":
		return Adams, nil
	}
	return 0, fmt.Errorf("unknown integrator method %q: %w", name, dynamo.ErrInvalidConfig)
}

// Stats reports solver work counters.
type Stats struct {
	Steps        int `json:"steps"`
	RhsEvals     int `json:"rhs_evals"`
	JacEvals     int `json:"jac_evals"`
	LinSetups    int `json:"lin_setups"`
	ErrTestFails int `json:"err_test_fails"`
	ConvFails    int `json:"conv_fails"`
}

// Solver is a stiff ODE solver handle. A handle is created by a Backend,
// initialised once, configured, stepped and finally freed.
type Solver interface {
	Init(rhs dynamo.RhsEvaluator, t0 float64, y0 []float64) error
	SetTolerances(rtol, atol float64) error
	AttachLinearSolver(ls LinearSolver, jac Matrix) error
	// StepTo advances the solution to tout, taking as many internal steps as
	// needed, and writes it into y. It returns the time reached.
	StepTo(ctx context.Context, tout float64, y []float64) (float64, error)
	Stats() Stats
	Free()
}

// Limiter is implemented by solvers that accept step-size and work limits.
type Limiter interface {
	SetLimits(maxSteps int, initialStep, minStep, maxStep float64) error
}

// Matrix is a Jacobian storage handle.
type Matrix interface {
	Rows() int
	Free()
}

// LinearSolver is a handle for the Newton-system solver attached to a Solver.
type LinearSolver interface {
	Free()
}

// Backend creates the three native resources owned by a Session.
type Backend interface {
	NewSolver(method Method) (Solver, error)
	NewDenseMatrix(n int) (Matrix, error)
	NewLinearSolver(y []float64, jac Matrix) (LinearSolver, error)
}
