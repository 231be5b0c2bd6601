package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for time-integration runs.
var (
	// ErrSolverAllocation indicates the solver, its Jacobian or its linear
	// solver could not be created or configured.
	ErrSolverAllocation = errors.New("dynamo: solver allocation failed")

	// ErrSizeMismatch indicates a packed buffer whose length does not match
	// the layout computed for the run configuration.
	ErrSizeMismatch = errors.New("dynamo: packed state size mismatch")

	// ErrSolverStep indicates an advance-to-time call returned a failure.
	ErrSolverStep = errors.New("dynamo: solver step failed")

	// ErrStepTooSmall indicates adaptive timestep became too small.
	ErrStepTooSmall = errors.New("dynamo: adaptive timestep below minimum")

	// ErrTooMuchWork indicates the solver exceeded its internal step budget
	// before reaching the requested time.
	ErrTooMuchWork = errors.New("dynamo: too many internal steps before output time")

	// ErrInvalidConfig indicates a configuration value outside its valid range.
	ErrInvalidConfig = errors.New("dynamo: invalid configuration")

	// ErrInvalidState indicates a state vector with invalid values.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrCoordination indicates a collective operation or a participant of
	// the process group failed.
	ErrCoordination = errors.New("dynamo: process group coordination failed")
)

// SimulationError wraps an error with simulation context.
type SimulationError struct {
	Step    int
	Time    float64
	Wrapped error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("step %d (t=%.6g): %v", e.Step, e.Time, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}
