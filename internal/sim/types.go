package sim

import (
	"fmt"

	"github.com/san-kum/kinsim/internal/coord"
	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/integrators"
	"github.com/san-kum/kinsim/internal/kinetic"
	"github.com/san-kum/kinsim/internal/physics"
	"github.com/san-kum/kinsim/internal/schedule"
)

// Model is the physics a run advances.
type Model interface {
	coord.Physics
	Name() string
	Layout() kinetic.Layout
	InitialState(st *kinetic.State) error
	FillMoments(st *kinetic.State)
	Summarize(st *kinetic.State) physics.Summary
}

// Recorder persists the outputs the scheduler selects.
type Recorder interface {
	WriteMoments(t float64, s physics.Summary) error
	WriteDfns(t float64, st *kinetic.State) error
}

type Metric interface {
	Name() string
	Observe(t float64, s physics.Summary)
	Value() float64
	Reset()
}

// Progress is reported to observers after every accepted output.
type Progress struct {
	Time      float64
	FinalTime float64
	Output    int
	Outputs   int
	Decision  schedule.Decision
	Summary   physics.Summary
}

type Observer interface {
	OnOutput(p Progress)
}

type Config struct {
	Integrator   integrators.Config
	Schedule     schedule.Config
	Participants int
}

func (c Config) Validate() error {
	if c.Participants < 1 {
		return fmt.Errorf("participants=%d must be at least 1: %w", c.Participants, dynamo.ErrInvalidConfig)
	}
	if err := c.Integrator.Validate(); err != nil {
		return err
	}
	return c.Schedule.Validate()
}

type Result struct {
	// Outputs counts the initial state plus every accepted output advance.
	Outputs     int
	Time        float64
	Final       dynamo.PackedState
	Initial     physics.Summary
	Last        physics.Summary
	Stats       integrators.Stats
	Broadcasts  int
	Evaluations []int
	Stopped     bool
	Metrics     map[string]float64
}
