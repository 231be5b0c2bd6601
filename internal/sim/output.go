package sim

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/kinetic"
	"github.com/san-kum/kinsim/internal/physics"
	"github.com/san-kum/kinsim/internal/schedule"
)

// outputSink turns accepted output advances into recorder writes, metric
// observations and progress reports.
type outputSink struct {
	model     Model
	layout    kinetic.Layout
	sched     *schedule.Scheduler
	recorder  Recorder
	metrics   []Metric
	observers []Observer
	logger    *zap.Logger

	diag    *kinetic.State
	outputs int
	last    physics.Summary
	stopped bool
}

// initial writes the step-0 snapshot through both writers.
func (o *outputSink) initial(t float64, st *kinetic.State) error {
	o.diag.CopyFrom(st)
	o.model.FillMoments(o.diag)
	o.last = o.model.Summarize(o.diag)
	if err := o.recorder.WriteMoments(t, o.last); err != nil {
		return fmt.Errorf("initial moments: %w", err)
	}
	if err := o.recorder.WriteDfns(t, o.diag); err != nil {
		return fmt.Errorf("initial dfns: %w", err)
	}
	for _, m := range o.metrics {
		m.Observe(t, o.last)
	}
	return nil
}

func (o *outputSink) Output(t float64, y dynamo.PackedState) (bool, error) {
	o.outputs++
	d := o.sched.Decide(t)

	if d.Any() {
		if err := o.layout.Unpack(y, o.diag); err != nil {
			return false, err
		}
		o.model.FillMoments(o.diag)
		o.last = o.model.Summarize(o.diag)
	}
	if d.Moments {
		if err := o.recorder.WriteMoments(t, o.last); err != nil {
			return false, fmt.Errorf("write moments: %w", err)
		}
		for _, m := range o.metrics {
			m.Observe(t, o.last)
		}
	}
	if d.Dfns {
		if err := o.recorder.WriteDfns(t, o.diag); err != nil {
			return false, fmt.Errorf("write dfns: %w", err)
		}
	}

	times := o.sched.Times()
	p := Progress{
		Time:      t,
		FinalTime: times[len(times)-1],
		Output:    o.outputs,
		Outputs:   len(times),
		Decision:  d,
		Summary:   o.last,
	}
	for _, obs := range o.observers {
		obs.OnOutput(p)
	}

	if d.Stop {
		o.stopped = true
		o.logger.Info("stop requested, final snapshot written", zap.Float64("time", t))
		return false, nil
	}
	return true, nil
}
