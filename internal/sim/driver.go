// Package sim runs a kinetic simulation across a group of participants.
//
// The Driver builds the packed initial state, writes the step-0 snapshot,
// and then lets the root participant's integrator session advance through
// the output schedule while the worker participants mirror every
// derivative evaluation. The whole group runs under one errgroup, so the
// first failure cancels every collective still waiting.
package sim

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/kinsim/internal/comm"
	"github.com/san-kum/kinsim/internal/coord"
	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/integrators"
	"github.com/san-kum/kinsim/internal/kinetic"
	"github.com/san-kum/kinsim/internal/schedule"
)

// GroupFunc creates the communicators of a group of the given size.
type GroupFunc func(size int) ([]comm.Communicator, error)

func localGroup(size int) ([]comm.Communicator, error) {
	eps, err := comm.Group(size)
	if err != nil {
		return nil, err
	}
	return comm.Communicators(eps), nil
}

type Driver struct {
	model     Model
	backend   integrators.Backend
	recorder  Recorder
	metrics   []Metric
	observers []Observer
	group     GroupFunc
	logger    *zap.Logger
}

type Option func(*Driver)

func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithGroup replaces the in-process group, e.g. to observe traffic.
func WithGroup(g GroupFunc) Option {
	return func(d *Driver) { d.group = g }
}

func New(model Model, backend integrators.Backend, recorder Recorder, opts ...Option) *Driver {
	d := &Driver{
		model:    model,
		backend:  backend,
		recorder: recorder,
		group:    localGroup,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) AddMetric(m Metric)     { d.metrics = append(d.metrics, m) }
func (d *Driver) AddObserver(o Observer) { d.observers = append(d.observers, o) }

func (d *Driver) Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sched, err := schedule.New(cfg.Schedule, schedule.WithLogger(d.logger))
	if err != nil {
		return nil, err
	}
	if len(sched.Times()) == 0 {
		return nil, fmt.Errorf("no output times for nstep=%d: %w", cfg.Schedule.NStep, dynamo.ErrInvalidConfig)
	}

	layout := d.model.Layout()
	comms, err := d.group(cfg.Participants)
	if err != nil {
		return nil, err
	}
	if len(comms) != cfg.Participants {
		return nil, fmt.Errorf("%w: group has %d communicators, want %d", dynamo.ErrCoordination, len(comms), cfg.Participants)
	}

	block := coord.NewBlock(layout)
	root, err := coord.NewRootDriver(comms[0], d.model, block, coord.WithLogger(d.logger))
	if err != nil {
		return nil, err
	}
	workers := make([]*coord.WorkerLoop, 0, len(comms)-1)
	for _, c := range comms[1:] {
		w, err := coord.NewWorkerLoop(c, d.model, block, coord.WithLogger(d.logger))
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}

	st := kinetic.NewState(layout)
	if err := d.model.InitialState(st); err != nil {
		return nil, err
	}
	y0 := make(dynamo.PackedState, layout.Size())
	if err := layout.Pack(st, y0); err != nil {
		return nil, err
	}

	for _, m := range d.metrics {
		m.Reset()
	}
	sink := &outputSink{
		model:     d.model,
		layout:    layout,
		sched:     sched,
		recorder:  d.recorder,
		metrics:   d.metrics,
		observers: d.observers,
		logger:    d.logger,
		diag:      kinetic.NewState(layout),
	}
	t0 := cfg.Schedule.InitialTime
	if err := sink.initial(t0, st); err != nil {
		return nil, err
	}

	result := &Result{
		Outputs:     1,
		Time:        t0,
		Initial:     sink.last,
		Evaluations: make([]int, len(comms)),
		Metrics:     make(map[string]float64),
	}

	d.logger.Info("run started",
		zap.String("model", d.model.Name()),
		zap.Int("size", layout.Size()),
		zap.Int("participants", cfg.Participants),
		zap.Int("outputs", len(sched.Times())),
		zap.Stringer("method", cfg.Integrator.Method))

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range workers {
		i, w := i, w
		g.Go(func() error {
			n, err := w.Run(gctx)
			result.Evaluations[i+1] = n
			return err
		})
	}
	g.Go(func() error {
		defer func() {
			if err := root.Stop(gctx); err != nil {
				d.logger.Warn("stop broadcast failed", zap.Error(err))
			}
		}()

		session, err := integrators.Open(d.backend, cfg.Integrator, root, t0, y0, integrators.WithLogger(d.logger))
		if err != nil {
			return err
		}
		n, err := session.Run(gctx, sched.Times(), sink)
		result.Outputs = n
		result.Time = session.Time()
		result.Final = session.State().Clone()
		result.Stats = session.Stats()
		return err
	})
	err = g.Wait()

	result.Broadcasts = root.Broadcasts()
	result.Evaluations[0] = root.Evaluations()
	result.Last = sink.last
	result.Stopped = sink.stopped
	for _, m := range d.metrics {
		result.Metrics[m.Name()] = m.Value()
	}

	if err != nil {
		d.logger.Error("run failed", zap.Float64("time", result.Time), zap.Error(err))
		return result, err
	}
	d.logger.Info("run finished",
		zap.Float64("time", result.Time),
		zap.Int("outputs", result.Outputs),
		zap.Int("steps", result.Stats.Steps),
		zap.Int("rhs_evals", result.Stats.RhsEvals),
		zap.Bool("stopped", result.Stopped))
	return result, nil
}
