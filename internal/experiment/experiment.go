package experiment

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/san-kum/kinsim/internal/config"
	"github.com/san-kum/kinsim/internal/sim"
	"github.com/san-kum/kinsim/internal/storage"
)

// Experiment turns a configuration into a ready-to-run driver.
type Experiment struct {
	cfg      *config.Config
	registry *Registry
	model    sim.Model
	driver   *sim.Driver
	logger   *zap.Logger
	params   map[string]float64
}

type Option func(*Experiment)

func WithLogger(l *zap.Logger) Option {
	return func(e *Experiment) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithParams overrides named model parameters (see Configurable).
func WithParams(p map[string]float64) Option {
	return func(e *Experiment) { e.params = p }
}

func New(cfg *config.Config, opts ...Option) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Experiment{cfg: cfg, registry: NewRegistry(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}

	model, err := e.registry.GetModel(cfg.Physics, cfg.Layout())
	if err != nil {
		return nil, err
	}
	if len(e.params) > 0 {
		c, ok := model.(Configurable)
		if !ok {
			return nil, fmt.Errorf("model %s has no parameters", model.Name())
		}
		for name, v := range e.params {
			if err := c.SetParam(name, v); err != nil {
				return nil, err
			}
		}
	}
	e.model = model
	return e, nil
}

func (e *Experiment) Model() sim.Model { return e.model }

// Setup builds the driver writing through recorder.
func (e *Experiment) Setup(recorder sim.Recorder, metrics []sim.Metric, observers ...sim.Observer) error {
	backend, err := e.registry.GetBackend("native")
	if err != nil {
		return err
	}
	e.driver = sim.New(e.model, backend, recorder, sim.WithLogger(e.logger))
	for _, m := range metrics {
		e.driver.AddMetric(m)
	}
	for _, o := range observers {
		e.driver.AddObserver(o)
	}
	return nil
}

func (e *Experiment) SimConfig() (sim.Config, error) {
	ic, err := e.cfg.IntegratorSettings()
	if err != nil {
		return sim.Config{}, err
	}
	return sim.Config{
		Integrator:   ic,
		Schedule:     e.cfg.Timestepping,
		Participants: e.cfg.Parallel.Participants,
	}, nil
}

func (e *Experiment) Run(ctx context.Context) (*sim.Result, error) {
	if e.driver == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	sc, err := e.SimConfig()
	if err != nil {
		return nil, err
	}
	return e.driver.Run(ctx, sc)
}

// Metadata describes the run for the store.
func (e *Experiment) Metadata() storage.RunMetadata {
	c, l := e.cfg, e.model.Layout()
	return storage.RunMetadata{
		Model:          e.model.Name(),
		Method:         c.Integrator.Method,
		RelTol:         c.Integrator.RelTol,
		AbsTol:         c.Integrator.AbsTol,
		Dt:             c.Timestepping.Dt,
		InitialTime:    c.Timestepping.InitialTime,
		NStep:          c.Timestepping.NStep,
		NWriteMoment:   c.Timestepping.MomentsInterval,
		NWriteDfns:     c.Timestepping.DfnsInterval,
		Participants:   c.Parallel.Participants,
		Flags:          l.Flags(),
		Grid:           l.Grid(),
		IonSpecies:     l.IonSpecies(),
		NeutralSpecies: l.NeutralSpecies(),
		StateSize:      l.Size(),
		Fields:         l.Fields(),
	}
}

// Outcome maps a driver result and error to the store's run outcome.
func Outcome(res *sim.Result, err error) storage.Outcome {
	o := storage.Outcome{Status: storage.StatusCompleted, Err: err}
	switch {
	case err != nil:
		o.Status = storage.StatusFailed
	case res != nil && res.Stopped:
		o.Status = storage.StatusStopped
	}
	if res != nil {
		o.FinalTime = res.Time
		o.Outputs = res.Outputs
		o.Stats = res.Stats
		o.Metrics = res.Metrics
	}
	return o
}
