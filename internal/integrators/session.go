package integrators

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/san-kum/kinsim/internal/dynamo"
)

// Config selects the solver family, its tolerances and its work limits.
type Config struct {
	Method      Method
	RelTol      float64
	AbsTol      float64
	MaxSteps    int
	InitialStep float64
	MinStep     float64
	MaxStep     float64
}

func DefaultConfig() Config {
	return Config{
		Method:   BDF,
		RelTol:   1e-5,
		AbsTol:   1e-8,
		MaxSteps: 5000,
	}
}

func (c Config) Validate() error {
	if c.Method != BDF && c.Method != Adams {
		return fmt.Errorf("method %d: %w", c.Method, dynamo.ErrInvalidConfig)
	}
	if c.RelTol < 0 || c.AbsTol < 0 || (c.RelTol == 0 && c.AbsTol == 0) {
		return fmt.Errorf("tolerances rtol=%g atol=%g: %w", c.RelTol, c.AbsTol, dynamo.ErrInvalidConfig)
	}
	if c.MaxSteps < 0 || c.InitialStep < 0 || c.MinStep < 0 || c.MaxStep < 0 {
		return fmt.Errorf("step limits must be non-negative: %w", dynamo.ErrInvalidConfig)
	}
	return nil
}

// Phase is the lifecycle state of a Session.
type Phase int

const (
	Uninitialized Phase = iota
	Configured
	Running
	Completed
	Failed
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Session owns one solver handle, its dense Jacobian and its linear solver
// for the duration of a run. The three resources are released together, in
// reverse order of acquisition, exactly once.
type Session struct {
	cfg    Config
	logger *zap.Logger

	solver Solver
	jac    Matrix
	ls     LinearSolver

	y     dynamo.PackedState
	t     float64
	count int
	phase Phase

	released bool
	stats    Stats
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open creates and configures a solver session for y0 at t0. Any failure is
// reported as dynamo.ErrSolverAllocation after the resources acquired so far
// have been released.
func Open(backend Backend, cfg Config, rhs dynamo.RhsEvaluator, t0 float64, y0 dynamo.PackedState, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:    cfg,
		logger: zap.NewNop(),
		y:      y0.Clone(),
		t:      t0,
		count:  1,
		phase:  Uninitialized,
	}
	for _, opt := range opts {
		opt(s)
	}

	fail := func(stage string, err error) (*Session, error) {
		s.release()
		return nil, fmt.Errorf("%w: %s: %w", dynamo.ErrSolverAllocation, stage, err)
	}

	solver, err := backend.NewSolver(cfg.Method)
	if err != nil {
		return fail("create solver", err)
	}
	s.solver = solver

	if err := solver.Init(rhs, t0, s.y); err != nil {
		return fail("initialize solver", err)
	}
	if err := solver.SetTolerances(cfg.RelTol, cfg.AbsTol); err != nil {
		return fail("set tolerances", err)
	}
	if lim, ok := solver.(Limiter); ok {
		if err := lim.SetLimits(cfg.MaxSteps, cfg.InitialStep, cfg.MinStep, cfg.MaxStep); err != nil {
			return fail("set limits", err)
		}
	}

	jac, err := backend.NewDenseMatrix(len(s.y))
	if err != nil {
		return fail("create jacobian", err)
	}
	s.jac = jac

	ls, err := backend.NewLinearSolver(s.y, jac)
	if err != nil {
		return fail("create linear solver", err)
	}
	s.ls = ls

	if err := solver.AttachLinearSolver(ls, jac); err != nil {
		return fail("attach linear solver", err)
	}

	s.phase = Configured
	s.logger.Debug("solver session configured",
		zap.Stringer("method", cfg.Method),
		zap.Int("size", len(s.y)),
		zap.Float64("rtol", cfg.RelTol),
		zap.Float64("atol", cfg.AbsTol))
	return s, nil
}

func (s *Session) Phase() Phase              { return s.phase }
func (s *Session) Time() float64             { return s.t }
func (s *Session) State() dynamo.PackedState { return s.y }
func (s *Session) Count() int                { return s.count }

// Stats returns the solver counters; after release it returns the last
// counters observed before the handle was freed.
func (s *Session) Stats() Stats {
	if s.solver != nil {
		return s.solver.Stats()
	}
	return s.stats
}

// Advance runs the solver up to tout.
func (s *Session) Advance(ctx context.Context, tout float64) error {
	if s.phase != Running && s.phase != Configured {
		return fmt.Errorf("advance in phase %s", s.phase)
	}
	if s.solver == nil {
		return errors.New("session resources already released")
	}
	if tout <= s.t {
		s.phase = Failed
		return &dynamo.SimulationError{
			Step:    s.count,
			Time:    s.t,
			Wrapped: fmt.Errorf("output time %g does not follow %g: %w", tout, s.t, dynamo.ErrInvalidConfig),
		}
	}

	tret, err := s.solver.StepTo(ctx, tout, s.y)
	if err != nil {
		s.phase = Failed
		s.t = tret
		return &dynamo.SimulationError{
			Step:    s.count,
			Time:    tret,
			Wrapped: fmt.Errorf("%w: %w", dynamo.ErrSolverStep, err),
		}
	}
	s.t = tret
	return nil
}

// Run advances through times in order, calling sink after every successful
// advance, and stops early when the sink returns false. It returns the
// number of accepted output advances counting the initial state as one.
// Solver resources are released before Run returns.
func (s *Session) Run(ctx context.Context, times []float64, sink dynamo.OutputSink) (int, error) {
	if s.phase != Configured {
		return s.count, fmt.Errorf("run in phase %s", s.phase)
	}
	defer s.Close()

	s.phase = Running
	for _, tout := range times {
		if err := s.Advance(ctx, tout); err != nil {
			s.logger.Error("advance failed",
				zap.Int("output", s.count),
				zap.Float64("target", tout),
				zap.Error(err))
			return s.count, err
		}
		s.count++

		cont, err := sink.Output(s.t, s.y)
		if err != nil {
			s.phase = Failed
			return s.count, &dynamo.SimulationError{Step: s.count - 1, Time: s.t, Wrapped: err}
		}
		if !cont {
			s.logger.Info("early termination requested",
				zap.Float64("time", s.t),
				zap.Int("outputs", s.count))
			break
		}
	}

	s.phase = Completed
	return s.count, nil
}

// Close releases the linear solver, the Jacobian and the solver handle, in
// that order. Later calls are no-ops.
func (s *Session) Close() {
	if s.released {
		return
	}
	s.release()
}

func (s *Session) release() {
	s.released = true
	if s.solver != nil {
		s.stats = s.solver.Stats()
	}
	if s.ls != nil {
		s.ls.Free()
		s.ls = nil
	}
	if s.jac != nil {
		s.jac.Free()
		s.jac = nil
	}
	if s.solver != nil {
		s.solver.Free()
		s.solver = nil
	}
	if s.phase != Failed && s.phase != Completed && s.phase != Uninitialized {
		s.phase = Completed
	}
	s.logger.Debug("solver session released", zap.Stringer("phase", s.phase))
}
