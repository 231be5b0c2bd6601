// Package optim sweeps model parameters over a grid and ranks the runs by
// one of their metrics.
package optim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/san-kum/kinsim/internal/kinetic"
	"github.com/san-kum/kinsim/internal/physics"
	"github.com/san-kum/kinsim/internal/sim"
)

var ErrNoTrials = errors.New("optim: no trial completed")

// Runner is a configured run waiting for its recorder and metrics.
type Runner interface {
	Setup(recorder sim.Recorder, metrics []sim.Metric, observers ...sim.Observer) error
	Run(ctx context.Context) (*sim.Result, error)
}

// Builder creates a fresh run for one parameter point.
type Builder func(params map[string]float64) (Runner, error)

// Trial is one evaluated grid point. Err is set when the run failed; Value
// is then +Inf.
type Trial struct {
	Params map[string]float64
	Value  float64
	Err    error
}

type Outcome struct {
	Best      map[string]float64
	BestValue float64
	Trials    []Trial
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	metric     string
	metrics    func() []sim.Metric
	logger     *zap.Logger
}

type Option func(*GridSearch)

func WithLogger(l *zap.Logger) Option {
	return func(g *GridSearch) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGridSearch searches the cartesian product of ranges, minimising the
// named metric produced by metrics.
func NewGridSearch(params []string, ranges [][]float64, metric string, metrics func() []sim.Metric, opts ...Option) (*GridSearch, error) {
	if len(params) == 0 || len(params) != len(ranges) {
		return nil, fmt.Errorf("%d parameters for %d ranges", len(params), len(ranges))
	}
	for i, r := range ranges {
		if len(r) == 0 {
			return nil, fmt.Errorf("empty range for %s", params[i])
		}
	}
	g := &GridSearch{paramNames: params, ranges: ranges, metric: metric, metrics: metrics, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Size is the number of grid points.
func (g *GridSearch) Size() int {
	n := 1
	for _, r := range g.ranges {
		n *= len(r)
	}
	return n
}

// Search runs every grid point in order. Failed runs are recorded and
// skipped; cancellation of ctx aborts the sweep.
func (g *GridSearch) Search(ctx context.Context, build Builder) (*Outcome, error) {
	out := &Outcome{BestValue: math.Inf(1)}
	if err := g.searchRecursive(ctx, 0, map[string]float64{}, build, out); err != nil {
		return out, err
	}
	if out.Best == nil {
		return out, ErrNoTrials
	}
	return out, nil
}

func (g *GridSearch) searchRecursive(ctx context.Context, depth int, current map[string]float64, build Builder, out *Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth == len(g.paramNames) {
		trial := g.evaluate(ctx, current, build)
		if errors.Is(trial.Err, context.Canceled) || errors.Is(trial.Err, context.DeadlineExceeded) {
			return trial.Err
		}
		out.Trials = append(out.Trials, trial)
		if trial.Err == nil && trial.Value < out.BestValue {
			out.BestValue = trial.Value
			out.Best = trial.Params
		}
		return nil
	}

	name := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		next := make(map[string]float64, len(current)+1)
		for k, v := range current {
			next[k] = v
		}
		next[name] = val
		if err := g.searchRecursive(ctx, depth+1, next, build, out); err != nil {
			return err
		}
	}
	return nil
}

func (g *GridSearch) evaluate(ctx context.Context, params map[string]float64, build Builder) Trial {
	trial := Trial{Params: params, Value: math.Inf(1)}
	fail := func(err error) Trial {
		trial.Err = err
		g.logger.Warn("trial failed", zap.Any("params", params), zap.Error(err))
		return trial
	}

	run, err := build(params)
	if err != nil {
		return fail(err)
	}
	if err := run.Setup(discard{}, g.metrics()); err != nil {
		return fail(err)
	}
	res, err := run.Run(ctx)
	if err != nil {
		return fail(err)
	}
	v, ok := res.Metrics[g.metric]
	if !ok {
		return fail(fmt.Errorf("run produced no metric %q", g.metric))
	}
	trial.Value = v
	g.logger.Info("trial done", zap.Any("params", params), zap.String("metric", g.metric), zap.Float64("value", v))
	return trial
}

// Ranked returns the successful trials ordered by value, best first.
func (o *Outcome) Ranked() []Trial {
	var ok []Trial
	for _, t := range o.Trials {
		if t.Err == nil {
			ok = append(ok, t)
		}
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].Value < ok[j].Value })
	return ok
}

type discard struct{}

func (discard) WriteMoments(float64, physics.Summary) error { return nil }
func (discard) WriteDfns(float64, *kinetic.State) error     { return nil }
