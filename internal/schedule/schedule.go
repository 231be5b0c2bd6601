package schedule

import (
	"fmt"
	"math"
	"os"
	"slices"

	"go.uber.org/zap"

	"github.com/san-kum/kinsim/internal/dynamo"
)

// Config holds the time-stepping parameters of a run.
type Config struct {
	Dt              float64 `yaml:"dt" json:"dt"`
	InitialTime     float64 `yaml:"initial_time" json:"initial_time"`
	NStep           int     `yaml:"nstep" json:"nstep"`
	MomentsInterval int     `yaml:"nwrite_moments" json:"nwrite_moments"`
	DfnsInterval    int     `yaml:"nwrite_dfns" json:"nwrite_dfns"`
	StopFile        string  `yaml:"stop_file" json:"stop_file,omitempty"`
}

func (c Config) Validate() error {
	if !(c.Dt > 0) || math.IsInf(c.Dt, 0) {
		return fmt.Errorf("dt=%g must be positive: %w", c.Dt, dynamo.ErrInvalidConfig)
	}
	if math.IsNaN(c.InitialTime) || math.IsInf(c.InitialTime, 0) {
		return fmt.Errorf("initial time %g: %w", c.InitialTime, dynamo.ErrInvalidConfig)
	}
	if c.NStep <= 0 {
		return fmt.Errorf("nstep=%d must be positive: %w", c.NStep, dynamo.ErrInvalidConfig)
	}
	if c.MomentsInterval <= 0 || c.DfnsInterval <= 0 {
		return fmt.Errorf("write intervals moments=%d dfns=%d must be positive: %w",
			c.MomentsInterval, c.DfnsInterval, dynamo.ErrInvalidConfig)
	}
	return nil
}

// Schedule is the immutable set of output times of a run.
type Schedule struct {
	MomentsIndices []int
	DfnsIndices    []int
	MomentsTimes   []float64
	DfnsTimes      []float64
	// Times is the sorted, duplicate-free union of MomentsTimes and DfnsTimes.
	Times []float64
}

func indices(nstep, interval int) []int {
	if nstep <= 0 || interval <= 0 {
		return nil
	}
	out := make([]int, 0, nstep/interval)
	for i := interval; i <= nstep; i += interval {
		out = append(out, i)
	}
	return out
}

func toTimes(dt, time0 float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, k := range idx {
		out[i] = time0 + float64(k)*dt
	}
	return out
}

// Build computes the full schedule for the given parameters.
func Build(dt, time0 float64, nstep, momentsInterval, dfnsInterval int) Schedule {
	mi := indices(nstep, momentsInterval)
	di := indices(nstep, dfnsInterval)

	union := make([]int, 0, len(mi)+len(di))
	union = append(union, mi...)
	union = append(union, di...)
	slices.Sort(union)
	union = slices.Compact(union)

	return Schedule{
		MomentsIndices: mi,
		DfnsIndices:    di,
		MomentsTimes:   toTimes(dt, time0, mi),
		DfnsTimes:      toTimes(dt, time0, di),
		Times:          toTimes(dt, time0, union),
	}
}

// ComputeOutputTimes returns the sorted unique union of the moments and
// distribution-function output times.
func ComputeOutputTimes(dt, time0 float64, nstep, momentsInterval, dfnsInterval int) []float64 {
	return Build(dt, time0, nstep, momentsInterval, dfnsInterval).Times
}

var matchTol = math.Sqrt(math.Nextafter(1, 2) - 1)

// Match reports whether a and b are the same output time up to rounding.
func Match(a, b float64) bool {
	tol := matchTol * math.Max(math.Abs(a), math.Abs(b))
	if tol < 1e-14 {
		tol = 1e-14
	}
	return math.Abs(a-b) <= tol
}

func matchAny(t float64, times []float64) bool {
	// times is sorted; search around the insertion point.
	i, _ := slices.BinarySearch(times, t)
	for _, j := range []int{i - 1, i} {
		if j >= 0 && j < len(times) && Match(t, times[j]) {
			return true
		}
	}
	return false
}

func ShouldWriteMoments(t float64, momentsTimes []float64) bool {
	return matchAny(t, momentsTimes)
}

func ShouldWriteDfns(t float64, dfnsTimes []float64) bool {
	return matchAny(t, dfnsTimes)
}

// ShouldStopNow reports whether a file exists at path. An empty path never
// requests a stop.
func ShouldStopNow(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Decision is the per-output verdict of a Scheduler.
type Decision struct {
	Moments bool
	Dfns    bool
	Stop    bool
}

// FinalIndex is the largest scheduled step index, or 0 when nothing is
// scheduled.
func (s Schedule) FinalIndex() int {
	last := 0
	if n := len(s.MomentsIndices); n > 0 {
		last = s.MomentsIndices[n-1]
	}
	if n := len(s.DfnsIndices); n > 0 {
		last = max(last, s.DfnsIndices[n-1])
	}
	return last
}

func (d Decision) Any() bool { return d.Moments || d.Dfns }

type Scheduler struct {
	cfg    Config
	sched  Schedule
	logger *zap.Logger
}

type Option func(*Scheduler)

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(cfg Config, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		cfg:    cfg,
		sched:  Build(cfg.Dt, cfg.InitialTime, cfg.NStep, cfg.MomentsInterval, cfg.DfnsInterval),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Debug("output schedule built",
		zap.Int("outputs", len(s.sched.Times)),
		zap.Int("moments", len(s.sched.MomentsTimes)),
		zap.Int("dfns", len(s.sched.DfnsTimes)))
	if last := s.sched.FinalIndex(); last > 0 && last < cfg.NStep {
		s.logger.Warn("run ends before nstep: no write interval divides it",
			zap.Int("nstep", cfg.NStep),
			zap.Int("final_index", last),
			zap.Float64("final_time", cfg.InitialTime+float64(last)*cfg.Dt),
			zap.Int("nwrite_moments", cfg.MomentsInterval),
			zap.Int("nwrite_dfns", cfg.DfnsInterval))
	}
	return s, nil
}

func (s *Scheduler) Config() Config     { return s.cfg }
func (s *Scheduler) Schedule() Schedule { return s.sched }
func (s *Scheduler) Times() []float64   { return s.sched.Times }

// Decide is called once per accepted output step.
func (s *Scheduler) Decide(t float64) Decision {
	d := Decision{
		Moments: ShouldWriteMoments(t, s.sched.MomentsTimes),
		Dfns:    ShouldWriteDfns(t, s.sched.DfnsTimes),
	}
	if ShouldStopNow(s.cfg.StopFile) {
		s.logger.Info("stop file found", zap.String("path", s.cfg.StopFile), zap.Float64("time", t))
		d = Decision{Moments: true, Dfns: true, Stop: true}
	}
	return d
}
