package integrators

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/kinsim/internal/dynamo"
)

const (
	maxNewtonIters = 4
	newtonTol      = 0.1
	jacMaxAge      = 20
	gammaDrift     = 0.3
	maxConvRetries = 2
)

var sqrtEps = math.Sqrt(2.220446049250313e-16)

// multistep is a variable-step linear multistep solver. Both families start
// with backward Euler and switch to order two once a step of history exists:
// BDF2 for BDF, an AB2 predictor with the trapezoidal (AM2) corrector for
// Adams. The implicit corrector is solved with a modified Newton iteration
// on a finite-difference dense Jacobian.
type multistep struct {
	method Method
	rhs    dynamo.RhsEvaluator
	n      int

	t, h, hPrev float64
	y, yPrev    []float64
	f, fPrev    []float64
	needF       bool

	rtol, atol float64

	maxSteps               int
	initialStep, minStep   float64
	maxStep                float64
	safety                 float64
	minScale, maxScale     float64
	jac                    *DenseMatrix
	ls                     *DenseLinearSolver
	jacAge                 int
	jacFresh               bool
	gammaSetup             float64
	haveSetup              bool
	pred, ycur, fcur, base []float64
	delta, resid, ewt, tmp []float64

	stats       Stats
	initialized bool
	freed       bool
}

func newMultistep(method Method) *multistep {
	return &multistep{
		method:   method,
		maxSteps: 500,
		safety:   0.9,
		minScale: 0.2,
		maxScale: 2.0,
		rtol:     1e-4,
		atol:     1e-8,
	}
}

func (s *multistep) Init(rhs dynamo.RhsEvaluator, t0 float64, y0 []float64) error {
	if s.freed {
		return errors.New("solver already freed")
	}
	if rhs == nil {
		return errors.New("rhs evaluator is required")
	}
	if len(y0) == 0 {
		return errors.New("initial state is empty")
	}
	if !dynamo.PackedState(y0).IsValid() {
		return dynamo.ErrInvalidState
	}

	n := len(y0)
	s.rhs = rhs
	s.n = n
	s.t = t0
	s.y = append(make([]float64, 0, n), y0...)
	s.yPrev = make([]float64, n)
	s.f = make([]float64, n)
	s.fPrev = make([]float64, n)
	s.pred = make([]float64, n)
	s.ycur = make([]float64, n)
	s.fcur = make([]float64, n)
	s.base = make([]float64, n)
	s.delta = make([]float64, n)
	s.resid = make([]float64, n)
	s.ewt = make([]float64, n)
	s.tmp = make([]float64, n)
	s.needF = true
	s.initialized = true
	return nil
}

func (s *multistep) SetTolerances(rtol, atol float64) error {
	if rtol < 0 || atol < 0 || (rtol == 0 && atol == 0) {
		return fmt.Errorf("tolerances must be non-negative and not both zero (rtol=%g, atol=%g)", rtol, atol)
	}
	s.rtol, s.atol = rtol, atol
	return nil
}

func (s *multistep) SetLimits(maxSteps int, initialStep, minStep, maxStep float64) error {
	if maxSteps < 0 || initialStep < 0 || minStep < 0 || maxStep < 0 {
		return fmt.Errorf("step limits must be non-negative")
	}
	if maxSteps > 0 {
		s.maxSteps = maxSteps
	}
	s.initialStep = initialStep
	s.minStep = minStep
	s.maxStep = maxStep
	return nil
}

func (s *multistep) AttachLinearSolver(ls LinearSolver, jac Matrix) error {
	dls, ok := ls.(*DenseLinearSolver)
	if !ok {
		return fmt.Errorf("linear solver %T is not a dense LU solver", ls)
	}
	dm, ok := jac.(*DenseMatrix)
	if !ok || dm.J == nil {
		return fmt.Errorf("jacobian %T is not a live dense matrix", jac)
	}
	if s.initialized && dm.Rows() != s.n {
		return fmt.Errorf("jacobian has %d rows, state has %d values", dm.Rows(), s.n)
	}
	s.ls = dls
	s.jac = dm
	return nil
}

func (s *multistep) Stats() Stats { return s.stats }

func (s *multistep) Free() {
	s.freed = true
	s.rhs = nil
	s.ls = nil
	s.jac = nil
}

func (s *multistep) eval(ctx context.Context, t float64, y, ydot []float64) error {
	s.stats.RhsEvals++
	if err := s.rhs.Evaluate(ctx, t, y, ydot); err != nil {
		return fmt.Errorf("rhs evaluation at t=%g: %w", t, err)
	}
	return nil
}

func (s *multistep) StepTo(ctx context.Context, tout float64, y []float64) (float64, error) {
	switch {
	case s.freed:
		return s.t, errors.New("solver already freed")
	case !s.initialized:
		return s.t, errors.New("solver not initialized")
	case s.ls == nil || s.jac == nil || s.jac.J == nil:
		return s.t, errors.New("no linear solver attached")
	case len(y) != s.n:
		return s.t, fmt.Errorf("output buffer has %d values, state has %d: %w", len(y), s.n, dynamo.ErrSizeMismatch)
	case tout < s.t:
		return s.t, fmt.Errorf("requested time %g is behind current time %g", tout, s.t)
	}

	if s.needF {
		if err := s.eval(ctx, s.t, s.y, s.f); err != nil {
			return s.t, err
		}
		s.needF = false
	}
	if s.h == 0 {
		s.h = s.startStep(tout)
	}

	for steps := 0; s.t < tout; steps++ {
		if steps >= s.maxSteps {
			return s.t, fmt.Errorf("%d steps taken before reaching t=%g: %w", steps, tout, dynamo.ErrTooMuchWork)
		}
		if err := ctx.Err(); err != nil {
			return s.t, err
		}

		h := s.h
		if s.maxStep > 0 {
			h = math.Min(h, s.maxStep)
		}
		last := false
		if s.t+h*(1+1e-8) >= tout {
			h = tout - s.t
			last = true
		}

		accepted, hNext, err := s.attempt(ctx, h)
		if err != nil {
			return s.t, err
		}
		if !accepted {
			if hNext < s.minStep || hNext <= math.Abs(s.t)*1e-15 {
				return s.t, fmt.Errorf("h=%g at t=%g: %w", hNext, s.t, dynamo.ErrStepTooSmall)
			}
			s.h = hNext
			continue
		}
		if last {
			s.t = tout
		}
		s.h = hNext
	}

	copy(y, s.y)
	return s.t, nil
}

// startStep picks the first step from the ratio of state to derivative
// magnitude in the weighted norm.
func (s *multistep) startStep(tout float64) float64 {
	span := tout - s.t
	if s.initialStep > 0 {
		return s.initialStep
	}
	s.computeWeights()
	d0 := s.wrms(s.y)
	d1 := s.wrms(s.f)
	h := 1e-6
	if d0 > 1e-5 && d1 > 1e-5 {
		h = 0.01 * d0 / d1
	}
	if span > 0 {
		h = math.Min(h, span)
	}
	if s.maxStep > 0 {
		h = math.Min(h, s.maxStep)
	}
	return h
}

func (s *multistep) computeWeights() {
	for i, v := range s.y {
		s.ewt[i] = 1 / (s.rtol*math.Abs(v) + s.atol)
	}
}

func (s *multistep) wrms(v []float64) float64 {
	sum := 0.0
	for i, x := range v {
		w := x * s.ewt[i]
		sum += w * w
	}
	return math.Sqrt(sum / float64(len(v)))
}

// attempt tries one step of size h. It returns whether the step was
// accepted and the step size to use next.
func (s *multistep) attempt(ctx context.Context, h float64) (bool, float64, error) {
	s.computeWeights()

	order := 1
	if s.hPrev > 0 {
		order = 2
	}

	var beta, errCoef float64
	switch {
	case order == 1:
		beta, errCoef = 1, 0.5
		for i := 0; i < s.n; i++ {
			s.base[i] = s.y[i]
			s.pred[i] = s.y[i] + h*s.f[i]
		}
	case s.method == BDF:
		w := h / s.hPrev
		den := 1 + 2*w
		beta, errCoef = (1+w)/den, 0.4
		c1 := (1 + w) * (1 + w) / den
		c2 := w * w / den
		for i := 0; i < s.n; i++ {
			s.base[i] = c1*s.y[i] - c2*s.yPrev[i]
			curv := (s.yPrev[i] - s.y[i] + s.hPrev*s.f[i]) / (s.hPrev * s.hPrev)
			s.pred[i] = s.y[i] + h*s.f[i] + curv*h*h
		}
	default:
		w := h / s.hPrev
		beta, errCoef = 0.5, 1.0/6.0
		for i := 0; i < s.n; i++ {
			s.base[i] = s.y[i] + 0.5*h*s.f[i]
			s.pred[i] = s.y[i] + h*((1+0.5*w)*s.f[i]-0.5*w*s.fPrev[i])
		}
	}

	gamma := beta * h
	tNew := s.t + h

	converged := false
	for retry := 0; retry < maxConvRetries; retry++ {
		if err := s.setup(ctx, gamma, h); err != nil {
			return false, 0, err
		}
		ok, err := s.newton(ctx, tNew, gamma)
		if err != nil {
			return false, 0, err
		}
		if ok {
			converged = true
			break
		}
		s.stats.ConvFails++
		if s.jacFresh {
			return false, h * 0.25, nil
		}
		s.jacAge = jacMaxAge
	}
	if !converged {
		return false, h * 0.25, nil
	}

	for i := 0; i < s.n; i++ {
		s.tmp[i] = errCoef * (s.ycur[i] - s.pred[i])
	}
	errNorm := s.wrms(s.tmp)

	if errNorm > 1 {
		s.stats.ErrTestFails++
		scale := math.Max(s.minScale, s.safety*math.Pow(errNorm, -1/float64(order+1)))
		return false, h * scale, nil
	}

	if err := s.eval(ctx, tNew, s.ycur, s.fcur); err != nil {
		return false, 0, err
	}

	s.yPrev, s.y, s.ycur = s.y, s.ycur, s.yPrev
	s.fPrev, s.f, s.fcur = s.f, s.fcur, s.fPrev
	s.hPrev = h
	s.t = tNew
	s.jacAge++
	s.jacFresh = false
	s.stats.Steps++

	scale := s.maxScale
	if errNorm > 0 {
		scale = math.Min(s.maxScale, math.Max(s.minScale, s.safety*math.Pow(errNorm, -1/float64(order+1))))
	}
	return true, h * scale, nil
}

// setup refreshes the Jacobian when it is missing or old and refactors the
// Newton matrix when gamma has drifted.
func (s *multistep) setup(ctx context.Context, gamma, h float64) error {
	refreshed := false
	if s.stats.JacEvals == 0 || s.jacAge >= jacMaxAge {
		if err := s.jacobian(ctx, h); err != nil {
			return err
		}
		refreshed = true
	}
	if refreshed || !s.haveSetup || math.Abs(gamma/s.gammaSetup-1) > gammaDrift {
		s.ls.setup(s.jac.J, gamma)
		s.gammaSetup = gamma
		s.haveSetup = true
		s.stats.LinSetups++
	}
	return nil
}

// jacobian fills J column by column with forward differences around the
// current solution.
func (s *multistep) jacobian(ctx context.Context, h float64) error {
	s.stats.JacEvals++
	copy(s.tmp, s.y)
	for j := 0; j < s.n; j++ {
		inc := sqrtEps * math.Max(math.Abs(s.y[j]), math.Max(math.Abs(h*s.f[j]), 1/s.ewt[j]))
		if inc == 0 {
			inc = sqrtEps
		}
		s.tmp[j] = s.y[j] + inc
		if err := s.eval(ctx, s.t, s.tmp, s.fcur); err != nil {
			return err
		}
		s.tmp[j] = s.y[j]
		for i := 0; i < s.n; i++ {
			s.jac.J.Set(i, j, (s.fcur[i]-s.f[i])/inc)
		}
	}
	s.jacAge = 0
	s.jacFresh = true
	return nil
}

// newton solves ycur = base + gamma*f(t, ycur) starting from the predictor.
func (s *multistep) newton(ctx context.Context, t, gamma float64) (bool, error) {
	copy(s.ycur, s.pred)
	prev := 0.0
	for iter := 0; iter < maxNewtonIters; iter++ {
		if err := s.eval(ctx, t, s.ycur, s.fcur); err != nil {
			return false, err
		}
		for i := 0; i < s.n; i++ {
			s.resid[i] = s.base[i] + gamma*s.fcur[i] - s.ycur[i]
		}
		if err := s.ls.solve(s.delta, s.resid); err != nil {
			return false, nil
		}
		for i := 0; i < s.n; i++ {
			s.ycur[i] += s.delta[i]
		}
		norm := s.wrms(s.delta)
		if math.IsNaN(norm) || math.IsInf(norm, 0) {
			return false, nil
		}
		if norm <= newtonTol {
			return true, nil
		}
		if iter > 0 && norm > 2*prev {
			return false, nil
		}
		prev = norm
	}
	return false, nil
}
