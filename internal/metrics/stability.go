package metrics

import (
	"math"

	"github.com/san-kum/kinsim/internal/physics"
)

// Stability is the fraction of outputs that looked physical: finite total
// particle count, peak density finite and at most threshold, and no species
// with a negative mean density. The time of the first bad output is kept.
type Stability struct {
	threshold float64
	bad       int
	samples   int
	first     float64
}

func NewStability(threshold float64) *Stability {
	return &Stability{threshold: threshold, first: math.NaN()}
}

func (s *Stability) Name() string { return "stability" }

func (s *Stability) healthy(sum physics.Summary) bool {
	if math.IsNaN(sum.TotalParticles) || math.IsInf(sum.TotalParticles, 0) {
		return false
	}
	if math.IsNaN(sum.PeakDensity) || sum.PeakDensity > s.threshold {
		return false
	}
	for _, group := range [][]physics.SpeciesSummary{sum.Ion, sum.Neutral} {
		for _, sp := range group {
			if sp.Density < 0 {
				return false
			}
		}
	}
	return true
}

func (s *Stability) Observe(t float64, sum physics.Summary) {
	s.samples++
	if s.healthy(sum) {
		return
	}
	if s.bad == 0 {
		s.first = t
	}
	s.bad++
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1
	}
	return 1 - float64(s.bad)/float64(s.samples)
}

// FirstViolation is the time of the first unphysical output, or NaN.
func (s *Stability) FirstViolation() float64 { return s.first }

func (s *Stability) Reset() {
	s.bad, s.samples, s.first = 0, 0, math.NaN()
}
