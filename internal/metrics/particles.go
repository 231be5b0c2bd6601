package metrics

import (
	"math"

	"github.com/san-kum/kinsim/internal/physics"
)

// ParticleDrift is the largest relative change in total particle number
// seen since the first observation.
type ParticleDrift struct {
	name     string
	initial  float64
	current  float64
	maxDrift float64
	samples  int
}

func NewParticleDrift() *ParticleDrift {
	return &ParticleDrift{name: "particle_drift"}
}

func (p *ParticleDrift) Name() string { return p.name }

func (p *ParticleDrift) Observe(t float64, s physics.Summary) {
	if p.samples == 0 {
		p.initial = s.TotalParticles
	}
	p.current = s.TotalParticles
	p.samples++

	if p.initial != 0 {
		drift := math.Abs(p.current-p.initial) / math.Abs(p.initial)
		p.maxDrift = math.Max(p.maxDrift, drift)
	}
}

func (p *ParticleDrift) Value() float64 { return p.maxDrift }

func (p *ParticleDrift) Reset() {
	p.initial = 0
	p.current = 0
	p.maxDrift = 0
	p.samples = 0
}

// PeakDensity is the largest density of any species at any point.
type PeakDensity struct {
	name string
	peak float64
}

func NewPeakDensity() *PeakDensity {
	return &PeakDensity{name: "peak_density"}
}

func (p *PeakDensity) Name() string { return p.name }

func (p *PeakDensity) Observe(t float64, s physics.Summary) {
	p.peak = math.Max(p.peak, s.PeakDensity)
}

func (p *PeakDensity) Value() float64 { return p.peak }
func (p *PeakDensity) Reset()         { p.peak = 0 }
