package metrics

import (
	"math"

	"github.com/san-kum/kinsim/internal/physics"
)

// MeanFlow averages the absolute mean ion parallel flow over observations.
type MeanFlow struct {
	name    string
	sum     float64
	samples int
}

func NewMeanFlow() *MeanFlow {
	return &MeanFlow{
		name: "mean_flow",
	}
}

func (m *MeanFlow) Name() string {
	return m.name
}

func (m *MeanFlow) Observe(t float64, s physics.Summary) {
	for _, ion := range s.Ion {
		m.sum += math.Abs(ion.Upar)
	}
	m.samples++
}

func (m *MeanFlow) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *MeanFlow) Reset() {
	m.sum = 0
	m.samples = 0
}
