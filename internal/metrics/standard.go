package metrics

import "github.com/san-kum/kinsim/internal/sim"

// Standard returns the metrics recorded for every run.
func Standard(stabilityThreshold float64) []sim.Metric {
	return []sim.Metric{
		NewParticleDrift(),
		NewPeakDensity(),
		NewMeanFlow(),
		NewStability(stabilityThreshold),
	}
}
