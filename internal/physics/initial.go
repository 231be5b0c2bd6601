package physics

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/kinsim/internal/kinetic"
)

// InitialState fills st with Maxwellian ions and neutrals at rest whose
// density carries a cosine perturbation along z, and sets every moment
// field from the distribution functions.
func (k *Kinetic) InitialState(st *kinetic.State) error {
	if err := k.checkSizes(st, "initial"); err != nil {
		return err
	}
	np := k.Points()
	for ix := 0; ix < np; ix++ {
		z := (float64(ix%k.nz) + 0.5) * k.dz
		n := 1 + k.cfg.Perturbation*math.Cos(2*math.Pi*z/k.cfg.Lz)

		for s := 0; s < k.layout.IonSpecies(); s++ {
			nv := k.ion.points()
			off := (s*np + ix) * nv
			k.ion.maxwellian(st.Ion.Pdf[off:off+nv], n, 0, k.cfg.IonTemperature)
		}
		for s := 0; s < k.layout.NeutralSpecies(); s++ {
			nv := k.neutral.points()
			off := (s*np + ix) * nv
			k.neutral.maxwellian(st.Neutral.Pdf[off:off+nv], k.cfg.NeutralDensity*n, 0, k.cfg.NeutralTemperature)
		}
	}
	k.FillMoments(st)
	return nil
}

// FillMoments recomputes every moment field of st from its distribution
// functions.
func (k *Kinetic) FillMoments(st *kinetic.State) {
	fill := func(g velocityGrid, sp *kinetic.Species, nspec int) {
		nv, np := g.points(), k.Points()
		for i := 0; i < nspec*np; i++ {
			sp.Density[i], sp.Upar[i], sp.Ppar[i] = g.moments(sp.Pdf[i*nv : (i+1)*nv])
		}
	}
	fill(k.ion, &st.Ion, k.layout.IonSpecies())
	fill(k.neutral, &st.Neutral, k.layout.NeutralSpecies())
}

// SpeciesSummary aggregates the moments of one species over space.
type SpeciesSummary struct {
	Density     float64 `json:"density"`
	Upar        float64 `json:"upar"`
	Ppar        float64 `json:"ppar"`
	Particles   float64 `json:"particles"`
	PeakDensity float64 `json:"peak_density"`
	// PointDensity is the density at the first spatial point.
	PointDensity float64 `json:"point_density"`
}

// Summary is the spatially reduced view of a state written at every
// moments output.
type Summary struct {
	Ion            []SpeciesSummary `json:"ion"`
	Neutral        []SpeciesSummary `json:"neutral"`
	TotalParticles float64          `json:"total_particles"`
	PeakDensity    float64          `json:"peak_density"`
}

// Summarize reduces the moments of st, which must be current (see
// FillMoments).
func (k *Kinetic) Summarize(st *kinetic.State) Summary {
	np := k.Points()
	reduce := func(sp *kinetic.Species, nspec int) []SpeciesSummary {
		out := make([]SpeciesSummary, nspec)
		for s := range out {
			n := sp.Density[s*np : (s+1)*np]
			out[s] = SpeciesSummary{
				Density:      floats.Sum(n) / float64(np),
				Upar:         floats.Sum(sp.Upar[s*np:(s+1)*np]) / float64(np),
				Ppar:         floats.Sum(sp.Ppar[s*np:(s+1)*np]) / float64(np),
				Particles:    floats.Sum(n) * k.dz,
				PeakDensity:  floats.Max(n),
				PointDensity: n[0],
			}
		}
		return out
	}

	sum := Summary{
		Ion:     reduce(&st.Ion, k.layout.IonSpecies()),
		Neutral: reduce(&st.Neutral, k.layout.NeutralSpecies()),
	}
	for _, group := range [][]SpeciesSummary{sum.Ion, sum.Neutral} {
		for _, s := range group {
			sum.TotalParticles += s.Particles
			sum.PeakDensity = math.Max(sum.PeakDensity, s.PeakDensity)
		}
	}
	return sum
}
