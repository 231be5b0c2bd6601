package physics

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/kinetic"
)

const (
	ModelKrook          = "krook"
	ModelIonization     = "ionization"
	ModelChargeExchange = "charge-exchange"
)

// Config holds the physical parameters of the kinetic model.
type Config struct {
	Model              string  `yaml:"model" json:"model"`
	CollisionFreq      float64 `yaml:"collision_frequency" json:"collision_frequency"`
	IonizationRate     float64 `yaml:"ionization_rate" json:"ionization_rate"`
	ChargeExchangeRate float64 `yaml:"charge_exchange_rate" json:"charge_exchange_rate"`
	Streaming          bool    `yaml:"streaming" json:"streaming"`
	Lz                 float64 `yaml:"lz" json:"lz"`
	Vmax               float64 `yaml:"vmax" json:"vmax"`
	IonTemperature     float64 `yaml:"ion_temperature" json:"ion_temperature"`
	NeutralTemperature float64 `yaml:"neutral_temperature" json:"neutral_temperature"`
	NeutralDensity     float64 `yaml:"neutral_density" json:"neutral_density"`
	Perturbation       float64 `yaml:"perturbation" json:"perturbation"`
}

func DefaultConfig() Config {
	return Config{
		Model:              ModelKrook,
		CollisionFreq:      1.0,
		IonizationRate:     0.5,
		ChargeExchangeRate: 2.0,
		Streaming:          true,
		Lz:                 1.0,
		Vmax:               3.0,
		IonTemperature:     1.0,
		NeutralTemperature: 0.5,
		NeutralDensity:     0.5,
		Perturbation:       0.1,
	}
}

func (c Config) Validate() error {
	switch c.Model {
	case ModelKrook, ModelIonization, ModelChargeExchange:
	default:
		return fmt.Errorf("unknown physics model %q: %w", c.Model, dynamo.ErrInvalidConfig)
	}
	if c.CollisionFreq < 0 || c.IonizationRate < 0 || c.ChargeExchangeRate < 0 {
		return fmt.Errorf("rates must be non-negative: %w", dynamo.ErrInvalidConfig)
	}
	if c.Lz <= 0 || c.Vmax <= 0 || c.IonTemperature <= 0 || c.NeutralTemperature <= 0 {
		return fmt.Errorf("lz, vmax and temperatures must be positive: %w", dynamo.ErrInvalidConfig)
	}
	if c.NeutralDensity < 0 || math.Abs(c.Perturbation) >= 1 {
		return fmt.Errorf("neutral density %g, perturbation %g: %w", c.NeutralDensity, c.Perturbation, dynamo.ErrInvalidConfig)
	}
	return nil
}

// Kinetic is the ion-neutral kinetic model for one layout.
type Kinetic struct {
	cfg     Config
	layout  kinetic.Layout
	ion     velocityGrid
	neutral velocityGrid
	nz, nr  int
	dz      float64
}

func New(cfg Config, layout kinetic.Layout) (*Kinetic, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := layout.Grid()
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", dynamo.ErrInvalidConfig, err)
	}
	return &Kinetic{
		cfg:     cfg,
		layout:  layout,
		ion:     ionGrid(g.Nvpa, g.Nvperp, cfg.Vmax),
		neutral: neutralGrid(g.Nvz, g.Nvr, g.Nvzeta, cfg.Vmax),
		nz:      g.Nz,
		nr:      g.Nr,
		dz:      cfg.Lz / float64(g.Nz),
	}, nil
}

func (k *Kinetic) Name() string           { return k.cfg.Model }
func (k *Kinetic) Config() Config         { return k.cfg }
func (k *Kinetic) Layout() kinetic.Layout { return k.layout }

// Points is the number of spatial points Derive partitions over.
func (k *Kinetic) Points() int { return k.nz * k.nr }

func (k *Kinetic) ionization() bool {
	return k.cfg.Model == ModelIonization || k.cfg.Model == ModelChargeExchange
}

func (k *Kinetic) chargeExchange() bool { return k.cfg.Model == ModelChargeExchange }

func (k *Kinetic) GetParams() map[string]float64 {
	return map[string]float64{
		"nu":  k.cfg.CollisionFreq,
		"ion": k.cfg.IonizationRate,
		"cx":  k.cfg.ChargeExchangeRate,
	}
}

func (k *Kinetic) SetParam(name string, v float64) error {
	if v < 0 || math.IsNaN(v) {
		return fmt.Errorf("param %s=%g: %w", name, v, dynamo.ErrInvalidConfig)
	}
	switch name {
	case "nu":
		k.cfg.CollisionFreq = v
	case "ion":
		k.cfg.IonizationRate = v
	case "cx":
		k.cfg.ChargeExchangeRate = v
	default:
		names := make([]string, 0, 3)
		for n := range k.GetParams() {
			names = append(names, n)
		}
		sort.Strings(names)
		return fmt.Errorf("unknown param %q (have %v): %w", name, names, dynamo.ErrInvalidConfig)
	}
	return nil
}

// local is the view of one species at one spatial point.
type local struct {
	f, df      []float64
	n, u, temp float64
}

func (k *Kinetic) view(g velocityGrid, in, out *kinetic.Species, s, ix int, fallback float64) local {
	nv := g.points()
	off := (s*k.Points() + ix) * nv
	f := in.Pdf[off : off+nv]
	n, u, ppar := g.moments(f)
	return local{f: f, df: out.Pdf[off : off+nv], n: n, u: u, temp: temperature(n, ppar, fallback)}
}

func (k *Kinetic) checkSizes(st *kinetic.State, what string) error {
	np := k.Points()
	nIon, nNeutral := k.layout.IonSpecies(), k.layout.NeutralSpecies()
	if len(st.Ion.Pdf) != nIon*np*k.ion.points() || len(st.Neutral.Pdf) != nNeutral*np*k.neutral.points() {
		return fmt.Errorf("%s distribution functions: %w", what, dynamo.ErrSizeMismatch)
	}
	for _, m := range [][]float64{st.Ion.Density, st.Ion.Upar, st.Ion.Ppar} {
		if len(m) != nIon*np {
			return fmt.Errorf("%s ion moments: %w", what, dynamo.ErrSizeMismatch)
		}
	}
	for _, m := range [][]float64{st.Neutral.Density, st.Neutral.Upar, st.Neutral.Ppar} {
		if len(m) != nNeutral*np {
			return fmt.Errorf("%s neutral moments: %w", what, dynamo.ErrSizeMismatch)
		}
	}
	return nil
}

// Derive writes the time derivative of in into out for spatial points
// [start, end). Only those points of out are written; every point of in may
// be read.
func (k *Kinetic) Derive(start, end int, t float64, in, out *kinetic.State) error {
	if start < 0 || end > k.Points() || start > end {
		return fmt.Errorf("spatial range [%d,%d) outside [0,%d): %w", start, end, k.Points(), dynamo.ErrInvalidConfig)
	}
	if err := k.checkSizes(in, "input"); err != nil {
		return err
	}
	if err := k.checkSizes(out, "output"); err != nil {
		return err
	}

	nIon, nNeutral := k.layout.IonSpecies(), k.layout.NeutralSpecies()
	ions := make([]local, nIon)
	neutrals := make([]local, nNeutral)
	scratch := make([]float64, max(k.ion.points(), k.neutral.points()))

	for ix := start; ix < end; ix++ {
		for s := range ions {
			ions[s] = k.view(k.ion, &in.Ion, &out.Ion, s, ix, k.cfg.IonTemperature)
			if math.IsNaN(ions[s].n) {
				return fmt.Errorf("ion species %d at point %d: %w", s, ix, dynamo.ErrInvalidState)
			}
		}
		for s := range neutrals {
			neutrals[s] = k.view(k.neutral, &in.Neutral, &out.Neutral, s, ix, k.cfg.NeutralTemperature)
			if math.IsNaN(neutrals[s].n) {
				return fmt.Errorf("neutral species %d at point %d: %w", s, ix, dynamo.ErrInvalidState)
			}
		}

		for s := range ions {
			k.relax(k.ion, ions[s], scratch)
			k.stream(k.ion, &in.Ion, s, ix, ions[s].df)
		}
		for s := range neutrals {
			k.relax(k.neutral, neutrals[s], scratch)
			k.stream(k.neutral, &in.Neutral, s, ix, neutrals[s].df)
		}
		for s := 0; s < min(nIon, nNeutral); s++ {
			if k.ionization() {
				k.ionize(ions[s], neutrals[s], scratch)
			}
			if k.chargeExchange() {
				k.exchange(ions[s], neutrals[s], scratch)
			}
		}

		for s := range ions {
			writeMomentRates(k.ion, ions[s], &out.Ion, s*k.Points()+ix)
		}
		for s := range neutrals {
			writeMomentRates(k.neutral, neutrals[s], &out.Neutral, s*k.Points()+ix)
		}
	}
	return nil
}

// relax sets df to the Krook term -nu*(f - M[n,u,T]).
func (k *Kinetic) relax(g velocityGrid, sp local, m []float64) {
	m = m[:g.points()]
	g.maxwellian(m, sp.n, sp.u, sp.temp)
	nu := k.cfg.CollisionFreq
	for iv := range sp.df {
		sp.df[iv] = -nu * (sp.f[iv] - m[iv])
	}
}

// stream adds first-order upwind free streaming along z with periodic ends.
func (k *Kinetic) stream(g velocityGrid, in *kinetic.Species, s, ix int, df []float64) {
	if !k.cfg.Streaming || k.nz < 2 {
		return
	}
	nv := g.points()
	iz, ir := ix%k.nz, ix/k.nz
	base := s * k.Points()
	left := base + ir*k.nz + (iz-1+k.nz)%k.nz
	right := base + ir*k.nz + (iz+1)%k.nz
	here := base + ix

	f := in.Pdf[here*nv : (here+1)*nv]
	fl := in.Pdf[left*nv : (left+1)*nv]
	fr := in.Pdf[right*nv : (right+1)*nv]
	for iv, v := range g.par {
		if v > 0 {
			df[iv] -= v * (f[iv] - fl[iv]) / k.dz
		} else {
			df[iv] -= v * (fr[iv] - f[iv]) / k.dz
		}
	}
}

// ionize moves neutrals into the ion population at rate R*n_ion, born at
// the neutral flow and temperature.
func (k *Kinetic) ionize(ion, neu local, m []float64) {
	rate := k.cfg.IonizationRate * math.Max(ion.n, 0)
	for iv := range neu.df {
		neu.df[iv] -= rate * neu.f[iv]
	}
	m = m[:k.ion.points()]
	k.ion.maxwellian(m, rate*neu.n, neu.u, neu.temp)
	for iv := range ion.df {
		ion.df[iv] += m[iv]
	}
}

// exchange swaps velocity distributions between ions and neutrals at rate
// R*n_ion*n_neutral.
func (k *Kinetic) exchange(ion, neu local, m []float64) {
	r := k.cfg.ChargeExchangeRate

	mi := m[:k.ion.points()]
	k.ion.maxwellian(mi, neu.n, neu.u, neu.temp)
	for iv := range ion.df {
		ion.df[iv] += r * (ion.n*mi[iv] - neu.n*ion.f[iv])
	}

	mn := m[:k.neutral.points()]
	k.neutral.maxwellian(mn, ion.n, ion.u, ion.temp)
	for iv := range neu.df {
		neu.df[iv] += r * (neu.n*mn[iv] - ion.n*neu.f[iv])
	}
}

func writeMomentRates(g velocityGrid, sp local, out *kinetic.Species, i int) {
	out.Density[i], out.Upar[i], out.Ppar[i] = g.momentRates(sp.n, sp.u, sp.df)
}
