package kinetic

import "fmt"

// Flags selects which moments are evolved separately from the distribution
// functions.
type Flags struct {
	EvolveDensity bool `yaml:"density" json:"density"`
	EvolveUpar    bool `yaml:"upar" json:"upar"`
	EvolvePpar    bool `yaml:"ppar" json:"ppar"`
}

func (f Flags) String() string {
	return fmt.Sprintf("density=%t upar=%t ppar=%t", f.EvolveDensity, f.EvolveUpar, f.EvolvePpar)
}

// Grid gives the number of points along each coordinate. Ion distribution
// functions live on (vpa, vperp, z, r); neutral ones on (vz, vr, vzeta, z, r).
type Grid struct {
	Nvpa   int `yaml:"nvpa" json:"nvpa"`
	Nvperp int `yaml:"nvperp" json:"nvperp"`
	Nvz    int `yaml:"nvz" json:"nvz"`
	Nvr    int `yaml:"nvr" json:"nvr"`
	Nvzeta int `yaml:"nvzeta" json:"nvzeta"`
	Nz     int `yaml:"nz" json:"nz"`
	Nr     int `yaml:"nr" json:"nr"`
}

// SpatialPoints is the number of (z, r) points.
func (g Grid) SpatialPoints() int { return g.Nz * g.Nr }

// IonVelocityPoints is the number of velocity points per ion spatial point.
func (g Grid) IonVelocityPoints() int { return g.Nvpa * g.Nvperp }

// NeutralVelocityPoints is the number of velocity points per neutral spatial point.
func (g Grid) NeutralVelocityPoints() int { return g.Nvz * g.Nvr * g.Nvzeta }

func (g Grid) Validate() error {
	dims := []struct {
		name string
		n    int
	}{
		{"nvpa", g.Nvpa}, {"nvperp", g.Nvperp}, {"nvz", g.Nvz}, {"nvr", g.Nvr},
		{"nvzeta", g.Nvzeta}, {"nz", g.Nz}, {"nr", g.Nr},
	}
	for _, d := range dims {
		if d.n <= 0 {
			return fmt.Errorf("grid %s must be positive, got %d", d.name, d.n)
		}
	}
	return nil
}

// Species holds the evolved fields of one species kind. Distribution
// functions are stored velocity-fastest: pdf[((s*nspatial)+ix)*nv + iv].
// Moments are stored as moment[s*nspatial + ix].
type Species struct {
	Pdf     []float64
	Density []float64
	Upar    []float64
	Ppar    []float64
}

// State is the structured physical state of a run.
type State struct {
	Ion     Species
	Neutral Species
}

// NewState allocates a zeroed state with every field sized for l, including
// moments that are not evolved so they can still be diagnosed.
func NewState(l Layout) *State {
	nx := l.grid.SpatialPoints()
	alloc := func(nspec, nv int) Species {
		return Species{
			Pdf:     make([]float64, nspec*nx*nv),
			Density: make([]float64, nspec*nx),
			Upar:    make([]float64, nspec*nx),
			Ppar:    make([]float64, nspec*nx),
		}
	}
	return &State{
		Ion:     alloc(l.nIon, l.grid.IonVelocityPoints()),
		Neutral: alloc(l.nNeutral, l.grid.NeutralVelocityPoints()),
	}
}

// CopyFrom copies every field of src into s. Both must have been allocated
// for the same layout.
func (s *State) CopyFrom(src *State) {
	copySpecies(&s.Ion, &src.Ion)
	copySpecies(&s.Neutral, &src.Neutral)
}

func copySpecies(dst, src *Species) {
	copy(dst.Pdf, src.Pdf)
	copy(dst.Density, src.Density)
	copy(dst.Upar, src.Upar)
	copy(dst.Ppar, src.Ppar)
}
