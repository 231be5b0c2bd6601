package physics

import (
	"errors"
	"math"
	"testing"

	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/kinetic"
)

var testGrid = kinetic.Grid{Nvpa: 9, Nvperp: 2, Nvz: 7, Nvr: 2, Nvzeta: 3, Nz: 8, Nr: 2}

func newModel(t *testing.T, model string, flags kinetic.Flags, nIon, nNeutral int) (*Kinetic, *kinetic.State) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Model = model
	k, err := New(cfg, kinetic.NewLayout(flags, testGrid, nIon, nNeutral))
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	st := kinetic.NewState(k.Layout())
	if err := k.InitialState(st); err != nil {
		t.Fatalf("initial state: %v", err)
	}
	return k, st
}

func totalRate(k *Kinetic, d *kinetic.State) float64 {
	return k.ion.w*floats.Sum(d.Ion.Pdf) + k.neutral.w*floats.Sum(d.Neutral.Pdf)
}

func TestDerive_ConservesParticles(t *testing.T) {
	tests := []struct {
		model    string
		nIon     int
		nNeutral int
	}{
		{ModelKrook, 1, 0},
		{ModelKrook, 2, 1},
		{ModelIonization, 1, 1},
		{ModelIonization, 2, 3},
		{ModelChargeExchange, 1, 1},
		{ModelChargeExchange, 3, 2},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			g := NewWithT(t)
			k, st := newModel(t, tt.model, kinetic.Flags{EvolveDensity: true}, tt.nIon, tt.nNeutral)

			// break the Maxwellian shape so every operator does work
			for i := range st.Ion.Pdf {
				st.Ion.Pdf[i] *= 1 + 0.3*math.Sin(float64(i))
			}
			for i := range st.Neutral.Pdf {
				st.Neutral.Pdf[i] *= 1 + 0.2*math.Cos(float64(i))
			}

			deriv := kinetic.NewState(k.Layout())
			g.Expect(k.Derive(0, k.Points(), 0, st, deriv)).To(Succeed())
			g.Expect(floats.Norm(deriv.Ion.Pdf, 2)).To(BeNumerically(">", 0))
			g.Expect(totalRate(k, deriv)).To(BeNumerically("~", 0, 1e-10))
		})
	}
}

func TestDerive_PartitionsMatchFull(t *testing.T) {
	g := NewWithT(t)
	k, st := newModel(t, ModelChargeExchange, kinetic.Flags{EvolveDensity: true, EvolveUpar: true, EvolvePpar: true}, 2, 1)

	full := kinetic.NewState(k.Layout())
	g.Expect(k.Derive(0, k.Points(), 0.5, st, full)).To(Succeed())

	for _, size := range []int{2, 3, 5} {
		parts := kinetic.NewState(k.Layout())
		for rank := 0; rank < size; rank++ {
			start, end := dynamo.Partition(k.Points(), size, rank)
			g.Expect(k.Derive(start, end, 0.5, st, parts)).To(Succeed())
		}
		g.Expect(parts.Ion.Pdf).To(Equal(full.Ion.Pdf))
		g.Expect(parts.Neutral.Pdf).To(Equal(full.Neutral.Pdf))
		g.Expect(parts.Ion.Density).To(Equal(full.Ion.Density))
		g.Expect(parts.Neutral.Ppar).To(Equal(full.Neutral.Ppar))
	}
}

func TestDerive_MomentRatesMatchPdf(t *testing.T) {
	g := NewWithT(t)
	k, st := newModel(t, ModelIonization, kinetic.Flags{EvolveDensity: true}, 1, 1)

	deriv := kinetic.NewState(k.Layout())
	g.Expect(k.Derive(0, k.Points(), 0, st, deriv)).To(Succeed())

	nv := k.neutral.points()
	for ix := 0; ix < k.Points(); ix++ {
		want := k.neutral.w * floats.Sum(deriv.Neutral.Pdf[ix*nv:(ix+1)*nv])
		g.Expect(deriv.Neutral.Density[ix]).To(BeNumerically("~", want, 1e-12))
	}
}

func TestInitialState(t *testing.T) {
	g := NewWithT(t)
	k, st := newModel(t, ModelKrook, kinetic.Flags{}, 1, 1)

	for ix := 0; ix < k.Points(); ix++ {
		z := (float64(ix%testGrid.Nz) + 0.5) * k.dz
		want := 1 + k.cfg.Perturbation*math.Cos(2*math.Pi*z/k.cfg.Lz)
		g.Expect(st.Ion.Density[ix]).To(BeNumerically("~", want, 1e-12))
		g.Expect(st.Ion.Upar[ix]).To(BeNumerically("~", 0, 1e-12))
		g.Expect(st.Neutral.Density[ix]).To(BeNumerically("~", k.cfg.NeutralDensity*want, 1e-12))
	}

	sum := k.Summarize(st)
	g.Expect(sum.Ion).To(HaveLen(1))
	g.Expect(sum.Ion[0].Density).To(BeNumerically("~", 1, 1e-12))
	g.Expect(sum.TotalParticles).To(BeNumerically("~", float64(testGrid.Nr)*k.cfg.Lz*(1+k.cfg.NeutralDensity), 1e-10))
	g.Expect(sum.PeakDensity).To(BeNumerically(">", 1))
}

func TestDerive_Errors(t *testing.T) {
	k, st := newModel(t, ModelKrook, kinetic.Flags{}, 1, 0)
	deriv := kinetic.NewState(k.Layout())

	if err := k.Derive(0, k.Points()+1, 0, st, deriv); !errors.Is(err, dynamo.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for bad range, got %v", err)
	}

	deriv.Ion.Pdf = deriv.Ion.Pdf[:10]
	if err := k.Derive(0, 1, 0, st, deriv); !errors.Is(err, dynamo.ErrSizeMismatch) {
		t.Errorf("expected ErrSizeMismatch, got %v", err)
	}

	deriv = kinetic.NewState(k.Layout())
	st.Ion.Pdf[0] = math.NaN()
	if err := k.Derive(0, 1, 0, st, deriv); !errors.Is(err, dynamo.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown model", func(c *Config) { c.Model = "fluid" }},
		{"negative rate", func(c *Config) { c.CollisionFreq = -1 }},
		{"zero vmax", func(c *Config) { c.Vmax = 0 }},
		{"large perturbation", func(c *Config) { c.Perturbation = 1 }},
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.modify(&cfg)
		if err := cfg.Validate(); !errors.Is(err, dynamo.ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", tt.name, err)
		}
	}
}

func TestSetParam(t *testing.T) {
	k, _ := newModel(t, ModelKrook, kinetic.Flags{}, 1, 0)

	if err := k.SetParam("nu", 4); err != nil {
		t.Fatalf("set nu: %v", err)
	}
	if k.GetParams()["nu"] != 4 {
		t.Errorf("expected nu 4, got %v", k.GetParams()["nu"])
	}
	if err := k.SetParam("gravity", 1); !errors.Is(err, dynamo.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for unknown param, got %v", err)
	}
	if err := k.SetParam("cx", -1); err == nil {
		t.Error("expected error for negative rate")
	}
}
