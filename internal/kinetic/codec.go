package kinetic

import (
	"fmt"

	"github.com/san-kum/kinsim/internal/dynamo"
)

// Field names a packed field.
type Field int

const (
	IonPdf Field = iota
	IonDensity
	IonUpar
	IonPpar
	NeutralPdf
	NeutralDensity
	NeutralUpar
	NeutralPpar
)

var fieldNames = [...]string{
	"ion_pdf", "ion_density", "ion_upar", "ion_ppar",
	"neutral_pdf", "neutral_density", "neutral_upar", "neutral_ppar",
}

func (f Field) String() string {
	if f < 0 || int(f) >= len(fieldNames) {
		return "unknown"
	}
	return fieldNames[f]
}

// Span is the location of one present field inside a packed vector.
type Span struct {
	Field  Field  `json:"-"`
	Name   string `json:"name"`
	Offset int    `json:"offset"`
	Len    int    `json:"len"`
}

// Layout is the cached offset table for one configuration.
type Layout struct {
	flags    Flags
	grid     Grid
	nIon     int
	nNeutral int
	spans    []Span
	size     int
}

// Size returns the packed length for the given configuration.
func Size(flags Flags, grid Grid, nIon, nNeutral int) int {
	return NewLayout(flags, grid, nIon, nNeutral).Size()
}

// NewLayout computes the packed field order and offsets once.
func NewLayout(flags Flags, grid Grid, nIon, nNeutral int) Layout {
	l := Layout{flags: flags, grid: grid, nIon: nIon, nNeutral: nNeutral}

	nx := grid.SpatialPoints()
	ionMoment := nIon * nx
	neutralMoment := nNeutral * nx

	l.add(IonPdf, ionMoment*grid.IonVelocityPoints(), true)
	l.add(IonDensity, ionMoment, flags.EvolveDensity)
	l.add(IonUpar, ionMoment, flags.EvolveUpar)
	l.add(IonPpar, ionMoment, flags.EvolvePpar)

	hasNeutrals := nNeutral > 0
	l.add(NeutralPdf, neutralMoment*grid.NeutralVelocityPoints(), hasNeutrals)
	l.add(NeutralDensity, neutralMoment, hasNeutrals && flags.EvolveDensity)
	l.add(NeutralUpar, neutralMoment, hasNeutrals && flags.EvolveUpar)
	l.add(NeutralPpar, neutralMoment, hasNeutrals && flags.EvolvePpar)

	return l
}

func (l *Layout) add(f Field, n int, present bool) {
	if !present {
		return
	}
	l.spans = append(l.spans, Span{Field: f, Name: f.String(), Offset: l.size, Len: n})
	l.size += n
}

func (l Layout) Size() int           { return l.size }
func (l Layout) Flags() Flags        { return l.flags }
func (l Layout) Grid() Grid          { return l.grid }
func (l Layout) IonSpecies() int     { return l.nIon }
func (l Layout) NeutralSpecies() int { return l.nNeutral }

// Fields returns the present fields in packing order.
func (l Layout) Fields() []Span {
	out := make([]Span, len(l.spans))
	copy(out, l.spans)
	return out
}

// Pack writes the present fields of st into out in the fixed order. On a
// size mismatch out is left unchanged.
func (l Layout) Pack(st *State, out []float64) error {
	if len(out) != l.size {
		return fmt.Errorf("pack: buffer has %d values, layout needs %d: %w", len(out), l.size, dynamo.ErrSizeMismatch)
	}
	if err := l.check("pack", st); err != nil {
		return err
	}
	for _, sp := range l.spans {
		copy(out[sp.Offset:sp.Offset+sp.Len], l.field(st, sp.Field))
	}
	return nil
}

// Unpack overwrites the present fields of st from in. Fields that are not
// present in the layout are left untouched, and on a size mismatch st is
// left unchanged.
func (l Layout) Unpack(in []float64, st *State) error {
	if len(in) != l.size {
		return fmt.Errorf("unpack: buffer has %d values, layout needs %d: %w", len(in), l.size, dynamo.ErrSizeMismatch)
	}
	if err := l.check("unpack", st); err != nil {
		return err
	}
	for _, sp := range l.spans {
		copy(l.field(st, sp.Field), in[sp.Offset:sp.Offset+sp.Len])
	}
	return nil
}

// check verifies every present field of st against its span.
func (l Layout) check(op string, st *State) error {
	for _, sp := range l.spans {
		if n := len(l.field(st, sp.Field)); n != sp.Len {
			return fmt.Errorf("%s: %s has %d values, layout needs %d: %w", op, sp.Name, n, sp.Len, dynamo.ErrSizeMismatch)
		}
	}
	return nil
}

func (l Layout) field(st *State, f Field) []float64 {
	switch f {
	case IonPdf:
		return st.Ion.Pdf
	case IonDensity:
		return st.Ion.Density
	case IonUpar:
		return st.Ion.Upar
	case IonPpar:
		return st.Ion.Ppar
	case NeutralPdf:
		return st.Neutral.Pdf
	case NeutralDensity:
		return st.Neutral.Density
	case NeutralUpar:
		return st.Neutral.Upar
	case NeutralPpar:
		return st.Neutral.Ppar
	}
	return nil
}
