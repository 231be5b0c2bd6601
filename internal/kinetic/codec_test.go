package kinetic

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/san-kum/kinsim/internal/dynamo"
)

var testGrid = Grid{Nvpa: 5, Nvperp: 2, Nvz: 3, Nvr: 2, Nvzeta: 1, Nz: 4, Nr: 1}

func allFlags() []Flags {
	var out []Flags
	for mask := 0; mask < 8; mask++ {
		out = append(out, Flags{
			EvolveDensity: mask&1 != 0,
			EvolveUpar:    mask&2 != 0,
			EvolvePpar:    mask&4 != 0,
		})
	}
	return out
}

func randomState(l Layout, rng *rand.Rand) *State {
	st := NewState(l)
	for _, sp := range []*Species{&st.Ion, &st.Neutral} {
		for _, f := range [][]float64{sp.Pdf, sp.Density, sp.Upar, sp.Ppar} {
			for i := range f {
				f[i] = rng.NormFloat64()
			}
		}
	}
	return st
}

func equalSlices(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for _, flags := range allFlags() {
		for _, nNeutral := range []int{0, 1, 3} {
			t.Run(fmt.Sprintf("%s/neutrals=%d", flags, nNeutral), func(t *testing.T) {
				l := NewLayout(flags, testGrid, 1, nNeutral)
				orig := randomState(l, rng)

				buf := make([]float64, l.Size())
				if err := l.Pack(orig, buf); err != nil {
					t.Fatalf("pack failed: %v", err)
				}

				got := NewState(l)
				if err := l.Unpack(buf, got); err != nil {
					t.Fatalf("unpack failed: %v", err)
				}

				for _, sp := range l.Fields() {
					if !equalSlices(l.field(orig, sp.Field), l.field(got, sp.Field)) {
						t.Errorf("%s differs after round trip", sp.Name)
					}
				}

				again := make([]float64, l.Size())
				if err := l.Pack(got, again); err != nil {
					t.Fatalf("second pack failed: %v", err)
				}
				if !equalSlices(buf, again) {
					t.Error("pack(unpack(pack(S))) != pack(S)")
				}
			})
		}
	}
}

func TestRoundTrip_UntouchedFields(t *testing.T) {
	l := NewLayout(Flags{}, testGrid, 1, 0)
	st := NewState(l)
	for i := range st.Ion.Density {
		st.Ion.Density[i] = 42
	}

	buf := make([]float64, l.Size())
	if err := l.Unpack(buf, st); err != nil {
		t.Fatalf("unpack failed: %v", err)
	}
	if st.Ion.Density[0] != 42 {
		t.Error("unpack overwrote a field absent from the layout")
	}
}

func TestSize(t *testing.T) {
	g := Grid{Nvpa: 4, Nvperp: 1, Nvz: 3, Nvr: 1, Nvzeta: 2, Nz: 5, Nr: 2}
	nx := 10

	tests := []struct {
		name     string
		flags    Flags
		nIon     int
		nNeutral int
		expected int
	}{
		{"all off, no neutrals", Flags{}, 1, 0, 4 * nx},
		{"all off, neutrals ignored for moments", Flags{}, 1, 2, 4*nx + 2*6*nx},
		{"all on, two neutrals", Flags{true, true, true}, 1, 2, 4*nx + 3*nx + 2*6*nx + 3*2*nx},
		{"density only, two ions", Flags{EvolveDensity: true}, 2, 0, 2*4*nx + 2*nx},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Size(tt.flags, g, tt.nIon, tt.nNeutral); got != tt.expected {
				t.Errorf("Size() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestLayout_FieldsContiguous(t *testing.T) {
	for _, flags := range allFlags() {
		l := NewLayout(flags, testGrid, 1, 2)
		next := 0
		prev := Field(-1)
		for _, sp := range l.Fields() {
			if sp.Offset != next {
				t.Errorf("%s: %s starts at %d, want %d", flags, sp.Name, sp.Offset, next)
			}
			if sp.Field <= prev {
				t.Errorf("%s: %s out of order", flags, sp.Name)
			}
			prev = sp.Field
			next += sp.Len
		}
		if next != l.Size() {
			t.Errorf("%s: spans cover %d values, size is %d", flags, next, l.Size())
		}
	}
}

func TestSizeMismatch(t *testing.T) {
	l := NewLayout(Flags{EvolveDensity: true}, testGrid, 1, 1)
	st := NewState(l)

	tests := []struct {
		name string
		run  func() error
	}{
		{"pack short buffer", func() error { return l.Pack(st, make([]float64, l.Size()-1)) }},
		{"pack long buffer", func() error { return l.Pack(st, make([]float64, l.Size()+1)) }},
		{"unpack short buffer", func() error { return l.Unpack(make([]float64, l.Size()-1), st) }},
		{"pack bad field", func() error {
			bad := NewState(l)
			bad.Neutral.Density = bad.Neutral.Density[:1]
			return l.Pack(bad, make([]float64, l.Size()))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if !errors.Is(err, dynamo.ErrSizeMismatch) {
				t.Errorf("expected ErrSizeMismatch, got %v", err)
			}
		})
	}
}

func TestSizeMismatch_NoPartialWrite(t *testing.T) {
	l := NewLayout(Flags{EvolveDensity: true}, testGrid, 1, 1)

	// the bad field is last in the layout, so earlier fields would be
	// written first by a copy-as-you-go codec
	bad := NewState(l)
	for i := range bad.Ion.Pdf {
		bad.Ion.Pdf[i] = 1
	}
	bad.Neutral.Density = bad.Neutral.Density[:1]

	out := make([]float64, l.Size())
	for i := range out {
		out[i] = -1
	}
	if err := l.Pack(bad, out); !errors.Is(err, dynamo.ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	for i, v := range out {
		if v != -1 {
			t.Fatalf("pack wrote out[%d]=%g before failing", i, v)
		}
	}

	in := make([]float64, l.Size())
	for i := range in {
		in[i] = 7
	}
	if err := l.Unpack(in, bad); !errors.Is(err, dynamo.ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	for i, v := range bad.Ion.Pdf {
		if v != 1 {
			t.Fatalf("unpack wrote ion pdf[%d]=%g before failing", i, v)
		}
	}
}
