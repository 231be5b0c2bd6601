package physics

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const tinyDensity = 1e-300

// velocityGrid is the uniform quadrature of one species kind. Only the
// parallel component carries flow; the perpendicular components enter
// through perpSq.
type velocityGrid struct {
	par    []float64
	parSq  []float64
	perpSq []float64
	w      float64
}

func axis(n int, lo, hi float64) ([]float64, float64) {
	if n == 1 {
		return []float64{0.5 * (lo + hi)}, 1
	}
	pts := make([]float64, n)
	floats.Span(pts, lo, hi)
	return pts, (hi - lo) / float64(n-1)
}

// ionGrid indexes (vpa, vperp) with vpa fastest.
func ionGrid(nvpa, nvperp int, vmax float64) velocityGrid {
	vpa, dvpa := axis(nvpa, -vmax, vmax)
	vperp, dvperp := axis(nvperp, 0, vmax)

	g := newGrid(nvpa*nvperp, dvpa*dvperp)
	for j, vp := range vperp {
		for i, v := range vpa {
			iv := j*nvpa + i
			g.par[iv], g.perpSq[iv] = v, vp*vp
		}
	}
	floats.MulTo(g.parSq, g.par, g.par)
	return g
}

// neutralGrid indexes (vz, vr, vzeta) with vz fastest.
func neutralGrid(nvz, nvr, nvzeta int, vmax float64) velocityGrid {
	vz, dvz := axis(nvz, -vmax, vmax)
	vr, dvr := axis(nvr, 0, vmax)
	vzeta, dvzeta := axis(nvzeta, -vmax, vmax)

	g := newGrid(nvz*nvr*nvzeta, dvz*dvr*dvzeta)
	for k, vt := range vzeta {
		for j, vrr := range vr {
			for i, v := range vz {
				iv := (k*nvr+j)*nvz + i
				g.par[iv], g.perpSq[iv] = v, vrr*vrr+vt*vt
			}
		}
	}
	floats.MulTo(g.parSq, g.par, g.par)
	return g
}

func newGrid(n int, w float64) velocityGrid {
	return velocityGrid{
		par:    make([]float64, n),
		parSq:  make([]float64, n),
		perpSq: make([]float64, n),
		w:      w,
	}
}

func (g velocityGrid) points() int { return len(g.par) }

// moments returns density, parallel flow and parallel pressure of f.
func (g velocityGrid) moments(f []float64) (n, u, ppar float64) {
	n = g.w * floats.Sum(f)
	if math.Abs(n) > tinyDensity {
		u = g.w * floats.Dot(g.par, f) / n
	}
	ppar = g.w*floats.Dot(g.parSq, f) - n*u*u
	return n, u, ppar
}

// momentRates returns the time derivatives of the moments of f given its
// derivative df.
func (g velocityGrid) momentRates(n, u float64, df []float64) (dn, du, dppar float64) {
	sum := floats.Sum(df)
	flux := floats.Dot(g.par, df)
	dn = g.w * sum
	if math.Abs(n) > tinyDensity {
		du = (g.w*flux - u*dn) / n
	}
	dppar = g.w * (floats.Dot(g.parSq, df) - 2*u*flux + u*u*sum)
	return dn, du, dppar
}

// maxwellian writes the discrete Maxwellian with density n, parallel flow u
// and temperature temp into dst. The result integrates to n exactly.
func (g velocityGrid) maxwellian(dst []float64, n, u, temp float64) {
	for iv, v := range g.par {
		d := v - u
		dst[iv] = math.Exp(-(d*d + g.perpSq[iv]) / temp)
	}
	norm := g.w * floats.Sum(dst)
	if norm <= 0 {
		floats.Scale(0, dst)
		return
	}
	floats.Scale(n/norm, dst)
}

// temperature follows the exp(-v^2/T) convention, so ppar = n*T/2. It is
// floored at a fraction of fallback so the Maxwellian stays resolvable.
func temperature(n, ppar, fallback float64) float64 {
	if n <= tinyDensity || ppar <= 0 {
		return fallback
	}
	return math.Max(2*ppar/n, 1e-3*fallback)
}
