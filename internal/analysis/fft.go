package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrTooShort   = errors.New("analysis: series too short")
	ErrNonUniform = errors.New("analysis: samples not uniformly spaced")
)

// PowerSpectrum returns the magnitudes of the non-negative frequency bins
// of the discrete Fourier transform of data. Any length is accepted.
func PowerSpectrum(data []float64) []float64 {
	if len(data) == 0 {
		return nil
	}
	spec := fft.FFTReal(data)
	ps := make([]float64, len(spec)/2+1)
	for i := range ps {
		ps[i] = cmplx.Abs(spec[i])
	}
	return ps
}

// Report summarises one time series.
type Report struct {
	Samples   int
	Dt        float64
	Mean      float64
	StdDev    float64
	Slope     float64
	Intercept float64
	// Dominant is the frequency of the strongest non-zero bin of the
	// mean-removed series, in cycles per unit time.
	Dominant float64
	Power    []float64
	Freqs    []float64
}

func sampleStep(times []float64) (float64, error) {
	dt := (times[len(times)-1] - times[0]) / float64(len(times)-1)
	if !(dt > 0) {
		return 0, fmt.Errorf("time span %g: %w", times[len(times)-1]-times[0], ErrNonUniform)
	}
	for i := 1; i < len(times); i++ {
		if math.Abs(times[i]-times[i-1]-dt) > 1e-6*dt+1e-12 {
			return 0, fmt.Errorf("step %d is %g, mean %g: %w", i, times[i]-times[i-1], dt, ErrNonUniform)
		}
	}
	return dt, nil
}

func Analyze(times, values []float64) (*Report, error) {
	if len(times) != len(values) {
		return nil, fmt.Errorf("%d times for %d values", len(times), len(values))
	}
	if len(values) < 4 {
		return nil, fmt.Errorf("%d samples: %w", len(values), ErrTooShort)
	}

	r := &Report{Samples: len(values)}
	r.Mean, r.StdDev = stat.MeanStdDev(values, nil)
	r.Intercept, r.Slope = stat.LinearRegression(times, values, nil, false)

	dt, err := sampleStep(times)
	if err != nil {
		return r, err
	}
	r.Dt = dt

	centered := make([]float64, len(values))
	for i, v := range values {
		centered[i] = v - r.Mean
	}
	r.Power = PowerSpectrum(centered)
	r.Freqs = make([]float64, len(r.Power))
	n := float64(len(values))
	best := 0
	for i := range r.Power {
		r.Freqs[i] = float64(i) / (n * dt)
		if i > 0 && r.Power[i] > r.Power[best] {
			best = i
		}
	}
	if best > 0 {
		r.Dominant = r.Freqs[best]
	}
	return r, nil
}
