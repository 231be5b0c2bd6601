// Package analysis inspects the moment histories a run writes.
//
//   - [PowerSpectrum]: magnitude spectrum of a uniformly sampled signal
//   - [Analyze]: dominant frequency, mean, spread and linear trend of a
//     time series
//
// Point densities of a perturbed run oscillate as the perturbation streams
// and damps; the dominant frequency and the trend of the total particle
// count are the usual first checks:
//
//	m, _ := st.LoadMoments(runID)
//	report, err := analysis.Analyze(m.Times, m.Column("ion0_point"))
package analysis
