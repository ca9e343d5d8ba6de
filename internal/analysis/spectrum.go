package analysis

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MinPeakShare is the share of non-DC power the strongest bin needs before
// Dominant reports an oscillation.
const MinPeakShare = 0.2

// Peak is the strongest non-DC component of a spectrum.
type Peak struct {
	Frequency float64 // Hz
	Period    float64 // s
	Power     float64
	Share     float64 // of the total non-DC power
}

// PowerSpectrum returns the squared magnitudes of the one-sided spectrum
// of values after removing the mean. Bin i sits at i/(len(values)*dt) Hz.
func PowerSpectrum(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	centered := make([]float64, len(values))
	copy(centered, values)
	floats.AddConst(-stat.Mean(values, nil), centered)

	coeff := fourier.NewFFT(len(centered)).Coefficients(nil, centered)
	ps := make([]float64, len(coeff))
	for i, c := range coeff {
		a := cmplx.Abs(c)
		ps[i] = a * a
	}
	return ps
}

// Dominant reports the strongest periodic component of values sampled
// every dt seconds. It returns false for flat series and for spectra
// without a clear peak.
func Dominant(values []float64, dt float64) (Peak, bool) {
	if len(values) < 4 || dt <= 0 {
		return Peak{}, false
	}
	if stat.Variance(values, nil) < 1e-24 {
		return Peak{}, false
	}

	ps := PowerSpectrum(values)
	total := floats.Sum(ps[1:])
	if total == 0 || math.IsNaN(total) {
		return Peak{}, false
	}

	idx := 1 + floats.MaxIdx(ps[1:])
	freq := float64(idx) / (float64(len(values)) * dt)
	p := Peak{
		Frequency: freq,
		Period:    1 / freq,
		Power:     ps[idx],
		Share:     ps[idx] / total,
	}
	return p, p.Share >= MinPeakShare
}
