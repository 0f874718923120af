// internal/carrier/detect.go
package carrier

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ThresholdCoeffs holds the coefficients of the threshold formula:
//
//	threshold^2 = Constant + SNR*noise^2 + StdDev*stddev^2
type ThresholdCoeffs struct {
	Constant float64
	SNR      float64
	StdDev   float64
}

// Result is the outcome of one detection.
type Result struct {
	// Detected is true when the peak magnitude strictly exceeds the threshold
	Detected bool
	// PeakIndex is the estimated position of the carrier in the full FFT (0..L-1)
	PeakIndex int
	// PeakMagnitude is the estimated peak magnitude
	PeakMagnitude float64
	// NoiseRMS is the estimated per-bin noise RMS. NaN when the estimate is unreliable.
	NoiseRMS float64
	// Threshold is the magnitude the peak was compared against
	Threshold float64
}

// Detect detects the presence of a carrier in an FFT magnitude spectrum.
// window and peakFilter are optional; pass nil to use the whole spectrum
// without filtering. The only error is ErrOutOfRange.
func Detect(spectrum []float64, coeffs ThresholdCoeffs, window *Window, peakFilter []float64) (Result, error) {
	peakIdx, peakMag, err := FindPeak(spectrum, window, peakFilter)
	if err != nil {
		return Result{}, err
	}
	noiseRMS := EstimateNoise(spectrum, peakMag)
	threshold := ComputeThreshold(spectrum, coeffs, noiseRMS)

	return Result{
		Detected:      peakMag > threshold,
		PeakIndex:     peakIdx,
		PeakMagnitude: peakMag,
		NoiseRMS:      noiseRMS,
		Threshold:     threshold,
	}, nil
}

// FindPeak returns the position and magnitude of the largest (optionally
// matched-filtered) bin inside window. Ties resolve to the lowest bin.
func FindPeak(spectrum []float64, window *Window, peakFilter []float64) (int, float64, error) {
	mags, startIdx, err := WindowView(spectrum, window)
	if err != nil {
		return 0, 0, err
	}

	delay := 0
	if peakFilter != nil {
		mags, delay = ApplyPeakFilter(mags, peakFilter)
	}

	maxIdx := floats.MaxIdx(mags)
	peakMag := mags[maxIdx]

	length := len(spectrum)
	peakIdx := maxIdx - delay + startIdx
	if peakIdx > length-1 {
		peakIdx -= length
	} else if peakIdx < 0 {
		peakIdx += length
	}
	return peakIdx, peakMag, nil
}

// EstimateNoise estimates the noise RMS per bin from the total spectral energy.
//
// The energy in the wide-band positioning signal and the narrow-band
// unmodulated carrier is about equal for OOK modulation and a pseudo-random
// code, so two times the peak power is removed before averaging over the
// remaining L-1 bins. A negative noise power yields NaN.
func EstimateNoise(spectrum []float64, peakMagnitude float64) float64 {
	energy := floats.Dot(spectrum, spectrum)
	peakPower := peakMagnitude * peakMagnitude
	noisePower := (energy - 2*peakPower) / float64(len(spectrum)-1)
	return math.Sqrt(noisePower)
}

// ComputeThreshold evaluates the threshold formula in the power domain and
// returns it as a magnitude. The spectrum's standard deviation is only
// computed when its coefficient is non-zero.
func ComputeThreshold(spectrum []float64, coeffs ThresholdCoeffs, noiseRMS float64) float64 {
	var stddev float64
	if coeffs.StdDev != 0 {
		stddev = stat.PopStdDev(spectrum, nil)
	}
	thresh := coeffs.Constant +
		coeffs.SNR*noiseRMS*noiseRMS +
		coeffs.StdDev*stddev*stddev
	return math.Sqrt(thresh)
}
