// internal/carrier/filter.go
package carrier

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// ApplyPeakFilter correlates values with the expected peak shape described by weights.
//
// The weights should be normalized such that sum(weights^2) = 1, which keeps the
// filtered energy comparable with an unfiltered peak magnitude. The peak is
// assumed to sit at the largest coefficient; delay is the number of bins by
// which the filter output lags that position.
func ApplyPeakFilter(values, weights []float64) (filtered []float64, delay int) {
	filtered = make([]float64, len(values))
	if len(weights) == 0 {
		return filtered, 0
	}

	delay = len(weights) - floats.MaxIdx(weights) - 1

	// Time-reversed, squared kernel: correlation expressed as a causal FIR
	m := len(weights)
	coeffs := make([]float64, m)
	for i := range coeffs {
		w := weights[m-1-i]
		coeffs[i] = w * w
	}

	// y[n] = sum_k coeffs[k] * x[n-k]^2 with zero history before the first sample
	for n := range values {
		var acc float64
		for k := 0; k < m && k <= n; k++ {
			x := values[n-k]
			acc += coeffs[k] * x * x
		}
		filtered[n] = math.Sqrt(acc)
	}
	return filtered, delay
}
