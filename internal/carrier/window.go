// internal/carrier/window.go
// Package carrier detects the presence of a carrier in the magnitude spectrum of one block.
//
// It checks the frequency bin with the highest energy and tests it against an
// adaptive threshold derived from the estimated noise floor.
package carrier

import (
	"errors"
	"fmt"
)

// ErrOutOfRange indicates a window bound whose absolute value is not less than the FFT length
var ErrOutOfRange = errors.New("frequency window out of range")

// Window limits detection to the closed interval of bins [Start, Stop].
// Negative values index from the end of the spectrum, so {-10, 10} straddles bin 0.
type Window struct {
	Start int
	Stop  int
}

// FullWindow covers the whole spectrum. A nil *Window means the same thing.
var FullWindow = Window{Start: 0, Stop: -1}

// ResolveRange converts a range of frequency bins to FFT indices.
//
// The returned stopIdx may be >= length, in which case elements must be taken
// modulo length (see WindowView).
func ResolveRange(start, stop, length int) (startIdx, stopIdx int, err error) {
	if abs(start) >= length || abs(stop) >= length {
		return 0, 0, fmt.Errorf("%w: %d - %d (length %d)", ErrOutOfRange, start, stop, length)
	}
	if start < 0 && stop >= 0 {
		return length + start, length + stop, nil
	}
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if stop < start {
		start, stop = stop, start
	}
	return start, stop, nil
}

// WindowView extracts the bins selected by window from spectrum, wrapping past
// the last bin. It also returns the index of the first bin so that positions in
// the view can be mapped back onto the full spectrum.
func WindowView(spectrum []float64, window *Window) ([]float64, int, error) {
	w := FullWindow
	if window != nil {
		w = *window
	}

	length := len(spectrum)
	startIdx, stopIdx, err := ResolveRange(w.Start, w.Stop, length)
	if err != nil {
		return nil, 0, err
	}

	values := make([]float64, stopIdx-startIdx+1)
	for i := range values {
		values[i] = spectrum[wrapIndex(startIdx+i, length)]
	}
	return values, startIdx, nil
}

// wrapIndex maps a logical bin index onto the physical spectrum.
func wrapIndex(i, length int) int {
	i %= length
	if i < 0 {
		i += length
	}
	return i
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
