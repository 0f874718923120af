// internal/dsp/spectrum.go
package dsp

import (
	"errors"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// ErrBlockLength indicates a block does not match the FFT size
var ErrBlockLength = errors.New("block length does not match FFT size")

// Spectrum computes FFT magnitude spectra of fixed-size blocks.
// A Spectrum reuses its FFT work space and is not safe for concurrent use.
type Spectrum struct {
	size   int
	fft    *fourier.CmplxFFT
	coeffs []complex128
}

// NewSpectrum creates a magnitude spectrum calculator for blocks of size samples.
func NewSpectrum(size int) (*Spectrum, error) {
	if size <= 0 {
		return nil, ErrInvalidBlockSize
	}
	return &Spectrum{
		size:   size,
		fft:    fourier.NewCmplxFFT(size),
		coeffs: make([]complex128, size),
	}, nil
}

// Magnitude stores |FFT(samples)| in dst, allocating it when it is too short,
// and returns it. Bin k is the k-th FFT coefficient (negative frequencies in
// the upper half).
func (s *Spectrum) Magnitude(dst []float64, samples []complex128) ([]float64, error) {
	if len(samples) != s.size {
		return nil, ErrBlockLength
	}
	if cap(dst) < s.size {
		dst = make([]float64, s.size)
	}
	dst = dst[:s.size]

	s.coeffs = s.fft.Coefficients(s.coeffs, samples)
	for i, c := range s.coeffs {
		dst[i] = cmplx.Abs(c)
	}
	return dst, nil
}

// BinFrequency returns the baseband frequency offset in Hz of FFT bin k.
// Bins in the upper half of the spectrum map to negative frequencies.
func BinFrequency(bin, length int, sampleRate float64) float64 {
	if bin >= (length+1)/2 {
		bin -= length
	}
	return float64(bin) * sampleRate / float64(length)
}
