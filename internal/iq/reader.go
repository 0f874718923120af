// internal/iq/reader.go
// Package iq reads interleaved I/Q sample files as complex baseband samples.
package iq

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

var (
	// ErrUnknownFormat indicates an unsupported sample format name
	ErrUnknownFormat = errors.New("unknown sample format")
	// ErrTruncatedSample indicates the input ended in the middle of a sample
	ErrTruncatedSample = errors.New("truncated I/Q sample at end of input")
)

// Format is an on-disk sample encoding.
type Format int

const (
	// FormatU8 is interleaved unsigned 8-bit I/Q as written by rtl_sdr
	FormatU8 Format = iota
	// FormatCF32 is interleaved little-endian float32 I/Q
	FormatCF32
)

// u8Offset centres rtl_sdr samples around zero
const u8Offset = 127.5

// ParseFormat converts a format name (u8, cu8, cf32, fc32) to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "u8", "cu8":
		return FormatU8, nil
	case "cf32", "fc32":
		return FormatCF32, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// String returns the canonical format name
func (f Format) String() string {
	switch f {
	case FormatU8:
		return "u8"
	case FormatCF32:
		return "cf32"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// SampleSize returns the number of bytes per complex sample
func (f Format) SampleSize() int {
	if f == FormatCF32 {
		return 8
	}
	return 2
}

// Reader decodes complex samples from an I/Q byte stream.
type Reader struct {
	r      *bufio.Reader
	format Format
	buf    []byte
	closer func() error
}

// NewReader wraps r, which must yield samples in the given format.
func NewReader(r io.Reader, format Format) *Reader {
	return &Reader{
		r:      bufio.NewReaderSize(r, 64*1024),
		format: format,
	}
}

// Open opens a sample file. Files ending in .zst are decompressed on the fly
// and "-" reads from standard input.
func Open(path string, format Format) (*Reader, error) {
	var (
		src     io.Reader
		closers []func() error
	)

	if path == "-" {
		src = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open samples: %w", err)
		}
		src = f
		closers = append(closers, f.Close)
	}

	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(src)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, fmt.Errorf("init zstd decoder: %w", err)
		}
		src = dec
		closers = append([]func() error{func() error { dec.Close(); return nil }}, closers...)
	}

	rd := NewReader(src, format)
	rd.closer = func() error {
		var errs []error
		for _, c := range closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return rd, nil
}

// Read decodes up to len(dst) samples into dst. It returns io.EOF once the
// input is exhausted and ErrTruncatedSample if it ends mid-sample.
func (r *Reader) Read(dst []complex128) (int, error) {
	size := r.format.SampleSize()
	need := len(dst) * size
	if cap(r.buf) < need {
		r.buf = make([]byte, need)
	}
	buf := r.buf[:need]

	n, err := io.ReadFull(r.r, buf)
	samples := n / size
	r.decode(dst[:samples], buf[:samples*size])

	switch {
	case err == nil:
		return samples, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		if n%size != 0 {
			return samples, ErrTruncatedSample
		}
		if samples == 0 {
			return 0, io.EOF
		}
		return samples, nil
	case errors.Is(err, io.EOF):
		return 0, io.EOF
	default:
		return samples, fmt.Errorf("read samples: %w", err)
	}
}

func (r *Reader) decode(dst []complex128, buf []byte) {
	switch r.format {
	case FormatCF32:
		for i := range dst {
			re := math.Float32frombits(binary.LittleEndian.Uint32(buf[8*i:]))
			im := math.Float32frombits(binary.LittleEndian.Uint32(buf[8*i+4:]))
			dst[i] = complex(float64(re), float64(im))
		}
	default:
		for i := range dst {
			re := (float64(buf[2*i]) - u8Offset) / u8Offset
			im := (float64(buf[2*i+1]) - u8Offset) / u8Offset
			dst[i] = complex(re, im)
		}
	}
}

// Format returns the sample format being decoded
func (r *Reader) Format() Format {
	return r.format
}

// Close releases the underlying file and decoder, if any
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
