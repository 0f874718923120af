package iq

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	testCases := []struct {
		name string
		want Format
	}{
		{"u8", FormatU8},
		{"cu8", FormatU8},
		{" CF32 ", FormatCF32},
		{"fc32", FormatCF32},
	}
	for _, tc := range testCases {
		got, err := ParseFormat(tc.name)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}

	_, err := ParseFormat("s16")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestFormat_String(t *testing.T) {
	assert.Equal(t, "u8", FormatU8.String())
	assert.Equal(t, "cf32", FormatCF32.String())
	assert.Equal(t, 2, FormatU8.SampleSize())
	assert.Equal(t, 8, FormatCF32.SampleSize())
}

func TestReader_U8(t *testing.T) {
	data := []byte{255, 0, 127, 128, 0, 255}
	r := NewReader(bytes.NewReader(data), FormatU8)

	dst := make([]complex128, 8)
	n, err := r.Read(dst)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	assert.InDelta(t, 1.0, real(dst[0]), 1e-12)
	assert.InDelta(t, -1.0, imag(dst[0]), 1e-12)
	assert.InDelta(t, -0.5/127.5, real(dst[1]), 1e-12)
	assert.InDelta(t, 0.5/127.5, imag(dst[1]), 1e-12)
	assert.InDelta(t, -1.0, real(dst[2]), 1e-12)

	n, err = r.Read(dst)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func encodeCF32(samples []complex64) []byte {
	var buf bytes.Buffer
	for _, s := range samples {
		_ = binary.Write(&buf, binary.LittleEndian, real(s))
		_ = binary.Write(&buf, binary.LittleEndian, imag(s))
	}
	return buf.Bytes()
}

func TestReader_CF32(t *testing.T) {
	samples := []complex64{complex(0.25, -0.5), complex(1, 0), complex(-0.125, 0.75)}
	r := NewReader(bytes.NewReader(encodeCF32(samples)), FormatCF32)

	dst := make([]complex128, 2)
	n, err := r.Read(dst)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	assert.Equal(t, complex(0.25, -0.5), dst[0])
	assert.Equal(t, complex(1.0, 0), dst[1])

	n, err = r.Read(dst)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, complex(-0.125, 0.75), dst[0])
}

func TestReader_TruncatedSample(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{1, 2, 3}), FormatU8)

	dst := make([]complex128, 4)
	n, err := r.Read(dst)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, ErrTruncatedSample)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.bin"), FormatU8)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpen_ZstdFile(t *testing.T) {
	raw := make([]byte, 2*1000)
	for i := range raw {
		raw[i] = byte(i % 256)
	}

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll(raw, nil)
	require.NoError(t, enc.Close())

	path := filepath.Join(t.TempDir(), "capture.bin.zst")
	require.NoError(t, os.WriteFile(path, compressed, 0644))

	r, err := Open(path, FormatU8)
	require.NoError(t, err)
	defer func() { assert.NoError(t, r.Close()) }()

	var total int
	dst := make([]complex128, 256)
	for {
		n, err := r.Read(dst)
		if n > 0 && total == 0 {
			assert.InDelta(t, (0-u8Offset)/u8Offset, real(dst[0]), 1e-12)
			assert.InDelta(t, (1-u8Offset)/u8Offset, imag(dst[0]), 1e-12)
		}
		total += n
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, 1000, total)
}

func TestOpen_PlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cf32")
	require.NoError(t, os.WriteFile(path, encodeCF32([]complex64{complex(float32(math.Pi), 1)}), 0644))

	r, err := Open(path, FormatCF32)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, FormatCF32, r.Format())
	dst := make([]complex128, 1)
	n, err := r.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.InDelta(t, math.Pi, real(dst[0]), 1e-6)
}
