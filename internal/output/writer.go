// internal/output/writer.go
// Package output renders detection events as table, JSON lines, CSV or YAML.
package output

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/ColonelBlimp/carrierdetect/internal/dsp"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat indicates an unsupported output format name
var ErrUnknownFormat = errors.New("unknown output format")

// Format selects how events are rendered.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatYAML  Format = "yaml"
)

// Formats lists the supported formats
var Formats = []Format{FormatTable, FormatJSON, FormatCSV, FormatYAML}

// ParseFormat converts a format name to a Format
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Writer renders a stream of events.
type Writer interface {
	Write(ev dsp.Event) error
	// Flush writes any buffered output. Writing may continue afterwards.
	Flush() error
	// Close flushes and ends the stream; no events may follow
	Close() error
}

// NewWriter returns a Writer for the named format
func NewWriter(format string, w io.Writer) (Writer, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	switch f {
	case FormatJSON:
		return &jsonWriter{enc: json.NewEncoder(w)}, nil
	case FormatCSV:
		return &csvWriter{w: csv.NewWriter(w)}, nil
	case FormatYAML:
		return &yamlWriter{enc: yaml.NewEncoder(w)}, nil
	default:
		return &tableWriter{w: tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)}, nil
	}
}

// Record is the serialized form of an event. NaN and infinite values are
// omitted since JSON has no encoding for them.
type Record struct {
	Block         int64    `json:"block" yaml:"block"`
	Offset        int64    `json:"offset" yaml:"offset"`
	Time          float64  `json:"time" yaml:"time"`
	Detected      bool     `json:"detected" yaml:"detected"`
	PeakIndex     int      `json:"peak_index" yaml:"peak_index"`
	Frequency     float64  `json:"frequency" yaml:"frequency"`
	PeakMagnitude float64  `json:"peak_magnitude" yaml:"peak_magnitude"`
	NoiseRMS      *float64 `json:"noise_rms,omitempty" yaml:"noise_rms,omitempty"`
	Threshold     *float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	SNR           *float64 `json:"snr_db,omitempty" yaml:"snr_db,omitempty"`
}

// NewRecord converts an event to its serialized form
func NewRecord(ev dsp.Event) Record {
	return Record{
		Block:         ev.Block,
		Offset:        ev.Offset,
		Time:          ev.Time,
		Detected:      ev.Detected,
		PeakIndex:     ev.PeakIndex,
		Frequency:     ev.Frequency,
		PeakMagnitude: ev.PeakMagnitude,
		NoiseRMS:      finite(ev.NoiseRMS),
		Threshold:     finite(ev.Threshold),
		SNR:           finite(ev.SNR),
	}
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

type jsonWriter struct {
	enc *json.Encoder
}

func (j *jsonWriter) Write(ev dsp.Event) error {
	if err := j.enc.Encode(NewRecord(ev)); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

func (j *jsonWriter) Flush() error { return nil }

func (j *jsonWriter) Close() error { return nil }

type yamlWriter struct {
	enc     *yaml.Encoder
	started bool
}

func (y *yamlWriter) Write(ev dsp.Event) error {
	if err := y.enc.Encode(NewRecord(ev)); err != nil {
		return fmt.Errorf("write yaml: %w", err)
	}
	y.started = true
	return nil
}

// Flush is a no-op: the encoder writes each document as soon as it ends.
func (y *yamlWriter) Flush() error { return nil }

// Close ends the YAML stream. The encoder rejects a stream end without a
// stream start, so an empty stream is left untouched.
func (y *yamlWriter) Close() error {
	if !y.started {
		return nil
	}
	if err := y.enc.Close(); err != nil {
		return fmt.Errorf("close yaml: %w", err)
	}
	return nil
}

var columns = []string{"block", "offset", "time", "detected", "peak_index", "frequency", "peak_magnitude", "noise_rms", "threshold", "snr_db"}

// fields formats an event in column order
func fields(ev dsp.Event) []string {
	return []string{
		strconv.FormatInt(ev.Block, 10),
		strconv.FormatInt(ev.Offset, 10),
		strconv.FormatFloat(ev.Time, 'f', 6, 64),
		strconv.FormatBool(ev.Detected),
		strconv.Itoa(ev.PeakIndex),
		strconv.FormatFloat(ev.Frequency, 'f', 1, 64),
		strconv.FormatFloat(ev.PeakMagnitude, 'g', 6, 64),
		strconv.FormatFloat(ev.NoiseRMS, 'g', 6, 64),
		strconv.FormatFloat(ev.Threshold, 'g', 6, 64),
		strconv.FormatFloat(ev.SNR, 'f', 1, 64),
	}
}

type csvWriter struct {
	w             *csv.Writer
	headerWritten bool
}

func (c *csvWriter) Write(ev dsp.Event) error {
	if !c.headerWritten {
		if err := c.w.Write(columns); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		c.headerWritten = true
	}
	if err := c.w.Write(fields(ev)); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func (c *csvWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

func (c *csvWriter) Close() error { return c.Flush() }

type tableWriter struct {
	w             *tabwriter.Writer
	headerWritten bool
}

func (t *tableWriter) Write(ev dsp.Event) error {
	if !t.headerWritten {
		if _, err := fmt.Fprintln(t.w, strings.ToUpper(strings.Join(columns, "\t"))+"\t"); err != nil {
			return fmt.Errorf("write table header: %w", err)
		}
		t.headerWritten = true
	}
	if _, err := fmt.Fprintln(t.w, strings.Join(fields(ev), "\t")+"\t"); err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	return nil
}

func (t *tableWriter) Flush() error {
	return t.w.Flush()
}

func (t *tableWriter) Close() error { return t.Flush() }
