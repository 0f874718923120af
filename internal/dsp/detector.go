// internal/dsp/detector.go
package dsp

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ColonelBlimp/carrierdetect/internal/carrier"
	"github.com/ColonelBlimp/carrierdetect/internal/recovery"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidSampleRate indicates sample rate must be positive
var ErrInvalidSampleRate = errors.New("sample rate must be positive")

// DetectorConfig holds configuration for per-block carrier detection.
// All values should come from the application config file.
type DetectorConfig struct {
	// Threshold holds the threshold formula coefficients (from config: carrier.threshold)
	Threshold carrier.ThresholdCoeffs
	// Window limits the search to a range of bins, nil for all (from config: carrier.window)
	Window *carrier.Window
	// PeakFilter holds matched filter weights, nil to disable (from config: carrier.peak_filter)
	PeakFilter []float64
	// SampleRate is the IQ sample rate in Hz (from config: sample_rate)
	SampleRate float64
	// CenterFreq is the tuner frequency in Hz (from config: tuner.freq)
	CenterFreq float64
}

// Event is the detection outcome for one block.
type Event struct {
	carrier.Result

	// Block is the block index in the stream
	Block int64
	// Offset is the stream position of the block's first sample
	Offset int64
	// Time is Offset expressed in seconds
	Time float64
	// Frequency is the absolute frequency of the peak bin in Hz
	Frequency float64
	// SNR is 20*log10(peak/noise); NaN when the noise estimate is unreliable
	SNR float64
}

// Detector runs the carrier detector on the spectrum of each block.
// A Detector owns an FFT plan and is not safe for concurrent use.
type Detector struct {
	config    DetectorConfig
	spectrum  *Spectrum
	magnitude []float64
}

// NewDetector creates a detector for blocks of blockSize samples.
// The window is checked against the block size up front.
func NewDetector(cfg DetectorConfig, blockSize int) (*Detector, error) {
	if cfg.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	spectrum, err := NewSpectrum(blockSize)
	if err != nil {
		return nil, err
	}
	if cfg.Window != nil {
		if _, _, err := carrier.ResolveRange(cfg.Window.Start, cfg.Window.Stop, blockSize); err != nil {
			return nil, err
		}
	}

	return &Detector{
		config:    cfg,
		spectrum:  spectrum,
		magnitude: make([]float64, blockSize),
	}, nil
}

// Detect computes the magnitude spectrum of block and tests it for a carrier.
func (d *Detector) Detect(block Block) (Event, error) {
	mag, err := d.spectrum.Magnitude(d.magnitude, block.Samples)
	if err != nil {
		return Event{}, err
	}
	return d.DetectSpectrum(block, mag)
}

// DetectSpectrum tests an already computed magnitude spectrum of block.
func (d *Detector) DetectSpectrum(block Block, magnitude []float64) (Event, error) {
	result, err := carrier.Detect(magnitude, d.config.Threshold, d.config.Window, d.config.PeakFilter)
	if err != nil {
		return Event{}, err
	}

	length := len(magnitude)
	return Event{
		Result:    result,
		Block:     block.Index,
		Offset:    block.Offset,
		Time:      float64(block.Offset) / d.config.SampleRate,
		Frequency: d.config.CenterFreq + BinFrequency(result.PeakIndex, length, d.config.SampleRate),
		SNR:       20 * math.Log10(result.PeakMagnitude/result.NoiseRMS),
	}, nil
}

// DetectAll runs detection over blocks with a pool of workers, each owning its
// own Detector. Events are returned in block order. The first error cancels
// the remaining work.
func DetectAll(ctx context.Context, cfg DetectorConfig, blockSize int, blocks []Block, workers int) ([]Event, error) {
	if workers < 1 {
		workers = 1
	}
	// Fail fast on configuration errors before starting workers
	if _, err := NewDetector(cfg, blockSize); err != nil {
		return nil, err
	}

	events := make([]Event, len(blocks))
	g, ctx := errgroup.WithContext(ctx)

	next := make(chan int)
	g.Go(recovery.Guard(func() error {
		defer close(next)
		for i := range blocks {
			select {
			case next <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}))

	for w := 0; w < workers; w++ {
		g.Go(recovery.Guard(func() error {
			det, err := NewDetector(cfg, blockSize)
			if err != nil {
				return err
			}
			for i := range next {
				ev, err := det.Detect(blocks[i])
				if err != nil {
					return fmt.Errorf("block %d: %w", blocks[i].Index, err)
				}
				events[i] = ev
			}
			return nil
		}))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return events, nil
}

// Summary aggregates detection events.
type Summary struct {
	Blocks     int
	Detections int
	// BestSNR is the highest SNR among detections, NaN when there were none
	BestSNR float64
}

// Add accounts for one more event
func (s *Summary) Add(ev Event) {
	s.Blocks++
	if !ev.Detected {
		return
	}
	s.Detections++
	if math.IsNaN(s.BestSNR) || ev.SNR > s.BestSNR {
		s.BestSNR = ev.SNR
	}
}
