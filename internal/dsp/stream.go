// internal/dsp/stream.go
package dsp

import (
	"context"
	"errors"
	"io"
	"math"
)

// SampleSource yields complex samples; io.EOF marks the end of the stream.
// Implemented by iq.Reader.
type SampleSource interface {
	Read(dst []complex128) (int, error)
}

// EventHandler receives events in block order
type EventHandler func(ev Event) error

// StreamConfig holds configuration for DetectStream.
type StreamConfig struct {
	Blocker  BlockerConfig
	Detector DetectorConfig
	// Workers is the detection worker pool size (from config: workers)
	Workers int
	// BatchBlocks bounds how many blocks are held in memory at once; 0 means 16 per worker
	BatchBlocks int
	// ReadSize is the number of samples requested per Read; 0 means 64Ki
	ReadSize int
}

// NewSummary returns an empty Summary
func NewSummary() Summary {
	return Summary{BestSNR: math.NaN()}
}

// DetectStream reads src to the end, slices it into blocks and runs detection
// on batches of blocks in parallel, passing every event to handle in order.
// A read error other than io.EOF stops reading; blocks completed before it are
// still detected and the error is returned with the summary.
func DetectStream(ctx context.Context, src SampleSource, cfg StreamConfig, handle EventHandler) (Summary, error) {
	summary := NewSummary()

	blocker, err := NewBlocker(cfg.Blocker)
	if err != nil {
		return summary, err
	}
	workers := max(cfg.Workers, 1)
	batchSize := cfg.BatchBlocks
	if batchSize <= 0 {
		batchSize = 16 * workers
	}
	readSize := cfg.ReadSize
	if readSize <= 0 {
		readSize = 64 * 1024
	}

	batch := make([]Block, 0, batchSize)
	blocker.SetCallback(func(block Block) {
		batch = append(batch, block)
	})

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		events, err := DetectAll(ctx, cfg.Detector, cfg.Blocker.BlockSize, batch, workers)
		if err != nil {
			return err
		}
		batch = batch[:0]
		for _, ev := range events {
			summary.Add(ev)
			if handle != nil {
				if err := handle(ev); err != nil {
					return err
				}
			}
		}
		return nil
	}

	buf := make([]complex128, readSize)
	var readErr error
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		n, err := src.Read(buf)
		blocker.Process(buf[:n])
		if len(batch) >= batchSize {
			if ferr := flush(); ferr != nil {
				return summary, ferr
			}
		}

		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = err
			break
		}
	}

	if err := flush(); err != nil {
		return summary, err
	}
	return summary, readErr
}
