// internal/dsp/blocker.go
package dsp

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrInvalidBlockSize indicates block size must be positive
	ErrInvalidBlockSize = errors.New("block size must be positive")
	// ErrInvalidHistory indicates history must be non-negative and smaller than the block size
	ErrInvalidHistory = errors.New("block history must be between 0 and block size - 1")
)

// Block is a fixed-size run of complex baseband samples.
type Block struct {
	// Index counts blocks from the start of the stream
	Index int64
	// Offset is the stream position of the first sample
	Offset int64
	// Samples holds exactly BlockSize samples; owned by the receiver
	Samples []complex128
}

// BlockCallback receives each completed block.
// Called from the goroutine that invokes Process.
type BlockCallback func(block Block)

// BlockerConfig holds configuration for splitting a sample stream into blocks.
// All values should come from the application config file.
type BlockerConfig struct {
	// BlockSize is the number of samples per FFT block (from config: block.size)
	BlockSize int
	// History is the number of samples at the end of a block that are repeated
	// at the start of the next one (from config: block.history)
	History int
}

// Blocker slices a continuous sample stream into overlapping blocks.
type Blocker struct {
	config  BlockerConfig
	hopSize int // samples to advance between blocks

	buffer []complex128
	index  int64
	offset int64 // stream position of buffer[0]

	callbackPtr atomic.Pointer[BlockCallback]
}

// NewBlocker creates a new Blocker with the given configuration.
func NewBlocker(cfg BlockerConfig) (*Blocker, error) {
	if cfg.BlockSize <= 0 {
		return nil, ErrInvalidBlockSize
	}
	if cfg.History < 0 || cfg.History >= cfg.BlockSize {
		return nil, ErrInvalidHistory
	}

	return &Blocker{
		config:  cfg,
		hopSize: cfg.BlockSize - cfg.History,
		buffer:  make([]complex128, 0, 2*cfg.BlockSize),
	}, nil
}

// SetCallback sets the callback for completed blocks.
func (b *Blocker) SetCallback(cb BlockCallback) {
	if cb == nil {
		b.callbackPtr.Store(nil)
	} else {
		b.callbackPtr.Store(&cb)
	}
}

// Process appends samples to the stream and emits every block that is complete.
// Samples that do not yet fill a block are kept for the next call.
func (b *Blocker) Process(samples []complex128) {
	b.buffer = append(b.buffer, samples...)

	blockSize := b.config.BlockSize
	for len(b.buffer) >= blockSize {
		block := make([]complex128, blockSize)
		copy(block, b.buffer[:blockSize])
		b.emit(Block{Index: b.index, Offset: b.offset, Samples: block})
		b.index++

		// Slide the buffer by hopSize, keeping the history for the next block
		copy(b.buffer, b.buffer[b.hopSize:])
		b.buffer = b.buffer[:len(b.buffer)-b.hopSize]
		b.offset += int64(b.hopSize)
	}
}

func (b *Blocker) emit(block Block) {
	cbPtr := b.callbackPtr.Load()
	if cbPtr != nil {
		(*cbPtr)(block)
	}
}

// Pending returns the number of buffered samples not yet emitted as a block
func (b *Blocker) Pending() int {
	return len(b.buffer)
}

// Blocks returns the number of blocks emitted so far
func (b *Blocker) Blocks() int64 {
	return b.index
}

// HopSize returns the number of new samples per block
func (b *Blocker) HopSize() int {
	return b.hopSize
}
