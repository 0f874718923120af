// internal/audio/capture.go
// Package audio captures complex baseband from a stereo sound card input,
// left channel in-phase and right channel quadrature.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ColonelBlimp/carrierdetect/internal/recovery"
	"github.com/gen2brain/malgo"
)

var (
	ErrNotInitialized     = errors.New("audio capture not initialized")
	ErrAlreadyRunning     = errors.New("audio capture already running")
	ErrNotRunning         = errors.New("audio capture not running")
	ErrInvalidSampleRate  = errors.New("audio sample rate must be between 8000 and 384000")
	ErrDeviceOutOfRange   = errors.New("audio device index out of range")
	ErrCaptureClosed      = errors.New("audio capture closed")
	ErrInvalidBufferSize  = errors.New("audio buffer size must be positive")
)

// channels is fixed: I on the left, Q on the right
const channels = 2

// Config holds audio capture configuration
type Config struct {
	DeviceIndex int    // -1 for default device
	SampleRate  uint32 // e.g., 48000
	BufferSize  uint32 // frames per callback
	SwapIQ      bool   // take I from the right channel
}

// DefaultConfig returns defaults suited to a 48 kHz I/Q sound card
func DefaultConfig() Config {
	return Config{
		DeviceIndex: -1,
		SampleRate:  48000,
		BufferSize:  1024,
	}
}

// Validate checks the configuration before any device is touched
func (c Config) Validate() error {
	if c.SampleRate < 8000 || c.SampleRate > 384000 {
		return fmt.Errorf("%w, got %d", ErrInvalidSampleRate, c.SampleRate)
	}
	if c.BufferSize == 0 {
		return ErrInvalidBufferSize
	}
	return nil
}

// SampleCallback is called directly from the audio thread with new samples.
// Must be non-blocking and fast. The slice is owned by the callee.
type SampleCallback func(samples []complex128)

// Capture streams complex samples from a stereo capture device
type Capture struct {
	config Config

	mu     sync.Mutex // guards ctx and device
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	running     atomic.Bool
	closed      atomic.Bool
	closeOnce   sync.Once
	callbackPtr atomic.Pointer[SampleCallback]
	dropped     atomic.Uint64

	// Samples delivers I/Q blocks of BufferSize frames; closed by Close
	Samples chan []complex128
}

// New creates a new audio capture instance
func New(cfg Config) *Capture {
	return &Capture{
		config:  cfg,
		Samples: make(chan []complex128, 64),
	}
}

// SetCallback sets a callback for real-time sample processing.
// A nil callback clears it. Safe to call while running.
func (c *Capture) SetCallback(cb SampleCallback) {
	if cb == nil {
		c.callbackPtr.Store(nil)
		return
	}
	c.callbackPtr.Store(&cb)
}

// Init initializes the audio backend
func (c *Capture) Init() error {
	if err := c.config.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrCaptureClosed
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	c.ctx = ctx
	return nil
}

// ListDevices returns available capture devices
func (c *Capture) ListDevices() ([]malgo.DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listDevices()
}

func (c *Capture) listDevices() ([]malgo.DeviceInfo, error) {
	if c.ctx == nil {
		return nil, ErrNotInitialized
	}
	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	return infos, nil
}

// Start begins audio capture. Capture stops when ctx is cancelled.
func (c *Capture) Start(ctx context.Context) error {
	if c.running.Load() {
		return ErrAlreadyRunning
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil {
		return ErrNotInitialized
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = c.config.SampleRate
	deviceConfig.PeriodSizeInFrames = c.config.BufferSize
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = channels

	if c.config.DeviceIndex >= 0 {
		devices, err := c.listDevices()
		if err != nil {
			return err
		}
		if c.config.DeviceIndex >= len(devices) {
			return fmt.Errorf("%w: %d (have %d devices)", ErrDeviceOutOfRange, c.config.DeviceIndex, len(devices))
		}
		deviceConfig.Capture.DeviceID = devices[c.config.DeviceIndex].ID.Pointer()
	}

	onRecvFrames := func(_, inputSamples []byte, _ uint32) {
		if len(inputSamples) == 0 || c.closed.Load() {
			return
		}
		samples := interleavedToIQ(bytesAsFloat32(inputSamples), c.config.SwapIQ)

		if cb := c.callbackPtr.Load(); cb != nil {
			(*cb)(samples)
		}
		c.safeSend(samples)
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		return fmt.Errorf("init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start device: %w", err)
	}

	c.device = device
	c.running.Store(true)

	go func() {
		defer recovery.HandlePanic()
		<-ctx.Done()
		_ = c.Stop()
	}()

	return nil
}

// safeSend delivers samples without blocking the audio thread.
// Samples are dropped when the consumer falls behind.
func (c *Capture) safeSend(samples []complex128) {
	defer func() {
		// Close may race with the audio thread
		if recover() != nil {
			c.dropped.Add(1)
		}
	}()
	if c.closed.Load() {
		return
	}
	select {
	case c.Samples <- samples:
	default:
		c.dropped.Add(1)
	}
}

// Stop stops audio capture
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return ErrNotRunning
	}
	c.stopDevice()
	return nil
}

// stopDevice must be called with mu held
func (c *Capture) stopDevice() {
	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	c.running.Store(false)
}

// Close releases all audio resources and closes Samples.
// Safe to call more than once.
func (c *Capture) Close() error {
	c.closed.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		c.stopDevice()
	}

	var err error
	if c.ctx != nil {
		if uerr := c.ctx.Uninit(); uerr != nil {
			err = fmt.Errorf("uninit context: %w", uerr)
		}
		c.ctx.Free()
		c.ctx = nil
	}

	c.closeOnce.Do(func() {
		close(c.Samples)
	})
	return err
}

// IsRunning returns true if capture is active
func (c *Capture) IsRunning() bool {
	return c.running.Load()
}

// Dropped returns the number of sample buffers discarded because the
// consumer was too slow
func (c *Capture) Dropped() uint64 {
	return c.dropped.Load()
}

// SampleRate returns the configured capture rate in Hz
func (c *Capture) SampleRate() uint32 {
	return c.config.SampleRate
}

// bytesAsFloat32 reinterprets little-endian float32 frames without copying.
// The result aliases data.
func bytesAsFloat32(data []byte) []float32 {
	if len(data) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), len(data)/4)
}

// interleavedToIQ converts stereo frames to complex samples.
// A trailing unpaired value is ignored.
func interleavedToIQ(frames []float32, swap bool) []complex128 {
	n := len(frames) / channels
	samples := make([]complex128, n)
	for i := range samples {
		l, r := float64(frames[2*i]), float64(frames[2*i+1])
		if swap {
			l, r = r, l
		}
		samples[i] = complex(l, r)
	}
	return samples
}
