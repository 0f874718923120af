// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ColonelBlimp/carrierdetect/internal/carrier"
	"github.com/ColonelBlimp/carrierdetect/internal/dsp"
	"github.com/ColonelBlimp/carrierdetect/internal/iq"
	"github.com/ColonelBlimp/carrierdetect/internal/logging"
	"github.com/ColonelBlimp/carrierdetect/internal/output"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/floats"
)

const (
	AppName       = "carrierdetect"
	ConfigType    = "yaml"
	DefaultConfig = `# Carrier Detector Configuration

# Receiver
sample_rate: 2.2e6        # Sample rate (sps), SI prefixes allowed (e.g. 2.4M)
tuner:
  freq: 433e6             # Tuner center frequency (Hz), used to report absolute peak frequency

# Blocks
block:
  size: 8192              # FFT length, should be a power of two (samples)
  history: 2085           # Samples at the end of a block repeated at the start of the next

# Carrier detection
carrier:
  threshold: [0, 100, 0]  # Threshold coefficients: constant, snr, stddev
                          # threshold^2 = constant + snr*noise^2 + stddev*stddev(spectrum)^2
  window: []              # Optional [start, stop] bins, negative values index from the end
  peak_filter: []         # Optional matched filter weights (normalized on load)

# Input / output
input:
  format: u8              # u8 (rtl_sdr) or cf32
output:
  format: table           # table, json, csv or yaml
workers: 4                # Parallel detection workers for file input

# Audio capture (left = I, right = Q)
device_index: -1          # -1 for default device

# Diagnostics
log_level: info           # debug, info, warn, error
metrics_addr: ""          # Prometheus listen address (e.g. :9090), empty disables
debug: false              # Enable debug output
`
)

// Settings holds all application configuration
type Settings struct {
	SampleRate float64         `mapstructure:"sample_rate"`
	Tuner      TunerSettings   `mapstructure:"tuner"`
	Block      BlockSettings   `mapstructure:"block"`
	Carrier    CarrierSettings `mapstructure:"carrier"`
	Input      InputSettings   `mapstructure:"input"`
	Output     OutputSettings  `mapstructure:"output"`
	Workers    int             `mapstructure:"workers"`

	// Audio capture
	DeviceIndex int `mapstructure:"device_index"`

	// Diagnostics
	LogLevel    string `mapstructure:"log_level"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	Debug       bool   `mapstructure:"debug"`
}

type TunerSettings struct {
	Freq float64 `mapstructure:"freq"`
}

type BlockSettings struct {
	Size    int `mapstructure:"size"`
	History int `mapstructure:"history"`
}

// CarrierSettings holds the detector tunables
type CarrierSettings struct {
	Threshold  []float64 `mapstructure:"threshold"`
	Window     []int     `mapstructure:"window"`
	PeakFilter []float64 `mapstructure:"peak_filter"`
}

type InputSettings struct {
	Format string `mapstructure:"format"`
}

type OutputSettings struct {
	Format string `mapstructure:"format"`
}

// Init initializes Viper with defaults and a config file.
// An explicit configFile must exist. Otherwise the search order is the
// current directory, then ~/.config/carrierdetect/, and a default file is
// created in the latter when none is found.
func Init(configFile string) error {
	viper.SetDefault("sample_rate", 2.2e6)
	viper.SetDefault("tuner.freq", 433e6)
	viper.SetDefault("block.size", 8192)
	viper.SetDefault("block.history", 2085)
	viper.SetDefault("carrier.threshold", []float64{0, 100, 0})
	viper.SetDefault("carrier.window", []int{})
	viper.SetDefault("carrier.peak_filter", []float64{})
	viper.SetDefault("input.format", "u8")
	viper.SetDefault("output.format", "table")
	viper.SetDefault("workers", 4)
	viper.SetDefault("device_index", -1)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("metrics_addr", "")
	viper.SetDefault("debug", false)

	viper.SetConfigType(ConfigType)

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
		return nil
	}

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			xdgConfigPath := filepath.Join(configDir, AppName)
			if err = ensureConfigExists(xdgConfigPath); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Receiver
	if s.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %v", s.SampleRate))
	}
	if s.Tuner.Freq < 0 {
		errs = append(errs, fmt.Errorf("tuner.freq must not be negative, got %v", s.Tuner.Freq))
	}

	// Blocks
	if s.Block.Size < 16 || s.Block.Size > 1<<22 {
		errs = append(errs, fmt.Errorf("block.size must be between 16 and %d, got %d", 1<<22, s.Block.Size))
	} else if s.Block.Size&(s.Block.Size-1) != 0 {
		errs = append(errs, fmt.Errorf("block.size should be a power of 2, got %d", s.Block.Size))
	}
	if s.Block.History < 0 || s.Block.History >= s.Block.Size {
		errs = append(errs, fmt.Errorf("block.history must be between 0 and block.size - 1, got %d", s.Block.History))
	}

	// Carrier detection
	if len(s.Carrier.Threshold) != 3 {
		errs = append(errs, fmt.Errorf("carrier.threshold must have 3 coefficients (constant, snr, stddev), got %d", len(s.Carrier.Threshold)))
	}
	switch len(s.Carrier.Window) {
	case 0:
	case 2:
		if s.Block.Size > 0 {
			if _, _, err := carrier.ResolveRange(s.Carrier.Window[0], s.Carrier.Window[1], s.Block.Size); err != nil {
				errs = append(errs, fmt.Errorf("carrier.window: %w", err))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("carrier.window must be empty or [start, stop], got %v", s.Carrier.Window))
	}
	if len(s.Carrier.PeakFilter) > 0 {
		if floats.Min(s.Carrier.PeakFilter) < 0 {
			errs = append(errs, fmt.Errorf("carrier.peak_filter weights must not be negative, got %v", s.Carrier.PeakFilter))
		} else if floats.Max(s.Carrier.PeakFilter) == 0 {
			errs = append(errs, errors.New("carrier.peak_filter needs at least one positive weight"))
		}
	}

	// Input / output
	if _, err := iq.ParseFormat(s.Input.Format); err != nil {
		errs = append(errs, fmt.Errorf("input.format: %w", err))
	}
	if _, err := output.ParseFormat(s.Output.Format); err != nil {
		errs = append(errs, fmt.Errorf("output.format: %w", err))
	}
	if s.Workers < 1 || s.Workers > 256 {
		errs = append(errs, fmt.Errorf("workers must be between 1 and 256, got %d", s.Workers))
	}

	// Diagnostics
	if _, err := logging.ParseLevel(s.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ThresholdCoeffs returns the threshold coefficients.
// Must only be called on validated settings.
func (s *Settings) ThresholdCoeffs() carrier.ThresholdCoeffs {
	return carrier.ThresholdCoeffs{
		Constant: s.Carrier.Threshold[0],
		SNR:      s.Carrier.Threshold[1],
		StdDev:   s.Carrier.Threshold[2],
	}
}

// Window returns the detection window, nil for the full spectrum
func (s *Settings) Window() *carrier.Window {
	if len(s.Carrier.Window) != 2 {
		return nil
	}
	return &carrier.Window{Start: s.Carrier.Window[0], Stop: s.Carrier.Window[1]}
}

// PeakFilter returns a copy of the matched filter weights scaled to unit
// energy, or nil when no filter is configured.
func (s *Settings) PeakFilter() []float64 {
	if len(s.Carrier.PeakFilter) == 0 {
		return nil
	}
	weights := make([]float64, len(s.Carrier.PeakFilter))
	floats.ScaleTo(weights, 1/floats.Norm(s.Carrier.PeakFilter, 2), s.Carrier.PeakFilter)
	return weights
}

// BlockerConfig returns the block slicing configuration
func (s *Settings) BlockerConfig() dsp.BlockerConfig {
	return dsp.BlockerConfig{
		BlockSize: s.Block.Size,
		History:   s.Block.History,
	}
}

// DetectorConfig returns the per-block detector configuration
func (s *Settings) DetectorConfig() dsp.DetectorConfig {
	return dsp.DetectorConfig{
		Threshold:  s.ThresholdCoeffs(),
		Window:     s.Window(),
		PeakFilter: s.PeakFilter(),
		SampleRate: s.SampleRate,
		CenterFreq: s.Tuner.Freq,
	}
}

// EffectiveLogLevel returns log_level, or "debug" when debug is set
func (s *Settings) EffectiveLogLevel() string {
	if s.Debug {
		return "debug"
	}
	return s.LogLevel
}
