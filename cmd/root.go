// cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ColonelBlimp/carrierdetect/internal/config"
	"github.com/ColonelBlimp/carrierdetect/internal/logging"
	"github.com/ColonelBlimp/carrierdetect/internal/recovery"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "carrierdetect",
	Short: "Detect transmitter carriers in I/Q sample streams",
	Long: `carrierdetect searches each block of a complex baseband stream for a
carrier peak in the magnitude spectrum and reports whether it rises above a
noise-derived threshold.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// app is the state shared by subcommands once setup has run
var app struct {
	settings *config.Settings
	logger   *zap.Logger
}

// flagKeys maps command-line flags to the config keys they override
var flagKeys = map[string]string{
	"log-level":    "log_level",
	"debug":        "debug",
	"output":       "output.format",
	"metrics-addr": "metrics_addr",
	"format":       "input.format",
	"sample-rate":  "sample_rate",
	"freq":         "tuner.freq",
	"block-size":   "block.size",
	"history":      "block.history",
	"threshold":    "carrier.threshold",
	"window":       "carrier.window",
	"peak-filter":  "carrier.peak_filter",
	"workers":      "workers",
	"device":       "device_index",
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	// Global flags (override config file)
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default ./config.yaml or ~/.config/carrierdetect/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table, json, csv, yaml")
	rootCmd.PersistentFlags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(detectCmd, captureCmd, windowCmd)
}

// setup loads the config with the command's flags bound over it and builds
// the logger. Flags are bound per run so each invocation sees its own set.
func setup(cmd *cobra.Command, _ []string) error {
	if err := bindFlags(cmd.Flags()); err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString("config")
	if err := config.Init(configFile); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	settings, err := config.Get()
	if err != nil {
		return err
	}

	logger, err := logging.New(settings.EffectiveLogLevel())
	if err != nil {
		return err
	}
	recovery.SetLogger(logger)

	app.settings = settings
	app.logger = logger
	logger.Debug("configuration loaded",
		zap.String("config_file", viper.ConfigFileUsed()),
		zap.Float64("sample_rate", settings.SampleRate),
		zap.Int("block_size", settings.Block.Size),
		zap.Int("block_history", settings.Block.History),
		zap.Float64s("threshold", settings.Carrier.Threshold),
	)
	return nil
}

func bindFlags(flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// addDetectionFlags registers the flags shared by commands that run the detector
func addDetectionFlags(flags *pflag.FlagSet) {
	flags.StringP("sample-rate", "s", "", "sample rate in samples/s, SI prefixes allowed (e.g. 2.4M)")
	flags.StringP("freq", "f", "", "tuner center frequency in Hz, SI prefixes allowed (e.g. 433.92M)")
	flags.IntP("block-size", "b", 8192, "FFT block size in samples")
	flags.Int("history", 2085, "samples repeated between consecutive blocks")
	flags.StringP("threshold", "t", "", `threshold coefficients "constant,snr,stddev"`)
	flags.StringP("window", "w", "", `restrict the peak search to bins "start,stop"`)
	flags.String("peak-filter", "", `matched filter weights "w0,w1,..."`)
}
