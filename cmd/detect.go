// cmd/detect.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ColonelBlimp/carrierdetect/internal/dsp"
	"github.com/ColonelBlimp/carrierdetect/internal/iq"
	"github.com/ColonelBlimp/carrierdetect/internal/metrics"
	"github.com/ColonelBlimp/carrierdetect/internal/output"
	"github.com/ColonelBlimp/carrierdetect/internal/recovery"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var detectCmd = &cobra.Command{
	Use:   "detect FILE",
	Short: "Detect carriers in a recorded I/Q file",
	Long: `Reads interleaved I/Q samples from FILE ("-" for stdin, .zst files are
decompressed), splits them into overlapping blocks and reports the carrier
detection result of every block.`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

func init() {
	flags := detectCmd.Flags()
	flags.String("format", "u8", "sample format: u8 (rtl_sdr) or cf32")
	flags.IntP("workers", "j", 4, "parallel detection workers")
	addDetectionFlags(flags)
}

func runDetect(cmd *cobra.Command, args []string) error {
	s, logger := app.settings, app.logger
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	format, err := iq.ParseFormat(s.Input.Format)
	if err != nil {
		return err
	}
	reader, err := iq.Open(args[0], format)
	if err != nil {
		return err
	}
	defer reader.Close()

	writer, err := output.NewWriter(s.Output.Format, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	sink, stopMetrics := newEventSink(ctx, writer, logger)
	defer stopMetrics()

	logger.Info("detecting carriers",
		zap.String("file", args[0]),
		zap.Stringer("format", reader.Format()),
		zap.Int("block_size", s.Block.Size),
		zap.Int("workers", s.Workers),
	)

	summary, err := dsp.DetectStream(ctx, reader, dsp.StreamConfig{
		Blocker:  s.BlockerConfig(),
		Detector: s.DetectorConfig(),
		Workers:  s.Workers,
	}, sink)
	if cerr := writer.Close(); cerr != nil && err == nil {
		err = cerr
	}

	switch {
	case errors.Is(err, iq.ErrTruncatedSample):
		logger.Warn("input ends with a partial sample", zap.String("file", args[0]))
	case errors.Is(err, context.Canceled):
		logger.Info("detection interrupted", zap.String("file", args[0]))
	case err != nil:
		return fmt.Errorf("detect %s: %w", args[0], err)
	}

	logSummary(logger, summary)
	return nil
}

// newEventSink returns the handler that writes, counts and logs each event.
// When metrics_addr is set it also serves Prometheus metrics until the
// returned stop function is called.
func newEventSink(ctx context.Context, writer output.Writer, logger *zap.Logger) (dsp.EventHandler, func()) {
	var m *metrics.Metrics
	stop := func() {}

	if addr := app.settings.MetricsAddr; addr != "" {
		m = metrics.New()
		ctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer recovery.HandlePanic()
			defer close(done)
			if err := m.Serve(ctx, addr); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		logger.Info("serving metrics", zap.String("addr", addr))
		stop = func() {
			cancel()
			<-done
		}
	}

	return func(ev dsp.Event) error {
		if m != nil {
			m.Observe(ev)
		}
		if ev.Detected {
			logger.Debug("carrier detected",
				zap.Int64("block", ev.Block),
				zap.Int("peak_index", ev.PeakIndex),
				zap.Float64("frequency", ev.Frequency),
				zap.Float64("snr_db", ev.SNR),
			)
		}
		return writer.Write(ev)
	}, stop
}

func logSummary(logger *zap.Logger, summary dsp.Summary) {
	fields := []zap.Field{
		zap.Int("blocks", summary.Blocks),
		zap.Int("detections", summary.Detections),
	}
	if !math.IsNaN(summary.BestSNR) {
		fields = append(fields, zap.Float64("best_snr_db", summary.BestSNR))
	}
	logger.Info("detection finished", fields...)
}
