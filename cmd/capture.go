// cmd/capture.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/ColonelBlimp/carrierdetect/internal/audio"
	"github.com/ColonelBlimp/carrierdetect/internal/dsp"
	"github.com/ColonelBlimp/carrierdetect/internal/output"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Detect carriers live from a stereo I/Q sound card input",
	Long: `Captures complex baseband from a sound card (left channel I, right
channel Q) and runs the carrier detector on every block until interrupted.
The sample rate must be one the sound card supports, e.g. -s 48k.`,
	Args: cobra.NoArgs,
	RunE: runCapture,
}

func init() {
	flags := captureCmd.Flags()
	flags.IntP("device", "d", -1, "audio device index (-1 for default)")
	flags.Bool("list-devices", false, "list capture devices and exit")
	flags.Bool("swap-iq", false, "take I from the right channel")
	flags.Uint32("buffer-size", 1024, "frames per audio callback")
	addDetectionFlags(flags)
}

func runCapture(cmd *cobra.Command, _ []string) error {
	s, logger := app.settings, app.logger
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	listOnly, _ := cmd.Flags().GetBool("list-devices")
	swapIQ, _ := cmd.Flags().GetBool("swap-iq")
	bufferSize, _ := cmd.Flags().GetUint32("buffer-size")

	cfg := audio.Config{
		DeviceIndex: s.DeviceIndex,
		SampleRate:  uint32(s.SampleRate),
		BufferSize:  bufferSize,
		SwapIQ:      swapIQ,
	}
	if listOnly {
		// Any valid rate will do for enumeration
		cfg = audio.DefaultConfig()
	}
	capture := audio.New(cfg)
	if err := capture.Init(); err != nil {
		return err
	}
	defer func() {
		if err := capture.Close(); err != nil {
			logger.Warn("closing audio capture", zap.Error(err))
		}
	}()

	if listOnly {
		return listDevices(cmd, capture)
	}

	blocker, err := dsp.NewBlocker(s.BlockerConfig())
	if err != nil {
		return err
	}
	detector, err := dsp.NewDetector(s.DetectorConfig(), s.Block.Size)
	if err != nil {
		return err
	}
	writer, err := output.NewWriter(s.Output.Format, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	sink, stopMetrics := newEventSink(ctx, writer, logger)
	defer stopMetrics()

	summary := dsp.NewSummary()
	var blockErr error
	blocker.SetCallback(blockHandler(detector, sink, writer, &summary, &blockErr))

	if err := capture.Start(ctx); err != nil {
		return err
	}
	logger.Info("capturing",
		zap.Uint32("sample_rate", capture.SampleRate()),
		zap.Int("device", s.DeviceIndex),
		zap.Int("block_size", s.Block.Size),
		zap.Int("hop", blocker.HopSize()),
	)

	err = consume(ctx, capture.Samples, blocker, &blockErr)
	if cerr := writer.Close(); cerr != nil && err == nil {
		err = cerr
	}
	logger.Debug("capture stopped",
		zap.Int64("blocks", blocker.Blocks()),
		zap.Int("pending_samples", blocker.Pending()),
	)
	if dropped := capture.Dropped(); dropped > 0 {
		logger.Warn("sample buffers dropped", zap.Uint64("dropped", dropped))
	}
	logSummary(logger, summary)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// blockHandler detects, reports and flushes each block so live output appears
// block by block. The first failure is kept in *blockErr and later blocks are
// skipped.
func blockHandler(detector *dsp.Detector, sink dsp.EventHandler, writer output.Writer, summary *dsp.Summary, blockErr *error) dsp.BlockCallback {
	return func(block dsp.Block) {
		if *blockErr != nil {
			return
		}
		ev, err := detector.Detect(block)
		if err == nil {
			summary.Add(ev)
			err = sink(ev)
		}
		if err == nil {
			err = writer.Flush()
		}
		*blockErr = err
	}
}

// consume feeds captured samples to the blocker until ctx ends, the channel
// closes or a block fails
func consume(ctx context.Context, samples <-chan []complex128, blocker *dsp.Blocker, blockErr *error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case buf, ok := <-samples:
			if !ok {
				return nil
			}
			blocker.Process(buf)
			if *blockErr != nil {
				return *blockErr
			}
		}
	}
}

func listDevices(cmd *cobra.Command, capture *audio.Capture) error {
	devices, err := capture.ListDevices()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME")
	for i, d := range devices {
		fmt.Fprintf(tw, "%d\t%s\n", i, d.Name())
	}
	return tw.Flush()
}
