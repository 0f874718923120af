// cmd/window.go
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/ColonelBlimp/carrierdetect/internal/carrier"
	"github.com/ColonelBlimp/carrierdetect/internal/dsp"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var windowCmd = &cobra.Command{
	Use:   "window",
	Short: "Show which FFT bins a carrier.window selects",
	Long: `Resolves a [start, stop] bin window against the block size and prints the
index range and the frequencies it covers. Negative bins count from the end
of the spectrum, so -10,10 covers the 21 bins around the tuner frequency.`,
	Args: cobra.NoArgs,
	RunE: runWindow,
}

func init() {
	flags := windowCmd.Flags()
	flags.Int("length", 0, "FFT length (default block.size)")
	flags.Bool("bins", false, "list every selected bin")
	addDetectionFlags(flags)
}

func runWindow(cmd *cobra.Command, _ []string) error {
	s := app.settings

	length, _ := cmd.Flags().GetInt("length")
	if length <= 0 {
		length = s.Block.Size
	}
	listBins, _ := cmd.Flags().GetBool("bins")

	w := carrier.FullWindow
	if sw := s.Window(); sw != nil {
		w = *sw
	}
	startIdx, stopIdx, err := carrier.ResolveRange(w.Start, w.Stop, length)
	if err != nil {
		return err
	}

	binFreq := func(i int) float64 {
		return s.Tuner.Freq + dsp.BinFrequency(i%length, length, s.SampleRate)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "window\t%d, %d\n", w.Start, w.Stop)
	fmt.Fprintf(tw, "length\t%d\n", length)
	fmt.Fprintf(tw, "indices\t%d - %d\n", startIdx, stopIdx)
	fmt.Fprintf(tw, "bins\t%d\n", stopIdx-startIdx+1)
	fmt.Fprintf(tw, "resolution\t%s\n", humanize.SIWithDigits(s.SampleRate/float64(length), 3, "Hz"))
	fmt.Fprintf(tw, "first\t%s\n", humanize.SIWithDigits(binFreq(startIdx), 6, "Hz"))
	fmt.Fprintf(tw, "last\t%s\n", humanize.SIWithDigits(binFreq(stopIdx), 6, "Hz"))

	if listBins {
		fmt.Fprintln(tw, "\nINDEX\tBIN\tFREQUENCY")
		for i := startIdx; i <= stopIdx; i++ {
			fmt.Fprintf(tw, "%d\t%d\t%.1f\n", i-startIdx, i%length, binFreq(i))
		}
	}
	return tw.Flush()
}
