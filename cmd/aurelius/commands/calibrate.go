package commands

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/RMahshie/aurelius/internal/audio"
	"github.com/RMahshie/aurelius/internal/calibration"
	"github.com/RMahshie/aurelius/internal/pipeline"
	"github.com/RMahshie/aurelius/pkg/models"
)

var (
	calibrateOut      string
	calibrateSimulate float64
	calibrateOutput   string
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Run the hearing test and save a profile",
	Long: `Run the adaptive hearing test one band at a time, build a gain profile
and save it.

Answer y or n after each tone. With --simulate a listener with the given
threshold in dB SPL answers instead, which is useful for trying out the
pipeline without headphones.

Examples:
  aurelius calibrate --out me.json
  aurelius calibrate --simulate 40 --output tones.wav`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, globalCfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var device audio.Device = nullDevice()
		if calibrateOutput != "" {
			device = audio.WAVDevice{OutputPath: calibrateOutput}
		}

		out := cmd.OutOrStdout()
		orch, err := a.orchestrator(device, out, func(c *pipeline.Config) {
			if calibrateOut != "" {
				c.ProfilePath = calibrateOut
			}
		})
		if err != nil {
			return err
		}

		var responder calibration.Responder
		if cmd.Flags().Changed("simulate") {
			responder = calibration.NewSimulatedListener(calibrateSimulate)
		} else {
			console := calibration.NewConsoleResponder(cmd.InOrStdin(), out)
			defer console.Close()
			responder = console
		}

		p, err := orch.Calibrate(ctx, responder)
		if err != nil {
			return err
		}
		printProfile(out, p)
		return nil
	},
}

func init() {
	calibrateCmd.Flags().StringVar(&calibrateOut, "out", "", "profile file to write (overrides PROFILE_PATH)")
	calibrateCmd.Flags().Float64Var(&calibrateSimulate, "simulate", 0, "answer with a simulated listener of this threshold in dB SPL")
	calibrateCmd.Flags().StringVar(&calibrateOutput, "output", "", "write the test tones to this WAV file")
}

// printProfile writes a table of band gains.
func printProfile(w io.Writer, p *models.AudioProfile) {
	fmt.Fprintf(w, "Profile %s (%s, created %s)\n", p.ID, p.Rule, p.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "Safety range: %+.1f to %+.1f dB\n\n", p.Safety.MinGainDB, p.Safety.MaxGainDB)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CENTER\tRANGE\tGAIN")
	for _, b := range p.Bands {
		fmt.Fprintf(tw, "%.0f Hz\t%.0f-%.0f Hz\t%+.1f dB\n", b.Band.CenterHz, b.Band.LowerHz, b.Band.UpperHz, b.GainDB)
	}
	tw.Flush()
}
