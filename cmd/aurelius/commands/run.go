package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/RMahshie/aurelius/internal/api"
	"github.com/RMahshie/aurelius/internal/audio"
	"github.com/RMahshie/aurelius/internal/pipeline"
	"github.com/RMahshie/aurelius/pkg/models"
)

var (
	runInput  string
	runOutput string
	runListen string
	runPaced  bool
)

var runCmd = &cobra.Command{
	Use:   "run <profile|s3://key>",
	Short: "Correct audio with a saved profile",
	Long: `Stream audio through the spectral corrector using a saved profile.

The input WAV file must match SAMPLE_RATE. Without --output the corrected
audio is discarded, which is useful together with --listen to watch the
diagnostics. With --paced frames are read at real-time speed and dropped
when processing falls behind; otherwise no frame is dropped.

Examples:
  aurelius run me.json --input music.wav --output corrected.wav
  aurelius run s3://profiles/1234.json --input music.wav --paced --listen :8080`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, globalCfg)
		if err != nil {
			return err
		}
		defer a.Close()

		device := audio.SplitDevice{
			In:  audio.WAVDevice{InputPath: runInput, Paced: runPaced},
			Out: nullDevice(),
		}
		if runOutput != "" {
			device.Out = audio.WAVDevice{OutputPath: runOutput}
		}

		orch, err := a.orchestrator(device, cmd.OutOrStdout(), func(c *pipeline.Config) {
			c.Lossless = !runPaced
		})
		if err != nil {
			return err
		}

		p, err := orch.LoadProfile(ctx, args[0])
		if err != nil {
			return err
		}

		listen := runListen
		if listen == "" {
			listen = a.cfg.Server.ListenAddr
		}
		if listen == "" {
			d, err := orch.Run(ctx, p)
			if err != nil {
				return err
			}
			printDiagnostics(cmd.OutOrStdout(), d)
			return nil
		}

		srv := &http.Server{
			Addr:              listen,
			Handler:           api.NewRouter(orch, a.repo, a.cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			log.Info().Str("addr", listen).Msg("Starting control API")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Control API forced to shut down")
				}
			}()
			d, err := orch.Run(gctx, p)
			if err != nil {
				return err
			}
			printDiagnostics(cmd.OutOrStdout(), d)
			return nil
		})
		return g.Wait()
	},
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "WAV file to correct")
	runCmd.Flags().StringVar(&runOutput, "output", "", "WAV file to write the corrected audio to")
	runCmd.Flags().StringVar(&runListen, "listen", "", "address for the control API (overrides LISTEN_ADDR)")
	runCmd.Flags().BoolVar(&runPaced, "paced", false, "read the input at real-time speed")
	_ = runCmd.MarkFlagRequired("input")
}

func printDiagnostics(w io.Writer, d models.Diagnostics) {
	fmt.Fprintf(w, "Processed %d frames in %s (%d dropped, %d late, %d limited)\n",
		d.FramesProcessed, d.Uptime.Round(time.Millisecond), d.FramesDropped, d.LateFrames, d.SafetyLimited)
}
