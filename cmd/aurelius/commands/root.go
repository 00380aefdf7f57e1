package commands

import (
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/RMahshie/aurelius/internal/config"
	"github.com/RMahshie/aurelius/pkg/models"
)

// Process exit codes.
const (
	ExitOK                    = 0
	ExitFailure               = 1
	ExitDeviceUnavailable     = 3
	ExitInvalidProfile        = 4
	ExitIncompleteCalibration = 5
)

var (
	logLevel  string
	globalCfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "aurelius",
	Short: "Hearing calibration and live spectral correction",
	Long: `aurelius measures your hearing threshold per frequency band with an
adaptive staircase, turns the result into a gain profile and applies it
to an audio stream in real time.

Commands:
  calibrate      run the hearing test and save a profile
  run            correct audio with a saved profile
  profile show   print a saved profile
  profile delete delete a saved profile`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		setupLogging(cfg.LogLevel)
		globalCfg = cfg
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(profileCmd)
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// ExitCode maps an error returned by Execute to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, models.ErrDevice):
		return ExitDeviceUnavailable
	case errors.Is(err, models.ErrInvalidProfile):
		return ExitInvalidProfile
	case errors.Is(err, models.ErrIncompleteCalibration):
		return ExitIncompleteCalibration
	default:
		return ExitFailure
	}
}
