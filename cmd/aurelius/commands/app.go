package commands

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/RMahshie/aurelius/internal/audio"
	"github.com/RMahshie/aurelius/internal/calibration"
	"github.com/RMahshie/aurelius/internal/config"
	"github.com/RMahshie/aurelius/internal/guidance"
	"github.com/RMahshie/aurelius/internal/pipeline"
	"github.com/RMahshie/aurelius/internal/profile"
	"github.com/RMahshie/aurelius/internal/repository"
	"github.com/RMahshie/aurelius/internal/repository/memory"
	"github.com/RMahshie/aurelius/internal/repository/postgres"
	"github.com/RMahshie/aurelius/internal/storage"
	"github.com/RMahshie/aurelius/internal/tone"
)

// app holds the collaborators shared by every command.
type app struct {
	cfg     *config.Config
	db      *sql.DB
	repo    repository.CalibrationRepository
	prompts repository.PromptRepository
	storage storage.ProfileStorage
	guide   guidance.Guide
}

// openApp connects the configured backends. Without DATABASE_URL history
// is kept in memory; without STORAGE_BUCKET profiles are not backed up.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
		a.repo = postgres.NewPostgresCalibrationRepository(db)
		a.prompts = postgres.NewPostgresPromptRepository(db)
		log.Info().Msg("Using PostgreSQL history")
	} else {
		store := memory.NewStore()
		a.repo = store
		a.prompts = store
	}

	if cfg.Storage.Bucket != "" {
		s, err := storage.New(storage.Config{
			Driver:    cfg.Storage.Driver,
			Bucket:    cfg.Storage.Bucket,
			Endpoint:  cfg.Storage.Endpoint,
			Region:    cfg.Storage.Region,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		if err := s.EnsureBucket(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.storage = s
		log.Info().Str("driver", cfg.Storage.Driver).Str("bucket", cfg.Storage.Bucket).Msg("Profile backup enabled")
	}

	a.guide = guidance.Static{}
	if cfg.Guidance.Enabled {
		client, err := guidance.NewOpenAIClient(guidance.ClientConfig{
			BaseURL: cfg.Guidance.BaseURL,
			APIKey:  cfg.Guidance.APIKey,
			Model:   cfg.Guidance.Model,
			Timeout: cfg.Guidance.Timeout,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.guide = guidance.NewService(client, a.prompts, cfg.Guidance.Timeout)
	}

	return a, nil
}

// Close releases the database connection, if any.
func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}

// pipelineConfig maps the loaded configuration onto the orchestrator's.
func (a *app) pipelineConfig() (pipeline.Config, error) {
	cfg := a.cfg
	bands, err := profile.Partition(cfg.Calibration.Frequencies)
	if err != nil {
		return pipeline.Config{}, err
	}

	est := calibration.DefaultEstimatorConfig()
	est.Params = cfg.Calibration.Staircase
	est.ResponseTimeout = cfg.Calibration.ResponseTimeout
	est.Comfort = cfg.Calibration.MeasureComfort

	return pipeline.Config{
		Format: audio.Format{
			SampleRate: cfg.Audio.SampleRate,
			FrameSize:  cfg.Audio.FrameSize,
			Channels:   1,
		},
		Levels:              audio.Levels{FullScaleSPL: cfg.Audio.FullScaleSPL},
		SafetyCeilingSPL:    cfg.Audio.SafetyCeilingSPL,
		ToneDuration:        cfg.Audio.ToneDuration,
		Estimator:           est,
		Bands:               bands,
		Retries:             cfg.Calibration.Retries,
		ProfilePath:         cfg.Profile.Path,
		QueueDepth:          cfg.Audio.QueueDepth,
		DiagnosticsInterval: cfg.Audio.DiagnosticsInterval,
	}, nil
}

// orchestrator builds a pipeline over device. tune may adjust the
// pipeline config before it is used.
func (a *app) orchestrator(device audio.Device, out io.Writer, tune func(*pipeline.Config)) (*pipeline.Orchestrator, error) {
	pcfg, err := a.pipelineConfig()
	if err != nil {
		return nil, err
	}
	if tune != nil {
		tune(&pcfg)
	}

	opts := []pipeline.Option{
		pipeline.WithGuide(a.guide),
		pipeline.WithRepository(a.repo),
		pipeline.WithBuilder(profile.NewBuilder(profile.WithSafetyRange(a.cfg.Profile.Safety))),
		pipeline.WithToneGenerator(tone.NewGenerator(
			tone.WithFrameSize(pcfg.Format.FrameSize),
			tone.WithRamp(a.cfg.Audio.ToneRamp),
		)),
		pipeline.WithOutput(out),
	}
	if a.storage != nil {
		opts = append(opts, pipeline.WithStorage(a.storage))
	}
	return pipeline.New(pcfg, device, opts...)
}

// nullDevice discards everything written and has no input.
func nullDevice() audio.Device {
	return audio.NewMemoryDevice(nil)
}
