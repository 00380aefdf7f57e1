// Package pipeline drives the two operating modes: calibrate, which runs
// the hearing test and persists a profile, and run, which streams audio
// through the spectral corrector.
package pipeline

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/RMahshie/aurelius/internal/audio"
	"github.com/RMahshie/aurelius/internal/calibration"
	"github.com/RMahshie/aurelius/internal/guidance"
	"github.com/RMahshie/aurelius/internal/profile"
	"github.com/RMahshie/aurelius/internal/repository"
	"github.com/RMahshie/aurelius/internal/repository/memory"
	"github.com/RMahshie/aurelius/internal/storage"
	"github.com/RMahshie/aurelius/internal/tone"
	"github.com/RMahshie/aurelius/pkg/models"
)

// Config holds the orchestrator's settings.
type Config struct {
	Format           audio.Format
	Levels           audio.Levels
	SafetyCeilingSPL float64
	ToneDuration     time.Duration
	Estimator        calibration.EstimatorConfig
	Bands            []models.FrequencyBand
	// Retries is how many extra passes are made over bands that failed.
	Retries     int
	ProfilePath string
	QueueDepth  int
	// Lossless makes the reader wait for queue space instead of dropping
	// the oldest frame. Used for unpaced offline sources.
	Lossless            bool
	DiagnosticsInterval time.Duration
}

// CeilingAmplitude is the largest sample amplitude output may reach.
func (c Config) CeilingAmplitude() float64 {
	return c.Levels.Amplitude(c.SafetyCeilingSPL)
}

// Orchestrator owns the device, the collaborators and, in run mode, the
// live session.
type Orchestrator struct {
	cfg     Config
	device  audio.Device
	tones   *tone.Generator
	builder *profile.Builder
	guide   guidance.Guide
	repo    repository.CalibrationRepository
	storage storage.ProfileStorage
	out     io.Writer

	live atomic.Pointer[liveSession]
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGuide sets the guidance source. Defaults to built-in text.
func WithGuide(g guidance.Guide) Option {
	return func(o *Orchestrator) { o.guide = g }
}

// WithRepository sets where sessions and profiles are recorded. Defaults
// to an in-memory store.
func WithRepository(r repository.CalibrationRepository) Option {
	return func(o *Orchestrator) { o.repo = r }
}

// WithStorage enables profile backup to object storage.
func WithStorage(s storage.ProfileStorage) Option {
	return func(o *Orchestrator) { o.storage = s }
}

// WithBuilder replaces the default half-gain profile builder.
func WithBuilder(b *profile.Builder) Option {
	return func(o *Orchestrator) { o.builder = b }
}

// WithToneGenerator replaces the default tone generator.
func WithToneGenerator(g *tone.Generator) Option {
	return func(o *Orchestrator) { o.tones = g }
}

// WithOutput sets where guidance text is printed.
func WithOutput(w io.Writer) Option {
	return func(o *Orchestrator) { o.out = w }
}

// New creates an Orchestrator.
func New(cfg Config, device audio.Device, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	if device == nil {
		return nil, models.InvalidParameterf("an audio device is required")
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 4
	}
	if cfg.ToneDuration <= 0 {
		cfg.ToneDuration = time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	o := &Orchestrator{
		cfg:     cfg,
		device:  device,
		tones:   tone.NewGenerator(tone.WithFrameSize(cfg.Format.FrameSize)),
		builder: profile.NewBuilder(),
		guide:   guidance.Static{},
		repo:    memory.NewStore(),
		out:     io.Discard,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}
