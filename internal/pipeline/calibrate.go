package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/RMahshie/aurelius/internal/calibration"
	"github.com/RMahshie/aurelius/internal/guidance"
	"github.com/RMahshie/aurelius/internal/profile"
	"github.com/RMahshie/aurelius/internal/storage"
	"github.com/RMahshie/aurelius/pkg/models"
)

// Progress milestones recorded on the calibration session.
const (
	progressStarted  = 5
	progressMeasured = 90
	progressSaved    = 95
	progressDone     = 100
)

// starter is implemented by responders that want the listener to confirm
// before the first tone plays.
type starter interface {
	WaitForEnter(ctx context.Context, prompt string) error
}

// Calibrate runs the hearing test with responder answering each trial,
// builds the profile and persists it. Bands whose tone could not be
// played are retried up to Config.Retries times; if any are still missing
// the returned error wraps models.ErrIncompleteCalibration.
func (o *Orchestrator) Calibrate(ctx context.Context, responder calibration.Responder) (*models.AudioProfile, error) {
	sessionID := uuid.New()
	now := time.Now().UTC()
	if err := o.repo.CreateSession(ctx, &models.CalibrationSession{
		ID:        sessionID.String(),
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to create calibration session: %w", err)
	}
	logger := log.With().Str("session_id", sessionID.String()).Logger()

	p, err := o.calibrate(ctx, sessionID, responder)
	if err != nil {
		logger.Error().Err(err).Msg("Calibration failed")
		// The session record outlives a cancelled context.
		if uerr := o.repo.UpdateError(context.WithoutCancel(ctx), sessionID, err.Error()); uerr != nil {
			logger.Warn().Err(uerr).Msg("Failed to record calibration failure")
		}
		return nil, err
	}

	o.say(ctx, guidance.ResultsRequest(p))
	o.progress(ctx, sessionID, models.StatusCompleted, progressDone)
	logger.Info().Str("profile_id", p.ID).Str("path", o.cfg.ProfilePath).Msg("Calibration completed")
	return p, nil
}

func (o *Orchestrator) calibrate(ctx context.Context, sessionID uuid.UUID, responder calibration.Responder) (*models.AudioProfile, error) {
	if len(o.cfg.Bands) == 0 {
		return nil, models.InvalidParameterf("no bands to calibrate")
	}
	o.say(ctx, guidance.WelcomeRequest())
	if w, ok := responder.(starter); ok {
		if err := w.WaitForEnter(ctx, "Press Enter to begin the test..."); err != nil {
			return nil, err
		}
	}

	sink, err := o.device.OpenSink(ctx, o.cfg.Format)
	if err != nil {
		return nil, asDeviceError(err)
	}
	defer sink.Close()

	bands := profile.SortedByFrequency(o.cfg.Bands)
	index := make(map[float64]int, len(bands))
	for i, b := range bands {
		index[b.CenterHz] = i + 1
	}

	presenter := &tonePresenter{
		sink:     sink,
		tones:    o.tones,
		levels:   o.cfg.Levels,
		ceiling:  o.cfg.CeilingAmplitude(),
		duration: o.cfg.ToneDuration,
		rate:     o.cfg.Format.SampleRate,
		announce: func(ctx context.Context, trial calibration.Trial) {
			o.say(ctx, guidance.BandRequest(trial.Band, index[trial.Band.CenterHz], len(bands)))
		},
	}

	measured := 0
	estimator, err := calibration.NewEstimator(o.cfg.Estimator, presenter, responder, func(pr calibration.Progress) {
		if pr.Measurement != nil {
			measured++
		}
		pct := progressStarted + measured*(progressMeasured-progressStarted)/len(bands)
		o.progress(ctx, sessionID, models.StatusCalibrating, pct)
	})
	if err != nil {
		return nil, err
	}
	o.progress(ctx, sessionID, models.StatusCalibrating, progressStarted)

	var measurements []models.ThresholdMeasurement
	pending := bands
	var p *models.AudioProfile
	for attempt := 0; ; attempt++ {
		ms, err := estimator.Run(ctx, pending)
		measurements = append(measurements, ms...)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err = o.builder.Build(bands, measurements)
		if err == nil {
			break
		}
		var incomplete *models.IncompleteCalibrationError
		if !errors.As(err, &incomplete) || attempt >= o.cfg.Retries {
			return nil, err
		}
		log.Warn().
			Int("attempt", attempt+1).
			Int("missing", len(incomplete.Missing)).
			Msg("Retrying bands without a measurement")
		pending = incomplete.Missing
	}
	o.progress(ctx, sessionID, models.StatusCalibrating, progressMeasured)

	if err := o.persist(ctx, sessionID, p); err != nil {
		return nil, err
	}
	o.progress(ctx, sessionID, models.StatusCalibrating, progressSaved)
	return p, nil
}

// persist writes the profile file, then records it in the repository and
// object storage. Only the file is required; the other two are logged on
// failure.
func (o *Orchestrator) persist(ctx context.Context, sessionID uuid.UUID, p *models.AudioProfile) error {
	if o.cfg.ProfilePath != "" {
		if err := profile.Save(o.cfg.ProfilePath, p); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
	}

	if err := o.repo.StoreProfile(ctx, sessionID, p); err != nil {
		log.Warn().Err(err).Str("profile_id", p.ID).Msg("Failed to record profile history")
	}

	if o.storage != nil {
		data, err := profile.Marshal(p)
		if err != nil {
			return err
		}
		key := storage.ProfileKey(p.ID)
		if err := o.storage.UploadFile(ctx, key, data, storage.ProfileContentType); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to back up profile")
		} else {
			log.Info().Str("uri", storage.URIScheme+key).Msg("Profile backed up")
		}
	}
	return nil
}

func (o *Orchestrator) say(ctx context.Context, req guidance.Request) {
	text, err := o.guide.RequestPrompt(ctx, req)
	if err != nil {
		log.Debug().Err(err).Str("kind", string(req.Kind)).Msg("Guidance skipped")
		return
	}
	fmt.Fprintf(o.out, "\n%s\n\n", text)
}

func (o *Orchestrator) progress(ctx context.Context, sessionID uuid.UUID, status string, pct int) {
	if err := o.repo.UpdateStatus(ctx, sessionID, status, pct); err != nil {
		log.Warn().Err(err).Str("status", status).Msg("Failed to update session status")
	}
}

func asDeviceError(err error) error {
	if errors.Is(err, models.ErrDevice) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrDevice, err)
}
