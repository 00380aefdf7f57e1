package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/RMahshie/aurelius/internal/profile"
	"github.com/RMahshie/aurelius/pkg/models"
)

// Presenter plays a trial's tone to the listener.
type Presenter interface {
	Present(ctx context.Context, trial Trial) error
}

// Responder captures whether the listener heard a trial. It may block
// until ctx is done.
type Responder interface {
	Heard(ctx context.Context, trial Trial) (bool, error)
}

// ComfortResponder is implemented by responders that can also rate a
// presentation as uncomfortably loud.
type ComfortResponder interface {
	TooLoud(ctx context.Context, trial Trial) (bool, error)
}

// EstimatorConfig configures threshold and comfort estimation.
type EstimatorConfig struct {
	Params StaircaseParams
	// ResponseTimeout turns a missing answer into a miss. Zero waits forever.
	ResponseTimeout time.Duration
	// Comfort enables the ascending comfort-level search after each threshold.
	Comfort      bool
	ComfortStart float64 // dB above threshold
	ComfortStep  float64
}

// DefaultEstimatorConfig returns the default staircase with a 10 s response timeout.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		Params:          DefaultStaircaseParams(),
		ResponseTimeout: 10 * time.Second,
		ComfortStart:    10,
		ComfortStep:     5,
	}
}

// Progress reports a finished band.
type Progress struct {
	Band        models.FrequencyBand
	Measurement *models.ThresholdMeasurement // nil when the band failed
	Done        int
	Total       int
}

// Estimator runs one staircase per band, strictly one band at a time in
// ascending frequency order.
type Estimator struct {
	cfg        EstimatorConfig
	presenter  Presenter
	responder  Responder
	onProgress func(Progress)
}

// NewEstimator creates an Estimator. onProgress may be nil.
func NewEstimator(cfg EstimatorConfig, presenter Presenter, responder Responder, onProgress func(Progress)) (*Estimator, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if presenter == nil || responder == nil {
		return nil, models.InvalidParameterf("presenter and responder are required")
	}
	if cfg.Comfort && !(cfg.ComfortStep > 0) {
		return nil, models.InvalidParameterf("comfort step must be positive")
	}
	return &Estimator{cfg: cfg, presenter: presenter, responder: responder, onProgress: onProgress}, nil
}

// Run measures every band. A band whose tone could not be presented is
// logged and left out of the result so the caller can retry just that
// band. Responder failures and cancellation stop the run and return the
// measurements collected so far.
func (e *Estimator) Run(ctx context.Context, bands []models.FrequencyBand) ([]models.ThresholdMeasurement, error) {
	ordered := profile.SortedByFrequency(bands)
	results := make([]models.ThresholdMeasurement, 0, len(ordered))

	for i, band := range ordered {
		m, err := e.MeasureBand(ctx, band)
		switch {
		case err == nil:
			results = append(results, m)
			e.report(Progress{Band: band, Measurement: &m, Done: i + 1, Total: len(ordered)})
		case errors.Is(err, errPresent):
			log.Error().Err(err).Float64("center_hz", band.CenterHz).Msg("Band skipped, tone could not be presented")
			e.report(Progress{Band: band, Done: i + 1, Total: len(ordered)})
		default:
			return results, err
		}
	}
	return results, nil
}

var errPresent = errors.New("present tone")

// MeasureBand runs the staircase for one band to convergence.
func (e *Estimator) MeasureBand(ctx context.Context, band models.FrequencyBand) (models.ThresholdMeasurement, error) {
	sc, err := NewStaircase(band, e.cfg.Params)
	if err != nil {
		return models.ThresholdMeasurement{}, err
	}

	log.Info().Float64("center_hz", band.CenterHz).Msg("Measuring band")
	for !sc.Done() {
		if err := ctx.Err(); err != nil {
			return models.ThresholdMeasurement{}, err
		}
		trial, err := sc.Next()
		if err != nil {
			return models.ThresholdMeasurement{}, err
		}
		if err := e.presenter.Present(ctx, trial); err != nil {
			return models.ThresholdMeasurement{}, fmt.Errorf("%w at %g Hz: %w", errPresent, band.CenterHz, err)
		}
		heard, err := e.await(ctx, trial, e.responder.Heard, false)
		if err != nil {
			return models.ThresholdMeasurement{}, err
		}
		log.Debug().
			Float64("center_hz", band.CenterHz).
			Float64("level_db_spl", trial.Level).
			Bool("heard", heard).
			Msg("Trial answered")
		if err := sc.Respond(heard); err != nil {
			return models.ThresholdMeasurement{}, err
		}
	}

	m, err := sc.Measurement()
	if err != nil {
		return models.ThresholdMeasurement{}, err
	}

	if cr, ok := e.responder.(ComfortResponder); ok && e.cfg.Comfort {
		comfort, err := e.measureComfort(ctx, band, m.ThresholdSPL, cr)
		if err != nil {
			return models.ThresholdMeasurement{}, err
		}
		m.ComfortSPL = &comfort
	}

	log.Info().
		Float64("center_hz", band.CenterHz).
		Float64("threshold_db_spl", m.ThresholdSPL).
		Int("trials", m.Trials).
		Bool("limited", m.Limited).
		Msg("Band converged")
	return m, nil
}

// measureComfort raises the level from threshold+ComfortStart until the
// listener calls it too loud; the last comfortable level is returned. An
// unanswered rating counts as too loud.
func (e *Estimator) measureComfort(ctx context.Context, band models.FrequencyBand, threshold float64, cr ComfortResponder) (float64, error) {
	maxLevel := e.cfg.Params.MaxLevel
	level := math.Min(threshold+e.cfg.ComfortStart, maxLevel)
	comfort := math.Min(threshold, maxLevel)

	for i := 0; ; i++ {
		trial := Trial{Band: band, Level: level, Index: i}
		if err := e.presenter.Present(ctx, trial); err != nil {
			return 0, fmt.Errorf("%w at %g Hz: %w", errPresent, band.CenterHz, err)
		}
		tooLoud, err := e.await(ctx, trial, cr.TooLoud, true)
		if err != nil {
			return 0, err
		}
		if tooLoud {
			return comfort, nil
		}
		comfort = level
		if level >= maxLevel {
			return comfort, nil
		}
		level = math.Min(level+e.cfg.ComfortStep, maxLevel)
	}
}

// await asks fn for an answer, bounded by ResponseTimeout. A timeout
// yields onTimeout; cancellation of the parent context is an error.
func (e *Estimator) await(ctx context.Context, trial Trial, fn func(context.Context, Trial) (bool, error), onTimeout bool) (bool, error) {
	actx := ctx
	if e.cfg.ResponseTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, e.cfg.ResponseTimeout)
		defer cancel()
	}

	answer, err := fn(actx, trial)
	if err == nil {
		return answer, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		log.Info().
			Float64("center_hz", trial.Band.CenterHz).
			Float64("level_db_spl", trial.Level).
			Bool("assumed", onTimeout).
			Msg("No response before timeout")
		return onTimeout, nil
	}
	return false, err
}

func (e *Estimator) report(p Progress) {
	if e.onProgress != nil {
		e.onProgress(p)
	}
}
