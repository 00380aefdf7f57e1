package profile

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/RMahshie/aurelius/pkg/models"
)

const (
	// RuleHalfGain prescribes half of the hearing level as gain.
	RuleHalfGain = "half-gain"
	// DefaultGainRatio is the half-gain rule's slope.
	DefaultGainRatio = 0.5
	// ConversationalLevelSPL is the typical level of speech at one metre.
	// A band's gain is capped so that speech at this level stays at or
	// below the listener's comfort level.
	ConversationalLevelSPL = 65.0
)

// HardSafetyLimits bounds any safety range a profile may declare.
var HardSafetyLimits = models.SafetyRange{MinGainDB: -24, MaxGainDB: 40}

// Builder aggregates threshold measurements into an AudioProfile.
type Builder struct {
	safety    models.SafetyRange
	ratio     float64
	reference func(float64) float64
	now       func() time.Time
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithSafetyRange overrides the default -6..+30 dB clamp.
func WithSafetyRange(r models.SafetyRange) BuilderOption {
	return func(b *Builder) { b.safety = r }
}

// WithGainRatio overrides the half-gain slope.
func WithGainRatio(ratio float64) BuilderOption {
	return func(b *Builder) {
		if ratio > 0 {
			b.ratio = ratio
		}
	}
}

// WithReference replaces the normal-hearing reference curve.
func WithReference(ref func(float64) float64) BuilderOption {
	return func(b *Builder) {
		if ref != nil {
			b.reference = ref
		}
	}
}

// WithClock sets the time source used for CreatedAt.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBuilder creates a Builder using the half-gain rule against the
// absolute threshold of hearing.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		safety:    models.DefaultSafetyRange,
		ratio:     DefaultGainRatio,
		reference: ReferenceThresholdSPL,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Safety returns the clamp range applied to every gain.
func (b *Builder) Safety() models.SafetyRange {
	return b.safety
}

// GainFor maps one measurement to its clamped gain in dB.
func (b *Builder) GainFor(m models.ThresholdMeasurement) float64 {
	hearingLevel := m.ThresholdSPL - b.reference(m.Band.CenterHz)
	gain := b.ratio * hearingLevel
	if m.ComfortSPL != nil {
		gain = math.Min(gain, *m.ComfortSPL-ConversationalLevelSPL)
	}
	return b.safety.Clamp(gain)
}

// Build returns a profile with one gain per band. Every band needs a
// measurement; otherwise an *models.IncompleteCalibrationError lists the
// bands to measure again.
func (b *Builder) Build(bands []models.FrequencyBand, measurements []models.ThresholdMeasurement) (*models.AudioProfile, error) {
	if err := validateSafety(b.safety); err != nil {
		return nil, err
	}
	bands = SortedByFrequency(bands)
	if err := ValidatePartition(bands); err != nil {
		return nil, err
	}

	byCenter := make(map[float64]models.ThresholdMeasurement, len(measurements))
	for _, m := range measurements {
		if math.IsNaN(m.ThresholdSPL) || math.IsInf(m.ThresholdSPL, 0) {
			return nil, models.InvalidParameterf("threshold for %g Hz is not finite", m.Band.CenterHz)
		}
		if _, dup := byCenter[m.Band.CenterHz]; dup {
			log.Warn().Float64("center_hz", m.Band.CenterHz).Msg("Duplicate measurement ignored")
			continue
		}
		byCenter[m.Band.CenterHz] = m
	}

	var missing []models.FrequencyBand
	gains := make([]models.BandGain, 0, len(bands))
	kept := make([]models.ThresholdMeasurement, 0, len(bands))
	for _, band := range bands {
		m, ok := byCenter[band.CenterHz]
		if !ok {
			missing = append(missing, band)
			continue
		}
		m.Band = band
		gain := b.GainFor(m)
		log.Debug().
			Float64("center_hz", band.CenterHz).
			Float64("threshold_db_spl", m.ThresholdSPL).
			Float64("gain_db", gain).
			Msg("Band gain computed")
		gains = append(gains, models.BandGain{Band: band, GainDB: gain})
		kept = append(kept, m)
	}
	if len(missing) > 0 {
		return nil, &models.IncompleteCalibrationError{Missing: missing}
	}

	return &models.AudioProfile{
		ID:           uuid.New().String(),
		Version:      models.ProfileVersion,
		CreatedAt:    b.now().UTC(),
		Rule:         RuleHalfGain,
		Safety:       b.safety,
		Bands:        gains,
		Measurements: kept,
	}, nil
}

func validateSafety(r models.SafetyRange) error {
	if !(r.MinGainDB < r.MaxGainDB) {
		return models.InvalidParameterf("safety range [%g, %g] is empty", r.MinGainDB, r.MaxGainDB)
	}
	if r.MinGainDB < HardSafetyLimits.MinGainDB || r.MaxGainDB > HardSafetyLimits.MaxGainDB {
		return models.InvalidParameterf("safety range [%g, %g] exceeds hard limits [%g, %g]",
			r.MinGainDB, r.MaxGainDB, HardSafetyLimits.MinGainDB, HardSafetyLimits.MaxGainDB)
	}
	return nil
}
