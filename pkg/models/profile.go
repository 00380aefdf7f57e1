package models

import (
	"math"
	"sort"
	"time"
)

// ProfileVersion is the current persisted profile format version.
const ProfileVersion = 1

// SafetyRange bounds every gain in a profile.
type SafetyRange struct {
	MinGainDB float64 `json:"min_gain_db" doc:"Lowest allowed band gain in dB"`
	MaxGainDB float64 `json:"max_gain_db" doc:"Highest allowed band gain in dB"`
}

// DefaultSafetyRange is -6 dB to +30 dB.
var DefaultSafetyRange = SafetyRange{MinGainDB: -6, MaxGainDB: 30}

// Clamp limits gainDB to the range.
func (r SafetyRange) Clamp(gainDB float64) float64 {
	return math.Max(r.MinGainDB, math.Min(r.MaxGainDB, gainDB))
}

// Contains reports whether gainDB lies inside the range.
func (r SafetyRange) Contains(gainDB float64) bool {
	return gainDB >= r.MinGainDB && gainDB <= r.MaxGainDB
}

// BandGain is one entry of the gain curve.
type BandGain struct {
	Band   FrequencyBand `json:"band"`
	GainDB float64       `json:"gain_db" doc:"Gain correction in dB"`
}

// AudioProfile is the frozen per-band gain curve produced by calibration.
// It is never mutated after it has been built or loaded.
type AudioProfile struct {
	ID           string                 `json:"id"`
	Version      int                    `json:"version"`
	CreatedAt    time.Time              `json:"created_at"`
	Rule         string                 `json:"rule"`
	Safety       SafetyRange            `json:"safety"`
	Bands        []BandGain             `json:"bands"`
	Measurements []ThresholdMeasurement `json:"measurements,omitempty"`
}

// GainAt returns the gain in dB at hz, interpolated linearly in the
// log-frequency domain between band centers. Frequencies outside the
// outermost centers take the nearest band's gain.
func (p *AudioProfile) GainAt(hz float64) float64 {
	n := len(p.Bands)
	if n == 0 {
		return 0
	}
	if hz <= p.Bands[0].Band.CenterHz || n == 1 {
		return p.Bands[0].GainDB
	}
	if hz >= p.Bands[n-1].Band.CenterHz {
		return p.Bands[n-1].GainDB
	}

	// First center strictly above hz; i-1 is at or below it.
	i := sort.Search(n, func(i int) bool { return p.Bands[i].Band.CenterHz > hz })
	lo, hi := p.Bands[i-1], p.Bands[i]
	t := (math.Log(hz) - math.Log(lo.Band.CenterHz)) / (math.Log(hi.Band.CenterHz) - math.Log(lo.Band.CenterHz))
	t = math.Max(0, math.Min(1, t))
	return lo.GainDB + t*(hi.GainDB-lo.GainDB)
}

// Curve samples GainAt at the given frequencies.
func (p *AudioProfile) Curve(frequencies []float64) []FrequencyPoint {
	points := make([]FrequencyPoint, len(frequencies))
	for i, f := range frequencies {
		points[i] = FrequencyPoint{Frequency: f, Magnitude: p.GainAt(f)}
	}
	return points
}

// MaxGainDB returns the largest band gain, or 0 for an empty profile.
func (p *AudioProfile) MaxGainDB() float64 {
	if len(p.Bands) == 0 {
		return 0
	}
	m := p.Bands[0].GainDB
	for _, b := range p.Bands[1:] {
		m = math.Max(m, b.GainDB)
	}
	return m
}
