package audio

import "math"

// DefaultFullScaleSPL is the sound pressure level a full-scale sine is
// assumed to reach at the listener's ear.
const DefaultFullScaleSPL = 110.0

// Levels maps between dB SPL and linear sample amplitude for one
// playback chain.
type Levels struct {
	FullScaleSPL float64
}

// Amplitude returns the peak amplitude that plays at spl.
func (l Levels) Amplitude(spl float64) float64 {
	return math.Pow(10, (spl-l.FullScaleSPL)/20)
}

// SPL returns the level a peak amplitude plays at.
func (l Levels) SPL(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return l.FullScaleSPL + 20*math.Log10(amplitude)
}
