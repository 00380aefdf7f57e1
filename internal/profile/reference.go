package profile

import "math"

// ReferenceThresholdSPL returns the absolute threshold of hearing for a
// normal listener in dB SPL at freqHz (Painter & Spanias 1997 as modified
// by Bouvigne). Hearing level is measured relative to this curve.
func ReferenceThresholdSPL(freqHz float64) float64 {
	freq := math.Max(0.01, freqHz*0.001)

	return 3.640*math.Pow(freq, -0.8) -
		6.800*math.Exp(-0.6*(freq-3.4)*(freq-3.4)) +
		6.000*math.Exp(-0.15*(freq-8.7)*(freq-8.7)) +
		0.0006*freq*freq*freq*freq
}
