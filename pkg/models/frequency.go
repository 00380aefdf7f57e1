package models

import "math"

// FrequencyPoint represents a single frequency measurement
type FrequencyPoint struct {
	Frequency float64 `json:"frequency" doc:"Frequency in Hz"`
	Magnitude float64 `json:"magnitude" doc:"Magnitude in dB"`
}

// FrequencyBand is one segment of the audible range used both for
// measurement and for gain correction. Bands are built in ascending,
// contiguous order; see profile.Partition.
type FrequencyBand struct {
	CenterHz float64 `json:"center_hz" doc:"Band center frequency in Hz"`
	LowerHz  float64 `json:"lower_hz" doc:"Lower band edge in Hz"`
	UpperHz  float64 `json:"upper_hz" doc:"Upper band edge in Hz"`
}

// BandwidthHz returns the width of the band in Hz.
func (b FrequencyBand) BandwidthHz() float64 {
	return b.UpperHz - b.LowerHz
}

// Valid reports whether the band edges are finite, positive and ordered
// around the center.
func (b FrequencyBand) Valid() bool {
	for _, v := range []float64{b.CenterHz, b.LowerHz, b.UpperHz} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return false
		}
	}
	return b.LowerHz < b.CenterHz && b.CenterHz < b.UpperHz
}
