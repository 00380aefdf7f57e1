// Package profile turns threshold measurements into an AudioProfile and
// reads and writes the persisted profile format.
package profile

import (
	"math"
	"sort"

	"github.com/RMahshie/aurelius/pkg/models"
)

// AudiogramFrequencies are the standard audiogram test frequencies in Hz.
var AudiogramFrequencies = []float64{250, 500, 1000, 2000, 4000, 6000, 8000}

// Partition splits the audible range into contiguous bands around the
// given centers. Inner edges sit at the geometric mean of adjacent
// centers; the outer edges mirror the neighbouring half-ratio.
func Partition(centers []float64) ([]models.FrequencyBand, error) {
	if len(centers) == 0 {
		return nil, models.InvalidParameterf("at least one band center is required")
	}
	for i, c := range centers {
		if !(c > 0) || math.IsInf(c, 0) {
			return nil, models.InvalidParameterf("band center %g Hz must be positive and finite", c)
		}
		if i > 0 && c <= centers[i-1] {
			return nil, models.InvalidParameterf("band centers must be strictly ascending, %g Hz follows %g Hz", c, centers[i-1])
		}
	}

	if len(centers) == 1 {
		// One octave wide.
		c := centers[0]
		return []models.FrequencyBand{{CenterHz: c, LowerHz: c / math.Sqrt2, UpperHz: c * math.Sqrt2}}, nil
	}

	n := len(centers)
	edges := make([]float64, n+1)
	for i := 1; i < n; i++ {
		edges[i] = math.Sqrt(centers[i-1] * centers[i])
	}
	edges[0] = centers[0] * centers[0] / edges[1]
	edges[n] = centers[n-1] * centers[n-1] / edges[n-1]

	bands := make([]models.FrequencyBand, n)
	for i, c := range centers {
		bands[i] = models.FrequencyBand{CenterHz: c, LowerHz: edges[i], UpperHz: edges[i+1]}
	}
	return bands, nil
}

// ValidatePartition checks that bands are valid, ascending and contiguous.
func ValidatePartition(bands []models.FrequencyBand) error {
	if len(bands) == 0 {
		return models.InvalidParameterf("no bands")
	}
	for i, b := range bands {
		if !b.Valid() {
			return models.InvalidParameterf("band %d (%g Hz) has invalid edges", i, b.CenterHz)
		}
		if i == 0 {
			continue
		}
		prev := bands[i-1]
		if b.CenterHz <= prev.CenterHz {
			return models.InvalidParameterf("band %d (%g Hz) is not above band %d", i, b.CenterHz, i-1)
		}
		if math.Abs(b.LowerHz-prev.UpperHz) > 1e-6*b.LowerHz {
			return models.InvalidParameterf("band %d (%g Hz) does not start where band %d ends", i, b.CenterHz, i-1)
		}
	}
	return nil
}

// SortedByFrequency returns a copy of bands in ascending center order.
func SortedByFrequency(bands []models.FrequencyBand) []models.FrequencyBand {
	out := append([]models.FrequencyBand(nil), bands...)
	sort.Slice(out, func(i, j int) bool { return out[i].CenterHz < out[j].CenterHz })
	return out
}
