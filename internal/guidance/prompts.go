package guidance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RMahshie/aurelius/pkg/models"
)

const (
	welcomeSystem = "You are Aurelius, a friendly and professional audiologist assistant. " +
		"You guide the user through a hearing test. Be encouraging and clear."
	resultsSystem = "You are Aurelius, an audiologist assistant. Explain the user's hearing " +
		"profile in simple terms. Do not give medical advice."
)

// WelcomeRequest introduces the calibration.
func WelcomeRequest() Request {
	return Request{
		Kind:   KindWelcome,
		System: welcomeSystem,
		User: "Write a short welcome explaining that we are about to run a calibration test to create " +
			"a personal hearing profile. The user will hear a series of tones and answers 'y' if they " +
			"hear one and 'n' if they do not. Ask them to sit in a quiet room and wear their earphones.",
		Fallback: "Welcome to Aurelius. You will hear a series of short tones at different pitches. " +
			"Answer 'y' when you hear a tone and 'n' when you do not. " +
			"Please sit in a quiet room and wear your earphones.",
	}
}

// BandRequest announces the band about to be tested.
func BandRequest(band models.FrequencyBand, index, total int) Request {
	return Request{
		Kind:   KindBand,
		System: welcomeSystem,
		User: fmt.Sprintf("In one sentence, tell the user we are now testing tones at %s (band %d of %d) "+
			"and that some tones will be very quiet.", formatHz(band.CenterHz), index, total),
		Fallback: fmt.Sprintf("Band %d of %d: %s. Some tones will be very quiet.", index, total, formatHz(band.CenterHz)),
	}
}

// ResultsRequest explains a finished profile.
func ResultsRequest(p *models.AudioProfile) Request {
	type gain struct {
		FrequencyHz float64 `json:"frequency_hz"`
		GainDB      float64 `json:"gain_db"`
	}
	gains := make([]gain, len(p.Bands))
	var lines []string
	for i, b := range p.Bands {
		gains[i] = gain{FrequencyHz: b.Band.CenterHz, GainDB: b.GainDB}
		lines = append(lines, fmt.Sprintf("  %-8s %+5.1f dB", formatHz(b.Band.CenterHz), b.GainDB))
	}
	data, _ := json.Marshal(gains)

	return Request{
		Kind:   KindResults,
		System: resultsSystem,
		User: fmt.Sprintf("Here is the user's hearing profile, the gain in decibels applied at each "+
			"frequency: %s. Explain what it means; for example a high gain at 4 kHz means high-pitched "+
			"sounds are harder to hear. Finish by saying the profile is saved and ready for 'run' mode.", data),
		Fallback: "Your hearing profile is ready. Gain applied per frequency:\n" +
			strings.Join(lines, "\n") +
			"\nHigher gain means that pitch was harder to hear. The profile is saved and ready for 'run' mode.",
	}
}
