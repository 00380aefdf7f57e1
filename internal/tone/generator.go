// Package tone produces the pure sinusoidal stimuli presented during
// calibration.
package tone

import (
	"math"
	"time"

	"github.com/RMahshie/aurelius/pkg/models"
)

const (
	// DefaultFrameSize matches the live pipeline's default frame size.
	DefaultFrameSize = 512
	// DefaultRamp is the linear fade applied at both ends of a tone.
	DefaultRamp = 10 * time.Millisecond
)

// Generator builds tone sequences with a fixed frame size and ramp.
type Generator struct {
	frameSize int
	ramp      time.Duration
}

// Option configures a Generator.
type Option func(*Generator)

// WithFrameSize sets the number of samples per emitted frame.
func WithFrameSize(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.frameSize = n
		}
	}
}

// WithRamp sets the fade-in/fade-out length. Zero disables the ramp.
func WithRamp(d time.Duration) Option {
	return func(g *Generator) {
		if d >= 0 {
			g.ramp = d
		}
	}
}

// NewGenerator creates a Generator with the given options applied over the defaults.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{frameSize: DefaultFrameSize, ramp: DefaultRamp}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Generate returns a lazy sequence of frames holding a sine wave at
// frequencyHz with peak amplitude in [0, 1]. The frequency must lie
// strictly between 0 and the Nyquist frequency of sampleRate.
func (g *Generator) Generate(frequencyHz, amplitude float64, duration time.Duration, sampleRate int) (*Sequence, error) {
	if sampleRate <= 0 {
		return nil, models.InvalidParameterf("sample rate must be positive, got %d", sampleRate)
	}
	nyquist := float64(sampleRate) / 2
	if !(frequencyHz > 0) || frequencyHz >= nyquist || math.IsInf(frequencyHz, 0) {
		return nil, models.InvalidParameterf("frequency %g Hz outside (0, %g) for sample rate %d", frequencyHz, nyquist, sampleRate)
	}
	if !(amplitude >= 0 && amplitude <= 1) {
		return nil, models.InvalidParameterf("amplitude %g outside [0, 1]", amplitude)
	}
	if duration <= 0 {
		return nil, models.InvalidParameterf("duration must be positive, got %s", duration)
	}

	total := int(math.Round(duration.Seconds() * float64(sampleRate)))
	if total == 0 {
		return nil, models.InvalidParameterf("duration %s is shorter than one sample", duration)
	}

	// Short tones get half the tone for each ramp.
	ramp := int(math.Round(g.ramp.Seconds() * float64(sampleRate)))
	ramp = min(ramp, total/2)

	s := &Sequence{
		omega:      2 * math.Pi * frequencyHz / float64(sampleRate),
		amplitude:  amplitude,
		sampleRate: sampleRate,
		frameSize:  g.frameSize,
		total:      total,
		ramp:       ramp,
		scale:      1,
	}
	s.removeDC()
	return s, nil
}

// Sequence is a finite, restartable stream of tone frames. It is not safe
// for concurrent use.
type Sequence struct {
	omega      float64
	amplitude  float64
	sampleRate int
	frameSize  int
	total      int
	ramp       int
	// offset and scale cancel the DC left by a fractional number of
	// cycles while keeping the peak at or below amplitude.
	offset float64
	scale  float64

	pos int
	seq uint64
}

// Len returns the total number of samples in the tone.
func (s *Sequence) Len() int {
	return s.total
}

// Next returns the next frame. The final frame is zero padded to the frame
// size. ok is false once the tone is exhausted.
func (s *Sequence) Next() (frame models.AudioFrame, ok bool) {
	if s.pos >= s.total {
		return models.AudioFrame{}, false
	}

	samples := make([]float64, s.frameSize)
	start := s.pos
	for i := range samples {
		n := start + i
		if n >= s.total {
			break
		}
		samples[i] = s.sample(n)
	}
	s.pos += s.frameSize

	frame = models.AudioFrame{
		Samples:    samples,
		SampleRate: s.sampleRate,
		Sequence:   s.seq,
		Timestamp:  time.Duration(start) * time.Second / time.Duration(s.sampleRate),
	}
	s.seq++
	return frame, true
}

// Reset rewinds the sequence to its first frame.
func (s *Sequence) Reset() {
	s.pos = 0
	s.seq = 0
}

// Samples renders the whole tone without framing.
func (s *Sequence) Samples() []float64 {
	out := make([]float64, s.total)
	for n := range out {
		out[n] = s.sample(n)
	}
	return out
}

// sample computes sample n from its absolute index, which keeps the phase
// continuous across frame boundaries. The waveform peaks exactly at the
// middle sample so the requested amplitude is reached whatever the
// frequency to sample rate ratio; the ramps take care of the onset.
func (s *Sequence) sample(n int) float64 {
	return s.amplitude * s.scale * s.envelope(n) * (s.carrier(n) - s.offset)
}

func (s *Sequence) carrier(n int) float64 {
	return math.Cos(s.omega * float64(n-s.total/2))
}

func (s *Sequence) envelope(n int) float64 {
	if s.ramp > 0 {
		switch {
		case n < s.ramp:
			return float64(n) / float64(s.ramp)
		case n >= s.total-s.ramp:
			return float64(s.total-1-n) / float64(s.ramp)
		}
	}
	return 1
}

// removeDC sets offset to the envelope-weighted mean of the carrier, so
// the samples sum to zero, and scale so that subtracting it cannot push
// the peak above amplitude.
func (s *Sequence) removeDC() {
	var sum, weight float64
	for n := 0; n < s.total; n++ {
		w := s.envelope(n)
		sum += w * s.carrier(n)
		weight += w
	}
	if weight == 0 {
		return
	}
	s.offset = sum / weight
	s.scale = 1 / (1 + math.Abs(s.offset))
}
