// Package corrector applies an AudioProfile's gain curve to a live frame
// stream with a short-time Fourier transform and enforces the output
// safety ceiling.
package corrector

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/RMahshie/aurelius/internal/profile"
	"github.com/RMahshie/aurelius/pkg/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/dsp/fourier"
)

// denormalFloor is the magnitude below which output samples are flushed to zero.
const denormalFloor = 1e-30

// incidents lets at most one limiting warning per second through; the
// counters carry the totals.
var incidents = &zerolog.BurstSampler{Burst: 1, Period: time.Second}

// Config fixes the stream geometry and the safety ceiling.
type Config struct {
	SampleRate int
	FrameSize  int
	// CeilingAmplitude is the largest absolute sample value ever emitted.
	CeilingAmplitude float64
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return models.InvalidParameterf("sample rate must be positive, got %d", c.SampleRate)
	case c.FrameSize < 2 || c.FrameSize%2 != 0:
		return models.InvalidParameterf("frame size must be a positive even number, got %d", c.FrameSize)
	case !(c.CeilingAmplitude > 0 && c.CeilingAmplitude <= 1):
		return models.InvalidParameterf("ceiling amplitude must be in (0, 1], got %g", c.CeilingAmplitude)
	}
	return nil
}

// Stats counts per-frame outcomes since the corrector was created.
type Stats struct {
	Frames        uint64
	SafetyLimited uint64
	NonFinite     uint64
	ProfileSwaps  uint64
}

type gainTable struct {
	profile *models.AudioProfile
	gains   []float64
}

// Corrector is a weighted overlap-add STFT filter. Process must be called
// from a single goroutine; Install, Profile and Stats are safe to call
// concurrently with it.
type Corrector struct {
	cfg    Config
	fftLen int
	hop    int
	fft    *fourier.FFT
	window []float64

	table atomic.Pointer[gainTable]

	input  []float64
	block  []float64
	coeffs []complex128
	output []float64
	accum  []float64

	frames        atomic.Uint64
	safetyLimited atomic.Uint64
	nonFinite     atomic.Uint64
	swaps         atomic.Uint64
}

// New creates a corrector applying p.
func New(cfg Config, p *models.AudioProfile) (*Corrector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := 2 * cfg.FrameSize
	c := &Corrector{
		cfg:    cfg,
		fftLen: n,
		hop:    cfg.FrameSize,
		fft:    fourier.NewFFT(n),
		window: sqrtHann(n),
		input:  make([]float64, n),
		block:  make([]float64, n),
		coeffs: make([]complex128, n/2+1),
		output: make([]float64, n),
		accum:  make([]float64, n),
	}
	if err := c.install(p); err != nil {
		return nil, err
	}
	return c, nil
}

// sqrtHann returns a periodic square-root Hann window. Its square sums to
// one at 50% overlap, so analysis and synthesis together reconstruct the
// input exactly under unity gain.
func sqrtHann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = math.Sqrt(0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n))))
	}
	return w
}

// Install swaps in a new profile. The current frame finishes with the old
// gains; the next frame uses the new ones.
func (c *Corrector) Install(p *models.AudioProfile) error {
	if err := c.install(p); err != nil {
		return err
	}
	c.swaps.Add(1)
	log.Info().Str("profile_id", p.ID).Float64("max_gain_db", p.MaxGainDB()).Msg("Profile installed")
	return nil
}

func (c *Corrector) install(p *models.AudioProfile) error {
	if p == nil {
		return fmt.Errorf("%w: nil profile", models.ErrInvalidProfile)
	}
	if err := profile.Validate(p); err != nil {
		return err
	}
	gains := make([]float64, c.fftLen/2+1)
	binHz := float64(c.cfg.SampleRate) / float64(c.fftLen)
	for k := range gains {
		gains[k] = math.Pow(10, p.GainAt(float64(k)*binHz)/20)
	}
	c.table.Store(&gainTable{profile: p, gains: gains})
	return nil
}

// Profile returns the profile currently applied.
func (c *Corrector) Profile() *models.AudioProfile {
	return c.table.Load().profile
}

// Latency is the delay between a sample entering and leaving the corrector.
func (c *Corrector) Latency() time.Duration {
	return time.Duration(c.hop) * time.Second / time.Duration(c.cfg.SampleRate)
}

// Stats returns a snapshot of the counters.
func (c *Corrector) Stats() Stats {
	return Stats{
		Frames:        c.frames.Load(),
		SafetyLimited: c.safetyLimited.Load(),
		NonFinite:     c.nonFinite.Load(),
		ProfileSwaps:  c.swaps.Load(),
	}
}

// Reset clears the overlap state, as after a stream restart.
func (c *Corrector) Reset() {
	clear(c.input)
	clear(c.accum)
}

// Process corrects one frame. The returned samples are the corrected audio
// of the previous frame; the returned frame keeps the input's sequence and
// timestamp, so callers that care about alignment retag it.
func (c *Corrector) Process(frame models.AudioFrame) (models.AudioFrame, error) {
	if len(frame.Samples) != c.hop {
		return models.AudioFrame{}, models.InvalidParameterf("frame has %d samples, expected %d", len(frame.Samples), c.hop)
	}
	if frame.SampleRate != c.cfg.SampleRate {
		return models.AudioFrame{}, models.InvalidParameterf("frame sample rate %d, expected %d", frame.SampleRate, c.cfg.SampleRate)
	}
	c.frames.Add(1)
	return c.step(frame), nil
}

// Flush pushes one frame of silence through the filter and returns the
// corrected audio of the last frame processed. It is not counted as a
// processed frame.
func (c *Corrector) Flush() models.AudioFrame {
	return c.step(models.AudioFrame{
		Samples:    make([]float64, c.hop),
		SampleRate: c.cfg.SampleRate,
	})
}

func (c *Corrector) step(frame models.AudioFrame) models.AudioFrame {
	table := c.table.Load()
	copy(c.input, c.input[c.hop:])
	tail := c.input[c.hop:]
	for i, s := range frame.Samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return c.discard(frame)
		}
		tail[i] = s
	}

	if isSilent(c.input) {
		clear(c.output)
	} else {
		for i, s := range c.input {
			c.block[i] = s * c.window[i]
		}
		c.fft.Coefficients(c.coeffs, c.block)
		for k, g := range table.gains {
			c.coeffs[k] *= complex(g, 0)
		}
		c.fft.Sequence(c.output, c.coeffs)
		scale := 1 / float64(c.fftLen)
		for i := range c.output {
			c.output[i] *= scale * c.window[i]
		}
	}

	for i := range c.accum {
		c.accum[i] += c.output[i]
	}
	out := make([]float64, c.hop)
	copy(out, c.accum[:c.hop])
	copy(c.accum, c.accum[c.hop:])
	clear(c.accum[c.hop:])

	for _, s := range out {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return c.discard(frame)
		}
	}
	if peak, limited := c.limit(out); limited {
		n := c.safetyLimited.Add(1)
		sampled := log.Sample(incidents)
		sampled.Warn().
			Err(models.ErrSafetyCeilingExceeded).
			Uint64("sequence", frame.Sequence).
			Float64("peak", peak).
			Float64("ceiling", c.cfg.CeilingAmplitude).
			Uint64("total", n).
			Msg("Output hard limited")
	}

	return models.AudioFrame{
		Samples:    out,
		SampleRate: frame.SampleRate,
		Sequence:   frame.Sequence,
		Timestamp:  frame.Timestamp,
	}
}

// discard emits silence for a corrupt frame and drops the overlap state so
// the corruption cannot leak into later frames.
func (c *Corrector) discard(frame models.AudioFrame) models.AudioFrame {
	c.nonFinite.Add(1)
	c.Reset()
	log.Warn().Uint64("sequence", frame.Sequence).Msg("Non-finite samples, frame muted")
	return models.AudioFrame{
		Samples:    make([]float64, c.hop),
		SampleRate: frame.SampleRate,
		Sequence:   frame.Sequence,
		Timestamp:  frame.Timestamp,
	}
}

// limit flushes denormals and keeps every sample within the ceiling. A
// frame whose peak exceeds the ceiling is scaled down as a block, then
// hard clamped. It returns the pre-limit peak and whether the frame was
// limited.
func (c *Corrector) limit(samples []float64) (float64, bool) {
	ceiling := c.cfg.CeilingAmplitude
	peak := 0.0
	for i, s := range samples {
		if math.Abs(s) < denormalFloor {
			samples[i] = 0
			continue
		}
		peak = math.Max(peak, math.Abs(s))
	}
	if peak <= ceiling {
		return peak, false
	}
	scale := ceiling / peak
	for i, s := range samples {
		samples[i] = math.Max(-ceiling, math.Min(ceiling, s*scale))
	}
	return peak, true
}

func isSilent(samples []float64) bool {
	for _, s := range samples {
		if s != 0 {
			return false
		}
	}
	return true
}
