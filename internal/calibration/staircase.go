// Package calibration estimates per-band hearing thresholds with an
// adaptive 2-down-1-up staircase.
package calibration

import (
	"fmt"
	"math"

	"github.com/RMahshie/aurelius/pkg/models"
)

// State is a staircase's position in the presentation cycle.
type State int

const (
	// Presenting: the next trial level is ready to be played.
	Presenting State = iota
	// AwaitingResponse: a trial was handed out and needs an answer.
	AwaitingResponse
	// Adjusting: an answer is being applied to the level.
	Adjusting
	// Converged: the threshold is known; no more trials.
	Converged
)

func (s State) String() string {
	switch s {
	case Presenting:
		return "presenting"
	case AwaitingResponse:
		return "awaiting_response"
	case Adjusting:
		return "adjusting"
	case Converged:
		return "converged"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StaircaseParams configures the adaptive procedure. Levels are in dB SPL.
type StaircaseParams struct {
	StartLevel float64
	MinLevel   float64
	MaxLevel   float64
	// InitialStep is used until SwitchAfter reversals have occurred, then FinalStep.
	InitialStep float64
	FinalStep   float64
	SwitchAfter int
	// Reversals is the stopping criterion; the threshold is the mean of the
	// last Averaged reversal levels.
	Reversals int
	Averaged  int
	// MaxTrials stops a track that never settles.
	MaxTrials int
	// CeilingMisses converges at MaxLevel after this many consecutive misses there.
	CeilingMisses int
}

// DefaultStaircaseParams returns a 2-down-1-up track starting at a
// moderate 60 dB SPL with 10 dB steps down to 5 dB after two reversals,
// stopping after six reversals.
func DefaultStaircaseParams() StaircaseParams {
	return StaircaseParams{
		StartLevel:    60,
		MinLevel:      -10,
		MaxLevel:      100,
		InitialStep:   10,
		FinalStep:     5,
		SwitchAfter:   2,
		Reversals:     6,
		Averaged:      4,
		MaxTrials:     60,
		CeilingMisses: 3,
	}
}

// Validate rejects parameter sets the procedure cannot run with.
func (p StaircaseParams) Validate() error {
	switch {
	case !(p.MinLevel < p.MaxLevel):
		return models.InvalidParameterf("level range [%g, %g] is empty", p.MinLevel, p.MaxLevel)
	case p.StartLevel < p.MinLevel || p.StartLevel > p.MaxLevel:
		return models.InvalidParameterf("start level %g outside [%g, %g]", p.StartLevel, p.MinLevel, p.MaxLevel)
	case !(p.InitialStep > 0) || !(p.FinalStep > 0):
		return models.InvalidParameterf("step sizes must be positive")
	case p.Reversals < 2:
		return models.InvalidParameterf("at least 2 reversals are required, got %d", p.Reversals)
	case p.Averaged < 1 || p.Averaged > p.Reversals:
		return models.InvalidParameterf("averaged reversals %d outside [1, %d]", p.Averaged, p.Reversals)
	case p.SwitchAfter < 0:
		return models.InvalidParameterf("switch-after must not be negative")
	case p.MaxTrials < 1:
		return models.InvalidParameterf("max trials must be positive")
	case p.CeilingMisses < 1:
		return models.InvalidParameterf("ceiling misses must be positive")
	}
	return nil
}

// Trial is one tone presentation.
type Trial struct {
	Band  models.FrequencyBand
	Level float64 // dB SPL
	Index int     // zero based within the band
}

type direction int

const (
	none direction = iota
	down
	up
)

// Staircase tracks a single band. It is a plain state machine with no I/O:
// callers alternate Next and Respond until Done.
type Staircase struct {
	band   models.FrequencyBand
	params StaircaseParams

	state          State
	level          float64
	trials         int
	consecutiveHit int
	ceilingMisses  int
	lastDir        direction
	reversals      []float64
	limited        bool
	threshold      float64
}

// NewStaircase creates a staircase for band positioned at StartLevel.
func NewStaircase(band models.FrequencyBand, params StaircaseParams) (*Staircase, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Staircase{
		band:   band,
		params: params,
		state:  Presenting,
		level:  params.StartLevel,
	}, nil
}

// State returns the current state.
func (s *Staircase) State() State {
	return s.state
}

// Done reports whether the staircase has converged.
func (s *Staircase) Done() bool {
	return s.state == Converged
}

// Next hands out the next trial and moves to AwaitingResponse.
func (s *Staircase) Next() (Trial, error) {
	if s.state != Presenting {
		return Trial{}, fmt.Errorf("staircase for %g Hz: next called while %s", s.band.CenterHz, s.state)
	}
	s.state = AwaitingResponse
	return Trial{Band: s.band, Level: s.level, Index: s.trials}, nil
}

// Respond applies the listener's answer to the outstanding trial and
// either queues the next presentation or converges.
func (s *Staircase) Respond(heard bool) error {
	if s.state != AwaitingResponse {
		return fmt.Errorf("staircase for %g Hz: response while %s", s.band.CenterHz, s.state)
	}
	s.state = Adjusting
	s.trials++

	if heard {
		s.ceilingMisses = 0
		s.consecutiveHit++
		if s.consecutiveHit >= 2 {
			s.move(down)
		}
	} else {
		s.consecutiveHit = 0
		if s.level >= s.params.MaxLevel {
			s.ceilingMisses++
		}
		s.move(up)
	}

	switch {
	case len(s.reversals) >= s.params.Reversals:
		s.converge(mean(s.reversals[len(s.reversals)-s.params.Averaged:]), false)
	case s.ceilingMisses >= s.params.CeilingMisses:
		s.converge(s.params.MaxLevel, true)
	case s.trials >= s.params.MaxTrials:
		if len(s.reversals) > 0 {
			s.converge(mean(s.reversals[max(0, len(s.reversals)-s.params.Averaged):]), true)
		} else {
			s.converge(s.level, true)
		}
	default:
		s.state = Presenting
	}
	return nil
}

// move steps the level in dir, recording a reversal when the direction
// changes. The hit counter restarts at every level change.
func (s *Staircase) move(dir direction) {
	if s.lastDir != none && dir != s.lastDir {
		s.reversals = append(s.reversals, s.level)
	}
	s.lastDir = dir

	step := s.params.InitialStep
	if len(s.reversals) >= s.params.SwitchAfter {
		step = s.params.FinalStep
	}
	next := s.level - step
	if dir == up {
		next = s.level + step
	}
	s.level = math.Max(s.params.MinLevel, math.Min(s.params.MaxLevel, next))
	s.consecutiveHit = 0
}

func (s *Staircase) converge(threshold float64, limited bool) {
	s.state = Converged
	s.threshold = threshold
	s.limited = limited
}

// Measurement returns the converged result.
func (s *Staircase) Measurement() (models.ThresholdMeasurement, error) {
	if s.state != Converged {
		return models.ThresholdMeasurement{}, fmt.Errorf("staircase for %g Hz has not converged", s.band.CenterHz)
	}
	return models.ThresholdMeasurement{
		Band:         s.band,
		ThresholdSPL: s.threshold,
		Reversals:    append([]float64(nil), s.reversals...),
		Trials:       s.trials,
		Limited:      s.limited,
	}, nil
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
