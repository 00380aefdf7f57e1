package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/RMahshie/aurelius/internal/audio"
	"github.com/RMahshie/aurelius/internal/calibration"
	"github.com/RMahshie/aurelius/internal/tone"
)

// tonePresenter plays each trial as a pure tone on the output device.
type tonePresenter struct {
	sink     audio.Sink
	tones    *tone.Generator
	levels   audio.Levels
	ceiling  float64
	duration time.Duration
	rate     int
	// announce is called before the first trial of each band.
	announce func(ctx context.Context, trial calibration.Trial)
	lastBand float64
}

func (p *tonePresenter) Present(ctx context.Context, trial calibration.Trial) error {
	if p.announce != nil && trial.Band.CenterHz != p.lastBand {
		p.lastBand = trial.Band.CenterHz
		p.announce(ctx, trial)
	}

	amplitude := p.levels.Amplitude(trial.Level)
	if amplitude > p.ceiling {
		return fmt.Errorf("level %g dB SPL is above the safety ceiling", trial.Level)
	}
	seq, err := p.tones.Generate(trial.Band.CenterHz, amplitude, p.duration, p.rate)
	if err != nil {
		return err
	}
	for {
		frame, ok := seq.Next()
		if !ok {
			return nil
		}
		if err := p.sink.WriteFrame(ctx, frame); err != nil {
			return err
		}
	}
}
