package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/RMahshie/aurelius/internal/audio"
	"github.com/RMahshie/aurelius/internal/corrector"
	"github.com/RMahshie/aurelius/pkg/models"
)

// maxConsecutiveErrors is how many back-to-back read or write failures are
// tolerated before the device is considered lost.
const maxConsecutiveErrors = 50

// liveSession holds the state of a running Run call.
type liveSession struct {
	corrector *corrector.Corrector
	queue     *audio.FrameQueue
	started   time.Time

	late        atomic.Uint64
	readErrors  atomic.Uint64
	writeErrors atomic.Uint64
	rejected    atomic.Uint64
}

func (s *liveSession) diagnostics() models.Diagnostics {
	stats := s.corrector.Stats()
	return models.Diagnostics{
		FramesProcessed: stats.Frames,
		FramesDropped:   s.queue.Dropped(),
		LateFrames:      s.late.Load(),
		SafetyLimited:   stats.SafetyLimited,
		NonFinite:       stats.NonFinite,
		ReadErrors:      s.readErrors.Load(),
		WriteErrors:     s.writeErrors.Load(),
		Rejected:        s.rejected.Load(),
		ProfileSwaps:    stats.ProfileSwaps,
		Uptime:          time.Since(s.started),
	}
}

// Run streams audio from the device's source through a corrector applying
// p and out to its sink until ctx is cancelled or the source ends.
// Per-frame failures are counted in the diagnostics; only a device that
// cannot be opened or keeps failing ends the run with an error wrapping
// models.ErrDevice.
func (o *Orchestrator) Run(ctx context.Context, p *models.AudioProfile) (models.Diagnostics, error) {
	corr, err := corrector.New(corrector.Config{
		SampleRate:       o.cfg.Format.SampleRate,
		FrameSize:        o.cfg.Format.FrameSize,
		CeilingAmplitude: o.cfg.CeilingAmplitude(),
	}, p)
	if err != nil {
		return models.Diagnostics{}, err
	}

	source, err := o.device.OpenSource(ctx, o.cfg.Format)
	if err != nil {
		return models.Diagnostics{}, asDeviceError(err)
	}
	defer source.Close()
	sink, err := o.device.OpenSink(ctx, o.cfg.Format)
	if err != nil {
		return models.Diagnostics{}, asDeviceError(err)
	}

	session := &liveSession{
		corrector: corr,
		queue:     audio.NewFrameQueue(o.cfg.QueueDepth),
		started:   time.Now(),
	}
	o.live.Store(session)
	defer o.live.CompareAndSwap(session, nil)

	log.Info().
		Str("profile_id", p.ID).
		Int("sample_rate", o.cfg.Format.SampleRate).
		Int("frame_size", o.cfg.Format.FrameSize).
		Dur("latency", corr.Latency()).
		Msg("Correction started")

	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.readLoop(gctx, source, session) })
	g.Go(func() error {
		defer close(done)
		return o.processLoop(gctx, sink, session)
	})
	g.Go(func() error {
		o.reportLoop(gctx, done, session)
		return nil
	})
	runErr := g.Wait()

	if err := sink.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("%w: failed to close output: %w", models.ErrDevice, err)
	}

	diag := session.diagnostics()
	logDiagnostics(diag, "Correction stopped")
	return diag, runErr
}

func (o *Orchestrator) readLoop(ctx context.Context, source audio.Source, s *liveSession) error {
	defer s.queue.Close()
	failures := 0
	for {
		frame, err := source.ReadFrame(ctx)
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, audio.ErrEndOfStream):
			log.Info().Msg("Input stream ended")
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			s.readErrors.Add(1)
			failures++
			if failures >= maxConsecutiveErrors {
				return fmt.Errorf("%w: input failed %d times in a row: %w", models.ErrDevice, failures, err)
			}
			log.Debug().Err(err).Msg("Frame read failed, skipped")
			continue
		}

		if o.cfg.Lossless {
			if err := s.queue.PushWait(ctx, frame); err != nil {
				return nil
			}
			continue
		}
		if s.queue.Push(frame) {
			log.Debug().Err(models.ErrFrameOverrun).Uint64("sequence", frame.Sequence).Msg("Oldest queued frame dropped")
		}
	}
}

// processLoop corrects queued frames and writes them out. The corrector
// runs one frame behind, so each output is tagged with the frame whose
// audio it holds, the first output is skipped and the final frame is
// flushed once the queue drains.
func (o *Orchestrator) processLoop(ctx context.Context, sink audio.Sink, s *liveSession) error {
	period := time.Duration(o.cfg.Format.FrameSize) * time.Second / time.Duration(o.cfg.Format.SampleRate)
	w := &frameWriter{sink: sink, session: s}
	var pending *models.AudioFrame
	for {
		frame, ok, err := s.queue.Pop(ctx)
		if err != nil {
			return nil
		}
		if !ok {
			if pending == nil || ctx.Err() != nil {
				return nil
			}
			return w.write(ctx, retag(s.corrector.Flush(), *pending))
		}

		start := time.Now()
		out, err := s.corrector.Process(frame)
		if err != nil {
			s.rejected.Add(1)
			log.Debug().Err(err).Uint64("sequence", frame.Sequence).Msg("Frame rejected by corrector")
			continue
		}
		prev := pending
		pending = &models.AudioFrame{Sequence: frame.Sequence, Timestamp: frame.Timestamp}
		if prev == nil {
			continue
		}

		if err := w.write(ctx, retag(out, *prev)); err != nil {
			return err
		}
		if time.Since(start) > period {
			s.late.Add(1)
		}
	}
}

// retag labels out with the sequence and timestamp of the frame its audio
// came from.
func retag(out, source models.AudioFrame) models.AudioFrame {
	out.Sequence = source.Sequence
	out.Timestamp = source.Timestamp
	return out
}

// frameWriter writes frames to the sink, counting and skipping failures
// until maxConsecutiveErrors in a row.
type frameWriter struct {
	sink     audio.Sink
	session  *liveSession
	failures int
}

func (w *frameWriter) write(ctx context.Context, frame models.AudioFrame) error {
	if err := w.sink.WriteFrame(ctx, frame); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		w.session.writeErrors.Add(1)
		w.failures++
		if w.failures >= maxConsecutiveErrors {
			return fmt.Errorf("%w: output failed %d times in a row: %w", models.ErrDevice, w.failures, err)
		}
		log.Debug().Err(err).Uint64("sequence", frame.Sequence).Msg("Frame write failed, skipped")
		return nil
	}
	w.failures = 0
	return nil
}

func (o *Orchestrator) reportLoop(ctx context.Context, done <-chan struct{}, s *liveSession) {
	if o.cfg.DiagnosticsInterval <= 0 {
		return
	}
	ticker := time.NewTicker(o.cfg.DiagnosticsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			logDiagnostics(s.diagnostics(), "Correction diagnostics")
		}
	}
}

func logDiagnostics(d models.Diagnostics, msg string) {
	log.Info().
		Uint64("frames", d.FramesProcessed).
		Uint64("dropped", d.FramesDropped).
		Uint64("late", d.LateFrames).
		Uint64("safety_limited", d.SafetyLimited).
		Uint64("non_finite", d.NonFinite).
		Uint64("read_errors", d.ReadErrors).
		Uint64("write_errors", d.WriteErrors).
		Uint64("rejected", d.Rejected).
		Dur("uptime", d.Uptime).
		Msg(msg)
}

// Diagnostics returns the live session's counters. ok is false when no
// run is in progress.
func (o *Orchestrator) Diagnostics() (d models.Diagnostics, ok bool) {
	s := o.live.Load()
	if s == nil {
		return models.Diagnostics{}, false
	}
	return s.diagnostics(), true
}

// Profile returns the profile applied by the live session, or nil.
func (o *Orchestrator) Profile() *models.AudioProfile {
	s := o.live.Load()
	if s == nil {
		return nil
	}
	return s.corrector.Profile()
}

// Install hot-swaps the live session's profile at the next frame boundary.
func (o *Orchestrator) Install(p *models.AudioProfile) error {
	s := o.live.Load()
	if s == nil {
		return fmt.Errorf("no correction session is running: %w", models.ErrNotFound)
	}
	return s.corrector.Install(p)
}
