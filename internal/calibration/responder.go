package calibration

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/RMahshie/aurelius/pkg/models"
)

// SimulatedListener answers from fixed per-band thresholds: a tone is heard
// when its level is at or above the band's threshold, and rated too loud
// above the band's comfort level. It satisfies Responder and ComfortResponder.
type SimulatedListener struct {
	Threshold func(band models.FrequencyBand) float64
	Comfort   func(band models.FrequencyBand) float64

	mu     sync.Mutex
	trials []Trial
}

// NewSimulatedListener hears every band at or above thresholdSPL and finds
// anything above 90 dB SPL too loud.
func NewSimulatedListener(thresholdSPL float64) *SimulatedListener {
	return &SimulatedListener{
		Threshold: func(models.FrequencyBand) float64 { return thresholdSPL },
		Comfort:   func(models.FrequencyBand) float64 { return 90 },
	}
}

// Heard implements Responder.
func (l *SimulatedListener) Heard(ctx context.Context, trial Trial) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.record(trial)
	return trial.Level >= l.Threshold(trial.Band), nil
}

// TooLoud implements ComfortResponder.
func (l *SimulatedListener) TooLoud(ctx context.Context, trial Trial) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.record(trial)
	if l.Comfort == nil {
		return false, nil
	}
	return trial.Level > l.Comfort(trial.Band), nil
}

// Trials returns every trial answered so far, in order.
func (l *SimulatedListener) Trials() []Trial {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Trial(nil), l.trials...)
}

func (l *SimulatedListener) record(t Trial) {
	l.mu.Lock()
	l.trials = append(l.trials, t)
	l.mu.Unlock()
}

// ErrInputClosed is returned once the console input reaches end of file.
var ErrInputClosed = errors.New("response input closed")

// ConsoleResponder asks y/n questions on out and reads the answers line by
// line from in. Lines are read on a background goroutine so a pending
// question can be abandoned when its context times out. Call Close when
// done asking.
type ConsoleResponder struct {
	out   io.Writer
	lines chan string
	errc  chan error

	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
}

// NewConsoleResponder starts reading in.
func NewConsoleResponder(in io.Reader, out io.Writer) *ConsoleResponder {
	r := &ConsoleResponder{
		out:     out,
		lines:   make(chan string),
		errc:    make(chan error, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.read(in)
	return r
}

// Close stops the reader goroutine. A read already blocked on in finishes
// when in yields its next line or ends. Later questions fail with
// ErrInputClosed.
func (r *ConsoleResponder) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}

func (r *ConsoleResponder) read(in io.Reader) {
	defer close(r.stopped)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		select {
		case r.lines <- sc.Text():
		case <-r.done:
			return
		}
	}
	if err := sc.Err(); err != nil {
		r.errc <- err
		return
	}
	r.errc <- ErrInputClosed
}

// Heard implements Responder.
func (r *ConsoleResponder) Heard(ctx context.Context, trial Trial) (bool, error) {
	return r.ask(ctx, "  Did you hear the tone? (y/n): ")
}

// TooLoud implements ComfortResponder.
func (r *ConsoleResponder) TooLoud(ctx context.Context, trial Trial) (bool, error) {
	return r.ask(ctx, "  Is this uncomfortably loud? (y/n): ")
}

// WaitForEnter blocks until any line is entered.
func (r *ConsoleResponder) WaitForEnter(ctx context.Context, prompt string) error {
	fmt.Fprint(r.out, prompt)
	select {
	case <-r.lines:
		return nil
	case err := <-r.errc:
		r.errc <- err
		return err
	case <-r.done:
		return ErrInputClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *ConsoleResponder) ask(ctx context.Context, prompt string) (bool, error) {
	fmt.Fprint(r.out, prompt)
	for {
		select {
		case line := <-r.lines:
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
				return true, nil
			case "n", "no":
				return false, nil
			}
			fmt.Fprint(r.out, "  Please answer y or n: ")
		case err := <-r.errc:
			// Keep the terminal error for later questions.
			r.errc <- err
			return false, err
		case <-r.done:
			return false, ErrInputClosed
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return false, ctx.Err()
		}
	}
}
