package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RMahshie/aurelius/pkg/models"
)

// MemoryDevice serves a fixed list of input samples and records
// everything written to it. Read and write faults can be injected per
// frame index. It backs the "null" device and the tests.
type MemoryDevice struct {
	mu       sync.Mutex
	input    []float64
	output   []models.AudioFrame
	readErr  map[uint64]error
	writeErr map[uint64]error
	openErr  error
	writes   uint64
}

// NewMemoryDevice creates a device whose source yields input.
func NewMemoryDevice(input []float64) *MemoryDevice {
	return &MemoryDevice{
		input:    input,
		readErr:  map[uint64]error{},
		writeErr: map[uint64]error{},
	}
}

// FailOpen makes every Open call fail with err.
func (d *MemoryDevice) FailOpen(err error) {
	d.mu.Lock()
	d.openErr = err
	d.mu.Unlock()
}

// FailRead makes the read of frame seq fail with err.
func (d *MemoryDevice) FailRead(seq uint64, err error) {
	d.mu.Lock()
	d.readErr[seq] = err
	d.mu.Unlock()
}

// FailWrite makes the n-th write (zero based) fail with err.
func (d *MemoryDevice) FailWrite(n uint64, err error) {
	d.mu.Lock()
	d.writeErr[n] = err
	d.mu.Unlock()
}

// Written returns copies of the frames written so far.
func (d *MemoryDevice) Written() []models.AudioFrame {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.AudioFrame, len(d.output))
	for i, f := range d.output {
		out[i] = f.Clone()
	}
	return out
}

// WrittenSamples concatenates the samples of every written frame.
func (d *MemoryDevice) WrittenSamples() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []float64
	for _, f := range d.output {
		out = append(out, f.Samples...)
	}
	return out
}

// OpenSource implements Device.
func (d *MemoryDevice) OpenSource(_ context.Context, format Format) (Source, error) {
	if err := d.opened(format); err != nil {
		return nil, err
	}
	return &memorySource{dev: d, format: format}, nil
}

// OpenSink implements Device.
func (d *MemoryDevice) OpenSink(_ context.Context, format Format) (Sink, error) {
	if err := d.opened(format); err != nil {
		return nil, err
	}
	return &memorySink{dev: d}, nil
}

func (d *MemoryDevice) opened(format Format) error {
	if err := format.Validate(); err != nil {
		return fmt.Errorf("%w: %w", models.ErrDevice, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return fmt.Errorf("%w: %w", models.ErrDevice, d.openErr)
	}
	return nil
}

type memorySource struct {
	dev    *MemoryDevice
	format Format
	pos    int
	seq    uint64
	closed bool
}

func (s *memorySource) ReadFrame(ctx context.Context) (models.AudioFrame, error) {
	if err := ctx.Err(); err != nil {
		return models.AudioFrame{}, err
	}
	if s.closed {
		return models.AudioFrame{}, ErrClosed
	}
	if s.pos >= len(s.dev.input) {
		return models.AudioFrame{}, ErrEndOfStream
	}

	seq := s.seq
	start := s.pos
	s.seq++
	s.pos += s.format.FrameSize

	s.dev.mu.Lock()
	err := s.dev.readErr[seq]
	s.dev.mu.Unlock()
	if err != nil {
		return models.AudioFrame{}, err
	}

	samples := make([]float64, s.format.FrameSize)
	copy(samples, s.dev.input[start:min(start+s.format.FrameSize, len(s.dev.input))])
	return models.AudioFrame{
		Samples:    samples,
		SampleRate: s.format.SampleRate,
		Sequence:   seq,
		Timestamp:  time.Duration(start) * time.Second / time.Duration(s.format.SampleRate),
	}, nil
}

func (s *memorySource) Close() error {
	s.closed = true
	return nil
}

type memorySink struct {
	dev    *MemoryDevice
	closed bool
}

func (s *memorySink) WriteFrame(ctx context.Context, frame models.AudioFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return ErrClosed
	}
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	n := s.dev.writes
	s.dev.writes++
	if err := s.dev.writeErr[n]; err != nil {
		return err
	}
	s.dev.output = append(s.dev.output, frame.Clone())
	return nil
}

func (s *memorySink) Close() error {
	s.closed = true
	return nil
}
