// Package audio abstracts the capture and playback devices the pipeline
// reads frames from and writes frames to.
package audio

import (
	"context"
	"errors"

	"github.com/RMahshie/aurelius/pkg/models"
)

// Format describes the frame stream negotiated with a device.
type Format struct {
	SampleRate int
	FrameSize  int
	Channels   int
}

// Validate rejects formats no device can open.
func (f Format) Validate() error {
	switch {
	case f.SampleRate <= 0:
		return models.InvalidParameterf("sample rate must be positive, got %d", f.SampleRate)
	case f.FrameSize <= 0:
		return models.InvalidParameterf("frame size must be positive, got %d", f.FrameSize)
	case f.Channels != 1:
		return models.InvalidParameterf("only mono streams are supported, got %d channels", f.Channels)
	}
	return nil
}

var (
	// ErrEndOfStream is returned by ReadFrame when a finite source is exhausted.
	ErrEndOfStream = errors.New("end of audio stream")
	// ErrDropped is a recoverable read or write failure; the frame is lost.
	ErrDropped = errors.New("audio frame dropped")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("audio stream closed")
)

// Source produces captured frames.
type Source interface {
	ReadFrame(ctx context.Context) (models.AudioFrame, error)
	Close() error
}

// Sink consumes frames for playback.
type Sink interface {
	WriteFrame(ctx context.Context, frame models.AudioFrame) error
	Close() error
}

// Device opens sources and sinks. Open failures are wrapped in
// models.ErrDevice.
type Device interface {
	OpenSource(ctx context.Context, format Format) (Source, error)
	OpenSink(ctx context.Context, format Format) (Sink, error)
}

// SplitDevice captures from In and plays to Out.
type SplitDevice struct {
	In  Device
	Out Device
}

// OpenSource implements Device.
func (d SplitDevice) OpenSource(ctx context.Context, format Format) (Source, error) {
	return d.In.OpenSource(ctx, format)
}

// OpenSink implements Device.
func (d SplitDevice) OpenSink(ctx context.Context, format Format) (Sink, error) {
	return d.Out.OpenSink(ctx, format)
}
