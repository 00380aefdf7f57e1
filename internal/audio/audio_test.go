package audio

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RMahshie/aurelius/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFormat = Format{SampleRate: 8000, FrameSize: 4, Channels: 1}

func TestFormatValidate(t *testing.T) {
	assert.NoError(t, testFormat.Validate())

	for _, f := range []Format{
		{SampleRate: 0, FrameSize: 4, Channels: 1},
		{SampleRate: 8000, FrameSize: 0, Channels: 1},
		{SampleRate: 8000, FrameSize: 4, Channels: 2},
	} {
		assert.ErrorIs(t, f.Validate(), models.ErrInvalidParameter)
	}
}

func TestMemoryDeviceFramesAndPadding(t *testing.T) {
	dev := NewMemoryDevice([]float64{1, 2, 3, 4, 5, 6})
	src, err := dev.OpenSource(context.Background(), testFormat)
	require.NoError(t, err)

	f0, err := src.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, f0.Samples)
	assert.Equal(t, uint64(0), f0.Sequence)

	f1, err := src.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6, 0, 0}, f1.Samples)
	assert.Equal(t, uint64(1), f1.Sequence)
	assert.Equal(t, 500*time.Microsecond, f1.Timestamp)

	_, err = src.ReadFrame(context.Background())
	assert.ErrorIs(t, err, ErrEndOfStream)

	require.NoError(t, src.Close())
	_, err = src.ReadFrame(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryDeviceFaults(t *testing.T) {
	dev := NewMemoryDevice(make([]float64, 12))
	dev.FailRead(1, ErrDropped)
	dev.FailWrite(0, ErrDropped)

	ctx := context.Background()
	src, err := dev.OpenSource(ctx, testFormat)
	require.NoError(t, err)
	sink, err := dev.OpenSink(ctx, testFormat)
	require.NoError(t, err)

	_, err = src.ReadFrame(ctx)
	require.NoError(t, err)
	_, err = src.ReadFrame(ctx)
	assert.ErrorIs(t, err, ErrDropped)
	f2, err := src.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f2.Sequence)

	assert.ErrorIs(t, sink.WriteFrame(ctx, f2), ErrDropped)
	assert.NoError(t, sink.WriteFrame(ctx, f2))
	assert.Len(t, dev.Written(), 1)
}

func TestMemoryDeviceOpenFailure(t *testing.T) {
	dev := NewMemoryDevice(nil)
	dev.FailOpen(errors.New("no such device"))

	_, err := dev.OpenSource(context.Background(), testFormat)
	assert.ErrorIs(t, err, models.ErrDevice)
	_, err = dev.OpenSink(context.Background(), testFormat)
	assert.ErrorIs(t, err, models.ErrDevice)

	_, err = NewMemoryDevice(nil).OpenSink(context.Background(), Format{})
	assert.ErrorIs(t, err, models.ErrDevice)
}

func TestSplitDevice(t *testing.T) {
	in := NewMemoryDevice([]float64{1, 2, 3, 4})
	out := NewMemoryDevice(nil)
	dev := SplitDevice{In: in, Out: out}
	ctx := context.Background()

	src, err := dev.OpenSource(ctx, testFormat)
	require.NoError(t, err)
	sink, err := dev.OpenSink(ctx, testFormat)
	require.NoError(t, err)

	f, err := src.ReadFrame(ctx)
	require.NoError(t, err)
	require.NoError(t, sink.WriteFrame(ctx, f))

	assert.Empty(t, in.Written())
	require.Len(t, out.Written(), 1)
	assert.Equal(t, []float64{1, 2, 3, 4}, out.WrittenSamples())
}

func TestWAVRoundTrip(t *testing.T) {
	in := []float64{0, 0.5, -0.5, 0.25, -1, 0.999}
	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, 48000, in))
	assert.Equal(t, wavHeaderSize+2*len(in), buf.Len())

	out, rate, err := ReadWAV(&buf)
	require.NoError(t, err)
	assert.Equal(t, 48000, rate)
	require.Len(t, out, len(in))
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1.0/pcm16Scale)
	}
}

func TestWAVClipsOutOfRange(t *testing.T) {
	assert.Equal(t, int16(math.MaxInt16), toPCM16(2))
	assert.Equal(t, int16(math.MinInt16), toPCM16(-2))
	assert.Equal(t, int16(0), toPCM16(math.NaN()))
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	_, _, err := ReadWAV(bytes.NewReader([]byte("definitely not a wav file at all, sorry")))
	assert.Error(t, err)
}

func TestWAVDevice(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.wav")

	samples := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}
	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, testFormat.SampleRate, samples))
	require.NoError(t, os.WriteFile(in, buf.Bytes(), 0o644))

	ctx := context.Background()
	dev := WAVDevice{InputPath: in, OutputPath: out}
	src, err := dev.OpenSource(ctx, testFormat)
	require.NoError(t, err)
	sink, err := dev.OpenSink(ctx, testFormat)
	require.NoError(t, err)

	for {
		frame, err := src.ReadFrame(ctx)
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		require.NoError(t, sink.WriteFrame(ctx, frame))
	}
	require.NoError(t, sink.Close())

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	got, rate, err := ReadWAV(f)
	require.NoError(t, err)
	assert.Equal(t, testFormat.SampleRate, rate)
	require.Len(t, got, len(samples))
	for i := range samples {
		assert.InDelta(t, samples[i], got[i], 1.0/pcm16Scale)
	}
}

func TestWAVDeviceSampleRateMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, 44100, make([]float64, 16)))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	_, err := WAVDevice{InputPath: path}.OpenSource(context.Background(), testFormat)
	assert.ErrorIs(t, err, models.ErrDevice)

	_, err = WAVDevice{InputPath: filepath.Join(t.TempDir(), "missing.wav")}.OpenSource(context.Background(), testFormat)
	assert.ErrorIs(t, err, models.ErrDevice)
}

func TestPacedSourceHonoursCancellation(t *testing.T) {
	src, err := NewMemoryDevice(make([]float64, 64)).OpenSource(context.Background(), testFormat)
	require.NoError(t, err)
	paced := &pacedSource{Source: src, period: time.Hour}

	_, err = paced.ReadFrame(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = paced.ReadFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFrameQueueDropsOldest(t *testing.T) {
	q := NewFrameQueue(2)
	assert.False(t, q.Push(models.AudioFrame{Sequence: 0}))
	assert.False(t, q.Push(models.AudioFrame{Sequence: 1}))
	assert.True(t, q.Push(models.AudioFrame{Sequence: 2}))
	assert.Equal(t, uint64(1), q.Dropped())

	ctx := context.Background()
	f, ok, err := q.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), f.Sequence)

	q.Close()
	assert.False(t, q.Push(models.AudioFrame{Sequence: 3}))

	f, ok, err = q.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), f.Sequence)

	_, ok, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFrameQueuePopCancelled(t *testing.T) {
	q := NewFrameQueue(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFrameQueuePushWait(t *testing.T) {
	q := NewFrameQueue(1)
	ctx := context.Background()
	require.NoError(t, q.PushWait(ctx, models.AudioFrame{Sequence: 0}))

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.PushWait(short, models.AudioFrame{Sequence: 1}), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- q.PushWait(ctx, models.AudioFrame{Sequence: 2}) }()
	f, ok, err := q.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(0), f.Sequence)
	require.NoError(t, <-done)

	f, _, _ = q.Pop(ctx)
	assert.Equal(t, uint64(2), f.Sequence)
	assert.Zero(t, q.Dropped())

	q.Close()
	assert.ErrorIs(t, q.PushWait(ctx, models.AudioFrame{}), ErrClosed)
}
