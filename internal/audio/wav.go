package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/RMahshie/aurelius/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	wavHeaderSize = 44
	pcm16Scale    = 32768.0
)

// wavHeader is the canonical 44 byte RIFF header for PCM data.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

func newWAVHeader(sampleRate, numSamples int) wavHeader {
	dataSize := uint32(numSamples * 2)
	return wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// WriteWAV encodes samples as a mono 16-bit PCM WAV stream.
func WriteWAV(w io.Writer, sampleRate int, samples []float64) error {
	if err := binary.Write(w, binary.LittleEndian, newWAVHeader(sampleRate, len(samples))); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(toPCM16(s)))
	}
	_, err := w.Write(buf)
	return err
}

// ReadWAV decodes a 16-bit PCM WAV stream. Multi-channel input is mixed
// down to mono.
func ReadWAV(r io.Reader) (samples []float64, sampleRate int, err error) {
	format, data, err := readWAVChunks(r)
	if err != nil {
		return nil, 0, err
	}
	channels := int(format.NumChannels)
	frames := len(data) / (2 * channels)
	samples = make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			off := 2 * (i*channels + c)
			sum += float64(int16(binary.LittleEndian.Uint16(data[off:]))) / pcm16Scale
		}
		samples[i] = sum / float64(channels)
	}
	return samples, int(format.SampleRate), nil
}

type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

func readWAVChunks(r io.Reader) (fmtChunk, []byte, error) {
	var riff struct {
		ChunkID   [4]byte
		ChunkSize uint32
		Format    [4]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &riff); err != nil {
		return fmtChunk{}, nil, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff.ChunkID[:]) != "RIFF" || string(riff.Format[:]) != "WAVE" {
		return fmtChunk{}, nil, errors.New("not a RIFF/WAVE stream")
	}

	var format fmtChunk
	haveFormat := false
	for {
		var chunk struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			return fmtChunk{}, nil, fmt.Errorf("failed to read WAV chunk: %w", err)
		}
		switch string(chunk.ID[:]) {
		case "fmt ":
			if chunk.Size < 16 {
				return fmtChunk{}, nil, fmt.Errorf("fmt chunk too short: %d bytes", chunk.Size)
			}
			if err := binary.Read(r, binary.LittleEndian, &format); err != nil {
				return fmtChunk{}, nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if _, err := io.CopyN(io.Discard, r, int64(chunk.Size-16)); err != nil {
				return fmtChunk{}, nil, err
			}
			if format.AudioFormat != 1 || format.BitsPerSample != 16 || format.NumChannels == 0 {
				return fmtChunk{}, nil, fmt.Errorf("unsupported WAV encoding: format=%d bits=%d channels=%d",
					format.AudioFormat, format.BitsPerSample, format.NumChannels)
			}
			haveFormat = true
		case "data":
			if !haveFormat {
				return fmtChunk{}, nil, errors.New("data chunk before fmt chunk")
			}
			data := make([]byte, chunk.Size)
			n, err := io.ReadFull(r, data)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return fmtChunk{}, nil, fmt.Errorf("failed to read WAV data: %w", err)
			}
			return format, data[:n], nil
		default:
			skip := int64(chunk.Size) + int64(chunk.Size&1)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return fmtChunk{}, nil, fmt.Errorf("failed to skip %q chunk: %w", chunk.ID[:], err)
			}
		}
	}
}

func toPCM16(s float64) int16 {
	if math.IsNaN(s) {
		return 0
	}
	v := math.Round(s * pcm16Scale)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// WAVDevice reads captured audio from one WAV file and plays into
// another. When Paced is set the source releases frames at real-time rate.
type WAVDevice struct {
	InputPath  string
	OutputPath string
	Paced      bool
}

// OpenSource implements Device.
func (d WAVDevice) OpenSource(ctx context.Context, format Format) (Source, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrDevice, err)
	}
	f, err := os.Open(d.InputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %w", models.ErrDevice, d.InputPath, err)
	}
	defer f.Close()

	samples, rate, err := ReadWAV(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrDevice, d.InputPath, err)
	}
	if rate != format.SampleRate {
		return nil, fmt.Errorf("%w: %s is %d Hz, session runs at %d Hz",
			models.ErrDevice, d.InputPath, rate, format.SampleRate)
	}

	log.Info().
		Str("path", d.InputPath).
		Int("samples", len(samples)).
		Int("sample_rate", rate).
		Msg("WAV source opened")

	mem := NewMemoryDevice(samples)
	src, _ := mem.OpenSource(ctx, format)
	if !d.Paced {
		return src, nil
	}
	return &pacedSource{Source: src, period: time.Duration(format.FrameSize) * time.Second / time.Duration(format.SampleRate)}, nil
}

// OpenSink implements Device. Samples are buffered and the file is
// written on Close.
func (d WAVDevice) OpenSink(_ context.Context, format Format) (Sink, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrDevice, err)
	}
	f, err := os.Create(d.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create %s: %w", models.ErrDevice, d.OutputPath, err)
	}
	return &wavSink{file: f, sampleRate: format.SampleRate}, nil
}

type pacedSource struct {
	Source
	period time.Duration
	next   time.Time
}

func (p *pacedSource) ReadFrame(ctx context.Context) (models.AudioFrame, error) {
	now := time.Now()
	if p.next.IsZero() {
		p.next = now
	}
	if wait := p.next.Sub(now); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return models.AudioFrame{}, ctx.Err()
		case <-timer.C:
		}
	}
	p.next = p.next.Add(p.period)
	return p.Source.ReadFrame(ctx)
}

type wavSink struct {
	file       *os.File
	sampleRate int
	samples    []float64
	closed     bool
}

func (s *wavSink) WriteFrame(ctx context.Context, frame models.AudioFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return ErrClosed
	}
	s.samples = append(s.samples, frame.Samples...)
	return nil
}

func (s *wavSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	w := bufio.NewWriter(s.file)
	if err := WriteWAV(w, s.sampleRate, s.samples); err != nil {
		s.file.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		s.file.Close()
		return err
	}
	log.Info().Str("path", s.file.Name()).Int("samples", len(s.samples)).Msg("WAV sink written")
	return s.file.Close()
}
