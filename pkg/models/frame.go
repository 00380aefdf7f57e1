package models

import "time"

// AudioFrame is a fixed-length block of mono samples in [-1, 1].
//
// A frame has exactly one owner at a time: the stage holding it may
// modify Samples in place and must not keep a reference after handing the
// frame to the next stage.
type AudioFrame struct {
	Samples    []float64
	SampleRate int
	Sequence   uint64
	Timestamp  time.Duration // offset from the start of the stream
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Clone returns a deep copy of the frame.
func (f AudioFrame) Clone() AudioFrame {
	out := f
	out.Samples = append([]float64(nil), f.Samples...)
	return out
}
