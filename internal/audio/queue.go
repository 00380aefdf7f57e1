package audio

import (
	"context"
	"sync/atomic"

	"github.com/RMahshie/aurelius/pkg/models"
)

// FrameQueue is a bounded single-producer queue between the capture
// goroutine and the correction worker. Push evicts the oldest frame when
// full so playback stays current; PushWait blocks instead, for offline
// sources that must not lose frames. Push, PushWait and Close must only be
// called from the producer goroutine.
type FrameQueue struct {
	ch      chan models.AudioFrame
	closed  bool
	dropped atomic.Uint64
}

// NewFrameQueue creates a queue holding at most depth frames.
func NewFrameQueue(depth int) *FrameQueue {
	if depth < 1 {
		depth = 1
	}
	return &FrameQueue{ch: make(chan models.AudioFrame, depth)}
}

// Push enqueues frame, evicting the oldest queued frame when full.
// It reports whether a frame was dropped.
func (q *FrameQueue) Push(frame models.AudioFrame) bool {
	if q.closed {
		return false
	}
	dropped := false
	for {
		select {
		case q.ch <- frame:
			return dropped
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// PushWait enqueues frame, waiting for space.
func (q *FrameQueue) PushWait(ctx context.Context, frame models.AudioFrame) error {
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop blocks for the next frame. ok is false once the queue is closed
// and drained.
func (q *FrameQueue) Pop(ctx context.Context) (frame models.AudioFrame, ok bool, err error) {
	select {
	case <-ctx.Done():
		return models.AudioFrame{}, false, ctx.Err()
	case frame, ok = <-q.ch:
		return frame, ok, nil
	}
}

// Close marks the end of input. Queued frames can still be popped.
func (q *FrameQueue) Close() {
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Dropped returns how many frames were evicted.
func (q *FrameQueue) Dropped() uint64 { return q.dropped.Load() }
