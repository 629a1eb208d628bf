package endoscope

import (
	"context"
	"sync"
	"sync/atomic"
)

// FrameQueue hands frames from the receive loop to a display goroutine.
// Push never blocks: when the queue is full the oldest frame is dropped, so a
// slow display skips frames instead of stalling datagram intake.
type FrameQueue struct {
	frames    chan *Frame
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func NewFrameQueue(size int) *FrameQueue {
	if size <= 0 {
		size = 1
	}
	return &FrameQueue{
		frames: make(chan *Frame, size),
		done:   make(chan struct{}),
	}
}

// Push enqueues frame and reports whether an older frame had to be dropped for it.
func (q *FrameQueue) Push(frame *Frame) (dropped bool) {
	select {
	case <-q.done:
		return false
	default:
	}
	for {
		select {
		case q.frames <- frame:
			return dropped
		default:
		}
		select {
		case <-q.frames:
			dropped = true
			q.dropped.Add(1)
		default:
		}
	}
}

// Pop blocks until a frame is available, ctx ends or the queue is closed and drained.
func (q *FrameQueue) Pop(ctx context.Context) (*Frame, error) {
	select {
	case frame := <-q.frames:
		return frame, nil
	default:
	}
	select {
	case frame := <-q.frames:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		select {
		case frame := <-q.frames:
			return frame, nil
		default:
			return nil, ErrSessionClosed
		}
	}
}

// TryPop returns a queued frame without waiting.
func (q *FrameQueue) TryPop() (*Frame, bool) {
	select {
	case frame := <-q.frames:
		return frame, true
	default:
		return nil, false
	}
}

func (q *FrameQueue) Len() int {
	return len(q.frames)
}

// Dropped returns how many frames were discarded on overflow.
func (q *FrameQueue) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
