package hub

import (
	"sync"

	"github.com/harmonycode/harmonycode/internal/metrics"
	"github.com/harmonycode/harmonycode/internal/protocol"
)

// outFrame is one queued outbound frame with its type kept alongside the
// encoded bytes so the overflow policy can tell critical frames apart.
type outFrame struct {
	kind string
	data []byte
}

// outQueue is the bounded per-session outbound buffer. When full, the
// oldest non-critical frame is dropped to make room; a queue full of
// critical frames closes the session with SLOW_CONSUMER instead of
// blocking the producer.
type outQueue struct {
	mu       sync.Mutex
	frames   []outFrame
	capacity int
	notify   chan struct{}
	closed   bool
	overflow bool
}

func newOutQueue(capacity int) *outQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &outQueue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// push enqueues a frame. Returns false when the queue overflowed on
// critical frames and is now closed.
func (q *outQueue) push(f outFrame) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return !q.overflow
	}
	if len(q.frames) >= q.capacity {
		dropped := false
		for i, pending := range q.frames {
			if !protocol.Critical(pending.kind) {
				q.frames = append(q.frames[:i], q.frames[i+1:]...)
				metrics.FramesDropped.Inc()
				dropped = true
				break
			}
		}
		if !dropped {
			q.closed = true
			q.overflow = true
			q.mu.Unlock()
			q.signal()
			metrics.SlowConsumerCloses.Inc()
			return false
		}
	}
	q.frames = append(q.frames, f)
	q.mu.Unlock()
	q.signal()
	return true
}

// pop dequeues the next frame.
func (q *outQueue) pop() (outFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return outFrame{}, false
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f, true
}

// close stops the queue without the overflow flag (normal shutdown).
func (q *outQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *outQueue) state() (closed, overflow bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed, q.overflow
}

func (q *outQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

func (q *outQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
