package playout

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// FrameQueue is a bounded FIFO of fixed-length PCM frames. On overflow it
// drops the OLDEST entry: a caller hearing the latest audio late is worse
// than losing the front of a burst, so bounded latency wins over bounded
// loss. The queue's own lock is the only synchronization on the hot enqueue
// path.
type FrameQueue struct {
	mu       sync.Mutex
	frames   [][]int16
	capacity int
	dropped  uint64
}

// NewFrameQueue creates a queue holding at most capacity frames. Capacities
// below 1 are treated as 1.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue{
		frames:   make([][]int16, 0, capacity),
		capacity: capacity,
	}
}

// Push enqueues one frame, evicting the oldest entry if the queue is full.
// Returns true when an eviction happened.
func (q *FrameQueue) Push(frame []int16) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if len(q.frames) >= q.capacity {
		q.frames[0] = nil
		q.frames = q.frames[1:]
		q.dropped++
		evicted = true
	}
	q.frames = append(q.frames, frame)

	if evicted && q.dropped%50 == 1 {
		logrus.WithFields(logrus.Fields{
			"function": "FrameQueue.Push",
			"capacity": q.capacity,
			"dropped":  q.dropped,
		}).Warn("Frame queue overflow, dropping oldest audio")
	}
	return evicted
}

// Pop dequeues the oldest frame. Returns false when the queue is empty.
func (q *FrameQueue) Pop() ([]int16, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return nil, false
	}
	frame := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return frame, true
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Clear discards all queued frames and returns how many were flushed.
func (q *FrameQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.frames)
	q.frames = q.frames[:0]
	return n
}

// Dropped returns the total number of frames evicted by overflow.
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
