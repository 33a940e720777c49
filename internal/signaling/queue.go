package signaling

import (
	"sync"
	"sync/atomic"
)

// outboundQueue is a message-count bounded FIFO between senders (which must
// never block, e.g. the negotiation executor) and a connection's writer
// goroutine.
type outboundQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	max    int
	frames [][]byte

	drops atomic.Uint64
}

func newOutboundQueue(max int) *outboundQueue {
	q := &outboundQueue{max: max}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *outboundQueue) DropCount() uint64 {
	return q.drops.Load()
}

// Enqueue appends frame if there is room. It never blocks.
func (q *outboundQueue) Enqueue(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.frames) >= q.max {
		q.drops.Add(1)
		return false
	}
	q.frames = append(q.frames, frame)
	q.notEmpty.Signal()
	return true
}

// Dequeue blocks until a frame is available. After Close it keeps returning
// the frames queued before Close, then reports false.
func (q *outboundQueue) Dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.frames) == 0 {
		return nil, false
	}
	frame := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return frame, true
}

func (q *outboundQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting frames; queued frames still drain.
func (q *outboundQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

// Discard drops everything still queued.
func (q *outboundQueue) Discard() {
	q.mu.Lock()
	q.drops.Add(uint64(len(q.frames)))
	q.frames = nil
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
