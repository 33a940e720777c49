package webrtcpeer

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

var ErrReleased = errors.New("peer connection released")

// Handle is a reference-counted owner of a PeerConnection. The connection is
// closed when the last reference is released.
type Handle struct {
	pc   *webrtc.PeerConnection
	refs atomic.Int32

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
	onClosed  func(*Handle)

	bgMu sync.Mutex
	bg   []<-chan struct{}
}

func newHandle(pc *webrtc.PeerConnection, onClosed func(*Handle)) *Handle {
	h := &Handle{pc: pc, closed: make(chan struct{}), onClosed: onClosed}
	h.refs.Store(1)
	return h
}

// Acquire adds a reference. It fails once the count has reached zero; a
// released connection is never revived.
func (h *Handle) Acquire() error {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return ErrReleased
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops one reference. The call that drops the last one closes the
// connection and returns its close error. Releasing an already closed handle
// is a no-op.
func (h *Handle) Release() error {
	if n := h.refs.Add(-1); n != 0 {
		return nil
	}
	return h.close()
}

// ForceClose closes the connection regardless of outstanding references.
// Later Release calls are no-ops.
func (h *Handle) ForceClose() error {
	h.refs.Store(0)
	return h.close()
}

func (h *Handle) close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.pc.Close()
		close(h.closed)
		if h.onClosed != nil {
			h.onClosed(h)
		}
	})
	return h.closeErr
}

// track records background work on the connection that Wait must outlive.
func (h *Handle) track(done <-chan struct{}) {
	h.bgMu.Lock()
	h.bg = append(h.bg, done)
	h.bgMu.Unlock()
}

// Wait blocks until background work started by transports on this handle has
// finished.
func (h *Handle) Wait() {
	h.bgMu.Lock()
	pending := h.bg
	h.bg = nil
	h.bgMu.Unlock()
	for _, done := range pending {
		<-done
	}
}

func (h *Handle) Refs() int32 { return h.refs.Load() }

// Closed is closed once the connection has been closed.
func (h *Handle) Closed() <-chan struct{} { return h.closed }

func (h *Handle) PeerConnection() *webrtc.PeerConnection { return h.pc }
