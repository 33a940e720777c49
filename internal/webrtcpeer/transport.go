package webrtcpeer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/executor"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/negotiation"
)

var errTransportClosed = errors.New("transport closed")

// Transport drives a pion PeerConnection for a negotiation.Machine.
//
// pion's create/set calls block (set-local starts gathering, set-remote may
// wait on the ICE agent), so they run in issue order on a private operation
// worker and report back through the completion. The Machine's executor never
// waits on them.
type Transport struct {
	h   *Handle
	pc  *webrtc.PeerConnection
	ops *executor.Executor
	log *slog.Logger

	mu      sync.Mutex
	onLocal func(negotiation.ICECandidate)

	closeOnce sync.Once
}

var _ negotiation.Transport = (*Transport)(nil)

// NewTransport takes its own reference on h; Close releases it.
func NewTransport(h *Handle, logger *slog.Logger) (*Transport, error) {
	if h == nil {
		return nil, errors.New("nil handle")
	}
	if err := h.Acquire(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		h:   h,
		pc:  h.PeerConnection(),
		ops: executor.New(logger.With("component", "pion_ops")),
		log: logger,
	}
	t.pc.OnICECandidate(t.handleICECandidate)
	return t, nil
}

func (t *Transport) CreateOffer(c *negotiation.DescriptionCompletion) {
	t.run(c, func() (negotiation.SessionDescription, error) {
		offer, err := t.pc.CreateOffer(nil)
		if err != nil {
			return negotiation.SessionDescription{}, err
		}
		return fromPionDescription(offer)
	})
}

func (t *Transport) CreateAnswer(c *negotiation.DescriptionCompletion) {
	t.run(c, func() (negotiation.SessionDescription, error) {
		answer, err := t.pc.CreateAnswer(nil)
		if err != nil {
			return negotiation.SessionDescription{}, err
		}
		return fromPionDescription(answer)
	})
}

func (t *Transport) SetLocalDescription(desc negotiation.SessionDescription, c *negotiation.DescriptionCompletion) {
	t.run(c, func() (negotiation.SessionDescription, error) {
		pd, err := toPionDescription(desc)
		if err != nil {
			return negotiation.SessionDescription{}, err
		}
		if err := t.pc.SetLocalDescription(pd); err != nil {
			return negotiation.SessionDescription{}, err
		}
		return desc, nil
	})
}

func (t *Transport) SetRemoteDescription(desc negotiation.SessionDescription, c *negotiation.DescriptionCompletion) {
	t.run(c, func() (negotiation.SessionDescription, error) {
		pd, err := toPionDescription(desc)
		if err != nil {
			return negotiation.SessionDescription{}, err
		}
		// Glare: a remote offer replaces our own unanswered offer.
		if pd.Type == webrtc.SDPTypeOffer && t.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
			t.log.Debug("rolling back local offer for remote offer")
			if err := t.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
				return negotiation.SessionDescription{}, fmt.Errorf("rollback: %w", err)
			}
		}
		if err := t.pc.SetRemoteDescription(pd); err != nil {
			return negotiation.SessionDescription{}, err
		}
		return desc, nil
	})
}

func (t *Transport) AddICECandidate(c negotiation.ICECandidate) error {
	return t.pc.AddICECandidate(toPionCandidate(c))
}

func (t *Transport) OnLocalCandidate(f func(negotiation.ICECandidate)) {
	t.mu.Lock()
	t.onLocal = f
	t.mu.Unlock()
}

// Close stops accepting operations and returns without waiting for them. The
// operation worker drops this transport's reference on the connection after
// the operations already queued have run; the handle tracks that work so
// Runtime.Close can wait for it.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.OnLocalCandidate(nil)
		t.h.track(t.ops.Done())
		t.ops.Schedule(t.release)
		t.ops.Shutdown()
	})
	return nil
}

// Done is closed once every queued operation has run and the reference has
// been released.
func (t *Transport) Done() <-chan struct{} { return t.ops.Done() }

func (t *Transport) release() {
	if err := t.h.Release(); err != nil {
		t.log.Warn("failed to close peer connection", "err", err)
	}
}

func (t *Transport) run(c *negotiation.DescriptionCompletion, op func() (negotiation.SessionDescription, error)) {
	ok := t.ops.Schedule(func() {
		desc, err := op()
		if err != nil {
			c.Reject(err)
			return
		}
		c.Resolve(desc)
	})
	if !ok {
		c.Reject(errTransportClosed)
	}
}

func (t *Transport) handleICECandidate(c *webrtc.ICECandidate) {
	// nil marks the end of gathering; trickle has nothing to send for it.
	if c == nil {
		t.log.Debug("ice gathering complete")
		return
	}
	t.mu.Lock()
	f := t.onLocal
	t.mu.Unlock()
	if f == nil {
		return
	}
	f(fromPionCandidate(c.ToJSON()))
}

func toPionDescription(desc negotiation.SessionDescription) (webrtc.SessionDescription, error) {
	var typ webrtc.SDPType
	switch desc.Type {
	case negotiation.SDPTypeOffer:
		typ = webrtc.SDPTypeOffer
	case negotiation.SDPTypeAnswer:
		typ = webrtc.SDPTypeAnswer
	case negotiation.SDPTypePrAnswer:
		typ = webrtc.SDPTypePranswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported description type %v", desc.Type)
	}
	return webrtc.SessionDescription{Type: typ, SDP: desc.SDP}, nil
}

func fromPionDescription(desc webrtc.SessionDescription) (negotiation.SessionDescription, error) {
	var typ negotiation.SDPType
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		typ = negotiation.SDPTypeOffer
	case webrtc.SDPTypeAnswer:
		typ = negotiation.SDPTypeAnswer
	case webrtc.SDPTypePranswer:
		typ = negotiation.SDPTypePrAnswer
	default:
		return negotiation.SessionDescription{}, fmt.Errorf("unsupported description type %s", desc.Type)
	}
	return negotiation.SessionDescription{Type: typ, SDP: desc.SDP}, nil
}

func toPionCandidate(c negotiation.ICECandidate) webrtc.ICECandidateInit {
	init := webrtc.ICECandidateInit{Candidate: c.Candidate}
	if c.SDPMid != "" {
		mid := c.SDPMid
		init.SDPMid = &mid
	}
	if c.SDPMLineIndex >= 0 && c.SDPMLineIndex <= 0xffff {
		idx := uint16(c.SDPMLineIndex)
		init.SDPMLineIndex = &idx
	}
	return init
}

func fromPionCandidate(init webrtc.ICECandidateInit) negotiation.ICECandidate {
	c := negotiation.ICECandidate{Candidate: init.Candidate, SDPMLineIndex: -1}
	if init.SDPMid != nil {
		c.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		c.SDPMLineIndex = int(*init.SDPMLineIndex)
	}
	return c
}
