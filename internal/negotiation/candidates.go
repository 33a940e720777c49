package negotiation

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/pion/ice/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/metrics"
)

// ValidateCandidate checks that c identifies a media section and that its
// candidate line parses. An empty candidate line (end-of-candidates) is valid.
func ValidateCandidate(c ICECandidate) error {
	if c.SDPMid == "" && c.SDPMLineIndex < 0 {
		return fmt.Errorf("%w: neither mid nor mLineIndex set", ErrMalformedCandidate)
	}
	line := strings.TrimSpace(c.Candidate)
	if line == "" {
		return nil
	}
	if _, err := ice.UnmarshalCandidate(strings.TrimPrefix(line, "candidate:")); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCandidate, err)
	}
	return nil
}

// maxHeldLocalCandidates bounds the local candidates held while no local
// description has reached the remote peer.
const maxHeldLocalCandidates = 64

// candidateManager orders candidates against description application. It is
// owned by the executor goroutine.
type candidateManager struct {
	transport Transport
	channel   SignalingChannel
	log       *slog.Logger
	metrics   *metrics.Metrics
	report    func(error)

	remoteApplied bool
	buffer        []ICECandidate

	localSent    bool
	localPending []ICECandidate
}

func (m *candidateManager) onLocalCandidate(c ICECandidate) {
	if !m.localSent {
		if len(m.localPending) >= maxHeldLocalCandidates {
			m.metrics.Inc(metrics.LocalCandidatesDropped)
			m.log.Warn("dropping local ice candidate; no description sent yet", "mid", c.SDPMid)
			return
		}
		m.localPending = append(m.localPending, c)
		return
	}
	m.sendLocal(c)
}

// localDescriptionSent releases local candidates gathered before the
// description they belong to went out.
func (m *candidateManager) localDescriptionSent() {
	m.localSent = true
	pending := m.localPending
	m.localPending = nil
	for _, c := range pending {
		m.sendLocal(c)
	}
}

// localDescriptionFailed drops held candidates; the remote peer never got the
// description they belong to.
func (m *candidateManager) localDescriptionFailed() {
	if n := len(m.localPending); n > 0 {
		m.metrics.Add(metrics.LocalCandidatesDropped, uint64(n))
		m.log.Debug("dropping held local candidates after failed send", "count", n)
	}
	m.localPending = nil
}

func (m *candidateManager) sendLocal(c ICECandidate) {
	if err := m.channel.SendCandidate(c); err != nil {
		m.metrics.Inc(metrics.SignalingSendErrors)
		m.log.Warn("failed to send local candidate", "mid", c.SDPMid, "err", err)
		return
	}
	m.metrics.Inc(metrics.LocalCandidatesSent)
}

func (m *candidateManager) onRemoteCandidate(c ICECandidate) {
	if err := ValidateCandidate(c); err != nil {
		m.drop(c, err)
		return
	}
	if strings.TrimSpace(c.Candidate) == "" {
		m.log.Debug("remote end of candidates", "mid", c.SDPMid)
		return
	}
	if !m.remoteApplied {
		m.buffer = append(m.buffer, c)
		m.metrics.Inc(metrics.CandidatesBuffered)
		return
	}
	m.add(c)
}

// flush replays buffered candidates in arrival order. Only the first successful
// remote description triggers it; later ones find the buffer empty.
func (m *candidateManager) flush() {
	if m.remoteApplied {
		return
	}
	m.remoteApplied = true
	buffered := m.buffer
	m.buffer = nil
	for _, c := range buffered {
		m.metrics.Inc(metrics.CandidatesFlushed)
		m.add(c)
	}
}

func (m *candidateManager) add(c ICECandidate) {
	if err := m.transport.AddICECandidate(c); err != nil {
		m.drop(c, err)
		return
	}
	m.metrics.Inc(metrics.CandidatesAdded)
}

func (m *candidateManager) drop(c ICECandidate, err error) {
	m.metrics.Inc(metrics.CandidatesDropped)
	m.log.Warn("dropping remote ice candidate",
		"mid", c.SDPMid,
		"m_line_index", c.SDPMLineIndex,
		"err", err,
	)
	m.report(&IceCandidateError{Candidate: c, Err: err})
}

func (m *candidateManager) reset() {
	m.buffer = nil
	m.localPending = nil
}

func (m *candidateManager) buffered() int {
	return len(m.buffer)
}

func (m *candidateManager) held() int {
	return len(m.localPending)
}
