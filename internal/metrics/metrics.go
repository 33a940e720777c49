package metrics

import "sync"

// Negotiation events.
const (
	OffersCreated         = "offers_created"
	AnswersCreated        = "answers_created"
	LocalDescriptionsSet  = "local_descriptions_set"
	RemoteDescriptionsSet = "remote_descriptions_set"
	NegotiationErrors     = "negotiation_errors"
	InvalidTransitions    = "invalid_transitions"
	TransportFatalErrors  = "transport_fatal_errors"
	CompletionsDiscarded  = "completions_discarded"

	CandidatesBuffered     = "candidates_buffered"
	CandidatesFlushed      = "candidates_flushed"
	CandidatesAdded        = "candidates_added"
	CandidatesDropped      = "candidates_dropped"
	LocalCandidatesSent    = "local_candidates_sent"
	LocalCandidatesDropped = "local_candidates_dropped"
	SignalingSendErrors    = "signaling_send_errors"
)

// Relay events.
const (
	RelayPeersJoined      = "relay_peers_joined"
	RelayRoomsFull        = "relay_rooms_full"
	RelayMessagesRelayed  = "relay_messages_relayed"
	RelayInvalidMessages  = "relay_invalid_messages"
	RelayAuthFailures     = "relay_auth_failures"
	RelayOriginRejected   = "relay_origin_rejected"
	DropReasonRateLimited = "relay_rate_limited"
	DropReasonTooLarge    = "relay_message_too_large"
	DropReasonPeerAbsent  = "relay_peer_absent"
)

// Metrics is a minimal, concurrency-safe counter registry. A nil *Metrics
// discards everything, so components can run without one.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
