package negotiation

// Transport is the ICE/DTLS/SRTP stack driven by a Machine.
//
// Create and set requests must not block; the result is reported later through
// the supplied completion. Requests are processed by the transport in the
// order they are issued.
type Transport interface {
	CreateOffer(c *DescriptionCompletion)
	CreateAnswer(c *DescriptionCompletion)
	SetLocalDescription(desc SessionDescription, c *DescriptionCompletion)
	SetRemoteDescription(desc SessionDescription, c *DescriptionCompletion)
	AddICECandidate(c ICECandidate) error

	// OnLocalCandidate registers the listener for locally gathered candidates.
	// It may be called from any goroutine.
	OnLocalCandidate(f func(ICECandidate))

	// Close releases the caller's hold on the underlying connection.
	Close() error
}

// SignalingChannel carries descriptions and candidates to the remote peer.
// Implementations must not block on network I/O.
type SignalingChannel interface {
	SendDescription(desc SessionDescription) error
	SendCandidate(c ICECandidate) error
}
