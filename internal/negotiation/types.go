package negotiation

import "fmt"

type State int32

const (
	StateNew State = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateStable
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateStable:
		return "stable"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type SDPType int

const (
	SDPTypeOffer SDPType = iota + 1
	SDPTypeAnswer
	SDPTypePrAnswer
)

func (t SDPType) String() string {
	switch t {
	case SDPTypeOffer:
		return "offer"
	case SDPTypeAnswer:
		return "answer"
	case SDPTypePrAnswer:
		return "pranswer"
	default:
		return fmt.Sprintf("SDPType(%d)", int(t))
	}
}

// ParseSDPType maps the wire name of a description kind to an SDPType.
func ParseSDPType(raw string) (SDPType, error) {
	switch raw {
	case "offer":
		return SDPTypeOffer, nil
	case "answer":
		return SDPTypeAnswer, nil
	case "pranswer":
		return SDPTypePrAnswer, nil
	default:
		return 0, fmt.Errorf("unsupported description kind %q", raw)
	}
}

// SessionDescription is an SDP payload with its role. The SDP body is opaque.
type SessionDescription struct {
	Type SDPType
	SDP  string
}

// ICECandidate is a single trickled candidate. SDPMLineIndex is -1 when the
// sender only identified the media section by mid.
type ICECandidate struct {
	SDPMid        string
	SDPMLineIndex int
	Candidate     string
}

type requestKind int

const (
	requestCreateOffer requestKind = iota + 1
	requestCreateAnswer
)

func (k requestKind) String() string {
	switch k {
	case requestCreateOffer:
		return "create-offer"
	case requestCreateAnswer:
		return "create-answer"
	default:
		return fmt.Sprintf("requestKind(%d)", int(k))
	}
}

type pendingRequest struct {
	kind requestKind
}
