package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/negotiation"
)

type MessageType string

const (
	MessageTypeDescription MessageType = "description"
	MessageTypeCandidate   MessageType = "candidate"
	MessageTypePeerJoined  MessageType = "peer-joined"
	MessageTypeClose       MessageType = "close"
	MessageTypeError       MessageType = "error"
)

// Error codes carried in {"type":"error"} messages.
const (
	CodeBadMessage   = "bad_message"
	CodeRateLimited  = "rate_limited"
	CodeTooLarge     = "message_too_large"
	CodeUnauthorized = "unauthorized"
	CodeRoomFull     = "room_full"
	CodePeerAbsent   = "peer_absent"
)

var ErrBadMessage = errors.New("bad signaling message")

type Description struct {
	Kind string `json:"kind"`
	SDP  string `json:"sdp"`
}

// Candidate is the trickle form of an ICE candidate. An empty Candidate line
// signals end-of-candidates.
type Candidate struct {
	Mid        string `json:"mid,omitempty"`
	MLineIndex *int   `json:"mLineIndex,omitempty"`
	Candidate  string `json:"candidate"`
}

type Message struct {
	Type        MessageType  `json:"type"`
	Description *Description `json:"description,omitempty"`
	Candidate   *Candidate   `json:"candidate,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseMessage decodes one envelope, rejecting unknown fields, trailing data
// and fields that do not belong to the message type.
func ParseMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("%w: unexpected trailing data", ErrBadMessage)
	}
	if err := msg.validate(); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	return msg, nil
}

func (m Message) validate() error {
	hasError := m.Code != "" || m.Message != ""
	switch m.Type {
	case MessageTypeDescription:
		if m.Description == nil {
			return fmt.Errorf("description message missing description")
		}
		if _, err := negotiation.ParseSDPType(m.Description.Kind); err != nil {
			return err
		}
		if m.Description.SDP == "" {
			return fmt.Errorf("description message missing sdp")
		}
		if m.Candidate != nil || hasError {
			return fmt.Errorf("description message has unexpected fields")
		}
	case MessageTypeCandidate:
		if m.Candidate == nil {
			return fmt.Errorf("candidate message missing candidate")
		}
		if m.Candidate.MLineIndex != nil && *m.Candidate.MLineIndex < 0 {
			return fmt.Errorf("candidate mLineIndex must not be negative")
		}
		if m.Description != nil || hasError {
			return fmt.Errorf("candidate message has unexpected fields")
		}
	case MessageTypePeerJoined, MessageTypeClose:
		if m.Description != nil || m.Candidate != nil || hasError {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case MessageTypeError:
		if m.Code == "" || m.Message == "" {
			return fmt.Errorf("error message missing code/message")
		}
		if m.Description != nil || m.Candidate != nil {
			return fmt.Errorf("error message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

func DescriptionMessage(desc negotiation.SessionDescription) Message {
	return Message{
		Type:        MessageTypeDescription,
		Description: &Description{Kind: desc.Type.String(), SDP: desc.SDP},
	}
}

func CandidateMessage(c negotiation.ICECandidate) Message {
	wire := Candidate{Mid: c.SDPMid, Candidate: c.Candidate}
	if c.SDPMLineIndex >= 0 {
		idx := c.SDPMLineIndex
		wire.MLineIndex = &idx
	}
	return Message{Type: MessageTypeCandidate, Candidate: &wire}
}

func ErrorMessage(code, message string) Message {
	return Message{Type: MessageTypeError, Code: code, Message: message}
}

func (d Description) ToNegotiation() (negotiation.SessionDescription, error) {
	typ, err := negotiation.ParseSDPType(d.Kind)
	if err != nil {
		return negotiation.SessionDescription{}, err
	}
	return negotiation.SessionDescription{Type: typ, SDP: d.SDP}, nil
}

func (c Candidate) ToNegotiation() negotiation.ICECandidate {
	out := negotiation.ICECandidate{SDPMid: c.Mid, SDPMLineIndex: -1, Candidate: c.Candidate}
	if c.MLineIndex != nil {
		out.SDPMLineIndex = *c.MLineIndex
	}
	return out
}

func encodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
