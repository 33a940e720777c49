package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid negotiation transition")
	// ErrNegotiationInProgress is returned when a create request is already
	// outstanding. It matches ErrInvalidTransition under errors.Is.
	ErrNegotiationInProgress = fmt.Errorf("%w: negotiation already in progress", ErrInvalidTransition)
	ErrClosed                = errors.New("peer connection closed")
	ErrMalformedCandidate    = errors.New("malformed ice candidate")
)

// InvalidTransitionError reports an operation that is not legal in State.
type InvalidTransitionError struct {
	Op     string
	State  State
	Reason error
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s in state %s: %v", e.Op, e.State, e.Reason)
}

func (e *InvalidTransitionError) Unwrap() error {
	if e.Reason == nil {
		return ErrInvalidTransition
	}
	return e.Reason
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// NegotiationError reports a failed description creation. The connection
// stays open and the request may be retried.
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation: %s failed: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// IceCandidateError reports a remote candidate that was dropped.
type IceCandidateError struct {
	Candidate ICECandidate
	Err       error
}

func (e *IceCandidateError) Error() string {
	return fmt.Sprintf("ice candidate (mid=%q index=%d): %v", e.Candidate.SDPMid, e.Candidate.SDPMLineIndex, e.Err)
}

func (e *IceCandidateError) Unwrap() error { return e.Err }

// TransportFatalError reports a transport failure that closed the connection.
type TransportFatalError struct {
	Op  string
	Err error
}

func (e *TransportFatalError) Error() string {
	return fmt.Sprintf("transport: %s failed: %v", e.Op, e.Err)
}

func (e *TransportFatalError) Unwrap() error { return e.Err }
