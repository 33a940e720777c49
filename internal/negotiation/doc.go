// Package negotiation implements SDP offer/answer negotiation and trickle ICE
// candidate ordering for a single peer connection.
//
// A Machine owns the negotiation state and mutates it only on an
// executor.Executor. Transport operations are asynchronous: the Machine issues
// a request with a DescriptionCompletion and continues when the completion is
// delivered back onto the executor.
package negotiation
