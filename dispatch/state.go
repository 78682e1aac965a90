package dispatch

import "github.com/felixgeelhaar/rpcdispatch/protocol"

// State is a step of the dispatch state machine.
type State int

const (
	StateReceived State = iota
	StateClassified
	StateValidated
	StateMiddlewareIn
	StateExecuting
	StateMiddlewareOut
	StateResponded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateClassified:
		return "classified"
	case StateValidated:
		return "validated"
	case StateMiddlewareIn:
		return "middleware_in"
	case StateExecuting:
		return "executing"
	case StateMiddlewareOut:
		return "middleware_out"
	case StateResponded:
		return "responded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome reports the result of one dispatch.
type Outcome struct {
	// Kind is the classification of the inbound message.
	Kind protocol.Kind
	// State is the final state, StateResponded or StateFailed.
	State State
	// Response is the envelope to send back; nil for notifications and
	// passthrough responses.
	Response *protocol.Response
	// Passthrough is set when the message was a response handed to the
	// response handler.
	Passthrough bool
}
