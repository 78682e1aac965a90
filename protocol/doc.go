// Package protocol defines the JSON-RPC 2.0 envelopes, error taxonomy and
// per-call metadata shared by the dispatcher, middleware and transports.
//
// # Envelopes
//
// Inbound frames decode into a Message, which keeps every top-level member as
// raw JSON so that a missing "id" (notification) and an explicit null "id"
// (call) stay distinguishable:
//
//	msg, perr := protocol.DecodeMessage(frame)
//	switch msg.Kind() {
//	case protocol.KindCall, protocol.KindNotification:
//	    // validated into a Request by the dispatcher
//	case protocol.KindResponse:
//	    // reply to an outbound call, handed back untouched
//	}
//
// A Response always serializes "jsonrpc" and "id" and exactly one of
// "result" or "error".
//
// # Error Codes
//
//	CodeParseError       = -32700
//	CodeInvalidRequest   = -32600
//	CodeMethodNotFound   = -32601
//	CodeInvalidParams    = -32602
//	CodeInternalError    = -32603
//	CodeApplicationError = -32000
//	CodeRequestTooLarge  = -32001
//	CodeParseResultError = -32701
//
// Constructors attach structured detail that BuildMessage turns into a
// precise message:
//
//	protocol.NewMethodNotFound("ghost").Message // "Method Not Found: 'ghost'"
//	protocol.NewInvalidParams("object or array", "string").Message
//	// "Invalid Params: Expected object or array, got string"
//
// # Execution Context
//
// Methods that declare a *ExecutionContext parameter receive the connection,
// call id, method name and notification flag of the current call.
package protocol
