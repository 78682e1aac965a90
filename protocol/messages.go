package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/felixgeelhaar/rpcdispatch/internal/jsoncodec"
)

// Kind classifies an inbound message.
type Kind int

const (
	KindMalformed Kind = iota
	KindCall
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "malformed"
	}
}

var nullID = json.RawMessage("null")

// Message is a decoded inbound envelope. Members are kept as raw JSON;
// a nil member was absent, while an explicit null is the literal "null".
type Message struct {
	Version json.RawMessage
	Method  json.RawMessage
	Params  json.RawMessage
	ID      json.RawMessage
	Result  json.RawMessage
	Error   json.RawMessage
}

// UnmarshalJSON decodes a JSON object while tracking member presence.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := jsoncodec.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = Message{
		Version: member(raw, "jsonrpc"),
		Method:  member(raw, "method"),
		Params:  member(raw, "params"),
		ID:      member(raw, "id"),
		Result:  member(raw, "result"),
		Error:   member(raw, "error"),
	}
	return nil
}

func member(raw map[string]json.RawMessage, key string) json.RawMessage {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	if len(v) == 0 {
		return nullID
	}
	return v
}

// HasID reports whether the "id" member was present, including an explicit null.
func (m *Message) HasID() bool {
	return m.ID != nil
}

// Kind classifies the message. A message carrying "result" or "error" is a
// response; one carrying "method" or "id" is a call or notification.
func (m *Message) Kind() Kind {
	switch {
	case m.Result != nil || m.Error != nil:
		return KindResponse
	case m.Method != nil && !m.HasID():
		return KindNotification
	case m.Method != nil || m.HasID():
		return KindCall
	default:
		return KindMalformed
	}
}

// DecodeMessage parses a frame into a Message.
// Invalid JSON yields a parse error; valid JSON that is not an object
// (batches included) yields an invalid request error.
func DecodeMessage(data []byte) (*Message, *Error) {
	if !jsoncodec.Valid(data) {
		return nil, NewParseError()
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, NewInvalidRequest(fmt.Sprintf("Request must be an object, got %s", TypeName(trimmed)))
	}

	var msg Message
	if err := jsoncodec.Unmarshal(trimmed, &msg); err != nil {
		return nil, NewParseError()
	}
	return &msg, nil
}

// TypeName names the JSON type of a raw value.
func TypeName(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "null"
	}
	switch trimmed[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

// Request is a validated call or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification returns true if this request has no ID (is a notification).
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string
	ID      json.RawMessage
	Result  any
	Error   *Error
}

type successFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

type errorFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *Error          `json:"error"`
}

type responseFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// MarshalJSON always writes "id" (null when unknown) and exactly one of "result" and "error".
func (r *Response) MarshalJSON() ([]byte, error) {
	id := r.ID
	if len(id) == 0 {
		id = nullID
	}
	version := r.JSONRPC
	if version == "" {
		version = Version
	}
	if r.Error != nil {
		return jsoncodec.Marshal(errorFrame{JSONRPC: version, ID: id, Error: r.Error})
	}
	return jsoncodec.Marshal(successFrame{JSONRPC: version, ID: id, Result: r.Result})
}

// UnmarshalJSON decodes a response frame. Result is left as json.RawMessage.
func (r *Response) UnmarshalJSON(data []byte) error {
	var frame responseFrame
	if err := jsoncodec.Unmarshal(data, &frame); err != nil {
		return err
	}
	r.JSONRPC = frame.JSONRPC
	r.ID = frame.ID
	r.Error = frame.Error
	r.Result = nil
	if frame.Result != nil {
		r.Result = frame.Result
	}
	return nil
}

// NewResponse creates a successful response.
func NewResponse(id json.RawMessage, result any) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   err,
	}
}

// ErrorResponse builds an error response from its parts. data is sent only when non-nil.
func ErrorResponse(id json.RawMessage, code int, message string, data any) *Response {
	return NewErrorResponse(id, NewError(code, message, data))
}
