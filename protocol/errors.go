package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Extension codes used by the dispatcher.
// Domain specific codes belong in the -32002..-32099 server error band.
const (
	CodeApplicationError = -32000
	CodeRequestTooLarge  = -32001
	CodeRateLimited      = -32003
	CodeParseResultError = -32701
)

// baseMessages holds the canonical message for every code the dispatcher emits.
var baseMessages = map[int]string{
	CodeParseError:       "Parse Error",
	CodeInvalidRequest:   "Invalid Request",
	CodeMethodNotFound:   "Method Not Found",
	CodeInvalidParams:    "Invalid Params",
	CodeInternalError:    "Internal Error",
	CodeApplicationError: "Application Error",
	CodeRequestTooLarge:  "Request Too Large",
	CodeRateLimited:      "Rate Limit Exceeded",
	CodeParseResultError: "Error while parsing result",
}

// BaseMessage returns the canonical message for code, or "Server Error" for unknown codes.
func BaseMessage(code int) string {
	if msg, ok := baseMessages[code]; ok {
		return msg
	}
	return "Server Error"
}

// Error represents a JSON-RPC 2.0 error object.
//
// Data is sent on the wire. Detail carries structured context that is only
// used to build Message and is never serialized.
type Error struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Detail  map[string]any `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc: %s (code: %d)", e.Message, e.Code)
}

// Is implements errors.Is comparison by error code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithData returns a copy of the error with wire data attached.
func (e *Error) WithData(data any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Data:    data,
		Detail:  e.Detail,
	}
}

// NewError builds an error whose message is derived from code and data.
// An empty message selects the base message for code, which is then enriched
// from data when data is a map carrying one of the well-known keys.
func NewError(code int, message string, data any) *Error {
	return &Error{
		Code:    code,
		Message: BuildMessage(code, message, data),
		Data:    data,
	}
}

// newDetailed builds an error enriched from detail without putting detail on the wire.
func newDetailed(code int, detail map[string]any) *Error {
	return &Error{
		Code:    code,
		Message: BuildMessage(code, "", detail),
		Detail:  detail,
	}
}

// BuildMessage returns the message for an error object.
//
// A message other than the base message for code is returned unchanged, so
// calling BuildMessage on its own output never enriches twice.
func BuildMessage(code int, message string, data any) string {
	base := BaseMessage(code)
	if message != "" && message != base {
		return message
	}

	fields, ok := data.(map[string]any)
	if !ok {
		return base
	}

	switch code {
	case CodeMethodNotFound:
		if method, ok := fields["method"]; ok {
			return fmt.Sprintf("%s: '%s'", base, formatValue(method))
		}
	case CodeInvalidRequest:
		if version, ok := fields["version"]; ok {
			return fmt.Sprintf("%s: Invalid JSON-RPC version '%s', expected '%s'", base, formatValue(version), Version)
		}
		if field, ok := fields["field"]; ok {
			return fmt.Sprintf("%s: %s", base, formatValue(field))
		}
	case CodeInvalidParams:
		expected, hasExpected := fields["expected"]
		actual, hasActual := fields["actual"]
		if hasExpected && hasActual {
			return fmt.Sprintf("%s: Expected %s, got %s", base, formatValue(expected), formatValue(actual))
		}
		if field, ok := fields["field"]; ok {
			return fmt.Sprintf("%s: %s", base, formatValue(field))
		}
	case CodeInternalError:
		if timeout, ok := fields["timeout"]; ok {
			if method, ok := fields["method"]; ok {
				return fmt.Sprintf("%s: Method '%s' timed out after %s seconds", base, formatValue(method), formatValue(timeout))
			}
			return fmt.Sprintf("%s: Method timed out after %s seconds", base, formatValue(timeout))
		}
	case CodeRequestTooLarge:
		if kind, ok := fields["limit_type"]; ok {
			if limit, ok := fields["limit"]; ok {
				return fmt.Sprintf("%s: %s exceeds limit of %s", base, formatValue(kind), formatValue(limit))
			}
			return fmt.Sprintf("%s: %s exceeds limit", base, formatValue(kind))
		}
	}
	return base
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case []byte:
		return strings.TrimSpace(string(val))
	default:
		return fmt.Sprint(val)
	}
}

// NewParseError creates a parse error (-32700).
func NewParseError() *Error {
	return NewError(CodeParseError, "", nil)
}

// NewInvalidRequest creates an invalid request error (-32600).
// A non-empty field explains which part of the envelope is wrong.
func NewInvalidRequest(field string) *Error {
	if field == "" {
		return NewError(CodeInvalidRequest, "", nil)
	}
	return newDetailed(CodeInvalidRequest, map[string]any{"field": field})
}

// NewInvalidVersion creates an invalid request error for a wrong protocol version.
// version is the raw value the client sent, nil when the member was missing.
func NewInvalidVersion(version any) *Error {
	return newDetailed(CodeInvalidRequest, map[string]any{"version": version})
}

// NewMethodNotFound creates a method not found error (-32601).
func NewMethodNotFound(method string) *Error {
	return newDetailed(CodeMethodNotFound, map[string]any{"method": method})
}

// NewInvalidParams creates an invalid params error (-32602) describing a type mismatch.
func NewInvalidParams(expected, actual string) *Error {
	return newDetailed(CodeInvalidParams, map[string]any{"expected": expected, "actual": actual})
}

// NewInvalidParamsField creates an invalid params error (-32602) with a free-form explanation.
func NewInvalidParamsField(field string) *Error {
	return newDetailed(CodeInvalidParams, map[string]any{"field": field})
}

// NewInternalError creates an internal error (-32603) that carries no detail.
func NewInternalError() *Error {
	return NewError(CodeInternalError, "", nil)
}

// NewTimeoutError creates the timeout flavored internal error.
// The timeout in seconds is sent as data so clients can tell it apart from other internal errors.
func NewTimeoutError(method string, seconds float64) *Error {
	detail := map[string]any{"method": method, "timeout": seconds}
	return &Error{
		Code:    CodeInternalError,
		Message: BuildMessage(CodeInternalError, "", detail),
		Data:    map[string]any{"timeout": seconds},
		Detail:  detail,
	}
}

// NewApplicationError creates a generic application error (-32000).
// An empty message selects the sanitized base message.
func NewApplicationError(message string) *Error {
	return NewError(CodeApplicationError, message, nil)
}

// NewRequestTooLarge creates a size limit error (-32001).
func NewRequestTooLarge(kind string, limit int) *Error {
	data := map[string]any{"limit_type": kind, "limit": limit}
	return NewError(CodeRequestTooLarge, "", data)
}

// NewRateLimited creates a rate limit error (-32003).
func NewRateLimited() *Error {
	return NewError(CodeRateLimited, "", nil)
}

// NewParseResultError creates the error sent when a result cannot be encoded (-32701).
func NewParseResultError() *Error {
	return NewError(CodeParseResultError, "", nil)
}
