package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "simple error message",
			err:  &Error{Code: CodeInternalError, Message: "something went wrong"},
			want: "rpc: something went wrong (code: -32603)",
		},
		{
			name: "parse error",
			err:  NewParseError(),
			want: "rpc: Parse Error (code: -32700)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	err1 := NewInternalError()
	err2 := NewTimeoutError("slow", 1)
	err3 := NewInvalidParams("object", "string")

	if !errors.Is(err1, err2) {
		t.Error("errors with same code should match with errors.Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match with errors.Is")
	}
}

func TestBaseMessages(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{CodeParseError, "Parse Error"},
		{CodeInvalidRequest, "Invalid Request"},
		{CodeMethodNotFound, "Method Not Found"},
		{CodeInvalidParams, "Invalid Params"},
		{CodeInternalError, "Internal Error"},
		{CodeApplicationError, "Application Error"},
		{CodeParseResultError, "Error while parsing result"},
		{-32050, "Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := BaseMessage(tt.code); got != tt.want {
				t.Errorf("BaseMessage(%d) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestBuildMessage(t *testing.T) {
	tests := []struct {
		name string
		code int
		data any
		want string
	}{
		{
			name: "method not found with method name",
			code: CodeMethodNotFound,
			data: map[string]any{"method": "test_method"},
			want: "Method Not Found: 'test_method'",
		},
		{
			name: "method not found without method name",
			code: CodeMethodNotFound,
			data: map[string]any{"other": "value"},
			want: "Method Not Found",
		},
		{
			name: "invalid version string",
			code: CodeInvalidRequest,
			data: map[string]any{"version": "1.0"},
			want: "Invalid Request: Invalid JSON-RPC version '1.0', expected '2.0'",
		},
		{
			name: "numeric version keeps its text",
			code: CodeInvalidRequest,
			data: map[string]any{"version": json.Number("2.0")},
			want: "Invalid Request: Invalid JSON-RPC version '2.0', expected '2.0'",
		},
		{
			name: "missing version",
			code: CodeInvalidRequest,
			data: map[string]any{"version": nil},
			want: "Invalid Request: Invalid JSON-RPC version 'null', expected '2.0'",
		},
		{
			name: "invalid request field",
			code: CodeInvalidRequest,
			data: map[string]any{"field": "Missing required field 'method'"},
			want: "Invalid Request: Missing required field 'method'",
		},
		{
			name: "invalid params types",
			code: CodeInvalidParams,
			data: map[string]any{"expected": "object or array", "actual": "string"},
			want: "Invalid Params: Expected object or array, got string",
		},
		{
			name: "timeout",
			code: CodeInternalError,
			data: map[string]any{"method": "slow", "timeout": 0.1},
			want: "Internal Error: Method 'slow' timed out after 0.1 seconds",
		},
		{
			name: "request too large",
			code: CodeRequestTooLarge,
			data: map[string]any{"limit_type": "array_length", "limit": 3},
			want: "Request Too Large: array_length exceeds limit of 3",
		},
		{
			name: "no enrichment for application errors",
			code: CodeApplicationError,
			data: map[string]any{"detail": "some error"},
			want: "Application Error",
		},
		{
			name: "no enrichment when data is not a map",
			code: CodeMethodNotFound,
			data: "string data",
			want: "Method Not Found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildMessage(tt.code, "", tt.data); got != tt.want {
				t.Errorf("BuildMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildMessage_Idempotent(t *testing.T) {
	data := map[string]any{"method": "ghost"}
	first := BuildMessage(CodeMethodNotFound, "", data)
	second := BuildMessage(CodeMethodNotFound, first, data)

	if first != second {
		t.Errorf("second build = %q, want %q", second, first)
	}
}

func TestBuildMessage_CustomMessageWins(t *testing.T) {
	got := BuildMessage(CodeParseError, "Parse failed", nil)
	if got != "Parse failed" {
		t.Errorf("BuildMessage() = %q, want %q", got, "Parse failed")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		wantCode int
		contains string
	}{
		{"method not found", NewMethodNotFound("ghost"), CodeMethodNotFound, "ghost"},
		{"invalid version", NewInvalidVersion("1.0"), CodeInvalidRequest, "'1.0'"},
		{"invalid request", NewInvalidRequest("Missing required field 'method'"), CodeInvalidRequest, "Missing required field"},
		{"invalid params", NewInvalidParams("object or array", "string"), CodeInvalidParams, "got string"},
		{"invalid params field", NewInvalidParamsField("missing param: a"), CodeInvalidParams, "missing param: a"},
		{"timeout", NewTimeoutError("slow", 0.1), CodeInternalError, "timed out"},
		{"request too large", NewRequestTooLarge("string_length", 10), CodeRequestTooLarge, "string_length"},
		{"rate limited", NewRateLimited(), CodeRateLimited, "Rate Limit"},
		{"parse result", NewParseResultError(), CodeParseResultError, "parsing result"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", tt.err.Code, tt.wantCode)
			}
			if !strings.Contains(tt.err.Message, tt.contains) {
				t.Errorf("Message = %q, want it to contain %q", tt.err.Message, tt.contains)
			}
		})
	}
}

func TestDetailIsNotSerialized(t *testing.T) {
	data, err := json.Marshal(NewInvalidVersion("1.0"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `{"code":-32600,"message":"Invalid Request: Invalid JSON-RPC version '1.0', expected '2.0'"}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}

func TestTimeoutErrorData(t *testing.T) {
	err := NewTimeoutError("slow", 0.1)

	data, ok := err.Data.(map[string]any)
	if !ok {
		t.Fatalf("Data = %T, want map", err.Data)
	}
	if data["timeout"] != 0.1 {
		t.Errorf("data.timeout = %v, want 0.1", data["timeout"])
	}
	if !strings.Contains(err.Message, "0.1") {
		t.Errorf("Message = %q, want it to contain 0.1", err.Message)
	}
}

func TestWithData(t *testing.T) {
	original := NewApplicationError("")
	withData := original.WithData(map[string]string{"key": "value"})

	if original.Data != nil {
		t.Error("original error should not be modified")
	}
	if withData.Code != original.Code || withData.Message != original.Message {
		t.Error("code and message should be preserved")
	}
	if withData.Data == nil {
		t.Error("data should be set")
	}
}
