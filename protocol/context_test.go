package protocol

import (
	"context"
	"encoding/json"
	"testing"
)

func TestRequestMetaContext(t *testing.T) {
	ctx := ContextWithRequestMeta(context.Background(), RequestMeta{"Authorization": "Bearer abc"})

	meta := RequestMetaFromContext(ctx)
	if meta == nil {
		t.Fatal("expected metadata")
	}
	if got := meta.Get("authorization"); got != "Bearer abc" {
		t.Errorf("Get(authorization) = %q, want %q", got, "Bearer abc")
	}
	if got := RequestMetaFromContext(context.Background()); got != nil {
		t.Errorf("expected nil metadata, got %v", got)
	}
}

func TestConnection(t *testing.T) {
	meta := RequestMeta{"X-Client": "one"}
	conn := NewConnection("c1", TransportWebSocket, meta)
	meta["X-Client"] = "changed"

	if conn.ID() != "c1" {
		t.Errorf("ID() = %q, want c1", conn.ID())
	}
	if conn.Transport() != TransportWebSocket {
		t.Errorf("Transport() = %q, want %q", conn.Transport(), TransportWebSocket)
	}
	if got := conn.Meta().Get("X-Client"); got != "one" {
		t.Errorf("meta should be copied, got %q", got)
	}
	if conn.ConnectedAt().IsZero() {
		t.Error("ConnectedAt() should be set")
	}

	type key struct{}
	if conn.Value(key{}) != nil {
		t.Error("expected no value before SetValue")
	}
	conn.SetValue(key{}, 42)
	if conn.Value(key{}) != 42 {
		t.Errorf("Value() = %v, want 42", conn.Value(key{}))
	}
	if got := conn.LoadOrStoreValue(key{}, 7); got != 42 {
		t.Errorf("LoadOrStoreValue() = %v, want existing 42", got)
	}
}

func TestExecutionContext(t *testing.T) {
	conn := NewConnection("c1", TransportHTTP, nil)

	t.Run("call", func(t *testing.T) {
		req := &Request{JSONRPC: Version, Method: "echo", ID: json.RawMessage(`9`)}
		ec := NewExecutionContext(conn, req, "trace-1")

		if ec.Connection() != conn {
			t.Error("Connection() should return the owning connection")
		}
		if string(ec.ID()) != "9" {
			t.Errorf("ID() = %s, want 9", ec.ID())
		}
		if ec.Method() != "echo" {
			t.Errorf("Method() = %q, want echo", ec.Method())
		}
		if ec.IsNotification() {
			t.Error("IsNotification() = true, want false")
		}
		if ec.TraceID() != "trace-1" {
			t.Errorf("TraceID() = %q, want trace-1", ec.TraceID())
		}
	})

	t.Run("notification", func(t *testing.T) {
		ec := NewExecutionContext(conn, &Request{JSONRPC: Version, Method: "ping"}, "trace-2")
		if !ec.IsNotification() {
			t.Error("IsNotification() = false, want true")
		}
	})

	t.Run("round trips through context", func(t *testing.T) {
		ec := NewExecutionContext(conn, &Request{Method: "x", ID: json.RawMessage(`1`)}, "t")
		ctx := ContextWithExecution(context.Background(), ec)
		if ExecutionFromContext(ctx) != ec {
			t.Error("ExecutionFromContext() should return the attached context")
		}
		if ExecutionFromContext(context.Background()) != nil {
			t.Error("expected nil without attachment")
		}
	})
}
