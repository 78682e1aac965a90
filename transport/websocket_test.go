package transport

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/rpcdispatch/dispatch"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// startWebSocket serves engine on a random port and returns its URL.
func startWebSocket(t *testing.T, engine *dispatch.Engine, opts ...WebSocketOption) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	ws := NewWebSocket("127.0.0.1:0", opts...)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- ws.Serve(ctx, engine) }()

	addr := waitAddr(t, ws.ListenAddr)
	t.Cleanup(cancel)
	return "ws://" + addr + "/", cancel, errCh
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, mt int, frame []byte) (int, []byte) {
	t.Helper()
	if err := conn.WriteMessage(mt, frame); err != nil {
		t.Fatalf("write error = %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	gotType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	return gotType, data
}

func TestWebSocket_JSON(t *testing.T) {
	url, _, _ := startWebSocket(t, newTestEngine(0))
	conn := dial(t, url)

	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"call", `{"jsonrpc":"2.0","method":"add","params":{"a":5,"b":3},"id":1}`, `{"jsonrpc":"2.0","id":1,"result":8}`},
		{"transport allowed", `{"jsonrpc":"2.0","method":"ws_only","id":"w"}`, `{"jsonrpc":"2.0","id":"w","result":"ok"}`},
		{"unknown", `{"jsonrpc":"2.0","method":"ghost","id":2}`, `{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"Method Not Found: 'ghost'"}}`},
		{"parse error", `{"jsonrpc"`, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse Error"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt, data := roundTrip(t, conn, websocket.TextMessage, []byte(tt.frame))
			if mt != websocket.TextMessage {
				t.Errorf("message type = %d, want text", mt)
			}
			if string(data) != tt.want {
				t.Errorf("reply = %s, want %s", data, tt.want)
			}
		})
	}
}

func TestWebSocket_NotificationHasNoReply(t *testing.T) {
	url, _, _ := startWebSocket(t, newTestEngine(0))
	conn := dial(t, url)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"log"}`)); err != nil {
		t.Fatalf("write error = %v", err)
	}
	_, data := roundTrip(t, conn, websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"add","params":[1,1],"id":"after"}`))
	if string(data) != `{"jsonrpc":"2.0","id":"after","result":2}` {
		t.Errorf("first reply = %s, want the call's reply", data)
	}
}

func TestWebSocket_CBOR(t *testing.T) {
	url, _, _ := startWebSocket(t, newTestEngine(0))
	conn := dial(t, url)

	frame, err := cbor.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "add",
		"params":  []any{5, 3},
		"id":      7,
	})
	if err != nil {
		t.Fatalf("cbor.Marshal() error = %v", err)
	}

	mt, data := roundTrip(t, conn, websocket.BinaryMessage, frame)
	if mt != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary", mt)
	}

	var reply map[string]any
	if err := cbor.Unmarshal(data, &reply); err != nil {
		t.Fatalf("cbor.Unmarshal() error = %v", err)
	}
	if reply["id"] != uint64(7) || reply["result"] != uint64(8) {
		t.Errorf("reply = %v", reply)
	}

	t.Run("invalid cbor", func(t *testing.T) {
		_, data := roundTrip(t, conn, websocket.BinaryMessage, []byte{0xff, 0x00})
		var reply struct {
			Error struct {
				Code int `cbor:"code"`
			} `cbor:"error"`
		}
		if err := cbor.Unmarshal(data, &reply); err != nil {
			t.Fatalf("cbor.Unmarshal() error = %v", err)
		}
		if reply.Error.Code != protocol.CodeParseError {
			t.Errorf("code = %d, want %d", reply.Error.Code, protocol.CodeParseError)
		}
	})
}

func TestWebSocket_SizeLimits(t *testing.T) {
	events := newLifecycle()
	url, _, _ := startWebSocket(t, newTestEngine(64, dispatch.WithHooks(events.hooks())))
	conn := dial(t, url)

	// Over the message size limit but within the read limit.
	frame := `{"jsonrpc":"2.0","method":"add","id":"` + strings.Repeat("x", 40) + `"}`
	_, data := roundTrip(t, conn, websocket.TextMessage, []byte(frame))
	if !strings.Contains(string(data), `"code":-32001`) {
		t.Errorf("reply = %s, want REQUEST_TOO_LARGE", data)
	}

	// Over the read limit closes the connection.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat(" ", 200))); err != nil {
		t.Fatalf("write error = %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
		t.Errorf("read error = %v, want close 1009", err)
	}

	d := events.waitDisconnect(t)
	if d.code != websocket.CloseMessageTooBig || d.transport != protocol.TransportWebSocket {
		t.Errorf("disconnect = %+v", d)
	}
}

func TestWebSocket_CloseCodes(t *testing.T) {
	t.Run("client close", func(t *testing.T) {
		events := newLifecycle()
		url, _, _ := startWebSocket(t, newTestEngine(0, dispatch.WithHooks(events.hooks())))
		conn := dial(t, url)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		if err := conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
			t.Fatalf("write close error = %v", err)
		}

		if d := events.waitDisconnect(t); d.code != websocket.CloseNormalClosure {
			t.Errorf("code = %d, want 1000", d.code)
		}
	})

	t.Run("server shutdown", func(t *testing.T) {
		events := newLifecycle()
		url, cancel, errCh := startWebSocket(t,
			newTestEngine(0, dispatch.WithHooks(events.hooks())),
			WithWebSocketShutdown(ShutdownConfig{Timeout: time.Second}),
		)
		conn := dial(t, url)
		roundTrip(t, conn, websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`))

		cancel()

		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, _, err := conn.ReadMessage()
		if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
			t.Errorf("read error = %v, want close 1001", err)
		}
		if d := events.waitDisconnect(t); d.code != websocket.CloseGoingAway {
			t.Errorf("code = %d, want 1001", d.code)
		}
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Serve() error = %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("Serve did not return")
		}
	})
}

func TestWebSocket_AllowedOrigins(t *testing.T) {
	url, _, _ := startWebSocket(t, newTestEngine(0), WithWebSocketAllowedOrigins("http://app.example"))

	tests := []struct {
		origin string
		ok     bool
	}{
		{"http://app.example", true},
		{"", true},
		{"http://evil.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if conn != nil {
				_ = conn.Close()
			}
			if tt.ok && err != nil {
				t.Fatalf("dial error = %v", err)
			}
			if !tt.ok && (err == nil || resp == nil || resp.StatusCode != http.StatusForbidden) {
				t.Errorf("dial err = %v, want 403", err)
			}
		})
	}
}

func TestCloseCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"close error", &websocket.CloseError{Code: websocket.CloseGoingAway}, websocket.CloseGoingAway},
		{"read limit", websocket.ErrReadLimit, websocket.CloseMessageTooBig},
		{"other", context.Canceled, websocket.CloseAbnormalClosure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := closeCode(tt.err); got != tt.want {
				t.Errorf("closeCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
