package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/rpcdispatch/dispatch"
	"github.com/felixgeelhaar/rpcdispatch/limits"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
	"github.com/felixgeelhaar/rpcdispatch/registry"
)

type calculator struct{}

type addParams struct {
	A int `json:"a"`
	B int `json:"b"`
}

type sleepParams struct {
	Millis int `json:"millis"`
}

type disconnect struct {
	transport string
	code      int
}

// lifecycle records connection events.
type lifecycle struct {
	mu          sync.Mutex
	connected   []string
	disconnects chan disconnect
}

func newLifecycle() *lifecycle {
	return &lifecycle{disconnects: make(chan disconnect, 16)}
}

func (l *lifecycle) hooks() dispatch.Hooks {
	return dispatch.Hooks{
		OnClientConnected: func(conn *protocol.Connection) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.connected = append(l.connected, conn.Transport())
		},
		OnClientDisconnected: func(conn *protocol.Connection, _ time.Duration, code int) {
			l.disconnects <- disconnect{transport: conn.Transport(), code: code}
		},
	}
}

func (l *lifecycle) waitDisconnect(t *testing.T) disconnect {
	t.Helper()
	select {
	case d := <-l.disconnects:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect event")
		return disconnect{}
	}
}

func newTestEngine(maxMessageSize int, opts ...dispatch.Option) *dispatch.Engine {
	scope := registry.ScopeOf[calculator](registry.New())
	scope.Method("add").MustHandler(func(p addParams) (int, error) { return p.A + p.B, nil })
	scope.Method("sleep").MustHandler(func(ctx context.Context, p sleepParams) (string, error) {
		select {
		case <-time.After(time.Duration(p.Millis) * time.Millisecond):
			return "awake", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	scope.Method("ws_only").DisableTransport(protocol.TransportHTTP).MustHandler(func() (string, error) { return "ok", nil })
	scope.Notification("log").MustHandler(func() error { return nil })

	cfg := limits.DefaultConfig()
	if maxMessageSize > 0 {
		cfg.MaxMessageSizeBytes = maxMessageSize
	}
	return dispatch.New(scope, append([]dispatch.Option{dispatch.WithLimits(cfg)}, opts...)...)
}

// waitAddr polls until a transport reports its listen address.
func waitAddr(t *testing.T, addr func() string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a := addr(); a != "" {
			return a
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("transport did not start listening")
	return ""
}
