// Package e2e runs JSON-RPC 2.0 compliance checks against every transport.
package e2e

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/rpcdispatch/dispatch"
	"github.com/felixgeelhaar/rpcdispatch/limits"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
	"github.com/felixgeelhaar/rpcdispatch/registry"
	"github.com/felixgeelhaar/rpcdispatch/testutil"
	"github.com/felixgeelhaar/rpcdispatch/transport"
)

type calculator struct{}

type pair struct {
	A int `json:"a"`
	B int `json:"b"`
}

type values struct {
	Values []int `json:"values"`
}

func sleeper(d time.Duration) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		select {
		case <-time.After(d):
			return "awake", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func newEngine(opts ...dispatch.Option) *dispatch.Engine {
	scope := registry.ScopeOf[calculator](registry.New())
	scope.Method("add").MustHandler(func(p pair) (int, error) { return p.A + p.B, nil })
	scope.Method("sum").MustHandler(func(p values) (int, error) {
		total := 0
		for _, v := range p.Values {
			total += v
		}
		return total, nil
	})
	scope.Method("fail").MustHandler(func() (int, error) { return 0, errors.New("secret detail") })
	scope.Method("slow").Timeout(100 * time.Millisecond).MustHandler(sleeper(500 * time.Millisecond))
	scope.Method("nap").Timeout(0).MustHandler(sleeper(50 * time.Millisecond))
	scope.Notification("log").MustHandler(func() error { return nil })

	cfg := limits.DefaultConfig()
	cfg.MaxArrayLength = 3
	return dispatch.New(scope, append([]dispatch.Option{dispatch.WithLimits(cfg)}, opts...)...)
}

// peer exchanges one frame with a served engine. replied is false when the
// frame produced no reply.
type peer interface {
	exchange(t *testing.T, frame string) (reply string, replied bool)
}

type memoryPeer struct {
	tc *testutil.TestClient
}

func (p *memoryPeer) exchange(t *testing.T, frame string) (string, bool) {
	t.Helper()
	reply, err := p.tc.SendJSON(frame)
	if errors.Is(err, testutil.ErrNoResponse) {
		return "", false
	}
	if err != nil {
		t.Fatalf("SendJSON() error = %v", err)
	}
	return reply, true
}

type httpPeer struct {
	url string
}

func (p *httpPeer) exchange(t *testing.T, frame string) (string, bool) {
	t.Helper()
	resp, err := http.Post(p.url, protocol.ContentType, strings.NewReader(frame))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body error = %v", err)
	}
	if resp.StatusCode == http.StatusNoContent {
		return "", false
	}
	return string(body), true
}

// streamPeer serves a connection-oriented transport. After each frame a
// probe call is sent; a frame without a reply is detected when the probe's
// reply arrives first.
type streamPeer struct {
	write  func(frame string) error
	read   func() (string, error)
	probes int
}

func (p *streamPeer) exchange(t *testing.T, frame string) (string, bool) {
	t.Helper()
	p.probes++
	probe := fmt.Sprintf(`{"jsonrpc":"2.0","method":"add","params":[0,0],"id":"probe-%d"}`, p.probes)
	probeReply := fmt.Sprintf(`{"jsonrpc":"2.0","id":"probe-%d","result":0}`, p.probes)

	if err := p.write(frame); err != nil {
		t.Fatalf("write error = %v", err)
	}
	if err := p.write(probe); err != nil {
		t.Fatalf("write probe error = %v", err)
	}

	first, err := p.read()
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	if first == probeReply {
		return "", false
	}
	if second, err := p.read(); err != nil || second != probeReply {
		t.Fatalf("probe reply = %q, %v", second, err)
	}
	return first, true
}

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

func serve(t *testing.T, engine *dispatch.Engine, tr transport.Transport) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = tr.Serve(ctx, engine)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func newPeers(t *testing.T) map[string]peer {
	t.Helper()
	peers := map[string]peer{
		"memory": &memoryPeer{tc: testutil.NewTestClient(t, newEngine())},
	}

	h := transport.NewHTTP("127.0.0.1:0")
	serve(t, newEngine(), h)
	peers["http"] = &httpPeer{url: "http://" + waitAddr(t, h.ListenAddr) + "/rpc"}

	ws := transport.NewWebSocket("127.0.0.1:0", transport.WithWebSocketShutdown(transport.ShutdownConfig{Timeout: time.Second}))
	serve(t, newEngine(), ws)
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+waitAddr(t, ws.ListenAddr)+"/", nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	peers["websocket"] = &streamPeer{
		write: func(frame string) error { return conn.WriteMessage(websocket.TextMessage, []byte(frame)) },
		read: func() (string, error) {
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, data, err := conn.ReadMessage()
			return string(data), err
		},
	}

	pipe := testutil.NewStdioPipe(t, newEngine())
	peers["stdio"] = &streamPeer{
		write: pipe.Send,
		read:  func() (string, error) { return pipe.Receive(2 * time.Second) },
	}
	return peers
}

func TestCompliance(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		// want is the exact reply; wantPrefix is used when the tail varies.
		want       string
		wantPrefix string
		noReply    bool
	}{
		{
			name:  "call with named params",
			frame: `{"jsonrpc":"2.0","method":"add","params":{"a":5,"b":3},"id":1}`,
			want:  `{"jsonrpc":"2.0","id":1,"result":8}`,
		},
		{
			name:  "call with positional params",
			frame: `{"jsonrpc":"2.0","method":"add","params":[5,3],"id":"two"}`,
			want:  `{"jsonrpc":"2.0","id":"two","result":8}`,
		},
		{
			name:  "null id is echoed",
			frame: `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":null}`,
			want:  `{"jsonrpc":"2.0","id":null,"result":3}`,
		},
		{
			name:  "wrong version",
			frame: `{"jsonrpc":"1.0","method":"add","params":[1,2],"id":3}`,
			want:  `{"jsonrpc":"2.0","id":3,"error":{"code":-32600,"message":"Invalid Request: Invalid JSON-RPC version '1.0', expected '2.0'"}}`,
		},
		{
			name:  "unknown method",
			frame: `{"jsonrpc":"2.0","method":"ghost","id":4}`,
			want:  `{"jsonrpc":"2.0","id":4,"error":{"code":-32601,"message":"Method Not Found: 'ghost'"}}`,
		},
		{
			name:  "parse error",
			frame: `{"jsonrpc":"2.0","method":`,
			want:  `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse Error"}}`,
		},
		{
			name:       "empty object",
			frame:      `{}`,
			wantPrefix: `{"jsonrpc":"2.0","id":null,"error":{"code":-32600,`,
		},
		{
			name:       "scalar params",
			frame:      `{"jsonrpc":"2.0","method":"add","params":5,"id":5}`,
			wantPrefix: `{"jsonrpc":"2.0","id":5,"error":{"code":-32602,`,
		},
		{
			name:  "array at the limit",
			frame: `{"jsonrpc":"2.0","method":"sum","params":{"values":[1,2,3]},"id":6}`,
			want:  `{"jsonrpc":"2.0","id":6,"result":6}`,
		},
		{
			name:       "array over the limit",
			frame:      `{"jsonrpc":"2.0","method":"sum","params":{"values":[1,2,3,4]},"id":7}`,
			wantPrefix: `{"jsonrpc":"2.0","id":7,"error":{"code":-32001,`,
		},
		{
			name:  "application error is sanitized",
			frame: `{"jsonrpc":"2.0","method":"fail","id":8}`,
			want:  `{"jsonrpc":"2.0","id":8,"error":{"code":-32000,"message":"Application Error"}}`,
		},
		{
			name:  "timeout",
			frame: `{"jsonrpc":"2.0","method":"slow","id":9}`,
			want:  `{"jsonrpc":"2.0","id":9,"error":{"code":-32603,"message":"Internal Error: Method 'slow' timed out after 0.1 seconds","data":{"timeout":0.1}}}`,
		},
		{
			name:  "no deadline",
			frame: `{"jsonrpc":"2.0","method":"nap","id":10}`,
			want:  `{"jsonrpc":"2.0","id":10,"result":"awake"}`,
		},
		{
			name:    "notification",
			frame:   `{"jsonrpc":"2.0","method":"log"}`,
			noReply: true,
		},
		{
			name:    "notification to unknown method",
			frame:   `{"jsonrpc":"2.0","method":"ghost"}`,
			noReply: true,
		},
		{
			name:    "response passthrough",
			frame:   `{"jsonrpc":"2.0","id":11,"result":true}`,
			noReply: true,
		},
	}

	for name, p := range newPeers(t) {
		t.Run(name, func(t *testing.T) {
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					reply, replied := p.exchange(t, tt.frame)
					switch {
					case tt.noReply:
						if replied {
							t.Errorf("reply = %s, want none", reply)
						}
					case !replied:
						t.Errorf("no reply, want %s%s", tt.want, tt.wantPrefix)
					case tt.wantPrefix != "":
						if !strings.HasPrefix(reply, tt.wantPrefix) {
							t.Errorf("reply = %s, want prefix %s", reply, tt.wantPrefix)
						}
					case reply != tt.want:
						t.Errorf("reply = %s, want %s", reply, tt.want)
					}
				})
			}
		})
	}
}

func TestReplayGuard(t *testing.T) {
	now := time.Unix(1700000000, 0)
	engine := newEngine(
		dispatch.WithReplayCooldown(10*time.Second),
		dispatch.WithClock(func() time.Time { return now }),
	)
	tc := testutil.NewTestClient(t, engine)
	other := testutil.NewTestClient(t, engine, testutil.WithConnectionID("other"))

	steps := []struct {
		name     string
		client   *testutil.TestClient
		advance  time.Duration
		wantCode int
	}{
		{name: "first use", client: tc},
		{name: "replay within cooldown", client: tc, advance: 5 * time.Second, wantCode: protocol.CodeInvalidRequest},
		{name: "other connection", client: other},
		{name: "after cooldown", client: tc, advance: 6 * time.Second},
	}

	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			now = now.Add(step.advance)
			resp, err := step.client.CallWithID(42, "add", []int{1, 1})
			if err != nil {
				t.Fatalf("CallWithID() error = %v", err)
			}
			switch {
			case step.wantCode == 0 && resp.Error != nil:
				t.Errorf("error = %v, want result", resp.Error)
			case step.wantCode != 0 && (resp.Error == nil || resp.Error.Code != step.wantCode):
				t.Errorf("response = %+v, want error %d", resp, step.wantCode)
			}
		})
	}
}
