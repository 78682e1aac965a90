// Package testutil provides helpers for testing services built on the
// dispatch engine.
//
// TestClient drives an engine in memory over one connection, going through
// the same encode and decode steps as a real transport:
//
//	func TestAdd(t *testing.T) {
//	    scope := registry.ScopeOf[calculator](registry.New())
//	    scope.Method("add").MustHandler(add)
//
//	    tc := testutil.NewTestClient(t, dispatch.New(scope))
//	    tc.AssertResult("add", map[string]int{"a": 5, "b": 3}, `8`)
//	}
//
// StdioPipe runs the stdio transport over in-memory pipes.
package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/rpcdispatch/dispatch"
	"github.com/felixgeelhaar/rpcdispatch/internal/jsoncodec"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
	"github.com/felixgeelhaar/rpcdispatch/transport"
)

// ErrNoResponse is returned when a call produced no response.
var ErrNoResponse = errors.New("testutil: no response")

// TestClient sends messages to an engine over a single in-memory connection.
type TestClient struct {
	t      testing.TB
	engine *dispatch.Engine
	conn   *protocol.Connection
	ctx    context.Context
	reqID  atomic.Int64
	once   sync.Once
}

// ClientOption configures a TestClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	id        string
	transport string
	meta      protocol.RequestMeta
	ctx       context.Context
}

// WithTransport sets the transport name of the client's connection.
// Default protocol.TransportMemory.
func WithTransport(name string) ClientOption {
	return func(c *clientConfig) { c.transport = name }
}

// WithMeta sets connection metadata such as an Authorization header.
func WithMeta(meta protocol.RequestMeta) ClientOption {
	return func(c *clientConfig) { c.meta = meta }
}

// WithConnectionID sets the connection id. Default "test".
func WithConnectionID(id string) ClientOption {
	return func(c *clientConfig) { c.id = id }
}

// WithContext sets the context passed to every dispatch.
func WithContext(ctx context.Context) ClientOption {
	return func(c *clientConfig) { c.ctx = ctx }
}

// NewTestClient connects a client to engine. The connection is closed when
// the test ends.
func NewTestClient(t testing.TB, engine *dispatch.Engine, opts ...ClientOption) *TestClient {
	t.Helper()

	cfg := clientConfig{
		id:        "test",
		transport: protocol.TransportMemory,
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	tc := &TestClient{
		t:      t,
		engine: engine,
		conn:   protocol.NewConnection(cfg.id, cfg.transport, cfg.meta),
		ctx:    cfg.ctx,
	}
	engine.Connect(tc.conn)
	t.Cleanup(tc.Close)
	return tc
}

// Connection returns the client's connection.
func (tc *TestClient) Connection() *protocol.Connection {
	return tc.conn
}

// Close disconnects the client with a normal close code. It is safe to
// call more than once.
func (tc *TestClient) Close() {
	tc.once.Do(func() {
		tc.engine.Disconnect(tc.conn, transport.CloseNormal)
	})
}

// Send dispatches a raw frame. It returns ErrNoResponse when the engine
// produced no response.
func (tc *TestClient) Send(frame string) (*protocol.Response, error) {
	tc.t.Helper()

	out := tc.engine.HandleMessage(tc.ctx, tc.conn, []byte(frame))
	if out.Response == nil {
		return nil, ErrNoResponse
	}

	data, err := tc.engine.EncodeResponse(out.Response)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}

	var resp protocol.Response
	if err := jsoncodec.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response %s: %w", data, err)
	}
	return &resp, nil
}

// SendJSON is Send returning the wire text of the response.
func (tc *TestClient) SendJSON(frame string) (string, error) {
	tc.t.Helper()

	out := tc.engine.HandleMessage(tc.ctx, tc.conn, []byte(frame))
	if out.Response == nil {
		return "", ErrNoResponse
	}
	data, err := tc.engine.EncodeResponse(out.Response)
	return string(data), err
}

// Call sends a request with the next numeric id.
func (tc *TestClient) Call(method string, params any) (*protocol.Response, error) {
	tc.t.Helper()
	return tc.CallWithID(tc.nextID(), method, params)
}

// CallWithID sends a request with the given id, which is encoded as JSON.
func (tc *TestClient) CallWithID(id any, method string, params any) (*protocol.Response, error) {
	tc.t.Helper()

	rawID, err := jsoncodec.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("marshal id: %w", err)
	}
	frame, err := envelope(json.RawMessage(rawID), method, params)
	if err != nil {
		return nil, err
	}
	return tc.Send(frame)
}

// CallResult sends a request and decodes its result into out. An error
// response is returned as *protocol.Error.
func (tc *TestClient) CallResult(method string, params, out any) error {
	tc.t.Helper()

	resp, err := tc.Call(method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	raw, _ := resp.Result.(json.RawMessage)
	if out == nil {
		return nil
	}
	return jsoncodec.Unmarshal(raw, out)
}

// Notify sends a notification. Any response is reported as an error.
func (tc *TestClient) Notify(method string, params any) error {
	tc.t.Helper()

	frame, err := envelope(nil, method, params)
	if err != nil {
		return err
	}
	resp, err := tc.Send(frame)
	if errors.Is(err, ErrNoResponse) {
		return nil
	}
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("notification answered with %w", resp.Error)
	}
	return fmt.Errorf("notification answered with result %v", resp.Result)
}

func (tc *TestClient) nextID() int64 {
	return tc.reqID.Add(1)
}

func envelope(id json.RawMessage, method string, params any) (string, error) {
	req := protocol.Request{
		JSONRPC: protocol.Version,
		ID:      id,
		Method:  method,
	}
	if params != nil {
		data, err := jsoncodec.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("marshal params: %w", err)
		}
		req.Params = data
	}
	data, err := jsoncodec.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	return string(data), nil
}

// AssertResult fails the test unless calling method returns exactly the
// JSON text want.
func (tc *TestClient) AssertResult(method string, params any, want string) {
	tc.t.Helper()

	resp, err := tc.Call(method, params)
	if err != nil {
		tc.t.Fatalf("%s: %v", method, err)
	}
	if resp.Error != nil {
		tc.t.Fatalf("%s: unexpected error %v", method, resp.Error)
	}
	got, _ := resp.Result.(json.RawMessage)
	if string(got) != want {
		tc.t.Errorf("%s result = %s, want %s", method, got, want)
	}
}

// AssertErrorCode fails the test unless calling method returns an error
// with the given code. It returns the error for further checks.
func (tc *TestClient) AssertErrorCode(method string, params any, code int) *protocol.Error {
	tc.t.Helper()

	resp, err := tc.Call(method, params)
	if err != nil {
		tc.t.Fatalf("%s: %v", method, err)
	}
	if resp.Error == nil {
		tc.t.Fatalf("%s: expected error %d, got result %s", method, code, resp.Result)
	}
	if resp.Error.Code != code {
		tc.t.Errorf("%s error code = %d, want %d (%s)", method, resp.Error.Code, code, resp.Error.Message)
	}
	return resp.Error
}

// AssertMethodExists fails the test unless the engine describes method.
func (tc *TestClient) AssertMethodExists(name string) {
	tc.t.Helper()

	for _, m := range tc.engine.Describe().Methods {
		if m.Name == name {
			return
		}
	}
	tc.t.Errorf("method %q not registered", name)
}

// StdioPipe runs the stdio transport over in-memory pipes.
type StdioPipe struct {
	in     *io.PipeWriter
	lines  chan string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	once   sync.Once
}

// NewStdioPipe starts serving engine over a pipe. The transport is stopped
// when the test ends.
func NewStdioPipe(t testing.TB, engine *dispatch.Engine) *StdioPipe {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	p := &StdioPipe{
		in:     inW,
		lines:  make(chan string, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(p.lines)
		scanner := bufio.NewScanner(outR)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}
	}()

	stdio := transport.NewStdio(transport.WithStdin(inR), transport.WithStdout(outW))
	go func() {
		p.err = stdio.Serve(ctx, engine)
		_ = outW.Close()
		close(p.done)
	}()

	t.Cleanup(func() { _ = p.Close() })
	return p
}

// Send writes one line.
func (p *StdioPipe) Send(line string) error {
	_, err := io.WriteString(p.in, line+"\n")
	return err
}

// Receive returns the next reply line, failing after timeout.
func (p *StdioPipe) Receive(timeout time.Duration) (string, error) {
	select {
	case line, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-time.After(timeout):
		return "", fmt.Errorf("testutil: no reply within %s", timeout)
	}
}

// Close ends the input stream and waits for the transport to stop.
func (p *StdioPipe) Close() error {
	p.once.Do(func() {
		_ = p.in.Close()
		select {
		case <-p.done:
		case <-time.After(time.Second):
			p.cancel()
			<-p.done
		}
		p.cancel()
	})
	return p.err
}
