// Package client calls methods on a remote JSON-RPC 2.0 server.
//
// A Client numbers its calls and hands them to a Transport, which
// correlates replies by id:
//
//	tr, err := client.DialWebSocket(ctx, "ws://localhost:8080/", nil)
//	if err != nil {
//	    return err
//	}
//	c := client.New(tr, client.WithTimeout(5*time.Second))
//	defer c.Close()
//
//	var sum int
//	err = c.Call(ctx, "add", map[string]int{"a": 5, "b": 3}, &sum)
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/rpcdispatch/internal/jsoncodec"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// ErrClosed is returned by calls on a closed transport.
var ErrClosed = errors.New("client: transport closed")

// Transport carries requests to a server.
type Transport interface {
	// Send sends a request and waits for its response.
	Send(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
	// Notify sends a request that expects no response.
	Notify(ctx context.Context, req *protocol.Request) error
	// Close closes the connection.
	Close() error
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	timeout time.Duration
}

// WithTimeout sets the default timeout for calls. Zero waits until the
// caller's context ends.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// Client calls methods through a Transport.
type Client struct {
	transport Transport
	opts      clientOptions
	requestID atomic.Int64
}

// New creates a client using transport.
func New(transport Transport, opts ...Option) *Client {
	options := clientOptions{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&options)
	}
	return &Client{transport: transport, opts: options}
}

// Call invokes method and decodes its result into result, which may be nil.
// An error response is returned as *protocol.Error.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	raw, err := c.CallRaw(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := jsoncodec.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// CallRaw invokes method and returns the undecoded result.
func (c *Client) CallRaw(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id, err := jsoncodec.Marshal(c.requestID.Add(1))
	if err != nil {
		return nil, fmt.Errorf("marshal request ID: %w", err)
	}
	req, err := newRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	if c.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.timeout)
		defer cancel()
	}

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resultOf(resp)
}

// Notify sends a notification.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	req, err := newRequest(nil, method, params)
	if err != nil {
		return err
	}
	return c.transport.Notify(ctx, req)
}

// Close closes the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

func newRequest(id json.RawMessage, method string, params any) (*protocol.Request, error) {
	req := &protocol.Request{
		JSONRPC: protocol.Version,
		ID:      id,
		Method:  method,
	}
	if params != nil {
		raw, err := jsoncodec.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}
	return req, nil
}

// resultOf returns the raw result of a decoded response.
func resultOf(resp *protocol.Response) (json.RawMessage, error) {
	switch v := resp.Result.(type) {
	case json.RawMessage:
		return v, nil
	case nil:
		return json.RawMessage("null"), nil
	default:
		return jsoncodec.Marshal(v)
	}
}

// decodeResponse parses one reply frame.
func decodeResponse(data []byte) (*protocol.Response, error) {
	var resp protocol.Response
	if err := jsoncodec.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}
