package middleware

import (
	"context"
	"errors"

	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// ErrRejected is returned from ProcessRequest to drop a request. The caller
// receives an INVALID_REQUEST error.
var ErrRejected = errors.New("middleware: request rejected")

// Middleware observes and transforms requests before execution and
// responses after it.
//
// ProcessRequest may return a modified request, ErrRejected (or a nil
// request) to reject it, or a *protocol.Error which is sent as-is. Any other
// error is reported as INTERNAL_ERROR.
//
// ProcessResponse runs only for successful calls. Returning an error keeps
// the previous response.
type Middleware interface {
	ProcessRequest(ctx context.Context, req *protocol.Request, conn *protocol.Connection) (*protocol.Request, error)
	ProcessResponse(ctx context.Context, resp *protocol.Response, conn *protocol.Connection) (*protocol.Response, error)
}

// RequestHook is the request phase of a middleware.
type RequestHook func(ctx context.Context, req *protocol.Request, conn *protocol.Connection) (*protocol.Request, error)

// ResponseHook is the response phase of a middleware.
type ResponseHook func(ctx context.Context, resp *protocol.Response, conn *protocol.Connection) (*protocol.Response, error)

// Funcs adapts a pair of hooks to Middleware. A nil hook passes through.
type Funcs struct {
	Request  RequestHook
	Response ResponseHook
}

// ProcessRequest implements Middleware.
func (f Funcs) ProcessRequest(ctx context.Context, req *protocol.Request, conn *protocol.Connection) (*protocol.Request, error) {
	if f.Request == nil {
		return req, nil
	}
	return f.Request(ctx, req, conn)
}

// ProcessResponse implements Middleware.
func (f Funcs) ProcessResponse(ctx context.Context, resp *protocol.Response, conn *protocol.Connection) (*protocol.Response, error) {
	if f.Response == nil {
		return resp, nil
	}
	return f.Response(ctx, resp, conn)
}

// OnRequest returns middleware with only a request phase.
func OnRequest(fn RequestHook) Middleware {
	return Funcs{Request: fn}
}

// OnResponse returns middleware with only a response phase.
func OnResponse(fn ResponseHook) Middleware {
	return Funcs{Response: fn}
}

// DefaultStack returns the recommended production middleware: request
// logging and a per-connection rate limit.
func DefaultStack(logger Logger, rate, burst int) []Middleware {
	return []Middleware{
		Logging(logger),
		RateLimitByConnection(rate, burst, WithRateLimitLogger(logger)),
	}
}
