package middleware

import (
	"context"
	"errors"

	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// Chain is an ordered list of middleware. Request hooks run in order,
// response hooks in reverse order.
type Chain struct {
	middlewares []Middleware
	logger      Logger
}

// Use creates a new middleware chain starting with the given middleware.
func Use(middlewares ...Middleware) *Chain {
	return &Chain{
		middlewares: middlewares,
		logger:      NopLogger{},
	}
}

// Append adds middleware to the chain and returns the updated chain.
func (c *Chain) Append(middlewares ...Middleware) *Chain {
	c.middlewares = append(c.middlewares, middlewares...)
	return c
}

// WithLogger sets the logger used to report failing hooks.
func (c *Chain) WithLogger(l Logger) *Chain {
	if l != nil {
		c.logger = l
	}
	return c
}

// Len returns the number of middleware in the chain.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.middlewares)
}

// ProcessRequest runs every request hook in order and stops at the first
// failure.
func (c *Chain) ProcessRequest(ctx context.Context, req *protocol.Request, conn *protocol.Connection) (*protocol.Request, *protocol.Error) {
	if c == nil {
		return req, nil
	}

	for i, mw := range c.middlewares {
		next, err := safeRequest(mw, ctx, req, conn)
		if err != nil {
			var rpcErr *protocol.Error
			var panicErr *PanicError
			switch {
			case errors.Is(err, ErrRejected):
				c.logger.Debug("request rejected by middleware",
					F("method", req.Method), F("index", i))
				return nil, protocol.NewInvalidRequest("Request rejected by middleware")
			case errors.As(err, &rpcErr):
				return nil, rpcErr
			case errors.As(err, &panicErr):
				c.logger.Error("middleware panicked",
					F("method", req.Method), F("index", i), F("error", panicErr.Error()), F("stack", string(panicErr.Stack)))
				return nil, protocol.NewInternalError()
			default:
				c.logger.Error("middleware failed",
					F("method", req.Method), F("index", i), F("error", err.Error()))
				return nil, protocol.NewInternalError()
			}
		}
		if next == nil {
			c.logger.Debug("request rejected by middleware",
				F("method", req.Method), F("index", i))
			return nil, protocol.NewInvalidRequest("Request rejected by middleware")
		}
		req = next
	}
	return req, nil
}

// ProcessResponse runs every response hook in reverse order. A failing hook
// is logged and the response it received is kept.
func (c *Chain) ProcessResponse(ctx context.Context, resp *protocol.Response, conn *protocol.Connection) *protocol.Response {
	if c == nil {
		return resp
	}

	for i := len(c.middlewares) - 1; i >= 0; i-- {
		next, err := safeResponse(c.middlewares[i], ctx, resp, conn)
		if err != nil {
			c.logger.Error("response middleware failed",
				F("index", i), F("error", err.Error()))
			continue
		}
		if next != nil {
			resp = next
		}
	}
	return resp
}
