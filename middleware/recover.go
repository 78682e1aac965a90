package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// PanicError carries a recovered panic value out of a hook.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	switch v := e.Value.(type) {
	case error:
		return fmt.Sprintf("panic: %v", v)
	case string:
		return fmt.Sprintf("panic: %s", v)
	default:
		return fmt.Sprintf("panic: %v", v)
	}
}

// safeRequest runs a request hook, converting a panic into a *PanicError.
func safeRequest(mw Middleware, ctx context.Context, req *protocol.Request, conn *protocol.Connection) (next *protocol.Request, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return mw.ProcessRequest(ctx, req, conn)
}

// safeResponse runs a response hook, converting a panic into a *PanicError.
func safeResponse(mw Middleware, ctx context.Context, resp *protocol.Response, conn *protocol.Connection) (next *protocol.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return mw.ProcessResponse(ctx, resp, conn)
}
