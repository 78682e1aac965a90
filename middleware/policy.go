package middleware

import (
	"context"
	"strings"

	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// Permit returns middleware that authorizes each request with allow.
// Denied requests get METHOD_NOT_FOUND.
func Permit(allow func(identity *Identity, method string) bool) Middleware {
	return OnRequest(func(_ context.Context, req *protocol.Request, conn *protocol.Connection) (*protocol.Request, error) {
		if !allow(IdentityOf(conn), req.Method) {
			return nil, protocol.NewMethodNotFound(req.Method)
		}
		return req, nil
	})
}

// PrivateMethods hides every method whose name starts with prefix.
func PrivateMethods(prefix string) Middleware {
	return OnRequest(func(_ context.Context, req *protocol.Request, _ *protocol.Connection) (*protocol.Request, error) {
		if prefix != "" && strings.HasPrefix(req.Method, prefix) {
			return nil, protocol.NewMethodNotFound(req.Method)
		}
		return req, nil
	})
}
