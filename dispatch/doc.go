// Package dispatch implements the JSON-RPC 2.0 dispatch pipeline.
//
// An Engine takes one decoded envelope at a time and moves it through
// classification, validation, the limits guard, the replay guard, method
// lookup, the request phase of the middleware chain, deadline-bounded
// execution and the response phase of the chain:
//
//	reg := registry.New()
//	scope := registry.ScopeOf[Calculator](reg)
//	scope.Method("add").MustHandler(func(p AddParams) (int, error) {
//	    return p.A + p.B, nil
//	})
//
//	engine := dispatch.New(scope,
//	    dispatch.WithLogger(logger),
//	    dispatch.WithMiddleware(middleware.Logging(logger)),
//	)
//
//	out := engine.HandleMessage(ctx, conn, frame)
//	if out.Response != nil {
//	    data, _ := engine.EncodeResponse(out.Response)
//	    send(data)
//	}
//
// Calls produce exactly one response, notifications none. Errors are
// converted at this boundary: protocol errors pass through, application
// errors become GENERIC_APPLICATION_ERROR, panics become INTERNAL_ERROR and
// expired deadlines become the timeout flavored INTERNAL_ERROR.
package dispatch
