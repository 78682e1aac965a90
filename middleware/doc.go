// Package middleware provides request/response hooks for the dispatch engine.
//
// A Middleware has two phases. ProcessRequest runs before the method, in
// registration order, and may rewrite or reject the request. ProcessResponse
// runs after a successful call, in reverse order:
//
//	chain := middleware.Use(
//	    middleware.Logging(logger, middleware.LogParams(false)),
//	    middleware.Auth(middleware.BearerTokenAuthenticator(validate)),
//	    middleware.PrivateMethods("_"),
//	    middleware.RateLimitByConnection(100, 20),
//	)
//
// # Available Middleware
//
//   - Logging: logs requests and responses through a Logger
//   - Auth: authenticates with API keys, bearer tokens or OIDC ID tokens
//   - Permit: authorizes each method against the connection identity
//   - PrivateMethods: hides methods by name prefix
//   - RateLimit, RateLimitByMethod, RateLimitByConnection: token buckets
//
// Authentication and authorization failures answer METHOD_NOT_FOUND so
// callers cannot probe for methods they may not use.
//
// # Custom Middleware
//
// Implement the interface, or adapt plain functions with OnRequest,
// OnResponse or Funcs:
//
//	stamp := middleware.OnResponse(func(ctx context.Context, resp *protocol.Response, conn *protocol.Connection) (*protocol.Response, error) {
//	    return resp, nil
//	})
//
// Returning ErrRejected drops the request with INVALID_REQUEST. A returned
// *protocol.Error is sent unchanged; any other error or panic becomes
// INTERNAL_ERROR and is logged.
package middleware
