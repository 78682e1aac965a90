// Package rpcdispatch is a JSON-RPC 2.0 request dispatch engine.
//
// Methods are registered on a scope with typed Go handlers; an engine
// validates inbound envelopes, enforces size and shape limits, runs the
// middleware chain, supervises the call with a deadline and builds the
// response. Transports feed frames to the engine.
//
// Basic usage:
//
//	type calculator struct{}
//
//	scope := rpcdispatch.ScopeOf[calculator](rpcdispatch.NewRegistry())
//	scope.Method("add").
//	    Description("Add two integers").
//	    MustHandler(func(p struct{ A, B int }) (int, error) {
//	        return p.A + p.B, nil
//	    })
//
//	engine := rpcdispatch.NewEngine(scope)
//	rpcdispatch.ServeWebSocket(ctx, engine, ":8080")
package rpcdispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/felixgeelhaar/rpcdispatch/config"
	"github.com/felixgeelhaar/rpcdispatch/dispatch"
	"github.com/felixgeelhaar/rpcdispatch/middleware"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
	"github.com/felixgeelhaar/rpcdispatch/registry"
	"github.com/felixgeelhaar/rpcdispatch/transport"
)

// Re-export core types for convenience.

type Engine = dispatch.Engine
type Option = dispatch.Option
type Listener = dispatch.Listener
type Hooks = dispatch.Hooks
type CallInfo = dispatch.CallInfo

type Registry = registry.Registry
type Scope = registry.Scope
type APIDescription = registry.APIDescription

type ExecutionContext = protocol.ExecutionContext
type Connection = protocol.Connection
type Error = protocol.Error

type Middleware = middleware.Middleware
type Logger = middleware.Logger
type Field = middleware.Field
type Identity = middleware.Identity
type NopLogger = middleware.NopLogger

type HTTPOption = transport.HTTPOption
type WebSocketOption = transport.WebSocketOption

// NewRegistry creates an empty method registry.
func NewRegistry() *Registry {
	return registry.New()
}

// ScopeOf returns the scope of methods owned by T in reg.
func ScopeOf[T any](reg *Registry) *Scope {
	return registry.ScopeOf[T](reg)
}

// NewEngine creates an engine dispatching to scope.
func NewEngine(scope *Scope, opts ...Option) *Engine {
	return dispatch.New(scope, opts...)
}

// FromConfig builds an engine from cfg: limits, timeouts, replay guard
// and error sanitizing, plus the middleware stack cfg enables (request
// logging, per-connection rate limit and OIDC bearer authentication).
// Extra options are applied last.
func FromConfig(ctx context.Context, cfg *config.Config, scope *Scope, logger Logger, extra ...Option) (*Engine, error) {
	if logger == nil {
		logger = middleware.NopLogger{}
	}

	stack := []Middleware{middleware.Logging(logger, middleware.LogParams(cfg.LogRPCParams))}
	if cfg.RateLimit.Rate > 0 {
		stack = append(stack, middleware.RateLimitByConnection(cfg.RateLimit.Rate, cfg.RateLimit.Burst,
			middleware.WithRateLimitLogger(logger)))
	}
	if cfg.OIDC.Issuer != "" {
		verifier, err := middleware.NewOIDCVerifier(ctx, cfg.OIDC.Issuer, cfg.OIDC.ClientID)
		if err != nil {
			return nil, fmt.Errorf("oidc: %w", err)
		}
		stack = append(stack, middleware.Auth(middleware.OIDCAuthenticator(verifier),
			middleware.WithAuthLogger(logger)))
	}

	opts := append(cfg.EngineOptions(),
		dispatch.WithLogger(logger),
		dispatch.WithMiddleware(stack...),
	)
	return dispatch.New(scope, append(opts, extra...)...), nil
}

// WithLogger sets the engine logger.
func WithLogger(l Logger) Option {
	return dispatch.WithLogger(l)
}

// WithHooks registers lifecycle callbacks.
func WithHooks(h Hooks) Option {
	return dispatch.WithHooks(h)
}

// WithListener registers a lifecycle listener such as a metrics exporter.
func WithListener(l Listener) Option {
	return dispatch.WithListener(l)
}

// WithReplayCooldown sets the window in which a repeated request id on one
// connection is rejected. Zero disables the replay guard.
func WithReplayCooldown(d time.Duration) Option {
	return dispatch.WithReplayCooldown(d)
}

// WithMiddleware appends middleware to the engine's chain.
func WithMiddleware(m ...Middleware) Option {
	return dispatch.WithMiddleware(m...)
}

// ServeStdio runs the engine over stdin/stdout until EOF or ctx is canceled.
func ServeStdio(ctx context.Context, engine *Engine) error {
	return transport.NewStdio().Serve(ctx, engine)
}

// ServeHTTP runs the engine behind POST /rpc until ctx is canceled.
func ServeHTTP(ctx context.Context, engine *Engine, addr string, opts ...HTTPOption) error {
	return transport.NewHTTP(addr, opts...).Serve(ctx, engine)
}

// ServeWebSocket runs the engine over WebSocket until ctx is canceled.
func ServeWebSocket(ctx context.Context, engine *Engine, addr string, opts ...WebSocketOption) error {
	return transport.NewWebSocket(addr, opts...).Serve(ctx, engine)
}

// ServePubSub consumes inbound and publishes replies to outbound until ctx
// is canceled.
func ServePubSub(ctx context.Context, engine *Engine, pub message.Publisher, sub message.Subscriber, inbound, outbound string) error {
	return transport.NewPubSub(pub, sub, inbound, outbound).Serve(ctx, engine)
}

// Middleware re-exports.

// Logging logs every request and response.
func Logging(logger Logger, opts ...middleware.LoggingOption) Middleware {
	return middleware.Logging(logger, opts...)
}

// RateLimitByConnection limits requests per connection with a token bucket.
func RateLimitByConnection(rate, burst int) Middleware {
	return middleware.RateLimitByConnection(rate, burst)
}

// PrivateMethods hides methods whose name starts with prefix.
func PrivateMethods(prefix string) Middleware {
	return middleware.PrivateMethods(prefix)
}

// F creates a log field.
func F(key string, value any) Field {
	return middleware.F(key, value)
}
