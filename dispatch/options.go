package dispatch

import (
	"context"
	"time"

	"github.com/felixgeelhaar/rpcdispatch/limits"
	"github.com/felixgeelhaar/rpcdispatch/middleware"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// ResponseHandler receives inbound response envelopes, which the engine
// never answers.
type ResponseHandler func(ctx context.Context, conn *protocol.Connection, msg *protocol.Message)

// Option configures an Engine.
type Option func(*Engine)

// WithLimits sets the limits enforced on every message.
func WithLimits(cfg limits.Config) Option {
	return func(e *Engine) {
		e.guard = limits.NewGuard(cfg)
	}
}

// WithGuard shares an existing limits guard, typically with a transport.
func WithGuard(g *limits.Guard) Option {
	return func(e *Engine) {
		if g != nil {
			e.guard = g
		}
	}
}

// WithMiddleware appends middleware to the engine's chain.
func WithMiddleware(m ...middleware.Middleware) Option {
	return func(e *Engine) {
		e.middlewares = append(e.middlewares, m...)
	}
}

// WithChain replaces the middleware chain. Middleware added with
// WithMiddleware is appended to it.
func WithChain(c *middleware.Chain) Option {
	return func(e *Engine) {
		e.chain = c
	}
}

// WithLogger sets the logger for dispatch diagnostics.
func WithLogger(l middleware.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithListener adds a lifecycle listener.
func WithListener(l Listener) Option {
	return func(e *Engine) {
		if l != nil {
			e.listeners = append(e.listeners, l)
		}
	}
}

// WithHooks adds lifecycle callbacks.
func WithHooks(h Hooks) Option {
	return WithListener(h)
}

// WithDefaultTimeout sets the deadline for methods registered without one.
// A value <= 0 lets such methods run unbounded.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.defaultTimeout = d
	}
}

// WithReplayCooldown sets how long a call id stays reserved on a connection.
// A value <= 0 disables the replay guard.
func WithReplayCooldown(d time.Duration) Option {
	return func(e *Engine) {
		e.replayCooldown = d
	}
}

// WithReplayPruneThreshold sets the number of remembered ids above which
// expired entries are pruned.
func WithReplayPruneThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.replayPrune = n
		}
	}
}

// WithSanitizeErrors controls whether application error messages are
// replaced by the generic "Application Error". Enabled by default.
func WithSanitizeErrors(enabled bool) Option {
	return func(e *Engine) {
		e.sanitize = enabled
	}
}

// WithResponseHandler sets the collaborator receiving inbound responses.
func WithResponseHandler(h ResponseHandler) Option {
	return func(e *Engine) {
		e.onResponse = h
	}
}

// WithClock overrides the time source used for replay tracking and durations.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
