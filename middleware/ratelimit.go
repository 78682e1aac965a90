package middleware

import (
	"context"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"

	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// RateLimitOption configures the rate limiter.
type RateLimitOption func(*rateLimitConfig)

type rateLimitConfig struct {
	keyFunc func(*protocol.Request, *protocol.Connection) string
	logger  Logger
}

// WithRateLimitKeyFunc sets a function to extract a rate limit key from requests.
// This allows per-client or per-method rate limiting.
func WithRateLimitKeyFunc(fn func(*protocol.Request, *protocol.Connection) string) RateLimitOption {
	return func(o *rateLimitConfig) {
		o.keyFunc = fn
	}
}

// WithRateLimitLogger sets the logger for rate limit events.
func WithRateLimitLogger(l Logger) RateLimitOption {
	return func(o *rateLimitConfig) {
		o.logger = l
	}
}

type rateLimitMiddleware struct {
	allow func(ctx context.Context, key string) bool
	cfg   *rateLimitConfig
}

// RateLimit returns middleware that limits request rate using a token bucket algorithm.
// The rate is specified as requests per second.
// Burst allows short bursts above the rate limit.
func RateLimit(rate int, burst int, opts ...RateLimitOption) Middleware {
	cfg := &rateLimitConfig{
		keyFunc: func(*protocol.Request, *protocol.Connection) string { return "global" },
		logger:  NopLogger{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	limiter := ratelimit.New(&ratelimit.Config{
		Rate:     rate,
		Burst:    burst,
		Interval: time.Second,
	})
	return &rateLimitMiddleware{allow: limiter.Allow, cfg: cfg}
}

func (m *rateLimitMiddleware) ProcessRequest(ctx context.Context, req *protocol.Request, conn *protocol.Connection) (*protocol.Request, error) {
	key := m.cfg.keyFunc(req, conn)
	if !m.allow(ctx, key) {
		m.cfg.logger.Warn("rate limit exceeded",
			F("method", req.Method),
			F("key", key),
		)
		return nil, protocol.NewRateLimited()
	}
	return req, nil
}

func (m *rateLimitMiddleware) ProcessResponse(_ context.Context, resp *protocol.Response, _ *protocol.Connection) (*protocol.Response, error) {
	return resp, nil
}

// RateLimitByMethod returns rate limiting middleware that applies per-method limits.
func RateLimitByMethod(rate int, burst int, opts ...RateLimitOption) Middleware {
	allOpts := append([]RateLimitOption{
		WithRateLimitKeyFunc(func(req *protocol.Request, _ *protocol.Connection) string {
			return req.Method
		}),
	}, opts...)
	return RateLimit(rate, burst, allOpts...)
}

// RateLimitByConnection returns rate limiting middleware that applies a
// separate budget to each connection.
func RateLimitByConnection(rate int, burst int, opts ...RateLimitOption) Middleware {
	allOpts := append([]RateLimitOption{
		WithRateLimitKeyFunc(func(_ *protocol.Request, conn *protocol.Connection) string {
			if conn == nil {
				return "anonymous"
			}
			return conn.ID()
		}),
	}, opts...)
	return RateLimit(rate, burst, allOpts...)
}
