package middleware

import (
	"context"
	"strings"

	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// Identity represents an authenticated identity.
type Identity struct {
	// ID is a unique identifier for the identity (e.g., user ID, API key ID).
	ID string
	// Name is a human-readable name for the identity.
	Name string
	// Metadata contains additional identity information.
	Metadata map[string]any
}

// identityKey is the connection attribute key for the identity.
type identityKey struct{}

// IdentityOf returns the identity authenticated on conn, or nil.
func IdentityOf(conn *protocol.Connection) *Identity {
	if conn == nil {
		return nil
	}
	id, _ := conn.Value(identityKey{}).(*Identity)
	return id
}

// SetIdentity attaches an identity to conn, e.g. after a transport handshake.
func SetIdentity(conn *protocol.Connection, identity *Identity) {
	conn.SetValue(identityKey{}, identity)
}

// AuthOption configures the authentication middleware.
type AuthOption func(*authConfig)

type authConfig struct {
	logger      Logger
	skipMethods map[string]bool
	perRequest  bool
}

// WithAuthLogger sets the logger for auth events.
func WithAuthLogger(l Logger) AuthOption {
	return func(c *authConfig) {
		c.logger = l
	}
}

// WithAuthSkipMethods specifies methods that don't require authentication.
func WithAuthSkipMethods(methods ...string) AuthOption {
	return func(c *authConfig) {
		for _, m := range methods {
			c.skipMethods[m] = true
		}
	}
}

// WithAuthPerRequest authenticates every request instead of reusing the
// identity stored on the connection.
func WithAuthPerRequest() AuthOption {
	return func(c *authConfig) {
		c.perRequest = true
	}
}

// Authenticator validates credentials and returns an identity. It returns a
// nil identity when no credentials were presented.
type Authenticator func(ctx context.Context, req *protocol.Request, conn *protocol.Connection) (*Identity, error)

type authMiddleware struct {
	authenticator Authenticator
	cfg           *authConfig
}

// Auth returns middleware that authenticates requests. Unauthenticated calls
// are answered with METHOD_NOT_FOUND so that the method surface is not
// revealed.
func Auth(authenticator Authenticator, opts ...AuthOption) Middleware {
	cfg := &authConfig{
		logger:      NopLogger{},
		skipMethods: map[string]bool{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &authMiddleware{authenticator: authenticator, cfg: cfg}
}

func (m *authMiddleware) ProcessRequest(ctx context.Context, req *protocol.Request, conn *protocol.Connection) (*protocol.Request, error) {
	if m.cfg.skipMethods[req.Method] {
		return req, nil
	}
	if !m.cfg.perRequest && IdentityOf(conn) != nil {
		return req, nil
	}

	identity, err := m.authenticator(ctx, req, conn)
	if err != nil {
		m.cfg.logger.Warn("authentication failed",
			F("method", req.Method),
			F("error", err.Error()),
		)
		return nil, protocol.NewMethodNotFound(req.Method)
	}
	if identity == nil {
		m.cfg.logger.Warn("authentication failed: no identity",
			F("method", req.Method),
		)
		return nil, protocol.NewMethodNotFound(req.Method)
	}

	m.cfg.logger.Debug("authenticated",
		F("method", req.Method),
		F("identity", identity.ID),
	)
	if conn != nil {
		SetIdentity(conn, identity)
	}
	return req, nil
}

func (m *authMiddleware) ProcessResponse(_ context.Context, resp *protocol.Response, _ *protocol.Connection) (*protocol.Response, error) {
	return resp, nil
}

// credential looks a header up on the connection metadata first and on the
// per-request metadata second.
func credential(ctx context.Context, conn *protocol.Connection, name string) string {
	if conn != nil {
		if v := conn.Meta().Get(name); v != "" {
			return v
		}
	}
	return protocol.RequestMetaFromContext(ctx).Get(name)
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(ctx context.Context, conn *protocol.Connection) string {
	auth := credential(ctx, conn, "Authorization")
	const prefix = "Bearer "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// APIKeyAuthenticator creates an authenticator that validates API keys.
// The keyValidator function should return the identity for a valid key, or nil for invalid.
func APIKeyAuthenticator(headerName string, keyValidator func(key string) *Identity) Authenticator {
	return func(ctx context.Context, _ *protocol.Request, conn *protocol.Connection) (*Identity, error) {
		key := credential(ctx, conn, headerName)
		if key == "" {
			return nil, nil
		}
		return keyValidator(key), nil
	}
}

// BearerTokenAuthenticator creates an authenticator that validates bearer tokens.
// The tokenValidator function should return the identity for a valid token, or nil for invalid.
func BearerTokenAuthenticator(tokenValidator func(token string) *Identity) Authenticator {
	return func(ctx context.Context, _ *protocol.Request, conn *protocol.Connection) (*Identity, error) {
		token := bearerToken(ctx, conn)
		if token == "" {
			return nil, nil
		}
		return tokenValidator(token), nil
	}
}

// StaticAPIKeys creates a simple key validator from a map of key -> identity.
func StaticAPIKeys(keys map[string]*Identity) func(string) *Identity {
	return func(key string) *Identity {
		return keys[key]
	}
}

// StaticTokens creates a simple token validator from a map of token -> identity.
func StaticTokens(tokens map[string]*Identity) func(string) *Identity {
	return func(token string) *Identity {
		return tokens[token]
	}
}

// ChainAuthenticators chains multiple authenticators, returning the first successful identity.
func ChainAuthenticators(authenticators ...Authenticator) Authenticator {
	return func(ctx context.Context, req *protocol.Request, conn *protocol.Connection) (*Identity, error) {
		for _, auth := range authenticators {
			identity, err := auth(ctx, req, conn)
			if err != nil {
				return nil, err
			}
			if identity != nil {
				return identity, nil
			}
		}
		return nil, nil
	}
}
