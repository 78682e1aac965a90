package middleware

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// NewOIDCVerifier discovers issuer and returns an ID token verifier for clientID.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider %q: %w", issuer, err)
	}
	return provider.Verifier(&oidc.Config{ClientID: clientID}), nil
}

// OIDCAuthenticator verifies a bearer ID token. The identity ID is the
// token subject; its metadata holds every claim.
func OIDCAuthenticator(verifier *oidc.IDTokenVerifier) Authenticator {
	return func(ctx context.Context, _ *protocol.Request, conn *protocol.Connection) (*Identity, error) {
		raw := bearerToken(ctx, conn)
		if raw == "" {
			return nil, nil
		}

		token, err := verifier.Verify(ctx, raw)
		if err != nil {
			return nil, err
		}

		claims := map[string]any{}
		if err := token.Claims(&claims); err != nil {
			return nil, fmt.Errorf("oidc claims: %w", err)
		}

		name, _ := claims["name"].(string)
		if name == "" {
			name, _ = claims["email"].(string)
		}
		return &Identity{
			ID:       token.Subject,
			Name:     name,
			Metadata: claims,
		}, nil
	}
}
