package bridge

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/wrenfield/idbridge/pkg/identity"
	"github.com/wrenfield/idbridge/pkg/observability"
)

// TokenHeader carries the IdP token when the proxy forwards it alongside
// the identity headers.
const TokenHeader = "X-Forwarded-Access-Token"

// OIDCExtractor resolves identities from proxy-forwarded IdP tokens. A
// verified token outranks plain headers because its claims are signed by
// the issuer rather than asserted by intermediate proxies.
type OIDCExtractor struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	logger   *observability.Logger
}

// NewOIDCExtractor discovers the issuer configuration and prepares a
// verifier for tokens issued to the given client.
func NewOIDCExtractor(ctx context.Context, issuerURL, clientID string, logger *observability.Logger) (*OIDCExtractor, error) {
	if issuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC issuer: %w", err)
	}

	return &OIDCExtractor{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		logger:   logger.WithComponent("oidc"),
	}, nil
}

type tokenClaims struct {
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
}

func (c tokenClaims) userInfo() identity.UserInfo {
	return identity.UserInfo{
		Email:    c.Email,
		Username: c.PreferredUsername,
		Name:     c.Name,
		Subject:  c.Subject,
	}
}

// Extract verifies the forwarded token and returns the identity it
// asserts. Requests without a token, or with one that fails both ID-token
// verification and the userinfo fallback, return false so the caller falls
// back to plain headers.
func (e *OIDCExtractor) Extract(r *http.Request) (identity.UserInfo, bool) {
	raw := rawToken(r)
	if raw == "" {
		return identity.UserInfo{}, false
	}

	var claims tokenClaims

	idToken, err := e.verifier.Verify(r.Context(), raw)
	if err == nil {
		if err := idToken.Claims(&claims); err != nil {
			e.logger.WithError(err).Warn("failed to decode verified token claims")
			return identity.UserInfo{}, false
		}
		return claims.userInfo(), claims.Email != ""
	}

	// Access tokens are not ID tokens; resolve them through the issuer's
	// userinfo endpoint instead.
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: raw, TokenType: "Bearer"})
	info, userInfoErr := e.provider.UserInfo(r.Context(), source)
	if userInfoErr != nil {
		e.logger.WithError(err).Debug("forwarded token failed verification")
		return identity.UserInfo{}, false
	}
	if err := info.Claims(&claims); err != nil {
		e.logger.WithError(err).Warn("failed to decode userinfo claims")
		return identity.UserInfo{}, false
	}
	if claims.Email == "" {
		claims.Email = info.Email
	}
	if claims.Subject == "" {
		claims.Subject = info.Subject
	}
	return claims.userInfo(), claims.Email != ""
}

func rawToken(r *http.Request) string {
	if token := r.Header.Get(TokenHeader); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
