package bridge

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wrenfield/idbridge/pkg/identity"
	"github.com/wrenfield/idbridge/pkg/observability"
)

func TestFromHeaders(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		expected identity.UserInfo
	}{
		{
			name: "authentik outpost headers",
			headers: map[string]string{
				"X-Authentik-Email":    "dana@example.com",
				"X-Authentik-Username": "dana",
				"X-Authentik-Name":     "Dana Niu",
				"X-Authentik-Uid":      "ak-42",
			},
			expected: identity.UserInfo{
				Email:    "dana@example.com",
				Username: "dana",
				Name:     "Dana Niu",
				Subject:  "ak-42",
			},
		},
		{
			name: "auth-request headers",
			headers: map[string]string{
				"X-Auth-Request-Email":              "erin@example.com",
				"X-Auth-Request-Preferred-Username": "erin",
				"X-Auth-Request-Name":               "Erin Oda",
			},
			expected: identity.UserInfo{
				Email:    "erin@example.com",
				Username: "erin",
				Name:     "Erin Oda",
			},
		},
		{
			name: "legacy forwarded headers",
			headers: map[string]string{
				"X-Forwarded-Email": "frank@example.com",
				"X-Forwarded-User":  "frank",
			},
			expected: identity.UserInfo{
				Email:    "frank@example.com",
				Username: "frank",
			},
		},
		{
			name: "provider headers outrank generic ones",
			headers: map[string]string{
				"X-Authentik-Email":    "dana@example.com",
				"X-Auth-Request-Email": "other@example.com",
				"X-Forwarded-Email":    "third@example.com",
				"X-Auth-Request-User":  "generic",
				"X-Authentik-Username": "dana",
			},
			expected: identity.UserInfo{
				Email:    "dana@example.com",
				Username: "dana",
			},
		},
		{
			name: "remote-user alone carries no email",
			headers: map[string]string{
				"Remote-User": "frank",
			},
			expected: identity.UserInfo{Username: "frank"},
		},
		{
			name: "whitespace-only values are ignored",
			headers: map[string]string{
				"X-Authentik-Email":    "   ",
				"X-Auth-Request-Email": " erin@example.com ",
			},
			expected: identity.UserInfo{Email: "erin@example.com"},
		},
		{
			name:     "no headers",
			headers:  map[string]string{},
			expected: identity.UserInfo{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			assert.Equal(t, tt.expected, FromHeaders(h))
		})
	}
}

func TestRawToken(t *testing.T) {
	t.Run("forwarded access token header", func(t *testing.T) {
		r, _ := http.NewRequest(http.MethodGet, "/auth/mattermost", nil)
		r.Header.Set(TokenHeader, "tok-abc")
		assert.Equal(t, "tok-abc", rawToken(r))
	})

	t.Run("authorization bearer", func(t *testing.T) {
		r, _ := http.NewRequest(http.MethodGet, "/auth/mattermost", nil)
		r.Header.Set("Authorization", "Bearer tok-xyz")
		assert.Equal(t, "tok-xyz", rawToken(r))
	})

	t.Run("forwarded header wins over authorization", func(t *testing.T) {
		r, _ := http.NewRequest(http.MethodGet, "/auth/mattermost", nil)
		r.Header.Set(TokenHeader, "tok-abc")
		r.Header.Set("Authorization", "Bearer tok-xyz")
		assert.Equal(t, "tok-abc", rawToken(r))
	})

	t.Run("basic auth is not a token", func(t *testing.T) {
		r, _ := http.NewRequest(http.MethodGet, "/auth/mattermost", nil)
		r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		assert.Empty(t, rawToken(r))
	})

	t.Run("no token", func(t *testing.T) {
		r, _ := http.NewRequest(http.MethodGet, "/auth/mattermost", nil)
		assert.Empty(t, rawToken(r))
	})
}

func TestNewOIDCExtractor_RequiresIssuer(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	_, err := NewOIDCExtractor(context.Background(), "", "idbridge", logger)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "issuer URL is required")
}
