package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenfield/idbridge/pkg/audit"
	"github.com/wrenfield/idbridge/pkg/auth"
)

const testSigningSecret = "0123456789abcdef0123456789abcdef"

func newTokenFixture(t *testing.T) (*fixture, *auth.Issuer) {
	t.Helper()

	issuer, err := auth.NewIssuer(testSigningSecret)
	require.NoError(t, err)

	f := newFixture(t, func(cfg *Config) {
		cfg.Issuer = issuer
		cfg.TokenDefaultTTL = 15 * time.Minute
		cfg.TokenMaxTTL = time.Hour
	})
	return f, issuer
}

func tokenPost(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/tokens", strings.NewReader(body))
	r.Header.Set("Authorization", "Bearer "+testWebhookSecret)
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestHandleIssueToken_RequiresCredentials(t *testing.T) {
	t.Run("missing header", func(t *testing.T) {
		f, _ := newTokenFixture(t)
		r := httptest.NewRequest(http.MethodPost, "/api/v1/tokens", strings.NewReader(`{"subject":"ci"}`))
		w := f.do(r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		f, _ := newTokenFixture(t)
		r := httptest.NewRequest(http.MethodPost, "/api/v1/tokens", strings.NewReader(`{"subject":"ci"}`))
		r.Header.Set("Authorization", "Bearer wrong")
		w := f.do(r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		denied := f.audit.byType(audit.EventTypeAuthDenied)
		require.Len(t, denied, 1)
		assert.Equal(t, "token mint with bad credentials", denied[0].Message)
	})
}

func TestHandleIssueToken_MintsToken(t *testing.T) {
	f, issuer := newTokenFixture(t)

	w := f.do(tokenPost(`{"subject":"ci-deployer","audience":["mattermost"],"claims":{"team":"ops"}}`))
	require.Equal(t, http.StatusOK, w.Code)

	var token auth.Token
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &token))
	require.NotEmpty(t, token.Value)

	claims, err := issuer.Validate(token.Value)
	require.NoError(t, err)
	assert.Equal(t, "ci-deployer", claims["sub"])
	assert.Equal(t, "mattermost", claims["aud"])
	assert.Equal(t, "ops", claims["team"])

	// Default TTL applies when the request names none.
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), token.ExpiresAt, time.Minute)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.TokensIssuedTotal))
	issued := f.audit.byType(audit.EventTypeTokenIssued)
	require.Len(t, issued, 1)
	assert.Equal(t, "ci-deployer", issued[0].Subject)
}

func TestHandleIssueToken_HonorsRequestedTTL(t *testing.T) {
	f, _ := newTokenFixture(t)

	w := f.do(tokenPost(`{"subject":"ci","ttl_seconds":60}`))
	require.Equal(t, http.StatusOK, w.Code)

	var token auth.Token
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &token))
	assert.WithinDuration(t, time.Now().Add(time.Minute), token.ExpiresAt, 30*time.Second)
}

func TestHandleIssueToken_CapsTTL(t *testing.T) {
	f, _ := newTokenFixture(t)

	// One hour is the fixture maximum; ask for two.
	w := f.do(tokenPost(`{"subject":"ci","ttl_seconds":7200}`))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"requested ttl exceeds the maximum"}`, w.Body.String())
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.TokensIssuedTotal))
}

func TestHandleIssueToken_RequiresSubject(t *testing.T) {
	f, _ := newTokenFixture(t)

	w := f.do(tokenPost(`{"audience":["mattermost"]}`))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"subject is required"}`, w.Body.String())
}

func TestHandleIssueToken_RejectsInvalidJSON(t *testing.T) {
	f, _ := newTokenFixture(t)

	w := f.do(tokenPost(`{"subject": `))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
