package bridge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenfield/idbridge/pkg/audit"
	"github.com/wrenfield/idbridge/pkg/breaker"
	"github.com/wrenfield/idbridge/pkg/downstream"
	"github.com/wrenfield/idbridge/pkg/identity"
	"github.com/wrenfield/idbridge/pkg/observability"
	"github.com/wrenfield/idbridge/pkg/store"
)

// fakeClient is a scriptable downstream provisioner
type fakeClient struct {
	name         string
	ensureErr    error
	sessionErr   error
	ensureCalls  int
	sessionCalls int
	lastUser     identity.UserInfo
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) EnsureUser(ctx context.Context, user identity.UserInfo) (*downstream.RemoteAccount, error) {
	f.ensureCalls++
	f.lastUser = user
	if f.ensureErr != nil {
		return nil, f.ensureErr
	}
	return &downstream.RemoteAccount{ID: f.name + "-1", Email: user.Email, Username: user.Username}, nil
}

func (f *fakeClient) CreateSession(ctx context.Context, accountID string) (*downstream.Session, error) {
	f.sessionCalls++
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return &downstream.Session{ID: "sess-1", Token: "token-" + accountID}, nil
}

// failingStore errors every operation
type failingStore struct{}

func (failingStore) Upsert(ctx context.Context, id identity.Identity, attributes map[string]string) (*identity.ShadowUser, error) {
	return nil, errors.New("store unavailable")
}
func (failingStore) List(ctx context.Context) ([]*identity.ShadowUser, error) {
	return nil, errors.New("store unavailable")
}
func (failingStore) HealthCheck(ctx context.Context) error { return errors.New("store unavailable") }
func (failingStore) Backend() string                       { return "failing" }
func (failingStore) Close() error                          { return nil }

// capturingAudit retains logged events
type capturingAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (c *capturingAudit) Log(ctx context.Context, event *audit.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturingAudit) Close() error { return nil }

func (c *capturingAudit) byType(t audit.EventType) []*audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*audit.Event
	for _, e := range c.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

// staticVerifier always asserts one identity
type staticVerifier struct {
	user identity.UserInfo
	ok   bool
}

func (s staticVerifier) Extract(r *http.Request) (identity.UserInfo, bool) {
	return s.user, s.ok
}

type bridgeFixture struct {
	bridge  *Bridge
	store   store.Store
	audit   *capturingAudit
	metrics *observability.Metrics
}

func newFixture(t *testing.T, cfg Config) *bridgeFixture {
	t.Helper()
	auditLog := &capturingAudit{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	cfg.Logger = observability.NewLogger(observability.ErrorLevel, io.Discard)
	cfg.Metrics = metrics
	cfg.Audit = auditLog
	return &bridgeFixture{
		bridge:  New(cfg),
		store:   cfg.Store,
		audit:   auditLog,
		metrics: metrics,
	}
}

func authentikRequest(email string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/auth/mattermost", nil)
	if email != "" {
		r.Header.Set("X-Authentik-Email", email)
		r.Header.Set("X-Authentik-Username", "dana")
		r.Header.Set("X-Authentik-Uid", "ak-42")
	}
	return r
}

func cookieByName(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAuthenticate_UnknownDownstream(t *testing.T) {
	f := newFixture(t, Config{Targets: map[string]*Target{}})

	w := httptest.NewRecorder()
	f.bridge.Authenticate(w, authentikRequest("dana@example.com"), "gitlab")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuthRequestsTotal.WithLabelValues("gitlab", "unknown")))
}

func TestAuthenticate_NoIdentityNoSession(t *testing.T) {
	client := &fakeClient{name: "mattermost"}
	f := newFixture(t, Config{Targets: map[string]*Target{
		"mattermost": {Client: client, AuthCookie: "MMAUTHTOKEN"},
	}})

	w := httptest.NewRecorder()
	f.bridge.Authenticate(w, authentikRequest(""), "mattermost")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, client.ensureCalls)

	denied := f.audit.byType(audit.EventTypeAuthDenied)
	require.Len(t, denied, 1)
	assert.Equal(t, audit.StatusDenied, denied[0].Status)
	assert.Equal(t, "mattermost", denied[0].Downstream)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuthRequestsTotal.WithLabelValues("mattermost", "denied")))
}

func TestAuthenticate_ExistingSessionCookie(t *testing.T) {
	client := &fakeClient{name: "mattermost"}
	f := newFixture(t, Config{Targets: map[string]*Target{
		"mattermost": {Client: client, AuthCookie: "MMAUTHTOKEN"},
	}})

	r := authentikRequest("")
	r.AddCookie(&http.Cookie{Name: "MMAUTHTOKEN", Value: "existing"})

	w := httptest.NewRecorder()
	f.bridge.Authenticate(w, r, "mattermost")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, client.ensureCalls, "existing session must not trigger downstream calls")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuthRequestsTotal.WithLabelValues("mattermost", "session")))
}

func TestAuthenticate_MintsSession(t *testing.T) {
	client := &fakeClient{name: "mattermost"}
	f := newFixture(t, Config{Targets: map[string]*Target{
		"mattermost": {
			Client:        client,
			Breaker:       breaker.New("mattermost", 3, time.Minute),
			AuthCookie:    "MMAUTHTOKEN",
			AccountCookie: "MMUSERID",
		},
	}})

	w := httptest.NewRecorder()
	f.bridge.Authenticate(w, authentikRequest("dana@example.com"), "mattermost")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, client.ensureCalls)
	assert.Equal(t, 1, client.sessionCalls)

	resp := w.Result()
	auth := cookieByName(resp, "MMAUTHTOKEN")
	require.NotNil(t, auth, "auth cookie must be set")
	assert.Equal(t, "token-mattermost-1", auth.Value)
	assert.True(t, auth.HttpOnly)
	assert.True(t, auth.Secure)
	assert.Equal(t, http.SameSiteLaxMode, auth.SameSite)
	assert.Equal(t, "/", auth.Path)

	account := cookieByName(resp, "MMUSERID")
	require.NotNil(t, account, "account cookie must be set")
	assert.Equal(t, "mattermost-1", account.Value)
	assert.False(t, account.HttpOnly, "account cookie is read by the downstream web client")

	assert.Equal(t, "Bearer token-mattermost-1", w.Header().Get(TokenResponseHeader))

	users, err := f.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "dana@example.com", users[0].Identity.Email)
	assert.Equal(t, "mattermost-1", users[0].Attributes["mattermost_account_id"])

	require.Len(t, f.audit.byType(audit.EventTypeSessionMinted), 1)
	require.Len(t, f.audit.byType(audit.EventTypeAuthAllowed), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuthRequestsTotal.WithLabelValues("mattermost", "allowed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.UsersProvisionedTotal.WithLabelValues("mattermost")))
}

func TestAuthenticate_BreakerOpenRejects(t *testing.T) {
	client := &fakeClient{name: "mattermost"}
	br := breaker.New("mattermost", 1, time.Minute)
	require.True(t, br.RecordFailure(), "one failure at threshold 1 must open the breaker")

	f := newFixture(t, Config{Targets: map[string]*Target{
		"mattermost": {Client: client, Breaker: br, AuthCookie: "MMAUTHTOKEN"},
	}})

	w := httptest.NewRecorder()
	f.bridge.Authenticate(w, authentikRequest("dana@example.com"), "mattermost")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 0, client.ensureCalls, "open breaker must short-circuit downstream calls")

	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retry, 0)
	assert.LessOrEqual(t, retry, 60)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuthRequestsTotal.WithLabelValues("mattermost", "breaker_open")))
}

func TestAuthenticate_EnsureFailure(t *testing.T) {
	client := &fakeClient{name: "mattermost", ensureErr: errors.New("mattermost down")}
	br := breaker.New("mattermost", 2, time.Minute)
	f := newFixture(t, Config{Targets: map[string]*Target{
		"mattermost": {Client: client, Breaker: br, AuthCookie: "MMAUTHTOKEN"},
	}})

	w := httptest.NewRecorder()
	f.bridge.Authenticate(w, authentikRequest("dana@example.com"), "mattermost")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "provision-failed", w.Header().Get(ErrorHeader))
	assert.Equal(t, 0, client.sessionCalls)
	assert.False(t, br.IsOpen(), "one failure below threshold must not open the breaker")

	// Second failure reaches the threshold.
	w = httptest.NewRecorder()
	f.bridge.Authenticate(w, authentikRequest("dana@example.com"), "mattermost")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.True(t, br.IsOpen())

	require.Len(t, f.audit.byType(audit.EventTypeBreakerOpened), 1)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.ProvisionErrorsTotal.WithLabelValues("mattermost")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.BreakerOpensTotal.WithLabelValues("mattermost")))

	failed := f.audit.byType(audit.EventTypeAuthDenied)
	require.Len(t, failed, 2)
	assert.Equal(t, audit.StatusFailure, failed[0].Status)
	assert.Equal(t, "provision-failed", failed[0].Message)
	assert.Equal(t, "mattermost down", failed[0].ErrorMessage)
}

func TestAuthenticate_SessionFailure(t *testing.T) {
	client := &fakeClient{name: "mattermost", sessionErr: errors.New("login rejected")}
	f := newFixture(t, Config{Targets: map[string]*Target{
		"mattermost": {Client: client, AuthCookie: "MMAUTHTOKEN", AccountCookie: "MMUSERID"},
	}})

	w := httptest.NewRecorder()
	f.bridge.Authenticate(w, authentikRequest("dana@example.com"), "mattermost")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "session-failed", w.Header().Get(ErrorHeader))
	assert.Empty(t, w.Result().Cookies(), "failed mint must not emit cookies")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuthRequestsTotal.WithLabelValues("mattermost", "error")))
}

func TestAuthenticate_ClientMisconfigured(t *testing.T) {
	f := newFixture(t, Config{Targets: map[string]*Target{
		"mattermost": {AuthCookie: "MMAUTHTOKEN"},
	}})

	w := httptest.NewRecorder()
	f.bridge.Authenticate(w, authentikRequest("dana@example.com"), "mattermost")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "client-misconfigured", w.Header().Get(ErrorHeader))
}

func TestAuthenticate_StoreFailure(t *testing.T) {
	client := &fakeClient{name: "mattermost"}
	f := newFixture(t, Config{
		Store: failingStore{},
		Targets: map[string]*Target{
			"mattermost": {Client: client, AuthCookie: "MMAUTHTOKEN"},
		},
	})

	w := httptest.NewRecorder()
	f.bridge.Authenticate(w, authentikRequest("dana@example.com"), "mattermost")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, w.Result().Cookies())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.StoreOperationsTotal.WithLabelValues("upsert", "failing", "error")))
}

func TestAuthenticate_SoftTarget(t *testing.T) {
	t.Run("unconfigured client passes through", func(t *testing.T) {
		f := newFixture(t, Config{Targets: map[string]*Target{
			"n8n": {Soft: true},
		}})

		w := httptest.NewRecorder()
		f.bridge.Authenticate(w, authentikRequest("dana@example.com"), "n8n")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuthRequestsTotal.WithLabelValues("n8n", "passthrough")))
	})

	t.Run("provision failure passes through", func(t *testing.T) {
		client := &fakeClient{name: "n8n", ensureErr: errors.New("n8n down")}
		f := newFixture(t, Config{Targets: map[string]*Target{
			"n8n": {Client: client, Soft: true},
		}})

		w := httptest.NewRecorder()
		f.bridge.Authenticate(w, authentikRequest("dana@example.com"), "n8n")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, client.ensureCalls)
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuthRequestsTotal.WithLabelValues("n8n", "passthrough")))
	})

	t.Run("open breaker passes through", func(t *testing.T) {
		client := &fakeClient{name: "n8n"}
		br := breaker.New("n8n", 1, time.Minute)
		br.RecordFailure()

		f := newFixture(t, Config{Targets: map[string]*Target{
			"n8n": {Client: client, Breaker: br, Soft: true},
		}})

		w := httptest.NewRecorder()
		f.bridge.Authenticate(w, authentikRequest("dana@example.com"), "n8n")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 0, client.ensureCalls)
	})

	t.Run("success admits without session", func(t *testing.T) {
		client := &fakeClient{name: "n8n"}
		f := newFixture(t, Config{Targets: map[string]*Target{
			"n8n": {Client: client, Soft: true},
		}})

		w := httptest.NewRecorder()
		f.bridge.Authenticate(w, authentikRequest("dana@example.com"), "n8n")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, client.ensureCalls)
		assert.Equal(t, 0, client.sessionCalls, "soft targets authenticate from headers, not minted sessions")
		assert.Empty(t, w.Result().Cookies())

		users, err := f.store.List(context.Background())
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "n8n-1", users[0].Attributes["n8n_account_id"])
	})

	t.Run("no identity still requires auth", func(t *testing.T) {
		client := &fakeClient{name: "n8n"}
		f := newFixture(t, Config{Targets: map[string]*Target{
			"n8n": {Client: client, Soft: true},
		}})

		w := httptest.NewRecorder()
		f.bridge.Authenticate(w, authentikRequest(""), "n8n")

		assert.Equal(t, http.StatusUnauthorized, w.Code, "soft policy covers bridge failures, not missing identity")
	})
}

func TestAuthenticate_VerifierTakesPrecedence(t *testing.T) {
	client := &fakeClient{name: "mattermost"}
	f := newFixture(t, Config{
		Verifier: staticVerifier{
			user: identity.UserInfo{Email: "verified@example.com", Username: "verified", Subject: "tok-7"},
			ok:   true,
		},
		Targets: map[string]*Target{
			"mattermost": {Client: client, AuthCookie: "MMAUTHTOKEN"},
		},
	})

	w := httptest.NewRecorder()
	f.bridge.Authenticate(w, authentikRequest("header@example.com"), "mattermost")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "verified@example.com", client.lastUser.Email, "verified token identity must win over headers")
}

func TestAuthenticate_VerifierFallsBackToHeaders(t *testing.T) {
	client := &fakeClient{name: "mattermost"}
	f := newFixture(t, Config{
		Verifier: staticVerifier{ok: false},
		Targets: map[string]*Target{
			"mattermost": {Client: client, AuthCookie: "MMAUTHTOKEN"},
		},
	})

	w := httptest.NewRecorder()
	f.bridge.Authenticate(w, authentikRequest("header@example.com"), "mattermost")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "header@example.com", client.lastUser.Email)
}

func TestAuthenticate_InsecureCookies(t *testing.T) {
	client := &fakeClient{name: "mattermost"}
	f := newFixture(t, Config{
		InsecureCookies: true,
		Targets: map[string]*Target{
			"mattermost": {Client: client, AuthCookie: "MMAUTHTOKEN"},
		},
	})

	w := httptest.NewRecorder()
	f.bridge.Authenticate(w, authentikRequest("dana@example.com"), "mattermost")

	require.Equal(t, http.StatusOK, w.Code)
	auth := cookieByName(w.Result(), "MMAUTHTOKEN")
	require.NotNil(t, auth)
	assert.False(t, auth.Secure)
}

func TestAuthenticate_CookieDomain(t *testing.T) {
	client := &fakeClient{name: "mattermost"}
	f := newFixture(t, Config{Targets: map[string]*Target{
		"mattermost": {
			Client:        client,
			AuthCookie:    "MMAUTHTOKEN",
			AccountCookie: "MMUSERID",
			CookieDomain:  "chat.example.com",
		},
	}})

	w := httptest.NewRecorder()
	f.bridge.Authenticate(w, authentikRequest("dana@example.com"), "mattermost")

	require.Equal(t, http.StatusOK, w.Code)
	auth := cookieByName(w.Result(), "MMAUTHTOKEN")
	require.NotNil(t, auth)
	assert.Equal(t, "chat.example.com", auth.Domain)
}
