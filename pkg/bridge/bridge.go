package bridge

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/wrenfield/idbridge/pkg/audit"
	"github.com/wrenfield/idbridge/pkg/breaker"
	"github.com/wrenfield/idbridge/pkg/downstream"
	"github.com/wrenfield/idbridge/pkg/identity"
	"github.com/wrenfield/idbridge/pkg/observability"
	"github.com/wrenfield/idbridge/pkg/provision"
	"github.com/wrenfield/idbridge/pkg/store"
)

const (
	// ErrorHeader identifies which bridge step failed on a 5xx response.
	ErrorHeader = "X-Idbridge-Error"

	// TokenResponseHeader mirrors the minted session token for XHR callers
	// that cannot read cookies.
	TokenResponseHeader = "X-Idbridge-Token"

	errClientMisconfigured = "client-misconfigured"
	errProvisionFailed     = "provision-failed"
	errSessionFailed       = "session-failed"
)

// Target is one downstream application served by the bridge.
type Target struct {
	Client  downstream.Provisioner
	Breaker *breaker.Breaker

	// Soft targets authenticate from the proxy headers on their own; any
	// bridge-side failure passes the request through instead of blocking
	// it, and no session is minted.
	Soft bool

	// AuthCookie and AccountCookie name the session cookies emitted on
	// success. AuthCookie doubles as the already-authenticated check for
	// requests arriving without identity headers.
	AuthCookie    string
	AccountCookie string

	// CookieDomain scopes emitted cookies; empty means host-only.
	CookieDomain string
}

// IdentityExtractor resolves a verified identity from the request. When it
// succeeds, its result takes precedence over plain proxy headers.
type IdentityExtractor interface {
	Extract(r *http.Request) (identity.UserInfo, bool)
}

// Config assembles a Bridge.
type Config struct {
	// Provider labels identities observed on this path, "authentik" by
	// default.
	Provider string

	Targets map[string]*Target
	Store   store.Store

	// Verifier is the optional token-based identity source.
	Verifier IdentityExtractor

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Audit   audit.Logger

	// InsecureCookies drops the Secure cookie flag for plain-HTTP
	// development setups.
	InsecureCookies bool
}

// Bridge answers forward-auth subrequests from the reverse proxy. It is
// safe for concurrent use.
type Bridge struct {
	provider        string
	targets         map[string]*Target
	store           store.Store
	verifier        IdentityExtractor
	logger          *observability.Logger
	metrics         *observability.Metrics
	auditLog        audit.Logger
	insecureCookies bool
}

// New creates a bridge from the config.
func New(cfg Config) *Bridge {
	if cfg.Audit == nil {
		cfg.Audit = audit.NopLogger{}
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "authentik"
	}
	return &Bridge{
		provider:        provider,
		targets:         cfg.Targets,
		store:           cfg.Store,
		verifier:        cfg.Verifier,
		logger:          cfg.Logger.WithComponent("bridge"),
		metrics:         cfg.Metrics,
		auditLog:        cfg.Audit,
		insecureCookies: cfg.InsecureCookies,
	}
}

// Authenticate serves one forward-auth request for the named downstream.
// The response is consumed by the proxy: 200 admits the original request,
// anything else blocks it.
func (b *Bridge) Authenticate(w http.ResponseWriter, r *http.Request, targetName string) {
	target, ok := b.targets[targetName]
	if !ok {
		b.count(targetName, "unknown")
		http.Error(w, "unknown downstream", http.StatusNotFound)
		return
	}

	ctx := r.Context()
	logger := b.logger.WithField("downstream", targetName)
	user := b.identify(r)

	if user.Email == "" {
		if b.hasSession(r, target) {
			// Already authenticated against the downstream; nothing to do.
			b.count(targetName, "session")
			b.recordAllowed(ctx, r, targetName, user, "existing downstream session")
			w.WriteHeader(http.StatusOK)
			return
		}
		logger.Debug("no identity asserted and no existing session")
		b.deny(ctx, w, r, targetName, "no identity asserted")
		return
	}

	logger = logger.WithField("email", user.Email)

	if target.Client == nil {
		if target.Soft {
			b.passThrough(ctx, w, r, logger, targetName, user, "downstream client not configured", nil)
			return
		}
		b.fail(ctx, w, r, logger, targetName, errClientMisconfigured, nil)
		return
	}

	if target.Breaker != nil && !target.Breaker.Allow() {
		if target.Soft {
			b.passThrough(ctx, w, r, logger, targetName, user, "circuit breaker open", nil)
			return
		}
		retry := int(math.Ceil(target.Breaker.Remaining().Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		b.count(targetName, "breaker_open")
		logger.WithField("retry_after", retry).Warn("rejecting request, circuit breaker open")
		http.Error(w, "downstream temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	account, err := b.ensureUser(ctx, target, user)
	if err != nil {
		if target.Soft {
			b.passThrough(ctx, w, r, logger, targetName, user, "downstream provisioning failed", err)
			return
		}
		b.fail(ctx, w, r, logger, targetName, errProvisionFailed, err)
		return
	}

	if target.Soft {
		// Header-trusting downstreams need the account to exist, not a
		// bridged session.
		b.upsertShadow(ctx, targetName, user, account)
		b.count(targetName, "allowed")
		b.recordAllowed(ctx, r, targetName, user, "account ensured, headers trusted downstream")
		w.WriteHeader(http.StatusOK)
		return
	}

	session, err := b.createSession(ctx, target, account)
	if err != nil {
		b.fail(ctx, w, r, logger, targetName, errSessionFailed, err)
		return
	}

	if err := b.upsertShadow(ctx, targetName, user, account); err != nil {
		b.count(targetName, "error")
		http.Error(w, "identity store unavailable", http.StatusInternalServerError)
		return
	}

	b.emitSession(w, target, account, session)

	minted := audit.NewRequestEvent(r, audit.EventTypeSessionMinted, audit.StatusSuccess)
	minted.Email = user.Email
	minted.Downstream = targetName
	minted.AccountID = account.ID
	b.record(ctx, minted)

	b.count(targetName, "allowed")
	b.recordAllowed(ctx, r, targetName, user, "session minted")
	logger.WithField("account_id", account.ID).Info("bridged session established")
	w.WriteHeader(http.StatusOK)
}

// identify resolves the caller's identity, preferring the verified token
// source when one is configured.
func (b *Bridge) identify(r *http.Request) identity.UserInfo {
	if b.verifier != nil {
		if user, ok := b.verifier.Extract(r); ok {
			return user
		}
	}
	return FromHeaders(r.Header)
}

func (b *Bridge) hasSession(r *http.Request, target *Target) bool {
	if target.AuthCookie == "" {
		return false
	}
	cookie, err := r.Cookie(target.AuthCookie)
	return err == nil && cookie.Value != ""
}

func (b *Bridge) ensureUser(ctx context.Context, target *Target, user identity.UserInfo) (*downstream.RemoteAccount, error) {
	name := target.Client.Name()

	start := time.Now()
	account, err := target.Client.EnsureUser(ctx, user)
	b.metrics.DownstreamCallDuration.WithLabelValues(name, "ensure_user").Observe(time.Since(start).Seconds())

	if err != nil {
		b.metrics.ProvisionErrorsTotal.WithLabelValues(name).Inc()
		b.recordFailure(ctx, target, err)
		return nil, err
	}
	b.recordSuccess(target)
	b.metrics.UsersProvisionedTotal.WithLabelValues(name).Inc()
	return account, nil
}

func (b *Bridge) createSession(ctx context.Context, target *Target, account *downstream.RemoteAccount) (*downstream.Session, error) {
	name := target.Client.Name()

	start := time.Now()
	session, err := target.Client.CreateSession(ctx, account.ID)
	b.metrics.DownstreamCallDuration.WithLabelValues(name, "create_session").Observe(time.Since(start).Seconds())

	if err != nil {
		b.recordFailure(ctx, target, err)
		return nil, err
	}
	b.recordSuccess(target)
	return session, nil
}

func (b *Bridge) recordSuccess(target *Target) {
	if target.Breaker == nil {
		return
	}
	target.Breaker.RecordSuccess()
	b.metrics.BreakerOpen.WithLabelValues(target.Client.Name()).Set(0)
}

func (b *Bridge) recordFailure(ctx context.Context, target *Target, cause error) {
	if target.Breaker == nil {
		return
	}
	name := target.Client.Name()
	if target.Breaker.RecordFailure() {
		b.metrics.BreakerOpen.WithLabelValues(name).Set(1)
		b.metrics.BreakerOpensTotal.WithLabelValues(name).Inc()
		b.logger.WithFields(map[string]interface{}{
			"target":   name,
			"cooldown": target.Breaker.Remaining().String(),
		}).Warn("circuit breaker opened")

		opened := audit.NewEvent(audit.EventTypeBreakerOpened, audit.StatusFailure)
		opened.Downstream = name
		opened.ErrorMessage = cause.Error()
		b.record(ctx, opened)
	}
}

// upsertShadow records the observed identity and its downstream account id.
func (b *Bridge) upsertShadow(ctx context.Context, targetName string, user identity.UserInfo, account *downstream.RemoteAccount) error {
	id := user.Identity(b.provider)
	attrs := make(map[string]string)
	if user.Username != "" {
		attrs["username"] = user.Username
	}
	if account != nil {
		attrs[provision.AccountAttribute(targetName)] = account.ID
	}

	backend := b.store.Backend()
	if _, err := b.store.Upsert(ctx, id, attrs); err != nil {
		b.metrics.StoreOperationsTotal.WithLabelValues("upsert", backend, "error").Inc()
		b.logger.WithError(err).WithField("email", user.Email).Error("failed to upsert shadow user")
		return err
	}
	b.metrics.StoreOperationsTotal.WithLabelValues("upsert", backend, "success").Inc()
	return nil
}

// deny answers 401. The bridge never invents a session for a request no
// one vouched for.
func (b *Bridge) deny(ctx context.Context, w http.ResponseWriter, r *http.Request, targetName, reason string) {
	b.count(targetName, "denied")

	denied := audit.NewRequestEvent(r, audit.EventTypeAuthDenied, audit.StatusDenied)
	denied.Downstream = targetName
	denied.Message = reason
	b.record(ctx, denied)

	http.Error(w, "authentication required", http.StatusUnauthorized)
}

// fail answers 502 with the diagnostic header naming the failed step.
func (b *Bridge) fail(ctx context.Context, w http.ResponseWriter, r *http.Request, logger *observability.Logger, targetName, code string, cause error) {
	if cause != nil {
		logger = logger.WithError(cause)
	}
	logger.WithField("code", code).Error("downstream bridging failed")
	b.count(targetName, "error")

	failed := audit.NewRequestEvent(r, audit.EventTypeAuthDenied, audit.StatusFailure)
	failed.Downstream = targetName
	failed.Message = code
	if cause != nil {
		failed.ErrorMessage = cause.Error()
	}
	b.record(ctx, failed)

	w.Header().Set(ErrorHeader, code)
	http.Error(w, "downstream bridging failed", http.StatusBadGateway)
}

// passThrough admits the request despite a bridge-side failure on a soft
// target.
func (b *Bridge) passThrough(ctx context.Context, w http.ResponseWriter, r *http.Request, logger *observability.Logger, targetName string, user identity.UserInfo, reason string, cause error) {
	if cause != nil {
		logger = logger.WithError(cause)
	}
	logger.WithField("reason", reason).Warn("passing request through despite bridge failure")

	b.count(targetName, "passthrough")
	b.recordAllowed(ctx, r, targetName, user, "passed through: "+reason)
	w.WriteHeader(http.StatusOK)
}

func (b *Bridge) recordAllowed(ctx context.Context, r *http.Request, targetName string, user identity.UserInfo, message string) {
	allowed := audit.NewRequestEvent(r, audit.EventTypeAuthAllowed, audit.StatusSuccess)
	allowed.Email = user.Email
	allowed.Username = user.Username
	allowed.Downstream = targetName
	allowed.Message = message
	b.record(ctx, allowed)
}

func (b *Bridge) record(ctx context.Context, event *audit.Event) {
	b.metrics.AuditEventsTotal.WithLabelValues(string(event.EventType)).Inc()
	if err := b.auditLog.Log(ctx, event); err != nil {
		b.logger.WithError(err).Warn("failed to record audit event")
	}
}

func (b *Bridge) count(downstreamName, outcome string) {
	b.metrics.AuthRequestsTotal.WithLabelValues(downstreamName, outcome).Inc()
}

// emitSession sets the bridged session cookies and the mirror header.
func (b *Bridge) emitSession(w http.ResponseWriter, target *Target, account *downstream.RemoteAccount, session *downstream.Session) {
	if target.AuthCookie != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     target.AuthCookie,
			Value:    session.Token,
			Path:     "/",
			Domain:   target.CookieDomain,
			Secure:   !b.insecureCookies,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	if target.AccountCookie != "" {
		// The downstream's own client-side code reads this one, so it
		// cannot be HttpOnly.
		http.SetCookie(w, &http.Cookie{
			Name:     target.AccountCookie,
			Value:    account.ID,
			Path:     "/",
			Domain:   target.CookieDomain,
			Secure:   !b.insecureCookies,
			HttpOnly: false,
			SameSite: http.SameSiteLaxMode,
		})
	}
	w.Header().Set(TokenResponseHeader, "Bearer "+session.Token)
}
