package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wrenfield/idbridge/pkg/audit"
	"github.com/wrenfield/idbridge/pkg/auth"
	"github.com/wrenfield/idbridge/pkg/bridge"
	"github.com/wrenfield/idbridge/pkg/httputil"
	"github.com/wrenfield/idbridge/pkg/observability"
	"github.com/wrenfield/idbridge/pkg/provision"
	"github.com/wrenfield/idbridge/pkg/store"
)

// SyncProvider labels identities created through the manual sync endpoint.
const SyncProvider = "manual"

// Config assembles the API server.
type Config struct {
	Pipeline *provision.Pipeline
	Bridge   *bridge.Bridge
	Store    store.Store

	// Issuer enables POST /api/v1/tokens when set.
	Issuer          *auth.Issuer
	TokenDefaultTTL time.Duration
	TokenMaxTTL     time.Duration

	// AuditHandlers enables the audit read endpoints when set.
	AuditHandlers *audit.Handlers

	// WebhookSecret authenticates inbound webhooks and service-token
	// requests. It is a func so rotated secrets take effect per request.
	WebhookSecret func() string

	// MaxBodyBytes caps request bodies, zero means 1 MiB.
	MaxBodyBytes int64

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Audit   audit.Logger
}

// Server is the bridge's HTTP API: webhook ingestion, forward-auth,
// manual sync, shadow user listing, token minting, and the audit read
// side. Health and metrics run on a separate listener, see pkg/observability.
type Server struct {
	router *mux.Router

	pipeline *provision.Pipeline
	bridge   *bridge.Bridge
	store    store.Store

	issuer          *auth.Issuer
	tokenDefaultTTL time.Duration
	tokenMaxTTL     time.Duration

	webhookSecret func() string

	logger   *observability.Logger
	metrics  *observability.Metrics
	auditLog audit.Logger
}

// NewServer creates the API server and mounts all routes.
func NewServer(cfg Config) *Server {
	if cfg.Audit == nil {
		cfg.Audit = audit.NopLogger{}
	}
	if cfg.WebhookSecret == nil {
		cfg.WebhookSecret = func() string { return "" }
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.TokenDefaultTTL <= 0 {
		cfg.TokenDefaultTTL = 15 * time.Minute
	}
	if cfg.TokenMaxTTL <= 0 {
		cfg.TokenMaxTTL = 24 * time.Hour
	}

	s := &Server{
		router:          mux.NewRouter(),
		pipeline:        cfg.Pipeline,
		bridge:          cfg.Bridge,
		store:           cfg.Store,
		issuer:          cfg.Issuer,
		tokenDefaultTTL: cfg.TokenDefaultTTL,
		tokenMaxTTL:     cfg.TokenMaxTTL,
		webhookSecret:   cfg.WebhookSecret,
		logger:          cfg.Logger.WithComponent("api"),
		metrics:         cfg.Metrics,
		auditLog:        cfg.Audit,
	}

	s.router.Use(
		httputil.RequestIDMiddleware,
		httputil.AccessLogMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.MetricsMiddleware(s.metrics),
		httputil.MaxBytesMiddleware(cfg.MaxBodyBytes),
	)

	s.setupRoutes(cfg.AuditHandlers)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(auditHandlers *audit.Handlers) {
	// Webhook ingestion
	s.router.HandleFunc("/webhook/{provider}", s.handleWebhook).Methods("POST")

	// Forward-auth entry point for the reverse proxy
	s.router.HandleFunc("/auth/{downstream}", s.handleAuth).Methods("GET")

	// Identity management (v1 API)
	s.router.HandleFunc("/api/v1/shadow-users", s.handleListShadowUsers).Methods("GET")
	s.router.HandleFunc("/api/v1/sync", s.handleSync).Methods("POST")

	// Service tokens, mounted only when a signing secret is configured
	if s.issuer != nil {
		s.router.HandleFunc("/api/v1/tokens", s.handleIssueToken).Methods("POST")
	}

	// Audit trail read side
	if auditHandlers != nil {
		auditHandlers.RegisterRoutes(s.router.PathPrefix("/api/v1").Subrouter())
	}

	// Unknown paths answer JSON like everything else on this surface.
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "not found")
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router for additional route registration.
func (s *Server) Router() *mux.Router {
	return s.router
}

// handleAuth delegates GET /auth/{downstream} to the forward-auth bridge.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	s.bridge.Authenticate(w, r, mux.Vars(r)["downstream"])
}

func (s *Server) record(r *http.Request, event *audit.Event) {
	s.metrics.AuditEventsTotal.WithLabelValues(string(event.EventType)).Inc()
	if err := s.auditLog.Log(r.Context(), event); err != nil {
		s.logger.WithError(err).Warn("failed to record audit event")
	}
}
