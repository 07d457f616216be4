// Package api provides the HTTP server for the identity bridge.
//
// # Overview
//
// This package mounts every externally reachable route of the bridge on a
// single gorilla/mux router: webhook ingestion from the identity provider,
// the forward-auth endpoint the reverse proxy calls per request, the
// management API under /api/v1, and the audit trail read side. Health and
// metrics endpoints intentionally live on a separate listener, see
// pkg/observability.
//
// # Routes
//
//   - POST /webhook/{provider}: authenticated provider notifications,
//     handed to the provisioning pipeline
//   - GET /auth/{downstream}: forward-auth, delegated to pkg/bridge
//   - GET /api/v1/shadow-users: list the shadow identity store
//   - POST /api/v1/sync: manually provision one user
//   - POST /api/v1/tokens: mint a short-lived service token (only mounted
//     when a signing secret is configured)
//   - GET /api/v1/audit/...: audit queries, mounted from pkg/audit
//
// All routes share a middleware chain for request ids, access logging,
// panic recovery, metrics, and request body limits.
//
// # Usage Example
//
//	server := api.NewServer(api.Config{
//		Pipeline:      pipeline,
//		Bridge:        br,
//		Store:         st,
//		WebhookSecret: cfg.Webhook.Secret.Value,
//		Logger:        logger,
//		Metrics:       metrics,
//	})
//	http.ListenAndServe(cfg.ListenAddr(), server)
//
// # Related Packages
//
//   - pkg/bridge: the forward-auth flow behind GET /auth/{downstream}
//   - pkg/provision: the pipeline behind webhooks and manual sync
//   - pkg/httputil: response helpers and the middleware chain
package api
