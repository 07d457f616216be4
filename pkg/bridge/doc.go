// Package bridge implements the forward-auth entry point called by the
// reverse proxy on every protected request.
//
// # Overview
//
// The proxy asserts the caller's identity in request headers (or a
// forwarded IdP token) and asks the bridge whether the request may proceed.
// For bridged-session downstreams the bridge ensures a downstream account
// exists, mints a session, and answers 200 with session-setting cookies the
// proxy relays to the browser. Downstreams that trust the proxy headers
// directly follow a softer policy: bridge-side failures are logged and the
// request passes through, because the downstream authenticates on its own.
//
// # Usage Example
//
//	b := bridge.New(bridge.Config{
//		Provider: "authentik",
//		Store:    shadowStore,
//		Targets: map[string]*bridge.Target{
//			"mattermost": {
//				Client:        mmClient,
//				Breaker:       mmBreaker,
//				AuthCookie:    "MMAUTHTOKEN",
//				AccountCookie: "MMUSERID",
//			},
//			"n8n": {Client: n8nClient, Breaker: n8nBreaker, Soft: true},
//		},
//		Logger:  logger,
//		Metrics: metrics,
//	})
//
//	router.HandleFunc("/auth/{downstream}", func(w http.ResponseWriter, r *http.Request) {
//		b.Authenticate(w, r, mux.Vars(r)["downstream"])
//	})
//
// # Related Packages
//
//   - pkg/downstream: per-target provisioning clients
//   - pkg/breaker: circuit breakers consulted before downstream calls
//   - pkg/store: shadow identity persistence updated on success
package bridge
