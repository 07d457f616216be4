// Package httputil provides the shared HTTP plumbing for the bridge's
// API surface: JSON request/response helpers and the middleware chain
// applied to every route.
//
// # Overview
//
// Handlers in pkg/api and pkg/audit stay small by delegating the
// repetitive parts here. Response helpers emit the uniform
// {"error": "..."} body for failures; request helpers decode JSON bodies
// and query parameters with typed defaults. Middleware covers request-id
// assignment, access logging, panic recovery, per-route Prometheus
// metrics, and request body size caps.
//
// # Usage Example
//
//	router := mux.NewRouter()
//	router.Use(
//		httputil.RequestIDMiddleware,
//		httputil.AccessLogMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MetricsMiddleware(metrics),
//	)
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//		var req syncRequest
//		if !httputil.ParseJSONOrError(w, r, &req) {
//			return
//		}
//		httputil.WriteSuccess(w, result)
//	}
//
// # Related Packages
//
//   - pkg/api: route registration and handlers built on these helpers
//   - pkg/observability: the logger and metrics the middleware feeds
package httputil
