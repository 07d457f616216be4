// Package observability provides structured logging, Prometheus metrics,
// health checks, and graceful shutdown for the identity bridge.
//
// # Overview
//
// The package wires four concerns the rest of the service depends on:
//
//   - Logger: structured JSON logging on top of log/slog with
//     field-chaining helpers and context propagation.
//   - Metrics: the bridge's Prometheus metric set (webhooks received,
//     users provisioned, forward-auth outcomes, breaker state) plus HTTP
//     middleware and the /metrics endpoint.
//   - HealthChecker: liveness and readiness probes backed by the shadow
//     store's health check and the optional Redis cache.
//   - ShutdownManager: signal-driven graceful shutdown for the API and
//     health listeners and any registered cleanup functions.
//
// # Usage Example
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//
//	metrics.WebhooksReceivedTotal.WithLabelValues("idp", "provisioned").Inc()
//	logger.WithField("provider", "idp").Info("webhook processed")
//
// # Related Packages
//
//   - pkg/api: installs the HTTP metrics middleware and health routes
//   - pkg/provision: records provisioning outcomes
//   - pkg/maintenance: refreshes the shadow-user and breaker gauges
package observability
