// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables
// with sensible defaults for all settings. Secrets additionally accept
// *_FILE indirection: the file's contents win over the inline value, and
// file-backed secrets are hot-reloaded when the file changes so rotated
// secret mounts take effect without a restart.
//
// # Configuration Structure
//
// Server settings:
//
//	IDBRIDGE_HOST="0.0.0.0"
//	IDBRIDGE_PORT="8080"
//	IDBRIDGE_HEALTH_PORT="9090"
//	IDBRIDGE_READ_TIMEOUT="15s"
//	IDBRIDGE_WRITE_TIMEOUT="15s"
//
// Store settings:
//
//	IDBRIDGE_DATABASE_URL="postgres://localhost/idbridge"  # empty = in-memory, other = sqlite path
//	IDBRIDGE_REDIS_URL="redis://localhost:6379"            # optional list cache
//
// Webhook and token settings:
//
//	IDBRIDGE_PROVIDER="authentik"
//	IDBRIDGE_WEBHOOK_SECRET="..." or IDBRIDGE_WEBHOOK_SECRET_FILE="/run/secrets/webhook"
//	IDBRIDGE_TOKEN_SECRET="..."  or IDBRIDGE_TOKEN_SECRET_FILE="/run/secrets/signing"
//	IDBRIDGE_TOKEN_TTL="15m"
//
// Downstream settings:
//
//	IDBRIDGE_MATTERMOST_URL="http://mattermost:8065"
//	IDBRIDGE_MATTERMOST_TOKEN="..." or *_FILE
//	IDBRIDGE_N8N_URL="http://n8n:5678"
//	IDBRIDGE_N8N_API_KEY="..." or *_FILE
//	IDBRIDGE_BREAKER_THRESHOLD="5"
//	IDBRIDGE_BREAKER_COOLDOWN="30s"
//	IDBRIDGE_ROUTES_FILE="/etc/idbridge/routes.yaml"  # extra targets
//
// Observability settings:
//
//	IDBRIDGE_LOG_LEVEL="info"  # debug, info, warn, error
//	IDBRIDGE_METRICS_ENABLED="true"
//	IDBRIDGE_OTEL_ENABLED="false"
//	IDBRIDGE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.WatchSecrets(ctx, logger); err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Listening on %s\n", cfg.ListenAddr())
//
// # Related Packages
//
//   - pkg/observability: consumes the log level and OTel settings
//   - pkg/store: opened from the database URL
package config
