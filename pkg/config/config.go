package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wrenfield/idbridge/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Shadow store configuration
	Store StoreConfig

	// Webhook ingestion configuration
	Webhook WebhookConfig

	// Token issuer configuration
	Token TokenConfig

	// Forward-auth bridge configuration
	Bridge BridgeConfig

	// Built-in downstream targets
	Mattermost MattermostConfig
	N8N        N8NConfig

	// Circuit breaker configuration shared by all targets
	Breaker BreakerConfig

	// Downstream account cache configuration
	Cache CacheConfig

	// Audit trail configuration
	Audit AuditConfig

	// Maintenance scheduler configuration
	Maintenance MaintenanceConfig

	// Observability configuration
	Observability ObservabilityConfig

	// RoutesFile optionally declares additional downstream targets in YAML.
	RoutesFile string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// MaxBodyBytes caps request bodies on the API listener.
	MaxBodyBytes int64
}

// StoreConfig selects and tunes the shadow identity store
type StoreConfig struct {
	// DatabaseURL selects the backend: postgres:// or postgresql://
	// opens PostgreSQL, empty selects the in-memory store, anything else
	// is a SQLite database path.
	DatabaseURL string

	// RedisURL enables the read-through list cache when set.
	RedisURL string

	// CacheTTL bounds staleness of the Redis list cache.
	CacheTTL time.Duration
}

// WebhookConfig holds webhook ingestion settings
type WebhookConfig struct {
	// Provider labels identities observed via webhooks, "authentik" by
	// default.
	Provider string

	// Secret authenticates inbound webhooks (bearer or HMAC signature).
	Secret *Secret

	// GeneratedSecret is true when no secret was configured and a random
	// one was generated at startup. Development convenience only; the
	// generated value is lost on restart.
	GeneratedSecret bool
}

// TokenConfig holds token issuer settings
type TokenConfig struct {
	// SigningSecret is the HS256 key source. Empty disables the issuer
	// endpoint.
	SigningSecret *Secret

	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

// BridgeConfig holds forward-auth settings
type BridgeConfig struct {
	CookieDomain    string
	InsecureCookies bool

	// OIDCIssuerURL enables verified-token identity extraction when set.
	OIDCIssuerURL string
	OIDCClientID  string
}

// MattermostConfig holds the bridged-session chat target settings
type MattermostConfig struct {
	// BaseURL is the public endpoint. The target is enabled when either
	// URL is set.
	BaseURL string

	// InternalURL, when set, is where admin API calls go instead of
	// BaseURL, for installs that reach Mattermost over the cluster
	// network rather than the public ingress.
	InternalURL string

	AdminToken *Secret

	AuthCookie    string
	AccountCookie string
}

// AdminAPIURL returns the endpoint provisioning calls use: the internal
// URL when set, the public one otherwise.
func (c MattermostConfig) AdminAPIURL() string {
	if c.InternalURL != "" {
		return c.InternalURL
	}
	return c.BaseURL
}

// N8NConfig holds the header-trusting automation target settings
type N8NConfig struct {
	// BaseURL is the public endpoint. The target is enabled when either
	// URL is set.
	BaseURL string

	// InternalURL, when set, is where API calls go instead of BaseURL.
	InternalURL string

	APIKey *Secret
}

// APIURL returns the endpoint provisioning calls use: the internal URL
// when set, the public one otherwise.
func (c N8NConfig) APIURL() string {
	if c.InternalURL != "" {
		return c.InternalURL
	}
	return c.BaseURL
}

// BreakerConfig tunes the per-downstream circuit breakers
type BreakerConfig struct {
	Threshold int
	Cooldown  time.Duration
}

// CacheConfig tunes the downstream account LRU cache
type CacheConfig struct {
	AccountCacheSize int
	AccountCacheTTL  time.Duration
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	Enabled bool

	// Dir enables the NDJSON file logger when set.
	Dir string

	// UseDB mirrors events into the database (requires a Postgres store).
	UseDB bool

	// S3 archival of expired events, optional.
	S3Bucket    string
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	RetentionDays int
}

// MaintenanceConfig holds the background job schedules
type MaintenanceConfig struct {
	Enabled bool

	// GaugeSchedule refreshes the shadow-user and breaker gauges.
	GaugeSchedule string

	// RetentionSchedule sweeps expired audit events.
	RetentionSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	webhookSecret, err := newSecret("IDBRIDGE_WEBHOOK_SECRET")
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook secret: %w", err)
	}
	tokenSecret, err := newSecret("IDBRIDGE_TOKEN_SECRET")
	if err != nil {
		return nil, fmt.Errorf("failed to load token signing secret: %w", err)
	}
	mattermostToken, err := newSecret("IDBRIDGE_MATTERMOST_TOKEN")
	if err != nil {
		return nil, fmt.Errorf("failed to load mattermost admin token: %w", err)
	}
	n8nKey, err := newSecret("IDBRIDGE_N8N_API_KEY")
	if err != nil {
		return nil, fmt.Errorf("failed to load n8n api key: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("IDBRIDGE_HOST", "0.0.0.0"),
			Port:            getEnv("IDBRIDGE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("IDBRIDGE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("IDBRIDGE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("IDBRIDGE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("IDBRIDGE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("IDBRIDGE_HEALTH_PORT", "9090"),
			MaxBodyBytes:    getEnvInt64("IDBRIDGE_MAX_BODY_BYTES", 1<<20),
		},
		Store: StoreConfig{
			DatabaseURL: getEnv("IDBRIDGE_DATABASE_URL", ""),
			RedisURL:    getEnv("IDBRIDGE_REDIS_URL", ""),
			CacheTTL:    getEnvDuration("IDBRIDGE_STORE_CACHE_TTL", 30*time.Second),
		},
		Webhook: WebhookConfig{
			Provider: getEnv("IDBRIDGE_PROVIDER", "authentik"),
			Secret:   webhookSecret,
		},
		Token: TokenConfig{
			SigningSecret: tokenSecret,
			DefaultTTL:    getEnvDuration("IDBRIDGE_TOKEN_TTL", 15*time.Minute),
			MaxTTL:        getEnvDuration("IDBRIDGE_TOKEN_MAX_TTL", 24*time.Hour),
		},
		Bridge: BridgeConfig{
			CookieDomain:    getEnv("IDBRIDGE_COOKIE_DOMAIN", ""),
			InsecureCookies: getEnvBool("IDBRIDGE_INSECURE_COOKIES", false),
			OIDCIssuerURL:   getEnv("IDBRIDGE_OIDC_ISSUER_URL", ""),
			OIDCClientID:    getEnv("IDBRIDGE_OIDC_CLIENT_ID", ""),
		},
		Mattermost: MattermostConfig{
			BaseURL:       getEnv("IDBRIDGE_MATTERMOST_URL", ""),
			InternalURL:   getEnv("IDBRIDGE_MATTERMOST_INTERNAL_URL", ""),
			AdminToken:    mattermostToken,
			AuthCookie:    getEnv("IDBRIDGE_MATTERMOST_AUTH_COOKIE", "MMAUTHTOKEN"),
			AccountCookie: getEnv("IDBRIDGE_MATTERMOST_ACCOUNT_COOKIE", "MMUSERID"),
		},
		N8N: N8NConfig{
			BaseURL:     getEnv("IDBRIDGE_N8N_URL", ""),
			InternalURL: getEnv("IDBRIDGE_N8N_INTERNAL_URL", ""),
			APIKey:      n8nKey,
		},
		Breaker: BreakerConfig{
			Threshold: getEnvInt("IDBRIDGE_BREAKER_THRESHOLD", 5),
			Cooldown:  getEnvDuration("IDBRIDGE_BREAKER_COOLDOWN", 30*time.Second),
		},
		Cache: CacheConfig{
			AccountCacheSize: getEnvInt("IDBRIDGE_ACCOUNT_CACHE_SIZE", 1024),
			AccountCacheTTL:  getEnvDuration("IDBRIDGE_ACCOUNT_CACHE_TTL", 5*time.Minute),
		},
		Audit: AuditConfig{
			Enabled:       getEnvBool("IDBRIDGE_AUDIT_ENABLED", true),
			Dir:           getEnv("IDBRIDGE_AUDIT_DIR", ""),
			UseDB:         getEnvBool("IDBRIDGE_AUDIT_DB", false),
			S3Bucket:      getEnv("IDBRIDGE_AUDIT_S3_BUCKET", ""),
			S3Endpoint:    getEnv("IDBRIDGE_AUDIT_S3_ENDPOINT", ""),
			S3Region:      getEnv("IDBRIDGE_AUDIT_S3_REGION", "us-east-1"),
			S3AccessKey:   getEnv("IDBRIDGE_AUDIT_S3_ACCESS_KEY", ""),
			S3SecretKey:   getEnv("IDBRIDGE_AUDIT_S3_SECRET_KEY", ""),
			RetentionDays: getEnvInt("IDBRIDGE_AUDIT_RETENTION_DAYS", 90),
		},
		Maintenance: MaintenanceConfig{
			Enabled:           getEnvBool("IDBRIDGE_MAINTENANCE_ENABLED", true),
			GaugeSchedule:     getEnv("IDBRIDGE_GAUGE_SCHEDULE", "*/5 * * * *"),
			RetentionSchedule: getEnv("IDBRIDGE_RETENTION_SCHEDULE", "30 3 * * *"),
		},
		Observability: ObservabilityConfig{
			LogLevel:           parseLogLevel(getEnv("IDBRIDGE_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("IDBRIDGE_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("IDBRIDGE_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("IDBRIDGE_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("IDBRIDGE_OTEL_SERVICE_NAME", "idbridge"),
			OTelServiceVersion: getEnv("IDBRIDGE_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("IDBRIDGE_OTEL_INSECURE", true),
		},
		RoutesFile: getEnv("IDBRIDGE_ROUTES_FILE", ""),
	}

	// No webhook secret means development mode: generate one so the
	// endpoint is never open by accident, and flag it for startup logs.
	if !cfg.Webhook.Secret.IsSet() {
		generated, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate webhook secret: %w", err)
		}
		cfg.Webhook.Secret = staticSecret(generated)
		cfg.Webhook.GeneratedSecret = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	if c.Webhook.Provider == "" {
		return fmt.Errorf("identity provider name is required")
	}

	if c.Breaker.Threshold < 1 {
		return fmt.Errorf("breaker threshold must be at least 1")
	}
	if c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("breaker cooldown must be positive")
	}

	if c.Token.SigningSecret.IsSet() {
		if c.Token.DefaultTTL <= 0 {
			return fmt.Errorf("token TTL must be positive")
		}
		if c.Token.MaxTTL < c.Token.DefaultTTL {
			return fmt.Errorf("token max TTL must be at least the default TTL")
		}
	}

	if c.Mattermost.AdminAPIURL() != "" && !c.Mattermost.AdminToken.IsSet() {
		return fmt.Errorf("mattermost admin token is required when the mattermost URL is set")
	}
	if c.N8N.APIURL() != "" && !c.N8N.APIKey.IsSet() {
		return fmt.Errorf("n8n api key is required when the n8n URL is set")
	}

	if c.Bridge.OIDCIssuerURL != "" && c.Bridge.OIDCClientID == "" {
		return fmt.Errorf("OIDC client id is required when an OIDC issuer is set")
	}

	if c.Audit.UseDB && !isPostgresURL(c.Store.DatabaseURL) {
		return fmt.Errorf("database audit logging requires a postgres database URL")
	}
	if c.Audit.RetentionDays < 1 {
		return fmt.Errorf("audit retention must be at least one day")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// ListenAddr returns the API listener address.
func (c *Config) ListenAddr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// HealthAddr returns the health/metrics listener address.
func (c *Config) HealthAddr() string {
	return c.Server.Host + ":" + c.Server.HealthPort
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
