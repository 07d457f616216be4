package config

import (
	"strings"
	"testing"
	"time"

	"github.com/wrenfield/idbridge/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{name: "returns true for 'true'", defaultValue: false, envValue: "true", want: true},
		{name: "returns true for '1'", defaultValue: false, envValue: "1", want: true},
		{name: "returns true for 'TRUE'", defaultValue: false, envValue: "TRUE", want: true},
		{name: "returns false for 'false'", defaultValue: true, envValue: "false", want: false},
		{name: "returns false for garbage", defaultValue: true, envValue: "banana", want: false},
		{name: "returns default when unset", defaultValue: true, envValue: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_BOOL", tt.envValue)
			}

			got := getEnvBool("TEST_BOOL", tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvInt tests the getEnvInt helper function
func TestGetEnvInt(t *testing.T) {
	t.Run("parses integer", func(t *testing.T) {
		t.Setenv("TEST_INT", "42")
		if got := getEnvInt("TEST_INT", 7); got != 42 {
			t.Errorf("getEnvInt() = %v, want 42", got)
		}
	})

	t.Run("falls back on parse error", func(t *testing.T) {
		t.Setenv("TEST_INT", "not-a-number")
		if got := getEnvInt("TEST_INT", 7); got != 7 {
			t.Errorf("getEnvInt() = %v, want 7", got)
		}
	})

	t.Run("falls back when unset", func(t *testing.T) {
		if got := getEnvInt("TEST_INT_NOT_SET", 7); got != 7 {
			t.Errorf("getEnvInt() = %v, want 7", got)
		}
	})
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	t.Run("parses duration", func(t *testing.T) {
		t.Setenv("TEST_DURATION", "45s")
		if got := getEnvDuration("TEST_DURATION", time.Minute); got != 45*time.Second {
			t.Errorf("getEnvDuration() = %v, want 45s", got)
		}
	})

	t.Run("falls back on parse error", func(t *testing.T) {
		t.Setenv("TEST_DURATION", "soon")
		if got := getEnvDuration("TEST_DURATION", time.Minute); got != time.Minute {
			t.Errorf("getEnvDuration() = %v, want 1m", got)
		}
	})
}

// TestParseLogLevel tests log level parsing
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"info", observability.InfoLevel},
		{"warn", observability.WarnLevel},
		{"warning", observability.WarnLevel},
		{"ERROR", observability.ErrorLevel},
		{"unknown", observability.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// TestLoadConfigDefaults verifies the default configuration loads and
// validates with no environment set.
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %v, want 8080", cfg.Server.Port)
	}
	if cfg.Server.HealthPort != "9090" {
		t.Errorf("Server.HealthPort = %v, want 9090", cfg.Server.HealthPort)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Webhook.Provider != "authentik" {
		t.Errorf("Webhook.Provider = %v, want authentik", cfg.Webhook.Provider)
	}
	if cfg.Breaker.Threshold != 5 {
		t.Errorf("Breaker.Threshold = %v, want 5", cfg.Breaker.Threshold)
	}
	if cfg.Breaker.Cooldown != 30*time.Second {
		t.Errorf("Breaker.Cooldown = %v, want 30s", cfg.Breaker.Cooldown)
	}
	if cfg.Mattermost.AuthCookie != "MMAUTHTOKEN" {
		t.Errorf("Mattermost.AuthCookie = %v, want MMAUTHTOKEN", cfg.Mattermost.AuthCookie)
	}
	if cfg.Mattermost.AccountCookie != "MMUSERID" {
		t.Errorf("Mattermost.AccountCookie = %v, want MMUSERID", cfg.Mattermost.AccountCookie)
	}
	if cfg.Token.DefaultTTL != 15*time.Minute {
		t.Errorf("Token.DefaultTTL = %v, want 15m", cfg.Token.DefaultTTL)
	}
	if cfg.Audit.RetentionDays != 90 {
		t.Errorf("Audit.RetentionDays = %v, want 90", cfg.Audit.RetentionDays)
	}
}

// TestLoadConfigGeneratesWebhookSecret verifies dev-mode secret generation
func TestLoadConfigGeneratesWebhookSecret(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if !cfg.Webhook.GeneratedSecret {
		t.Error("expected GeneratedSecret to be true with no secret configured")
	}
	if !cfg.Webhook.Secret.IsSet() {
		t.Error("generated secret must not be empty")
	}
	if len(cfg.Webhook.Secret.Value()) != 64 {
		t.Errorf("generated secret length = %d, want 64 hex chars", len(cfg.Webhook.Secret.Value()))
	}
}

// TestLoadConfigUsesConfiguredSecret verifies explicit secrets are kept
func TestLoadConfigUsesConfiguredSecret(t *testing.T) {
	t.Setenv("IDBRIDGE_WEBHOOK_SECRET", "configured-secret")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Webhook.GeneratedSecret {
		t.Error("expected GeneratedSecret to be false with a configured secret")
	}
	if cfg.Webhook.Secret.Value() != "configured-secret" {
		t.Errorf("Secret = %v, want configured-secret", cfg.Webhook.Secret.Value())
	}
}

// TestLoadConfigFromEnvironment verifies environment overrides
func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("IDBRIDGE_PORT", "8888")
	t.Setenv("IDBRIDGE_DATABASE_URL", "postgres://localhost/idbridge?sslmode=disable")
	t.Setenv("IDBRIDGE_BREAKER_THRESHOLD", "3")
	t.Setenv("IDBRIDGE_BREAKER_COOLDOWN", "1m")
	t.Setenv("IDBRIDGE_MATTERMOST_URL", "http://mattermost:8065")
	t.Setenv("IDBRIDGE_MATTERMOST_TOKEN", "mm-admin-token")
	t.Setenv("IDBRIDGE_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Server.Port != "8888" {
		t.Errorf("Server.Port = %v, want 8888", cfg.Server.Port)
	}
	if cfg.Store.DatabaseURL != "postgres://localhost/idbridge?sslmode=disable" {
		t.Errorf("Store.DatabaseURL = %v", cfg.Store.DatabaseURL)
	}
	if cfg.Breaker.Threshold != 3 {
		t.Errorf("Breaker.Threshold = %v, want 3", cfg.Breaker.Threshold)
	}
	if cfg.Breaker.Cooldown != time.Minute {
		t.Errorf("Breaker.Cooldown = %v, want 1m", cfg.Breaker.Cooldown)
	}
	if cfg.Mattermost.AdminToken.Value() != "mm-admin-token" {
		t.Errorf("Mattermost.AdminToken = %v", cfg.Mattermost.AdminToken.Value())
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("LogLevel = %v, want debug", cfg.Observability.LogLevel)
	}
	if cfg.ListenAddr() != "0.0.0.0:8888" {
		t.Errorf("ListenAddr() = %v", cfg.ListenAddr())
	}
	if cfg.HealthAddr() != "0.0.0.0:9090" {
		t.Errorf("HealthAddr() = %v", cfg.HealthAddr())
	}
}

// TestDownstreamURLSelection tests the internal-URL override for admin calls
func TestDownstreamURLSelection(t *testing.T) {
	mm := MattermostConfig{BaseURL: "https://chat.example.com"}
	if got := mm.AdminAPIURL(); got != "https://chat.example.com" {
		t.Errorf("AdminAPIURL() = %v, want the public URL", got)
	}

	mm.InternalURL = "http://mattermost.svc:8065"
	if got := mm.AdminAPIURL(); got != "http://mattermost.svc:8065" {
		t.Errorf("AdminAPIURL() = %v, want the internal URL", got)
	}

	n8n := N8NConfig{BaseURL: "https://flows.example.com", InternalURL: "http://n8n.svc:5678"}
	if got := n8n.APIURL(); got != "http://n8n.svc:5678" {
		t.Errorf("APIURL() = %v, want the internal URL", got)
	}
}

// TestValidate tests configuration validation rules
func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{
				Port:         "8080",
				HealthPort:   "9090",
				MaxBodyBytes: 1 << 20,
			},
			Webhook: WebhookConfig{
				Provider: "authentik",
				Secret:   staticSecret("s"),
			},
			Token: TokenConfig{
				SigningSecret: staticSecret(""),
			},
			Mattermost: MattermostConfig{AdminToken: staticSecret("")},
			N8N:        N8NConfig{APIKey: staticSecret("")},
			Breaker: BreakerConfig{
				Threshold: 5,
				Cooldown:  30 * time.Second,
			},
			Audit: AuditConfig{RetentionDays: 90},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port is required",
		},
		{
			name:    "same ports",
			mutate:  func(c *Config) { c.Server.HealthPort = "8080" },
			wantErr: "must be different",
		},
		{
			name:    "zero breaker threshold",
			mutate:  func(c *Config) { c.Breaker.Threshold = 0 },
			wantErr: "breaker threshold",
		},
		{
			name:    "negative cooldown",
			mutate:  func(c *Config) { c.Breaker.Cooldown = -time.Second },
			wantErr: "breaker cooldown",
		},
		{
			name: "mattermost without token",
			mutate: func(c *Config) {
				c.Mattermost.BaseURL = "http://mattermost:8065"
			},
			wantErr: "mattermost admin token is required",
		},
		{
			name: "mattermost internal url without token",
			mutate: func(c *Config) {
				c.Mattermost.InternalURL = "http://mattermost.svc:8065"
			},
			wantErr: "mattermost admin token is required",
		},
		{
			name: "n8n without key",
			mutate: func(c *Config) {
				c.N8N.BaseURL = "http://n8n:5678"
			},
			wantErr: "n8n api key is required",
		},
		{
			name: "oidc issuer without client id",
			mutate: func(c *Config) {
				c.Bridge.OIDCIssuerURL = "https://auth.example.com/application/o/idbridge/"
			},
			wantErr: "OIDC client id is required",
		},
		{
			name: "db audit without postgres",
			mutate: func(c *Config) {
				c.Audit.UseDB = true
				c.Store.DatabaseURL = "/var/lib/idbridge/shadow.db"
			},
			wantErr: "requires a postgres database URL",
		},
		{
			name: "db audit with postgres passes",
			mutate: func(c *Config) {
				c.Audit.UseDB = true
				c.Store.DatabaseURL = "postgres://localhost/idbridge"
			},
		},
		{
			name: "token max below default",
			mutate: func(c *Config) {
				c.Token.SigningSecret = staticSecret("0123456789abcdef")
				c.Token.DefaultTTL = time.Hour
				c.Token.MaxTTL = time.Minute
			},
			wantErr: "token max TTL",
		},
		{
			name:    "zero retention",
			mutate:  func(c *Config) { c.Audit.RetentionDays = 0 },
			wantErr: "audit retention",
		},
		{
			name: "otel enabled without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelServiceName = "idbridge"
			},
			wantErr: "OpenTelemetry endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
