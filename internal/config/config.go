// Package config loads and validates guard config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Event log backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds guard configuration loaded from the environment.
type Config struct {
	// APIBaseURL is the https base of the protected API (e.g. https://api.example.com/v1).
	APIBaseURL string `mapstructure:"API_BASE_URL"`
	// APIAllowedHosts is a comma-separated list of extra hosts requests may target.
	APIAllowedHosts string `mapstructure:"API_ALLOWED_HOSTS"`
	// RequestTimeout is the per-request timeout (e.g. "15s").
	RequestTimeout string `mapstructure:"REQUEST_TIMEOUT"`
	// RefreshPath is the token refresh endpoint relative to APIBaseURL.
	RefreshPath string `mapstructure:"REFRESH_PATH"`

	// SecureStorePath is the bbolt file holding the encrypted token store.
	SecureStorePath string `mapstructure:"SECURE_STORE_PATH"`
	// SecureStorePassphrase unlocks the store; checked by the CLI when the store is opened.
	SecureStorePassphrase string `mapstructure:"SECURE_STORE_PASSPHRASE"`

	// IdentityPublicKey is the PEM public key (or path) that verifies access tokens. Empty reads claims unverified.
	IdentityPublicKey string `mapstructure:"IDENTITY_PUBLIC_KEY"`
	// IdentityIssuer, when set, must match the iss claim.
	IdentityIssuer string `mapstructure:"IDENTITY_ISSUER"`

	// EventLogBackend is memory, postgres or redis.
	EventLogBackend string `mapstructure:"EVENT_LOG_BACKEND"`
	// DatabaseURL is the Postgres DSN; required for the postgres backend.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the Redis URL; required for the redis backend.
	RedisURL string `mapstructure:"REDIS_URL"`
	// EventRetentionDays is how long `events cleanup` keeps events.
	EventRetentionDays int `mapstructure:"EVENT_RETENTION_DAYS"`

	// PrivilegePolicyFile optionally replaces the built-in privilege rules with a Rego module.
	PrivilegePolicyFile string `mapstructure:"PRIVILEGE_POLICY_FILE"`

	// OTLPEndpoint enables OpenTelemetry export when set (e.g. localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName  string `mapstructure:"OTEL_SERVICE_NAME"`

	// Env is the application environment (e.g. "development", "production").
	Env        string `mapstructure:"APP_ENV"`
	Platform   string `mapstructure:"APP_PLATFORM"`
	AppVersion string `mapstructure:"APP_VERSION"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // ignore missing file
	}

	v.AutomaticEnv()

	v.SetDefault("API_BASE_URL", "")
	v.SetDefault("API_ALLOWED_HOSTS", "")
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("REFRESH_PATH", "/auth/refresh")
	v.SetDefault("SECURE_STORE_PATH", "ztguard.db")
	v.SetDefault("SECURE_STORE_PASSPHRASE", "")
	v.SetDefault("IDENTITY_PUBLIC_KEY", "")
	v.SetDefault("IDENTITY_ISSUER", "")
	v.SetDefault("EVENT_LOG_BACKEND", BackendMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("EVENT_RETENTION_DAYS", 30)
	v.SetDefault("PRIVILEGE_POLICY_FILE", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "ztguard")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("APP_PLATFORM", "cli")
	v.SetDefault("APP_VERSION", "dev")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and backend settings.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("config: API_BASE_URL must be set")
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("config: API_BASE_URL %q is not a valid URL", c.APIBaseURL)
	}
	if u.Scheme != "https" {
		return errors.New("config: API_BASE_URL must use https")
	}

	c.EventLogBackend = strings.ToLower(strings.TrimSpace(c.EventLogBackend))
	switch c.EventLogBackend {
	case "":
		c.EventLogBackend = BackendMemory
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when EVENT_LOG_BACKEND=postgres")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("config: REDIS_URL must be set when EVENT_LOG_BACKEND=redis")
		}
	default:
		return fmt.Errorf("config: unknown EVENT_LOG_BACKEND %q", c.EventLogBackend)
	}

	if c.EventRetentionDays < 0 {
		return errors.New("config: EVENT_RETENTION_DAYS must not be negative")
	}
	return nil
}

// Timeout parses RequestTimeout as a time.Duration. Returns 15s if unset or invalid.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// Retention returns EventRetentionDays as a duration. Returns 30 days if unset.
func (c *Config) Retention() time.Duration {
	if c.EventRetentionDays <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(c.EventRetentionDays) * 24 * time.Hour
}

// AllowedHosts returns extra hosts from the comma-separated config.
func (c *Config) AllowedHosts() []string {
	if c == nil || c.APIAllowedHosts == "" {
		return nil
	}
	parts := strings.Split(c.APIAllowedHosts, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
