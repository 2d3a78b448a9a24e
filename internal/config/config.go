package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Pesepay  PesepayConfig
	LMS      LMSConfig
	Secrets  SecretsConfig
	Auth     AuthConfig
	Logger   LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int
	Host        string
	MetricsPort int

	// PublicBaseURL is the externally reachable base URL Pesepay redirects
	// and posts back to, e.g. "https://pay.example.org"
	PublicBaseURL string

	// Rate limiting for the public callback routes
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// PesepayConfig holds Pesepay gateway configuration
type PesepayConfig struct {
	BaseURL string // e.g. https://api.pesepay.com

	// IntegrationKeySecret names the secret holding the integration key in
	// the configured secrets backend. IntegrationKey is a plain-env override
	// for local development.
	IntegrationKeySecret string
	IntegrationKey       string

	SupportedCurrencies []string
	SurchargePercent    float64
	Timeout             int // request timeout in seconds (default: 30)
}

// LMSConfig holds host LMS payment API configuration
type LMSConfig struct {
	BaseURL string // e.g. https://lms.example.org/api/payments

	// APITokenSecret names the secret holding the service token; APIToken is
	// a plain-env override for local development.
	APITokenSecret string
	APIToken       string

	// Browser destinations for non-success outcomes
	PendingURL string
	ErrorURL   string
}

// SecretsConfig selects and configures the secrets backend
type SecretsConfig struct {
	Provider string // aws, vault, local

	AWSRegion   string
	AWSProfile  string
	AWSEndpoint string

	VaultAddress   string
	VaultToken     string
	VaultMountPath string

	LocalBasePath string

	CacheTTLSeconds int
	EnableCache     bool
}

// AuthConfig holds session token configuration
type AuthConfig struct {
	// SessionSecretName names the HS256 secret shared with the host LMS;
	// SessionSecret is a plain-env override for local development.
	SessionSecretName string
	SessionSecret     string
	Issuer            string
	ExpirySeconds     int
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			Host:               getEnv("SERVER_HOST", "0.0.0.0"),
			MetricsPort:        getEnvAsInt("METRICS_PORT", 9090),
			PublicBaseURL:      getEnv("PUBLIC_BASE_URL", ""),
			RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 10),
			RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "pesepay_gateway"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Pesepay: PesepayConfig{
			BaseURL:              getEnv("PESEPAY_BASE_URL", "https://api.pesepay.com"),
			IntegrationKeySecret: getEnv("PESEPAY_INTEGRATION_KEY_SECRET", "pesepay/integration-key"),
			IntegrationKey:       getEnv("PESEPAY_INTEGRATION_KEY", ""),
			SupportedCurrencies:  getEnvAsList("PESEPAY_CURRENCIES", []string{"USD", "ZIG"}),
			SurchargePercent:     getEnvAsFloat("PESEPAY_SURCHARGE_PERCENT", 0),
			Timeout:              getEnvAsInt("PESEPAY_TIMEOUT", 30),
		},
		LMS: LMSConfig{
			BaseURL:        getEnv("LMS_API_BASE_URL", ""),
			APITokenSecret: getEnv("LMS_API_TOKEN_SECRET", "lms/api-token"),
			APIToken:       getEnv("LMS_API_TOKEN", ""),
			PendingURL:     getEnv("LMS_PENDING_URL", ""),
			ErrorURL:       getEnv("LMS_ERROR_URL", ""),
		},
		Secrets: SecretsConfig{
			Provider:        getEnv("SECRETS_PROVIDER", "local"),
			AWSRegion:       getEnv("AWS_REGION", "af-south-1"),
			AWSProfile:      getEnv("AWS_PROFILE", ""),
			AWSEndpoint:     getEnv("AWS_SECRETS_ENDPOINT", ""),
			VaultAddress:    getEnv("VAULT_ADDR", ""),
			VaultToken:      getEnv("VAULT_TOKEN", ""),
			VaultMountPath:  getEnv("VAULT_MOUNT_PATH", "secret"),
			LocalBasePath:   getEnv("SECRETS_LOCAL_PATH", "/etc/pesepay-gateway/secrets"),
			CacheTTLSeconds: getEnvAsInt("SECRETS_CACHE_TTL", 300),
			EnableCache:     getEnvAsBool("SECRETS_CACHE_ENABLED", true),
		},
		Auth: AuthConfig{
			SessionSecretName: getEnv("SESSION_SECRET_NAME", "lms/session-secret"),
			SessionSecret:     getEnv("SESSION_SECRET", ""),
			Issuer:            getEnv("SESSION_ISSUER", "lms"),
			ExpirySeconds:     getEnvAsInt("SESSION_EXPIRY_SECONDS", 3600),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	// Validate required fields
	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Server.PublicBaseURL == "" {
		return nil, fmt.Errorf("PUBLIC_BASE_URL is required")
	}
	if cfg.LMS.BaseURL == "" {
		return nil, fmt.Errorf("LMS_API_BASE_URL is required")
	}

	return cfg, nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
