// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Host     string
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database / cache
	DatabaseURL string
	RedisURL    string

	// Fallback chain (EVM, legacy sessions only)
	RPCURL          string
	ContractAddress string
	PrivateKey      string `json:"-"`
	ChainID         int64

	// Billing scheduler
	BillingIntervalSeconds int64

	// Vendor directory
	VendorServiceURL   string
	VendorServiceToken string

	// Zcash chain gateway
	ZcashRPCURL                  string
	ZcashRPCUser                 string
	ZcashRPCPassword             string
	ZcashServiceWallet           string
	ZcashMinConfirmations        int
	DefaultPermissionDurationDays int

	// Security
	AdminSecret string

	// Database pool settings
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	DBConnMaxLifetime  time.Duration
	DBConnMaxIdleTime  time.Duration
	DBConnectTimeout   int
	DBStatementTimeout int

	// HTTP server timeouts
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RequestTimeout   time.Duration

	// Observability
	OTLPEndpoint string
}

const (
	DefaultHost                          = "0.0.0.0"
	DefaultPort                          = "8080"
	DefaultEnv                           = "development"
	DefaultLogLevel                      = "info"
	DefaultRedisURL                      = "redis://127.0.0.1:6379"
	DefaultBillingIntervalSeconds        = 60
	DefaultZcashRPCURL                   = "http://127.0.0.1:8232"
	DefaultZcashMinConfirmations         = 1
	DefaultPermissionDurationDays        = 30

	DefaultDBMaxOpenConns     = 25
	DefaultDBMaxIdleConns     = 5
	DefaultDBConnMaxLifetime  = 5 * time.Minute
	DefaultDBConnMaxIdleTime  = 3 * time.Minute
	DefaultDBConnectTimeout   = 5
	DefaultDBStatementTimeout = 30000

	DefaultHTTPReadTimeout  = 10 * time.Second
	DefaultHTTPWriteTimeout = 30 * time.Second
	DefaultHTTPIdleTimeout  = 60 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
)

// Load reads configuration from environment variables, loading a .env
// file first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Host:     getEnv("HOST", DefaultHost),
		Port:     getEnv("PORT", DefaultPort),
		Env:      getEnv("ENV", DefaultEnv),
		LogLevel: getEnv("LOG_LEVEL", DefaultLogLevel),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnv("REDIS_URL", DefaultRedisURL),

		RPCURL:          os.Getenv("RPC_URL"),
		ContractAddress: os.Getenv("CONTRACT_ADDRESS"),
		PrivateKey:      os.Getenv("PRIVATE_KEY"),
		ChainID:         getEnvInt64("CHAIN_ID", 0),

		BillingIntervalSeconds: getEnvInt64("BILLING_INTERVAL_SECONDS", DefaultBillingIntervalSeconds),

		VendorServiceURL:   os.Getenv("VENDOR_SERVICE_URL"),
		VendorServiceToken: os.Getenv("VENDOR_SERVICE_TOKEN"),

		ZcashRPCURL:                   getEnv("ZCASH_RPC_URL", DefaultZcashRPCURL),
		ZcashRPCUser:                  os.Getenv("ZCASH_RPC_USER"),
		ZcashRPCPassword:              os.Getenv("ZCASH_RPC_PASSWORD"),
		ZcashServiceWallet:            os.Getenv("ZCASH_SERVICE_WALLET"),
		ZcashMinConfirmations:         int(getEnvInt64("ZCASH_MIN_CONFIRMATIONS", DefaultZcashMinConfirmations)),
		DefaultPermissionDurationDays: int(getEnvInt64("DEFAULT_PERMISSION_DURATION_DAYS", DefaultPermissionDurationDays)),

		AdminSecret: os.Getenv("ADMIN_SECRET"),

		DBMaxOpenConns:     int(getEnvInt64("POSTGRES_MAX_OPEN_CONNS", int64(DefaultDBMaxOpenConns))),
		DBMaxIdleConns:     int(getEnvInt64("POSTGRES_MAX_IDLE_CONNS", int64(DefaultDBMaxIdleConns))),
		DBConnMaxLifetime:  getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", DefaultDBConnMaxLifetime),
		DBConnMaxIdleTime:  getEnvDuration("POSTGRES_CONN_MAX_IDLE_TIME", DefaultDBConnMaxIdleTime),
		DBConnectTimeout:   int(getEnvInt64("POSTGRES_CONNECT_TIMEOUT", int64(DefaultDBConnectTimeout))),
		DBStatementTimeout: int(getEnvInt64("POSTGRES_STATEMENT_TIMEOUT", int64(DefaultDBStatementTimeout))),

		HTTPReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", DefaultHTTPReadTimeout),
		HTTPWriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", DefaultHTTPWriteTimeout),
		HTTPIdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", DefaultHTTPIdleTimeout),
		RequestTimeout:   getEnvDuration("REQUEST_TIMEOUT", DefaultRequestTimeout),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and sane.
// The fallback EVM chain settings are validated only when RPC_URL is set,
// since the fallback path is optional.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.ZcashServiceWallet == "" {
		return fmt.Errorf("ZCASH_SERVICE_WALLET is required")
	}
	if c.VendorServiceURL == "" {
		return fmt.Errorf("VENDOR_SERVICE_URL is required")
	}

	if c.RPCURL != "" {
		key := c.PrivateKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix) when RPC_URL is set")
		}
	}

	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}

	if c.BillingIntervalSeconds < 1 {
		return fmt.Errorf("BILLING_INTERVAL_SECONDS must be at least 1, got %d", c.BillingIntervalSeconds)
	}
	if c.ZcashMinConfirmations < 0 {
		return fmt.Errorf("ZCASH_MIN_CONFIRMATIONS must be non-negative")
	}
	if c.DefaultPermissionDurationDays < 1 || c.DefaultPermissionDurationDays > 365 {
		return fmt.Errorf("DEFAULT_PERMISSION_DURATION_DAYS must be in [1, 365]")
	}

	if c.DBStatementTimeout < 1000 {
		return fmt.Errorf("POSTGRES_STATEMENT_TIMEOUT must be at least 1000ms, got %d", c.DBStatementTimeout)
	}
	if c.HTTPWriteTimeout > 0 && c.RequestTimeout > 0 && c.HTTPWriteTimeout < c.RequestTimeout {
		return fmt.Errorf("HTTP_WRITE_TIMEOUT (%v) must be >= REQUEST_TIMEOUT (%v)", c.HTTPWriteTimeout, c.RequestTimeout)
	}

	if c.IsProduction() && c.AdminSecret == "" {
		slog.Warn("ADMIN_SECRET not set — admin endpoints accept any authenticated request")
	}
	if c.IsProduction() && isLoopbackURL(c.ZcashRPCURL) {
		slog.Warn("ZCASH_RPC_URL points at loopback in production — chain gateway test-mode synthesis will activate")
	}

	return nil
}

func (c *Config) IsDevelopment() bool { return c.Env == "development" }
func (c *Config) IsProduction() bool  { return c.Env == "production" }

func isLoopbackURL(u string) bool {
	return strings.Contains(u, "127.0.0.1") || strings.Contains(u, "localhost") || strings.Contains(u, "::1")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
