// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Clock sources.
const (
	ClockSystem = "system"
	ClockBlock  = "block"
	ClockManual = "manual"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database (optional, uses in-memory stores if not set)
	DatabaseURL string

	// Chain settings. With no RPC URL the swap vault is the in-memory pod
	// ledger instead of an on-chain operator wallet.
	RPCURL     string
	ChainID    int64
	PrivateKey string // Hex-encoded operator key, with or without 0x

	// Time
	ClockSource        string
	AllowClockOverride bool

	// Registered pod assets (TOML). Empty accepts any token.
	AssetsFile string

	// Observability
	OTLPEndpoint     string
	TraceSampleRatio float64

	// Browser origins allowed by CORS and the WebSocket upgrade.
	AllowedOrigins []string

	// Limits and background work
	RateLimitRPM        int
	ExpiryCheckInterval time.Duration
}

// Defaults
const (
	DefaultChainID             = 84532 // Base Sepolia
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultRateLimitRPM        = 120
	DefaultExpiryCheckInterval = 30 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RPCURL:              os.Getenv("RPC_URL"),
		ChainID:             getEnvInt64("CHAIN_ID", DefaultChainID),
		PrivateKey:          os.Getenv("PRIVATE_KEY"),
		ClockSource:         strings.ToLower(getEnv("CLOCK_SOURCE", ClockSystem)),
		AllowClockOverride:  getEnvBool("ALLOW_CLOCK_OVERRIDE", false),
		AssetsFile:          os.Getenv("ASSETS_FILE"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:    getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		AllowedOrigins:      getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		ExpiryCheckInterval: getEnvDuration("EXPIRY_CHECK_INTERVAL", DefaultExpiryCheckInterval),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is consistent
func (c *Config) Validate() error {
	if c.RPCURL != "" {
		if c.PrivateKey == "" {
			return fmt.Errorf("PRIVATE_KEY is required when RPC_URL is set")
		}
		key := strings.TrimPrefix(c.PrivateKey, "0x")
		if len(key) != 64 {
			return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
		if c.ChainID <= 0 {
			return fmt.Errorf("CHAIN_ID must be positive")
		}
	}

	switch c.ClockSource {
	case ClockSystem, ClockManual:
	case ClockBlock:
		if c.RPCURL == "" {
			return fmt.Errorf("CLOCK_SOURCE=block requires RPC_URL")
		}
	default:
		return fmt.Errorf("CLOCK_SOURCE must be one of system, block, manual (got %q)", c.ClockSource)
	}

	if c.IsProduction() && (c.AllowClockOverride || c.ClockSource == ClockManual) {
		return fmt.Errorf("clock override is not allowed in production")
	}

	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	if c.ExpiryCheckInterval <= 0 {
		return fmt.Errorf("EXPIRY_CHECK_INTERVAL must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// OnChain reports whether swaps escrow real tokens through an RPC node.
func (c *Config) OnChain() bool {
	return c.RPCURL != ""
}

// ClockOverrideEnabled reports whether the test-only setClock endpoint is served.
func (c *Config) ClockOverrideEnabled() bool {
	return !c.IsProduction() && (c.AllowClockOverride || c.ClockSource == ClockManual)
}

// Helper functions

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

func getEnvList(key string, defaultValue []string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
