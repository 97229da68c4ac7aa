// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store backend names accepted by KIROKU_STORE.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Storage settings. Store selects the backend; StorePath is the SQLite
	// file, DatabaseURL the Postgres DSN (only read for their backend).
	Store       string
	StorePath   string
	DatabaseURL string

	// Auth settings. Auth is enabled when APIKey is set: clients exchange
	// the key for a short-lived bearer token at /auth/token.
	APIKey        string
	JWTSecret     string
	JWTExpiration time.Duration

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Operational settings.
	LogLevel            string
	SeedFile            string // optional JSON file of reports loaded at startup
	MaxRequestBodyBytes int64
	RateLimitRPS        float64 // per-client sustained request rate; 0 disables
	RateLimitBurst      int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("KIROKU_PORT", 8080),
		ReadTimeout:         envDuration("KIROKU_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("KIROKU_WRITE_TIMEOUT", 30*time.Second),
		Store:               envStr("KIROKU_STORE", StoreSQLite),
		StorePath:           envStr("KIROKU_STORE_PATH", "kiroku.db"),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		APIKey:              envStr("KIROKU_API_KEY", ""),
		JWTSecret:           envStr("KIROKU_JWT_SECRET", ""),
		JWTExpiration:       envDuration("KIROKU_JWT_EXPIRATION", 24*time.Hour),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "kiroku"),
		LogLevel:            envStr("KIROKU_LOG_LEVEL", "info"),
		SeedFile:            envStr("KIROKU_SEED_FILE", ""),
		MaxRequestBodyBytes: int64(envInt("KIROKU_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
		RateLimitRPS:        envFloat("KIROKU_RATE_LIMIT_RPS", 50),
		RateLimitBurst:      envInt("KIROKU_RATE_LIMIT_BURST", 100),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	switch c.Store {
	case StoreSQLite:
		if c.StorePath == "" {
			return fmt.Errorf("config: KIROKU_STORE_PATH is required for the sqlite store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown store %q (want sqlite, postgres, or memory)", c.Store)
	}
	if c.APIKey != "" && c.JWTSecret == "" {
		return fmt.Errorf("config: KIROKU_JWT_SECRET is required when KIROKU_API_KEY is set")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: KIROKU_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("config: KIROKU_RATE_LIMIT_RPS must not be negative")
	}
	return nil
}

// AuthEnabled reports whether the server requires bearer tokens.
func (c Config) AuthEnabled() bool { return c.APIKey != "" }

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
