package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Binance Futures API
	BinanceBaseURL     string
	BinanceHTTPTimeout time.Duration

	// Ingestion
	PollInterval       time.Duration
	PollLookback       time.Duration
	BackfillLookback   time.Duration
	AuthFailureBackoff time.Duration
	SymbolCacheTTL     time.Duration

	// Review scheduling
	ReviewDeadline        time.Duration
	GenerationMaxAttempts int
	GenerationBackoff     time.Duration

	// Review generator service
	GeneratorURL     string
	GeneratorTimeout time.Duration

	// Storage
	StorageMode  string // "sqlite", "postgres" or "memory"
	SQLitePath   string
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string

	// Event bus (optional)
	RedisAddr   string // empty disables the Redis publisher
	RedisStream string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		// Application defaults
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		// Binance defaults
		BinanceBaseURL:     getEnvOrDefault("BINANCE_BASE_URL", "https://fapi.binance.com"),
		BinanceHTTPTimeout: getDurationOrDefault("BINANCE_HTTP_TIMEOUT", 10*time.Second),

		// Ingestion defaults
		PollInterval:       getDurationOrDefault("POLL_INTERVAL", 30*time.Second),
		PollLookback:       getDurationOrDefault("POLL_LOOKBACK", 5*time.Minute),
		BackfillLookback:   getDurationOrDefault("BACKFILL_LOOKBACK", 24*time.Hour),
		AuthFailureBackoff: getDurationOrDefault("AUTH_FAILURE_BACKOFF", 10*time.Minute),
		SymbolCacheTTL:     getDurationOrDefault("SYMBOL_CACHE_TTL", 5*time.Minute),

		// Review scheduling defaults
		ReviewDeadline:        getDurationOrDefault("REVIEW_DEADLINE", 60*time.Second),
		GenerationMaxAttempts: getIntOrDefault("GENERATION_MAX_ATTEMPTS", 3),
		GenerationBackoff:     getDurationOrDefault("GENERATION_RETRY_BACKOFF", 2*time.Second),

		// Generator defaults
		GeneratorURL:     getEnvOrDefault("GENERATOR_URL", "http://localhost:8000"),
		GeneratorTimeout: getDurationOrDefault("GENERATOR_TIMEOUT", 15*time.Second),

		// Storage defaults
		StorageMode:  getEnvOrDefault("STORAGE_MODE", "sqlite"),
		SQLitePath:   getEnvOrDefault("SQLITE_PATH", "tradereflect.db"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "tradereflect"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", ""),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "tradereflect"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),

		// Event bus defaults
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		RedisStream: getEnvOrDefault("REDIS_STREAM", "tradereflect-events"),
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if c.BinanceBaseURL == "" {
		return fmt.Errorf("BINANCE_BASE_URL cannot be empty")
	}

	if c.GeneratorURL == "" {
		return fmt.Errorf("GENERATOR_URL cannot be empty")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}

	if c.PollLookback <= 0 {
		return fmt.Errorf("POLL_LOOKBACK must be positive, got %s", c.PollLookback)
	}

	if c.BackfillLookback < c.PollLookback {
		return fmt.Errorf("BACKFILL_LOOKBACK must be at least POLL_LOOKBACK, got %s < %s",
			c.BackfillLookback, c.PollLookback)
	}

	if c.ReviewDeadline <= 0 {
		return fmt.Errorf("REVIEW_DEADLINE must be positive, got %s", c.ReviewDeadline)
	}

	if c.GenerationMaxAttempts < 1 {
		return fmt.Errorf("GENERATION_MAX_ATTEMPTS must be at least 1, got %d", c.GenerationMaxAttempts)
	}

	if c.StorageMode != "sqlite" && c.StorageMode != "postgres" && c.StorageMode != "memory" {
		return fmt.Errorf("STORAGE_MODE must be 'sqlite', 'postgres' or 'memory', got %q", c.StorageMode)
	}

	return nil
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}
