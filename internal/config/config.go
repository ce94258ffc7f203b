// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Decision policy
	ReviewThreshold float64
	BlockThreshold  float64

	// Rule limits
	HourlyCountLimit  float64
	HourlyAmountLimit float64
	DailyCountLimit   float64
	DailyAmountLimit  float64

	// Entity state
	StateRetention time.Duration // how long entity state survives without activity

	// Pipeline
	DedupeTTL     time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration

	// Security
	WebhookAdminSecret string // protects webhook subscription management endpoints
	RateLimitRPS       int

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
}

const (
	DefaultPort     = "8080"
	DefaultEnv      = "development"
	DefaultLogLevel = "info"

	DefaultReviewThreshold = 50.0
	DefaultBlockThreshold  = 90.0

	DefaultHourlyCountLimit  = 10
	DefaultHourlyAmountLimit = 10000
	DefaultDailyCountLimit   = 50
	DefaultDailyAmountLimit  = 50000

	DefaultStateRetention = 30 * 24 * time.Hour
	DefaultDedupeTTL      = 24 * time.Hour
	DefaultRetryAttempts  = 3
	DefaultRetryBackoff   = 50 * time.Millisecond
	DefaultRateLimit      = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ReviewThreshold:    getEnvFloat("REVIEW_THRESHOLD", DefaultReviewThreshold),
		BlockThreshold:     getEnvFloat("BLOCK_THRESHOLD", DefaultBlockThreshold),
		HourlyCountLimit:   getEnvFloat("HOURLY_COUNT_LIMIT", DefaultHourlyCountLimit),
		HourlyAmountLimit:  getEnvFloat("HOURLY_AMOUNT_LIMIT", DefaultHourlyAmountLimit),
		DailyCountLimit:    getEnvFloat("DAILY_COUNT_LIMIT", DefaultDailyCountLimit),
		DailyAmountLimit:   getEnvFloat("DAILY_AMOUNT_LIMIT", DefaultDailyAmountLimit),
		StateRetention:     getEnvDuration("STATE_RETENTION", DefaultStateRetention),
		DedupeTTL:          getEnvDuration("DEDUPE_TTL", DefaultDedupeTTL),
		RetryAttempts:      int(getEnvInt64("STATE_RETRY_ATTEMPTS", DefaultRetryAttempts)),
		RetryBackoff:       getEnvDuration("STATE_RETRY_BACKOFF", DefaultRetryBackoff),
		WebhookAdminSecret: os.Getenv("WEBHOOK_ADMIN_SECRET"),
		RateLimitRPS:       int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		OTLPEndpoint:       os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.ReviewThreshold < 0 || c.BlockThreshold < 0 {
		return fmt.Errorf("decision thresholds must be non-negative")
	}
	if c.ReviewThreshold > c.BlockThreshold {
		return fmt.Errorf("REVIEW_THRESHOLD (%.1f) must not exceed BLOCK_THRESHOLD (%.1f)", c.ReviewThreshold, c.BlockThreshold)
	}
	if c.HourlyCountLimit <= 0 || c.HourlyAmountLimit <= 0 || c.DailyCountLimit <= 0 || c.DailyAmountLimit <= 0 {
		return fmt.Errorf("rule limits must be positive")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("STATE_RETRY_ATTEMPTS must be at least 1")
	}
	if c.DedupeTTL <= 0 {
		return fmt.Errorf("DEDUPE_TTL must be positive")
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
