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

	// Model artifacts and reference data
	ModelDir    string // directory holding the trained model artifacts
	DatasetPath string // CSV with canonical transactions for the stream sampler

	// Streaming
	StreamInterval time.Duration // gap between pushed verdicts per session
	MaxSessions    int           // cap on concurrent websocket sessions

	// Security
	RateLimitRPM int

	// Tracing
	OTLPEndpoint string // OTLP gRPC collector address (optional, tracing off if unset)
}

const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultModelDir       = "./models"
	DefaultDatasetPath    = "./data/transactions.csv"
	DefaultStreamInterval = 2 * time.Second
	DefaultMaxSessions    = 10000
	DefaultRateLimit      = 300
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:    os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ModelDir:       getEnv("MODEL_DIR", DefaultModelDir),
		DatasetPath:    getEnv("DATASET_PATH", DefaultDatasetPath),
		StreamInterval: getEnvDuration("STREAM_INTERVAL", DefaultStreamInterval),
		MaxSessions:    int(getEnvInt64("MAX_SESSIONS", DefaultMaxSessions)),
		RateLimitRPM:   int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.ModelDir == "" {
		return fmt.Errorf("MODEL_DIR is required")
	}
	if c.DatasetPath == "" {
		return fmt.Errorf("DATASET_PATH is required")
	}
	if c.StreamInterval <= 0 {
		return fmt.Errorf("STREAM_INTERVAL must be positive")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("MAX_SESSIONS must be positive")
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
