// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache and usage stream (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Session tokens (dashboard surface)
	SessionSecret string        `env:"SESSION_SECRET,required"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	// Credit policy. RechargeCredits is the fixed one-time top-up amount;
	// callers can never supply their own.
	InitialCredits  int64 `env:"INITIAL_CREDITS" envDefault:"4"`
	RechargeCredits int64 `env:"RECHARGE_CREDITS" envDefault:"4"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// StorageTimeout bounds every gate storage call. A charge that does not
	// complete within this interval surfaces as storage unavailable, never
	// as silent success.
	StorageTimeout time.Duration `env:"STORAGE_TIMEOUT" envDefault:"3s"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// UsageWorkerEnabled runs the usage event worker inside the API process.
	// Disable when a dedicated worker deployment consumes the stream.
	UsageWorkerEnabled bool `env:"USAGE_WORKER_ENABLED" envDefault:"true"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// KeyEnv returns the API key environment marker embedded in issued keys.
func (c *Config) KeyEnv() string {
	if c.IsProduction() {
		return "live"
	}
	return "test"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing or values are invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.InitialCredits < 0 {
		return errors.New("INITIAL_CREDITS must not be negative")
	}
	if c.RechargeCredits <= 0 {
		return errors.New("RECHARGE_CREDITS must be positive")
	}
	if c.StorageTimeout <= 0 {
		return errors.New("STORAGE_TIMEOUT must be positive")
	}
	return nil
}
