// Package config loads server configuration from environment variables.
//
// Required variables:
//   - DATABASE_URL: PostgreSQL connection string.
//
// Optional variables:
//   - HTTP_ADDR: listen address for the HTTP server (default ":8080").
//   - LOG_LEVEL: slog level name (default "info").
//   - AUTH_RATE_LIMIT: max failed auth attempts per IP per minute
//     (default "10", must be > 0 if set).
//   - MAX_JSON_BODY_SIZE: max HTTP JSON request body size in bytes
//     (default "1048576", must be > 0 if set).
//   - WEBHOOK_TIMEOUT: per-attempt webhook delivery timeout
//     (default "5s", must be > 0 if set).
//   - WEBHOOK_MAX_RETRIES: additional delivery attempts after a failed send
//     (default "1", must be >= 0 if set).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPAddr                = ":8080"
	defaultAuthRateLimit           = 10
	defaultMaxJSONBodySize   int64 = 1 << 20 // 1MB
	defaultWebhookTimeout          = 5 * time.Second
	defaultWebhookMaxRetries       = 1
)

// Config holds the runtime configuration for the phlagd server.
type Config struct {
	DatabaseURL       string
	HTTPAddr          string
	LogLevel          string
	AuthRateLimit     int
	MaxJSONBodySize   int64
	WebhookTimeout    time.Duration
	WebhookMaxRetries int
}

// Load reads configuration from environment variables, applying defaults where
// appropriate. It returns an error if required variables are missing or if
// optional values fail validation.
func Load() (Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	authRateLimit := defaultAuthRateLimit
	if value := strings.TrimSpace(os.Getenv("AUTH_RATE_LIMIT")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse AUTH_RATE_LIMIT: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("AUTH_RATE_LIMIT must be > 0")
		}
		authRateLimit = parsed
	}

	maxJSONBodySize := defaultMaxJSONBodySize
	if v := strings.TrimSpace(os.Getenv("MAX_JSON_BODY_SIZE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
		}
		maxJSONBodySize = n
	}

	webhookTimeout := defaultWebhookTimeout
	if v := strings.TrimSpace(os.Getenv("WEBHOOK_TIMEOUT")); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse WEBHOOK_TIMEOUT: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("WEBHOOK_TIMEOUT must be > 0")
		}
		webhookTimeout = parsed
	}

	webhookMaxRetries := defaultWebhookMaxRetries
	if v := strings.TrimSpace(os.Getenv("WEBHOOK_MAX_RETRIES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, errors.New("WEBHOOK_MAX_RETRIES must be a non-negative integer")
		}
		webhookMaxRetries = n
	}

	return Config{
		DatabaseURL:       databaseURL,
		HTTPAddr:          envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		AuthRateLimit:     authRateLimit,
		MaxJSONBodySize:   maxJSONBodySize,
		WebhookTimeout:    webhookTimeout,
		WebhookMaxRetries: webhookMaxRetries,
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
