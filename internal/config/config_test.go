package config

import (
	"testing"
	"time"
)

func TestLoad_RequiredDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail when DATABASE_URL is empty")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("AUTH_RATE_LIMIT", "")
	t.Setenv("MAX_JSON_BODY_SIZE", "")
	t.Setenv("WEBHOOK_TIMEOUT", "")
	t.Setenv("WEBHOOK_MAX_RETRIES", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.AuthRateLimit != 10 {
		t.Errorf("AuthRateLimit = %d, want 10", cfg.AuthRateLimit)
	}
	if cfg.MaxJSONBodySize != 1<<20 {
		t.Errorf("MaxJSONBodySize = %d, want 1MB", cfg.MaxJSONBodySize)
	}
	if cfg.WebhookTimeout != 5*time.Second {
		t.Errorf("WebhookTimeout = %v, want 5s", cfg.WebhookTimeout)
	}
	if cfg.WebhookMaxRetries != 1 {
		t.Errorf("WebhookMaxRetries = %d, want 1", cfg.WebhookMaxRetries)
	}
}

func TestLoad_WebhookTimeout_Invalid(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("WEBHOOK_TIMEOUT", "not-a-duration")
	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail for invalid WEBHOOK_TIMEOUT")
	}
}

func TestLoad_WebhookTimeout_Zero(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("WEBHOOK_TIMEOUT", "0s")
	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail for zero WEBHOOK_TIMEOUT")
	}
}

func TestLoad_WebhookMaxRetries(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("WEBHOOK_MAX_RETRIES", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WebhookMaxRetries != 0 {
		t.Errorf("WebhookMaxRetries = %d, want 0", cfg.WebhookMaxRetries)
	}

	t.Setenv("WEBHOOK_MAX_RETRIES", "-1")
	if _, err := Load(); err == nil {
		t.Fatal("Load() should fail for negative WEBHOOK_MAX_RETRIES")
	}
}

func TestLoad_AuthRateLimit_Invalid(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("AUTH_RATE_LIMIT", "0")
	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail for zero AUTH_RATE_LIMIT")
	}
}

func TestLoad_MaxJSONBodySize_Invalid(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("MAX_JSON_BODY_SIZE", "zero")
	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail for non-numeric MAX_JSON_BODY_SIZE")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("HTTP_ADDR", ":3000")
	t.Setenv("WEBHOOK_TIMEOUT", "10s")
	t.Setenv("WEBHOOK_MAX_RETRIES", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPAddr != ":3000" {
		t.Errorf("HTTPAddr = %q, want :3000", cfg.HTTPAddr)
	}
	if cfg.WebhookTimeout != 10*time.Second {
		t.Errorf("WebhookTimeout = %v, want 10s", cfg.WebhookTimeout)
	}
	if cfg.WebhookMaxRetries != 3 {
		t.Errorf("WebhookMaxRetries = %d, want 3", cfg.WebhookMaxRetries)
	}
}

func TestEnvOrDefault_EmptyReturnsDefault(t *testing.T) {
	t.Setenv("TEST_KEY", "")
	got := envOrDefault("TEST_KEY", "fallback")
	if got != "fallback" {
		t.Errorf("envOrDefault() = %q, want %q", got, "fallback")
	}
}

func TestEnvOrDefault_WhitespaceReturnsDefault(t *testing.T) {
	t.Setenv("TEST_KEY", "   ")
	got := envOrDefault("TEST_KEY", "fallback")
	if got != "fallback" {
		t.Errorf("envOrDefault() = %q, want %q", got, "fallback")
	}
}

func TestEnvOrDefault_ValueReturnsValue(t *testing.T) {
	t.Setenv("TEST_KEY", " value ")
	got := envOrDefault("TEST_KEY", "fallback")
	if got != "value" {
		t.Errorf("envOrDefault() = %q, want %q", got, "value")
	}
}
