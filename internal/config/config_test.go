package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	t.Setenv("ANALOGDB_API_URL", "https://api.analogdb.com")
}

func TestLoad_AllRequiredVarsSet_ReturnsConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.APIURL != "https://api.analogdb.com" {
		t.Errorf("APIURL = %q, want %q", cfg.APIURL, "https://api.analogdb.com")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.APITimeout != 10*time.Second {
		t.Errorf("APITimeout = %v, want %v", cfg.APITimeout, 10*time.Second)
	}
	if cfg.FeedPageSize != 100 {
		t.Errorf("FeedPageSize = %d, want 100", cfg.FeedPageSize)
	}
	if cfg.ProximityThreshold != 10 {
		t.Errorf("ProximityThreshold = %d, want 10", cfg.ProximityThreshold)
	}
	if cfg.CacheSize != 512 {
		t.Errorf("CacheSize = %d, want 512", cfg.CacheSize)
	}
	if cfg.CacheTTL != time.Minute {
		t.Errorf("CacheTTL = %v, want 1m", cfg.CacheTTL)
	}
	if cfg.RedisURL != "" {
		t.Errorf("RedisURL = %q, want empty", cfg.RedisURL)
	}
	if cfg.WarmInterval != time.Minute {
		t.Errorf("WarmInterval = %v, want 1m", cfg.WarmInterval)
	}
	if cfg.VisitorSessionMax != 10000 {
		t.Errorf("VisitorSessionMax = %d, want 10000", cfg.VisitorSessionMax)
	}
	if cfg.VisitorSessionTTL != 30*time.Minute {
		t.Errorf("VisitorSessionTTL = %v, want 30m", cfg.VisitorSessionTTL)
	}
	if cfg.RateLimitPerMinute != 240 {
		t.Errorf("RateLimitPerMinute = %d, want 240", cfg.RateLimitPerMinute)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "8080")
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.CORSAllowedOrigin != "http://localhost:3000" {
		t.Errorf("CORSAllowedOrigin = %q", cfg.CORSAllowedOrigin)
	}
	if cfg.OTelEndpoint != "" || cfg.OTelServiceName != "analogview" || cfg.OTelSampleRatio != 0.1 {
		t.Errorf("OTel = %q/%q/%v", cfg.OTelEndpoint, cfg.OTelServiceName, cfg.OTelSampleRatio)
	}
	if cfg.Level() != slog.LevelInfo {
		t.Errorf("Level() = %v, want INFO", cfg.Level())
	}
	if cfg.CookieSecure() {
		t.Error("http の BASE_URL では CookieSecure = false であるべき")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("AUTH_USERNAME", "admin")
	t.Setenv("AUTH_PASSWORD", "secret")
	t.Setenv("API_TIMEOUT", "3s")
	t.Setenv("FEED_PAGE_SIZE", "20")
	t.Setenv("CACHE_SIZE", "64")
	t.Setenv("CACHE_TTL", "5m")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "60")
	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("BASE_URL", "https://analogdb.com")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://otel:4318")
	t.Setenv("OTEL_TRACE_SAMPLE_RATIO", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.AuthUsername != "admin" || cfg.AuthPassword != "secret" {
		t.Errorf("Auth = %q/%q", cfg.AuthUsername, cfg.AuthPassword)
	}
	if cfg.APITimeout != 3*time.Second {
		t.Errorf("APITimeout = %v", cfg.APITimeout)
	}
	if cfg.FeedPageSize != 20 || cfg.CacheSize != 64 || cfg.CacheTTL != 5*time.Minute {
		t.Errorf("feed/cache = %d/%d/%v", cfg.FeedPageSize, cfg.CacheSize, cfg.CacheTTL)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.RateLimitPerMinute != 60 || cfg.ServerPort != "3000" {
		t.Errorf("rate/port = %d/%q", cfg.RateLimitPerMinute, cfg.ServerPort)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("Level() = %v, want DEBUG", cfg.Level())
	}
	if !cfg.CookieSecure() {
		t.Error("https の BASE_URL では CookieSecure = true であるべき")
	}
	if cfg.OTelEndpoint != "http://otel:4318" || cfg.OTelSampleRatio != 1 {
		t.Errorf("OTel = %q/%v", cfg.OTelEndpoint, cfg.OTelSampleRatio)
	}
}

func TestLoad_MissingAPIURL_ReturnsError(t *testing.T) {
	t.Setenv("ANALOGDB_API_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing ANALOGDB_API_URL, got nil")
	}
	if !strings.Contains(err.Error(), "ANALOGDB_API_URL") {
		t.Errorf("error should mention ANALOGDB_API_URL: %v", err)
	}
}

func TestLoad_InvalidDuration_ReturnsError(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("API_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid API_TIMEOUT, got nil")
	}
}

func TestLoad_OutOfRangeValues_ReturnsAllErrors(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("FEED_PAGE_SIZE", "500")
	t.Setenv("OTEL_TRACE_SAMPLE_RATIO", "2")
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, key := range []string{"FEED_PAGE_SIZE", "OTEL_TRACE_SAMPLE_RATIO", "LOG_LEVEL"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error should mention %s: %v", key, err)
		}
	}
}

func TestValidate_RejectsNonHTTPAPIURL(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("ANALOGDB_API_URL", "ftp://api.analogdb.com")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for ftp ANALOGDB_API_URL, got nil")
	}
}

func TestLoadClient_DoesNotRequireAPIURL(t *testing.T) {
	t.Setenv("ANALOGDB_API_URL", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.APITimeout != 10*time.Second {
		t.Errorf("APITimeout = %v, want 10s", cfg.APITimeout)
	}
	if cfg.Level() != slog.LevelWarn {
		t.Errorf("Level() = %v, want WARN", cfg.Level())
	}
}

func TestLoadClient_ReadsCredentials(t *testing.T) {
	t.Setenv("ANALOGDB_API_URL", "http://analogdb:8080")
	t.Setenv("AUTH_USERNAME", "k6")
	t.Setenv("AUTH_PASSWORD", "secret")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.APIURL != "http://analogdb:8080" || cfg.AuthUsername != "k6" || cfg.AuthPassword != "secret" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("Level() = %v, want DEBUG", cfg.Level())
	}
}
