// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// AnalogDB API
	APIURL       string        `env:"ANALOGDB_API_URL,required,notEmpty"`
	AuthUsername string        `env:"AUTH_USERNAME"`
	AuthPassword string        `env:"AUTH_PASSWORD"`
	APITimeout   time.Duration `env:"API_TIMEOUT" envDefault:"10s"`

	// Feed
	FeedPageSize       int `env:"FEED_PAGE_SIZE" envDefault:"100"`
	ProximityThreshold int `env:"FEED_PROXIMITY_THRESHOLD" envDefault:"10"`

	// Cache
	CacheSize int           `env:"CACHE_SIZE" envDefault:"512"`
	CacheTTL  time.Duration `env:"CACHE_TTL" envDefault:"60s"`
	RedisURL  string        `env:"REDIS_URL"`

	// Warmer
	WarmInterval time.Duration `env:"WARM_INTERVAL" envDefault:"60s"`

	// Visitor sessions
	VisitorSessionMax int           `env:"VISITOR_SESSION_MAX" envDefault:"10000"`
	VisitorSessionTTL time.Duration `env:"VISITOR_SESSION_TTL" envDefault:"30m"`

	// Rate Limit
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"240"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// Tracing
	OTelEndpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"analogview"`
	OTelSampleRatio float64 `env:"OTEL_TRACE_SAMPLE_RATIO" envDefault:"0.1"`
}

// Load は環境変数からConfigを読み込み、値を検証する。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗しました: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の範囲を検証する。問題はまとめて返す。
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("ANALOGDB_API_URL はhttp(s)のURLである必要があります: %q", c.APIURL))
	}
	if c.FeedPageSize < 1 || c.FeedPageSize > 200 {
		errs = append(errs, fmt.Errorf("FEED_PAGE_SIZE は1〜200である必要があります: %d", c.FeedPageSize))
	}
	if c.ProximityThreshold < 0 {
		errs = append(errs, fmt.Errorf("FEED_PROXIMITY_THRESHOLD は0以上である必要があります: %d", c.ProximityThreshold))
	}
	if c.CacheSize < 1 {
		errs = append(errs, fmt.Errorf("CACHE_SIZE は1以上である必要があります: %d", c.CacheSize))
	}
	if c.VisitorSessionMax < 1 {
		errs = append(errs, fmt.Errorf("VISITOR_SESSION_MAX は1以上である必要があります: %d", c.VisitorSessionMax))
	}
	if c.RateLimitPerMinute < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_MINUTE は1以上である必要があります: %d", c.RateLimitPerMinute))
	}
	if c.WarmInterval <= 0 {
		errs = append(errs, fmt.Errorf("WARM_INTERVAL は正の期間である必要があります: %s", c.WarmInterval))
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OTEL_TRACE_SAMPLE_RATIO は0〜1である必要があります: %v", c.OTelSampleRatio))
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL が不正です: %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// Level はLOG_LEVELをslog.Levelに変換する。不正な値はInfoとして扱う。
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// CookieSecure はvisitor cookieにSecure属性を付けるかを返す。
func (c *Config) CookieSecure() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

// ClientConfig はAPIに接続するだけのコマンド（loadtest など）の設定。
// サーバー用の設定と違いAPIのURLは必須ではない（フラグで渡せるため）。
type ClientConfig struct {
	APIURL       string        `env:"ANALOGDB_API_URL"`
	AuthUsername string        `env:"AUTH_USERNAME"`
	AuthPassword string        `env:"AUTH_PASSWORD"`
	APITimeout   time.Duration `env:"API_TIMEOUT" envDefault:"10s"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"warn"`
}

// LoadClient は環境変数からClientConfigを読み込む。
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗しました: %w", err)
	}
	return cfg, nil
}

// Level はLOG_LEVELをslog.Levelに変換する。不正な値はWarnとして扱う。
func (c *ClientConfig) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelWarn
	}
	return lvl
}
