package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/analogview/internal/apiclient"
	"github.com/hitoshi/analogview/internal/cache"
	"github.com/hitoshi/analogview/internal/config"
	"github.com/hitoshi/analogview/internal/feed"
	"github.com/hitoshi/analogview/internal/handler"
	"github.com/hitoshi/analogview/internal/metrics"
	"github.com/hitoshi/analogview/internal/middleware"
	"github.com/hitoshi/analogview/internal/query"
	"github.com/hitoshi/analogview/internal/security"
	"github.com/hitoshi/analogview/internal/tracing"
	"github.com/hitoshi/analogview/internal/visitor"
	"github.com/hitoshi/analogview/internal/warmer"
)

// apiDeps はAPIクライアントとそのキャッシュ。
type apiDeps struct {
	client *apiclient.Client
	// health はRedisを使う場合のみ設定される。
	health handler.HealthChecker
	close  func() error
}

// newAPIDeps はキャッシュ付きのAPIクライアントを構成する。
// REDIS_URLが設定されていればRedisを共有キャッシュとし、接続を確認する。
func newAPIDeps(ctx context.Context, cfg *config.Config, log *slog.Logger, m metrics.MetricsCollector) (*apiDeps, error) {
	httpClient, err := apiclient.NewHTTPClient(cfg.APITimeout)
	if err != nil {
		return nil, err
	}

	deps := &apiDeps{close: func() error { return nil }}
	var store cache.Store = cache.NewMemoryStore(cfg.CacheSize, cfg.CacheTTL)
	if cfg.RedisURL != "" {
		rs, err := cache.NewRedisStore(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis: %w", err)
		}
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info("redis cache connection established")
		store = rs
		deps.health = rs
		deps.close = rs.Close
	}

	deps.client, err = apiclient.NewClient(cfg.APIURL, httpClient, log,
		apiclient.WithBasicAuth(cfg.AuthUsername, cfg.AuthPassword),
		apiclient.WithMetrics(m),
		apiclient.WithCache(store),
	)
	if err != nil {
		deps.close()
		return nil, err
	}
	return deps, nil
}

// newFeedFactory は閲覧者ごとのControllerを生成する関数を返す。
func newFeedFactory(fetcher feed.Fetcher, cfg *config.Config, log *slog.Logger, m metrics.MetricsCollector) visitor.Factory {
	return func() *feed.Controller {
		f := feed.New(fetcher, log,
			feed.WithProximityThreshold(cfg.ProximityThreshold),
			feed.WithMetrics(m),
		)
		return feed.NewController(f, query.Default())
	}
}

// server はserveモードの部品一式。
type server struct {
	handler  http.Handler
	warmer   *warmer.Warmer
	sessions *visitor.Store
	limiter  *middleware.RateLimiter
	api      *apiDeps
}

// newServer は全依存関係をワイヤリングする。regにはアプリケーションのメトリクスを登録する。
func newServer(ctx context.Context, cfg *config.Config, log *slog.Logger, reg *prometheus.Registry) (*server, error) {
	collector := metrics.NewCollector(reg)

	api, err := newAPIDeps(ctx, cfg, log, collector)
	if err != nil {
		return nil, err
	}

	renderer, err := handler.NewRenderer()
	if err != nil {
		api.close()
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	s := &server{
		api:      api,
		sessions: visitor.NewStore(cfg.VisitorSessionMax, cfg.VisitorSessionTTL, newFeedFactory(api.client, cfg, log, collector), log),
		limiter:  middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimitPerMinute), log),
		warmer: warmer.New(api.client, log, warmer.Config{
			Interval: cfg.WarmInterval,
			PageSize: cfg.FeedPageSize,
		}),
	}

	s.handler = handler.NewRouter(&handler.RouterDeps{
		Logger: log,
		Visitor: middleware.VisitorConfig{
			CookieSecure: cfg.CookieSecure(),
			MaxAge:       cfg.VisitorSessionTTL,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       s.limiter,
		Sessions:          s.sessions,
		Posts:             api.client,
		Renderer:          renderer,
		Sanitizer:         security.NewPostSanitizer(),
		PageSize:          cfg.FeedPageSize,
		APIBaseURL:        api.client.BaseURL(),
		Gatherer:          reg,
		HealthChecker:     api.health,
	})
	return s, nil
}

// Close は閲覧者のフィードを閉じ、バックグラウンド処理と接続を止める。
func (s *server) Close() {
	s.sessions.Close()
	s.limiter.Stop()
	s.api.close()
}

// runServe はHTTPサーバーとキャッシュウォーマーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	shutdownTracing, err := tracing.InitProvider(ctx, tracing.Config{
		ServiceName: cfg.OTelServiceName,
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.OTelSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := newServer(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go srv.warmer.Start(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting",
			slog.String("addr", httpServer.Addr),
			slog.String("api_url", cfg.APIURL),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down HTTP server...")

	sctx, scancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer scancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("HTTP server stopped gracefully")
	return nil
}
