package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/analogview/internal/metrics"
	"github.com/hitoshi/analogview/internal/middleware"
	"github.com/hitoshi/analogview/internal/model"
	"github.com/hitoshi/analogview/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	Visitor           middleware.VisitorConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ページ
	Sessions   Sessions
	Posts      PostService
	Renderer   *Renderer
	Sanitizer  *security.PostSanitizer
	PageSize   int
	APIBaseURL string

	// 運用
	Gatherer      prometheus.Gatherer
	HealthChecker HealthChecker
}

// NewRouter は全ページとAPIのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアの実行順序:
//
//	Recovery → SecurityHeaders → Visitor → Logging → RateLimit → (/api のみ CORS)
//
// /health、/metrics、/static は閲覧者Cookieとレート制限の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	gallery := NewGalleryHandler(deps.Sessions, deps.Renderer, deps.Sanitizer, deps.Logger, deps.PageSize)
	posts := NewPostHandler(deps.Posts, deps.Renderer, deps.Sanitizer, deps.Logger)
	site := NewSiteHandler(deps.Posts, deps.Renderer, deps.Logger, deps.APIBaseURL, deps.HealthChecker)

	r.Get("/health", site.Health)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}
	r.Handle("/static/*", StaticHandler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewVisitorMiddleware(deps.Visitor))
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		for _, item := range nav {
			r.Get(item.Path, gallery.Page(item.Path, presetPaths[item.Path]))
		}
		r.Get("/post/{id}", posts.Show)
		r.Get("/about", site.About)
		r.Get("/docs", site.Docs)

		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
			r.Options("/*", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
			r.Get("/feed/more", gallery.More)
			r.Get("/feed/state", gallery.State)
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			deps.Renderer.Error(w, http.StatusNotFound, notFoundError(r.URL.Path))
		})
	})

	return r
}

func notFoundError(path string) *model.APIError {
	return &model.APIError{
		Code:     "PAGE_NOT_FOUND",
		Message:  "page not found: " + path,
		Category: "validation",
		Action:   "Return to the gallery.",
	}
}
