package handler

import (
	"context"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/analogview/internal/model"
	"github.com/hitoshi/analogview/internal/query"
)

// HealthChecker は依存先の疎通確認。共有キャッシュ（Redis）が実装する。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// SiteHandler はabout・docs・ヘルスチェックを提供する。
type SiteHandler struct {
	posts      PostService
	renderer   *Renderer
	logger     *slog.Logger
	apiBaseURL string
	health     HealthChecker
}

// NewSiteHandler はSiteHandlerを生成する。healthはnilでもよい。
func NewSiteHandler(posts PostService, renderer *Renderer, logger *slog.Logger, apiBaseURL string, health HealthChecker) *SiteHandler {
	return &SiteHandler{
		posts:      posts,
		renderer:   renderer,
		logger:     logger,
		apiBaseURL: apiBaseURL,
		health:     health,
	}
}

type aboutData struct {
	layoutData
	PostCount   int
	AuthorCount int
}

type docsExample struct {
	Path    string
	Summary string
}

type docsData struct {
	layoutData
	APIBaseURL  string
	Examples    []docsExample
	MaxPageSize int
}

// About は投稿数と投稿者数を表示する。
// GET /about
//
// /idsと/authorsは並行に取得する。投稿者数はクライアント側で重複を除いて数える。
func (h *SiteHandler) About(w http.ResponseWriter, r *http.Request) {
	var data aboutData
	data.Title = "About"
	data.Active = "/about"

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		ids, err := h.posts.PostIDs(ctx)
		if err != nil {
			return err
		}
		data.PostCount = len(ids)
		return nil
	})
	g.Go(func() error {
		n, err := h.posts.DistinctAuthorCount(ctx)
		if err != nil {
			return err
		}
		data.AuthorCount = n
		return nil
	})
	if err := g.Wait(); err != nil {
		if isClientGone(r.Context().Err()) {
			return
		}
		h.logger.Warn("aboutページの集計を取得できませんでした", slog.String("error", err.Error()))
		h.renderer.Error(w, http.StatusBadGateway, model.NewUpstreamError(model.FetchErrorKindOf(err).String()))
		return
	}

	if err := h.renderer.Page(w, http.StatusOK, pageAbout, data); err != nil {
		h.logger.Error("failed to render about", slog.String("error", err.Error()))
	}
}

// Docs はAPIドキュメントを表示する。例のクエリ文字列はプリセットから生成する。
// GET /docs
func (h *SiteHandler) Docs(w http.ResponseWriter, r *http.Request) {
	data := docsData{
		layoutData:  layoutData{Title: "API", Active: "/docs"},
		APIBaseURL:  h.apiBaseURL,
		MaxPageSize: query.MaxPageSize,
		Examples: []docsExample{
			{"/posts" + query.FromPreset(query.PresetLatest).Encode(), "latest posts, nsfw and black & white hidden"},
			{"/posts" + query.FromPreset(query.PresetTop).Encode(), "highest scoring posts"},
			{"/posts" + query.FromPreset(query.PresetBW).Encode(), "black & white only"},
			{"/posts" + query.FromPreset(query.PresetRandom).Encode(), "a random selection"},
			{"/post/1", "a single post"},
			{"/post/1/similar?nsfw=false", "posts that look like post 1"},
			{"/ids", "every post id"},
			{"/authors", "every post author"},
		},
	}
	if err := h.renderer.Page(w, http.StatusOK, pageDocs, data); err != nil {
		h.logger.Error("failed to render docs", slog.String("error", err.Error()))
	}
}

// Health はヘルスチェックに応答する。
// GET /health
func (h *SiteHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.logger.Warn("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
