package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/analogview/internal/model"
	"github.com/hitoshi/analogview/internal/security"
)

// PostService は投稿詳細とサイト情報のページが必要とするAPI操作。
// apiclient.Clientが実装する。
type PostService interface {
	GetPost(ctx context.Context, id int) (*model.Post, error)
	SimilarPosts(ctx context.Context, id int, includeNsfw bool) ([]model.Post, error)
	PostIDs(ctx context.Context) ([]int, error)
	DistinctAuthorCount(ctx context.Context) (int, error)
}

// PostHandler は投稿詳細ページを提供する。
type PostHandler struct {
	posts     PostService
	renderer  *Renderer
	sanitizer *security.PostSanitizer
	logger    *slog.Logger
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(posts PostService, renderer *Renderer, sanitizer *security.PostSanitizer, logger *slog.Logger) *PostHandler {
	return &PostHandler{
		posts:     posts,
		renderer:  renderer,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

type postData struct {
	layoutData
	Post    model.Post
	Similar []model.Post
}

// Show は投稿と類似投稿を表示する。
// GET /post/{id}
//
// 類似投稿は、投稿自体がnsfwでない限りnsfwを除外して取得する。
// 類似投稿の取得に失敗しても投稿は表示する。
func (h *PostHandler) Show(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		h.renderer.Error(w, http.StatusBadRequest, model.NewInvalidPostIDError(raw))
		return
	}

	post, err := h.posts.GetPost(r.Context(), id)
	if err != nil {
		switch {
		case isClientGone(r.Context().Err()):
			return
		case model.IsNotFound(err):
			h.renderer.Error(w, http.StatusNotFound, model.NewPostNotFoundError(raw))
		default:
			h.logger.Warn("投稿を取得できませんでした",
				slog.Int("post_id", id),
				slog.String("error", err.Error()),
			)
			h.renderer.Error(w, http.StatusBadGateway, model.NewUpstreamError(model.FetchErrorKindOf(err).String()))
		}
		return
	}

	similar, err := h.posts.SimilarPosts(r.Context(), id, post.Nsfw)
	if err != nil {
		if isClientGone(r.Context().Err()) {
			return
		}
		h.logger.Warn("類似投稿を取得できませんでした",
			slog.Int("post_id", id),
			slog.String("error", err.Error()),
		)
		similar = nil
	}

	clean := h.sanitizer.Post(*post)
	err = h.renderer.Page(w, http.StatusOK, pagePost, postData{
		layoutData: layoutData{Title: postTitle(clean)},
		Post:       clean,
		Similar:    h.sanitizer.Posts(withoutPost(similar, id)),
	})
	if err != nil {
		h.logger.Error("failed to render post", slog.Int("post_id", id), slog.String("error", err.Error()))
	}
}

func postTitle(p model.Post) string {
	if p.Title == "" {
		return "Post " + strconv.Itoa(p.ID)
	}
	return p.Title
}

// withoutPost は類似投稿から表示中の投稿自身を除く。
func withoutPost(posts []model.Post, id int) []model.Post {
	out := make([]model.Post, 0, len(posts))
	for _, p := range posts {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
