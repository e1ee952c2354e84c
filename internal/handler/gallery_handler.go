package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/analogview/internal/feed"
	"github.com/hitoshi/analogview/internal/middleware"
	"github.com/hitoshi/analogview/internal/model"
	"github.com/hitoshi/analogview/internal/query"
	"github.com/hitoshi/analogview/internal/security"
)

// 追記レスポンスでフィードの状態を伝えるヘッダー。
const (
	headerFeedState   = "X-Feed-State"
	headerFeedHasMore = "X-Feed-Has-More"
	// headerFeedSession はセッションが見つからないときだけ"expired"を返す。
	headerFeedSession = "X-Feed-Session"
)

// Sessions は閲覧者ごとのフィードを引き当てるインターフェース。
// visitor.Storeが実装する。
type Sessions interface {
	Get(id uuid.UUID) (*feed.Controller, bool)
	GetOrCreate(id uuid.UUID) (*feed.Controller, bool)
}

// GalleryHandler はギャラリーページと無限スクロールのAPIを提供する。
type GalleryHandler struct {
	sessions  Sessions
	renderer  *Renderer
	sanitizer *security.PostSanitizer
	logger    *slog.Logger
	pageSize  int
}

// NewGalleryHandler はGalleryHandlerを生成する。pageSizeは1ページあたりの既定件数。
func NewGalleryHandler(sessions Sessions, renderer *Renderer, sanitizer *security.PostSanitizer, logger *slog.Logger, pageSize int) *GalleryHandler {
	if pageSize <= 0 {
		pageSize = query.DefaultPageSize
	}
	return &GalleryHandler{
		sessions:  sessions,
		renderer:  renderer,
		sanitizer: sanitizer,
		logger:    logger,
		pageSize:  pageSize,
	}
}

type galleryData struct {
	layoutData
	Query   query.FilterQuery
	State   feed.State
	Posts   []model.Post
	Total   int
	HasMore bool
}

// morePostsResponse は/api/feed/moreのJSONレスポンス。
type morePostsResponse struct {
	SessionID  string       `json:"session_id"`
	State      feed.State   `json:"state"`
	HasMore    bool         `json:"has_more"`
	TotalCount int          `json:"total_count"`
	Posts      []model.Post `json:"posts"`
}

// feedStateResponse は/api/feed/stateのJSONレスポンス。
type feedStateResponse struct {
	SessionID  string       `json:"session_id,omitempty"`
	State      feed.State   `json:"state"`
	Query      string       `json:"query"`
	Loaded     int          `json:"loaded"`
	TotalCount int          `json:"total_count"`
	HasMore    bool         `json:"has_more"`
	Cursor     model.Cursor `json:"cursor,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Page はプリセットのギャラリーページを返すハンドラを生成する。
// GET / , /top , /random , /bw , /nsfw
//
// リクエストのクエリパラメータをプリセットに重ね、閲覧者のフィードで新しいセッションを開始する。
// 先頭ページの取得を待ってからサーバー側で描画する。
func (h *GalleryHandler) Page(path string, preset query.Preset) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.visitorID(w, r)
		if !ok {
			return
		}
		ctrl, _ := h.sessions.GetOrCreate(id)

		q := query.FromPreset(preset)
		q.PageSize = h.pageSize
		q.Apply(r.URL.Query())
		ctrl.Reset(q)

		f := ctrl.Feed()
		if err := f.Wait(r.Context()); err != nil {
			// クライアントが切断した
			return
		}
		snap := f.Snapshot()
		if snap.State == feed.Idle && snap.Err != nil {
			h.logger.Warn("ギャラリーの先頭ページを取得できませんでした",
				slog.String("path", path),
				slog.String("query", q.Encode()),
				slog.String("error", snap.Err.Error()),
			)
			h.renderer.Error(w, http.StatusBadGateway, model.NewUpstreamError(model.FetchErrorKindOf(snap.Err).String()))
			return
		}

		err := h.renderer.Page(w, http.StatusOK, pageGallery, galleryData{
			layoutData: layoutData{Title: galleryTitle(preset), Active: path},
			Query:      snap.Query,
			State:      snap.State,
			Posts:      h.sanitizer.Posts(snap.Posts),
			Total:      snap.TotalCount,
			HasMore:    snap.HasMore,
		})
		if err != nil {
			h.logger.Error("failed to render gallery", slog.String("error", err.Error()))
		}
	}
}

// More は閲覧者の現在のセッションに次ページを追記する。
// GET /api/feed/more?last={index}&offset={count}
//
// lastがあればスクロール位置の通知（NearEnd）として、なければLoadMoreとして扱う。
// 取得を開始しなかった場合（取得中・末尾）は204を返す。
// セッションが期限切れなら204にX-Feed-Session: expiredを付け、X-Feed-Has-Moreは返さない。
// レスポンスはoffset番目以降の投稿で、Acceptがapplication/jsonならJSON、それ以外はHTML断片。
func (h *GalleryHandler) More(w http.ResponseWriter, r *http.Request) {
	id, ok := h.visitorID(w, r)
	if !ok {
		return
	}
	ctrl, ok := h.sessions.Get(id)
	if !ok {
		w.Header().Set(headerFeedSession, "expired")
		w.Header().Set(headerFeedState, feed.Idle.String())
		w.WriteHeader(http.StatusNoContent)
		return
	}
	f := ctrl.Feed()
	before := f.Snapshot()

	offset := len(before.Posts)
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidParamError("offset", v))
			return
		}
		offset = n
	}

	var started bool
	if v := r.URL.Query().Get("last"); v != "" {
		last, err := strconv.Atoi(v)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidParamError("last", v))
			return
		}
		started = f.NearEnd(last)
	} else {
		started = f.LoadMore()
	}
	if !started {
		writeFeedHeaders(w, before.State, before.HasMore)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := f.Wait(r.Context()); err != nil {
		return
	}
	after := f.Snapshot()
	if after.SessionID != before.SessionID {
		// 待っている間に別のタブでフィルタが変わった
		writeFeedHeaders(w, after.State, after.HasMore)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if after.Err != nil {
		h.logger.Warn("次ページを取得できませんでした",
			slog.String("session_id", after.SessionID.String()),
			slog.String("error", after.Err.Error()),
		)
		writeFeedHeaders(w, after.State, after.HasMore)
		middleware.WriteUpstreamError(w, after.Err)
		return
	}

	var posts []model.Post
	if offset < len(after.Posts) {
		posts = h.sanitizer.Posts(after.Posts[offset:])
	}
	writeFeedHeaders(w, after.State, after.HasMore)

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, morePostsResponse{
			SessionID:  after.SessionID.String(),
			State:      after.State,
			HasMore:    after.HasMore,
			TotalCount: after.TotalCount,
			Posts:      nonNil(posts),
		})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.renderer.Posts(w, posts); err != nil {
		h.logger.Error("failed to render posts fragment", slog.String("error", err.Error()))
	}
}

// State は閲覧者のフィードの状態をJSONで返す。
// GET /api/feed/state
func (h *GalleryHandler) State(w http.ResponseWriter, r *http.Request) {
	id, ok := h.visitorID(w, r)
	if !ok {
		return
	}
	ctrl, ok := h.sessions.Get(id)
	if !ok {
		writeJSON(w, http.StatusOK, feedStateResponse{State: feed.Idle, Query: query.Default().Encode()})
		return
	}
	snap := ctrl.Feed().Snapshot()
	resp := feedStateResponse{
		SessionID:  snap.SessionID.String(),
		State:      snap.State,
		Query:      ctrl.Query().Encode(),
		Loaded:     len(snap.Posts),
		TotalCount: snap.TotalCount,
		HasMore:    snap.HasMore,
		Cursor:     snap.Cursor,
	}
	if snap.SessionID == uuid.Nil {
		resp.SessionID = ""
	}
	if snap.Err != nil {
		resp.Error = model.FetchErrorKindOf(snap.Err).String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// visitorID はリクエストの閲覧者IDを返す。見つからない場合は500を書き込んでfalseを返す。
func (h *GalleryHandler) visitorID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := middleware.VisitorIDFromContext(r.Context())
	if !ok {
		h.logger.Error("visitor id missing from request context", slog.String("path", r.URL.Path))
		middleware.WriteInternalServerError(w)
		return uuid.Nil, false
	}
	return id, true
}

func galleryTitle(p query.Preset) string {
	switch p {
	case query.PresetTop:
		return "Top"
	case query.PresetRandom:
		return "Random"
	case query.PresetBW:
		return "Black & White"
	case query.PresetNsfw:
		return "NSFW"
	default:
		return "Latest"
	}
}

func writeFeedHeaders(w http.ResponseWriter, state feed.State, hasMore bool) {
	w.Header().Set(headerFeedState, state.String())
	w.Header().Set(headerFeedHasMore, strconv.FormatBool(hasMore))
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func invalidParamError(name, value string) *model.APIError {
	return &model.APIError{
		Code:     "INVALID_PARAMETER",
		Message:  "invalid " + name + ": " + strconv.Quote(value),
		Category: "validation",
		Action:   name + " must be an integer.",
	}
}

func nonNil(posts []model.Post) []model.Post {
	if posts == nil {
		return []model.Post{}
	}
	return posts
}

// isClientGone はリクエストのキャンセルによるエラーかを判定する。
func isClientGone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
