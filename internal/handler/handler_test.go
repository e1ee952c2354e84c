package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/analogview/internal/feed"
	"github.com/hitoshi/analogview/internal/middleware"
	"github.com/hitoshi/analogview/internal/model"
	"github.com/hitoshi/analogview/internal/query"
	"github.com/hitoshi/analogview/internal/security"
	"github.com/hitoshi/analogview/internal/visitor"
)

// --- モック定義 ---

// stubFetcher はfeed.Fetcherのモック実装。呼び出されたクエリを記録する。
type stubFetcher struct {
	mu          sync.Mutex
	listPostsFn func(q query.FilterQuery) (*model.Page, error)
	nextPageFn  func(q query.FilterQuery, meta model.Meta) (*model.Page, error)
	listQueries []query.FilterQuery
	nextMetas   []model.Meta
}

func (s *stubFetcher) ListPosts(ctx context.Context, q query.FilterQuery) (*model.Page, error) {
	s.mu.Lock()
	s.listQueries = append(s.listQueries, q)
	fn := s.listPostsFn
	s.mu.Unlock()
	if fn == nil {
		return &model.Page{}, nil
	}
	return fn(q)
}

func (s *stubFetcher) NextPage(ctx context.Context, q query.FilterQuery, meta model.Meta) (*model.Page, error) {
	s.mu.Lock()
	s.nextMetas = append(s.nextMetas, meta)
	fn := s.nextPageFn
	s.mu.Unlock()
	if fn == nil {
		return &model.Page{}, nil
	}
	return fn(q, meta)
}

func (s *stubFetcher) lastQuery(t *testing.T) query.FilterQuery {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listQueries) == 0 {
		t.Fatal("ListPostsが呼ばれていない")
	}
	return s.listQueries[len(s.listQueries)-1]
}

// mockPostService はPostServiceのモック実装。
type mockPostService struct {
	getPostFn             func(ctx context.Context, id int) (*model.Post, error)
	similarPostsFn        func(ctx context.Context, id int, includeNsfw bool) ([]model.Post, error)
	postIDsFn             func(ctx context.Context) ([]int, error)
	distinctAuthorCountFn func(ctx context.Context) (int, error)
}

func (m *mockPostService) GetPost(ctx context.Context, id int) (*model.Post, error) {
	if m.getPostFn != nil {
		return m.getPostFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockPostService) SimilarPosts(ctx context.Context, id int, includeNsfw bool) ([]model.Post, error) {
	if m.similarPostsFn != nil {
		return m.similarPostsFn(ctx, id, includeNsfw)
	}
	return nil, nil
}

func (m *mockPostService) PostIDs(ctx context.Context) ([]int, error) {
	if m.postIDsFn != nil {
		return m.postIDsFn(ctx)
	}
	return nil, nil
}

func (m *mockPostService) DistinctAuthorCount(ctx context.Context) (int, error) {
	if m.distinctAuthorCountFn != nil {
		return m.distinctAuthorCountFn(ctx)
	}
	return 0, nil
}

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) Ping(ctx context.Context) error {
	return m.err
}

// --- テストヘルパー ---

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testPost(id int) model.Post {
	return model.Post{
		ID:        id,
		Title:     fmt.Sprintf("Portra 400 #%d", id),
		Author:    fmt.Sprintf("u/shooter%d", id),
		Permalink: fmt.Sprintf("https://www.reddit.com/r/analog/comments/%d", id),
		Images: []model.Image{
			{Resolution: model.ResolutionLow, URL: fmt.Sprintf("https://cdn.example.com/low/%d.jpeg", id), Width: 240, Height: 160},
			{Resolution: model.ResolutionRaw, URL: fmt.Sprintf("https://cdn.example.com/raw/%d.jpeg", id), Width: 4000, Height: 2667},
		},
	}
}

func testPage(total int, cursor string, ids ...int) *model.Page {
	posts := make([]model.Post, len(ids))
	for i, id := range ids {
		posts[i] = testPost(id)
	}
	return &model.Page{
		Meta:  model.Meta{TotalPosts: total, PageSize: len(ids), NextPageID: model.Cursor(cursor)},
		Posts: posts,
	}
}

// testServer はテスト用に組み立てたルーターと依存関係。
type testServer struct {
	handler  http.Handler
	fetcher  *stubFetcher
	posts    *mockPostService
	sessions *visitor.Store
	logs     *bytes.Buffer
	cookie   *http.Cookie
}

type serverOption func(*RouterDeps)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	var logs bytes.Buffer
	logger := newTestLogger(&logs)

	renderer, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}

	fetcher := &stubFetcher{}
	sessions := visitor.NewStore(100, time.Hour, func() *feed.Controller {
		return feed.NewController(feed.New(fetcher, logger), query.Default())
	}, logger)
	t.Cleanup(sessions.Close)

	posts := &mockPostService{}
	deps := &RouterDeps{
		Logger:            logger,
		Visitor:           middleware.VisitorConfig{MaxAge: time.Hour},
		CORSAllowedOrigin: "http://localhost:3000",
		Sessions:          sessions,
		Posts:             posts,
		Renderer:          renderer,
		Sanitizer:         security.NewPostSanitizer(),
		PageSize:          100,
		APIBaseURL:        "https://api.analogdb.com",
		Gatherer:          prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(deps)
	}

	return &testServer{
		handler:  NewRouter(deps),
		fetcher:  fetcher,
		posts:    posts,
		sessions: sessions,
		logs:     &logs,
	}
}

// get はリクエストを送り、発行された閲覧者Cookieを次のリクエストに引き継ぐ。
func (s *testServer) get(t *testing.T, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.VisitorCookieName {
			s.cookie = c
		}
	}
	return w
}
