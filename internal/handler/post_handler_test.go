package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/hitoshi/analogview/internal/model"
)

func TestPost_RendersPostAndSimilar(t *testing.T) {
	s := newTestServer(t)
	var gotNsfw *bool
	s.posts.getPostFn = func(ctx context.Context, id int) (*model.Post, error) {
		p := testPost(id)
		p.Title = "<b>Leica</b> M6 &amp; HP5"
		p.Keywords = []model.Keyword{{Word: "street"}}
		p.Colors = []model.Color{{Hex: "#aa3322"}}
		return &p, nil
	}
	s.posts.similarPostsFn = func(ctx context.Context, id int, includeNsfw bool) ([]model.Post, error) {
		gotNsfw = &includeNsfw
		return []model.Post{testPost(id), testPost(8), testPost(9)}, nil
	}

	w := s.get(t, "/post/7")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, "Leica M6 &amp; HP5") || strings.Contains(body, "<b>Leica") {
		t.Errorf("タイトルは無害化して表示するべき")
	}
	if !strings.Contains(body, "https://cdn.example.com/raw/7.jpeg") {
		t.Error("詳細ページは原寸画像を表示するべき")
	}
	if !strings.Contains(body, `href="/post/8"`) || !strings.Contains(body, `href="/post/9"`) {
		t.Error("類似投稿が表示されていない")
	}
	if strings.Contains(body, `href="/post/7"`) {
		t.Error("類似投稿に投稿自身を含めないべき")
	}
	if !strings.Contains(body, `href="/?keyword=street"`) {
		t.Error("キーワードのリンクが表示されていない")
	}
	if gotNsfw == nil || *gotNsfw {
		t.Error("nsfwでない投稿の類似投稿はnsfwを除外して取得するべき")
	}
}

func TestPost_NsfwPostIncludesNsfwSimilar(t *testing.T) {
	s := newTestServer(t)
	var gotNsfw bool
	s.posts.getPostFn = func(ctx context.Context, id int) (*model.Post, error) {
		p := testPost(id)
		p.Nsfw = true
		return &p, nil
	}
	s.posts.similarPostsFn = func(ctx context.Context, id int, includeNsfw bool) ([]model.Post, error) {
		gotNsfw = includeNsfw
		return nil, nil
	}

	if w := s.get(t, "/post/12"); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !gotNsfw {
		t.Error("nsfwの投稿ではnsfwの類似投稿も含めるべき")
	}
}

func TestPost_Errors(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		getPostErr error
		wantStatus int
		wantText   string
	}{
		{"数値でないID", "/post/abc", nil, http.StatusBadRequest, "invalid post id"},
		{"0以下のID", "/post/0", nil, http.StatusBadRequest, "invalid post id"},
		{"存在しない投稿", "/post/404", &model.FetchError{Kind: model.KindHTTPError, StatusCode: 404, URL: "/post/404"}, http.StatusNotFound, "post not found"},
		{"上流の障害", "/post/5", &model.FetchError{Kind: model.KindNetworkFailure, URL: "/post/5", Err: errors.New("timeout")}, http.StatusBadGateway, "network_failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			called := false
			s.posts.getPostFn = func(ctx context.Context, id int) (*model.Post, error) {
				called = true
				return nil, tt.getPostErr
			}

			w := s.get(t, tt.target)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantText) {
				t.Errorf("body should contain %q", tt.wantText)
			}
			if tt.getPostErr == nil && called {
				t.Error("不正なIDではAPIを呼ばないべき")
			}
		})
	}
}

func TestPost_SimilarFailureStillRendersPost(t *testing.T) {
	s := newTestServer(t)
	s.posts.getPostFn = func(ctx context.Context, id int) (*model.Post, error) {
		p := testPost(id)
		return &p, nil
	}
	s.posts.similarPostsFn = func(ctx context.Context, id int, includeNsfw bool) ([]model.Post, error) {
		return nil, &model.FetchError{Kind: model.KindMalformedResponse, URL: "/post/3/similar"}
	}

	w := s.get(t, "/post/3")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if strings.Contains(w.Body.String(), "Similar") {
		t.Error("類似投稿がなければセクションを出さないべき")
	}
	if !strings.Contains(s.logs.String(), "類似投稿を取得できませんでした") {
		t.Error("類似投稿の失敗はログに残すべき")
	}
}
