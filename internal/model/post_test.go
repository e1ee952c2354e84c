package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestCursor_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Cursor
	}{
		{"文字列", `"1679063590"`, "1679063590"},
		{"空文字列は終端", `""`, ""},
		{"数値", `1676314409`, "1676314409"},
		{"数値0は終端", `0`, ""},
		{"null", `null`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Cursor
			if err := json.Unmarshal([]byte(tt.raw), &c); err != nil {
				t.Fatalf("Unmarshal(%s) がエラーを返した: %v", tt.raw, err)
			}
			if c != tt.want {
				t.Errorf("Cursor = %q, want %q", c, tt.want)
			}
		})
	}
}

func TestCursor_UnmarshalJSON_RejectsObject(t *testing.T) {
	var c Cursor
	if err := json.Unmarshal([]byte(`{"id":1}`), &c); err == nil {
		t.Error("オブジェクトはエラーになるべき")
	}
}

func TestPage_DecodeAndHasMore(t *testing.T) {
	body := `{
		"meta": {"total_posts": 3, "page_size": 100, "next_page_id": "", "next_page_url": ""},
		"posts": [
			{"id": 1, "title": "a", "images": [{"resolution": "low", "url": "https://x/1l", "width": 10, "height": 20}]},
			{"id": 2, "title": "b", "images": []},
			{"id": 3, "title": "c", "images": []}
		]
	}`

	var p Page
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(p.Posts) != 3 {
		t.Errorf("posts = %d, want 3", len(p.Posts))
	}
	if p.HasMore() {
		t.Error("next_page_id が空なら HasMore は false であるべき")
	}
	if p.Meta.TotalPosts != 3 {
		t.Errorf("total_posts = %d, want 3", p.Meta.TotalPosts)
	}
}

func TestPost_Image(t *testing.T) {
	p := Post{Images: []Image{
		{Resolution: ResolutionLow, URL: "low"},
		{Resolution: ResolutionHigh, URL: "high"},
	}}

	if img, ok := p.Image(ResolutionHigh); !ok || img.URL != "high" {
		t.Errorf("Image(high) = %+v, %v", img, ok)
	}
	if img, ok := p.Image(ResolutionRaw); !ok || img.URL != "low" {
		t.Errorf("Image(raw) は先頭にフォールバックすべき: %+v", img)
	}

	empty := Post{}
	if _, ok := empty.Image(ResolutionLow); ok {
		t.Error("画像なしの投稿は ok=false であるべき")
	}
}

func TestIsNotFound(t *testing.T) {
	notFound := &FetchError{Kind: KindHTTPError, StatusCode: 404, URL: "/post/9"}
	wrapped := fmt.Errorf("get post: %w", notFound)

	if !IsNotFound(wrapped) {
		t.Error("ラップされた404は IsNotFound であるべき")
	}
	if IsNotFound(&FetchError{Kind: KindHTTPError, StatusCode: 500}) {
		t.Error("500 は IsNotFound ではない")
	}
	if IsNotFound(errors.New("plain")) {
		t.Error("通常のエラーは IsNotFound ではない")
	}
}

func TestFetchError_ErrorAndKind(t *testing.T) {
	base := errors.New("connection refused")
	err := &FetchError{Kind: KindNetworkFailure, URL: "http://api/posts", Err: base}

	if !errors.Is(err, base) {
		t.Error("Unwrap で元のエラーに到達できるべき")
	}
	if FetchErrorKindOf(fmt.Errorf("x: %w", err)) != KindNetworkFailure {
		t.Error("FetchErrorKindOf がラップを辿れていない")
	}
	if got := KindMalformedResponse.String(); got != "malformed_response" {
		t.Errorf("String() = %q", got)
	}
}

func TestAPIError_Error(t *testing.T) {
	err := NewPostNotFoundError("42")
	want := "[POST_NOT_FOUND] post not found: 42"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
