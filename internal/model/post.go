// Package model はドメインモデルを定義する。
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// 画像解像度のラベル。APIは1投稿につき4種類のバリアントを返す。
const (
	ResolutionLow    = "low"
	ResolutionMedium = "medium"
	ResolutionHigh   = "high"
	ResolutionRaw    = "raw"
)

// Image は投稿画像の1バリアントを表す。
type Image struct {
	Resolution string `json:"resolution"`
	URL        string `json:"url"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// Color は画像の代表色を表す。
type Color struct {
	Hex     string  `json:"hex"`
	CSS     string  `json:"css,omitempty"`
	Percent float64 `json:"percent,omitempty"`
}

// Keyword は投稿に付与されたキーワードを表す。
type Keyword struct {
	Word   string  `json:"word"`
	Weight float64 `json:"weight,omitempty"`
}

// Post はAnalogDB APIが返す投稿。
// このモジュールは消費するだけで生成はしない。
type Post struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Permalink string    `json:"permalink"`
	Score     int       `json:"score"`
	Timestamp int64     `json:"timestamp"`
	Nsfw      bool      `json:"nsfw"`
	Grayscale bool      `json:"grayscale"`
	Sprocket  bool      `json:"sprocket"`
	Colors    []Color   `json:"colors,omitempty"`
	Keywords  []Keyword `json:"keywords,omitempty"`
	Images    []Image   `json:"images"`
}

// Image は指定解像度の画像を返す。見つからない場合は先頭の画像を返す。
func (p *Post) Image(resolution string) (Image, bool) {
	for _, img := range p.Images {
		if img.Resolution == resolution {
			return img, true
		}
	}
	if len(p.Images) > 0 {
		return p.Images[0], true
	}
	return Image{}, false
}

// Cursor は次ページを指す不透明なカーソル。
// 空文字列は「これ以上ページがない」ことを意味する。
// APIの旧バージョンは数値で返すため、JSONでは文字列と数値の両方を受け付ける。
type Cursor string

// UnmarshalJSON は文字列・数値・nullのいずれかからCursorを復元する。
func (c *Cursor) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Cursor(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("next_page_id must be a string or number: %w", err)
	}
	// 数値0は旧APIで終端を意味する
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil && i == 0 {
		*c = ""
		return nil
	}
	*c = Cursor(n.String())
	return nil
}

// Meta はページングレスポンスのメタ情報。
type Meta struct {
	TotalPosts  int    `json:"total_posts"`
	PageSize    int    `json:"page_size"`
	NextPageID  Cursor `json:"next_page_id"`
	NextPageURL string `json:"next_page_url"`
	Seed        int    `json:"seed,omitempty"`
}

// Page は /posts および /post/{id}/similar のレスポンス。
type Page struct {
	Meta  Meta   `json:"meta"`
	Posts []Post `json:"posts"`
}

// HasMore は次ページが存在するかを返す。
func (p *Page) HasMore() bool {
	return p.Meta.NextPageID != ""
}

// IDsResponse は /ids のレスポンス。
type IDsResponse struct {
	IDs []int `json:"ids"`
}

// AuthorsResponse は /authors のレスポンス。
type AuthorsResponse struct {
	Authors []string `json:"authors"`
}
