// Package security は上流APIから受け取った投稿をページに出す前に無害化する。
//
// 投稿のタイトルと投稿者名はRedditから取り込まれたユーザー入力で、
// HTMLタグや実体参照を含むことがある。bluemondayのStrictPolicyで
// タグをすべて取り除き、プレーンテキストとしてテンプレートに渡す。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/analogview/internal/model"
)

// PostSanitizer は投稿の表示用フィールドを無害化する。
// bluemonday.Policyはスレッドセーフなので、1つのインスタンスを共有してよい。
type PostSanitizer struct {
	policy *bluemonday.Policy
}

// NewPostSanitizer はタグを一切許可しないポリシーでPostSanitizerを生成する。
func NewPostSanitizer() *PostSanitizer {
	return &PostSanitizer{policy: bluemonday.StrictPolicy()}
}

// Text はrawからHTMLタグを取り除き、実体参照を戻したプレーンテキストを返す。
// 連続する空白は1つにまとめる。
// 戻り値はエスケープされていないため、html/templateを通して出力すること。
func (s *PostSanitizer) Text(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.Join(strings.Fields(stripped), " ")
}

// URL はhttpsの絶対URLだけを通し、それ以外は空文字列を返す。
func (s *PostSanitizer) URL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return ""
	}
	return u.String()
}

// Post は表示用フィールドを無害化したコピーを返す。
// 安全なURLを持たない画像は取り除く。
func (s *PostSanitizer) Post(p model.Post) model.Post {
	p.Title = s.Text(p.Title)
	p.Author = s.Text(p.Author)
	p.Permalink = s.URL(p.Permalink)

	images := make([]model.Image, 0, len(p.Images))
	for _, img := range p.Images {
		if img.URL = s.URL(img.URL); img.URL != "" {
			images = append(images, img)
		}
	}
	p.Images = images

	if p.Keywords != nil {
		keywords := make([]model.Keyword, 0, len(p.Keywords))
		for _, kw := range p.Keywords {
			if kw.Word = s.Text(kw.Word); kw.Word != "" {
				keywords = append(keywords, kw)
			}
		}
		p.Keywords = keywords
	}
	return p
}

// Posts はpostsの各要素をPostで無害化した新しいスライスを返す。
func (s *PostSanitizer) Posts(posts []model.Post) []model.Post {
	out := make([]model.Post, len(posts))
	for i, p := range posts {
		out[i] = s.Post(p)
	}
	return out
}
