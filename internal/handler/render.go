package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/hitoshi/analogview/internal/model"
	"github.com/hitoshi/analogview/internal/query"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// ページテンプレート名。
const (
	pageGallery = "gallery.html"
	pagePost    = "post.html"
	pageAbout   = "about.html"
	pageDocs    = "docs.html"
	pageError   = "error.html"
)

type navItem struct {
	Path  string
	Label string
}

var nav = []navItem{
	{"/", "Latest"},
	{"/top", "Top"},
	{"/random", "Random"},
	{"/bw", "B&W"},
	{"/nsfw", "NSFW"},
}

// presetPaths はギャラリーのパスとプリセットの対応。
var presetPaths = map[string]query.Preset{
	"/":       query.PresetLatest,
	"/top":    query.PresetTop,
	"/random": query.PresetRandom,
	"/bw":     query.PresetBW,
	"/nsfw":   query.PresetNsfw,
}

// layoutData はすべてのページに共通するテンプレートデータ。
type layoutData struct {
	Title  string
	Active string
}

type errorData struct {
	layoutData
	Status int
	Error  *model.APIError
}

// Renderer は埋め込みテンプレートからHTMLを描画する。
// 描画はバッファに対して行い、失敗した場合は何も書き込まない。
type Renderer struct {
	pages    map[string]*template.Template
	fragment *template.Template
}

// NewRenderer は全ページのテンプレートを解析する。
func NewRenderer() (*Renderer, error) {
	funcs := template.FuncMap{
		"image": func(p model.Post, resolution string) model.Image {
			img, _ := p.Image(resolution)
			return img
		},
		"join":     strings.Join,
		"navItems": func() []navItem { return nav },
		"palette":  query.Palette,
		"sorts": func() []string {
			return []string{string(query.SortLatest), string(query.SortTop), string(query.SortRandom)}
		},
		"triStates": func() []string {
			return []string{string(query.Exclude), string(query.Include), string(query.Only)}
		},
	}

	r := &Renderer{pages: make(map[string]*template.Template)}
	for _, page := range []string{pageGallery, pagePost, pageAbout, pageDocs, pageError} {
		t, err := template.New(page).Funcs(funcs).ParseFS(templateFS,
			"templates/layout.html", "templates/posts.html", "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", page, err)
		}
		r.pages[page] = t
	}

	fragment, err := template.New("fragment").Funcs(funcs).ParseFS(templateFS, "templates/posts.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse posts fragment: %w", err)
	}
	r.fragment = fragment
	return r, nil
}

// Page はlayoutに包んだページを描画する。
func (r *Renderer) Page(w http.ResponseWriter, status int, page string, data any) error {
	t, ok := r.pages[page]
	if !ok {
		return fmt.Errorf("unknown page template: %s", page)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("failed to render %s: %w", page, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := io.Copy(w, &buf)
	return err
}

// Error はエラーページを描画する。
func (r *Renderer) Error(w http.ResponseWriter, status int, apiErr *model.APIError) error {
	return r.Page(w, status, pageError, errorData{
		layoutData: layoutData{Title: http.StatusText(status)},
		Status:     status,
		Error:      apiErr,
	})
}

// Posts は投稿タイルのHTML断片を書き込む。無限スクロールの追記に使う。
func (r *Renderer) Posts(w io.Writer, posts []model.Post) error {
	var buf bytes.Buffer
	if err := r.fragment.ExecuteTemplate(&buf, "posts", posts); err != nil {
		return fmt.Errorf("failed to render posts fragment: %w", err)
	}
	_, err := io.Copy(w, &buf)
	return err
}

// StaticHandler は/static以下の埋め込みファイルを配信する。
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServerFS(sub))
}
