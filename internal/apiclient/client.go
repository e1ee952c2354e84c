// Package apiclient はAnalogDB REST APIのクライアントを提供する。
// 取得失敗はすべて *model.FetchError として返す。
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/analogview/internal/cache"
	"github.com/hitoshi/analogview/internal/metrics"
	"github.com/hitoshi/analogview/internal/model"
	"github.com/hitoshi/analogview/internal/query"
	"github.com/hitoshi/analogview/internal/tracing"
)

const (
	userAgent = "AnalogView/1.0"
	// maxBodySize はレスポンス本文の上限（1ページ200件でも十分な大きさ）。
	maxBodySize = 16 << 20
)

// メトリクス・スパン用のエンドポイント名。
const (
	EndpointPosts   = "posts"
	EndpointPost    = "post"
	EndpointSimilar = "similar"
	EndpointIDs     = "ids"
	EndpointAuthors = "authors"
)

// Client はAnalogDB APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    *url.URL
	username   string
	password   string
	metrics    metrics.MetricsCollector
	tracer     trace.Tracer
	cache      cache.Store // nilならキャッシュしない
}

// Option はClientの任意設定。
type Option func(*Client)

// WithBasicAuth はBasic認証の資格情報を設定する。どちらかが空なら送らない。
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithCache はレスポンスキャッシュを設定する。
func WithCache(s cache.Store) Option {
	return func(c *Client) {
		c.cache = s
	}
}

// WithTracerProvider はスパンを記録するTracerProviderを設定する。
// 未指定の場合はグローバルプロバイダーを使う。
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracer = tp.Tracer(tracing.TracerName)
	}
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLはAPIのルート（例: https://api.analogdb.com）。
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("APIのベースURLのパースに失敗しました: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("APIのベースURLはhttpまたはhttpsである必要があります: %q", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("APIのベースURLにホストがありません: %q", baseURL)
	}

	c := &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    u,
		metrics:    metrics.Nop{},
		tracer:     otel.Tracer(tracing.TracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL はAPIのベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// ListPosts はFilterQueryに一致する投稿の先頭ページを取得する。
func (c *Client) ListPosts(ctx context.Context, q query.FilterQuery) (*model.Page, error) {
	path := "/posts" + q.Encode()
	// ランダム順は毎回異なる結果を返すためキャッシュしない
	cacheable := q.Sort != query.SortRandom
	return c.getPage(ctx, path, cacheable)
}

// NextPage はmetaが指す次ページを取得する。
// サーバーが next_page_url を返していればそれを使い、なければ
// FilterQueryに page_id を付けたURLを組み立てる。ランダム順ではseedも付けて並びを固定する。
func (c *Client) NextPage(ctx context.Context, q query.FilterQuery, meta model.Meta) (*model.Page, error) {
	if meta.NextPageURL != "" {
		return c.FetchPage(ctx, meta.NextPageURL)
	}
	if meta.NextPageID == "" {
		return nil, &model.FetchError{
			Kind: model.KindMalformedResponse,
			URL:  "/posts" + q.Encode(),
			Err:  errors.New("次ページのカーソルがありません"),
		}
	}
	path := "/posts" + q.Encode() + "&page_id=" + url.QueryEscape(string(meta.NextPageID))
	if q.Sort == query.SortRandom && meta.Seed != 0 {
		path += "&seed=" + strconv.Itoa(meta.Seed)
	}
	return c.getPage(ctx, path, false)
}

// FetchPage は next_page_url が指すページを取得する。
// 相対URLはベースURL（末尾を/としたもの）に対して解決する。別ホストを指すURLは拒否する。
func (c *Client) FetchPage(ctx context.Context, pageURL string) (*model.Page, error) {
	ref, err := url.Parse(pageURL)
	if err != nil {
		return nil, &model.FetchError{Kind: model.KindMalformedResponse, URL: pageURL, Err: err}
	}
	base := *c.baseURL
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
		base.RawPath = ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != c.baseURL.Scheme || resolved.Host != c.baseURL.Host {
		return nil, &model.FetchError{
			Kind: model.KindMalformedResponse,
			URL:  pageURL,
			Err:  fmt.Errorf("next_page_url のホストが異なります: %s", resolved.Host),
		}
	}
	// ベースURLにパス接頭辞がある場合、サーバーは接頭辞付きのURLを返す
	path := resolved.EscapedPath()
	if prefix := c.baseURL.EscapedPath(); prefix != "" && strings.HasPrefix(path, prefix+"/") {
		path = strings.TrimPrefix(path, prefix)
	}
	if resolved.RawQuery != "" {
		path += "?" + resolved.RawQuery
	}
	return c.getPage(ctx, path, false)
}

// GetPost は投稿を1件取得する。存在しない場合は404のFetchErrorを返す。
func (c *Client) GetPost(ctx context.Context, id int) (*model.Post, error) {
	var p model.Post
	if err := c.get(ctx, EndpointPost, "/post/"+strconv.Itoa(id), true, &p, "id"); err != nil {
		return nil, err
	}
	return &p, nil
}

// SimilarPosts は投稿に類似する投稿を取得する。
// includeNsfwがfalseの場合は nsfw=false を付けてリクエストする。
func (c *Client) SimilarPosts(ctx context.Context, id int, includeNsfw bool) ([]model.Post, error) {
	path := "/post/" + strconv.Itoa(id) + "/similar"
	if !includeNsfw {
		path += "?nsfw=false"
	}
	var page model.Page
	if err := c.get(ctx, EndpointSimilar, path, true, &page, "posts"); err != nil {
		return nil, err
	}
	return page.Posts, nil
}

// PostIDs は全投稿のIDを取得する。
func (c *Client) PostIDs(ctx context.Context) ([]int, error) {
	var resp model.IDsResponse
	if err := c.get(ctx, EndpointIDs, "/ids", true, &resp, "ids"); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// Authors は投稿者の一覧を取得する。
func (c *Client) Authors(ctx context.Context) ([]string, error) {
	var resp model.AuthorsResponse
	if err := c.get(ctx, EndpointAuthors, "/authors", true, &resp, "authors"); err != nil {
		return nil, err
	}
	return resp.Authors, nil
}

// DistinctAuthorCount は重複を除いた投稿者数を返す。
func (c *Client) DistinctAuthorCount(ctx context.Context) (int, error) {
	authors, err := c.Authors(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(authors))
	for _, a := range authors {
		seen[a] = struct{}{}
	}
	return len(seen), nil
}

// getPage は meta と posts を持つページ形式のレスポンスを取得する。
func (c *Client) getPage(ctx context.Context, path string, cacheable bool) (*model.Page, error) {
	var page model.Page
	if err := c.get(ctx, EndpointPosts, path, cacheable, &page, "meta", "posts"); err != nil {
		return nil, err
	}
	return &page, nil
}

// get はpathをGETし、本文が必須キーを持つJSONオブジェクトであることを確認してintoにデコードする。
// cacheableなレスポンスはキャッシュから返し、APIから取得した場合は保存する。
// WithRefreshを付けたコンテキストではキャッシュの読み出しを省略する。
func (c *Client) get(ctx context.Context, endpoint, path string, cacheable bool, into any, keys ...string) error {
	useCache := cacheable && c.cache != nil
	if useCache && !isRefresh(ctx) {
		body, ok, err := c.cache.Get(ctx, path)
		if err != nil {
			// キャッシュ障害時はAPIから取得する
			c.logger.Warn("キャッシュの読み出しに失敗しました",
				slog.String("key", path),
				slog.String("error", err.Error()),
			)
		}
		if ok && decode(body, into, keys) == nil {
			c.metrics.RecordCacheHit(endpoint)
			return nil
		}
		c.metrics.RecordCacheMiss(endpoint)
	}

	body, err := c.do(ctx, endpoint, path, into, keys)
	if err != nil {
		return err
	}

	if useCache {
		if err := c.cache.Set(ctx, path, body); err != nil {
			c.logger.Warn("キャッシュへの保存に失敗しました",
				slog.String("key", path),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, endpoint, path string, into any, keys []string) ([]byte, error) {
	reqURL := c.baseURL.String() + path

	ctx, span := c.tracer.Start(ctx, "GET "+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", http.MethodGet),
			attribute.String("url.full", reqURL),
		),
	)
	defer span.End()

	fail := func(fe *model.FetchError) error {
		span.RecordError(fe)
		span.SetStatus(codes.Error, fe.Kind.String())
		c.metrics.RecordUpstreamFailure(endpoint, fe.Kind.String())
		return fe
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fail(&model.FetchError{Kind: model.KindNetworkFailure, URL: reqURL, Err: err})
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// キャンセルは新しいセッションに置き換えられた通常の経路なのでログしない
		if !errors.Is(err, context.Canceled) {
			c.logger.Error("AnalogDB APIの呼び出しに失敗しました",
				slog.String("endpoint", endpoint),
				slog.String("url", reqURL),
				slog.String("error", err.Error()),
			)
		}
		return nil, fail(&model.FetchError{Kind: model.KindNetworkFailure, URL: reqURL, Err: err})
	}
	defer resp.Body.Close()

	c.metrics.RecordUpstreamRequest(endpoint, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if class := ClassifyHTTPStatus(resp.StatusCode); class != StatusOK {
		level := slog.LevelError
		if class == StatusNotFound {
			level = slog.LevelInfo
		}
		c.logger.Log(ctx, level, "AnalogDB APIがエラーステータスを返しました",
			slog.String("endpoint", endpoint),
			slog.String("url", reqURL),
			slog.Int("http_status", resp.StatusCode),
			slog.String("class", class.String()),
		)
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fail(&model.FetchError{Kind: model.KindHTTPError, StatusCode: resp.StatusCode, URL: reqURL})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		c.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return nil, fail(&model.FetchError{Kind: model.KindNetworkFailure, URL: reqURL, Err: err})
	}

	if err := decode(body, into, keys); err != nil {
		c.logger.Error("AnalogDB APIのレスポンスが不正です",
			slog.String("endpoint", endpoint),
			slog.String("url", reqURL),
			slog.String("error", err.Error()),
		)
		return nil, fail(&model.FetchError{Kind: model.KindMalformedResponse, URL: reqURL, Err: err})
	}

	return body, nil
}

// decode は本文がkeysをすべて持つJSONオブジェクトであることを確認してからintoにデコードする。
func decode(body []byte, into any, keys []string) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return fmt.Errorf("JSONオブジェクトではありません: %w", err)
	}
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return fmt.Errorf("キー %q がありません", k)
		}
	}
	return json.Unmarshal(body, into)
}

type refreshKey struct{}

// WithRefresh はキャッシュを読まずにAPIから取得し、結果でキャッシュを更新するコンテキストを返す。
// キャッシュウォーマーが使う。
func WithRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, refreshKey{}, true)
}

func isRefresh(ctx context.Context) bool {
	v, _ := ctx.Value(refreshKey{}).(bool)
	return v
}
