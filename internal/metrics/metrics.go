// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// APIクライアント、キャッシュ、フィードから利用する。
type MetricsCollector interface {
	RecordUpstreamRequest(endpoint string, statusCode int, duration time.Duration)
	RecordUpstreamFailure(endpoint string, kind string)
	RecordCacheHit(name string)
	RecordCacheMiss(name string)
	RecordSessionStarted()
	RecordPageAppended(posts int)
	RecordStaleResponse()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	upstreamRequests *prometheus.CounterVec
	upstreamFailures *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	sessionsStarted  prometheus.Counter
	pagesAppended    prometheus.Counter
	postsAppended    prometheus.Counter
	staleResponses   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analogview_upstream_requests_total",
			Help: "AnalogDB APIへのリクエスト数（エンドポイント・ステータス別）",
		}, []string{"endpoint", "status_code"}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analogview_upstream_failures_total",
			Help: "AnalogDB API取得失敗数（エンドポイント・分類別）",
		}, []string{"endpoint", "kind"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analogview_upstream_latency_seconds",
			Help:    "AnalogDB APIのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analogview_cache_lookups_total",
			Help: "レスポンスキャッシュの参照数（ヒット・ミス別）",
		}, []string{"cache", "result"}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analogview_feed_sessions_started_total",
			Help: "開始されたフィードセッション数",
		}),
		pagesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analogview_feed_pages_appended_total",
			Help: "フィードに追加されたページ数",
		}),
		postsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analogview_feed_posts_appended_total",
			Help: "フィードに追加された投稿数",
		}),
		staleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analogview_feed_stale_responses_total",
			Help: "古いセッション宛てのため破棄されたレスポンス数",
		}),
	}

	reg.MustRegister(
		c.upstreamRequests,
		c.upstreamFailures,
		c.upstreamLatency,
		c.cacheLookups,
		c.sessionsStarted,
		c.pagesAppended,
		c.postsAppended,
		c.staleResponses,
	)

	return c
}

// RecordUpstreamRequest はAPIレスポンスのステータスとレイテンシを記録する。
func (c *Collector) RecordUpstreamRequest(endpoint string, statusCode int, duration time.Duration) {
	c.upstreamRequests.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	c.upstreamLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordUpstreamFailure はAPI取得失敗を記録する。
func (c *Collector) RecordUpstreamFailure(endpoint string, kind string) {
	c.upstreamFailures.WithLabelValues(endpoint, kind).Inc()
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit(name string) {
	c.cacheLookups.WithLabelValues(name, "hit").Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss(name string) {
	c.cacheLookups.WithLabelValues(name, "miss").Inc()
}

// RecordSessionStarted はフィードセッション開始を記録する。
func (c *Collector) RecordSessionStarted() {
	c.sessionsStarted.Inc()
}

// RecordPageAppended はページ追加と投稿数を記録する。
func (c *Collector) RecordPageAppended(posts int) {
	c.pagesAppended.Inc()
	c.postsAppended.Add(float64(posts))
}

// RecordStaleResponse は破棄したレスポンスを記録する。
func (c *Collector) RecordStaleResponse() {
	c.staleResponses.Inc()
}

// Nop は何も記録しないMetricsCollector。CLIやテストで使う。
type Nop struct{}

func (Nop) RecordUpstreamRequest(string, int, time.Duration) {}
func (Nop) RecordUpstreamFailure(string, string)              {}
func (Nop) RecordCacheHit(string)                             {}
func (Nop) RecordCacheMiss(string)                            {}
func (Nop) RecordSessionStarted()                             {}
func (Nop) RecordPageAppended(int)                            {}
func (Nop) RecordStaleResponse()                              {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
