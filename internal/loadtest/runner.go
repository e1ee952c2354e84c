// Package loadtest はAnalogDB APIに対する負荷試験を実行する。
//
// シナリオごとに仮想ユーザーを区間（Stage）に従って増減させながら
// リクエストを繰り返し、失敗率とp95レイテンシを閾値と比較する。
package loadtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hitoshi/analogview/internal/model"
)

// rampInterval は仮想ユーザー数を見直す間隔。
const rampInterval = 100 * time.Millisecond

// Thresholds は合否判定の閾値。どちらも「未満」で合格。
type Thresholds struct {
	MaxFailureRate float64
	P95            time.Duration
}

// DefaultThresholds は失敗率1%未満・p95 100ms未満。
func DefaultThresholds() Thresholds {
	return Thresholds{MaxFailureRate: 0.01, P95: 100 * time.Millisecond}
}

// Config は負荷試験の設定。
type Config struct {
	BaseURL   string
	Scenarios []Scenario
	Stages    []Stage
	// StartVUs は各シナリオの開始時の仮想ユーザー数。
	StartVUs int
	// Delay は各リクエストの後に待つ時間。
	Delay time.Duration
	// RequestsPerSecond は全シナリオ合計のリクエスト数上限。0なら無制限。
	RequestsPerSecond float64
	Username          string
	Password          string
	// CheckHTTP2 がtrueならHTTP/2以外のレスポンスを失敗として数える。
	CheckHTTP2 bool
	Thresholds Thresholds
}

// Runner は負荷試験の実行器。1回のRunごとに生成すること。
type Runner struct {
	config  Config
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	recorders map[Scenario]*recorder
}

// NewRunner はRunnerを生成する。
func NewRunner(config Config, client *http.Client, logger *slog.Logger) (*Runner, error) {
	if config.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if len(config.Scenarios) == 0 {
		config.Scenarios = DefaultScenarios()
	}
	if len(config.Stages) == 0 {
		return nil, errors.New("at least one stage is required")
	}
	if config.StartVUs < 0 {
		config.StartVUs = 0
	}
	if config.Thresholds == (Thresholds{}) {
		config.Thresholds = DefaultThresholds()
	}

	r := &Runner{
		config:    config,
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		client:    client,
		logger:    logger,
		recorders: make(map[Scenario]*recorder),
	}
	if config.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}
	for _, s := range config.Scenarios {
		r.recorders[s] = &recorder{}
	}
	return r, nil
}

// Run はSetupの後、全シナリオを並行に実行して結果を集計する。
// 閾値を満たさない場合もReportは返し、エラーはErrThresholdsFailedになる。
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	var ids []int
	if r.needsIDs() {
		var err error
		ids, err = r.Setup(ctx)
		if err != nil {
			return nil, err
		}
	}

	r.logger.Info("負荷試験を開始しました",
		slog.String("base_url", r.baseURL),
		slog.Int("scenarios", len(r.config.Scenarios)),
		slog.Duration("duration", totalDuration(r.config.Stages)),
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range r.config.Scenarios {
		g.Go(func() error {
			r.runScenario(gctx, s, ids)
			return nil
		})
	}
	g.Wait()

	report := r.buildReport(time.Since(start))
	r.logger.Info("負荷試験が完了しました",
		slog.Int("requests", report.Total.Requests),
		slog.Int("failures", report.Total.Failures),
		slog.Bool("passed", report.Passed()),
	)
	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	if !report.Passed() {
		return report, ErrThresholdsFailed
	}
	return report, nil
}

// Setup は /ids から投稿IDの一覧を取得する。
func (r *Runner) Setup(ctx context.Context) ([]int, error) {
	resp, err := r.get(ctx, "/ids")
	if err != nil {
		return nil, fmt.Errorf("fetch post ids: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch post ids: unexpected status %d", resp.StatusCode)
	}

	var body model.IDsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode post ids: %w", err)
	}
	if len(body.IDs) == 0 {
		return nil, errors.New("fetch post ids: no posts available")
	}
	r.logger.Debug("投稿IDを取得しました", slog.Int("count", len(body.IDs)))
	return body.IDs, nil
}

func (r *Runner) needsIDs() bool {
	for _, s := range r.config.Scenarios {
		if s.needsIDs() {
			return true
		}
	}
	return false
}

// runScenario は区間に従って仮想ユーザー数を調整しながらsを実行する。
func (r *Runner) runScenario(ctx context.Context, s Scenario, ids []int) {
	var (
		wg  sync.WaitGroup
		vus []context.CancelFunc
	)
	scale := func(n int) {
		for len(vus) < n {
			vctx, cancel := context.WithCancel(ctx)
			vus = append(vus, cancel)
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.virtualUser(vctx, s, ids)
			}()
		}
		for len(vus) > n {
			vus[len(vus)-1]()
			vus = vus[:len(vus)-1]
		}
	}
	defer func() {
		scale(0)
		wg.Wait()
	}()

	total := totalDuration(r.config.Stages)
	start := time.Now()
	ticker := time.NewTicker(rampInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(total)
	defer deadline.Stop()

	scale(r.config.StartVUs)
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case now := <-ticker.C:
			scale(vusAt(r.config.Stages, r.config.StartVUs, now.Sub(start)))
		}
	}
}

func (r *Runner) virtualUser(ctx context.Context, s Scenario, ids []int) {
	rec := r.recorders[s]
	for ctx.Err() == nil {
		for _, path := range s.paths(ids) {
			if r.limiter != nil {
				if err := r.limiter.Wait(ctx); err != nil {
					return
				}
			}
			if !r.request(ctx, rec, path) {
				return
			}
			if r.config.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(r.config.Delay):
				}
			}
		}
	}
}

// request は1リクエストを実行して記録する。仮想ユーザーの停止で中断された場合はfalse。
func (r *Runner) request(ctx context.Context, rec *recorder, path string) bool {
	began := time.Now()
	resp, err := r.get(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		rec.add(time.Since(began), false)
		r.logger.Debug("リクエストに失敗しました", slog.String("path", path), slog.String("error", err.Error()))
		return true
	}
	_, copyErr := io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	elapsed := time.Since(began)
	if copyErr != nil && ctx.Err() != nil {
		return false
	}

	ok := copyErr == nil && resp.StatusCode == http.StatusOK
	if r.config.CheckHTTP2 && resp.ProtoMajor != 2 {
		ok = false
	}
	rec.add(elapsed, ok)
	return true
}

func (r *Runner) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if r.config.Username != "" && r.config.Password != "" {
		req.SetBasicAuth(r.config.Username, r.config.Password)
	}
	return r.client.Do(req)
}
