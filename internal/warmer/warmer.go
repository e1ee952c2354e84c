// Package warmer は共有レスポンスキャッシュを定期的に温め直す。
//
// ギャラリーの各プリセットの先頭ページ、/ids、/authorsを一定間隔で再取得し、
// キャッシュを読まずに上書きする。ランダム順はキャッシュされないため対象外。
package warmer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/analogview/internal/apiclient"
	"github.com/hitoshi/analogview/internal/model"
	"github.com/hitoshi/analogview/internal/query"
)

const (
	// maxBackoff は連続失敗時に次のサイクルを見送る最大時間。
	maxBackoff = 30 * time.Minute
	// defaultConcurrency は同時に発行するリクエスト数の既定値。
	defaultConcurrency = 4
)

// Source は温める対象のAPI操作。apiclient.Clientが実装する。
type Source interface {
	ListPosts(ctx context.Context, q query.FilterQuery) (*model.Page, error)
	PostIDs(ctx context.Context) ([]int, error)
	Authors(ctx context.Context) ([]string, error)
}

// Config はWarmerの設定。
type Config struct {
	// Interval はサイクルの実行間隔。
	Interval time.Duration
	// PageSize はプリセットの先頭ページの件数。ギャラリーと同じ値にしないとキャッシュキーが一致しない。
	PageSize int
	// Concurrency は同時リクエスト数。0以下なら既定値。
	Concurrency int
}

// TargetResult は1対象の取得結果。
type TargetResult struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Result は1サイクルの結果。Targetsは対象の登録順に並ぶ。
type Result struct {
	Targets  []TargetResult
	Duration time.Duration
	Skipped  bool
}

// Failed は失敗した対象数を返す。
func (r Result) Failed() int {
	n := 0
	for _, t := range r.Targets {
		if t.Err != nil {
			n++
		}
	}
	return n
}

// ErrAllFailed はすべての対象の取得に失敗したことを表す。
var ErrAllFailed = errors.New("every warm target failed")

type target struct {
	name string
	run  func(ctx context.Context) error
}

// Warmer はキャッシュの定期再取得ジョブ。
type Warmer struct {
	source  Source
	logger  *slog.Logger
	config  Config
	targets []target
	now     func() time.Time

	mu                  sync.Mutex
	consecutiveFailures int
	backoffUntil        time.Time
}

// New はWarmerを生成する。
func New(source Source, logger *slog.Logger, config Config) *Warmer {
	if config.Concurrency <= 0 {
		config.Concurrency = defaultConcurrency
	}
	if config.PageSize <= 0 {
		config.PageSize = query.DefaultPageSize
	}
	w := &Warmer{
		source: source,
		logger: logger,
		config: config,
		now:    time.Now,
	}
	w.targets = w.buildTargets()
	return w
}

func (w *Warmer) buildTargets() []target {
	targets := []target{
		{name: apiclient.EndpointIDs, run: func(ctx context.Context) error {
			_, err := w.source.PostIDs(ctx)
			return err
		}},
		{name: apiclient.EndpointAuthors, run: func(ctx context.Context) error {
			_, err := w.source.Authors(ctx)
			return err
		}},
	}
	for _, p := range query.Presets() {
		if p == query.PresetRandom {
			continue
		}
		q := query.FromPreset(p)
		q.PageSize = w.config.PageSize
		targets = append(targets, target{
			name: "preset:" + string(p),
			run: func(ctx context.Context) error {
				_, err := w.source.ListPosts(ctx, q)
				return err
			},
		})
	}
	return targets
}

// Start はInterval間隔でRunOnceを実行する。起動直後に1回実行する。
// コンテキストがキャンセルされるまで戻らない。
func (w *Warmer) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.logger.Info("キャッシュウォーマーを開始しました",
		slog.Duration("interval", w.config.Interval),
		slog.Int("targets", len(w.targets)),
	)

	w.runAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("キャッシュウォーマーを停止しました")
			return
		case <-ticker.C:
			w.runAndLog(ctx)
		}
	}
}

func (w *Warmer) runAndLog(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("キャッシュウォームのサイクルに失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は全対象を並行に再取得する。
// 一部の失敗はResultに記録して続行し、全対象が失敗した場合のみErrAllFailedを返す。
// 全滅が続くとバックオフし、その間のサイクルはSkippedになる。
func (w *Warmer) RunOnce(ctx context.Context) (Result, error) {
	start := w.now()

	w.mu.Lock()
	until := w.backoffUntil
	w.mu.Unlock()
	if !until.IsZero() && start.Before(until) {
		w.logger.Info("バックオフ中のためキャッシュウォームをスキップします",
			slog.Time("backoff_until", until),
		)
		return Result{Skipped: true}, nil
	}

	ctx = apiclient.WithRefresh(ctx)
	results := make([]TargetResult, len(w.targets))

	var g errgroup.Group
	g.SetLimit(w.config.Concurrency)
	for i, t := range w.targets {
		g.Go(func() error {
			began := time.Now()
			err := t.run(ctx)
			results[i] = TargetResult{Name: t.name, Duration: time.Since(began), Err: err}
			if err != nil && ctx.Err() == nil {
				w.logger.Warn("キャッシュウォームの対象を取得できませんでした",
					slog.String("target", t.name),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	g.Wait()

	res := Result{Targets: results, Duration: w.now().Sub(start)}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	failed := res.Failed()
	w.mu.Lock()
	if failed == len(results) {
		w.consecutiveFailures++
		backoff := calculateBackoff(w.config.Interval, w.consecutiveFailures)
		w.backoffUntil = w.now().Add(backoff)
		w.mu.Unlock()
		w.logger.Warn("連続失敗によりバックオフを適用します",
			slog.Int("consecutive_failures", w.consecutiveFailures),
			slog.Duration("backoff_duration", backoff),
		)
		return res, fmt.Errorf("%w (%d targets)", ErrAllFailed, failed)
	}
	w.consecutiveFailures = 0
	w.backoffUntil = time.Time{}
	w.mu.Unlock()

	w.logger.Info("キャッシュウォームのサイクルが完了しました",
		slog.Int("targets", len(results)),
		slog.Int("failed", failed),
		slog.Float64("duration_ms", float64(res.Duration.Milliseconds())),
	)
	return res, nil
}

// calculateBackoff は連続失敗回数に応じた待ち時間を返す。
// 1回目は待たず、以降はintervalの2倍ずつ増やしてmaxBackoffで頭打ちにする。
func calculateBackoff(interval time.Duration, consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 1 || interval <= 0 {
		return 0
	}
	delay := interval
	for i := 1; i < consecutiveFailures; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
