// Package feed は無限スクロールのページングフィードを提供する。
//
// Feedは1つのFilterQueryに対する「セッション」を持ち、先頭ページの取得と
// 次ページの追記を管理する。フィルタが変わると新しいセッションを開始し、
// 古いセッション宛てのレスポンスは破棄される。状態の変更はすべて
// Feedのミューテックスで直列化され、取得はゴルーチンで行う。
package feed

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/hitoshi/analogview/internal/metrics"
	"github.com/hitoshi/analogview/internal/model"
	"github.com/hitoshi/analogview/internal/query"
)

// DefaultProximityThreshold は末尾から何件以内が見えたら次ページを読み込むか。
const DefaultProximityThreshold = 10

// Fetcher はページを取得するインターフェース。
// apiclient.Clientが実装する。
type Fetcher interface {
	ListPosts(ctx context.Context, q query.FilterQuery) (*model.Page, error)
	NextPage(ctx context.Context, q query.FilterQuery, meta model.Meta) (*model.Page, error)
}

// Snapshot はある時点のフィードの状態のコピー。
type Snapshot struct {
	SessionID  uuid.UUID         `json:"session_id"`
	Query      query.FilterQuery `json:"-"`
	State      State             `json:"state"`
	Posts      []model.Post      `json:"posts"`
	TotalCount int               `json:"total_count"`
	HasMore    bool              `json:"has_more"`
	Cursor     model.Cursor      `json:"cursor,omitempty"`
	// Err は直前の取得失敗。次の取得成功で消える。
	Err error `json:"-"`
}

// Feed はページングフィード。ゼロ値ではなくNewで生成すること。
type Feed struct {
	fetcher   Fetcher
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	proximity int

	mu        sync.Mutex
	closed    bool
	session   uuid.UUID
	query     query.FilterQuery
	state     State
	posts     []model.Post
	meta      model.Meta
	total     int
	err       error
	cancel    context.CancelFunc
	inflight  chan struct{}
	listeners map[int]func(Snapshot)
	nextID    int
	// pending は配信待ちのスナップショット。状態を変えた順に積まれる。
	pending   []Snapshot
	drainDone chan struct{}

	wg sync.WaitGroup
}

// Option はFeedの任意設定。
type Option func(*Feed)

// WithProximityThreshold はNearEndで次ページを読み込む閾値を設定する。
func WithProximityThreshold(n int) Option {
	return func(f *Feed) {
		if n >= 0 {
			f.proximity = n
		}
	}
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(f *Feed) {
		f.metrics = m
	}
}

// New はIdle状態のFeedを生成する。
func New(fetcher Fetcher, logger *slog.Logger, opts ...Option) *Feed {
	f := &Feed{
		fetcher:   fetcher,
		logger:    logger,
		metrics:   metrics.Nop{},
		proximity: DefaultProximityThreshold,
		state:     Idle,
		listeners: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// StartSession はqで新しいセッションを開始し、先頭ページの取得を始める。
// 表示中の投稿は破棄され、状態はLoadingFirstになる。
// 前のセッションの取得中リクエストはキャンセルされる。
func (f *Feed) StartSession(q query.FilterQuery) uuid.UUID {
	f.mu.Lock()
	if f.closed {
		id := f.session
		f.mu.Unlock()
		return id
	}
	if f.cancel != nil {
		f.cancel()
	}

	id := uuid.New()
	f.session = id
	f.query = q.Clone()
	f.posts = nil
	f.meta = model.Meta{}
	f.total = 0
	f.err = nil
	f.state = LoadingFirst

	ctx, done := f.beginLoadLocked()
	go f.fetchFirst(ctx, done, id, f.query)

	f.enqueueLocked()
	f.mu.Unlock()

	f.metrics.RecordSessionStarted()
	f.logger.Debug("フィードセッションを開始しました",
		slog.String("session_id", id.String()),
		slog.String("query", q.Encode()),
	)
	f.drain()
	return id
}

// LoadMore は次ページの取得を始める。
// Readyかつ続きがある場合のみ取得を開始してtrueを返す。それ以外は何もせずfalseを返す。
// 取得中に何度呼んでもリクエストは1つしか発行されない。
func (f *Feed) LoadMore() bool {
	f.mu.Lock()
	ok := f.loadMoreLocked()
	f.mu.Unlock()
	if ok {
		f.drain()
	}
	return ok
}

// NearEnd はスクロール位置の通知。
// lastVisibleIndex（0始まり）が末尾から閾値以内ならLoadMoreを呼ぶ。
// LoadingMore・Exhaustedなど読み込めない状態では無視される。
func (f *Feed) NearEnd(lastVisibleIndex int) bool {
	f.mu.Lock()
	if f.state != Ready || lastVisibleIndex < len(f.posts)-1-f.proximity {
		f.mu.Unlock()
		return false
	}
	ok := f.loadMoreLocked()
	f.mu.Unlock()
	if ok {
		f.drain()
	}
	return ok
}

// Snapshot は現在の状態のコピーを返す。
func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// State は現在の状態を返す。
func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Wait は取得中のリクエストと購読者への配信が完了するまで待つ。
// 待機中に新しいセッションが始まった場合はその取得も待つ。購読者の関数から呼んではならない。
func (f *Feed) Wait(ctx context.Context) error {
	for {
		f.mu.Lock()
		ch := f.inflight
		if ch == nil {
			ch = f.drainDone
		}
		f.mu.Unlock()
		if ch == nil {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Subscribe は状態が変わるたびに呼ばれる関数を登録し、登録解除の関数を返す。
// fnはミューテックスの外で呼ばれ、状態が変わった順に1つずつ届く。
// fnの中でStartSessionなどを呼んだ場合、その通知は現在の配信が終わってから届く。
func (f *Feed) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

// Close は取得中のリクエストをキャンセルし、ゴルーチンの終了を待つ。
// Close後のStartSession・LoadMoreは何もしない。
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *Feed) loadMoreLocked() bool {
	if f.closed || f.state != Ready || f.meta.NextPageID == "" {
		return false
	}
	f.state = LoadingMore
	ctx, done := f.beginLoadLocked()
	go f.fetchMore(ctx, done, f.session, f.query, f.meta)
	f.enqueueLocked()
	return true
}

// beginLoadLocked は取得1回分のコンテキストと完了チャネルを用意する。
func (f *Feed) beginLoadLocked() (context.Context, chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	f.cancel = cancel
	f.inflight = done
	f.wg.Add(1)
	return ctx, done
}

// finishLoadLocked は取得1回分の後始末をする。ロックを保持した状態で呼び、解放して戻る。
// 現在のセッションの結果だけを配信待ちに積む。
// 後続の取得が始まっていればそちらのチャネルは残す。
func (f *Feed) finishLoadLocked(id uuid.UUID, done chan struct{}) {
	if id == f.session {
		f.enqueueLocked()
	}
	f.mu.Unlock()
	f.drain()

	f.mu.Lock()
	close(done)
	if f.inflight == done {
		f.inflight = nil
		f.cancel = nil
	}
	f.mu.Unlock()
}

func (f *Feed) fetchFirst(ctx context.Context, done chan struct{}, id uuid.UUID, q query.FilterQuery) {
	defer f.wg.Done()
	page, err := f.fetcher.ListPosts(ctx, q)

	f.mu.Lock()
	defer f.finishLoadLocked(id, done)

	if !f.acceptLocked(id, err) {
		return
	}
	if err != nil {
		f.err = err
		f.state = Idle
		return
	}

	f.posts = page.Posts
	f.meta = page.Meta
	f.total = page.Meta.TotalPosts
	f.err = nil
	switch {
	case len(page.Posts) == 0 && page.Meta.TotalPosts == 0:
		f.state = Empty
	case page.HasMore():
		f.state = Ready
	default:
		f.state = Exhausted
	}
	f.metrics.RecordPageAppended(len(page.Posts))
}

func (f *Feed) fetchMore(ctx context.Context, done chan struct{}, id uuid.UUID, q query.FilterQuery, meta model.Meta) {
	defer f.wg.Done()
	page, err := f.fetcher.NextPage(ctx, q, meta)

	f.mu.Lock()
	defer f.finishLoadLocked(id, done)

	if !f.acceptLocked(id, err) {
		return
	}
	if err != nil {
		// 投稿とカーソルは保持し、もう一度LoadMoreできる状態に戻す
		f.err = err
		f.state = Ready
		return
	}

	f.posts = append(f.posts, page.Posts...)
	f.meta = page.Meta
	f.total = page.Meta.TotalPosts
	f.err = nil
	if page.HasMore() {
		f.state = Ready
	} else {
		f.state = Exhausted
	}
	f.metrics.RecordPageAppended(len(page.Posts))
}

// acceptLocked はレスポンスを現在のセッションに反映してよいかを判定する。
// 古いセッション宛てのレスポンスは破棄する。
func (f *Feed) acceptLocked(id uuid.UUID, err error) bool {
	if id != f.session {
		f.metrics.RecordStaleResponse()
		f.logger.Debug("古いセッションのレスポンスを破棄しました",
			slog.String("session_id", id.String()),
			slog.String("current_session_id", f.session.String()),
		)
		return false
	}
	// Closeによるキャンセルは失敗として扱うがログには出さない
	if err != nil && !errors.Is(err, context.Canceled) {
		f.logger.Warn("フィードの取得に失敗しました",
			slog.String("session_id", id.String()),
			slog.String("state", f.state.String()),
			slog.String("kind", model.FetchErrorKindOf(err).String()),
			slog.String("error", err.Error()),
		)
	}
	return true
}

func (f *Feed) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID:  f.session,
		Query:      f.query.Clone(),
		State:      f.state,
		Posts:      slices.Clone(f.posts),
		TotalCount: f.total,
		HasMore:    f.meta.NextPageID != "",
		Cursor:     f.meta.NextPageID,
		Err:        f.err,
	}
}

func (f *Feed) enqueueLocked() {
	if len(f.listeners) == 0 {
		return
	}
	f.pending = append(f.pending, f.snapshotLocked())
}

// drain は配信待ちのスナップショットを積まれた順に購読者へ届ける。
// 配信は同時に1つのゴルーチンだけが行い、他のゴルーチンは積むだけで戻る。
func (f *Feed) drain() {
	f.mu.Lock()
	if f.drainDone != nil || len(f.pending) == 0 {
		f.mu.Unlock()
		return
	}
	done := make(chan struct{})
	f.drainDone = done

	for len(f.pending) > 0 {
		snap := f.pending[0]
		f.pending = f.pending[1:]
		fns := make([]func(Snapshot), 0, len(f.listeners))
		for _, fn := range f.listeners {
			fns = append(fns, fn)
		}
		f.mu.Unlock()

		for _, fn := range fns {
			fn(snap)
		}
		f.mu.Lock()
	}
	f.pending = nil
	f.drainDone = nil
	close(done)
	f.mu.Unlock()
}
