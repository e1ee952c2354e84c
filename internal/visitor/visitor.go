// Package visitor は閲覧者ごとのフィードセッションを保持する。
//
// ブラウザはCookieのUUIDで識別され、サーバーは閲覧者1人につき
// 1つのfeed.Controllerを持つ。フィルタの状態を所有するのはこのControllerだけで、
// 変更はControllerを通してのみ行われる。
package visitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hitoshi/analogview/internal/feed"
)

// Factory は新しい閲覧者のControllerを生成する。
type Factory func() *feed.Controller

// Store は閲覧者IDからControllerへの期限付きLRU。
// 追い出されたControllerのFeedはCloseされ、取得中のリクエストもキャンセルされる。
type Store struct {
	factory Factory
	logger  *slog.Logger

	// 取得と期限の延長、確認と追加をそれぞれ1つにまとめるためのロック
	mu  sync.Mutex
	lru *expirable.LRU[uuid.UUID, *feed.Controller]
}

// NewStore は最大size件、最終アクセスからttl経過で破棄されるStoreを生成する。
func NewStore(size int, ttl time.Duration, factory Factory, logger *slog.Logger) *Store {
	s := &Store{
		factory: factory,
		logger:  logger,
	}
	s.lru = expirable.NewLRU[uuid.UUID, *feed.Controller](size, s.onEvict, ttl)
	return s
}

// Get は閲覧者のControllerを返し、期限を延長する。
func (s *Store) Get(id uuid.UUID) (*feed.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchLocked(id)
}

// GetOrCreate は閲覧者のControllerを返す。存在しなければ生成して登録する。
// 2つ目の戻り値は新規作成したかどうか。
func (s *Store) GetOrCreate(id uuid.UUID) (*feed.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.touchLocked(id); ok {
		return c, false
	}
	c := s.factory()
	s.lru.Add(id, c)
	s.logger.Debug("閲覧者のフィードセッションを作成しました",
		slog.String("visitor_id", id.String()),
		slog.Int("visitors", s.lru.Len()),
	)
	return c, true
}

// Remove は閲覧者のControllerを破棄する。
func (s *Store) Remove(id uuid.UUID) bool {
	return s.lru.Remove(id)
}

// Len は保持している閲覧者数を返す。
func (s *Store) Len() int {
	return s.lru.Len()
}

// Close はすべてのControllerを破棄する。
func (s *Store) Close() {
	s.lru.Purge()
}

// touchLocked は見つかったControllerを追加し直して期限を延長する。
// expirable.LRUの期限はAddから数えられる。
func (s *Store) touchLocked(id uuid.UUID) (*feed.Controller, bool) {
	c, ok := s.lru.Get(id)
	if !ok {
		return nil, false
	}
	s.lru.Add(id, c)
	return c, true
}

func (s *Store) onEvict(id uuid.UUID, c *feed.Controller) {
	c.Feed().Close()
	s.logger.Debug("閲覧者のフィードセッションを破棄しました",
		slog.String("visitor_id", id.String()),
	)
}
