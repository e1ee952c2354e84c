// Package cache はAnalogDB APIレスポンスのキャッシュを提供する。
// プロセス内のLRUと、複数インスタンスで共有するRedisの2実装がある。
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Store はレスポンス本文をキー単位で保持するキャッシュ。
// Getは見つからない場合に (nil, false, nil) を返す。
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore はTTL付きLRUによるプロセス内キャッシュ。
type MemoryStore struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryStore は最大size件、有効期限ttlのMemoryStoreを生成する。
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 1
	}
	return &MemoryStore{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get はキーに対応する値を返す。
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.lru.Get(key)
	return v, ok, nil
}

// Set は値を保存する。上限を超えた場合は最も古いエントリを追い出す。
func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.lru.Add(key, value)
	return nil
}

// Delete はキーを削除する。
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}

// Len は保持件数を返す。
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}
