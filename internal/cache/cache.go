// Package cache 提供缓存抽象、Redis实现与台账快照缓存。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrCacheMiss 表示键不存在或已过期。
var ErrCacheMiss = errors.New("cache miss")

// Cache 定义缓存操作接口。
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// MemoryCache 内存缓存实现（用于开发、测试及Redis不可用时的降级）。
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]*memoryCacheItem
}

type memoryCacheItem struct {
	value      []byte
	expiration time.Time
}

// NewMemoryCache 创建内存缓存实例。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]*memoryCacheItem)}
}

func (m *MemoryCache) Get(ctx context.Context, key string, dest any) error {
	m.mu.RLock()
	item, exists := m.data[key]
	m.mu.RUnlock()

	if !exists {
		return ErrCacheMiss
	}
	if time.Now().After(item.expiration) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return ErrCacheMiss
	}
	return json.Unmarshal(item.value, dest)
}

func (m *MemoryCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.data[key] = &memoryCacheItem{
		value:      data,
		expiration: time.Now().Add(expiration),
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	for _, key := range keys {
		delete(m.data, key)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Ping(ctx context.Context) error { return nil }

func (m *MemoryCache) Close() error {
	m.mu.Lock()
	m.data = make(map[string]*memoryCacheItem)
	m.mu.Unlock()
	return nil
}

// NullCache 空缓存实现（禁用缓存时使用）。
type NullCache struct{}

// NewNullCache 创建空缓存实例。
func NewNullCache() *NullCache { return &NullCache{} }

func (n *NullCache) Get(ctx context.Context, key string, dest any) error { return ErrCacheMiss }

func (n *NullCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	return nil
}

func (n *NullCache) Del(ctx context.Context, keys ...string) error { return nil }

func (n *NullCache) Ping(ctx context.Context) error { return nil }

func (n *NullCache) Close() error { return nil }
