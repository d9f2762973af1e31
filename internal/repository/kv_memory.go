package repository

import (
	"context"
	"time"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/patrickmn/go-cache"
)

// MemoryKV is a process-local KV store for single-instance deployments and
// tests. Values are copied on the way in and out.
type MemoryKV struct {
	cache *cache.Cache
}

func NewMemoryKV(defaultTTL, cleanupInterval time.Duration) *MemoryKV {
	return &MemoryKV{
		cache: cache.New(defaultTTL, cleanupInterval),
	}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, entity.ErrCacheMiss
	}
	b := v.([]byte)
	return append([]byte(nil), b...), nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	m.cache.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.cache.Delete(k)
	}
	return nil
}

func (m *MemoryKV) Ping(context.Context) error {
	return nil
}
