// Package cache provides byte stores used to memoize TTS responses.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// Store is a byte cache keyed by string.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// MemoryStore is a fixed-size in-process LRU.
type MemoryStore struct {
	entries *lru.Cache[string, []byte]
}

// NewMemoryStore creates an LRU holding at most size entries.
func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = 64
	}
	entries, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &MemoryStore{entries: entries}, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.entries.Get(key)
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.entries.Add(key, value)
	return nil
}

// Len returns the number of cached entries.
func (m *MemoryStore) Len() int {
	return m.entries.Len()
}

// RedisStore keeps entries in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. Keys are namespaced with prefix.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}
