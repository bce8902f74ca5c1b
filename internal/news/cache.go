package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache stores a feed for a limited time.
type Cache interface {
	Get(ctx context.Context, key string) ([]Item, bool, error)
	Set(ctx context.Context, key string, items []Item, ttl time.Duration) error
}

type memoryEntry struct {
	items   []Item
	expires time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]Item, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expires) {
		return nil, false, nil
	}
	out := make([]Item, len(e.items))
	copy(out, e.items)
	return out, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, items []Item, ttl time.Duration) error {
	stored := make([]Item, len(items))
	copy(stored, items)
	m.mu.Lock()
	m.entries[key] = memoryEntry{items: stored, expires: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// redisClient is the subset of *redis.Client the cache uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisCache shares the feed between instances through Redis.
type RedisCache struct {
	client redisClient
	prefix string
}

// NewRedisCache connects to the Redis instance at redisURL.
func NewRedisCache(redisURL string) (*RedisCache, *redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	return newRedisCache(client), client, nil
}

func newRedisCache(client redisClient) *RedisCache {
	return &RedisCache{client: client, prefix: "coachgate:news:"}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]Item, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		// A corrupt entry is treated as a miss and overwritten.
		return nil, false, nil
	}
	return items, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, items []Item, ttl time.Duration) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode news items: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
