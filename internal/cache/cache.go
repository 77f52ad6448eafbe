package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// Cache stores opaque values by key. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryCache is a size-bounded in-process cache with a fixed TTL.
type MemoryCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryCache creates a memory cache holding at most size entries.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 1000
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MemoryCache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get returns a cached value.
func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.lru.Get(key)
	return v, ok, nil
}

// Set stores a value. The per-entry ttl is ignored; the cache-wide TTL applies.
func (m *MemoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.lru.Add(key, value)
	return nil
}

// Delete removes a value.
func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

// Len returns the number of live entries.
func (m *MemoryCache) Len() int {
	return m.lru.Len()
}

// RedisCache stores values in Redis under a key prefix.
type RedisCache struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

// NewRedisCache connects to the configured Redis and verifies the connection.
func NewRedisCache(config domain.CacheConfig, prefix string) (*RedisCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCacheFromClient(client, prefix, config.DefaultTTL), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, prefix string, defaultTTL time.Duration) *RedisCache {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &RedisCache{client: client, prefix: prefix, defaultTTL: defaultTTL}
}

func (r *RedisCache) key(k string) string {
	return r.prefix + k
}

// Get returns a cached value.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return val, true, nil
}

// Set stores a value; a zero ttl uses the default.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// Delete removes a value.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// Close closes the client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Tiered reads through a fast cache to a slower shared one and fills the
// fast tier on a shared hit. Either tier may be nil.
type Tiered struct {
	fast   Cache
	shared Cache
}

// NewTiered combines two caches.
func NewTiered(fast, shared Cache) *Tiered {
	return &Tiered{fast: fast, shared: shared}
}

// Get checks the fast tier, then the shared tier.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if t.fast != nil {
		if v, ok, err := t.fast.Get(ctx, key); err == nil && ok {
			return v, true, nil
		}
	}
	if t.shared == nil {
		return nil, false, nil
	}
	v, ok, err := t.shared.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if t.fast != nil {
		_ = t.fast.Set(ctx, key, v, 0)
	}
	return v, true, nil
}

// Set writes both tiers.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if t.fast != nil {
		if err := t.fast.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	if t.shared != nil {
		return t.shared.Set(ctx, key, value, ttl)
	}
	return nil
}

// Delete removes the key from both tiers.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	if t.fast != nil {
		if err := t.fast.Delete(ctx, key); err != nil {
			return err
		}
	}
	if t.shared != nil {
		return t.shared.Delete(ctx, key)
	}
	return nil
}
