// Package cache memoises derived values such as rendered QR codes, in
// process with freecache or shared through redis.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coocood/freecache"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tgdrive/qdrop/internal/config"
)

const prefix = "qdrop:"

type Cacher interface {
	Get(key string, value any) error
	Set(key string, value any, expiration time.Duration) error
}

// NewCache returns a redis backed cache when an address is configured and
// an in-memory one otherwise. Redis must answer a ping before it is used.
func NewCache(ctx context.Context, conf *config.CacheConfig) (Cacher, error) {
	if conf.RedisAddr == "" {
		return NewMemoryCache(int(conf.MaxSize)), nil
	}
	client, err := NewRedisClient(ctx, RedisOptions{
		Addr:     conf.RedisAddr,
		Password: conf.RedisPass,
	})
	if err != nil {
		return nil, errors.Wrap(err, "cache")
	}
	return NewRedisCache(ctx, client), nil
}

type MemoryCache struct {
	cache *freecache.Cache
}

func NewMemoryCache(size int) *MemoryCache {
	return &MemoryCache{cache: freecache.NewCache(size)}
}

func (m *MemoryCache) Get(key string, value any) error {
	data, err := m.cache.Get([]byte(prefix + key))
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(data, value)
}

func (m *MemoryCache) Set(key string, value any, expiration time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return m.cache.Set([]byte(prefix+key), data, int(expiration.Seconds()))
}

type RedisCache struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisCache(ctx context.Context, client *redis.Client) *RedisCache {
	return &RedisCache{client: client, ctx: ctx}
}

func (r *RedisCache) Get(key string, value any) error {
	data, err := r.client.Get(r.ctx, prefix+key).Bytes()
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(data, value)
}

func (r *RedisCache) Set(key string, value any, expiration time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(r.ctx, prefix+key, data, expiration).Err()
}

func (r *RedisCache) Close() error { return r.client.Close() }

// Fetch returns the cached value for key or computes, stores and returns
// it. Values expiring in under a second are not stored.
func Fetch[T any](cache Cacher, key string, expiration time.Duration, fn func() (T, error)) (T, error) {
	var zero, value T
	err := cache.Get(key, &value)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, freecache.ErrNotFound) && !errors.Is(err, redis.Nil) {
		return zero, err
	}
	value, err = fn()
	if err != nil {
		return zero, err
	}
	if expiration >= time.Second {
		_ = cache.Set(key, &value, expiration)
	}
	return value, nil
}

func Key(args ...any) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprint(arg)
	}
	return strings.Join(parts, ":")
}
