// Package cache wraps go-redis for the HTTP layer's response caching
// (klines), grounded on the teacher repository's backend/cache/redis.go
// prefix+TTL JSON cache, trimmed to the Get/Set/Close surface this
// module actually exercises.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache: miss")

type Cache struct {
	client *redis.Client
	prefix string
}

func New(addr, password string, db int, prefix string) *Cache {
	return &Cache{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		prefix: prefix,
	}
}

func (c *Cache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Get unmarshals the cached value for k into dst. Returns ErrMiss on a
// cache miss so callers can fall through to computing the value.
func (c *Cache) Get(ctx context.Context, k string, dst interface{}) error {
	data, err := c.client.Get(ctx, c.key(k)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		return err
	}
	return json.Unmarshal(data, dst)
}

func (c *Cache) Set(ctx context.Context, k string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(k), data, ttl).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
