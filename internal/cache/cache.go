package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds short-lived dashboard and status aggregates so polling
// clients do not hit Postgres on every request.
type Cache struct {
	Redis     redis.UniversalClient
	Namespace string
}

func NewCache(namespace string, redisCl redis.UniversalClient) *Cache {
	return &Cache{
		Namespace: namespace,
		Redis:     redisCl,
	}
}

// Get returns the cached value for key; a miss surfaces redis.Nil.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	cmd := c.Redis.Get(ctx, c.Namespace+":"+key)
	return cmd.Val(), cmd.Err()
}

// Store saves value under key for ttl seconds.
func (c *Cache) Store(ctx context.Context, key string, ttl int, value interface{}) error {
	dur, err := time.ParseDuration(strconv.Itoa(ttl) + "s")
	if err != nil {
		return err
	}

	cmd := c.Redis.Set(ctx, c.Namespace+":"+key, value, dur)
	return cmd.Err()
}

// Remove deletes one key.
func (c *Cache) Remove(ctx context.Context, key string) error {
	cmd := c.Redis.Del(ctx, c.Namespace+":"+key)
	return cmd.Err()
}

// Flush drops every key in the namespace.
func (c *Cache) Flush(ctx context.Context) error {
	keys := c.Redis.Keys(ctx, c.Namespace+":*")
	//using pipeline to delete keys efficiently
	pl := c.Redis.Pipeline()

	for _, key := range keys.Val() {
		pl.Del(ctx, key)
	}

	_, err := pl.Exec(ctx)
	return err
}

// Invalidate is the write-side hook: every ledger write flushes the
// namespace. Paginated dashboard keys cannot be enumerated cheaply,
// and a group flush is a single pipeline round trip.
func (c *Cache) Invalidate(ctx context.Context, itemID int64) {
	_ = c.Flush(ctx)
}
