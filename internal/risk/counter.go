package risk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is the short-lived counter store behind the velocity signal. It is
// never the system of record: races only affect score precision, and callers
// treat errors as "no signal" rather than failing a payment on it.
type Counter interface {
	// Get returns the current count for key, or 0 when the key is absent.
	Get(ctx context.Context, key string) (int64, error)

	// Increment bumps the count and refreshes its expiry.
	Increment(ctx context.Context, key string, ttl time.Duration) error
}

// RedisCounter implements Counter on a Redis client with INCR + EXPIRE.
type RedisCounter struct {
	rdb *redis.Client
}

// NewRedisCounter creates a Redis-backed counter store.
func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (c *RedisCounter) Get(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *RedisCounter) Increment(ctx context.Context, key string, ttl time.Duration) error {
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// NoopCounter is the always-miss stand-in used when no counter store is
// configured. Every read sees zero and every write succeeds, which makes the
// engine's fail-open behavior the configured default rather than an error
// path.
type NoopCounter struct{}

func (NoopCounter) Get(context.Context, string) (int64, error)             { return 0, nil }
func (NoopCounter) Increment(context.Context, string, time.Duration) error { return nil }

// MemoryCounter implements Counter with an expiring in-process map. Used for
// testing and development.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]memoryCount
}

type memoryCount struct {
	n       int64
	expires time.Time
}

// NewMemoryCounter creates a new in-memory counter store.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]memoryCount)}
}

func (c *MemoryCounter) Get(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.counts[key]
	if !ok || time.Now().After(entry.expires) {
		return 0, nil
	}
	return entry.n, nil
}

func (c *MemoryCounter) Increment(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.counts[key]
	if time.Now().After(entry.expires) {
		entry.n = 0
	}
	entry.n++
	entry.expires = time.Now().Add(ttl)
	c.counts[key] = entry
	return nil
}
