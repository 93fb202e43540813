// Package cache is the TTL'd key/value layer for ephemeral state
// (spec.md §6): strategies/rules/orders default to 24h, ticker
// snapshots to 5m. Grounded on internal/database/redis.go's
// redis.NewClient connection pattern, trimmed from the teacher's
// multi-level cache/manager.go down to the single Redis-backed level
// the core needs (the teacher's L1/L3 tiers serve an unrelated
// read-heavy REST cache, out of scope).
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default TTLs from spec.md §6.
const (
	DefaultTTL = 24 * time.Hour
	TickerTTL  = 5 * time.Minute
)

// Cache wraps a redis.Client with JSON-marshaled Get/Set.
type Cache struct {
	rdb *redis.Client
}

// New connects to redis at addr, matching internal/database/redis.go.
func New(addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect redis: %w", err)
	}
	return &Cache{rdb: client}, nil
}

// NewFromClient wraps an already-constructed client, for tests with
// miniredis or similar.
func NewFromClient(c *redis.Client) *Cache { return &Cache{rdb: c} }

// Set JSON-encodes value and stores it under key with ttl.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

// Get decodes the value stored at key into dst. Returns redis.Nil if
// the key is absent or expired.
func (c *Cache) Get(ctx context.Context, key string, dst interface{}) error {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// Del removes a key.
func (c *Cache) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// Exists reports whether key is present.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error { return c.rdb.Close() }

// Key helpers for the core's well-known cache namespaces.
func OrderKey(id string) string      { return "order:" + id }
func StrategyKey(id string) string   { return "strategy:" + id }
func RiskStateKey(userID string) string { return "risk:" + userID }
func TickerKey(exchange, pair string) string { return "ticker:" + exchange + ":" + pair }
