// Package options resolves the selectable values of dropdown fields backed
// by a tool: it invokes the field's dropdown tool and caches the result per
// the tool's cache settings, in Redis or an in-process TTL map.
package options

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores resolved option lists with a TTL.
type Cache interface {
	// Get returns the cached options for key, with found=false on a miss.
	Get(ctx context.Context, key string) (options []string, found bool, err error)

	// Set stores options under key for the given TTL.
	Set(ctx context.Context, key string, options []string, ttl time.Duration) error
}

// Key builds the standard option cache key.
func Key(tenantID, agentID, tool, field string) string {
	return fmt.Sprintf("options:%s:%s:%s:%s", tenantID, agentID, tool, field)
}

// --- MemoryCache ---

// MemoryCache is an in-process Cache with TTL support. Suitable for tests
// and single-instance deployments.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*memEntry
	maxEntries int
}

type memEntry struct {
	options   []string
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory option cache. maxEntries of zero
// means unbounded.
func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{
		entries:    make(map[string]*memEntry),
		maxEntries: maxEntries,
	}
}

// Get returns cached options, expiring stale entries on access.
func (c *MemoryCache) Get(_ context.Context, key string) ([]string, bool, error) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return append([]string(nil), entry.options...), true, nil
}

// Set stores options with a TTL, evicting expired entries when full.
func (c *MemoryCache) Set(_ context.Context, key string, options []string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
		// Still full after sweeping: drop one arbitrary entry.
		if len(c.entries) >= c.maxEntries {
			for k := range c.entries {
				delete(c.entries, k)
				break
			}
		}
	}

	c.entries[key] = &memEntry{
		options:   append([]string(nil), options...),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// --- RedisCache ---

// RedisCache is a Redis-backed Cache.
type RedisCache struct {
	client redis.Cmdable
}

// NewRedisCache creates a Redis-backed option cache.
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns cached options from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var options []string
	if err := json.Unmarshal(raw, &options); err != nil {
		return nil, false, fmt.Errorf("unmarshal options %q: %w", key, err)
	}
	return options, true, nil
}

// Set stores options in Redis with a TTL.
func (c *RedisCache) Set(ctx context.Context, key string, options []string, ttl time.Duration) error {
	data, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}
