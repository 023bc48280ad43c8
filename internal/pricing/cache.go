package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Loader produces a fresh catalogue snapshot.
type Loader func(context.Context) (Catalog, error)

// Cache holds catalogue snapshots for a bounded time.
type Cache interface {
	Fetch(ctx context.Context, key string, load Loader) (Catalog, error)
	Invalidate(ctx context.Context, key string) error
}

type memoryEntry struct {
	catalog   Catalog
	expiresAt time.Time
}

// loadTimeout bounds a shared load once it is detached from its callers.
const loadTimeout = 10 * time.Second

// MemoryCache keeps snapshots in process. Concurrent misses for a key share one load.
type MemoryCache struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	data  map[string]memoryEntry
	group singleflight.Group
}

// NewMemoryCache builds a MemoryCache; a nil clock uses time.Now.
func NewMemoryCache(ttl time.Duration, now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{ttl: ttl, now: now, data: make(map[string]memoryEntry)}
}

// Fetch returns the cached snapshot or loads it.
func (c *MemoryCache) Fetch(ctx context.Context, key string, load Loader) (Catalog, error) {
	if load == nil {
		return Catalog{}, errors.New("pricing cache: loader required")
	}
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.catalog, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// The load is shared, so one caller giving up must not fail the others.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		cat, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.data[key] = memoryEntry{catalog: cat, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return cat, nil
	})
	select {
	case <-ctx.Done():
		return Catalog{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Catalog{}, res.Err
		}
		return res.Val.(Catalog), nil
	}
}

// Invalidate drops the snapshot for key.
func (c *MemoryCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
	return nil
}

// RedisCache stores snapshots as JSON with a TTL so every API instance shares them.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache builds a RedisCache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, prefix: "pricing:"}
}

// Fetch returns the cached snapshot or loads and stores it.
func (c *RedisCache) Fetch(ctx context.Context, key string, load Loader) (Catalog, error) {
	if load == nil {
		return Catalog{}, errors.New("pricing cache: loader required")
	}
	if c == nil || c.client == nil {
		return load(ctx)
	}
	payload, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == nil {
		var cat Catalog
		if err := json.Unmarshal(payload, &cat); err != nil {
			return Catalog{}, fmt.Errorf("pricing cache: decode %s: %w", key, err)
		}
		return cat, nil
	}
	if !errors.Is(err, redis.Nil) {
		return Catalog{}, fmt.Errorf("pricing cache: get %s: %w", key, err)
	}
	cat, err := load(ctx)
	if err != nil {
		return Catalog{}, err
	}
	raw, err := json.Marshal(cat)
	if err != nil {
		return Catalog{}, err
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		return Catalog{}, fmt.Errorf("pricing cache: set %s: %w", key, err)
	}
	return cat, nil
}

// Invalidate deletes the stored snapshot.
func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.prefix+key).Err()
}
