// Package ristretto implements the record cache in process. It is the
// default for single-node deployments that want read caching without a
// Redis dependency.
package ristretto

import (
	"context"
	"sync"
	"time"

	"github.com/chirino/memory-fabric/internal/config"
	"github.com/chirino/memory-fabric/internal/model"
	registrycache "github.com/chirino/memory-fabric/internal/registry/cache"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "ristretto",
		Loader: func(ctx context.Context) (registrycache.RecordCache, error) {
			ttl := defaultTTL
			if cfg := config.FromContext(ctx); cfg != nil && cfg.CacheTTL > 0 {
				ttl = cfg.CacheTTL
			}
			return New(ttl)
		},
	})
}

type entry struct {
	key string
	rec *model.MemoryRecord
}

// Cache wraps a ristretto cache with a key index. Ristretto does not expose
// iteration, so the index is what Snapshot and Count walk. OnEvict keeps it
// in sync when entries age out or are admitted over others.
type Cache struct {
	inner *ristretto.Cache[string, entry]
	ttl   time.Duration

	mu   sync.Mutex
	keys map[string]struct{}
}

// New creates a Cache with the given default TTL.
func New(ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c := &Cache{ttl: ttl, keys: map[string]struct{}{}}
	inner, err := ristretto.NewCache(&ristretto.Config[string, entry]{
		NumCounters: 100_000,
		MaxCost:     64 << 20,
		BufferItems: 64,
		OnEvict: func(item *ristretto.Item[entry]) {
			c.mu.Lock()
			delete(c.keys, item.Value.key)
			c.mu.Unlock()
		},
	})
	if err != nil {
		return nil, err
	}
	c.inner = inner
	return c, nil
}

func (c *Cache) Available() bool { return true }
func (c *Cache) Name() string    { return "ristretto" }

func (c *Cache) Set(ctx context.Context, rec *model.MemoryRecord, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	key := registrycache.Key(rec.AgentID, rec.ID)
	cost := int64(len(rec.Content)) + 256
	c.inner.SetWithTTL(key, entry{key: key, rec: rec}, cost, ttl)
	c.inner.Wait()
	c.mu.Lock()
	c.keys[key] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *Cache) Get(ctx context.Context, agentID string, id uuid.UUID) (*model.MemoryRecord, error) {
	e, ok := c.inner.Get(registrycache.Key(agentID, id))
	if !ok {
		return nil, nil
	}
	return e.rec, nil
}

func (c *Cache) Remove(ctx context.Context, agentID string, id uuid.UUID) error {
	key := registrycache.Key(agentID, id)
	c.inner.Del(key)
	c.mu.Lock()
	delete(c.keys, key)
	c.mu.Unlock()
	return nil
}

func (c *Cache) Ping(ctx context.Context) error { return ctx.Err() }

func (c *Cache) Count(ctx context.Context) (int64, error) {
	var n int64
	for _, rec := range c.live() {
		_ = rec
		n++
	}
	return n, nil
}

// live returns the records still resident in the inner cache, keyed by
// cache key. Index entries whose backing item expired are pruned as a side
// effect.
func (c *Cache) live() map[string]*model.MemoryRecord {
	c.mu.Lock()
	keys := make([]string, 0, len(c.keys))
	for k := range c.keys {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	out := make(map[string]*model.MemoryRecord, len(keys))
	var stale []string
	for _, k := range keys {
		if e, ok := c.inner.Get(k); ok {
			out[k] = e.rec
		} else {
			stale = append(stale, k)
		}
	}
	if len(stale) > 0 {
		c.mu.Lock()
		for _, k := range stale {
			delete(c.keys, k)
		}
		c.mu.Unlock()
	}
	return out
}

var _ registrycache.RecordCache = (*Cache)(nil)
