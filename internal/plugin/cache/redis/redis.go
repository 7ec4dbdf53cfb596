package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chirino/memory-fabric/internal/config"
	"github.com/chirino/memory-fabric/internal/model"
	registrycache "github.com/chirino/memory-fabric/internal/registry/cache"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.RecordCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: MEMORY_FABRIC_REDIS_URL is required")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, ttl)
}

// LoadFromURL creates a RecordCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string) (registrycache.RecordCache, error) {
	return LoadFromURLWithTTL(ctx, redisURL, defaultTTL)
}

// LoadFromURLWithTTL creates a cache with an explicit record TTL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.RecordCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &recordCache{client: client, ttl: ttl}, nil
}

type recordCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func (c *recordCache) Available() bool { return true }
func (c *recordCache) Name() string    { return "redis" }

func (c *recordCache) Get(ctx context.Context, agentID string, id uuid.UUID) (*model.MemoryRecord, error) {
	data, err := c.client.Get(ctx, registrycache.Key(agentID, id)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec model.MemoryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *recordCache) Set(ctx context.Context, rec *model.MemoryRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.client.SetEx(ctx, registrycache.Key(rec.AgentID, rec.ID), data, ttl).Err()
}

func (c *recordCache) Remove(ctx context.Context, agentID string, id uuid.UUID) error {
	return c.client.Del(ctx, registrycache.Key(agentID, id)).Err()
}

func (c *recordCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Count returns the number of cached memory records.
func (c *recordCache) Count(ctx context.Context) (int64, error) {
	var n int64
	iter := c.client.Scan(ctx, 0, "memory:*", 256).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}

var _ registrycache.RecordCache = (*recordCache)(nil)
