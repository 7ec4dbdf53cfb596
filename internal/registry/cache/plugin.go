package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/registry/snapshot"
	"github.com/google/uuid"
)

// Key returns the cache key for a record, "memory:{agentId}:{memoryId}".
func Key(agentID string, id uuid.UUID) string {
	return fmt.Sprintf("memory:%s:%s", agentID, id.String())
}

// RecordCache is the low-latency read layer. Entries expire by store-managed
// TTL; a miss is never an error.
type RecordCache interface {
	snapshot.Snapshotter

	// Set stores the record under Key(rec.AgentID, rec.ID) with the given TTL.
	Set(ctx context.Context, rec *model.MemoryRecord, ttl time.Duration) error
	// Get returns the cached record, or nil on a miss.
	Get(ctx context.Context, agentID string, id uuid.UUID) (*model.MemoryRecord, error)
	Remove(ctx context.Context, agentID string, id uuid.UUID) error

	Available() bool
	Name() string
}

// Loader creates a RecordCache from config carried in ctx.
type Loader func(ctx context.Context) (RecordCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
