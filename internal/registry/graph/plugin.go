package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/registry/snapshot"
)

// Entity is a node in the graph store. MergeEntity is idempotent on Name.
type Entity struct {
	Name     string    `json:"name"`
	Category string    `json:"category"`
	AgentID  string    `json:"agentId"`
	LastSeen time.Time `json:"lastSeen"`
}

// Relation is a RELATED_TO edge between two entities. MergeRelation is
// idempotent on the (From, To) pair.
type Relation struct {
	From       string           `json:"from"`
	To         string           `json:"to"`
	AgentID    string           `json:"agentId"`
	MemoryType model.MemoryType `json:"memoryType"`
	Confidence float64          `json:"confidence"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// GraphStore is an entity-relationship backend with MERGE-style upsert semantics.
type GraphStore interface {
	snapshot.Snapshotter

	MergeEntity(ctx context.Context, e Entity) error
	MergeRelation(ctx context.Context, r Relation) error
	// EntitiesForAgent returns all entities last touched by the given agent.
	EntitiesForAgent(ctx context.Context, agentID string) ([]Entity, error)

	IsEnabled() bool
	Name() string
}

// Loader creates a GraphStore from config carried in ctx.
type Loader func(ctx context.Context) (GraphStore, error)

// Plugin represents a graph store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a graph store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered graph store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named graph store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown graph store %q; valid: %v", name, Names())
}
