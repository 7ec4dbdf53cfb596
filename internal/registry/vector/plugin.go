package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/registry/snapshot"
	"github.com/google/uuid"
)

// UpsertRequest holds one point to store in a collection.
type UpsertRequest struct {
	ID         uuid.UUID
	Embedding  []float32
	AgentID    string
	MemoryType model.MemoryType
	CreatedAt  time.Time
}

// SearchHit is a single similarity search result. Score is cosine similarity.
type SearchHit struct {
	ID         uuid.UUID
	Score      float64
	AgentID    string
	MemoryType model.MemoryType
	CreatedAt  time.Time
}

// SearchQuery holds the parameters for a collection-scoped vector search.
type SearchQuery struct {
	Collection     string
	Embedding      []float32
	AgentID        string // optional payload filter
	Limit          int
	ScoreThreshold float32
}

// VectorStore is a similarity-search backend storing embeddings in
// per-category collections with cosine distance.
type VectorStore interface {
	snapshot.Snapshotter

	// EnsureCollection creates the named collection when missing.
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	Upsert(ctx context.Context, collection string, points []UpsertRequest) error
	Search(ctx context.Context, q SearchQuery) ([]SearchHit, error)
	Delete(ctx context.Context, collection string, ids []uuid.UUID) error
	CountCollection(ctx context.Context, collection string) (int64, error)

	// IsEnabled returns true if the vector store is configured and operational.
	IsEnabled() bool
	// Name returns the plugin name (e.g. "qdrant", "memory").
	Name() string
}

// Loader creates a VectorStore from config carried in ctx.
type Loader func(ctx context.Context) (VectorStore, error)

// Plugin represents a vector store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a vector store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered vector store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named vector store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown vector store %q; valid: %v", name, Names())
}
