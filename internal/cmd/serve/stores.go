package serve

import (
	"context"
	"fmt"

	"github.com/chirino/memory-fabric/internal/config"
	registrycache "github.com/chirino/memory-fabric/internal/registry/cache"
	registrygraph "github.com/chirino/memory-fabric/internal/registry/graph"
	registrystore "github.com/chirino/memory-fabric/internal/registry/store"
	registryvector "github.com/chirino/memory-fabric/internal/registry/vector"
)

// storeDeps holds the four store layers. Vector, graph and cache are nil
// when disabled; the structured store is always present.
type storeDeps struct {
	store  registrystore.RecordStore
	vector registryvector.VectorStore
	graph  registrygraph.GraphStore
	cache  registrycache.RecordCache
}

func loadStores(ctx context.Context, cfg *config.Config) (*storeDeps, error) {
	deps := &storeDeps{}

	loader, err := registrystore.Select(cfg.DBKind)
	if err != nil {
		return nil, err
	}
	if deps.store, err = loader(ctx); err != nil {
		return nil, fmt.Errorf("structured store: %w", err)
	}

	if cfg.VectorType != "" {
		loader, err := registryvector.Select(cfg.VectorType)
		if err != nil {
			return nil, err
		}
		if deps.vector, err = loader(ctx); err != nil {
			return nil, fmt.Errorf("vector store: %w", err)
		}
	}

	if cfg.GraphType != "" {
		loader, err := registrygraph.Select(cfg.GraphType)
		if err != nil {
			return nil, err
		}
		if deps.graph, err = loader(ctx); err != nil {
			return nil, fmt.Errorf("graph store: %w", err)
		}
	}

	cacheType := cfg.CacheType
	if cacheType == "" {
		cacheType = "none"
	}
	cacheLoader, err := registrycache.Select(cacheType)
	if err != nil {
		return nil, err
	}
	if deps.cache, err = cacheLoader(ctx); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	return deps, nil
}
