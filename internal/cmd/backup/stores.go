package backup

import (
	"context"
	"fmt"

	"github.com/chirino/memory-fabric/internal/config"
	registrycache "github.com/chirino/memory-fabric/internal/registry/cache"
	registrygraph "github.com/chirino/memory-fabric/internal/registry/graph"
	registrystore "github.com/chirino/memory-fabric/internal/registry/store"
	registryvector "github.com/chirino/memory-fabric/internal/registry/vector"
	"github.com/urfave/cli/v3"
)

func storeFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "db-kind",
			Sources:     cli.EnvVars("MEMORY_FABRIC_DB_KIND"),
			Destination: &cfg.DBKind,
			Value:       cfg.DBKind,
			Usage:       "Structured store backend: postgres or sqlite",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Sources:     cli.EnvVars("MEMORY_FABRIC_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL",
		},
		&cli.StringFlag{
			Name:        "vector-type",
			Sources:     cli.EnvVars("MEMORY_FABRIC_VECTOR_TYPE"),
			Destination: &cfg.VectorType,
			Usage:       "Vector store backend: qdrant, memory, or empty to disable",
		},
		&cli.StringFlag{
			Name:        "qdrant-host",
			Sources:     cli.EnvVars("MEMORY_FABRIC_QDRANT_HOST"),
			Destination: &cfg.QdrantHost,
			Value:       cfg.QdrantHost,
			Usage:       "Qdrant gRPC host",
		},
		&cli.IntFlag{
			Name:        "qdrant-port",
			Sources:     cli.EnvVars("MEMORY_FABRIC_QDRANT_PORT"),
			Destination: &cfg.QdrantPort,
			Value:       cfg.QdrantPort,
			Usage:       "Qdrant gRPC port",
		},
		&cli.StringFlag{
			Name:        "graph-type",
			Sources:     cli.EnvVars("MEMORY_FABRIC_GRAPH_TYPE"),
			Destination: &cfg.GraphType,
			Usage:       "Graph store backend: neo4j, memory, or empty to disable",
		},
		&cli.StringFlag{
			Name:        "neo4j-uri",
			Sources:     cli.EnvVars("MEMORY_FABRIC_NEO4J_URI"),
			Destination: &cfg.Neo4jURI,
			Usage:       "Neo4j bolt URI",
		},
		&cli.StringFlag{
			Name:        "neo4j-username",
			Sources:     cli.EnvVars("MEMORY_FABRIC_NEO4J_USERNAME"),
			Destination: &cfg.Neo4jUsername,
			Usage:       "Neo4j username",
		},
		&cli.StringFlag{
			Name:        "neo4j-password",
			Sources:     cli.EnvVars("MEMORY_FABRIC_NEO4J_PASSWORD"),
			Destination: &cfg.Neo4jPassword,
			Usage:       "Neo4j password",
		},
		&cli.StringFlag{
			Name:        "cache-type",
			Sources:     cli.EnvVars("MEMORY_FABRIC_CACHE_TYPE"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Cache backend: redis, ristretto, or none",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Sources:     cli.EnvVars("MEMORY_FABRIC_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.StringFlag{
			Name:        "backup-dir",
			Sources:     cli.EnvVars("MEMORY_FABRIC_BACKUP_DIR"),
			Destination: &cfg.BackupDir,
			Value:       cfg.BackupDir,
			Usage:       "Directory for backup sets and restore records",
		},
		&cli.BoolFlag{
			Name:        "backup-compress",
			Sources:     cli.EnvVars("MEMORY_FABRIC_BACKUP_COMPRESS"),
			Destination: &cfg.BackupCompress,
			Value:       cfg.BackupCompress,
			Usage:       "Gzip-compress store snapshots",
		},
		&cli.DurationFlag{
			Name:        "backup-store-timeout",
			Sources:     cli.EnvVars("MEMORY_FABRIC_BACKUP_STORE_TIMEOUT"),
			Destination: &cfg.BackupStoreTimeout,
			Value:       cfg.BackupStoreTimeout,
			Usage:       "Per-store timeout during backup and restore",
		},
		&cli.BoolFlag{
			Name:        "backup-pre-restore",
			Sources:     cli.EnvVars("MEMORY_FABRIC_BACKUP_PRE_RESTORE"),
			Destination: &cfg.BackupPreRestore,
			Value:       cfg.BackupPreRestore,
			Usage:       "Take a safety backup before restoring",
		},
		&cli.StringFlag{
			Name:        "s3-bucket",
			Sources:     cli.EnvVars("MEMORY_FABRIC_S3_BUCKET"),
			Destination: &cfg.S3Bucket,
			Usage:       "S3 bucket for backup upload; empty disables upload",
		},
		&cli.StringFlag{
			Name:        "s3-prefix",
			Sources:     cli.EnvVars("MEMORY_FABRIC_S3_PREFIX"),
			Destination: &cfg.S3Prefix,
			Usage:       "Key prefix for uploaded backups",
		},
	}
}

// storeDeps holds the four store layers. Vector, graph and cache are nil
// when disabled.
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
