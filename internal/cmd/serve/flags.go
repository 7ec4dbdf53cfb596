package serve

import (
	"github.com/chirino/memory-fabric/internal/config"
	"github.com/urfave/cli/v3"
)

func flags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{

		// ── Agents ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "agent-registry",
			Category:    "Agents:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_AGENT_REGISTRY"),
			Destination: &cfg.AgentRegistryPath,
			Usage:       "Path to the agent registry YAML file",
		},

		// ── Structured Store ──────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Structured Store:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_DB_KIND"),
			Destination: &cfg.DBKind,
			Value:       cfg.DBKind,
			Usage:       "Structured store backend: postgres or sqlite",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Structured Store:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Structured Store:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Structured Store:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum idle database connections",
		},
		&cli.BoolFlag{
			Name:        "datastore-migrate-at-start",
			Category:    "Structured Store:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_DATASTORE_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run structured store migrations on startup",
		},

		// ── Vector Store ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "vector-type",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_VECTOR_TYPE"),
			Destination: &cfg.VectorType,
			Usage:       "Vector store backend: qdrant, memory, or empty to disable",
		},
		&cli.BoolFlag{
			Name:        "vector-migrate-at-start",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_VECTOR_MIGRATE_AT_START"),
			Destination: &cfg.VectorMigrateAtStart,
			Value:       cfg.VectorMigrateAtStart,
			Usage:       "Create missing vector collections on startup",
		},
		&cli.IntFlag{
			Name:        "embedding-dimension",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_EMBEDDING_DIMENSION"),
			Destination: &cfg.EmbeddingDimension,
			Value:       cfg.EmbeddingDimension,
			Usage:       "Dimension of stored embeddings",
		},
		&cli.StringFlag{
			Name:        "qdrant-host",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_QDRANT_HOST"),
			Destination: &cfg.QdrantHost,
			Value:       cfg.QdrantHost,
			Usage:       "Qdrant gRPC host",
		},
		&cli.IntFlag{
			Name:        "qdrant-port",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_QDRANT_PORT"),
			Destination: &cfg.QdrantPort,
			Value:       cfg.QdrantPort,
			Usage:       "Qdrant gRPC port",
		},
		&cli.StringFlag{
			Name:        "qdrant-api-key",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_QDRANT_API_KEY"),
			Destination: &cfg.QdrantAPIKey,
			Usage:       "Qdrant API key",
		},
		&cli.BoolFlag{
			Name:        "qdrant-use-tls",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_QDRANT_USE_TLS"),
			Destination: &cfg.QdrantUseTLS,
			Usage:       "Use TLS for the Qdrant connection",
		},

		// ── Graph Store ───────────────────────────────────────────
		&cli.StringFlag{
			Name:        "graph-type",
			Category:    "Graph Store:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_GRAPH_TYPE"),
			Destination: &cfg.GraphType,
			Usage:       "Graph store backend: neo4j, memory, or empty to disable",
		},
		&cli.StringFlag{
			Name:        "neo4j-uri",
			Category:    "Graph Store:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_NEO4J_URI"),
			Destination: &cfg.Neo4jURI,
			Usage:       "Neo4j bolt URI",
		},
		&cli.StringFlag{
			Name:        "neo4j-username",
			Category:    "Graph Store:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_NEO4J_USERNAME"),
			Destination: &cfg.Neo4jUsername,
			Usage:       "Neo4j username",
		},
		&cli.StringFlag{
			Name:        "neo4j-password",
			Category:    "Graph Store:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_NEO4J_PASSWORD"),
			Destination: &cfg.Neo4jPassword,
			Usage:       "Neo4j password",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-type",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_CACHE_TYPE"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Cache backend: redis, ristretto, or none",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.DurationFlag{
			Name:        "cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_CACHE_TTL"),
			Destination: &cfg.CacheTTL,
			Value:       cfg.CacheTTL,
			Usage:       "TTL for cached records",
		},

		// ── Fan-out Writer ────────────────────────────────────────
		&cli.BoolFlag{
			Name:        "fanout-async",
			Category:    "Fan-out Writer:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_FANOUT_ASYNC"),
			Destination: &cfg.FanoutAsync,
			Usage:       "Run secondary store writes fire-and-forget",
		},
		&cli.DurationFlag{
			Name:        "fanout-timeout",
			Category:    "Fan-out Writer:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_FANOUT_TIMEOUT"),
			Destination: &cfg.FanoutTimeout,
			Value:       cfg.FanoutTimeout,
			Usage:       "Timeout for secondary store writes",
		},

		// ── Search ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "search-limit",
			Category:    "Search:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_SEARCH_LIMIT"),
			Destination: &cfg.SearchLimit,
			Value:       cfg.SearchLimit,
			Usage:       "Default federated search result limit",
		},
		&cli.FloatFlag{
			Name:        "similarity-threshold",
			Category:    "Search:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_SIMILARITY_THRESHOLD"),
			Destination: &cfg.SimilarityThreshold,
			Value:       cfg.SimilarityThreshold,
			Usage:       "Minimum cosine similarity for vector hits",
		},

		// ── Undo Ledger ───────────────────────────────────────────
		&cli.IntFlag{
			Name:        "undo-retention-days",
			Category:    "Undo Ledger:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_UNDO_RETENTION_DAYS"),
			Destination: &cfg.UndoRetentionDays,
			Value:       cfg.UndoRetentionDays,
			Usage:       "Days before undo entries expire",
		},
		&cli.IntFlag{
			Name:        "undo-ring-size",
			Category:    "Undo Ledger:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_UNDO_RING_SIZE"),
			Destination: &cfg.UndoRingSize,
			Value:       cfg.UndoRingSize,
			Usage:       "In-memory undo ring buffer capacity",
		},
		&cli.IntFlag{
			Name:        "redo-history-size",
			Category:    "Undo Ledger:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_REDO_HISTORY_SIZE"),
			Destination: &cfg.RedoHistorySize,
			Value:       cfg.RedoHistorySize,
			Usage:       "Bounded redo history size",
		},

		// ── Maintenance ───────────────────────────────────────────
		&cli.StringFlag{
			Name:        "dedup-fingerprint",
			Category:    "Maintenance:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_DEDUP_FINGERPRINT"),
			Destination: &cfg.DedupFingerprint,
			Value:       cfg.DedupFingerprint,
			Usage:       "Duplicate fingerprint strategy: prefix or sha256",
		},
		&cli.IntFlag{
			Name:        "dedup-prefix-length",
			Category:    "Maintenance:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_DEDUP_PREFIX_LENGTH"),
			Destination: &cfg.DedupPrefixLength,
			Value:       cfg.DedupPrefixLength,
			Usage:       "Content prefix length for the prefix fingerprint",
		},
		&cli.DurationFlag{
			Name:        "dedup-plan-ttl",
			Category:    "Maintenance:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_DEDUP_PLAN_TTL"),
			Destination: &cfg.DedupPlanTTL,
			Value:       cfg.DedupPlanTTL,
			Usage:       "How long a deduplication plan stays approvable",
		},
		&cli.IntFlag{
			Name:        "summarize-target-length",
			Category:    "Maintenance:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_SUMMARIZE_TARGET_LENGTH"),
			Destination: &cfg.SummarizeTargetLength,
			Value:       cfg.SummarizeTargetLength,
			Usage:       "Target summary length in bytes",
		},
		&cli.IntFlag{
			Name:        "summarize-min-length",
			Category:    "Maintenance:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_SUMMARIZE_MIN_LENGTH"),
			Destination: &cfg.SummarizeMinLength,
			Value:       cfg.SummarizeMinLength,
			Usage:       "Minimum content length to consider summarizing",
		},
		&cli.IntFlag{
			Name:        "summarize-age-days",
			Category:    "Maintenance:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_SUMMARIZE_AGE_DAYS"),
			Destination: &cfg.SummarizeAgeDays,
			Value:       cfg.SummarizeAgeDays,
			Usage:       "Minimum record age in days before summarization",
		},

		// ── Backup ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "backup-dir",
			Category:    "Backup:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_BACKUP_DIR"),
			Destination: &cfg.BackupDir,
			Value:       cfg.BackupDir,
			Usage:       "Directory for backup sets and restore records",
		},
		&cli.BoolFlag{
			Name:        "backup-compress",
			Category:    "Backup:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_BACKUP_COMPRESS"),
			Destination: &cfg.BackupCompress,
			Value:       cfg.BackupCompress,
			Usage:       "Gzip-compress store snapshots",
		},
		&cli.DurationFlag{
			Name:        "backup-store-timeout",
			Category:    "Backup:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_BACKUP_STORE_TIMEOUT"),
			Destination: &cfg.BackupStoreTimeout,
			Value:       cfg.BackupStoreTimeout,
			Usage:       "Per-store timeout during backup and restore",
		},
		&cli.BoolFlag{
			Name:        "backup-pre-restore",
			Category:    "Backup:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_BACKUP_PRE_RESTORE"),
			Destination: &cfg.BackupPreRestore,
			Value:       cfg.BackupPreRestore,
			Usage:       "Take a safety backup before restoring",
		},
		&cli.StringFlag{
			Name:        "s3-bucket",
			Category:    "Backup:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_S3_BUCKET"),
			Destination: &cfg.S3Bucket,
			Usage:       "S3 bucket for backup upload; empty disables upload",
		},
		&cli.StringFlag{
			Name:        "s3-prefix",
			Category:    "Backup:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_S3_PREFIX"),
			Destination: &cfg.S3Prefix,
			Usage:       "Key prefix for uploaded backups",
		},

		// ── Schedules ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "dedup-schedule",
			Category:    "Schedules:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_DEDUP_SCHEDULE"),
			Destination: &cfg.DedupSchedule,
			Usage:       "Cron spec for deduplication dry runs; empty disables",
		},
		&cli.StringFlag{
			Name:        "summarize-schedule",
			Category:    "Schedules:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_SUMMARIZE_SCHEDULE"),
			Destination: &cfg.SummarizeSchedule,
			Usage:       "Cron spec for summarization; empty disables",
		},
		&cli.StringFlag{
			Name:        "expire-schedule",
			Category:    "Schedules:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_EXPIRE_SCHEDULE"),
			Destination: &cfg.ExpireSchedule,
			Value:       cfg.ExpireSchedule,
			Usage:       "Cron spec for expiration sweeps; empty disables",
		},
		&cli.StringFlag{
			Name:        "undo-gc-schedule",
			Category:    "Schedules:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_UNDO_GC_SCHEDULE"),
			Destination: &cfg.UndoGCSchedule,
			Value:       cfg.UndoGCSchedule,
			Usage:       "Cron spec for undo ledger garbage collection; empty disables",
		},
		&cli.StringFlag{
			Name:        "backup-schedule",
			Category:    "Schedules:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_BACKUP_SCHEDULE"),
			Destination: &cfg.BackupSchedule,
			Usage:       "Cron spec for scheduled backups; empty disables",
		},

		// ── Metrics ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-addr",
			Category:    "Metrics:",
			Sources:     cli.EnvVars("MEMORY_FABRIC_METRICS_ADDR"),
			Destination: &cfg.MetricsAddr,
			Value:       cfg.MetricsAddr,
			Usage:       "Listen address for /metrics; empty disables the listener",
		},
	}
}
