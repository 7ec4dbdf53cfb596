package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the memory fabric.
type Config struct {
	// Agent registry YAML file. Loaded once at startup; immutable thereafter.
	AgentRegistryPath string

	// Structured store (source of truth)
	DBKind         string // "postgres" or "sqlite"
	DBURL          string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Run structured-store migrations on startup.
	DatastoreMigrateAtStart bool

	// Vector store
	VectorType           string // "qdrant", "memory", or "" (disabled)
	VectorMigrateAtStart bool
	EmbeddingDimension   int

	// Qdrant
	QdrantHost           string
	QdrantPort           int
	QdrantAPIKey         string
	QdrantUseTLS         bool
	QdrantStartupTimeout time.Duration

	// Graph store
	GraphType     string // "neo4j", "memory", or "" (disabled)
	Neo4jURI      string
	Neo4jUsername string
	Neo4jPassword string

	// Cache layer
	CacheType string // "redis", "ristretto", or "none"
	RedisURL  string
	CacheTTL  time.Duration

	// Fan-out writer. When FanoutAsync is true secondary writes are
	// fire-and-forget and per-store results report "pending".
	FanoutAsync   bool
	FanoutTimeout time.Duration

	// Federated search
	SearchLimit         int
	SimilarityThreshold float64

	// Undo ledger
	UndoRetentionDays int
	UndoRingSize      int
	RedoHistorySize   int

	// Maintenance
	DedupFingerprint      string // "prefix" or "sha256"
	DedupPrefixLength     int
	DedupPlanTTL          time.Duration
	SummarizeTargetLength int
	SummarizeMinLength    int
	SummarizeAgeDays      int

	// Backup / restore
	BackupDir          string
	BackupCompress     bool
	BackupStoreTimeout time.Duration
	BackupPreRestore   bool

	// Optional S3 upload of completed backups.
	S3Bucket string
	S3Prefix string

	// Job schedules (cron expressions). Empty disables the job.
	DedupSchedule     string
	SummarizeSchedule string
	ExpireSchedule    string
	UndoGCSchedule    string
	BackupSchedule    string

	// Metrics listener address for /metrics. Empty disables the listener.
	MetricsAddr string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DBKind:                  "postgres",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		VectorType:              "",
		VectorMigrateAtStart:    true,
		EmbeddingDimension:      1024,
		QdrantHost:              "localhost",
		QdrantPort:              6334,
		QdrantStartupTimeout:    30 * time.Second,
		GraphType:               "",
		CacheType:               "none",
		CacheTTL:                10 * time.Minute,
		FanoutTimeout:           5 * time.Second,
		SearchLimit:             20,
		SimilarityThreshold:     0.7,
		UndoRetentionDays:       30,
		UndoRingSize:            1024,
		RedoHistorySize:         256,
		DedupFingerprint:        "prefix",
		DedupPrefixLength:       100,
		DedupPlanTTL:            time.Hour,
		SummarizeTargetLength:   500,
		SummarizeMinLength:      1000,
		SummarizeAgeDays:        30,
		BackupDir:               "backups",
		BackupCompress:          true,
		BackupStoreTimeout:      5 * time.Minute,
		ExpireSchedule:          "@hourly",
		UndoGCSchedule:          "@daily",
		MetricsAddr:             ":9090",
	}
}

// QdrantAddress returns the host:port gRPC address for Qdrant.
func (c *Config) QdrantAddress() string {
	return fmt.Sprintf("%s:%d", c.QdrantHost, c.QdrantPort)
}

// UndoRetention returns the retention window as a duration.
func (c *Config) UndoRetention() time.Duration {
	days := c.UndoRetentionDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// BackupStores parses a comma-separated store list; empty means all stores.
func BackupStores(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
