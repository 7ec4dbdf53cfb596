// Package serve runs the memory fabric daemon: the fan-out writer, the
// maintenance scheduler and the backup jobs, plus the metrics listener.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-fabric/internal/agent"
	"github.com/chirino/memory-fabric/internal/backup"
	"github.com/chirino/memory-fabric/internal/config"
	"github.com/chirino/memory-fabric/internal/fanout"
	"github.com/chirino/memory-fabric/internal/maintenance"
	"github.com/chirino/memory-fabric/internal/metrics"
	"github.com/chirino/memory-fabric/internal/model"
	registrymigrate "github.com/chirino/memory-fabric/internal/registry/migrate"
	"github.com/chirino/memory-fabric/internal/scheduler"
	"github.com/chirino/memory-fabric/internal/undo"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration.
	_ "github.com/chirino/memory-fabric/internal/plugin/cache/noop"
	_ "github.com/chirino/memory-fabric/internal/plugin/cache/redis"
	_ "github.com/chirino/memory-fabric/internal/plugin/cache/ristretto"
	_ "github.com/chirino/memory-fabric/internal/plugin/graph/memory"
	_ "github.com/chirino/memory-fabric/internal/plugin/graph/neo4j"
	_ "github.com/chirino/memory-fabric/internal/plugin/store/sqlstore"
	_ "github.com/chirino/memory-fabric/internal/plugin/vector/memory"
	_ "github.com/chirino/memory-fabric/internal/plugin/vector/qdrant"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the memory fabric daemon",
		Flags: flags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(config.WithContext(ctx, &cfg), &cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	metrics.Init()

	registryPath := cfg.AgentRegistryPath
	if registryPath == "" {
		return errors.New("agent registry file is required (--agent-registry)")
	}
	agents, err := agent.Load(registryPath)
	if err != nil {
		return err
	}
	log.Info("agent registry loaded", "agents", len(agents.AgentIDs()), "collections", len(agents.Collections()))

	if cfg.DatastoreMigrateAtStart || cfg.VectorMigrateAtStart {
		if err := registrymigrate.RunAll(ctx); err != nil {
			return fmt.Errorf("startup migrations: %w", err)
		}
	}

	deps, err := loadStores(ctx, cfg)
	if err != nil {
		return err
	}

	logger := log.Default()
	ledger := undo.New(deps.store, cfg.UndoRetention(), cfg.UndoRingSize, cfg.RedoHistorySize, logger)
	writer := fanout.New(agents, deps.store, deps.vector, deps.graph, deps.cache, ledger, cfg, logger)
	ledger.SetApplier(writer)

	engine, err := maintenance.New(agents, deps.store, writer, ledger, cfg, logger)
	if err != nil {
		return err
	}

	orch := backup.New(deps.store, deps.vector, deps.graph, deps.cache, ledger, cfg, logger)
	if cfg.S3Bucket != "" {
		uploader, err := backup.NewS3Uploader(ctx, cfg.S3Bucket, cfg.S3Prefix, logger)
		if err != nil {
			return err
		}
		orch.SetUploader(uploader)
	}

	sched := scheduler.NewCron(logger)
	if err := registerJobs(sched, cfg, engine, ledger, orch); err != nil {
		return err
	}
	sched.Start()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("metrics listener started", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics listener failed", "error", err)
			}
		}()
	}

	log.Info("memory fabric running",
		"store", cfg.DBKind, "vector", cfg.VectorType, "graph", cfg.GraphType, "cache", cfg.CacheType)
	<-ctx.Done()

	log.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(stopCtx)
	}
	return sched.Stop(stopCtx)
}

func registerJobs(sched scheduler.Scheduler, cfg *config.Config, engine *maintenance.Engine, ledger *undo.Ledger, orch *backup.Orchestrator) error {
	jobs := []struct {
		spec, id string
		task     scheduler.Task
	}{
		{cfg.DedupSchedule, "dedup", func(ctx context.Context) error {
			// Scheduled dedup runs dry to produce a plan; mutation waits for
			// an operator's ApproveDeduplication.
			_, _, err := engine.RunDeduplication(ctx, true)
			return err
		}},
		{cfg.SummarizeSchedule, "summarize", func(ctx context.Context) error {
			_, err := engine.SummarizeOldMemories(ctx, cfg.SummarizeAgeDays, cfg.SummarizeMinLength, false)
			return err
		}},
		{cfg.ExpireSchedule, "expire", func(ctx context.Context) error {
			_, err := engine.ExpireMemories(ctx)
			return err
		}},
		{cfg.UndoGCSchedule, "undo_gc", func(ctx context.Context) error {
			_, err := ledger.GC(ctx)
			return err
		}},
		{cfg.BackupSchedule, "backup", func(ctx context.Context) error {
			_, err := orch.CreateBackup(ctx, backup.Request{
				Type:     model.BackupDaily,
				Compress: cfg.BackupCompress,
			})
			return err
		}},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if err := sched.Register(j.spec, j.id, j.task); err != nil {
			return err
		}
	}
	return nil
}
