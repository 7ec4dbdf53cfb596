// Package backup provides one-shot backup, verify, restore and list
// sub-commands that wire the stores directly, without the daemon.
package backup

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-fabric/internal/backup"
	"github.com/chirino/memory-fabric/internal/config"
	"github.com/chirino/memory-fabric/internal/model"
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

// Command returns the backup sub-command tree.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "backup",
		Usage: "Create, verify, restore and list store backups",
		Flags: storeFlags(&cfg),
		Commands: []*cli.Command{
			createCommand(&cfg),
			verifyCommand(&cfg),
			restoreCommand(&cfg),
			listCommand(&cfg),
		},
	}
}

func createCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Snapshot the wired stores into a new backup set",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Usage: "Backup type (manual|daily|weekly|monthly)",
				Value: string(model.BackupManual),
			},
			&cli.StringFlag{
				Name:  "stores",
				Usage: "Comma-separated store subset; empty means all",
			},
			&cli.StringFlag{
				Name:  "description",
				Usage: "Free-form description recorded in the manifest",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			orch, err := wire(ctx, cfg)
			if err != nil {
				return err
			}
			manifest, err := orch.CreateBackup(ctx, backup.Request{
				Type:        model.BackupType(cmd.String("type")),
				Stores:      config.BackupStores(cmd.String("stores")),
				Compress:    cfg.BackupCompress,
				Description: cmd.String("description"),
			})
			if err != nil {
				return err
			}
			log.Info("backup created",
				"id", manifest.BackupID, "status", manifest.Status,
				"bytes", manifest.TotalSizeBytes, "checksum", manifest.Checksum)
			for name, res := range manifest.PerStoreResult {
				log.Info("store result", "store", name, "status", res.Status, "bytes", res.SizeBytes)
			}
			if manifest.Status == model.BackupStatusFailed {
				return errors.New("backup failed")
			}
			return nil
		},
	}
}

func verifyCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Check a backup's files and checksum against its manifest",
		ArgsUsage: "BACKUP_ID",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return errors.New("backup id argument is required")
			}
			orch, err := wire(ctx, cfg)
			if err != nil {
				return err
			}
			result, err := orch.VerifyBackup(ctx, id)
			if result != nil {
				for name, sr := range result.Stores {
					log.Info("store verify", "store", name, "ok", sr.OK, "error", sr.Error)
				}
				log.Info("backup verify", "id", result.BackupID, "ok", result.OK, "checksumOk", result.ChecksumOK)
			}
			return err
		},
	}
}

func restoreCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Replay a backup into the wired stores",
		ArgsUsage: "BACKUP_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "stores",
				Usage: "Comma-separated store subset; empty means every completed store",
			},
			&cli.StringFlag{
				Name:  "reason",
				Usage: "Why this restore is happening; recorded in the audit trail",
			},
			&cli.BoolFlag{
				Name:  "validate",
				Usage: "Ping and count each restored store after replay",
				Value: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return errors.New("backup id argument is required")
			}
			orch, err := wire(ctx, cfg)
			if err != nil {
				return err
			}
			result, err := orch.RestoreFromBackup(ctx, backup.RestoreRequest{
				BackupID: id,
				Stores:   config.BackupStores(cmd.String("stores")),
				Validate: cmd.Bool("validate"),
				Reason:   cmd.String("reason"),
			})
			if result != nil {
				log.Info("restore finished",
					"restoreId", result.Record.RestoreID, "status", result.Record.Status,
					"stores", result.RestoredStores, "safetyBackup", result.SafetyBackupID)
			}
			return err
		},
	}
}

func listCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List available backups, newest first",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			// Listing only reads manifests; no store wiring needed.
			orch := backup.New(nil, nil, nil, nil, nil, cfg, log.Default())
			manifests, err := orch.ListBackups()
			if err != nil {
				return err
			}
			if len(manifests) == 0 {
				log.Info("no backups found", "dir", cfg.BackupDir)
				return nil
			}
			for _, m := range manifests {
				fmt.Printf("%s  %-8s %-9s %12d bytes  %s\n",
					m.CreatedAt.Format("2006-01-02 15:04:05"), m.Type, m.Status, m.TotalSizeBytes, m.BackupID)
			}
			return nil
		},
	}
}

// wire loads the configured stores and an undo ledger for restore auditing.
func wire(ctx context.Context, cfg *config.Config) (*backup.Orchestrator, error) {
	ctx = config.WithContext(ctx, cfg)
	deps, err := loadStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger := log.Default()
	ledger := undo.New(deps.store, cfg.UndoRetention(), cfg.UndoRingSize, cfg.RedoHistorySize, logger)
	orch := backup.New(deps.store, deps.vector, deps.graph, deps.cache, ledger, cfg, logger)
	if cfg.S3Bucket != "" {
		uploader, err := backup.NewS3Uploader(ctx, cfg.S3Bucket, cfg.S3Prefix, logger)
		if err != nil {
			return nil, err
		}
		orch.SetUploader(uploader)
	}
	return orch, nil
}
