package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-fabric/internal/config"
	registrymigrate "github.com/chirino/memory-fabric/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Store plugins register their own migrators alongside their primary interface.
	_ "github.com/chirino/memory-fabric/internal/plugin/store/sqlstore"
	_ "github.com/chirino/memory-fabric/internal/plugin/vector/memory"
	_ "github.com/chirino/memory-fabric/internal/plugin/vector/qdrant"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations and create vector collections",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("MEMORY_FABRIC_DB_URL"),
				Usage:    "Database connection URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("MEMORY_FABRIC_DB_KIND"),
				Usage:   "Structured store backend (postgres|sqlite)",
				Value:   "postgres",
			},
			&cli.StringFlag{
				Name:    "vector-type",
				Sources: cli.EnvVars("MEMORY_FABRIC_VECTOR_TYPE"),
				Usage:   "Vector store backend (qdrant|memory); empty skips vector setup",
			},
			&cli.StringFlag{
				Name:    "qdrant-host",
				Sources: cli.EnvVars("MEMORY_FABRIC_QDRANT_HOST"),
				Usage:   "Qdrant gRPC host",
				Value:   "localhost",
			},
			&cli.IntFlag{
				Name:    "qdrant-port",
				Sources: cli.EnvVars("MEMORY_FABRIC_QDRANT_PORT"),
				Usage:   "Qdrant gRPC port",
				Value:   6334,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.DBKind = cmd.String("db-kind")
			cfg.VectorType = cmd.String("vector-type")
			cfg.QdrantHost = cmd.String("qdrant-host")
			cfg.QdrantPort = int(cmd.Int("qdrant-port"))
			cfg.DatastoreMigrateAtStart = true
			cfg.VectorMigrateAtStart = cfg.VectorType != ""
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
