package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"instant/cmd/internal/app"
	"instant/cmd/internal/migrations"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply all pending migrations against the PostgreSQL database.`,
		RunE:  runMigrate,
	}
	cmd.Flags().String("database-url", "", "PostgreSQL URL (defaults to INSTANT_DATABASE_URL)")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := app.LoadConfigWithSources(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database url is required (--database-url or INSTANT_DATABASE_URL)")
	}

	ctx := contextOrBackground(cmd)
	log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

	cmd.Println("Connecting to database...")
	pool, err := app.NewDBPool(ctx, cfg, log)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	cmd.Println("Running migrations...")
	version, err := migrations.UpPool(ctx, pool)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}

	cmd.Printf("Migrations completed successfully (version %d)\n", version)
	return nil
}
