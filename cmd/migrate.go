// File: cmd/migrate.go
package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/samuelvinay91/uniauto/internal/observability"
	"github.com/samuelvinay91/uniauto/internal/store"
)

// newMigrateCmd creates the `migrate` command.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseCfg.URL == "" {
				return fmt.Errorf("database.url is required for migrate (set UNIAUTO_DATABASE_URL)")
			}

			pool, err := pgxpool.New(ctx, cfg.DatabaseCfg.URL)
			if err != nil {
				return fmt.Errorf("failed to create database connection pool: %w", err)
			}
			defer pool.Close()

			st, err := store.New(ctx, pool, logger)
			if err != nil {
				return err
			}
			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info("Database schema is up to date.")
			return nil
		},
	}
}
