// File: cmd/components.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/samuelvinay91/uniauto/api/schemas"
	"github.com/samuelvinay91/uniauto/internal/browser"
	"github.com/samuelvinay91/uniauto/internal/config"
	"github.com/samuelvinay91/uniauto/internal/healing"
	"github.com/samuelvinay91/uniauto/internal/service"
	"github.com/samuelvinay91/uniauto/internal/store"
)

// components bundles the wired engine pieces a command needs.
type components struct {
	Service *service.Service
	Store   *store.Store // nil when no database is configured
	pool    *pgxpool.Pool
	logger  *zap.Logger
}

// initializeComponents wires the engine from the finalized configuration.
// Without a database URL the engine runs with an in-memory locator
// repository and no execution history.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	c := &components{logger: logger}

	var repo healing.Repository
	var execStore schemas.ExecutionStore

	if cfg.DatabaseCfg.URL == "" {
		logger.Warn("Database URL (UNIAUTO_DATABASE_URL) is not set. Proceeding without persistence; learned locators will not survive the process.")
		repo = healing.NewMemoryRepository()
	} else {
		pool, err := pgxpool.New(ctx, cfg.DatabaseCfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create database connection pool: %w", err)
		}
		st, err := store.New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("Database connection established.")
		c.pool = pool
		c.Store = st
		repo = st
		execStore = st
	}

	launcher := browser.NewLauncher(cfg, logger)
	c.Service = service.New(cfg, launcher, repo, execStore, logger)
	return c, nil
}

// Shutdown releases held resources.
func (c *components) Shutdown() {
	if c.pool != nil {
		c.logger.Info("Closing database connections.")
		c.pool.Close()
	}
}
