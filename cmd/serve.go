// File: cmd/serve.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/samuelvinay91/uniauto/internal/api"
	"github.com/samuelvinay91/uniauto/internal/observability"
)

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP API for running and monitoring executions",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			defer observability.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			components, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize engine: %w", err)
			}
			defer components.Shutdown()

			// The store satisfies both roles; pass nil explicitly when it
			// is absent so the handlers see a nil interface.
			var cases api.CaseStore
			if components.Store != nil {
				cases = components.Store
			}
			server := api.NewServer(cfg.ServerCfg, components.Service, cases, logger)

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("HTTP server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
				logger.Info("Received shutdown signal, shutting down gracefully...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Error("HTTP server shutdown error", zap.Error(err))
				}
				return <-errCh
			}
		},
	}

	serveCmd.Flags().String("addr", ":8700", "listen address for the HTTP API")

	return serveCmd
}
