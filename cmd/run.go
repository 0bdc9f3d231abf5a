// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/samuelvinay91/uniauto/api/schemas"
	"github.com/samuelvinay91/uniauto/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [testcase.json]",
		Short: "Executes a test case definition and prints the execution record",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("executor.retry_attempts", cmd.Flags().Lookup("retries")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			tc, err := loadTestCaseFile(args[0])
			if err != nil {
				return err
			}

			logger.Info("Running test case",
				zap.String("test_case_id", tc.ID),
				zap.String("name", tc.Name),
				zap.Int("steps", len(tc.Steps)))

			components, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize engine: %w", err)
			}
			defer components.Shutdown()

			record, err := components.Service.RunTestCase(ctx, tc)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return fmt.Errorf("run aborted by user signal")
				}
				return err
			}

			out, err := json.MarshalIndent(record, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode execution record: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if record.Status != schemas.RunSuccess {
				return fmt.Errorf("run finished with status %q", record.Status)
			}
			return nil
		},
	}

	runCmd.Flags().Int("retries", 2, "additional attempts per failed step")
	runCmd.Flags().Bool("headless", true, "run the browser headless")

	return runCmd
}

// loadTestCaseFile reads and validates a test case definition.
func loadTestCaseFile(path string) (*schemas.TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test case file: %w", err)
	}
	var tc schemas.TestCase
	if err := json.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("failed to parse test case file %s: %w", path, err)
	}
	if err := tc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid test case %s: %w", path, err)
	}
	return &tc, nil
}
