// File: internal/service/service.go

// Package service composes the engine: it owns the tracker, bounds run
// concurrency, and exposes the operations the protocol layer calls.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/samuelvinay91/uniauto/api/schemas"
	"github.com/samuelvinay91/uniauto/internal/config"
	"github.com/samuelvinay91/uniauto/internal/executor"
	"github.com/samuelvinay91/uniauto/internal/healing"
	"github.com/samuelvinay91/uniauto/internal/runner"
	"github.com/samuelvinay91/uniauto/internal/tracker"
)

// SurfaceFactory acquires a fresh automation surface for one run. The
// returned release func must be called when the run finishes; the surface
// is never shared between runs.
type SurfaceFactory interface {
	NewSurface(ctx context.Context) (schemas.Surface, func(), error)
}

// Service is the engine facade. All runs flow through it.
type Service struct {
	cfg      *config.Config
	logger   *zap.Logger
	surfaces SurfaceFactory
	runner   *runner.Runner
	tracker  *tracker.Tracker
	sem      *semaphore.Weighted
}

// New wires the engine. store may be nil when persistence is disabled;
// repo is the learned-locator repository backing the healing chain.
func New(cfg *config.Config, surfaces SurfaceFactory, repo healing.Repository, store schemas.ExecutionStore, logger *zap.Logger) *Service {
	resolver := healing.NewResolver(repo, cfg.HealingCfg, logger)
	exec := executor.NewExecutor(resolver, cfg.ExecutorCfg, logger)

	maxConcurrent := int64(cfg.ServerCfg.MaxConcurrentRuns)
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &Service{
		cfg:      cfg,
		logger:   logger.Named("service"),
		surfaces: surfaces,
		runner:   runner.NewRunner(exec, store, logger),
		tracker:  tracker.New(cfg.ServerCfg.Retention, logger),
		sem:      semaphore.NewWeighted(maxConcurrent),
	}
}

// RunTestCase executes a test case synchronously and returns its record.
// The run is still registered with the tracker, so callers may poll or
// cancel it by id while it is in flight.
func (s *Service) RunTestCase(ctx context.Context, tc *schemas.TestCase) (*schemas.ExecutionRecord, error) {
	executionID, err := s.registerRun(tc)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, executionID, tc)
}

// StartTestCase launches a run in the background and returns its execution
// id for polling. The run outlives the caller's context.
func (s *Service) StartTestCase(ctx context.Context, tc *schemas.TestCase) (string, error) {
	executionID, err := s.registerRun(tc)
	if err != nil {
		return "", err
	}
	go func() {
		// The run is detached from the request context; cancellation goes
		// through the tracker.
		if _, err := s.run(context.Background(), executionID, tc); err != nil {
			s.logger.Warn("Background run failed",
				zap.String("execution_id", executionID),
				zap.Error(err))
		}
	}()
	return executionID, nil
}

// ExecutionStatus snapshots a run for polling callers.
func (s *Service) ExecutionStatus(executionID string) (schemas.ExecutionStatus, error) {
	return s.tracker.Status(executionID)
}

// CancelExecution requests cooperative cancellation of an in-flight run.
func (s *Service) CancelExecution(executionID string) bool {
	return s.tracker.Cancel(executionID)
}

func (s *Service) registerRun(tc *schemas.TestCase) (string, error) {
	if err := tc.Validate(); err != nil {
		return "", fmt.Errorf("invalid test case: %w", err)
	}
	executionID := uuid.NewString()
	if err := s.tracker.Register(executionID); err != nil {
		return "", err
	}
	return executionID, nil
}

// run drives one registered execution through the runner. The returned
// error covers only pre-run faults (slot acquisition, surface creation);
// step-level failures live inside the record.
func (s *Service) run(ctx context.Context, executionID string, tc *schemas.TestCase) (*schemas.ExecutionRecord, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		markErr := s.tracker.MarkError(executionID, err)
		if markErr != nil {
			s.logger.Warn("Failed to mark run errored", zap.Error(markErr))
		}
		return nil, fmt.Errorf("failed to acquire run slot: %w", err)
	}
	defer s.sem.Release(1)

	if err := s.tracker.MarkRunning(executionID); err != nil {
		return nil, err
	}

	surface, release, err := s.surfaces.NewSurface(ctx)
	if err != nil {
		if markErr := s.tracker.MarkError(executionID, err); markErr != nil {
			s.logger.Warn("Failed to mark run errored", zap.Error(markErr))
		}
		return nil, fmt.Errorf("failed to acquire surface: %w", err)
	}
	defer release()

	record := s.runner.Run(ctx, tc, surface, runner.RunOptions{
		ExecutionID: executionID,
		Cancelled:   func() bool { return s.tracker.Cancelled(executionID) },
	})
	if err := s.tracker.MarkCompleted(executionID, record); err != nil {
		s.logger.Warn("Failed to mark run completed", zap.Error(err))
	}
	return record, nil
}
