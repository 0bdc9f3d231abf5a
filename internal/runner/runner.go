// File: internal/runner/runner.go

// Package runner sequences a test case's steps through the step executor
// and aggregates the results into an execution record.
package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/samuelvinay91/uniauto/api/schemas"
)

// StepRunner executes one step. Satisfied by executor.Executor.
type StepRunner interface {
	Execute(ctx context.Context, index int, step schemas.Step, surface schemas.Surface) (schemas.StepResult, error)
}

// RunOptions carries per-run identity and the cancellation hook.
type RunOptions struct {
	ExecutionID string
	// Cancelled is polled between steps. An in-progress step always
	// finishes (or times out) before cancellation takes effect. Nil means
	// not cancellable.
	Cancelled func() bool
}

// Runner drives one test case at a time against a surface handle it does
// not own. Steps run strictly in declared order; a failed step does not
// abort the run because later steps may be independent of it.
type Runner struct {
	executor StepRunner
	store    schemas.ExecutionStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewRunner builds a runner. store may be nil when persistence is
// disabled.
func NewRunner(executor StepRunner, store schemas.ExecutionStore, logger *zap.Logger) *Runner {
	return &Runner{
		executor: executor,
		store:    store,
		logger:   logger.Named("runner"),
		now:      time.Now,
	}
}

// Run executes every step of the test case and always returns a complete,
// inspectable record, never a bare error. Early exits happen only on
// caller cancellation or when the surface itself is gone.
func (r *Runner) Run(ctx context.Context, tc *schemas.TestCase, surface schemas.Surface, opts RunOptions) *schemas.ExecutionRecord {
	start := r.now()
	record := &schemas.ExecutionRecord{
		ExecutionID: opts.ExecutionID,
		TestCaseID:  tc.ID,
		ExecutedAt:  start,
		Steps:       make([]schemas.StepResult, 0, len(tc.Steps)),
	}
	log := r.logger.With(
		zap.String("execution_id", opts.ExecutionID),
		zap.String("test_case_id", tc.ID))
	log.Info("Run started", zap.Int("steps", len(tc.Steps)))

	for i, step := range tc.Steps {
		if r.cancelled(ctx, opts) {
			record.Cancelled = true
			log.Info("Run cancelled", zap.Int("completed_steps", len(record.Steps)))
			break
		}

		result, err := r.executor.Execute(ctx, i, step, surface)
		record.Steps = append(record.Steps, result)

		switch {
		case err == nil:
		case schemas.IsFatal(err):
			record.Error = err.Error()
			log.Error("Surface lost, aborting run",
				zap.Int("step", i), zap.Error(err))
		case r.cancelled(ctx, opts):
			record.Cancelled = true
			if result.Attempts == 0 {
				// The step never ran; a cancelled run records only the
				// steps that actually executed.
				record.Steps = record.Steps[:len(record.Steps)-1]
			}
			log.Info("Run cancelled mid-step", zap.Int("step", i))
		default:
			record.Error = err.Error()
		}
		if record.Error != "" || record.Cancelled {
			break
		}
	}

	record.Duration = r.now().Sub(start)
	if record.Error != "" {
		record.Status = schemas.RunError
	} else {
		record.Status = schemas.ComputeRunStatus(record.Steps)
	}
	log.Info("Run finished",
		zap.String("status", string(record.Status)),
		zap.Int("steps_executed", len(record.Steps)),
		zap.Duration("duration", record.Duration))

	r.persist(ctx, tc.ID, record)
	return record
}

// persist hands the finished record to the store. Persistence failures are
// logged, not surfaced: the caller still gets the record.
func (r *Runner) persist(ctx context.Context, testCaseID string, record *schemas.ExecutionRecord) {
	if r.store == nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.store.AppendExecutionRecord(storeCtx, testCaseID, record); err != nil {
		r.logger.Error("Failed to persist execution record",
			zap.String("execution_id", record.ExecutionID),
			zap.Error(err))
	}
}

func (r *Runner) cancelled(ctx context.Context, opts RunOptions) bool {
	if ctx.Err() != nil {
		return true
	}
	return opts.Cancelled != nil && opts.Cancelled()
}
