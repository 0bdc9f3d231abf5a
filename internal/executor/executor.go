// File: internal/executor/executor.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/samuelvinay91/uniauto/api/schemas"
	"github.com/samuelvinay91/uniauto/internal/config"
)

// waitPollInterval is how often a selector-conditioned wait re-queries the
// surface.
const waitPollInterval = 100 * time.Millisecond

// LocatorResolver is the resolution dependency, satisfied by
// healing.Resolver and by test fakes.
type LocatorResolver interface {
	Resolve(ctx context.Context, d schemas.LocatorDescriptor, surface schemas.Surface, pageSignature string) (*schemas.ResolvedLocator, error)
}

// Executor runs a single step against a surface, applying the step's
// timeout, retry and skip policy. It is stateless across steps and safe
// for concurrent use by independent runs.
type Executor struct {
	resolver LocatorResolver
	cfg      config.ExecutorConfig
	logger   *zap.Logger

	// sleep is the backoff wait, replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor wires an executor over the given resolver.
func NewExecutor(resolver LocatorResolver, cfg config.ExecutorConfig, logger *zap.Logger) *Executor {
	return &Executor{
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.Named("executor"),
		sleep:    sleepCtx,
	}
}

// Execute runs one step and always produces a StepResult. The returned
// error is non-nil only for faults that end the whole run: a dead surface
// or caller cancellation. Ordinary step failures come back inside the
// result with a nil error.
func (e *Executor) Execute(ctx context.Context, index int, step schemas.Step, surface schemas.Surface) (schemas.StepResult, error) {
	start := time.Now()
	result := schemas.StepResult{
		Index:   index,
		Command: step.Command,
	}
	if step.Target != nil {
		result.OriginalSelector = step.Target.Selector
	}

	budget := 1
	if step.Retry() {
		budget += e.cfg.RetryAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= budget; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Status = schemas.StepFailure
			result.Error = schemas.ErrCancelled.Error()
			result.Attempts = attempt - 1
			result.Duration = time.Since(start)
			return result, schemas.ErrCancelled
		}

		result.Attempts = attempt
		lastErr = e.attempt(ctx, step, surface, &result)
		if lastErr == nil {
			result.Status = schemas.StepSuccess
			result.Duration = time.Since(start)
			return result, nil
		}
		if schemas.IsFatal(lastErr) {
			result.Status = schemas.StepFailure
			result.Error = lastErr.Error()
			result.Duration = time.Since(start)
			return result, lastErr
		}
		if errors.Is(lastErr, schemas.ErrCancelled) || errors.Is(ctx.Err(), context.Canceled) {
			result.Status = schemas.StepFailure
			result.Error = schemas.ErrCancelled.Error()
			result.Duration = time.Since(start)
			return result, schemas.ErrCancelled
		}

		if attempt < budget {
			e.logger.Debug("Step attempt failed, retrying",
				zap.Int("step", index),
				zap.String("command", string(step.Command)),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			if err := e.sleep(ctx, e.cfg.RetryBackoff); err != nil {
				result.Status = schemas.StepFailure
				result.Error = schemas.ErrCancelled.Error()
				result.Duration = time.Since(start)
				return result, schemas.ErrCancelled
			}
		}
	}

	result.Error = lastErr.Error()
	result.Duration = time.Since(start)
	if step.SkipIfFailed {
		result.Status = schemas.StepSkipped
		e.logger.Info("Step skipped after exhausting attempts",
			zap.Int("step", index),
			zap.String("command", string(step.Command)),
			zap.Error(lastErr))
		return result, nil
	}

	result.Status = schemas.StepFailure
	e.captureFailure(ctx, surface, &result)
	e.logger.Warn("Step failed",
		zap.Int("step", index),
		zap.String("command", string(step.Command)),
		zap.Int("attempts", result.Attempts),
		zap.Error(lastErr))
	return result, nil
}

// attempt performs one bounded execution attempt, resolving the target
// first for element commands.
func (e *Executor) attempt(ctx context.Context, step schemas.Step, surface schemas.Surface, result *schemas.StepResult) error {
	attemptCtx, cancel := context.WithTimeout(ctx, step.Timeout())
	defer cancel()

	err := e.run(attemptCtx, step, surface, result)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		var tErr *schemas.TimeoutError
		if !errors.As(err, &tErr) {
			err = &schemas.TimeoutError{Op: string(step.Command), Limit: step.Timeout()}
		}
	}
	return err
}

func (e *Executor) run(ctx context.Context, step schemas.Step, surface schemas.Surface, result *schemas.StepResult) error {
	if step.Command.NeedsTarget() {
		return e.runTargeted(ctx, step, surface, result)
	}

	switch step.Command {
	case schemas.CommandNavigate:
		p := step.Params.(*schemas.NavigateParams)
		return surface.Navigate(ctx, p.URL)
	case schemas.CommandWait:
		return e.runWait(ctx, step.Params.(*schemas.WaitParams), surface)
	case schemas.CommandScreenshot:
		path, err := surface.Capture(ctx, nil)
		if err != nil {
			return err
		}
		result.Screenshot = path
		return nil
	case schemas.CommandDesktopClick:
		p := step.Params.(*schemas.DesktopClickParams)
		ref := schemas.ElementRef{Kind: schemas.RefPoint, X: p.X, Y: p.Y}
		return surface.Act(ctx, &ref, step.Command, step.Params)
	case schemas.CommandDesktopType:
		return surface.Act(ctx, nil, step.Command, step.Params)
	default:
		return fmt.Errorf("%w: %s", schemas.ErrCommandUnsupported, step.Command)
	}
}

// runTargeted resolves the step's locator and applies the command to the
// bound element. Resolution happens inside the attempt so a retry probes
// the page again instead of reusing a stale handle.
func (e *Executor) runTargeted(ctx context.Context, step schemas.Step, surface schemas.Surface, result *schemas.StepResult) error {
	signature, err := surface.PageSignature(ctx)
	if err != nil {
		return err
	}

	resolved, err := e.resolver.Resolve(ctx, *step.Target, surface, signature)
	if err != nil {
		return err
	}
	result.Strategy = resolved.Strategy
	result.Healed = resolved.Healed
	if resolved.Healed {
		result.HealedSelector = resolved.Selector
	}

	if step.Command == schemas.CommandExtract {
		// Extract parameters are optional; a nil Params reads text content.
		p, _ := step.Params.(*schemas.ExtractParams)
		if p == nil {
			p = &schemas.ExtractParams{}
		}
		value, err := surface.ReadAttribute(ctx, &resolved.Element, p.Attribute)
		if err != nil {
			return err
		}
		result.Extracted = value
		return nil
	}
	return surface.Act(ctx, &resolved.Element, step.Command, step.Params)
}

// runWait sleeps for a fixed duration, or polls until a selector appears.
func (e *Executor) runWait(ctx context.Context, p *schemas.WaitParams, surface schemas.Surface) error {
	if p.Selector == "" {
		return sleepCtx(ctx, time.Duration(p.DurationMs)*time.Millisecond)
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		refs, err := surface.Query(ctx, schemas.ElementQuery{Selector: p.Selector})
		if err != nil {
			return err
		}
		if len(refs) > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for %q", schemas.ErrLocatorNotFound, p.Selector)
		case <-ticker.C:
		}
	}
}

// captureFailure takes a diagnostic screenshot for a failed step. Capture
// problems are logged, never turned into step errors.
func (e *Executor) captureFailure(ctx context.Context, surface schemas.Surface, result *schemas.StepResult) {
	if result.Screenshot != "" {
		return
	}
	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	path, err := surface.Capture(shotCtx, nil)
	if err != nil {
		e.logger.Debug("Failure screenshot unavailable", zap.Error(err))
		return
	}
	result.Screenshot = path
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
