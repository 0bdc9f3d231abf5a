// File: internal/executor/executor_test.go
package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/samuelvinay91/uniauto/api/schemas"
	"github.com/samuelvinay91/uniauto/internal/config"
)

// stubResolver fails a scripted number of times before returning a fixed
// resolution.
type stubResolver struct {
	mu       sync.Mutex
	failN    int
	resolved schemas.ResolvedLocator
	err      error
	calls    int
}

func (s *stubResolver) Resolve(_ context.Context, _ schemas.LocatorDescriptor, _ schemas.Surface, _ string) (*schemas.ResolvedLocator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.calls <= s.failN {
		return nil, fmt.Errorf("%w: attempt %d", schemas.ErrLocatorNotFound, s.calls)
	}
	out := s.resolved
	return &out, nil
}

// stubSurface scripts adapter behavior per call.
type stubSurface struct {
	mu          sync.Mutex
	navigated   []string
	navigateErr error
	actErrs     []error // consumed per Act call, nil entries succeed
	acts        int
	readValue   string
	readErr     error
	queryEmptyN int // Query returns no refs for the first N calls
	queryCalls  int
	captures    int
	captureErr  error
	signature   string
	sigErr      error
}

func (s *stubSurface) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigated = append(s.navigated, url)
	return s.navigateErr
}

func (s *stubSurface) Query(_ context.Context, _ schemas.ElementQuery) ([]schemas.ElementRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryCalls++
	if s.queryCalls <= s.queryEmptyN {
		return nil, nil
	}
	return []schemas.ElementRef{{Kind: schemas.RefCSS, Selector: "#found"}}, nil
}

func (s *stubSurface) Act(ctx context.Context, _ *schemas.ElementRef, _ schemas.Command, _ schemas.CommandParams) error {
	s.mu.Lock()
	s.acts++
	var err error
	if len(s.actErrs) > 0 {
		err = s.actErrs[0]
		s.actErrs = s.actErrs[1:]
	}
	s.mu.Unlock()
	if err == errBlockUntilCancel {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (s *stubSurface) ReadAttribute(context.Context, *schemas.ElementRef, string) (string, error) {
	return s.readValue, s.readErr
}

func (s *stubSurface) Capture(context.Context, *schemas.Region) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures++
	if s.captureErr != nil {
		return "", s.captureErr
	}
	return fmt.Sprintf("artifacts/failure-%d.png", s.captures), nil
}

func (s *stubSurface) PageSignature(context.Context) (string, error) {
	return s.signature, s.sigErr
}

// errBlockUntilCancel makes the stub's Act block until the attempt context
// expires.
var errBlockUntilCancel = fmt.Errorf("block until cancel")

func newTestExecutor(r LocatorResolver) (*Executor, *int) {
	e := NewExecutor(r, config.ExecutorConfig{RetryAttempts: 2, RetryBackoff: 50 * time.Millisecond}, zap.NewNop())
	backoffs := 0
	e.sleep = func(context.Context, time.Duration) error {
		backoffs++
		return nil
	}
	return e, &backoffs
}

func healedTo(selector string, strategy schemas.StrategyName) schemas.ResolvedLocator {
	return schemas.ResolvedLocator{
		Strategy: strategy,
		Element:  schemas.ElementRef{Kind: schemas.RefCSS, Selector: selector},
		Selector: selector,
		Healed:   strategy != schemas.StrategyPrimary,
	}
}

func clickStep(selector string) schemas.Step {
	return schemas.Step{
		Command: schemas.CommandClick,
		Target:  &schemas.LocatorDescriptor{Selector: selector},
		Params:  &schemas.ClickParams{},
	}
}

func TestExecuteClickCarriesHealingMetadata(t *testing.T) {
	resolver := &stubResolver{resolved: healedTo(`//*[@id='send']`, schemas.StrategyRole)}
	surface := &stubSurface{signature: "sig"}
	e, _ := newTestExecutor(resolver)

	result, err := e.Execute(context.Background(), 1, clickStep("#send"), surface)
	require.NoError(t, err)

	assert.Equal(t, schemas.StepSuccess, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, "#send", result.OriginalSelector)
	assert.Equal(t, `//*[@id='send']`, result.HealedSelector)
	assert.Equal(t, schemas.StrategyRole, result.Strategy)
	assert.True(t, result.Healed)
	assert.Equal(t, 1, surface.acts)
}

func TestExecuteRetriesTransientResolutionFailure(t *testing.T) {
	resolver := &stubResolver{failN: 1, resolved: healedTo("#send", schemas.StrategyPrimary)}
	surface := &stubSurface{}
	e, backoffs := newTestExecutor(resolver)

	result, err := e.Execute(context.Background(), 0, clickStep("#send"), surface)
	require.NoError(t, err)

	assert.Equal(t, schemas.StepSuccess, result.Status)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 1, *backoffs)
	assert.Empty(t, result.HealedSelector)
	assert.False(t, result.Healed)
}

func TestExecuteRetryDisabledRunsOnce(t *testing.T) {
	resolver := &stubResolver{failN: 10}
	surface := &stubSurface{}
	e, backoffs := newTestExecutor(resolver)

	step := clickStep("#gone")
	noRetry := false
	step.RetryOnFailure = &noRetry

	result, err := e.Execute(context.Background(), 0, step, surface)
	require.NoError(t, err)

	assert.Equal(t, schemas.StepFailure, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, resolver.calls)
	assert.Zero(t, *backoffs)
}

func TestExecuteSkipIfFailedYieldsSkipped(t *testing.T) {
	resolver := &stubResolver{failN: 10}
	surface := &stubSurface{}
	e, _ := newTestExecutor(resolver)

	step := clickStep("#never")
	step.SkipIfFailed = true

	result, err := e.Execute(context.Background(), 3, step, surface)
	require.NoError(t, err)

	assert.Equal(t, schemas.StepSkipped, result.Status)
	assert.Equal(t, 3, result.Attempts, "one initial attempt plus two retries")
	assert.Contains(t, result.Error, "locator matched no element")
	assert.Zero(t, surface.captures, "skipped steps take no diagnostic screenshot")
}

func TestExecuteFailureCapturesScreenshot(t *testing.T) {
	resolver := &stubResolver{failN: 10}
	surface := &stubSurface{}
	e, _ := newTestExecutor(resolver)

	result, err := e.Execute(context.Background(), 0, clickStep("#never"), surface)
	require.NoError(t, err)

	assert.Equal(t, schemas.StepFailure, result.Status)
	assert.Equal(t, "artifacts/failure-1.png", result.Screenshot)
	assert.NotEmpty(t, result.Error)
}

func TestExecuteNavigate(t *testing.T) {
	surface := &stubSurface{}
	e, _ := newTestExecutor(&stubResolver{})

	result, err := e.Execute(context.Background(), 0, schemas.Step{
		Command: schemas.CommandNavigate,
		Params:  &schemas.NavigateParams{URL: "https://example.com/login"},
	}, surface)
	require.NoError(t, err)

	assert.Equal(t, schemas.StepSuccess, result.Status)
	assert.Equal(t, []string{"https://example.com/login"}, surface.navigated)
}

func TestExecuteExtractReadsAttribute(t *testing.T) {
	resolver := &stubResolver{resolved: healedTo("#total", schemas.StrategyPrimary)}
	surface := &stubSurface{readValue: "42.00"}
	e, _ := newTestExecutor(resolver)

	result, err := e.Execute(context.Background(), 0, schemas.Step{
		Command: schemas.CommandExtract,
		Target:  &schemas.LocatorDescriptor{Selector: "#total"},
		Params:  &schemas.ExtractParams{Attribute: "textContent"},
	}, surface)
	require.NoError(t, err)

	assert.Equal(t, schemas.StepSuccess, result.Status)
	assert.Equal(t, "42.00", result.Extracted)
}

func TestExecuteExtractWithoutParamsReadsText(t *testing.T) {
	resolver := &stubResolver{resolved: healedTo(".result", schemas.StrategyPrimary)}
	surface := &stubSurface{readValue: "order confirmed"}
	e, _ := newTestExecutor(resolver)

	// Parameters are optional for extract, so a step may arrive with none.
	step := schemas.Step{
		Command: schemas.CommandExtract,
		Target:  &schemas.LocatorDescriptor{Selector: ".result"},
	}
	require.NoError(t, step.Validate())

	result, err := e.Execute(context.Background(), 0, step, surface)
	require.NoError(t, err)

	assert.Equal(t, schemas.StepSuccess, result.Status)
	assert.Equal(t, "order confirmed", result.Extracted)
}

func TestExecuteWaitForSelector(t *testing.T) {
	surface := &stubSurface{queryEmptyN: 2}
	e, _ := newTestExecutor(&stubResolver{})

	result, err := e.Execute(context.Background(), 0, schemas.Step{
		Command: schemas.CommandWait,
		Params:  &schemas.WaitParams{Selector: "#spinner-done"},
	}, surface)
	require.NoError(t, err)

	assert.Equal(t, schemas.StepSuccess, result.Status)
	assert.GreaterOrEqual(t, surface.queryCalls, 3)
}

func TestExecuteTimeoutHasDistinctReason(t *testing.T) {
	resolver := &stubResolver{resolved: healedTo("#slow", schemas.StrategyPrimary)}
	surface := &stubSurface{actErrs: []error{errBlockUntilCancel}}
	e, _ := newTestExecutor(resolver)

	step := clickStep("#slow")
	step.TimeoutMs = 50
	noRetry := false
	step.RetryOnFailure = &noRetry

	result, err := e.Execute(context.Background(), 0, step, surface)
	require.NoError(t, err)

	assert.Equal(t, schemas.StepFailure, result.Status)
	assert.Contains(t, result.Error, "timed out after 50ms")
}

func TestExecuteSurfaceGoneIsFatal(t *testing.T) {
	resolver := &stubResolver{resolved: healedTo("#x", schemas.StrategyPrimary)}
	surface := &stubSurface{actErrs: []error{fmt.Errorf("tab closed: %w", schemas.ErrSurfaceUnavailable)}}
	e, backoffs := newTestExecutor(resolver)

	result, err := e.Execute(context.Background(), 0, clickStep("#x"), surface)
	require.ErrorIs(t, err, schemas.ErrSurfaceUnavailable)

	assert.Equal(t, schemas.StepFailure, result.Status)
	assert.Equal(t, 1, result.Attempts, "a dead surface is never retried")
	assert.Zero(t, *backoffs)
}

func TestExecuteCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	surface := &stubSurface{}
	e, _ := newTestExecutor(&stubResolver{resolved: healedTo("#x", schemas.StrategyPrimary)})

	result, err := e.Execute(ctx, 0, clickStep("#x"), surface)
	require.ErrorIs(t, err, schemas.ErrCancelled)
	assert.Equal(t, schemas.StepFailure, result.Status)
	assert.Zero(t, surface.acts)
}
