// File: internal/service/service_test.go
package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/samuelvinay91/uniauto/api/schemas"
	"github.com/samuelvinay91/uniauto/internal/config"
	"github.com/samuelvinay91/uniauto/internal/healing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memorySurface is a scripted in-memory surface for end-to-end service
// tests: resolution, execution and tracking run for real against it.
type memorySurface struct {
	mu         sync.Mutex
	bySelector map[string][]schemas.ElementRef
	byRole     map[string][]schemas.ElementRef
	acts       []string
	actGate    chan struct{} // when set, Act blocks until the gate closes
}

func newMemorySurface() *memorySurface {
	return &memorySurface{
		bySelector: map[string][]schemas.ElementRef{},
		byRole:     map[string][]schemas.ElementRef{},
	}
}

func (m *memorySurface) Navigate(context.Context, string) error { return nil }

func (m *memorySurface) Query(_ context.Context, q schemas.ElementQuery) ([]schemas.ElementRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q.Selector != "" {
		return m.bySelector[q.Selector], nil
	}
	if q.Role != "" {
		return m.byRole[q.Role+"|"+q.Name], nil
	}
	return nil, nil
}

func (m *memorySurface) Act(ctx context.Context, ref *schemas.ElementRef, cmd schemas.Command, _ schemas.CommandParams) error {
	m.mu.Lock()
	gate := m.actGate
	sel := ""
	if ref != nil {
		sel = ref.Selector
	}
	m.acts = append(m.acts, string(cmd)+" "+sel)
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *memorySurface) ReadAttribute(context.Context, *schemas.ElementRef, string) (string, error) {
	return "extracted-value", nil
}

func (m *memorySurface) Capture(context.Context, *schemas.Region) (string, error) {
	return "artifacts/shot.png", nil
}

func (m *memorySurface) PageSignature(context.Context) (string, error) {
	return "https://x.test/#sig", nil
}

type stubFactory struct {
	surface  schemas.Surface
	err      error
	released int
}

func (f *stubFactory) NewSurface(context.Context) (schemas.Surface, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.surface, func() { f.released++ }, nil
}

// stepSummary is the slice of a step result the end-to-end tests compare.
type stepSummary struct {
	Command  schemas.Command
	Status   schemas.StepStatus
	Attempts int
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.ExecutorCfg.RetryBackoff = time.Millisecond
	cfg.HealingCfg.ProbeTimeout = time.Second
	return cfg
}

func newTestService(surface schemas.Surface, repo healing.Repository) (*Service, *stubFactory) {
	factory := &stubFactory{surface: surface}
	svc := New(testConfig(), factory, repo, nil, zap.NewNop())
	return svc, factory
}

func loginCase() *schemas.TestCase {
	return &schemas.TestCase{
		ID:   "tc-login",
		Name: "login",
		Steps: []schemas.Step{
			{Command: schemas.CommandNavigate, Params: &schemas.NavigateParams{URL: "https://x.test/login"}},
			{Command: schemas.CommandClick, Target: &schemas.LocatorDescriptor{Selector: "#submit", Role: "button", Name: "Submit"}, Params: &schemas.ClickParams{}},
		},
	}
}

func TestRunTestCaseEndToEnd(t *testing.T) {
	surface := newMemorySurface()
	surface.bySelector["#submit"] = []schemas.ElementRef{{Kind: schemas.RefCSS, Selector: "#submit"}}
	svc, factory := newTestService(surface, healing.NewMemoryRepository())

	record, err := svc.RunTestCase(context.Background(), loginCase())
	require.NoError(t, err)

	assert.Equal(t, schemas.RunSuccess, record.Status)
	require.Len(t, record.Steps, 2)
	assert.False(t, record.Steps[1].Healed)
	assert.Equal(t, 1, factory.released, "the surface is released after the run")

	got := make([]stepSummary, len(record.Steps))
	for i, s := range record.Steps {
		got[i] = stepSummary{Command: s.Command, Status: s.Status, Attempts: s.Attempts}
	}
	want := []stepSummary{
		{Command: schemas.CommandNavigate, Status: schemas.StepSuccess, Attempts: 1},
		{Command: schemas.CommandClick, Status: schemas.StepSuccess, Attempts: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("step summaries mismatch (-want +got):\n%s", diff)
	}

	status, err := svc.ExecutionStatus(record.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, schemas.ExecutionCompleted, status.State)
	assert.Same(t, record, status.Record)
}

func TestRunTestCaseHealsThroughTheChain(t *testing.T) {
	surface := newMemorySurface()
	// The declared selector is stale; the role tier finds the button.
	surface.byRole["button|Submit"] = []schemas.ElementRef{{Kind: schemas.RefXPath, Selector: `//*[@id='send']`}}
	repo := healing.NewMemoryRepository()
	svc, _ := newTestService(surface, repo)

	record, err := svc.RunTestCase(context.Background(), loginCase())
	require.NoError(t, err)

	assert.Equal(t, schemas.RunSuccess, record.Status)
	click := record.Steps[1]
	assert.True(t, click.Healed)
	assert.Equal(t, schemas.StrategyRole, click.Strategy)
	assert.Equal(t, `//*[@id='send']`, click.HealedSelector)
	assert.Equal(t, 1, repo.Len(), "the healed selector is learned for the next run")
}

func TestRunTestCaseRejectsInvalidCase(t *testing.T) {
	svc, _ := newTestService(newMemorySurface(), healing.NewMemoryRepository())

	_, err := svc.RunTestCase(context.Background(), &schemas.TestCase{ID: "bad", Name: "no steps"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid test case")
}

func TestRunTestCaseSurfaceFactoryFailure(t *testing.T) {
	factory := &stubFactory{err: fmt.Errorf("chrome not found")}
	svc := New(testConfig(), factory, healing.NewMemoryRepository(), nil, zap.NewNop())

	tc := loginCase()
	_, err := svc.RunTestCase(context.Background(), tc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to acquire surface")
}

func TestStartTestCaseAndPoll(t *testing.T) {
	surface := newMemorySurface()
	surface.bySelector["#submit"] = []schemas.ElementRef{{Kind: schemas.RefCSS, Selector: "#submit"}}
	svc, _ := newTestService(surface, healing.NewMemoryRepository())

	executionID, err := svc.StartTestCase(context.Background(), loginCase())
	require.NoError(t, err)
	require.NotEmpty(t, executionID)

	require.Eventually(t, func() bool {
		status, err := svc.ExecutionStatus(executionID)
		return err == nil && status.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	status, err := svc.ExecutionStatus(executionID)
	require.NoError(t, err)
	assert.Equal(t, schemas.ExecutionCompleted, status.State)
	require.NotNil(t, status.Record)
	assert.Equal(t, schemas.RunSuccess, status.Record.Status)
}

func TestCancelExecutionMidRun(t *testing.T) {
	surface := newMemorySurface()
	surface.bySelector["#submit"] = []schemas.ElementRef{{Kind: schemas.RefCSS, Selector: "#submit"}}
	gate := make(chan struct{})
	surface.actGate = gate
	svc, _ := newTestService(surface, healing.NewMemoryRepository())

	// Five click steps; the first blocks on the gate so cancellation can
	// land while the run is in flight.
	tc := &schemas.TestCase{ID: "tc-long", Name: "long"}
	for i := 0; i < 5; i++ {
		tc.Steps = append(tc.Steps, schemas.Step{
			Command: schemas.CommandClick,
			Target:  &schemas.LocatorDescriptor{Selector: "#submit"},
			Params:  &schemas.ClickParams{},
		})
	}

	executionID, err := svc.StartTestCase(context.Background(), tc)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := svc.ExecutionStatus(executionID)
		return err == nil && status.State == schemas.ExecutionRunning
	}, 5*time.Second, 10*time.Millisecond)

	require.True(t, svc.CancelExecution(executionID))
	close(gate)

	require.Eventually(t, func() bool {
		status, err := svc.ExecutionStatus(executionID)
		return err == nil && status.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	status, err := svc.ExecutionStatus(executionID)
	require.NoError(t, err)
	assert.Equal(t, schemas.ExecutionCancelled, status.State)
	require.NotNil(t, status.Record)
	assert.True(t, status.Record.Cancelled)
	assert.Less(t, len(status.Record.Steps), 5, "steps after the cancellation point never ran")

	// Cancelling a finished run reports false.
	assert.False(t, svc.CancelExecution(executionID))
}
