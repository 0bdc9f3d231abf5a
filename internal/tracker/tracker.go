// File: internal/tracker/tracker.go

// Package tracker is the process-wide registry of in-flight and recently
// finished runs, keyed by execution id. It is the only globally shared
// mutable state in the engine; everything else flows through explicit
// parameters.
package tracker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/samuelvinay91/uniauto/api/schemas"
)

var (
	// ErrUnknownExecution means no entry exists for the id.
	ErrUnknownExecution = errors.New("unknown execution id")
	// ErrDuplicateExecution means the id is already registered.
	ErrDuplicateExecution = errors.New("execution id already registered")
)

type entry struct {
	state      schemas.ExecutionState
	record     *schemas.ExecutionRecord
	err        string
	cancel     bool
	finishedAt time.Time
}

// Tracker holds run state for status polling and cancellation. Terminal
// entries are kept for the retention window so callers can still poll a
// finished run, then reaped.
type Tracker struct {
	mu        sync.Mutex
	entries   map[string]*entry
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// New builds a tracker that keeps finished entries for retention.
func New(retention time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		entries:   make(map[string]*entry),
		retention: retention,
		logger:    logger.Named("tracker"),
		now:       time.Now,
	}
}

// Register creates a pending entry for a new run.
func (t *Tracker) Register(executionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reapLocked()
	if _, ok := t.entries[executionID]; ok {
		return ErrDuplicateExecution
	}
	t.entries[executionID] = &entry{state: schemas.ExecutionPending}
	return nil
}

// MarkRunning moves a pending entry to running.
func (t *Tracker) MarkRunning(executionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[executionID]
	if !ok {
		return ErrUnknownExecution
	}
	if !e.state.Terminal() {
		e.state = schemas.ExecutionRunning
	}
	return nil
}

// MarkCompleted finalizes an entry with its record. A record produced by a
// cancelled run lands in the cancelled state.
func (t *Tracker) MarkCompleted(executionID string, record *schemas.ExecutionRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[executionID]
	if !ok {
		return ErrUnknownExecution
	}
	e.record = record
	e.finishedAt = t.now()
	switch {
	case record != nil && record.Cancelled:
		e.state = schemas.ExecutionCancelled
	case record != nil && record.Status == schemas.RunError:
		e.state = schemas.ExecutionError
		e.err = record.Error
	default:
		e.state = schemas.ExecutionCompleted
	}
	return nil
}

// MarkError finalizes an entry that failed before producing a record.
func (t *Tracker) MarkError(executionID string, err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[executionID]
	if !ok {
		return ErrUnknownExecution
	}
	e.state = schemas.ExecutionError
	if err != nil {
		e.err = err.Error()
	}
	e.finishedAt = t.now()
	return nil
}

// Cancel raises the cancellation flag for an in-flight run. It reports
// whether a cancellable entry existed; cancelling an already terminal run
// is a no-op returning false.
func (t *Tracker) Cancel(executionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[executionID]
	if !ok || e.state.Terminal() {
		return false
	}
	e.cancel = true
	t.logger.Info("Cancellation requested", zap.String("execution_id", executionID))
	return true
}

// Cancelled reports the cancellation flag. The run loop polls this between
// steps.
func (t *Tracker) Cancelled(executionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[executionID]
	return ok && e.cancel
}

// Status snapshots an entry for polling callers.
func (t *Tracker) Status(executionID string) (schemas.ExecutionStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[executionID]
	if !ok {
		return schemas.ExecutionStatus{}, ErrUnknownExecution
	}
	return schemas.ExecutionStatus{
		ExecutionID: executionID,
		State:       e.state,
		Record:      e.record,
		Error:       e.err,
	}, nil
}

// Len reports the number of tracked entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// reapLocked drops terminal entries older than the retention window.
// Called with t.mu held.
func (t *Tracker) reapLocked() {
	if t.retention <= 0 {
		return
	}
	cutoff := t.now().Add(-t.retention)
	for id, e := range t.entries {
		if e.state.Terminal() && e.finishedAt.Before(cutoff) {
			delete(t.entries, id)
		}
	}
}
