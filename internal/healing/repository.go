// File: internal/healing/repository.go
package healing

import (
	"context"
	"sync"
	"time"

	"github.com/samuelvinay91/uniauto/api/schemas"
)

// Key scopes a learned locator mapping to one page state and one declared
// selector.
type Key struct {
	PageSignature   string
	PrimarySelector string
}

// Repository is the learned-locator store shared across runs and test
// cases. It is injected rather than accessed as ambient state so tests can
// substitute an in-memory fake for the Postgres implementation.
//
// Mutations must be atomic per key: concurrent runs resolving the same
// (pageSignature, primarySelector) interleave, and the final state must
// reflect a serializable ordering of their updates. Entries are never
// deleted; a stale entry is simply skipped once its consecutive failure
// count reaches the caller's threshold, and a later success resets it.
type Repository interface {
	// Lookup returns the entry for key, if one has been learned.
	Lookup(ctx context.Context, key Key) (schemas.RepositoryEntry, bool, error)
	// RecordSuccess writes or refreshes the entry with the healed
	// selector that worked, resetting its consecutive failure count.
	RecordSuccess(ctx context.Context, key Key, healedSelector string, strategy schemas.StrategyName) error
	// RecordFailure increments the entry's consecutive failure count and
	// returns the new count. Unknown keys are a no-op returning zero.
	RecordFailure(ctx context.Context, key Key) (int, error)
}

// MemoryRepository is the in-process Repository used when no database is
// configured, and by tests.
type MemoryRepository struct {
	mu      sync.Mutex
	entries map[Key]schemas.RepositoryEntry
	now     func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries: make(map[Key]schemas.RepositoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryRepository) Lookup(_ context.Context, key Key) (schemas.RepositoryEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	return entry, ok, nil
}

func (m *MemoryRepository) RecordSuccess(_ context.Context, key Key, healedSelector string, strategy schemas.StrategyName) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		entry = schemas.RepositoryEntry{
			PageSignature:   key.PageSignature,
			PrimarySelector: key.PrimarySelector,
		}
	}
	entry.HealedSelector = healedSelector
	entry.Strategy = strategy
	entry.Successes++
	entry.Failures = 0
	entry.UpdatedAt = m.now()
	m.entries[key] = entry
	return nil
}

func (m *MemoryRepository) RecordFailure(_ context.Context, key Key) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return 0, nil
	}
	entry.Failures++
	entry.UpdatedAt = m.now()
	m.entries[key] = entry
	return entry.Failures, nil
}

// Len reports the number of learned entries, for tests and diagnostics.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
