// File: internal/store/store.go

// Package store persists test cases, execution history and learned
// locators in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/samuelvinay91/uniauto/api/schemas"
	"github.com/samuelvinay91/uniauto/internal/healing"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store is the PostgreSQL persistence layer. It implements the engine's
// execution store contract and the learned-locator repository.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS test_cases (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		steps       JSONB NOT NULL,
		tags        TEXT[] NOT NULL DEFAULT '{}',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS executions (
		execution_id TEXT PRIMARY KEY,
		test_case_id TEXT NOT NULL,
		executed_at  TIMESTAMPTZ NOT NULL,
		status       TEXT NOT NULL,
		cancelled    BOOLEAN NOT NULL DEFAULT FALSE,
		error        TEXT NOT NULL DEFAULT '',
		duration_ms  BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS step_results (
		execution_id      TEXT NOT NULL,
		idx               INT NOT NULL,
		command           TEXT NOT NULL,
		status            TEXT NOT NULL,
		original_selector TEXT NOT NULL DEFAULT '',
		healed_selector   TEXT NOT NULL DEFAULT '',
		strategy          TEXT NOT NULL DEFAULT '',
		healed            BOOLEAN NOT NULL DEFAULT FALSE,
		attempts          INT NOT NULL,
		error             TEXT NOT NULL DEFAULT '',
		screenshot        TEXT NOT NULL DEFAULT '',
		extracted         TEXT NOT NULL DEFAULT '',
		duration_ms       BIGINT NOT NULL,
		PRIMARY KEY (execution_id, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS locator_entries (
		page_signature   TEXT NOT NULL,
		primary_selector TEXT NOT NULL,
		healed_selector  TEXT NOT NULL,
		strategy         TEXT NOT NULL,
		successes        INT NOT NULL DEFAULT 0,
		failures         INT NOT NULL DEFAULT 0,
		updated_at       TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (page_signature, primary_selector)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_test_case
		ON executions (test_case_id, executed_at DESC)`,
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	s.log.Debug("Schema migration complete")
	return nil
}

// -- Execution history --

const sqlInsertExecution = `
	INSERT INTO executions (execution_id, test_case_id, executed_at, status, cancelled, error, duration_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

var stepResultColumns = []string{
	"execution_id", "idx", "command", "status", "original_selector",
	"healed_selector", "strategy", "healed", "attempts", "error",
	"screenshot", "extracted", "duration_ms",
}

// AppendExecutionRecord writes the record and its step results in one
// transaction. Records are immutable once written.
func (s *Store) AppendExecutionRecord(ctx context.Context, testCaseID string, record *schemas.ExecutionRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, sqlInsertExecution,
		record.ExecutionID, testCaseID, record.ExecutedAt.UTC(),
		string(record.Status), record.Cancelled, record.Error,
		record.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	if len(record.Steps) > 0 {
		rows := make([][]interface{}, len(record.Steps))
		for i, sr := range record.Steps {
			rows[i] = []interface{}{
				record.ExecutionID, sr.Index, string(sr.Command), string(sr.Status),
				sr.OriginalSelector, sr.HealedSelector, string(sr.Strategy), sr.Healed,
				sr.Attempts, sr.Error, sr.Screenshot, sr.Extracted,
				sr.Duration.Milliseconds(),
			}
		}
		copied, err := tx.CopyFrom(ctx, pgx.Identifier{"step_results"}, stepResultColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy step results: %w", err)
		}
		if int(copied) != len(record.Steps) {
			return fmt.Errorf("mismatch in copied step results: expected %d, got %d", len(record.Steps), copied)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// -- Test cases --

const sqlUpsertTestCase = `
	INSERT INTO test_cases (id, name, description, steps, tags, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		description = EXCLUDED.description,
		steps = EXCLUDED.steps,
		tags = EXCLUDED.tags,
		updated_at = EXCLUDED.updated_at`

// SaveTestCase inserts or replaces a test case definition.
func (s *Store) SaveTestCase(ctx context.Context, tc *schemas.TestCase) error {
	steps, err := json.Marshal(tc.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	now := time.Now().UTC()
	created := tc.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err = s.pool.Exec(ctx, sqlUpsertTestCase,
		tc.ID, tc.Name, tc.Description, steps, tc.Tags, created.UTC(), now)
	if err != nil {
		return fmt.Errorf("failed to save test case %s: %w", tc.ID, err)
	}
	return nil
}

const sqlSelectTestCase = `
	SELECT id, name, description, steps, tags, created_at, updated_at
	FROM test_cases WHERE id = $1`

// ErrNotFound is returned for lookups of unknown identifiers.
var ErrNotFound = errors.New("not found")

// LoadTestCase fetches one test case with its steps.
func (s *Store) LoadTestCase(ctx context.Context, id string) (*schemas.TestCase, error) {
	var tc schemas.TestCase
	var steps []byte
	err := s.pool.QueryRow(ctx, sqlSelectTestCase, id).Scan(
		&tc.ID, &tc.Name, &tc.Description, &steps, &tc.Tags, &tc.CreatedAt, &tc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("test case %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load test case %s: %w", id, err)
	}
	if err := json.Unmarshal(steps, &tc.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps for %s: %w", id, err)
	}
	return &tc, nil
}

const sqlListTestCases = `
	SELECT id, name, description, tags, created_at, updated_at
	FROM test_cases ORDER BY updated_at DESC`

// ListTestCases returns all test case definitions without their steps.
func (s *Store) ListTestCases(ctx context.Context) ([]schemas.TestCase, error) {
	rows, err := s.pool.Query(ctx, sqlListTestCases)
	if err != nil {
		return nil, fmt.Errorf("failed to list test cases: %w", err)
	}
	defer rows.Close()

	var out []schemas.TestCase
	for rows.Next() {
		var tc schemas.TestCase
		if err := rows.Scan(&tc.ID, &tc.Name, &tc.Description, &tc.Tags, &tc.CreatedAt, &tc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan test case: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// -- Learned locator repository --

const sqlLookupLocator = `
	SELECT healed_selector, strategy, successes, failures, updated_at
	FROM locator_entries
	WHERE page_signature = $1 AND primary_selector = $2`

// Lookup implements healing.Repository.
func (s *Store) Lookup(ctx context.Context, key healing.Key) (schemas.RepositoryEntry, bool, error) {
	entry := schemas.RepositoryEntry{
		PageSignature:   key.PageSignature,
		PrimarySelector: key.PrimarySelector,
	}
	var strategy string
	err := s.pool.QueryRow(ctx, sqlLookupLocator, key.PageSignature, key.PrimarySelector).Scan(
		&entry.HealedSelector, &strategy, &entry.Successes, &entry.Failures, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.RepositoryEntry{}, false, nil
	}
	if err != nil {
		return schemas.RepositoryEntry{}, false, fmt.Errorf("failed to look up locator entry: %w", err)
	}
	entry.Strategy = schemas.StrategyName(strategy)
	return entry, true, nil
}

const sqlUpsertLocator = `
	INSERT INTO locator_entries (page_signature, primary_selector, healed_selector, strategy, successes, failures, updated_at)
	VALUES ($1, $2, $3, $4, 1, 0, $5)
	ON CONFLICT (page_signature, primary_selector) DO UPDATE SET
		healed_selector = EXCLUDED.healed_selector,
		strategy = EXCLUDED.strategy,
		successes = locator_entries.successes + 1,
		failures = 0,
		updated_at = EXCLUDED.updated_at`

// RecordSuccess implements healing.Repository. The upsert is a single
// statement so concurrent runs updating the same key serialize in the
// database.
func (s *Store) RecordSuccess(ctx context.Context, key healing.Key, healedSelector string, strategy schemas.StrategyName) error {
	_, err := s.pool.Exec(ctx, sqlUpsertLocator,
		key.PageSignature, key.PrimarySelector, healedSelector, string(strategy), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record locator success: %w", err)
	}
	return nil
}

const sqlBumpLocatorFailure = `
	UPDATE locator_entries
	SET failures = failures + 1, updated_at = $3
	WHERE page_signature = $1 AND primary_selector = $2
	RETURNING failures`

// RecordFailure implements healing.Repository. The increment happens in
// the database so interleaved runs never lose an update. Unknown keys are
// a no-op.
func (s *Store) RecordFailure(ctx context.Context, key healing.Key) (int, error) {
	var failures int
	err := s.pool.QueryRow(ctx, sqlBumpLocatorFailure,
		key.PageSignature, key.PrimarySelector, time.Now().UTC()).Scan(&failures)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record locator failure: %w", err)
	}
	return failures, nil
}
