// File: internal/store/store_test.go
package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/samuelvinay91/uniauto/api/schemas"
	"github.com/samuelvinay91/uniauto/internal/healing"
)

// flexibleSQLMatcher builds a whitespace-insensitive regex for SQL
// expectations.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectPing()
	s, err := New(context.Background(), mock, zap.NewNop())
	require.NoError(t, err)
	return s, mock
}

func TestAppendExecutionRecord(t *testing.T) {
	s, mock := newTestStore(t)

	record := &schemas.ExecutionRecord{
		ExecutionID: "exec-1",
		TestCaseID:  "tc-1",
		ExecutedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Status:      schemas.RunPartial,
		Duration:    42 * time.Second,
		Steps: []schemas.StepResult{
			{Index: 0, Command: schemas.CommandNavigate, Status: schemas.StepSuccess, Attempts: 1},
			{
				Index: 1, Command: schemas.CommandClick, Status: schemas.StepFailure,
				OriginalSelector: "#gone", Attempts: 3,
				Error: "locator matched no element", Screenshot: "artifacts/failure-1.png",
			},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(flexibleSQLMatcher(sqlInsertExecution)).
		WithArgs("exec-1", "tc-1", record.ExecutedAt, "partial", false, "", int64(42000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom([]string{"step_results"}, stepResultColumns).
		WillReturnResult(2)
	mock.ExpectCommit()
	mock.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	require.NoError(t, s.AppendExecutionRecord(context.Background(), "tc-1", record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendExecutionRecordRollsBackOnCopyFailure(t *testing.T) {
	s, mock := newTestStore(t)

	record := &schemas.ExecutionRecord{
		ExecutionID: "exec-1",
		ExecutedAt:  time.Now().UTC(),
		Status:      schemas.RunSuccess,
		Steps:       []schemas.StepResult{{Index: 0, Command: schemas.CommandNavigate, Status: schemas.StepSuccess, Attempts: 1}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(flexibleSQLMatcher(sqlInsertExecution)).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom([]string{"step_results"}, stepResultColumns).
		WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	err := s.AppendExecutionRecord(context.Background(), "tc-1", record)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAndLoadTestCase(t *testing.T) {
	s, mock := newTestStore(t)

	tc := &schemas.TestCase{
		ID:   "tc-1",
		Name: "login flow",
		Steps: []schemas.Step{
			{Command: schemas.CommandNavigate, Params: &schemas.NavigateParams{URL: "https://example.com"}},
		},
		Tags: []string{"smoke"},
	}

	mock.ExpectExec(flexibleSQLMatcher(sqlUpsertTestCase)).
		WithArgs("tc-1", "login flow", "", pgxmock.AnyArg(), tc.Tags, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.SaveTestCase(context.Background(), tc))

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	stepsJSON := []byte(`[{"command":"navigate","parameters":{"url":"https://example.com"}}]`)
	mock.ExpectQuery(flexibleSQLMatcher(sqlSelectTestCase)).
		WithArgs("tc-1").
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "name", "description", "steps", "tags", "created_at", "updated_at"}).
			AddRow("tc-1", "login flow", "", stepsJSON, []string{"smoke"}, created, created))

	loaded, err := s.LoadTestCase(context.Background(), "tc-1")
	require.NoError(t, err)
	assert.Equal(t, "login flow", loaded.Name)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, schemas.CommandNavigate, loaded.Steps[0].Command)
	navParams, ok := loaded.Steps[0].Params.(*schemas.NavigateParams)
	require.True(t, ok, "step params decode to their command's typed shape")
	assert.Equal(t, "https://example.com", navParams.URL)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadTestCaseNotFound(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(flexibleSQLMatcher(sqlSelectTestCase)).
		WithArgs("missing").
		WillReturnError(errors.New("no rows in result set"))

	_, err := s.LoadTestCase(context.Background(), "missing")
	require.Error(t, err)
}

func TestLocatorRepositoryRoundTrip(t *testing.T) {
	s, mock := newTestStore(t)
	key := healing.Key{PageSignature: "https://x.test/#abc", PrimarySelector: "#login"}

	mock.ExpectExec(flexibleSQLMatcher(sqlUpsertLocator)).
		WithArgs(key.PageSignature, key.PrimarySelector, `//*[@id='signin']`, "role", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.RecordSuccess(context.Background(), key, `//*[@id='signin']`, schemas.StrategyRole))

	updated := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(flexibleSQLMatcher(sqlLookupLocator)).
		WithArgs(key.PageSignature, key.PrimarySelector).
		WillReturnRows(pgxmock.NewRows(
			[]string{"healed_selector", "strategy", "successes", "failures", "updated_at"}).
			AddRow(`//*[@id='signin']`, "role", 1, 0, updated))

	entry, ok, err := s.Lookup(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `//*[@id='signin']`, entry.HealedSelector)
	assert.Equal(t, schemas.StrategyRole, entry.Strategy)
	assert.Equal(t, 1, entry.Successes)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupMissEmptyResult(t *testing.T) {
	s, mock := newTestStore(t)
	key := healing.Key{PageSignature: "sig", PrimarySelector: "#x"}

	mock.ExpectQuery(flexibleSQLMatcher(sqlLookupLocator)).
		WithArgs(key.PageSignature, key.PrimarySelector).
		WillReturnRows(pgxmock.NewRows(
			[]string{"healed_selector", "strategy", "successes", "failures", "updated_at"}))

	_, ok, err := s.Lookup(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordFailureReturnsNewCount(t *testing.T) {
	s, mock := newTestStore(t)
	key := healing.Key{PageSignature: "sig", PrimarySelector: "#x"}

	mock.ExpectQuery(flexibleSQLMatcher(sqlBumpLocatorFailure)).
		WithArgs(key.PageSignature, key.PrimarySelector, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"failures"}).AddRow(2))

	n, err := s.RecordFailure(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRecordFailureUnknownKeyIsNoop(t *testing.T) {
	s, mock := newTestStore(t)
	key := healing.Key{PageSignature: "sig", PrimarySelector: "#never"}

	mock.ExpectQuery(flexibleSQLMatcher(sqlBumpLocatorFailure)).
		WithArgs(key.PageSignature, key.PrimarySelector, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"failures"}))

	n, err := s.RecordFailure(context.Background(), key)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMigrateRunsAllStatements(t *testing.T) {
	s, mock := newTestStore(t)
	for range migrations {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
