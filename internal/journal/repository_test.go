package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (Journal, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestRepository_Record(t *testing.T) {
	repo, mock := newMockRepo(t)
	entry := &Entry{
		RequestID:    42,
		ValidatorID:  "GVALIDATOR",
		GoalID:       "g1",
		AttemptID:    "attempt-1",
		Outcome:      OutcomeDone,
		Approved:     true,
		Confidence:   87,
		ReasoningRef: "bafyreasoning",
	}

	mock.ExpectExec(`INSERT INTO validator_votes .* ON CONFLICT \(request_id, validator_id\) DO UPDATE`).
		WithArgs(uint64(42), "GVALIDATOR", "g1", "attempt-1", OutcomeDone, true,
			87, "bafyreasoning", false, "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Record(context.Background(), entry))
	assert.False(t, entry.RecordedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_RecordError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`INSERT INTO validator_votes`).WillReturnError(errors.New("connection reset"))

	err := repo.Record(context.Background(), &Entry{RequestID: 1, ValidatorID: "G", Outcome: OutcomeFailed})
	assert.ErrorContains(t, err, "failed to record journal entry")
}

func TestRepository_RecordKeepsSettledEntries(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`DO UPDATE SET .* WHERE validator_votes.outcome NOT IN \('DONE', 'REJECTED'\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Record(context.Background(), &Entry{RequestID: 7, ValidatorID: "GVALIDATOR", Outcome: OutcomeFailed})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT \* FROM validator_votes WHERE request_id = \$1`).
		WithArgs(uint64(9), "GVALIDATOR").
		WillReturnRows(sqlmock.NewRows([]string{"request_id"}))

	entry, err := repo.Get(context.Background(), "GVALIDATOR", 9)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRepository_Get(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"request_id", "validator_id", "goal_id", "attempt_id", "outcome", "approved",
		"confidence", "reasoning_ref", "degraded", "failure_stage", "failure_reason", "recorded_at",
	}).AddRow(int64(9), "GVALIDATOR", "g1", "a1", OutcomeRejected, false, 0, "bafyreasoning", false, "VOTING", "not_selected", now)
	mock.ExpectQuery(`SELECT \* FROM validator_votes`).WillReturnRows(rows)

	entry, err := repo.Get(context.Background(), "GVALIDATOR", 9)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, uint64(9), entry.RequestID)
	assert.Equal(t, "VOTING", entry.FailureStage)
	assert.Equal(t, OutcomeRejected, entry.Outcome)
	assert.True(t, entry.Settled())
}

func TestRepository_Counts(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT\s+COUNT\(\*\) FILTER`).
		WithArgs("GVALIDATOR").
		WillReturnRows(sqlmock.NewRows([]string{"done", "failed", "rejected", "degraded"}).AddRow(5, 2, 1, 1))

	counts, err := repo.Counts(context.Background(), "GVALIDATOR")
	require.NoError(t, err)
	assert.Equal(t, &Counts{Done: 5, Failed: 2, Rejected: 1, Degraded: 1}, counts)
}

func TestMemoryJournal(t *testing.T) {
	ctx := context.Background()
	j := NewMemory()

	require.NoError(t, j.Record(ctx, &Entry{RequestID: 1, ValidatorID: "V", Outcome: OutcomeDone, Degraded: true}))
	require.NoError(t, j.Record(ctx, &Entry{RequestID: 1, ValidatorID: "V", Outcome: OutcomeFailed}))
	require.NoError(t, j.Record(ctx, &Entry{RequestID: 2, ValidatorID: "V", Outcome: OutcomeFailed}))
	require.NoError(t, j.Record(ctx, &Entry{RequestID: 3, ValidatorID: "other", Outcome: OutcomeDone}))
	require.NoError(t, j.Record(ctx, &Entry{RequestID: 4, ValidatorID: "V", Outcome: OutcomeRejected}))
	require.NoError(t, j.Record(ctx, &Entry{RequestID: 4, ValidatorID: "V", Outcome: OutcomeDone}))

	done, err := j.Get(ctx, "V", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, done.Outcome, "DONE is not overwritten by a later failure")
	assert.True(t, done.Settled())

	failed, err := j.Get(ctx, "V", 2)
	require.NoError(t, err)
	assert.False(t, failed.Settled())

	rejected, err := j.Get(ctx, "V", 4)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, rejected.Outcome, "a refused vote stays refused")

	counts, err := j.Counts(ctx, "V")
	require.NoError(t, err)
	assert.Equal(t, &Counts{Done: 1, Failed: 2, Rejected: 1, Degraded: 1}, counts)

	missing, err := j.Get(ctx, "V", 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.False(t, missing.Settled())
}
