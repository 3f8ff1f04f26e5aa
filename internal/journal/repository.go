package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS validator_votes (
	request_id     BIGINT      NOT NULL,
	validator_id   TEXT        NOT NULL,
	goal_id        TEXT        NOT NULL,
	attempt_id     TEXT        NOT NULL,
	outcome        TEXT        NOT NULL,
	approved       BOOLEAN     NOT NULL DEFAULT FALSE,
	confidence     INTEGER     NOT NULL DEFAULT 0,
	reasoning_ref  TEXT        NOT NULL DEFAULT '',
	degraded       BOOLEAN     NOT NULL DEFAULT FALSE,
	failure_stage  TEXT        NOT NULL DEFAULT '',
	failure_reason TEXT        NOT NULL DEFAULT '',
	recorded_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (request_id, validator_id)
)`

type postgresRepository struct {
	db *sqlx.DB
}

// Open connects to Postgres and ensures the journal table exists.
func Open(ctx context.Context, databaseURL string) (Journal, *sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to journal database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	repo := NewRepository(db)
	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repo, db, nil
}

// NewRepository creates a Postgres-backed journal.
func NewRepository(db *sqlx.DB) Journal {
	return &postgresRepository{db: db}
}

// EnsureSchema creates the journal table if needed.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// Record upserts entry. A settled entry is never overwritten by a later
// attempt for the same request.
func (r *postgresRepository) Record(ctx context.Context, entry *Entry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO validator_votes (
			request_id, validator_id, goal_id, attempt_id, outcome, approved,
			confidence, reasoning_ref, degraded, failure_stage, failure_reason, recorded_at
		) VALUES (
			:request_id, :validator_id, :goal_id, :attempt_id, :outcome, :approved,
			:confidence, :reasoning_ref, :degraded, :failure_stage, :failure_reason, :recorded_at
		)
		ON CONFLICT (request_id, validator_id) DO UPDATE SET
			attempt_id = EXCLUDED.attempt_id,
			outcome = EXCLUDED.outcome,
			approved = EXCLUDED.approved,
			confidence = EXCLUDED.confidence,
			reasoning_ref = EXCLUDED.reasoning_ref,
			degraded = EXCLUDED.degraded,
			failure_stage = EXCLUDED.failure_stage,
			failure_reason = EXCLUDED.failure_reason,
			recorded_at = EXCLUDED.recorded_at
		WHERE validator_votes.outcome NOT IN ('DONE', 'REJECTED')`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("failed to record journal entry: %w", err)
	}
	return nil
}

func (r *postgresRepository) Get(ctx context.Context, validatorID string, requestID uint64) (*Entry, error) {
	var entry Entry
	err := r.db.GetContext(ctx, &entry,
		"SELECT * FROM validator_votes WHERE request_id = $1 AND validator_id = $2",
		requestID, validatorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}
	return &entry, nil
}

func (r *postgresRepository) Counts(ctx context.Context, validatorID string) (*Counts, error) {
	var counts Counts
	query := `
		SELECT
			COUNT(*) FILTER (WHERE outcome = 'DONE')   AS done,
			COUNT(*) FILTER (WHERE outcome IN ('FAILED', 'REJECTED')) AS failed,
			COUNT(*) FILTER (WHERE outcome = 'REJECTED') AS rejected,
			COUNT(*) FILTER (WHERE degraded)           AS degraded
		FROM validator_votes
		WHERE validator_id = $1`
	if err := r.db.GetContext(ctx, &counts, query, validatorID); err != nil {
		return nil, fmt.Errorf("failed to count journal entries: %w", err)
	}
	return &counts, nil
}
