package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rollcall/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists session outcomes and run tallies to PostgreSQL. Secrets are never written; outcomes
// only carry the credential identifier.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

var schemaStatements = []string{
	`
        CREATE TABLE IF NOT EXISTS runs (
            id          TEXT PRIMARY KEY,
            action      TEXT NOT NULL,
            started_at  TIMESTAMPTZ NOT NULL,
            ended_at    TIMESTAMPTZ,
            total       INTEGER NOT NULL DEFAULT 0,
            succeeded   INTEGER NOT NULL DEFAULT 0,
            failed      INTEGER NOT NULL DEFAULT 0,
            skipped     INTEGER NOT NULL DEFAULT 0
        );
    `,
	`
        CREATE TABLE IF NOT EXISTS session_outcomes (
            id           UUID PRIMARY KEY,
            run_id       TEXT NOT NULL REFERENCES runs(id),
            idx          INTEGER NOT NULL,
            identifier   TEXT NOT NULL,
            metadata     TEXT NOT NULL DEFAULT '',
            action       TEXT NOT NULL,
            status       TEXT NOT NULL,
            step_reached TEXT NOT NULL,
            error_kind   TEXT NOT NULL DEFAULT '',
            error_detail TEXT NOT NULL DEFAULT '',
            warnings     TEXT[] NOT NULL DEFAULT '{}',
            started_at   TIMESTAMPTZ NOT NULL,
            ended_at     TIMESTAMPTZ NOT NULL
        );
    `,
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

const (
	sqlUpsertRunProgress = `
        INSERT INTO runs (id, action, started_at, total, succeeded, failed, skipped)
        VALUES ($1, $2, $3, 1, $4, $5, $6)
        ON CONFLICT (id) DO UPDATE SET
            started_at = LEAST(runs.started_at, EXCLUDED.started_at),
            total = runs.total + 1,
            succeeded = runs.succeeded + EXCLUDED.succeeded,
            failed = runs.failed + EXCLUDED.failed,
            skipped = runs.skipped + EXCLUDED.skipped;
    `
	sqlInsertOutcome = `
        INSERT INTO session_outcomes (id, run_id, idx, identifier, metadata, action, status, step_reached, error_kind, error_detail, warnings, started_at, ended_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
    `
	sqlUpsertRunSummary = `
        INSERT INTO runs (id, action, started_at, ended_at, total, succeeded, failed, skipped)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id) DO UPDATE SET
            ended_at = EXCLUDED.ended_at,
            total = EXCLUDED.total,
            succeeded = EXCLUDED.succeeded,
            failed = EXCLUDED.failed,
            skipped = EXCLUDED.skipped;
    `
)

// RecordOutcome stores one outcome and bumps the tallies of its run in a single transaction.
func (s *Store) RecordOutcome(ctx context.Context, o schemas.SessionOutcome) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	startedAt := utcOrNow(o.StartedAt)
	var succeeded, failed, skipped int
	switch o.Status {
	case schemas.StatusSucceeded:
		succeeded = 1
	case schemas.StatusSkipped:
		skipped = 1
	default:
		failed = 1
	}
	if _, err := tx.Exec(ctx, sqlUpsertRunProgress, o.RunID, string(o.Action), startedAt, succeeded, failed, skipped); err != nil {
		return fmt.Errorf("failed to update run %s: %w", o.RunID, err)
	}

	warnings := o.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	_, err = tx.Exec(ctx, sqlInsertOutcome,
		uuid.NewString(), o.RunID, o.Index,
		o.CredentialIdentifier, o.Metadata, string(o.Action),
		string(o.Status), string(o.StepReached), string(o.ErrorKind), o.ErrorDetail,
		warnings, startedAt, utcOrNow(o.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome %d of run %s: %w", o.Index, o.RunID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecordSummary writes the final tallies of a run.
func (s *Store) RecordSummary(ctx context.Context, sum schemas.Summary) error {
	_, err := s.pool.Exec(ctx, sqlUpsertRunSummary,
		sum.RunID, string(sum.Action), utcOrNow(sum.StartedAt), utcOrNow(sum.EndedAt),
		sum.Total, sum.Succeeded, sum.Failed, sum.Skipped,
	)
	if err != nil {
		return fmt.Errorf("failed to record summary of run %s: %w", sum.RunID, err)
	}
	s.log.Debug("Run summary stored.", zap.String("run_id", sum.RunID))
	return nil
}

func utcOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
