package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresEngine is an Engine backed by a Postgres table, using
// `SELECT ... FOR UPDATE SKIP LOCKED` so concurrent managers never claim the
// same row, the distributed analogue of MemoryEngine's single mutex.
type PostgresEngine struct {
	pool *pgxpool.Pool
}

func NewPostgresEngine(pool *pgxpool.Pool) *PostgresEngine {
	return &PostgresEngine{pool: pool}
}

var _ Engine = (*PostgresEngine)(nil)

// Migrate creates the run_queue_items table and its indexes if absent.
func (e *PostgresEngine) Migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS run_queue_items (
		run_id          TEXT PRIMARY KEY,
		session_id      TEXT NOT NULL,
		provider        TEXT NOT NULL,
		status          TEXT NOT NULL,
		lock_owner      TEXT NOT NULL DEFAULT '',
		lock_expires_at TIMESTAMPTZ,
		attempts        INTEGER NOT NULL DEFAULT 0,
		max_attempts    INTEGER NOT NULL DEFAULT 1,
		payload         BYTEA,
		error_message   TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_run_queue_items_claimable
		ON run_queue_items (created_at)
		WHERE status IN ('queued', 'claimed');
	`
	_, err := e.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("queue: migrate: %w", err)
	}
	return nil
}

func (e *PostgresEngine) Enqueue(ctx context.Context, runID, sessionID, provider string, maxAttempts int, payload []byte, now time.Time) (EnqueueResult, error) {
	tag, err := e.pool.Exec(ctx, `
		INSERT INTO run_queue_items (run_id, session_id, provider, status, attempts, max_attempts, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $7)
		ON CONFLICT (run_id) DO NOTHING`,
		runID, sessionID, provider, StatusQueued, maxAttempts, payload, now,
	)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("queue: enqueue: %w", err)
	}
	return EnqueueResult{Accepted: tag.RowsAffected() == 1, RunID: runID}, nil
}

func (e *PostgresEngine) ClaimNext(ctx context.Context, owner string, now time.Time, lockMs int64) (*Item, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: claimNext: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT run_id FROM run_queue_items
		WHERE (status = $1 AND (lock_expires_at IS NULL OR lock_expires_at <= $2))
		   OR (status = $3 AND lock_expires_at <= $2)
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		StatusQueued, now, StatusClaimed,
	)

	var runID string
	if err := row.Scan(&runID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: claimNext: select: %w", err)
	}

	lockExpiresAt := now.Add(time.Duration(lockMs) * time.Millisecond)
	_, err = tx.Exec(ctx, `
		UPDATE run_queue_items
		SET status = $1, lock_owner = $2, lock_expires_at = $3,
		    attempts = attempts + 1, error_message = '', updated_at = $4
		WHERE run_id = $5`,
		StatusClaimed, owner, lockExpiresAt, now, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("queue: claimNext: update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("queue: claimNext: commit: %w", err)
	}

	item, _, err := e.FindByRunID(ctx, runID)
	return item, err
}

func (e *PostgresEngine) MarkSucceeded(ctx context.Context, runID string, now time.Time) error {
	_, err := e.pool.Exec(ctx, `
		UPDATE run_queue_items
		SET status = $1, lock_owner = '', lock_expires_at = NULL, error_message = '', updated_at = $2
		WHERE run_id = $3`,
		StatusSucceeded, now, runID,
	)
	if err != nil {
		return fmt.Errorf("queue: markSucceeded: %w", err)
	}
	return nil
}

func (e *PostgresEngine) MarkCanceled(ctx context.Context, runID string, now time.Time, reason string) error {
	_, err := e.pool.Exec(ctx, `
		UPDATE run_queue_items
		SET status = $1, lock_owner = '', lock_expires_at = NULL, error_message = $2, updated_at = $3
		WHERE run_id = $4`,
		StatusCanceled, reason, now, runID,
	)
	if err != nil {
		return fmt.Errorf("queue: markCanceled: %w", err)
	}
	return nil
}

func (e *PostgresEngine) MarkRetryOrFailed(ctx context.Context, runID string, now time.Time, retryDelayMs int64, errMsg string) (RetryResult, error) {
	item, found, err := e.FindByRunID(ctx, runID)
	if err != nil {
		return RetryResult{}, err
	}
	if !found {
		return RetryResult{}, nil
	}

	var newStatus Status
	var lockExpiresAt *time.Time
	if item.Attempts >= item.MaxAttempts {
		newStatus = StatusFailed
	} else {
		newStatus = StatusQueued
		t := now.Add(time.Duration(retryDelayMs) * time.Millisecond)
		lockExpiresAt = &t
	}

	_, err = e.pool.Exec(ctx, `
		UPDATE run_queue_items
		SET status = $1, lock_owner = '', lock_expires_at = $2, error_message = $3, updated_at = $4
		WHERE run_id = $5`,
		newStatus, lockExpiresAt, errMsg, now, runID,
	)
	if err != nil {
		return RetryResult{}, fmt.Errorf("queue: markRetryOrFailed: %w", err)
	}

	return RetryResult{Status: newStatus, Attempts: item.Attempts, MaxAttempts: item.MaxAttempts}, nil
}

func (e *PostgresEngine) ListStaleClaimed(ctx context.Context, now time.Time, limit int) ([]Item, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT run_id, session_id, provider, status, lock_owner, lock_expires_at,
		       attempts, max_attempts, payload, error_message, created_at, updated_at
		FROM run_queue_items
		WHERE status = $1 AND lock_expires_at < $2
		ORDER BY created_at ASC
		LIMIT $3`,
		StatusClaimed, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("queue: listStaleClaimed: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("queue: listStaleClaimed: scan: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (e *PostgresEngine) FindByRunID(ctx context.Context, runID string) (*Item, bool, error) {
	row := e.pool.QueryRow(ctx, `
		SELECT run_id, session_id, provider, status, lock_owner, lock_expires_at,
		       attempts, max_attempts, payload, error_message, created_at, updated_at
		FROM run_queue_items WHERE run_id = $1`,
		runID,
	)
	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("queue: findByRunId: %w", err)
	}
	return &it, true, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanItem(row scannable) (Item, error) {
	var it Item
	var lockExpiresAt *time.Time
	if err := row.Scan(
		&it.RunID, &it.SessionID, &it.Provider, &it.Status, &it.LockOwner, &lockExpiresAt,
		&it.Attempts, &it.MaxAttempts, &it.Payload, &it.ErrorMessage, &it.CreatedAt, &it.UpdatedAt,
	); err != nil {
		return Item{}, err
	}
	if lockExpiresAt != nil {
		it.LockExpiresAt = *lockExpiresAt
	}
	return it, nil
}
