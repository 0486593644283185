// Package queue implements the durable, leased run work queue: a FIFO of
// runs with crash-safe claim leases and bounded retries, backed by either
// an in-memory map or Postgres.
package queue

import (
	"context"
	"time"
)

// Status is the RunQueueItem status enum from §3.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusClaimed   Status = "claimed"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Item is a RunQueueItem.
type Item struct {
	RunID         string
	SessionID     string
	Provider      string
	Status        Status
	LockOwner     string
	LockExpiresAt time.Time
	Attempts      int
	MaxAttempts   int
	Payload       []byte
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EnqueueResult is returned from Enqueue.
type EnqueueResult struct {
	Accepted bool
	RunID    string
}

// RetryResult is returned from MarkRetryOrFailed.
type RetryResult struct {
	Status      Status
	Attempts    int
	MaxAttempts int
}

// Engine is the Run Queue Engine contract from §4.4. Implementations must
// make ClaimNext atomic against concurrent callers, whether in a single
// process (in-memory) or across processes (Postgres row-level locking).
type Engine interface {
	// Enqueue rejects (Accepted=false) if runId already exists.
	Enqueue(ctx context.Context, runID, sessionID, provider string, maxAttempts int, payload []byte, now time.Time) (EnqueueResult, error)

	// ClaimNext atomically selects and leases the oldest eligible item:
	// queued with no or expired lease, or claimed with an expired lease.
	// Returns nil, nil if nothing is eligible.
	ClaimNext(ctx context.Context, owner string, now time.Time, lockMs int64) (*Item, error)

	MarkSucceeded(ctx context.Context, runID string, now time.Time) error
	MarkCanceled(ctx context.Context, runID string, now time.Time, reason string) error
	MarkRetryOrFailed(ctx context.Context, runID string, now time.Time, retryDelayMs int64, errMsg string) (RetryResult, error)

	ListStaleClaimed(ctx context.Context, now time.Time, limit int) ([]Item, error)
	FindByRunID(ctx context.Context, runID string) (*Item, bool, error)
}
