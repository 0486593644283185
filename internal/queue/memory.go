package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryEngine is an in-process Engine backed by a single mutex-guarded map.
// ClaimNext must scan the full set ordered by createdAt to find the oldest
// eligible item, so a single exclusive lock covers the whole operation
// rather than one keyed lock per runId.
type MemoryEngine struct {
	mu    sync.Mutex
	items map[string]*Item
}

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{items: make(map[string]*Item)}
}

var _ Engine = (*MemoryEngine)(nil)

func (e *MemoryEngine) Enqueue(ctx context.Context, runID, sessionID, provider string, maxAttempts int, payload []byte, now time.Time) (EnqueueResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.items[runID]; exists {
		return EnqueueResult{Accepted: false, RunID: runID}, nil
	}

	e.items[runID] = &Item{
		RunID:       runID,
		SessionID:   sessionID,
		Provider:    provider,
		Status:      StatusQueued,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		Payload:     payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return EnqueueResult{Accepted: true, RunID: runID}, nil
}

func (e *MemoryEngine) ClaimNext(ctx context.Context, owner string, now time.Time, lockMs int64) (*Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	candidates := make([]*Item, 0, len(e.items))
	for _, it := range e.items {
		if e.eligible(it, now) {
			candidates = append(candidates, it)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	item := candidates[0]

	item.Status = StatusClaimed
	item.LockOwner = owner
	item.LockExpiresAt = now.Add(time.Duration(lockMs) * time.Millisecond)
	item.Attempts++
	item.ErrorMessage = ""
	item.UpdatedAt = now

	clone := *item
	return &clone, nil
}

func (e *MemoryEngine) eligible(it *Item, now time.Time) bool {
	switch it.Status {
	case StatusQueued:
		return it.LockExpiresAt.IsZero() || !it.LockExpiresAt.After(now)
	case StatusClaimed:
		return it.LockExpiresAt.Before(now)
	default:
		return false
	}
}

func (e *MemoryEngine) MarkSucceeded(ctx context.Context, runID string, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	it, ok := e.items[runID]
	if !ok {
		return nil
	}
	it.Status = StatusSucceeded
	it.LockOwner = ""
	it.LockExpiresAt = time.Time{}
	it.ErrorMessage = ""
	it.UpdatedAt = now
	return nil
}

func (e *MemoryEngine) MarkCanceled(ctx context.Context, runID string, now time.Time, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	it, ok := e.items[runID]
	if !ok {
		return nil
	}
	it.Status = StatusCanceled
	it.LockOwner = ""
	it.LockExpiresAt = time.Time{}
	it.ErrorMessage = reason
	it.UpdatedAt = now
	return nil
}

func (e *MemoryEngine) MarkRetryOrFailed(ctx context.Context, runID string, now time.Time, retryDelayMs int64, errMsg string) (RetryResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	it, ok := e.items[runID]
	if !ok {
		return RetryResult{}, nil
	}

	it.ErrorMessage = errMsg
	it.UpdatedAt = now

	if it.Attempts >= it.MaxAttempts {
		it.Status = StatusFailed
		it.LockOwner = ""
		it.LockExpiresAt = time.Time{}
	} else {
		it.Status = StatusQueued
		it.LockOwner = ""
		it.LockExpiresAt = now.Add(time.Duration(retryDelayMs) * time.Millisecond)
	}

	return RetryResult{Status: it.Status, Attempts: it.Attempts, MaxAttempts: it.MaxAttempts}, nil
}

func (e *MemoryEngine) ListStaleClaimed(ctx context.Context, now time.Time, limit int) ([]Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Item
	for _, it := range e.items {
		if it.Status == StatusClaimed && it.LockExpiresAt.Before(now) {
			out = append(out, *it)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (e *MemoryEngine) FindByRunID(ctx context.Context, runID string) (*Item, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	it, ok := e.items[runID]
	if !ok {
		return nil, false, nil
	}
	clone := *it
	return &clone, true, nil
}
