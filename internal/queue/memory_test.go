package queue

import (
	"context"
	"testing"
	"time"
)

func TestEnqueue_DuplicateRejected(t *testing.T) {
	e := NewMemoryEngine()
	ctx := context.Background()
	now := time.Now()

	first, err := e.Enqueue(ctx, "r1", "s1", "opencode", 3, nil, now)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if !first.Accepted {
		t.Fatal("expected first enqueue to be accepted")
	}

	second, err := e.Enqueue(ctx, "r1", "s1", "opencode", 3, nil, now)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if second.Accepted {
		t.Fatal("expected duplicate enqueue to be rejected")
	}
}

func TestClaimNext_LeaseRecovery(t *testing.T) {
	e := NewMemoryEngine()
	ctx := context.Background()
	t0 := time.Now()

	_, _ = e.Enqueue(ctx, "r1", "s1", "opencode", 3, nil, t0)

	item, err := e.ClaimNext(ctx, "A", t0, 1000)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if item == nil || item.RunID != "r1" {
		t.Fatalf("expected r1 claimed by A, got %+v", item)
	}
	if item.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", item.Attempts)
	}

	none, err := e.ClaimNext(ctx, "B", t0.Add(500*time.Millisecond), 1000)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if none != nil {
		t.Fatalf("expected no claimable item before lease expiry, got %+v", none)
	}

	recovered, err := e.ClaimNext(ctx, "B", t0.Add(1500*time.Millisecond), 1000)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if recovered == nil || recovered.RunID != "r1" {
		t.Fatalf("expected r1 recovered by B, got %+v", recovered)
	}
	if recovered.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", recovered.Attempts)
	}
	if recovered.LockOwner != "B" {
		t.Errorf("LockOwner = %q, want %q", recovered.LockOwner, "B")
	}
}

func TestClaimNext_EmptyQueue(t *testing.T) {
	e := NewMemoryEngine()
	item, err := e.ClaimNext(context.Background(), "A", time.Now(), 1000)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil from empty queue, got %+v", item)
	}
}

func TestClaimNext_OldestFirst(t *testing.T) {
	e := NewMemoryEngine()
	ctx := context.Background()
	t0 := time.Now()

	_, _ = e.Enqueue(ctx, "later", "s1", "opencode", 3, nil, t0.Add(time.Second))
	_, _ = e.Enqueue(ctx, "earlier", "s1", "opencode", 3, nil, t0)

	item, err := e.ClaimNext(ctx, "A", t0.Add(2*time.Second), 1000)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if item.RunID != "earlier" {
		t.Errorf("RunID = %q, want %q", item.RunID, "earlier")
	}
}

func TestRetryThenSucceed(t *testing.T) {
	e := NewMemoryEngine()
	ctx := context.Background()
	t0 := time.Now()

	_, _ = e.Enqueue(ctx, "r1", "s1", "opencode", 3, nil, t0)

	claimed, _ := e.ClaimNext(ctx, "A", t0, 1000)
	if claimed == nil {
		t.Fatal("expected a claim")
	}

	result, err := e.MarkRetryOrFailed(ctx, "r1", t0, 500, "boom")
	if err != nil {
		t.Fatalf("MarkRetryOrFailed() error = %v", err)
	}
	if result.Status != StatusQueued {
		t.Errorf("Status = %q, want %q", result.Status, StatusQueued)
	}

	item, found, err := e.FindByRunID(ctx, "r1")
	if err != nil || !found {
		t.Fatalf("FindByRunID() error = %v, found = %v", err, found)
	}
	if item.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", item.Attempts)
	}

	t1 := t0.Add(time.Second)
	claimed2, err := e.ClaimNext(ctx, "A", t1, 1000)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if claimed2 == nil || claimed2.RunID != "r1" {
		t.Fatalf("expected r1 re-claimed, got %+v", claimed2)
	}

	if err := e.MarkSucceeded(ctx, "r1", t1); err != nil {
		t.Fatalf("MarkSucceeded() error = %v", err)
	}

	final, _, _ := e.FindByRunID(ctx, "r1")
	if final.Status != StatusSucceeded {
		t.Errorf("Status = %q, want %q", final.Status, StatusSucceeded)
	}
	if final.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", final.Attempts)
	}
}

func TestMarkRetryOrFailed_ExhaustsAttempts(t *testing.T) {
	e := NewMemoryEngine()
	ctx := context.Background()
	t0 := time.Now()

	_, _ = e.Enqueue(ctx, "r1", "s1", "opencode", 1, nil, t0)
	_, _ = e.ClaimNext(ctx, "A", t0, 1000)

	result, err := e.MarkRetryOrFailed(ctx, "r1", t0, 500, "boom")
	if err != nil {
		t.Fatalf("MarkRetryOrFailed() error = %v", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", result.Status, StatusFailed)
	}

	item, _, _ := e.FindByRunID(ctx, "r1")
	if item.ErrorMessage != "boom" {
		t.Errorf("ErrorMessage = %q, want %q", item.ErrorMessage, "boom")
	}
}

func TestMarkCanceled(t *testing.T) {
	e := NewMemoryEngine()
	ctx := context.Background()
	t0 := time.Now()

	_, _ = e.Enqueue(ctx, "r1", "s1", "claude-code", 3, nil, t0)
	_, _ = e.ClaimNext(ctx, "A", t0, 1000)

	if err := e.MarkCanceled(ctx, "r1", t0, "provider does not support human-loop"); err != nil {
		t.Fatalf("MarkCanceled() error = %v", err)
	}

	item, _, _ := e.FindByRunID(ctx, "r1")
	if item.Status != StatusCanceled {
		t.Errorf("Status = %q, want %q", item.Status, StatusCanceled)
	}
	if item.ErrorMessage != "provider does not support human-loop" {
		t.Errorf("ErrorMessage = %q", item.ErrorMessage)
	}
	if item.LockOwner != "" {
		t.Error("expected lock to be cleared")
	}
}

func TestListStaleClaimed(t *testing.T) {
	e := NewMemoryEngine()
	ctx := context.Background()
	t0 := time.Now()

	_, _ = e.Enqueue(ctx, "r1", "s1", "claude-code", 3, nil, t0)
	_, _ = e.ClaimNext(ctx, "A", t0, 100)

	stale, err := e.ListStaleClaimed(ctx, t0.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("ListStaleClaimed() error = %v", err)
	}
	if len(stale) != 1 || stale[0].RunID != "r1" {
		t.Fatalf("expected r1 stale, got %+v", stale)
	}

	fresh, err := e.ListStaleClaimed(ctx, t0, 10)
	if err != nil {
		t.Fatalf("ListStaleClaimed() error = %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("expected no stale items before lease expiry, got %+v", fresh)
	}
}

func TestFindByRunID_NotFound(t *testing.T) {
	e := NewMemoryEngine()
	_, found, err := e.FindByRunID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FindByRunID() error = %v", err)
	}
	if found {
		t.Error("expected not found")
	}
}
