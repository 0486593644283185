//go:build integration

package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/relayforge/agentctl/internal/queue"
	"github.com/relayforge/agentctl/internal/testutil"
)

func TestPostgresEngine_EnqueueClaimSucceed(t *testing.T) {
	testutil.RequireDocker(t)

	pool := testutil.NewPostgresPool(t)
	e := queue.NewPostgresEngine(pool)
	ctx := context.Background()

	if err := e.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	now := time.Now().UTC()
	result, err := e.Enqueue(ctx, "r1", "s1", "claude-code", 3, []byte(`{"model":"m"}`), now)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if !result.Accepted {
		t.Fatal("expected first enqueue to be accepted")
	}

	dup, err := e.Enqueue(ctx, "r1", "s1", "claude-code", 3, nil, now)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if dup.Accepted {
		t.Fatal("expected duplicate enqueue to be rejected")
	}

	item, err := e.ClaimNext(ctx, "owner-a", now, 5000)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if item == nil || item.RunID != "r1" {
		t.Fatalf("expected r1 claimed, got %+v", item)
	}
	if item.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", item.Attempts)
	}

	if err := e.MarkSucceeded(ctx, "r1", now); err != nil {
		t.Fatalf("MarkSucceeded() error = %v", err)
	}

	final, found, err := e.FindByRunID(ctx, "r1")
	if err != nil || !found {
		t.Fatalf("FindByRunID() error = %v, found = %v", err, found)
	}
	if final.Status != queue.StatusSucceeded {
		t.Errorf("Status = %q, want %q", final.Status, queue.StatusSucceeded)
	}
}

func TestPostgresEngine_LeaseRecovery(t *testing.T) {
	testutil.RequireDocker(t)

	pool := testutil.NewPostgresPool(t)
	e := queue.NewPostgresEngine(pool)
	ctx := context.Background()

	if err := e.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	t0 := time.Now().UTC()
	if _, err := e.Enqueue(ctx, "r1", "s1", "opencode", 3, nil, t0); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if _, err := e.ClaimNext(ctx, "A", t0, 1000); err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
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
	if recovered == nil || recovered.LockOwner != "B" {
		t.Fatalf("expected recovery by B, got %+v", recovered)
	}
	if recovered.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", recovered.Attempts)
	}
}

func TestPostgresEngine_RetryExhaustion(t *testing.T) {
	testutil.RequireDocker(t)

	pool := testutil.NewPostgresPool(t)
	e := queue.NewPostgresEngine(pool)
	ctx := context.Background()

	if err := e.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	now := time.Now().UTC()
	if _, err := e.Enqueue(ctx, "r1", "s1", "codex-cli", 1, nil, now); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := e.ClaimNext(ctx, "A", now, 1000); err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}

	result, err := e.MarkRetryOrFailed(ctx, "r1", now, 500, "provider stream closed without terminal event")
	if err != nil {
		t.Fatalf("MarkRetryOrFailed() error = %v", err)
	}
	if result.Status != queue.StatusFailed {
		t.Errorf("Status = %q, want %q", result.Status, queue.StatusFailed)
	}
}
