package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/relayforge/agentctl/internal/callback"
	"github.com/relayforge/agentctl/internal/queue"
	"github.com/relayforge/agentctl/internal/sessionworker"
	"github.com/relayforge/agentctl/internal/sessionworker/container"
	"github.com/relayforge/agentctl/internal/workspacesync"
)

// fakeRuntime is a minimal container.Runtime double; only the methods the
// Session Worker Lifecycle Manager actually calls are exercised here.
type fakeRuntime struct{}

func (fakeRuntime) Create(ctx context.Context, cfg container.CreateConfig) (string, error) {
	return "c-" + cfg.Name, nil
}
func (fakeRuntime) Start(ctx context.Context, containerID string) error { return nil }
func (fakeRuntime) Stop(ctx context.Context, containerID string) error { return nil }
func (fakeRuntime) Remove(ctx context.Context, containerID string, force bool) error { return nil }
func (fakeRuntime) Status(ctx context.Context, containerID string) (container.ContainerStatus, error) {
	return container.StatusRunning, nil
}
func (fakeRuntime) Ping(ctx context.Context) error { return nil }
func (fakeRuntime) Close() error                   { return nil }
func (fakeRuntime) Name() string                   { return "fake" }
func (fakeRuntime) IsAvailable() bool              { return true }

func noopSync(ctx context.Context, sessionID, reason string, occurredAt time.Time, runID, workspaceDir string) (workspacesync.Result, error) {
	return workspacesync.Result{OK: true}, nil
}

func TestRunOnce_StaleClaimsRetriedThenFailed(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryEngine()
	t0 := time.Now()

	if _, err := q.Enqueue(ctx, "r1", "s1", "opencode", 2, nil, t0); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := q.ClaimNext(ctx, "A", t0, 1000); err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}

	rec, err := New(Config{
		Schedule:               "* * * * *",
		StaleClaimLimit:        10,
		StaleClaimRetryDelayMs: 0,
		Now:                    func() time.Time { return t0.Add(2 * time.Second) },
	}, q, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	report := rec.RunOnce(ctx)
	if report.StaleClaims.Candidates != 1 || report.StaleClaims.Succeeded != 1 {
		t.Fatalf("StaleClaims report = %+v", report.StaleClaims)
	}

	item, ok, err := q.FindByRunID(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("FindByRunID() = %+v, %v, %v", item, ok, err)
	}
	if item.Status != queue.StatusQueued || item.ErrorMessage != "reconciler_stale_claim_timeout" {
		t.Fatalf("item after stale-claim sweep = %+v", item)
	}
}

func TestRunOnce_StaleSyncWorkersResynced(t *testing.T) {
	ctx := context.Background()
	t0 := time.Now()

	mgr := sessionworker.New(sessionworker.Config{
		Runtime:           fakeRuntime{},
		Sync:              noopSync,
		HostWorkspaceRoot: t.TempDir(),
		ContainerImage:    "img",
		Now:               func() time.Time { return t0 },
	})

	if _, err := mgr.ActivateSession(ctx, sessionworker.ActivateInput{
		AppID:     "app1",
		SessionID: "s1",
	}); err != nil {
		t.Fatalf("ActivateSession() error = %v", err)
	}

	q := queue.NewMemoryEngine()
	rec, err := New(Config{
		Schedule:         "* * * * *",
		SyncStaleAfterMs: 1000,
		SyncLimit:        10,
		Now:              func() time.Time { return t0.Add(2 * time.Second) },
	}, q, mgr, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	report := rec.RunOnce(ctx)
	if report.StaleSync.Candidates != 1 || report.StaleSync.Succeeded != 1 {
		t.Fatalf("StaleSync report = %+v", report.StaleSync)
	}

	w, ok := mgr.Worker("s1")
	if !ok || w.LastSyncStatus != sessionworker.SyncStatusSuccess {
		t.Fatalf("worker after sweep = %+v, ok=%v", w, ok)
	}
}

func TestRunOnce_HumanLoopTimeoutDisabledByDefault(t *testing.T) {
	ctx := context.Background()
	t0 := time.Now()
	q := queue.NewMemoryEngine()
	store := callback.NewStore()
	store.UpsertHumanLoop(callback.HumanLoopRequest{
		QuestionID:  "q1",
		RunID:       "r1",
		Status:      callback.HumanLoopPending,
		RequestedAt: t0,
	})

	rec, err := New(Config{
		Schedule: "* * * * *",
		Now:      func() time.Time { return t0.Add(time.Hour) },
	}, q, nil, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	report := rec.RunOnce(ctx)
	if report.HumanLoop.Candidates != 0 {
		t.Fatalf("expected human-loop job to be skipped, got %+v", report.HumanLoop)
	}
	req, ok := store.HumanLoop("q1")
	if !ok || req.Status != callback.HumanLoopPending {
		t.Fatalf("expected q1 to remain pending, got %+v", req)
	}
}

func TestRunOnce_HumanLoopTimeoutCancelsAndFailsRun(t *testing.T) {
	ctx := context.Background()
	t0 := time.Now()
	q := queue.NewMemoryEngine()
	store := callback.NewStore()
	store.SeedRun("r1")
	store.UpsertHumanLoop(callback.HumanLoopRequest{
		QuestionID:  "q1",
		RunID:       "r1",
		Status:      callback.HumanLoopPending,
		RequestedAt: t0,
	})

	rec, err := New(Config{
		Schedule:                "* * * * *",
		HumanLoopTimeoutEnabled: true,
		HumanLoopTimeoutMs:      1000,
		HumanLoopLimit:          10,
		Now:                     func() time.Time { return t0.Add(time.Hour) },
	}, q, nil, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	report := rec.RunOnce(ctx)
	if report.HumanLoop.Candidates != 1 || report.HumanLoop.Succeeded != 1 {
		t.Fatalf("HumanLoop report = %+v", report.HumanLoop)
	}

	req, ok := store.HumanLoop("q1")
	if !ok || req.Status != callback.HumanLoopCanceled {
		t.Fatalf("expected q1 canceled, got %+v", req)
	}
	rs, ok := store.RunState("r1")
	if !ok || rs.Status != callback.RunStatusFailed {
		t.Fatalf("expected r1 failed, got %+v", rs)
	}
}

func TestNew_RejectsInvalidSchedule(t *testing.T) {
	if _, err := New(Config{Schedule: "not a cron expression"}, queue.NewMemoryEngine(), nil, nil); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
