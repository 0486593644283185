package reconciler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relayforge/agentctl/internal/callback"
	"github.com/relayforge/agentctl/internal/logger"
	"github.com/relayforge/agentctl/internal/queue"
	"github.com/relayforge/agentctl/internal/sessionworker"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Reconciler owns the cron schedule driving the three §4.9 sweep jobs.
// Grounded on internal/cleanup.Cleaner's Start/Stop shape, with the fixed
// ticker swapped for robfig/cron/v3 so cadence is a configuration knob
// rather than a redeploy.
type Reconciler struct {
	cfg     Config
	queue   queue.Engine
	workers *sessionworker.Manager
	calls   *callback.Store

	cron    *cron.Cron
	entryID cron.EntryID
}

func New(cfg Config, queueEngine queue.Engine, workers *sessionworker.Manager, calls *callback.Store) (*Reconciler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "* * * * *"
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if _, err := cronParser.Parse(cfg.Schedule); err != nil {
		return nil, err
	}
	return &Reconciler{
		cfg:     cfg,
		queue:   queueEngine,
		workers: workers,
		calls:   calls,
		cron:    cron.New(cron.WithParser(cronParser)),
	}, nil
}

// Start schedules the sweep and begins running it in the background.
func (r *Reconciler) Start(ctx context.Context) error {
	id, err := r.cron.AddFunc(r.cfg.Schedule, func() { r.RunOnce(ctx) })
	if err != nil {
		return err
	}
	r.entryID = id
	r.cron.Start()
	logger.InfoContext(ctx, "reconciler: started", "schedule", r.cfg.Schedule)
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (r *Reconciler) Stop() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	logger.Println("reconciler: stopped")
}

// RunOnce runs all three jobs once, independently of the cron schedule.
// Exported so callers (tests, an admin-triggered sweep) can invoke a pass
// synchronously.
func (r *Reconciler) RunOnce(ctx context.Context) Report {
	now := r.cfg.Now()
	report := Report{
		StaleClaims: r.reconcileStaleClaims(ctx, now),
		StaleSync:   r.reconcileStaleSync(ctx, now),
	}
	if r.cfg.HumanLoopTimeoutEnabled {
		report.HumanLoop = r.reconcileHumanLoopTimeouts(ctx, now)
	}
	return report
}

// reconcileStaleClaims implements §4.9's stale-run-lease job.
func (r *Reconciler) reconcileStaleClaims(ctx context.Context, now time.Time) JobReport {
	var report JobReport

	items, err := r.queue.ListStaleClaimed(ctx, now, r.cfg.StaleClaimLimit)
	if err != nil {
		logger.ErrorContext(ctx, "reconciler: list stale claimed failed", "error", err)
		return report
	}
	report.Candidates = len(items)

	for _, item := range items {
		if _, err := r.queue.MarkRetryOrFailed(ctx, item.RunID, now, r.cfg.StaleClaimRetryDelayMs, "reconciler_stale_claim_timeout"); err != nil {
			logger.ErrorContext(ctx, "reconciler: mark retry/failed failed", "run_id", item.RunID, "error", err)
			report.Failed++
			continue
		}
		report.Succeeded++
	}
	return report
}

// reconcileStaleSync implements §4.9's stale-sync-worker job.
func (r *Reconciler) reconcileStaleSync(ctx context.Context, now time.Time) JobReport {
	var report JobReport
	if r.workers == nil {
		return report
	}

	cutoff := now.Add(-time.Duration(r.cfg.SyncStaleAfterMs) * time.Millisecond)
	stale := r.workers.ListStaleSync(cutoff, r.cfg.SyncLimit)
	report.Candidates = len(stale)

	for _, w := range stale {
		if r.workers.SyncSessionWorkspace(ctx, w.SessionID, "run.finished", now) {
			report.Succeeded++
			continue
		}
		report.Failed++
	}
	return report
}

// reconcileHumanLoopTimeouts implements §4.9's optional human-loop timeout
// job: expired pending requests are canceled and their run is failed as two
// independent writes, per the shared-resource policy's "no transactions"
// rule.
func (r *Reconciler) reconcileHumanLoopTimeouts(ctx context.Context, now time.Time) JobReport {
	var report JobReport

	cutoff := now.Add(-time.Duration(r.cfg.HumanLoopTimeoutMs) * time.Millisecond)
	expired := r.calls.ListPendingHumanLoopOlderThan(cutoff, r.cfg.HumanLoopLimit)
	report.Candidates = len(expired)

	for _, req := range expired {
		r.calls.CancelHumanLoop(req.QuestionID, now)
		r.calls.SetRunStatus(req.RunID, callback.RunStatusFailed, now)
		report.Succeeded++
	}
	return report
}
