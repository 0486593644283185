package callback

import (
	"context"
	"fmt"

	"github.com/relayforge/agentctl/internal/apierr"
	"github.com/relayforge/agentctl/internal/logger"
)

// WorkspaceSyncFunc is invoked on message.stop to push the session
// workspace to the object store. It is injected rather than called
// directly so the Handler stays testable without a container runtime or
// network, mirroring the schedule package's ExecutionFunc seam.
type WorkspaceSyncFunc func(ctx context.Context, sessionID, reason string, occurredAt int64, runID string) error

// Handler dispatches callback events per §4.6's table and owns the
// idempotency guard that makes ingestion exactly-once per eventId.
type Handler struct {
	Store *Store
	Sync  WorkspaceSyncFunc
}

func NewHandler(store *Store, sync WorkspaceSyncFunc) *Handler {
	return &Handler{Store: store, Sync: sync}
}

// Handle applies ev atomically and returns the action taken. It never
// returns an error for a duplicate event; duplicates short-circuit with
// Result{Duplicate:true, Action:"duplicate_ignored"}.
func (h *Handler) Handle(ctx context.Context, ev Event) (Result, error) {
	if ev.EventID == "" {
		return Result{}, apierr.Validation("eventId is required")
	}
	if ev.RunID == "" {
		return Result{}, apierr.Validation("runId is required")
	}

	if !h.Store.RecordEventIfNew(ev.EventID) {
		logger.InfoContext(ctx, "callback: duplicate event ignored", "event_id", ev.EventID, "run_id", ev.RunID, "type", ev.Type)
		return Result{Processed: false, Duplicate: true, Action: "duplicate_ignored"}, nil
	}

	switch ev.Type {
	case EventMessageStop:
		return h.handleMessageStop(ctx, ev)
	case EventTodoUpdate:
		return h.handleTodoUpdate(ev)
	case EventHumanLoopAsk:
		return h.handleHumanLoopRequested(ev)
	case EventHumanLoopResolve:
		return h.handleHumanLoopResolved(ev)
	case EventRunFinished:
		return h.handleRunFinished(ev)
	default:
		return Result{}, apierr.Validation(fmt.Sprintf("unknown callback event type %q", ev.Type))
	}
}

func (h *Handler) handleMessageStop(ctx context.Context, ev Event) (Result, error) {
	if !h.Store.HasRun(ev.RunID) {
		return Result{Processed: true, Action: "missing_run"}, nil
	}
	if h.Sync != nil {
		if err := h.Sync(ctx, ev.SessionID, "message.stop", ev.OccurredAt.Unix(), ev.RunID); err != nil {
			logger.ErrorContext(ctx, "callback: workspace sync failed", "run_id", ev.RunID, "error", err)
			return Result{}, apierr.Internal(err)
		}
	}
	return Result{Processed: true, Action: "message_stop_synced"}, nil
}

func (h *Handler) handleTodoUpdate(ev Event) (Result, error) {
	h.Store.UpsertTodo(TodoItem{
		RunID:     ev.RunID,
		TodoID:    ev.TodoID,
		Content:   ev.TodoContent,
		Status:    ev.TodoStatus,
		Order:     ev.TodoOrder,
		UpdatedAt: ev.OccurredAt,
	}, ev.EventID)
	return Result{Processed: true, Action: "todo_upserted"}, nil
}

func (h *Handler) handleHumanLoopRequested(ev Event) (Result, error) {
	if !h.Store.HasRun(ev.RunID) {
		return Result{Processed: true, Action: "missing_run"}, nil
	}
	h.Store.UpsertHumanLoop(HumanLoopRequest{
		QuestionID:  ev.QuestionID,
		RunID:       ev.RunID,
		SessionID:   ev.SessionID,
		Prompt:      ev.Prompt,
		Metadata:    ev.Metadata,
		Status:      HumanLoopPending,
		RequestedAt: ev.OccurredAt,
	})
	h.Store.SetRunStatus(ev.RunID, RunStatusWaitingHuman, ev.OccurredAt)
	return Result{Processed: true, Action: "human_loop_requested"}, nil
}

func (h *Handler) handleHumanLoopResolved(ev Event) (Result, error) {
	h.Store.ResolveHumanLoop(ev.RunID, ev.QuestionID, ev.OccurredAt)
	h.Store.SetRunStatus(ev.RunID, RunStatusRunning, ev.OccurredAt)
	return Result{Processed: true, Action: "human_loop_resolved"}, nil
}

func (h *Handler) handleRunFinished(ev Event) (Result, error) {
	status := ev.FinishedStatus
	if status == "" {
		status = RunStatusSucceeded
	}
	h.Store.SetRunStatus(ev.RunID, status, ev.OccurredAt)
	if ev.Usage != nil {
		h.Store.FinalizeUsage(ev.RunID, ev.Usage)
	}
	return Result{Processed: true, Action: "run_finished"}, nil
}
