// Package orchestrator implements the per-run lifecycle state machine: it
// selects a provider adapter, gates on declared capabilities, drains the
// adapter's chunk stream into normalized events, and publishes those events
// to the Stream Bus.
//
// The Orchestrator is the sole owner of RunContext for a given runId; the
// Run Queue Manager and HTTP layer only ever observe it through Snapshot.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relayforge/agentctl/internal/apierr"
	"github.com/relayforge/agentctl/internal/logger"
	"github.com/relayforge/agentctl/internal/provider"
	"github.com/relayforge/agentctl/internal/streambus"
)

// Status is the RunContext status enum from §3.
type Status string

const (
	StatusRunning      Status = "running"
	StatusWaitingHuman Status = "waiting_human"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
	StatusCanceled     Status = "canceled"
	StatusBlocked      Status = "blocked"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled, StatusBlocked:
		return true
	default:
		return false
	}
}

// StartInput is the run.start request body, normalized for the orchestrator.
type StartInput struct {
	RunID            string
	SessionID        string
	Provider         string
	Model            string
	Messages         []provider.Message
	ResumeSessionID  string
	ExecutionProfile string
	Tools            []string
	ProviderOptions  map[string]any
	RequireHumanLoop bool
}

// StartResult is returned from startRun.
type StartResult struct {
	Accepted bool
	Reason   string
	Warnings []string
}

// RunContext is the orchestrator-owned lifecycle record for a run.
type RunContext struct {
	RunID     string
	SessionID string
	Provider  string
	Status    Status
	Warnings  []string
	StartedAt time.Time
	EndedAt   time.Time
	Reason    string
	Streamed  bool
}

// Snapshot is a read-only copy of a RunContext safe to hand to callers.
type Snapshot struct {
	RunID     string    `json:"runId"`
	SessionID string    `json:"sessionId"`
	Provider  string    `json:"provider"`
	Status    Status    `json:"status"`
	Warnings  []string  `json:"warnings,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitzero"`
	Reason    string    `json:"reason,omitempty"`
}

// Event is the normalized, wire-shaped event published to the Stream Bus.
// Every emitted event carries RunID, Provider and Ts per §4.3.
type Event struct {
	Type     string    `json:"type"`
	RunID    string    `json:"runId"`
	Provider string    `json:"provider"`
	Ts       time.Time `json:"ts"`

	Text    string `json:"text,omitempty"`
	Warning string `json:"warning,omitempty"`
	Detail  string `json:"detail,omitempty"`

	TodoID      string `json:"todoId,omitempty"`
	TodoContent string `json:"content,omitempty"`
	TodoStatus  string `json:"status,omitempty"`
	TodoOrder   int    `json:"order,omitempty"`
}

const (
	EventRunStatus    = "run.status"
	EventRunWarning   = "run.warning"
	EventMessageDelta = "message.delta"
	EventTodoUpdate   = "todo.update"
)

type runEntry struct {
	mu      sync.Mutex
	ctx     *RunContext
	handle  provider.Handle
	started bool // streamRun already invoked
}

// Orchestrator coordinates provider adapters, per-run state, and the Stream
// Bus. It is safe for concurrent use.
type Orchestrator struct {
	registry *provider.Registry
	bus      *streambus.Bus

	mu   sync.RWMutex
	runs map[string]*runEntry
}

func New(registry *provider.Registry, bus *streambus.Bus) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		bus:      bus,
		runs:     make(map[string]*runEntry),
	}
}

// StartRun selects the adapter for input.Provider, applies capability
// gating, and, if accepted, invokes the adapter and records the
// RunContext as running.
func (o *Orchestrator) StartRun(ctx context.Context, input StartInput) (StartResult, error) {
	adapter, ok := o.registry.Get(input.Provider)
	if !ok {
		return StartResult{}, apierr.Validation(fmt.Sprintf("unknown provider %q", input.Provider))
	}
	capabilities := adapter.Capabilities()

	var warnings []string

	if input.RequireHumanLoop && !capabilities.HumanLoop {
		reason := fmt.Sprintf("provider %q does not support human-loop", input.Provider)
		entry := &runEntry{ctx: &RunContext{
			RunID:     input.RunID,
			SessionID: input.SessionID,
			Provider:  input.Provider,
			Status:    StatusBlocked,
			Reason:    reason,
			StartedAt: time.Now().UTC(),
			EndedAt:   time.Now().UTC(),
		}}
		o.mu.Lock()
		o.runs[input.RunID] = entry
		o.mu.Unlock()
		return StartResult{Accepted: false, Reason: reason}, nil
	}

	resumeSessionID := input.ResumeSessionID
	if resumeSessionID != "" && !capabilities.Resume {
		warnings = append(warnings, "provider does not support resume; falling back to new session")
		resumeSessionID = ""
	}

	h, err := adapter.Run(ctx, provider.RunInput{
		RunID:            input.RunID,
		Provider:         input.Provider,
		Model:            input.Model,
		Messages:         input.Messages,
		ResumeSessionID:  resumeSessionID,
		ExecutionProfile: input.ExecutionProfile,
		Tools:            input.Tools,
		ProviderOptions:  input.ProviderOptions,
	})
	if err != nil {
		return StartResult{}, apierr.ProviderFailure(err.Error())
	}

	entry := &runEntry{
		ctx: &RunContext{
			RunID:     input.RunID,
			SessionID: input.SessionID,
			Provider:  input.Provider,
			Status:    StatusRunning,
			Warnings:  warnings,
			StartedAt: time.Now().UTC(),
		},
		handle: h,
	}

	o.mu.Lock()
	o.runs[input.RunID] = entry
	o.mu.Unlock()

	return StartResult{Accepted: true, Warnings: warnings}, nil
}

// StreamRun drains the run's provider handle, publishing normalized events
// to the Stream Bus, until a terminal chunk arrives or the stream closes.
// It is single-consumer: a second call for the same runId fails.
func (o *Orchestrator) StreamRun(ctx context.Context, runID string) error {
	entry, ok := o.lookup(runID)
	if !ok {
		return apierr.NotFound(fmt.Sprintf("run %q not found", runID))
	}

	entry.mu.Lock()
	if entry.started {
		entry.mu.Unlock()
		return apierr.Conflict("run stream already consumed")
	}
	entry.started = true
	entry.ctx.Streamed = true
	rc := entry.ctx
	handle := entry.handle
	provName := rc.Provider
	warnings := append([]string(nil), rc.Warnings...)
	entry.mu.Unlock()

	o.publish(runID, Event{Type: EventRunStatus, RunID: runID, Provider: provName, Ts: time.Now().UTC(), Detail: "started"})
	for _, w := range warnings {
		o.publish(runID, Event{Type: EventRunWarning, RunID: runID, Provider: provName, Ts: time.Now().UTC(), Warning: w})
	}

	if handle == nil {
		return apierr.Internal(errors.New("streamRun called with no provider handle"))
	}

	for {
		select {
		case <-ctx.Done():
			o.finish(entry, StatusCanceled, "context canceled")
			o.publish(runID, Event{Type: EventRunStatus, RunID: runID, Provider: provName, Ts: time.Now().UTC(), Detail: "canceled: context canceled"})
			return ctx.Err()
		case chunk, ok := <-handle.Stream():
			if !ok {
				entry.mu.Lock()
				status := entry.ctx.Status
				entry.mu.Unlock()
				if !status.Terminal() {
					reason := "provider stream closed without terminal event"
					o.finish(entry, StatusFailed, reason)
					o.publish(runID, Event{Type: EventRunStatus, RunID: runID, Provider: provName, Ts: time.Now().UTC(), Detail: "failed: " + reason})
					return apierr.ProviderFailure(reason)
				}
				// StopRun already set the terminal status and the provider
				// closed without a run.finished chunk: publish that outcome.
				o.publish(runID, Event{Type: EventRunStatus, RunID: runID, Provider: provName, Ts: time.Now().UTC(), Detail: string(status)})
				return nil
			}
			if err := o.applyChunk(entry, runID, provName, chunk); err != nil {
				return err
			}
			if chunk.Type == provider.ChunkRunFinished {
				return nil
			}
		}
	}
}

func (o *Orchestrator) applyChunk(entry *runEntry, runID, provName string, chunk provider.Chunk) error {
	switch chunk.Type {
	case provider.ChunkMessageDelta:
		o.publish(runID, Event{Type: EventMessageDelta, RunID: runID, Provider: provName, Ts: time.Now().UTC(), Text: chunk.Text})
	case provider.ChunkTodoUpdate:
		o.publish(runID, Event{
			Type: EventTodoUpdate, RunID: runID, Provider: provName, Ts: time.Now().UTC(),
			TodoID: chunk.TodoID, TodoContent: chunk.TodoContent, TodoStatus: chunk.TodoStatus, TodoOrder: chunk.TodoOrder,
		})
	case provider.ChunkRunFinished:
		status := mapTerminal(chunk.Status)
		o.finish(entry, status, chunk.Reason)
		detail := string(status)
		if chunk.Reason != "" {
			detail = fmt.Sprintf("%s: %s", status, chunk.Reason)
		}
		o.publish(runID, Event{Type: EventRunStatus, RunID: runID, Provider: provName, Ts: time.Now().UTC(), Detail: detail})
	}
	return nil
}

func mapTerminal(s provider.TerminalStatus) Status {
	switch s {
	case provider.TerminalSucceeded:
		return StatusSucceeded
	case provider.TerminalCanceled:
		return StatusCanceled
	default:
		return StatusFailed
	}
}

func (o *Orchestrator) finish(entry *runEntry, status Status, reason string) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.ctx.Status.Terminal() {
		return
	}
	entry.ctx.Status = status
	entry.ctx.Reason = reason
	entry.ctx.EndedAt = time.Now().UTC()
}

// StopRun cancels the provider handle and flips the run to canceled if it
// is currently running. Returns false if there is nothing to stop.
func (o *Orchestrator) StopRun(ctx context.Context, runID string) bool {
	entry, ok := o.lookup(runID)
	if !ok {
		return false
	}

	entry.mu.Lock()
	if entry.ctx.Status != StatusRunning || entry.handle == nil {
		entry.mu.Unlock()
		return false
	}
	handle := entry.handle
	entry.mu.Unlock()

	if err := handle.Stop(ctx); err != nil {
		logger.ErrorContext(ctx, "orchestrator: stop failed", "run_id", runID, "error", err)
	}

	o.finish(entry, StatusCanceled, "")
	return true
}

// ReplyHumanLoop forwards an answer to the provider if the run is running
// (or waiting on a human) and the provider declares human-loop support.
func (o *Orchestrator) ReplyHumanLoop(ctx context.Context, runID, questionID, answer string) error {
	entry, ok := o.lookup(runID)
	if !ok {
		return apierr.NotFound(fmt.Sprintf("run %q not found", runID))
	}

	entry.mu.Lock()
	status := entry.ctx.Status
	handle := entry.handle
	provName := entry.ctx.Provider
	entry.mu.Unlock()

	if status != StatusRunning && status != StatusWaitingHuman {
		return apierr.Conflict("run is not accepting human-loop replies")
	}

	if adapter, ok := o.registry.Get(provName); !ok || !adapter.Capabilities().HumanLoop {
		return apierr.Validation("provider does not support human-loop replies")
	}
	replier, ok := handle.(provider.ReplyCapable)
	if !ok {
		return apierr.Validation("provider does not support human-loop replies")
	}
	return replier.Reply(ctx, questionID, answer)
}

// MarkWaitingHuman flips status to waiting_human; used by the callback
// handler on human_loop.requested.
func (o *Orchestrator) MarkWaitingHuman(runID string) {
	entry, ok := o.lookup(runID)
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.ctx.Status.Terminal() {
		entry.ctx.Status = StatusWaitingHuman
	}
}

// MarkRunning flips status back to running; used by the callback handler on
// human_loop.resolved.
func (o *Orchestrator) MarkRunning(runID string) {
	entry, ok := o.lookup(runID)
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.ctx.Status.Terminal() {
		entry.ctx.Status = StatusRunning
	}
}

// BindSession attaches sessionID to an existing run, for callers that
// enqueue a run before its session worker is activated and only learn the
// sessionId afterward. Returns false if runId is unknown.
func (o *Orchestrator) BindSession(runID, sessionID string) bool {
	entry, ok := o.lookup(runID)
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.ctx.SessionID = sessionID
	return true
}

// Snapshot returns a read-only copy of the run's current state.
func (o *Orchestrator) Snapshot(runID string) (Snapshot, bool) {
	entry, ok := o.lookup(runID)
	if !ok {
		return Snapshot{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	rc := entry.ctx
	return Snapshot{
		RunID:     rc.RunID,
		SessionID: rc.SessionID,
		Provider:  rc.Provider,
		Status:    rc.Status,
		Warnings:  append([]string(nil), rc.Warnings...),
		StartedAt: rc.StartedAt,
		EndedAt:   rc.EndedAt,
		Reason:    rc.Reason,
	}, true
}

func (o *Orchestrator) lookup(runID string) (*runEntry, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	entry, ok := o.runs[runID]
	return entry, ok
}

func (o *Orchestrator) publish(streamID string, event Event) {
	o.bus.Publish(streamID, event)
}

// Forget drops in-memory run + stream state for runID. Called once a
// terminal snapshot has been durably recorded elsewhere.
func (o *Orchestrator) Forget(runID string) {
	o.mu.Lock()
	delete(o.runs, runID)
	o.mu.Unlock()
	o.bus.Forget(runID)
}
