// Package callback implements exactly-once ingestion of executor-emitted
// callbacks: status, todo, usage, and human-loop transitions, applied
// atomically per eventId.
package callback

import "time"

// EventType discriminates the callback payload variants from §3/§4.6.
type EventType string

const (
	EventMessageStop      EventType = "message.stop"
	EventTodoUpdate       EventType = "todo.update"
	EventHumanLoopAsk     EventType = "human_loop.requested"
	EventHumanLoopResolve EventType = "human_loop.resolved"
	EventRunFinished      EventType = "run.finished"
)

// TodoStatus is the TodoItem status enum.
type TodoStatus string

const (
	TodoStatusTodo     TodoStatus = "todo"
	TodoStatusDoing    TodoStatus = "doing"
	TodoStatusDone     TodoStatus = "done"
	TodoStatusCanceled TodoStatus = "canceled"
)

// HumanLoopStatus is the HumanLoopRequest status enum.
type HumanLoopStatus string

const (
	HumanLoopPending  HumanLoopStatus = "pending"
	HumanLoopResolved HumanLoopStatus = "resolved"
	HumanLoopCanceled HumanLoopStatus = "canceled"
)

// RunStatus mirrors orchestrator.Status for the persisted RunState record;
// kept as its own type so this package does not import orchestrator just
// for an enum (the Callback Handler never calls back into the Orchestrator,
// per the spec's "no cycles" design note).
type RunStatus string

const (
	RunStatusRunning      RunStatus = "running"
	RunStatusWaitingHuman RunStatus = "waiting_human"
	RunStatusSucceeded    RunStatus = "succeeded"
	RunStatusFailed       RunStatus = "failed"
	RunStatusCanceled     RunStatus = "canceled"
	RunStatusBlocked      RunStatus = "blocked"
)

// Event is the inbound callback payload.
type Event struct {
	EventID    string         `json:"eventId"`
	RunID      string         `json:"runId"`
	Type       EventType      `json:"type"`
	OccurredAt time.Time      `json:"occurredAt"`

	// todo.update
	TodoID      string     `json:"todoId,omitempty"`
	TodoContent string     `json:"content,omitempty"`
	TodoStatus  TodoStatus `json:"status,omitempty"`
	TodoOrder   int        `json:"order,omitempty"`

	// human_loop.requested
	SessionID  string         `json:"sessionId,omitempty"`
	QuestionID string         `json:"questionId,omitempty"`
	Prompt     string         `json:"prompt,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// run.finished
	FinishedStatus RunStatus `json:"finishedStatus,omitempty"`
	Usage          *Usage    `json:"usage,omitempty"`
}

// Usage mirrors provider.Usage for persistence without importing provider.
type Usage struct {
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd,omitempty"`
}

// TodoItem is the upserted current-state record for (runId, todoId).
type TodoItem struct {
	RunID     string
	TodoID    string
	Content   string
	Status    TodoStatus
	Order     int
	UpdatedAt time.Time
}

// HumanLoopRequest tracks a pending-or-resolved human-loop question.
type HumanLoopRequest struct {
	QuestionID  string
	RunID       string
	SessionID   string
	Prompt      string
	Metadata    map[string]any
	Status      HumanLoopStatus
	RequestedAt time.Time
	ResolvedAt  time.Time
}

// RunState is the callback-owned view of a run's terminal outcome and
// finalized usage, independent of the Orchestrator's in-memory RunContext.
type RunState struct {
	RunID       string
	Status      RunStatus
	Usage       *Usage
	FinalizedAt time.Time
}

// Result is returned from Handle per §4.6/§6.
type Result struct {
	Processed bool   `json:"processed"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Action    string `json:"action"`
}
