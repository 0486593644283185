// Package queuemanager drives queued runs to completion: claim a batch from
// the Run Queue Engine, hand each off to the Run Orchestrator, and map its
// terminal RunContext status back to a queue outcome.
package queuemanager

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relayforge/agentctl/internal/callback"
	"github.com/relayforge/agentctl/internal/logger"
	"github.com/relayforge/agentctl/internal/orchestrator"
	"github.com/relayforge/agentctl/internal/provider"
	"github.com/relayforge/agentctl/internal/queue"
	"github.com/relayforge/agentctl/internal/streambus"
)

// Payload is the JSON shape stored on RunQueueItem.Payload by enqueue, and
// decoded back into a StartInput by drainOnce.
type Payload struct {
	Provider         string         `json:"provider"`
	Model            string         `json:"model"`
	Messages         []Message      `json:"messages"`
	ResumeSessionID  string         `json:"resumeSessionId,omitempty"`
	ExecutionProfile string         `json:"executionProfile,omitempty"`
	Tools            []string       `json:"tools,omitempty"`
	ProviderOptions  map[string]any `json:"providerOptions,omitempty"`
	RequireHumanLoop bool           `json:"requireHumanLoop,omitempty"`
}

// Message mirrors provider.Message for the wire/storage representation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Marshal encodes a Payload for storage on RunQueueItem.Payload.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// DrainOptions configures one drainOnce pass.
type DrainOptions struct {
	Owner        string
	Limit        int
	LockMs       int64
	RetryDelayMs int64
}

// DrainResult is the §4.5 outcome counter set.
type DrainResult struct {
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Canceled  int `json:"canceled"`
}

// Manager wires a queue.Engine to an orchestrator.Orchestrator. CallbackStore
// is optional; when set, DrainOnce seeds a RunState for every run it hands
// to the Orchestrator so the Callback Handler does not report missing_run
// for callbacks that race ahead of the run's terminal event.
type Manager struct {
	Queue         queue.Engine
	Orchestrator  *orchestrator.Orchestrator
	CallbackStore *callback.Store
	Bus           *streambus.Bus
	Now           func() time.Time
}

func New(q queue.Engine, o *orchestrator.Orchestrator) *Manager {
	return &Manager{Queue: q, Orchestrator: o, Now: func() time.Time { return time.Now().UTC() }}
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeRetried
	outcomeFailed
	outcomeCanceled
)

// DrainOnce loops up to opts.Limit claims, processing each to completion.
// Intended to run single-threaded per owner; concurrent drain passes should
// use distinct owners, matching the queue's lease-per-owner model.
func (m *Manager) DrainOnce(ctx context.Context, opts DrainOptions) (DrainResult, error) {
	var result DrainResult

	for i := 0; i < opts.Limit; i++ {
		item, err := m.Queue.ClaimNext(ctx, opts.Owner, m.Now(), opts.LockMs)
		if err != nil {
			return result, fmt.Errorf("queuemanager: claimNext: %w", err)
		}
		if item == nil {
			break
		}
		result.Claimed++

		switch m.processClaimed(ctx, item, opts) {
		case outcomeSucceeded:
			result.Succeeded++
		case outcomeRetried:
			result.Retried++
		case outcomeFailed:
			result.Failed++
		case outcomeCanceled:
			result.Canceled++
		}
	}

	return result, nil
}

func (m *Manager) processClaimed(ctx context.Context, item *queue.Item, opts DrainOptions) outcome {
	var payload Payload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return m.markRetryOrFailed(ctx, item, opts, fmt.Sprintf("invalid queue payload: %v", err))
	}

	start, err := m.Orchestrator.StartRun(ctx, toStartInput(item.RunID, item.SessionID, payload))
	if err != nil {
		return m.markRetryOrFailed(ctx, item, opts, err.Error())
	}
	if !start.Accepted {
		m.markCanceled(ctx, item, start.Reason)
		return outcomeCanceled
	}
	if m.CallbackStore != nil {
		m.CallbackStore.SeedRun(item.RunID)
	}

	streamErr := m.Orchestrator.StreamRun(ctx, item.RunID)

	snap, ok := m.Orchestrator.Snapshot(item.RunID)
	if !ok {
		return m.markRetryOrFailed(ctx, item, opts, "run context vanished after streamRun")
	}

	switch snap.Status {
	case orchestrator.StatusSucceeded:
		if err := m.Queue.MarkSucceeded(ctx, item.RunID, m.Now()); err != nil {
			logger.ErrorContext(ctx, "queuemanager: markSucceeded failed", "run_id", item.RunID, "error", err)
		}
		m.closeStream(item.RunID)
		return outcomeSucceeded
	case orchestrator.StatusCanceled, orchestrator.StatusBlocked:
		m.markCanceled(ctx, item, snap.Reason)
		return outcomeCanceled
	default:
		errMsg := snap.Reason
		if errMsg == "" && streamErr != nil {
			errMsg = streamErr.Error()
		}
		if errMsg == "" {
			errMsg = fmt.Sprintf("run ended in unexpected status %q", snap.Status)
		}
		return m.markRetryOrFailed(ctx, item, opts, errMsg)
	}
}

func (m *Manager) markRetryOrFailed(ctx context.Context, item *queue.Item, opts DrainOptions, errMsg string) outcome {
	result, err := m.Queue.MarkRetryOrFailed(ctx, item.RunID, m.Now(), opts.RetryDelayMs, errMsg)
	if err != nil {
		logger.ErrorContext(ctx, "queuemanager: markRetryOrFailed failed", "run_id", item.RunID, "error", err)
		return outcomeFailed
	}
	if result.Status == queue.StatusFailed {
		m.closeStream(item.RunID)
		return outcomeFailed
	}
	// Queued for retry: the stream stays open, a future attempt publishes
	// to the same streamId and must not find it already closed.
	return outcomeRetried
}

func (m *Manager) markCanceled(ctx context.Context, item *queue.Item, reason string) {
	if err := m.Queue.MarkCanceled(ctx, item.RunID, m.Now(), reason); err != nil {
		logger.ErrorContext(ctx, "queuemanager: markCanceled failed", "run_id", item.RunID, "error", err)
	}
	m.closeStream(item.RunID)
}

// closeStream marks the run's Stream Bus stream terminal once its queue
// outcome is final, so a late GET .../stream subscriber immediately
// receives run.closed instead of hanging. A nil Bus is valid: callers that
// never wire one (e.g. a drain pass exercised without SSE consumers) skip
// this entirely.
func (m *Manager) closeStream(runID string) {
	if m.Bus != nil {
		m.Bus.Close(runID)
	}
}

func toStartInput(runID, sessionID string, p Payload) orchestrator.StartInput {
	messages := make([]provider.Message, 0, len(p.Messages))
	for _, msg := range p.Messages {
		messages = append(messages, provider.Message{Role: provider.Role(msg.Role), Content: msg.Content})
	}

	return orchestrator.StartInput{
		RunID:            runID,
		SessionID:        sessionID,
		Provider:         p.Provider,
		Model:            p.Model,
		Messages:         messages,
		ResumeSessionID:  p.ResumeSessionID,
		ExecutionProfile: p.ExecutionProfile,
		Tools:            p.Tools,
		ProviderOptions:  p.ProviderOptions,
		RequireHumanLoop: p.RequireHumanLoop,
	}
}
