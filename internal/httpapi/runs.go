package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/relayforge/agentctl/internal/apierr"
	"github.com/relayforge/agentctl/internal/logger"
	"github.com/relayforge/agentctl/internal/orchestrator"
	"github.com/relayforge/agentctl/internal/provider"
	"github.com/relayforge/agentctl/internal/streambus"
)

// messageJSON is the wire shape of one run.start seed message.
type messageJSON struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type startRequest struct {
	RunID            string         `json:"runId,omitempty"`
	SessionID        string         `json:"sessionId,omitempty"`
	Provider         string         `json:"provider"`
	Model            string         `json:"model"`
	Messages         []messageJSON  `json:"messages"`
	ResumeSessionID  string         `json:"resumeSessionId,omitempty"`
	ExecutionProfile string         `json:"executionProfile,omitempty"`
	Tools            []string       `json:"tools,omitempty"`
	ProviderOptions  map[string]any `json:"providerOptions,omitempty"`
	RequireHumanLoop bool           `json:"requireHumanLoop,omitempty"`
}

// handleRunStart implements POST /api/runs/start: direct (non-queued) run
// start. If the client's Accept header asks for SSE, the response streams
// events live; otherwise it blocks until the run reaches a terminal state
// and returns the full event log plus the final snapshot.
func (s *Server) handleRunStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if req.Provider == "" || req.Model == "" || len(req.Messages) == 0 {
		apierr.WriteError(w, apierr.Validation("provider, model and messages are required"))
		return
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	messages := make([]provider.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, provider.Message{Role: provider.Role(m.Role), Content: m.Content})
	}

	result, err := s.Orchestrator.StartRun(r.Context(), orchestrator.StartInput{
		RunID:            req.RunID,
		SessionID:        req.SessionID,
		Provider:         req.Provider,
		Model:            req.Model,
		Messages:         messages,
		ResumeSessionID:  req.ResumeSessionID,
		ExecutionProfile: req.ExecutionProfile,
		Tools:            req.Tools,
		ProviderOptions:  req.ProviderOptions,
		RequireHumanLoop: req.RequireHumanLoop,
	})
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if !result.Accepted {
		writeJSON(w, http.StatusConflict, map[string]any{
			"runId":    req.RunID,
			"accepted": false,
			"reason":   result.Reason,
		})
		return
	}
	if s.CallbackStore != nil {
		s.CallbackStore.SeedRun(req.RunID)
	}

	if acceptsEventStream(r) {
		go s.streamRunToCompletion(req.RunID)
		streamSSE(w, r, s.Bus, req.RunID, 0)
		return
	}

	var mu sync.Mutex
	var events []orchestrator.Event
	unsubscribe := s.Bus.Subscribe(req.RunID, 0, func(e streambus.Entry) {
		if oe, ok := e.Event.(orchestrator.Event); ok {
			mu.Lock()
			events = append(events, oe)
			mu.Unlock()
		}
	}, nil)

	_ = s.Orchestrator.StreamRun(r.Context(), req.RunID)
	unsubscribe()
	s.Bus.Close(req.RunID)

	snap, _ := s.Orchestrator.Snapshot(req.RunID)
	mu.Lock()
	evs := events
	mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"runId":    req.RunID,
		"accepted": true,
		"warnings": result.Warnings,
		"events":   evs,
		"snapshot": snap,
	})
}

// streamRunToCompletion drives a run started via the SSE branch of
// handleRunStart, independent of the request's own context so a client
// disconnect does not abort the provider run underneath it.
func (s *Server) streamRunToCompletion(runID string) {
	ctx := context.Background()
	if err := s.Orchestrator.StreamRun(ctx, runID); err != nil {
		logger.ErrorContext(ctx, "httpapi: streamRun failed", "run_id", runID, "error", err)
	}
	s.Bus.Close(runID)
}

func (s *Server) handleRunStop(w http.ResponseWriter, r *http.Request) {
	runID, err := requireRunID(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if _, ok := s.Orchestrator.Snapshot(runID); !ok {
		apierr.WriteError(w, apierr.NotFound(fmt.Sprintf("run %q not found", runID)))
		return
	}
	s.Orchestrator.StopRun(r.Context(), runID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRunSnapshot(w http.ResponseWriter, r *http.Request) {
	runID, err := requireRunID(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	snap, ok := s.Orchestrator.Snapshot(runID)
	if !ok {
		apierr.WriteError(w, apierr.NotFound(fmt.Sprintf("run %q not found", runID)))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	runID, err := requireRunID(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if _, ok := s.Orchestrator.Snapshot(runID); !ok {
		apierr.WriteError(w, apierr.NotFound(fmt.Sprintf("run %q not found", runID)))
		return
	}
	streamSSE(w, r, s.Bus, runID, parseCursor(r))
}

type bindRequest struct {
	SessionID string `json:"sessionId"`
}

// handleRunBind implements POST /api/runs/:runId/bind: associates a run
// enqueued before its session worker existed with the sessionId assigned
// once one is activated.
func (s *Server) handleRunBind(w http.ResponseWriter, r *http.Request) {
	runID, err := requireRunID(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	var req bindRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if req.SessionID == "" {
		apierr.WriteError(w, apierr.Validation("sessionId is required"))
		return
	}
	if !s.Orchestrator.BindSession(runID, req.SessionID) {
		apierr.WriteError(w, apierr.NotFound(fmt.Sprintf("run %q not found", runID)))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
