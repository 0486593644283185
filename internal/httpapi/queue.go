package httpapi

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/relayforge/agentctl/internal/apierr"
	"github.com/relayforge/agentctl/internal/queuemanager"
)

const (
	defaultDrainLimit   = 10
	maxDrainLimit       = 100
	maxDrainLockMs      = 120000
	maxDrainRetryDelay  = 300000
	defaultDrainLockMs  = 60000
	defaultDrainRetryMs = 5000
	defaultMaxAttempts  = 1
)

type enqueueRequest struct {
	RunID            string         `json:"runId,omitempty"`
	SessionID        string         `json:"sessionId"`
	Provider         string         `json:"provider"`
	Model            string         `json:"model"`
	Messages         []messageJSON  `json:"messages"`
	ResumeSessionID  string         `json:"resumeSessionId,omitempty"`
	ExecutionProfile string         `json:"executionProfile,omitempty"`
	Tools            []string       `json:"tools,omitempty"`
	ProviderOptions  map[string]any `json:"providerOptions,omitempty"`
	RequireHumanLoop bool           `json:"requireHumanLoop,omitempty"`
	MaxAttempts      int            `json:"maxAttempts,omitempty"`
}

// handleQueueEnqueue implements POST /api/runs/queue/enqueue.
func (s *Server) handleQueueEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if req.SessionID == "" || req.Provider == "" || req.Model == "" || len(req.Messages) == 0 {
		apierr.WriteError(w, apierr.Validation("sessionId, provider, model and messages are required"))
		return
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	messages := make([]queuemanager.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, queuemanager.Message{Role: m.Role, Content: m.Content})
	}
	payload, err := queuemanager.Payload{
		Provider:         req.Provider,
		Model:            req.Model,
		Messages:         messages,
		ResumeSessionID:  req.ResumeSessionID,
		ExecutionProfile: req.ExecutionProfile,
		Tools:            req.Tools,
		ProviderOptions:  req.ProviderOptions,
		RequireHumanLoop: req.RequireHumanLoop,
	}.Marshal()
	if err != nil {
		apierr.WriteError(w, apierr.Internal(err))
		return
	}

	result, err := s.Queue.Enqueue(r.Context(), req.RunID, req.SessionID, req.Provider, maxAttempts, payload, s.Now())
	if err != nil {
		apierr.WriteError(w, apierr.Internal(err))
		return
	}
	status := http.StatusAccepted
	if !result.Accepted {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"accepted": result.Accepted, "runId": result.RunID})
}

type drainRequest struct {
	Owner        string `json:"owner,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	LockMs       int64  `json:"lockMs,omitempty"`
	RetryDelayMs int64  `json:"retryDelayMs,omitempty"`
}

// handleQueueDrain implements POST /api/runs/queue/drain.
func (s *Server) handleQueueDrain(w http.ResponseWriter, r *http.Request) {
	var req drainRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			apierr.WriteError(w, err)
			return
		}
	}

	opts := queuemanager.DrainOptions{
		Owner:        req.Owner,
		Limit:        req.Limit,
		LockMs:       req.LockMs,
		RetryDelayMs: req.RetryDelayMs,
	}
	if opts.Owner == "" {
		opts.Owner = "controlplaned"
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultDrainLimit
	}
	if opts.Limit > maxDrainLimit {
		opts.Limit = maxDrainLimit
	}
	if opts.LockMs <= 0 {
		opts.LockMs = defaultDrainLockMs
	}
	if opts.LockMs > maxDrainLockMs {
		opts.LockMs = maxDrainLockMs
	}
	if opts.RetryDelayMs <= 0 {
		opts.RetryDelayMs = defaultDrainRetryMs
	}
	if opts.RetryDelayMs > maxDrainRetryDelay {
		opts.RetryDelayMs = maxDrainRetryDelay
	}

	result, err := s.QueueManager.DrainOnce(r.Context(), opts)
	if err != nil {
		apierr.WriteError(w, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleQueueFind implements GET /api/runs/queue/:runId.
func (s *Server) handleQueueFind(w http.ResponseWriter, r *http.Request) {
	runID, err := requireRunID(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	item, ok, err := s.Queue.FindByRunID(r.Context(), runID)
	if err != nil {
		apierr.WriteError(w, apierr.Internal(err))
		return
	}
	if !ok {
		apierr.WriteError(w, apierr.NotFound(fmt.Sprintf("queue item %q not found", runID)))
		return
	}
	writeJSON(w, http.StatusOK, item)
}
