package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/relayforge/agentctl/internal/apierr"
	"github.com/relayforge/agentctl/internal/restoreplan"
	"github.com/relayforge/agentctl/internal/sessionworker"
)

type activateRequest struct {
	AppID          string               `json:"appId"`
	ProjectName    string               `json:"projectName,omitempty"`
	UserLoginName  string               `json:"userLoginName"`
	RuntimeVersion string               `json:"runtimeVersion,omitempty"`
	Manifest       *restoreplan.Manifest `json:"manifest,omitempty"`
}

// handleWorkerActivate implements POST /api/session-workers/:sessionId/activate.
func (s *Server) handleWorkerActivate(w http.ResponseWriter, r *http.Request) {
	sessionID, err := requireSessionID(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	var req activateRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if req.AppID == "" || req.UserLoginName == "" {
		apierr.WriteError(w, apierr.Validation("appId and userLoginName are required"))
		return
	}

	result, err := s.Workers.ActivateSession(r.Context(), sessionworker.ActivateInput{
		AppID:          req.AppID,
		ProjectName:    req.ProjectName,
		UserLoginName:  req.UserLoginName,
		SessionID:      sessionID,
		RuntimeVersion: req.RuntimeVersion,
		Manifest:       req.Manifest,
	})
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type syncRequest struct {
	Reason string `json:"reason,omitempty"`
	RunID  string `json:"runId,omitempty"`
}

// handleWorkerSync implements POST /api/session-workers/:sessionId/sync.
func (s *Server) handleWorkerSync(w http.ResponseWriter, r *http.Request) {
	sessionID, err := requireSessionID(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	var req syncRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			apierr.WriteError(w, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	ok := s.Workers.SyncSessionWorkspace(r.Context(), sessionID, req.Reason, s.Now())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}

// handleWorkerGet implements GET /api/session-workers/:sessionId.
func (s *Server) handleWorkerGet(w http.ResponseWriter, r *http.Request) {
	sessionID, err := requireSessionID(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	worker, ok := s.Workers.Worker(sessionID)
	if !ok {
		apierr.WriteError(w, apierr.NotFound(fmt.Sprintf("session worker %q not found", sessionID)))
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

// handleWorkerCleanupIdle implements POST /api/session-workers/:sessionId/cleanup/idle.
// The sweep itself is bulk (§4.8's stopIdleWorkers operates over every
// running worker past idleTimeoutMs), so :sessionId only addresses the
// route for operator tooling consistency with the rest of this resource;
// the reconciler's own background cadence is the usual trigger, this
// endpoint is the on-demand escape hatch.
func (s *Server) handleWorkerCleanupIdle(w http.ResponseWriter, r *http.Request) {
	if _, err := requireSessionID(r); err != nil {
		apierr.WriteError(w, err)
		return
	}
	idleTimeoutMs := s.queryInt64(r, "idleTimeoutMs", s.SweepIdleTimeoutMs)
	limit := s.queryInt(r, "limit", s.SweepLimit)

	result := s.Workers.StopIdleWorkers(r.Context(), s.Now(), idleTimeoutMs, limit)
	writeJSON(w, http.StatusOK, result)
}

// handleWorkerCleanupStopped implements POST /api/session-workers/:sessionId/cleanup/stopped.
func (s *Server) handleWorkerCleanupStopped(w http.ResponseWriter, r *http.Request) {
	if _, err := requireSessionID(r); err != nil {
		apierr.WriteError(w, err)
		return
	}
	removeAfterMs := s.queryInt64(r, "removeAfterMs", s.SweepRemoveAfterMs)
	limit := s.queryInt(r, "limit", s.SweepLimit)

	result := s.Workers.RemoveLongStoppedWorkers(r.Context(), s.Now(), removeAfterMs, limit)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) queryInt64(r *http.Request, key string, fallback int64) int64 {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func (s *Server) queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
