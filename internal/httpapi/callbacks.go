package httpapi

import (
	"net/http"

	"github.com/relayforge/agentctl/internal/apierr"
	"github.com/relayforge/agentctl/internal/callback"
)

// handleCallback implements POST /api/runs/:runId/callbacks. The Callback
// Handler itself never calls back into the Orchestrator, so this handler
// is the bridge: once Handle applies a human_loop transition to its own
// shadow RunState, it mirrors that transition onto the Orchestrator's
// authoritative RunContext.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	runID, err := requireRunID(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	var ev callback.Event
	if err := decodeJSON(r, &ev); err != nil {
		apierr.WriteError(w, err)
		return
	}
	ev.RunID = runID

	result, err := s.Callbacks.Handle(r.Context(), ev)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	if !result.Duplicate {
		switch ev.Type {
		case callback.EventHumanLoopAsk:
			s.Orchestrator.MarkWaitingHuman(runID)
		case callback.EventHumanLoopResolve:
			s.Orchestrator.MarkRunning(runID)
		}
	}

	writeJSON(w, http.StatusOK, result)
}
