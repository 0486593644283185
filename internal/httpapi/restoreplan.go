package httpapi

import (
	"net/http"

	"github.com/relayforge/agentctl/internal/apierr"
	"github.com/relayforge/agentctl/internal/restoreplan"
)

type restorePlanRequest struct {
	Manifest       restoreplan.Manifest `json:"manifest"`
	AppID          string                `json:"appId"`
	ProjectName    string                `json:"projectName,omitempty"`
	UserLoginName  string                `json:"userLoginName"`
	SessionID      string                `json:"sessionId"`
	RuntimeVersion string                `json:"runtimeVersion"`

	// ExistingPaths, when present, triggers the §4.7 validateRequiredPaths
	// check against the derived plan's requiredPaths before responding.
	ExistingPaths []string `json:"existingPaths,omitempty"`
}

type restorePlanResponse struct {
	OK                   bool                 `json:"ok"`
	Reason               string               `json:"reason,omitempty"`
	MissingRequiredPaths []string             `json:"missingRequiredPaths,omitempty"`
	Plan                 restoreplan.Plan     `json:"plan"`
}

// handleRestorePlan implements POST /api/runs/restore-plan.
func (s *Server) handleRestorePlan(w http.ResponseWriter, r *http.Request) {
	var req restorePlanRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if req.AppID == "" || req.UserLoginName == "" || req.SessionID == "" || req.RuntimeVersion == "" {
		apierr.WriteError(w, apierr.Validation("appId, userLoginName, sessionId and runtimeVersion are required"))
		return
	}

	identity := restoreplan.Identity{
		AppID:             req.AppID,
		ProjectName:       req.ProjectName,
		UserLoginName:     req.UserLoginName,
		SessionID:         req.SessionID,
		RuntimeVersion:    req.RuntimeVersion,
		WorkspaceS3Prefix: restoreplan.WorkspaceS3Prefix(req.AppID, req.ProjectName, req.UserLoginName, req.SessionID),
	}

	plan, err := restoreplan.Build(req.Manifest, identity, req.RuntimeVersion)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	if req.ExistingPaths != nil {
		validation := restoreplan.ValidateRequiredPaths(plan.RequiredPaths, req.ExistingPaths)
		if !validation.OK {
			writeJSON(w, http.StatusUnprocessableEntity, restorePlanResponse{
				OK:                   false,
				Reason:               "required_paths_missing",
				MissingRequiredPaths: validation.MissingRequiredPaths,
				Plan:                 plan,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, restorePlanResponse{OK: true, Plan: plan})
}
