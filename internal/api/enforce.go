package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apm-labs/apm/internal/core"
)

// enforceRequest is the POST /apm/enforce body.
type enforceRequest struct {
	EvalRunID      string `json:"eval_run_id"`
	Action         string `json:"action"`
	OverrideReason string `json:"override_reason,omitempty"`
}

// enforceResponse acknowledges an enforcement action.
type enforceResponse struct {
	Status    string    `json:"status"`
	Action    string    `json:"action"`
	EvalRunID string    `json:"eval_run_id"`
	Timestamp time.Time `json:"timestamp"`
}

var enforceActions = map[string]bool{
	"regenerate": true,
	"quarantine": true,
	"escalate":   true,
	"block":      true,
	"override":   true,
}

// handleEnforce records an enforcement action against a terminal run as
// a review resolution. The run itself stays immutable.
func (s *Server) handleEnforce(w http.ResponseWriter, r *http.Request) {
	var req enforceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.EvalRunID) == "" {
		respondError(w, http.StatusUnprocessableEntity, "eval_run_id is required")
		return
	}
	if !enforceActions[req.Action] {
		respondError(w, http.StatusUnprocessableEntity,
			"action must be one of: regenerate, quarantine, escalate, block, override")
		return
	}
	if req.Action == "override" && strings.TrimSpace(req.OverrideReason) == "" {
		respondError(w, http.StatusUnprocessableEntity, "override requires override_reason")
		return
	}

	res := &core.ReviewResolution{
		ID:         uuid.NewString(),
		RunID:      core.RunID(req.EvalRunID),
		Action:     req.Action,
		Reason:     req.OverrideReason,
		ResolvedBy: Subject(r.Context()),
		ResolvedAt: time.Now().UTC(),
	}
	if err := s.runs.AddResolution(r.Context(), res); err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, enforceResponse{
		Status:    "enforced",
		Action:    req.Action,
		EvalRunID: req.EvalRunID,
		Timestamp: res.ResolvedAt,
	})
}
