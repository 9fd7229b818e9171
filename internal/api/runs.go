package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/apm-labs/apm/internal/core"
)

// handleListRuns returns recent runs, newest first. Supports
// character_id, decision, status, and limit query filters.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.RunFilter{
		CharacterID: core.CharacterID(q.Get("character_id")),
		Decision:    core.Decision(q.Get("decision")),
		Status:      core.RunStatus(q.Get("status")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			respondError(w, http.StatusUnprocessableEntity, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if filter.Decision != "" && !core.ValidDecision(filter.Decision) {
		respondError(w, http.StatusUnprocessableEntity, "unknown decision: "+string(filter.Decision))
		return
	}

	runs, err := s.runs.List(r.Context(), filter)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if runs == nil {
		runs = []*core.EvaluationRun{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleGetRun returns one run with its critic scores and flags.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := core.RunID(chi.URLParam(r, "runID"))
	run, err := s.runs.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// handleGetProvenance returns the stored provenance record.
func (s *Server) handleGetProvenance(w http.ResponseWriter, r *http.Request) {
	id := core.RunID(chi.URLParam(r, "runID"))
	prov, err := s.runs.Provenance(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, prov)
}

// handleListResolutions returns the review resolutions for a run.
func (s *Server) handleListResolutions(w http.ResponseWriter, r *http.Request) {
	id := core.RunID(chi.URLParam(r, "runID"))
	resolutions, err := s.runs.Resolutions(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if resolutions == nil {
		resolutions = []core.ReviewResolution{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"resolutions": resolutions,
		"count":       len(resolutions),
	})
}
