package api

import (
	"encoding/json"
	"net/http"

	"github.com/apm-labs/apm/internal/core"
	"github.com/apm-labs/apm/internal/pipeline"
)

// evaluateRequest is the POST /apm/evaluate body.
type evaluateRequest struct {
	CharacterID string `json:"character_id"`
	Content     string `json:"content"`
	ContentRef  string `json:"content_ref,omitempty"`
	Modality    string `json:"modality"`
	AgentID     string `json:"agent_id,omitempty"`
	Territory   string `json:"territory,omitempty"`
	CardVersion int    `json:"card_version,omitempty"`
}

// handleEvaluate runs the full pipeline synchronously and returns the
// decision envelope. A well-formed request always gets a decision; only
// validation and infrastructure failures surface as HTTP errors.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.pipeline.Evaluate(r.Context(), pipeline.Request{
		CharacterID: core.CharacterID(req.CharacterID),
		Content:     req.Content,
		ContentRef:  req.ContentRef,
		Modality:    core.Modality(req.Modality),
		AgentID:     req.AgentID,
		Territory:   req.Territory,
		CardVersion: req.CardVersion,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, NewRunEnvelope(res.Run, res.Provenance, res.Recommendations))
}
