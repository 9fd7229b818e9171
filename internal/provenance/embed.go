// Package provenance builds the immutable C2PA-style audit record for a
// completed evaluation run.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/apm-labs/apm/internal/core"
)

// Embed derives the provenance record from a terminal run. It is a pure
// function of the run: calling it twice for the same run produces
// byte-identical output, which is what lets downstream systems verify a
// stored record by recomputation.
func Embed(run *core.EvaluationRun) (*core.ProvenanceRecord, error) {
	if run == nil {
		return nil, core.ErrValidation("NIL_RUN", "cannot embed provenance for nil run")
	}
	if !run.Status.Terminal() {
		return nil, core.ErrState(core.CodeInvalidTransition,
			fmt.Sprintf("run %s is %s; provenance is only embedded for terminal runs", run.ID, run.Status))
	}
	if run.CompletedAt == nil {
		return nil, core.ErrState(core.CodeInvalidTransition,
			fmt.Sprintf("terminal run %s missing completion time", run.ID))
	}

	summary := make(map[string]float64, len(run.CriticScores))
	for id, res := range run.CriticScores {
		if res.Scored() {
			summary[string(id)] = *res.Score
		}
	}

	rec := &core.ProvenanceRecord{
		RunID:        run.ID,
		CharacterID:  run.CharacterID,
		CardVersion:  run.CardVersion,
		AgentID:      run.AgentID,
		OverallScore: run.OverallScore,
		Decision:     run.Decision,
		CriticScores: summary,
		Timestamp:    run.CompletedAt.UTC(),
	}

	payload, err := Canonical(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding provenance payload: %w", err)
	}
	hash := sha256.Sum256(payload)
	rec.PayloadHash = hex.EncodeToString(hash[:])
	return rec, nil
}

// Canonical serializes a record deterministically, excluding the hash
// field itself. encoding/json sorts map keys, so the critic summary is
// stable across recomputations.
func Canonical(rec *core.ProvenanceRecord) ([]byte, error) {
	unhashed := *rec
	unhashed.PayloadHash = ""
	return json.Marshal(&unhashed)
}

// Verify recomputes the payload hash and reports whether it matches the
// stored one.
func Verify(rec *core.ProvenanceRecord) (bool, error) {
	payload, err := Canonical(rec)
	if err != nil {
		return false, err
	}
	hash := sha256.Sum256(payload)
	return hex.EncodeToString(hash[:]) == rec.PayloadHash, nil
}
