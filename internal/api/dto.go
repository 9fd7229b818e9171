package api

import (
	"time"

	"github.com/apm-labs/apm/internal/core"
)

// CriticScoreDTO is one critic's contribution in a run envelope.
type CriticScoreDTO struct {
	Score      *float64 `json:"score"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Stage      string   `json:"stage"`
	Weight     float64  `json:"weight"`
	Degraded   bool     `json:"degraded,omitempty"`
	SkipReason string   `json:"skip_reason,omitempty"`
}

// RunEnvelope is the wire shape of a completed evaluation, shared by
// the evaluate response and the decision webhooks.
type RunEnvelope struct {
	EvalRunID       string                    `json:"eval_run_id"`
	CharacterID     string                    `json:"character_id"`
	CardVersion     int                       `json:"card_version"`
	Status          string                    `json:"status"`
	OverallScore    *float64                  `json:"overall_score"`
	Decision        string                    `json:"decision"`
	ConsentVerified bool                      `json:"consent_verified"`
	Sampled         bool                      `json:"sampled"`
	CriticScores    map[string]CriticScoreDTO `json:"critic_scores"`
	Flags           []core.Flag               `json:"flags"`
	Recommendations []string                  `json:"recommendations"`
	C2PAMetadata    *core.ProvenanceRecord    `json:"c2pa_metadata,omitempty"`
	CompletedAt     *time.Time                `json:"completed_at,omitempty"`
}

// NewRunEnvelope builds the envelope from a terminal run.
func NewRunEnvelope(run *core.EvaluationRun, prov *core.ProvenanceRecord, recommendations []string) RunEnvelope {
	scores := make(map[string]CriticScoreDTO, len(run.CriticScores))
	for id, res := range run.CriticScores {
		scores[string(id)] = CriticScoreDTO{
			Score:      res.Score,
			Reasoning:  res.Reasoning,
			Stage:      res.Stage,
			Weight:     res.Weight,
			Degraded:   res.Degraded,
			SkipReason: res.SkipReason,
		}
	}
	flags := run.AllFlags()
	if flags == nil {
		flags = []core.Flag{}
	}
	if recommendations == nil {
		recommendations = []string{}
	}
	return RunEnvelope{
		EvalRunID:       string(run.ID),
		CharacterID:     string(run.CharacterID),
		CardVersion:     run.CardVersion,
		Status:          string(run.Status),
		OverallScore:    run.OverallScore,
		Decision:        string(run.Decision),
		ConsentVerified: run.ConsentVerified,
		Sampled:         run.Sampled,
		CriticScores:    scores,
		Flags:           flags,
		Recommendations: recommendations,
		C2PAMetadata:    prov,
		CompletedAt:     run.CompletedAt,
	}
}
