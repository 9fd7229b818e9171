package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/apm-labs/apm/internal/core"
)

// NewTestRun creates an EvaluationRun with sensible defaults for tests.
// Use functional options to override specific fields.
func NewTestRun(opts ...func(*core.EvaluationRun)) *core.EvaluationRun {
	run := &core.EvaluationRun{
		ID:              core.RunID(uuid.NewString()),
		CharacterID:     "char-test",
		CardVersion:     1,
		Modality:        core.ModalityText,
		ContentRef:      "content://test",
		Status:          core.StatusPending,
		ConsentVerified: true,
		CriticScores:    make(map[core.CriticID]core.CriticResult),
		CreatedAt:       time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(run)
	}
	return run
}

// WithRunID sets the run id.
func WithRunID(id core.RunID) func(*core.EvaluationRun) {
	return func(run *core.EvaluationRun) {
		run.ID = id
	}
}

// WithCharacter sets the character id.
func WithCharacter(id core.CharacterID) func(*core.EvaluationRun) {
	return func(run *core.EvaluationRun) {
		run.CharacterID = id
	}
}

// WithStatus sets the run status.
func WithStatus(status core.RunStatus) func(*core.EvaluationRun) {
	return func(run *core.EvaluationRun) {
		run.Status = status
	}
}

// WithCreatedAt sets the creation timestamp.
func WithCreatedAt(t time.Time) func(*core.EvaluationRun) {
	return func(run *core.EvaluationRun) {
		run.CreatedAt = t
	}
}

// Completed marks the run terminal with the given score and decision.
func Completed(score float64, decision core.Decision) func(*core.EvaluationRun) {
	return func(run *core.EvaluationRun) {
		now := time.Now().UTC()
		run.Status = core.StatusCompleted
		run.OverallScore = &score
		run.Decision = decision
		run.CompletedAt = &now
	}
}

// WithCriticResult attaches a scored critic result.
func WithCriticResult(criticID core.CriticID, score float64, flags ...core.Flag) func(*core.EvaluationRun) {
	return func(run *core.EvaluationRun) {
		if run.CriticScores == nil {
			run.CriticScores = make(map[core.CriticID]core.CriticResult)
		}
		run.CriticScores[criticID] = core.CriticResult{
			CriticID: criticID,
			Score:    &score,
			Weight:   1.0,
			Stage:    "deep_eval",
			Attempts: 1,
			Flags:    flags,
		}
	}
}

// NewTestCard creates a published card version for tests.
func NewTestCard(id core.CharacterID, version int) core.CharacterCardVersion {
	return core.CharacterCardVersion{
		CharacterID: id,
		Version:     version,
		Status:      core.CardActive,
		Packs: core.CardPacks{
			Canon:  "Debuted in issue #1. Dry, precise voice.",
			Legal:  "Licensed for evaluation testing in all territories.",
			Safety: "General audiences. No violence, no politics.",
		},
		PublishedAt: time.Now().UTC(),
	}
}
