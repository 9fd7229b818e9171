package core

import (
	"context"
	"time"
)

// =============================================================================
// Judge Port
// =============================================================================

// Judge defines the contract for an external judge backing a critic.
// One judge may back many critics; the orchestrator supplies the critic's
// rendered prompt and rubric per invocation.
type Judge interface {
	// Name returns the judge identifier (e.g., "canon-llm", "safety-rules").
	Name() string

	// Ping checks if the judge endpoint is reachable and authenticated.
	Ping(ctx context.Context) error

	// Score evaluates content against one critic dimension.
	Score(ctx context.Context, req JudgeRequest) (*JudgeResult, error)
}

// JudgeRequest carries everything a judge needs for one invocation.
// Critics must never observe each other's output, so a request contains
// only the content and card material, never sibling results.
type JudgeRequest struct {
	RunID       RunID
	CriticID    CriticID
	Prompt      string
	ContentRef  string
	Content     string
	Modality    Modality
	Card        CharacterCardVersion
	Timeout     time.Duration
}

// JudgeResult is the raw outcome of a judge invocation.
type JudgeResult struct {
	Score     float64 // 0-100
	Reasoning string
	Flags     []Flag
	Model     string
	Latency   time.Duration
}

// =============================================================================
// Collaborator Ports
// =============================================================================

// CardStore exposes character card versions. Versions are immutable once
// published; runs pin the version they saw.
type CardStore interface {
	// GetActiveVersion returns the currently active card version.
	GetActiveVersion(ctx context.Context, characterID CharacterID) (*CharacterCardVersion, error)

	// GetVersion returns a specific version (comparison mode).
	GetVersion(ctx context.Context, characterID CharacterID, version int) (*CharacterCardVersion, error)
}

// ConsentStore backs the consent hard gate. Implementations are read-only
// from the pipeline's point of view.
type ConsentStore interface {
	// Records returns all consent records for a character.
	Records(ctx context.Context, characterID CharacterID) ([]ConsentRecord, error)
}

// CriticResolver resolves the applicable critic set with per-scope config
// overrides applied.
type CriticResolver interface {
	// ResolveCritics returns resolved critics for the ids in the profile.
	ResolveCritics(ctx context.Context, characterID CharacterID, ids []CriticID) ([]ResolvedCritic, error)
}

// RunStore persists evaluation runs and exposes them to downstream
// collaborators (drift, red-team, compare, A/B, review queue).
type RunStore interface {
	// Create persists a new run in pending state.
	Create(ctx context.Context, run *EvaluationRun) error

	// UpdateStatus advances a run's status. Forward-only; illegal
	// transitions return ErrState(CodeInvalidTransition).
	UpdateStatus(ctx context.Context, id RunID, status RunStatus) error

	// AppendCriticResult records one critic outcome on a non-terminal run.
	AppendCriticResult(ctx context.Context, id RunID, result CriticResult) error

	// Complete moves a run to a terminal state with its final score,
	// decision, flags, and provenance record.
	Complete(ctx context.Context, run *EvaluationRun, prov *ProvenanceRecord) error

	// Get returns a run with its critic scores and flags.
	Get(ctx context.Context, id RunID) (*EvaluationRun, error)

	// List returns recent runs, newest first.
	List(ctx context.Context, filter RunFilter) ([]*EvaluationRun, error)

	// Provenance returns the stored provenance record for a terminal run.
	Provenance(ctx context.Context, id RunID) (*ProvenanceRecord, error)

	// AddResolution appends a human review resolution side record.
	AddResolution(ctx context.Context, res *ReviewResolution) error

	// StuckPending returns pending runs created before the cutoff, for
	// the reaper to force terminal.
	StuckPending(ctx context.Context, cutoff time.Time) ([]*EvaluationRun, error)
}

// RunFilter narrows List results.
type RunFilter struct {
	CharacterID CharacterID
	Decision    Decision
	Status      RunStatus
	Limit       int
}
