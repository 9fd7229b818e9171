package events

import (
	"github.com/apm-labs/apm/internal/core"
)

// Event type constants for run lifecycle events.
const (
	TypeRunCreated      = "run_created"
	TypeRunStageChanged = "run_stage_changed"
	TypeCriticCompleted = "critic_completed"
	TypeRunCompleted    = "run_completed"
	TypeBreakerTripped  = "breaker_tripped"
)

// RunCreatedEvent signals a new evaluation run entering the pipeline.
type RunCreatedEvent struct {
	BaseEvent
	CharacterID string `json:"character_id"`
	Modality    string `json:"modality"`
}

// NewRunCreated creates a run created event.
func NewRunCreated(run *core.EvaluationRun) RunCreatedEvent {
	return RunCreatedEvent{
		BaseEvent:   NewBaseEvent(TypeRunCreated, string(run.ID)),
		CharacterID: string(run.CharacterID),
		Modality:    string(run.Modality),
	}
}

// RunStageChangedEvent signals a forward state transition.
type RunStageChangedEvent struct {
	BaseEvent
	Status string `json:"status"`
}

// NewRunStageChanged creates a stage change event.
func NewRunStageChanged(runID core.RunID, status core.RunStatus) RunStageChangedEvent {
	return RunStageChangedEvent{
		BaseEvent: NewBaseEvent(TypeRunStageChanged, string(runID)),
		Status:    string(status),
	}
}

// CriticCompletedEvent signals one critic result landing on a run.
type CriticCompletedEvent struct {
	BaseEvent
	CriticID string   `json:"critic_id"`
	Score    *float64 `json:"score"`
	Skipped  bool     `json:"skipped"`
}

// NewCriticCompleted creates a critic completion event.
func NewCriticCompleted(runID core.RunID, res core.CriticResult) CriticCompletedEvent {
	return CriticCompletedEvent{
		BaseEvent: NewBaseEvent(TypeCriticCompleted, string(runID)),
		CriticID:  string(res.CriticID),
		Score:     res.Score,
		Skipped:   !res.Scored(),
	}
}

// RunCompletedEvent signals a run reaching a terminal state. Published
// on the priority channel; the webhook dispatcher consumes it.
type RunCompletedEvent struct {
	BaseEvent
	CharacterID  string   `json:"character_id"`
	Decision     string   `json:"decision"`
	OverallScore *float64 `json:"overall_score"`
	Status       string   `json:"status"`
}

// NewRunCompleted creates a run completed event.
func NewRunCompleted(run *core.EvaluationRun) RunCompletedEvent {
	return RunCompletedEvent{
		BaseEvent:    NewBaseEvent(TypeRunCompleted, string(run.ID)),
		CharacterID:  string(run.CharacterID),
		Decision:     string(run.Decision),
		OverallScore: run.OverallScore,
		Status:       string(run.Status),
	}
}
