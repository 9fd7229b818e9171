// Package core defines the domain model for the persona moderation pipeline:
// evaluation runs, character card versions, critic configuration, consent
// records, flags, and the ports implemented by adapters.
package core

import (
	"time"
)

// RunID uniquely identifies an evaluation run.
type RunID string

// CharacterID identifies a licensed character.
type CharacterID string

// CriticID identifies a critic (an independent judge dimension).
type CriticID string

// Modality is the content modality being evaluated.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
)

// ValidModality reports whether m is a known modality.
func ValidModality(m Modality) bool {
	switch m {
	case ModalityText, ModalityImage, ModalityAudio, ModalityVideo:
		return true
	}
	return false
}

// RunStatus is the lifecycle state of an evaluation run.
// Transitions are forward-only; Completed and Blocked are terminal.
type RunStatus string

const (
	StatusPending     RunStatus = "pending"
	StatusRapidScreen RunStatus = "rapid_screen"
	StatusDeepEval    RunStatus = "deep_eval"
	StatusCompleted   RunStatus = "completed"
	StatusBlocked     RunStatus = "blocked"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusBlocked
}

// statusRank orders run states along the forward-only lifecycle.
// Terminal states share the highest rank; a run never moves between them.
func statusRank(s RunStatus) int {
	switch s {
	case StatusPending:
		return 0
	case StatusRapidScreen:
		return 1
	case StatusDeepEval:
		return 2
	case StatusCompleted, StatusBlocked:
		return 3
	}
	return -1
}

// CanTransition reports whether a run may move from s to next.
// Backward transitions and transitions out of a terminal state are rejected.
func (s RunStatus) CanTransition(next RunStatus) bool {
	if s.Terminal() {
		return false
	}
	from, to := statusRank(s), statusRank(next)
	if from < 0 || to < 0 {
		return false
	}
	return to > from
}

// CardPacks holds the per-dimension rubric packs of a character card.
type CardPacks struct {
	Canon  string `json:"canon"`
	Legal  string `json:"legal"`
	Safety string `json:"safety"`
	Visual string `json:"visual,omitempty"`
	Audio  string `json:"audio,omitempty"`
}

// CardStatus is the publication state of a character card version.
type CardStatus string

const (
	CardDraft    CardStatus = "draft"
	CardActive   CardStatus = "active"
	CardArchived CardStatus = "archived"
)

// CharacterCardVersion is an immutable snapshot of a character card.
// Exactly one version per character is active at a time; runs pin the
// version they evaluated against so history stays reproducible after a
// newer version is published.
type CharacterCardVersion struct {
	CharacterID CharacterID `json:"character_id"`
	Version     int         `json:"version_number"`
	Packs       CardPacks   `json:"packs"`
	Status      CardStatus  `json:"status"`
	PublishedAt time.Time   `json:"published_at"`
}

// ConfigScope is the level at which a critic config override applies.
type ConfigScope string

const (
	ScopeOrg       ConfigScope = "org"
	ScopeFranchise ConfigScope = "franchise"
	ScopeCharacter ConfigScope = "character"
)

// scopeRank orders scopes from least to most specific. More specific
// scopes win during resolution.
func scopeRank(s ConfigScope) int {
	switch s {
	case ScopeOrg:
		return 1
	case ScopeFranchise:
		return 2
	case ScopeCharacter:
		return 3
	}
	return 0
}

// MoreSpecificThan reports whether s overrides other during resolution.
func (s ConfigScope) MoreSpecificThan(other ConfigScope) bool {
	return scopeRank(s) > scopeRank(other)
}

// CriticConfig overrides a critic's defaults at a given scope.
type CriticConfig struct {
	CriticID          CriticID    `json:"critic_id"`
	Scope             ConfigScope `json:"scope"`
	WeightOverride    *float64    `json:"weight_override,omitempty"`
	ThresholdOverride *float64    `json:"threshold_override,omitempty"`
	ExtraInstructions string      `json:"extra_instructions,omitempty"`
}

// ResolvedCritic is a critic with config resolution applied
// (character > franchise > org > critic default).
type ResolvedCritic struct {
	ID                CriticID      `json:"critic_id"`
	Weight            float64       `json:"weight"`
	Threshold         float64       `json:"threshold"`
	Timeout           time.Duration `json:"timeout"`
	ExtraInstructions string        `json:"extra_instructions,omitempty"`
}

// EvaluationProfile controls sampling and critic tiering for an org or
// deployment.
type EvaluationProfile struct {
	SamplingRate     float64    `json:"sampling_rate"`
	TieredEvaluation bool       `json:"tiered_evaluation"`
	RapidScreenIDs   []CriticID `json:"rapid_screen_critic_ids,omitempty"`
	DeepEvalIDs      []CriticID `json:"deep_eval_critic_ids,omitempty"`
	CriticIDs        []CriticID `json:"critic_config_ids,omitempty"`
}

// ConsentRecord captures legal eligibility for one character, modality,
// and territory window.
type ConsentRecord struct {
	CharacterID  CharacterID `json:"character_id"`
	Modality     Modality    `json:"modality"`
	Territory    string      `json:"territory"`
	ValidFrom    time.Time   `json:"valid_from"`
	ValidTo      time.Time   `json:"valid_to"`
	StrikeActive bool        `json:"strike_active"`
}

// Covers reports whether the record grants consent for the given request
// at instant now. Territory is a wildcard on both sides: an empty request
// territory matches any record, and a record with no territory is a
// worldwide grant.
func (r ConsentRecord) Covers(modality Modality, territory string, now time.Time) bool {
	if r.StrikeActive {
		return false
	}
	if r.Modality != modality {
		return false
	}
	if territory != "" && r.Territory != "" && r.Territory != territory {
		return false
	}
	return !now.Before(r.ValidFrom) && !now.After(r.ValidTo)
}

// FlagSeverity classifies the impact of a critic flag on the decision.
type FlagSeverity string

const (
	SeverityInfo     FlagSeverity = "info"
	SeverityWarning  FlagSeverity = "warning"
	SeverityCritical FlagSeverity = "critical"
)

// Flag is attached to a run by a critic and never mutated.
type Flag struct {
	CriticID CriticID     `json:"critic_id"`
	Code     string       `json:"code"`
	Severity FlagSeverity `json:"severity"`
	Message  string       `json:"message"`
}

// CriticResult is the outcome of one critic invocation within a run.
// Score is nil when the critic failed permanently; such results carry a
// SkipReason and are excluded from aggregation entirely.
type CriticResult struct {
	CriticID   CriticID      `json:"critic_id"`
	Score      *float64      `json:"score"` // 0-100
	Reasoning  string        `json:"reasoning,omitempty"`
	Flags      []Flag        `json:"flags,omitempty"`
	Weight     float64       `json:"weight"`
	Stage      string        `json:"stage"` // rapid_screen or deep_eval
	Attempts   int           `json:"attempts"`
	Latency    time.Duration `json:"latency_ms"`
	Degraded   bool          `json:"degraded,omitempty"`
	SkipReason string        `json:"skip_reason,omitempty"`
}

// Scored reports whether the critic produced a usable score.
func (r CriticResult) Scored() bool {
	return r.Score != nil
}

// EvaluationRun is the central entity of the pipeline. It is mutable only
// until it reaches a terminal status; later corrections are recorded as
// separate ReviewResolution records.
type EvaluationRun struct {
	ID              RunID                       `json:"id"`
	CharacterID     CharacterID                 `json:"character_id"`
	CardVersion     int                         `json:"card_version"`
	AgentID         string                      `json:"agent_id,omitempty"`
	Modality        Modality                    `json:"modality"`
	ContentRef      string                      `json:"content_ref"`
	Territory       string                      `json:"territory,omitempty"`
	Status          RunStatus                   `json:"status"`
	OverallScore    *float64                    `json:"overall_score,omitempty"`
	Decision        Decision                    `json:"decision,omitempty"`
	CriticScores    map[CriticID]CriticResult   `json:"critic_scores,omitempty"`
	Flags           []Flag                      `json:"flags,omitempty"`
	Sampled         bool                        `json:"sampled"`
	ConsentVerified bool                        `json:"consent_verified"`
	CreatedAt       time.Time                   `json:"created_at"`
	CompletedAt     *time.Time                  `json:"completed_at,omitempty"`
}

// AllFlags returns every flag attached to the run's critic results plus
// run-level flags, in stable critic order.
func (run *EvaluationRun) AllFlags() []Flag {
	flags := make([]Flag, 0, len(run.Flags))
	flags = append(flags, run.Flags...)
	for _, res := range sortedResults(run.CriticScores) {
		flags = append(flags, res.Flags...)
	}
	return flags
}

// ReviewResolution records a human correction against a terminal run.
// The run itself is never mutated.
type ReviewResolution struct {
	ID         string    `json:"id"`
	RunID      RunID     `json:"run_id"`
	Action     string    `json:"action"`
	Reason     string    `json:"reason,omitempty"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// ProvenanceRecord is the immutable C2PA-style audit artifact of a
// completed run. Embedding is deterministic: the same run always yields a
// byte-identical payload and hash.
type ProvenanceRecord struct {
	RunID        RunID              `json:"run_id"`
	CharacterID  CharacterID        `json:"character_id"`
	CardVersion  int                `json:"card_version"`
	AgentID      string             `json:"agent_id,omitempty"`
	OverallScore *float64           `json:"overall_score"`
	Decision     Decision           `json:"decision"`
	CriticScores map[string]float64 `json:"critic_score_summary"`
	Timestamp    time.Time          `json:"timestamp"`
	PayloadHash  string             `json:"payload_hash"`
}
