// Package policy implements the decision engine: weighted aggregation of
// critic scores, threshold banding, and flag dominance.
package policy

import (
	"sort"

	"github.com/apm-labs/apm/internal/core"
)

// Bands holds the lower bound of each decision band. A score maps to the
// band whose lower bound it meets, inclusive.
type Bands struct {
	Pass       float64 // >= Pass -> pass
	Regenerate float64 // >= Regenerate -> regenerate
	Quarantine float64 // >= Quarantine -> quarantine
	Escalate   float64 // >= Escalate -> escalate, below -> block
}

// DefaultBands returns the default decision thresholds.
func DefaultBands() Bands {
	return Bands{
		Pass:       90,
		Regenerate: 70,
		Quarantine: 50,
		Escalate:   30,
	}
}

// Valid reports whether the bands are strictly descending within [0,100].
func (b Bands) Valid() bool {
	return b.Pass > b.Regenerate &&
		b.Regenerate > b.Quarantine &&
		b.Quarantine > b.Escalate &&
		b.Escalate > 0 && b.Pass <= 100
}

// Engine derives decisions from critic results. Thresholds are
// configuration, not constants; hot-reload swaps the whole engine.
type Engine struct {
	bands Bands
}

// NewEngine creates a decision engine. Invalid bands fall back to the
// defaults so a bad config file can never disable banding.
func NewEngine(bands Bands) *Engine {
	if !bands.Valid() {
		bands = DefaultBands()
	}
	return &Engine{bands: bands}
}

// Bands returns the engine's configured thresholds.
func (e *Engine) Bands() Bands {
	return e.bands
}

// Outcome is the result of a decision computation.
type Outcome struct {
	OverallScore *float64
	Decision     core.Decision
	ScoreBand    core.Decision // decision implied by score alone
	Escalated    bool          // true when no critic produced a score
}

// Decide aggregates critic results and applies flag overrides.
//
// The overall score is the weighted mean over critics that returned a
// score; a failed critic contributes neither to the numerator nor the
// denominator. Zero scorable critics escalates: the system fails toward
// human review, never toward silent approval.
func (e *Engine) Decide(results []core.CriticResult, flags []core.Flag) Outcome {
	score, ok := WeightedScore(results)
	if !ok {
		return Outcome{
			Decision:  core.DecisionEscalate,
			ScoreBand: core.DecisionEscalate,
			Escalated: true,
		}
	}

	base := e.BandFor(score)
	final := applyFlags(base, flags)

	return Outcome{
		OverallScore: &score,
		Decision:     final,
		ScoreBand:    base,
	}
}

// BandFor maps a score to its base decision band. Boundaries are
// inclusive on the lower bound of each band.
func (e *Engine) BandFor(score float64) core.Decision {
	switch {
	case score >= e.bands.Pass:
		return core.DecisionPass
	case score >= e.bands.Regenerate:
		return core.DecisionRegenerate
	case score >= e.bands.Quarantine:
		return core.DecisionQuarantine
	case score >= e.bands.Escalate:
		return core.DecisionEscalate
	default:
		return core.DecisionBlock
	}
}

// applyFlags computes the flag-derived decision and returns the more
// severe of it and the score-derived one, under the total severity order.
//
// critical -> at least block, regardless of score. warning -> exactly one
// band worse than the score-derived decision; multiple warnings do not
// compound. info -> no effect.
func applyFlags(base core.Decision, flags []core.Flag) core.Decision {
	flagDerived := base
	for _, f := range flags {
		switch f.Severity {
		case core.SeverityCritical:
			flagDerived = core.WorseOf(flagDerived, core.DecisionBlock)
		case core.SeverityWarning:
			flagDerived = core.WorseOf(flagDerived, core.OneBandWorse(base))
		}
	}
	return core.WorseOf(base, flagDerived)
}

// WeightedScore computes the weighted mean over scored results. The
// second return is false when no result carries a positive-weight score.
// Results with weight zero or below are excluded from numerator and
// denominator; a critic configured out of the aggregate must not count.
func WeightedScore(results []core.CriticResult) (float64, bool) {
	var num, denom float64
	for _, r := range results {
		if !r.Scored() || r.Weight <= 0 {
			continue
		}
		num += *r.Score * r.Weight
		denom += r.Weight
	}
	if denom == 0 {
		return 0, false
	}
	return num / denom, true
}

// WorstFlag returns the most severe flag in the list, or nil.
func WorstFlag(flags []core.Flag) *core.Flag {
	rank := func(s core.FlagSeverity) int {
		switch s {
		case core.SeverityCritical:
			return 3
		case core.SeverityWarning:
			return 2
		case core.SeverityInfo:
			return 1
		}
		return 0
	}
	var worst *core.Flag
	for i := range flags {
		if worst == nil || rank(flags[i].Severity) > rank(worst.Severity) {
			worst = &flags[i]
		}
	}
	return worst
}

// Recommendations derives human-facing follow-up suggestions from an
// outcome and its flags. Deterministic so the API response is stable.
func Recommendations(out Outcome, flags []core.Flag) []string {
	recs := make([]string, 0, 4)
	switch out.Decision {
	case core.DecisionRegenerate:
		recs = append(recs, "regenerate content with stricter adherence to the character card")
	case core.DecisionQuarantine:
		recs = append(recs, "hold content for targeted re-evaluation before release")
	case core.DecisionEscalate:
		if out.Escalated {
			recs = append(recs, "no critic produced a score; route to manual review")
		} else {
			recs = append(recs, "route to manual review queue")
		}
	case core.DecisionBlock:
		recs = append(recs, "discard content; do not release")
	}

	codes := make([]string, 0, len(flags))
	seen := make(map[string]bool)
	for _, f := range flags {
		if f.Severity == core.SeverityInfo || seen[f.Code] {
			continue
		}
		seen[f.Code] = true
		codes = append(codes, f.Code)
	}
	sort.Strings(codes)
	for _, c := range codes {
		recs = append(recs, "address flag: "+c)
	}
	return recs
}
