package core

import "sort"

// Decision is the policy outcome for an evaluation run. It is always
// derivable from (overall score, flags) so auditors can recompute it.
type Decision string

const (
	DecisionPass        Decision = "pass"
	DecisionRegenerate  Decision = "regenerate"
	DecisionQuarantine  Decision = "quarantine"
	DecisionEscalate    Decision = "escalate"
	DecisionBlock       Decision = "block"
	DecisionSampledPass Decision = "sampled-pass"
)

// decisionSeverity totally orders decisions from most permissive to most
// restrictive. Flag dominance is expressed as a comparison on this order
// rather than branching, which keeps the monotonicity property checkable:
// adding a worse flag can never lower the severity of the outcome.
//
// sampled-pass sits outside the order: it is only produced when the
// sampler excludes a run before any scoring happens.
var decisionSeverity = map[Decision]int{
	DecisionSampledPass: 0,
	DecisionPass:        1,
	DecisionRegenerate:  2,
	DecisionQuarantine:  3,
	DecisionEscalate:    4,
	DecisionBlock:       5,
}

// Severity returns the position of d in the total severity order.
// Unknown decisions rank below pass.
func (d Decision) Severity() int {
	return decisionSeverity[d]
}

// Rejecting reports whether the decision stops the content from shipping
// as-is.
func (d Decision) Rejecting() bool {
	return d.Severity() >= decisionSeverity[DecisionRegenerate]
}

// WorseOf returns the more severe of two decisions.
func WorseOf(a, b Decision) Decision {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// OneBandWorse returns the decision one step more severe than d, clamped
// at block. sampled-pass is never downgraded.
func OneBandWorse(d Decision) Decision {
	switch d {
	case DecisionPass:
		return DecisionRegenerate
	case DecisionRegenerate:
		return DecisionQuarantine
	case DecisionQuarantine:
		return DecisionEscalate
	case DecisionEscalate, DecisionBlock:
		return DecisionBlock
	}
	return d
}

// ValidDecision reports whether d is a known decision value.
func ValidDecision(d Decision) bool {
	_, ok := decisionSeverity[d]
	return ok
}

// sortedResults returns critic results ordered by critic id so derived
// artifacts (flag lists, provenance summaries) are deterministic.
func sortedResults(m map[CriticID]CriticResult) []CriticResult {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	out := make([]CriticResult, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[CriticID(id)])
	}
	return out
}
