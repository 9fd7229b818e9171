package judge

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/apm-labs/apm/internal/core"
)

// Rule is one deterministic screening pattern.
type Rule struct {
	Code     string
	Pattern  *regexp.Regexp
	Severity core.FlagSeverity
	Penalty  float64
	Message  string
}

// RulesJudge is a local deterministic judge. It screens content against
// a fixed rule set and needs no network, which makes it the default
// backing for rapid-screen critics: cheap, fast, and never rate
// limited.
type RulesJudge struct {
	name  string
	rules []Rule
}

// DefaultRules returns the built-in screening rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			Code:     "EXPLICIT_CONTENT",
			Pattern:  regexp.MustCompile(`(?i)\b(explicit|graphic|nsfw)\b`),
			Severity: core.SeverityCritical,
			Penalty:  70,
			Message:  "content self-describes as explicit",
		},
		{
			Code:     "REAL_PERSON",
			Pattern:  regexp.MustCompile(`(?i)\b(real|actual)\s+(person|actor|celebrity)\b`),
			Severity: core.SeverityCritical,
			Penalty:  60,
			Message:  "content references a real person behind the character",
		},
		{
			Code:     "BREAKING_CHARACTER",
			Pattern:  regexp.MustCompile(`(?i)\b(as an ai|language model|my training data)\b`),
			Severity: core.SeverityWarning,
			Penalty:  25,
			Message:  "content breaks the character frame",
		},
		{
			Code:     "UNLICENSED_CROSSOVER",
			Pattern:  regexp.MustCompile(`(?i)\bcrossover with\b`),
			Severity: core.SeverityWarning,
			Penalty:  20,
			Message:  "content introduces characters outside the license",
		},
	}
}

// NewRulesJudge creates the deterministic rules judge.
func NewRulesJudge(cfg Config) (core.Judge, error) {
	name := cfg.Name
	if name == "" {
		name = "rules"
	}
	return &RulesJudge{name: name, rules: DefaultRules()}, nil
}

// NewRulesJudgeWith creates a rules judge with a custom rule set.
func NewRulesJudgeWith(name string, rules []Rule) *RulesJudge {
	return &RulesJudge{name: name, rules: rules}
}

// Name returns the provider name.
func (j *RulesJudge) Name() string {
	return j.name
}

// Ping always succeeds; the rules judge has no external dependency.
func (j *RulesJudge) Ping(_ context.Context) error {
	return nil
}

// Score screens content against the rule set. The score starts at 100
// and each matched rule subtracts its penalty, floored at zero.
func (j *RulesJudge) Score(_ context.Context, req core.JudgeRequest) (*core.JudgeResult, error) {
	started := time.Now()
	score := 100.0
	var flags []core.Flag
	var matched []string

	for _, rule := range j.rules {
		if !rule.Pattern.MatchString(req.Content) {
			continue
		}
		score -= rule.Penalty
		matched = append(matched, rule.Code)
		flags = append(flags, core.Flag{
			CriticID: req.CriticID,
			Code:     rule.Code,
			Severity: rule.Severity,
			Message:  rule.Message,
		})
	}
	if score < 0 {
		score = 0
	}

	reasoning := "no screening rules matched"
	if len(matched) > 0 {
		sort.Strings(matched)
		reasoning = "matched rules: " + strings.Join(matched, ", ")
	}

	return &core.JudgeResult{
		Score:     score,
		Reasoning: reasoning,
		Flags:     flags,
		Model:     "rules/v1",
		Latency:   time.Since(started),
	}, nil
}
