// Package report renders a human-readable summary of an evaluation run:
// scores, flags, provenance, and reviewer resolutions, as markdown or as
// styled terminal output.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/apm-labs/apm/internal/core"
)

// Data is everything the report knows about a run. Provenance and
// resolutions are optional; sections are omitted when absent.
type Data struct {
	Run         *core.EvaluationRun
	Provenance  *core.ProvenanceRecord
	Resolutions []core.ReviewResolution
}

// Markdown builds the plain markdown report for a run.
func Markdown(d Data) string {
	run := d.Run
	var b strings.Builder

	fmt.Fprintf(&b, "# Evaluation Run %s\n\n", run.ID)
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Character | %s (card v%d) |\n", run.CharacterID, run.CardVersion)
	fmt.Fprintf(&b, "| Modality | %s |\n", run.Modality)
	fmt.Fprintf(&b, "| Status | %s |\n", run.Status)
	if run.Decision != "" {
		fmt.Fprintf(&b, "| Decision | **%s** |\n", run.Decision)
	}
	if run.OverallScore != nil {
		fmt.Fprintf(&b, "| Overall score | %.1f |\n", *run.OverallScore)
	}
	if run.Territory != "" {
		fmt.Fprintf(&b, "| Territory | %s |\n", run.Territory)
	}
	fmt.Fprintf(&b, "| Sampled | %t |\n", run.Sampled)
	fmt.Fprintf(&b, "| Created | %s |\n", run.CreatedAt.UTC().Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(&b, "| Completed | %s |\n", run.CompletedAt.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n")

	if len(run.CriticScores) > 0 {
		b.WriteString("## Critic Scores\n\n")
		b.WriteString("| Critic | Score | Weight | Stage | Flags |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, res := range sortedResults(run.CriticScores) {
			score := "skipped"
			if res.Score != nil {
				score = fmt.Sprintf("%.1f", *res.Score)
			}
			fmt.Fprintf(&b, "| %s | %s | %.2f | %s | %d |\n",
				res.CriticID, score, res.Weight, res.Stage, len(res.Flags))
		}
		b.WriteString("\n")
	}

	if flags := run.AllFlags(); len(flags) > 0 {
		b.WriteString("## Flags\n\n")
		for _, f := range flags {
			fmt.Fprintf(&b, "- **%s** `%s` (%s): %s\n", f.Severity, f.Code, f.CriticID, f.Message)
		}
		b.WriteString("\n")
	}

	if d.Provenance != nil {
		b.WriteString("## Provenance\n\n")
		fmt.Fprintf(&b, "- Payload hash: `%s`\n", d.Provenance.PayloadHash)
		fmt.Fprintf(&b, "- Embedded at: %s\n", d.Provenance.Timestamp.UTC().Format(time.RFC3339))
		b.WriteString("\n")
	}

	if len(d.Resolutions) > 0 {
		b.WriteString("## Resolutions\n\n")
		for _, r := range d.Resolutions {
			fmt.Fprintf(&b, "- %s by %s at %s", r.Action, orUnknown(r.ResolvedBy),
				r.ResolvedAt.UTC().Format(time.RFC3339))
			if r.Reason != "" {
				fmt.Fprintf(&b, ": %s", r.Reason)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	return b.String()
}

// Render produces terminal-styled output from the markdown report. It
// degrades to plain markdown when the renderer cannot be constructed
// (e.g. no TTY capability detection).
func Render(d Data) (string, error) {
	md := Markdown(d)
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md, nil
	}
	out, err := renderer.Render(md)
	if err != nil {
		return md, nil
	}
	return out, nil
}

func sortedResults(m map[core.CriticID]core.CriticResult) []core.CriticResult {
	results := make([]core.CriticResult, 0, len(m))
	for _, res := range m {
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CriticID < results[j].CriticID })
	return results
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
