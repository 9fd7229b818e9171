package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/apm-labs/apm/internal/core"
	"github.com/apm-labs/apm/internal/pipeline"
	"github.com/apm-labs/apm/internal/report"
	"github.com/apm-labs/apm/internal/service"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate content against a character card",
	Long: `Run one evaluation through the in-process pipeline: consent gate,
sampling, critic panel, decision engine, and provenance embedding.

Examples:
  # Evaluate inline content
  apm evaluate --character mira-voss --content "Chapter draft..."

  # Evaluate a file against a pinned card version
  apm evaluate --character mira-voss --content-file draft.txt --card-version 3

  # Render the run report instead of raw JSON
  apm evaluate --character mira-voss --content "..." --output report`,
	RunE: runEvaluate,
}

var (
	evalCharacter   string
	evalContent     string
	evalContentFile string
	evalContentRef  string
	evalModality    string
	evalTerritory   string
	evalAgent       string
	evalCardVersion int
	evalOutput      string
)

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVarP(&evalCharacter, "character", "c", "", "Character ID (required)")
	evaluateCmd.Flags().StringVar(&evalContent, "content", "", "Content to evaluate")
	evaluateCmd.Flags().StringVar(&evalContentFile, "content-file", "", "Read content from a file")
	evaluateCmd.Flags().StringVar(&evalContentRef, "content-ref", "", "Opaque reference to the content")
	evaluateCmd.Flags().StringVar(&evalModality, "modality", "text", "Modality: text, image, audio, video")
	evaluateCmd.Flags().StringVar(&evalTerritory, "territory", "", "Territory code for consent lookup")
	evaluateCmd.Flags().StringVar(&evalAgent, "agent", "", "Agent ID that produced the content")
	evaluateCmd.Flags().IntVar(&evalCardVersion, "card-version", 0, "Pin a card version (0 = active)")
	evaluateCmd.Flags().StringVarP(&evalOutput, "output", "o", "json", "Output format: json, report")
	_ = evaluateCmd.MarkFlagRequired("character")
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	content := evalContent
	if evalContentFile != "" {
		data, err := os.ReadFile(evalContentFile)
		if err != nil {
			return fmt.Errorf("reading content file: %w", err)
		}
		content = string(data)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("provide --content or --content-file")
	}

	// In-process use only; the API server is constructed but never
	// started, so the auth requirement does not apply.
	cfg.Server.AuthDisabled = true

	svc, err := service.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	result, err := svc.Pipeline.Evaluate(cmd.Context(), pipeline.Request{
		CharacterID: core.CharacterID(evalCharacter),
		Content:     content,
		ContentRef:  evalContentRef,
		Modality:    core.Modality(evalModality),
		AgentID:     evalAgent,
		Territory:   evalTerritory,
		CardVersion: evalCardVersion,
	})
	if err != nil {
		return err
	}

	if evalOutput == "report" {
		out, err := report.Render(report.Data{Run: result.Run, Provenance: result.Provenance})
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	}

	return printJSON(struct {
		Run             *core.EvaluationRun    `json:"run"`
		Provenance      *core.ProvenanceRecord `json:"provenance,omitempty"`
		Recommendations []string               `json:"recommendations,omitempty"`
	}{result.Run, result.Provenance, result.Recommendations})
}
