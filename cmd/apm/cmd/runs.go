package cmd

import (
	"context"
	"fmt"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/apm-labs/apm/internal/core"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored evaluation runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id-or-character>",
	Short: "Show one run with its critic scores and flags",
	Long: `Show a run by ID. When the argument is not a run ID, it is fuzzy
matched against character IDs and the newest matching run is shown.`,
	Args: cobra.ExactArgs(1),
	RunE: runRunsShow,
}

var runsProvenanceCmd = &cobra.Command{
	Use:   "provenance <run-id>",
	Short: "Show the provenance record of a completed run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsProvenance,
}

var runsResolutionsCmd = &cobra.Command{
	Use:   "resolutions <run-id>",
	Short: "List review resolutions recorded against a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsResolutions,
}

var (
	runsCharacter string
	runsDecision  string
	runsStatus    string
	runsLimit     int
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsProvenanceCmd)
	runsCmd.AddCommand(runsResolutionsCmd)

	runsListCmd.Flags().StringVar(&runsCharacter, "character", "", "Filter by character ID")
	runsListCmd.Flags().StringVar(&runsDecision, "decision", "", "Filter by decision")
	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "Filter by status")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to return")
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.List(cmd.Context(), core.RunFilter{
		CharacterID: core.CharacterID(runsCharacter),
		Decision:    core.Decision(runsDecision),
		Status:      core.RunStatus(runsStatus),
		Limit:       runsLimit,
	})
	if err != nil {
		return err
	}

	if quiet {
		for _, run := range runs {
			fmt.Fprintln(cmd.OutOrStdout(), run.ID)
		}
		return nil
	}
	return printJSON(runs)
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := store.Get(cmd.Context(), core.RunID(args[0]))
	if err != nil {
		if !core.IsCategory(err, core.ErrCatNotFound) {
			return err
		}
		run, err = findRunByCharacter(cmd.Context(), store, args[0])
		if err != nil {
			return err
		}
	}
	return printJSON(run)
}

// findRunByCharacter fuzzy-matches the query against recent characters
// and returns their newest run.
func findRunByCharacter(ctx context.Context, store runLister, query string) (*core.EvaluationRun, error) {
	runs, err := store.List(ctx, core.RunFilter{Limit: 200})
	if err != nil {
		return nil, err
	}

	characters := make([]string, len(runs))
	for i, run := range runs {
		characters[i] = string(run.CharacterID)
	}
	matches := fuzzy.Find(query, characters)
	if len(matches) == 0 {
		return nil, core.ErrNotFound("run", query)
	}
	// Runs are newest first, and fuzzy matches preserve ranking; take
	// the best match's run.
	return runs[matches[0].Index], nil
}

type runLister interface {
	List(ctx context.Context, filter core.RunFilter) ([]*core.EvaluationRun, error)
}

func runRunsProvenance(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	prov, err := store.Provenance(cmd.Context(), core.RunID(args[0]))
	if err != nil {
		return err
	}
	return printJSON(prov)
}

func runRunsResolutions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	resolutions, err := store.Resolutions(cmd.Context(), core.RunID(args[0]))
	if err != nil {
		return err
	}
	return printJSON(resolutions)
}
