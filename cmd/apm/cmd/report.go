package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apm-labs/apm/internal/clip"
	"github.com/apm-labs/apm/internal/core"
	"github.com/apm-labs/apm/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Render a styled report for an evaluation run",
	Long: `Render a run report with critic scores, flags, provenance, and review
resolutions. Use --markdown for plain markdown output, or --copy to put
the markdown on the clipboard.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

var (
	reportMarkdown bool
	reportCopy     bool
)

func init() {
	runsCmd.AddCommand(reportCmd)

	reportCmd.Flags().BoolVar(&reportMarkdown, "markdown", false, "Emit plain markdown instead of styled output")
	reportCmd.Flags().BoolVar(&reportCopy, "copy", false, "Copy the markdown report to the clipboard")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	id := core.RunID(args[0])
	run, err := store.Get(cmd.Context(), id)
	if err != nil {
		return err
	}

	data := report.Data{Run: run}
	// Provenance and resolutions only exist for terminal runs.
	if prov, err := store.Provenance(cmd.Context(), id); err == nil {
		data.Provenance = prov
	}
	if resolutions, err := store.Resolutions(cmd.Context(), id); err == nil {
		data.Resolutions = resolutions
	}

	md := report.Markdown(data)

	if reportCopy {
		result, err := clip.WriteAll(md)
		if err != nil {
			return fmt.Errorf("copying report: %w", err)
		}
		switch result.Method {
		case clip.MethodFile:
			fmt.Fprintf(cmd.ErrOrStderr(), "Clipboard unavailable, report written to %s\n", result.FilePath)
		default:
			fmt.Fprintf(cmd.ErrOrStderr(), "Report copied to clipboard (%s)\n", result.Method)
		}
	}

	if reportMarkdown {
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	}

	out, err := report.Render(data)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}
