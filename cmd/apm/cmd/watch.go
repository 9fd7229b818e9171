package cmd

import (
	"github.com/spf13/cobra"

	"github.com/apm-labs/apm/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of evaluation runs",
	Long: `Open a terminal dashboard that polls the run store. Supports fuzzy
filtering (/) over run IDs, characters, statuses, and decisions.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return tui.Run(store)
}
