package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/apm-labs/apm/internal/core"
)

var enforceCmd = &cobra.Command{
	Use:   "enforce <run-id>",
	Short: "Record an enforcement action against a completed run",
	Long: `Record an enforcement action as a review resolution. The run itself
stays immutable; resolutions form a side ledger of human decisions.

Valid actions: regenerate, quarantine, escalate, block, override.
An override must carry a reason.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnforce,
}

var (
	enforceAction     string
	enforceReason     string
	enforceResolvedBy string
)

var validEnforceActions = map[string]bool{
	"regenerate": true,
	"quarantine": true,
	"escalate":   true,
	"block":      true,
	"override":   true,
}

func init() {
	rootCmd.AddCommand(enforceCmd)

	enforceCmd.Flags().StringVarP(&enforceAction, "action", "a", "", "Enforcement action (required)")
	enforceCmd.Flags().StringVar(&enforceReason, "reason", "", "Reason (required for override)")
	enforceCmd.Flags().StringVar(&enforceResolvedBy, "resolved-by", "", "Reviewer identity")
	_ = enforceCmd.MarkFlagRequired("action")
}

func runEnforce(cmd *cobra.Command, args []string) error {
	if !validEnforceActions[enforceAction] {
		return fmt.Errorf("invalid action %q: must be one of regenerate, quarantine, escalate, block, override", enforceAction)
	}
	if enforceAction == "override" && strings.TrimSpace(enforceReason) == "" {
		return fmt.Errorf("override requires --reason")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	res := &core.ReviewResolution{
		ID:         uuid.NewString(),
		RunID:      core.RunID(args[0]),
		Action:     enforceAction,
		Reason:     enforceReason,
		ResolvedBy: enforceResolvedBy,
		ResolvedAt: time.Now().UTC(),
	}
	if err := store.AddResolution(cmd.Context(), res); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s against run %s\n", enforceAction, args[0])
	return nil
}
