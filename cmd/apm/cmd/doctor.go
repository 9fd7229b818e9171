package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/apm-labs/apm/internal/adapters/judge"
	"github.com/apm-labs/apm/internal/core"
	"github.com/apm-labs/apm/internal/diagnostics"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the health of the apm environment",
	Long: `Run environment checks: host memory, disk, and load, run store
reachability, and a ping per configured judge provider.

Exits non-zero when any check fails.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// namedPinger adapts a judge to the diagnostics check interface.
type namedPinger struct {
	name  string
	judge core.Judge
}

func (p namedPinger) Name() string                   { return p.name }
func (p namedPinger) Ping(ctx context.Context) error { return p.judge.Ping(ctx) }

func runDoctor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	registry := judge.NewRegistry()
	_, _ = registry.Get("rules")
	for name, provider := range cfg.Judges.Providers {
		if !provider.Enabled {
			continue
		}
		registry.Configure(name, judge.Config{
			BaseURL: provider.BaseURL,
			APIKey:  provider.APIKey,
			Model:   provider.Model,
		})
	}

	var pingers []diagnostics.Pinger
	for name, j := range registry.All() {
		pingers = append(pingers, namedPinger{name: name, judge: j})
	}
	sort.Slice(pingers, func(i, j int) bool { return pingers[i].Name() < pingers[j].Name() })

	doctor := diagnostics.New(
		diagnostics.WithStore(store, cfg.Store.Path),
		diagnostics.WithJudges(pingers...),
	)
	results := doctor.Run(cmd.Context())

	for _, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%-6s %-16s %s\n", statusGlyph(r.Status), r.Name, r.Detail)
	}

	if !diagnostics.Healthy(results) {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}

func statusGlyph(s diagnostics.Status) string {
	switch s {
	case diagnostics.StatusOK:
		return "[ok]"
	case diagnostics.StatusWarn:
		return "[warn]"
	default:
		return "[fail]"
	}
}
