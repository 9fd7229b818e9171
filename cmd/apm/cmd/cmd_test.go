package cmd

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apm-labs/apm/internal/core"
	"github.com/apm-labs/apm/internal/diagnostics"
	"github.com/apm-labs/apm/internal/testutil"
)

func TestRootCmd_Structure(t *testing.T) {
	if rootCmd.Use != "apm" {
		t.Errorf("expected 'apm', got '%s'", rootCmd.Use)
	}
	if rootCmd.Short == "" {
		t.Error("expected non-empty short description")
	}

	subcommands := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		subcommands[c.Name()] = true
	}
	for _, want := range []string{"serve", "evaluate", "runs", "enforce", "watch", "doctor", "snapshot", "init", "version"} {
		if !subcommands[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	for _, flag := range []string{"config", "log-level", "log-format", "no-color", "quiet"} {
		if rootCmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag %q", flag)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3", "abc123def", "2024-01-15")

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	versionCmd.Run(versionCmd, []string{})

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	_, err := buf.ReadFrom(r)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "apm")
	assert.Contains(t, output, "v1.2.3")
	assert.Contains(t, output, "abc123def")
	assert.Contains(t, output, "2024-01-15")
	assert.Equal(t, "v1.2.3", GetVersion())
}

func TestEnforce_ActionValidation(t *testing.T) {
	for action, valid := range map[string]bool{
		"regenerate": true,
		"quarantine": true,
		"escalate":   true,
		"block":      true,
		"override":   true,
		"approve":    false,
		"":           false,
	} {
		if validEnforceActions[action] != valid {
			t.Errorf("action %q: valid=%t, want %t", action, validEnforceActions[action], valid)
		}
	}
}

func TestFindRunByCharacter(t *testing.T) {
	store := testutil.NewMemRunStore()
	for _, run := range []*core.EvaluationRun{
		testutil.NewTestRun(testutil.WithCharacter("mira-voss")),
		testutil.NewTestRun(testutil.WithCharacter("captain-reyes")),
	} {
		require.NoError(t, store.Create(t.Context(), run))
	}

	run, err := findRunByCharacter(t.Context(), store, "reyes")
	require.NoError(t, err)
	assert.Equal(t, core.CharacterID("captain-reyes"), run.CharacterID)

	_, err = findRunByCharacter(t.Context(), store, "zzzz")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestStatusGlyph(t *testing.T) {
	tests := []struct {
		in   diagnostics.Status
		want string
	}{
		{diagnostics.StatusOK, "[ok]"},
		{diagnostics.StatusWarn, "[warn]"},
		{diagnostics.StatusFail, "[fail]"},
	}
	for _, tt := range tests {
		if got := statusGlyph(tt.in); got != tt.want {
			t.Errorf("statusGlyph(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}
