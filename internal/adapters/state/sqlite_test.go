package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/apm-labs/apm/internal/core"
	"github.com/apm-labs/apm/internal/provenance"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func pendingRun(id core.RunID) *core.EvaluationRun {
	return &core.EvaluationRun{
		ID:           id,
		CharacterID:  "char-1",
		CardVersion:  2,
		AgentID:      "agent-7",
		Modality:     core.ModalityText,
		ContentRef:   "msg-42",
		Territory:    "US",
		Status:       core.StatusPending,
		CriticScores: make(map[core.CriticID]core.CriticResult),
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func scored(criticID core.CriticID, score float64, stage string) core.CriticResult {
	return core.CriticResult{
		CriticID: criticID,
		Score:    &score,
		Weight:   1,
		Stage:    stage,
		Attempts: 1,
		Latency:  120 * time.Millisecond,
	}
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := pendingRun("run-1")
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CharacterID != "char-1" || got.Status != core.StatusPending {
		t.Errorf("got %+v", got)
	}
	if got.CardVersion != 2 {
		t.Errorf("card version = %d, want 2", got.CardVersion)
	}
	if got.Territory != "US" {
		t.Errorf("territory = %q, want US", got.Territory)
	}
}

func TestSQLiteStore_CreateRejectsDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, pendingRun("run-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, pendingRun("run-1")); err == nil {
		t.Fatal("expected duplicate create to fail")
	}
}

func TestSQLiteStore_CreateRejectsNonPending(t *testing.T) {
	store := newTestStore(t)

	run := pendingRun("run-1")
	run.Status = core.StatusCompleted
	if err := store.Create(context.Background(), run); err == nil {
		t.Fatal("expected non-pending create to fail")
	}
}

func TestSQLiteStore_StatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []core.RunStatus
		wantErr bool
	}{
		{"full forward path", []core.RunStatus{core.StatusRapidScreen, core.StatusDeepEval, core.StatusCompleted}, false},
		{"skip rapid screen", []core.RunStatus{core.StatusDeepEval, core.StatusCompleted}, false},
		{"straight to blocked", []core.RunStatus{core.StatusBlocked}, false},
		{"backward", []core.RunStatus{core.StatusDeepEval, core.StatusRapidScreen}, true},
		{"out of terminal", []core.RunStatus{core.StatusCompleted, core.StatusDeepEval}, true},
		{"self transition", []core.RunStatus{core.StatusDeepEval, core.StatusDeepEval}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			ctx := context.Background()
			id := core.RunID("run-" + tt.name)

			run := pendingRun(id)
			if err := store.Create(ctx, run); err != nil {
				t.Fatalf("Create: %v", err)
			}

			var err error
			for _, status := range tt.path {
				if err = store.UpdateStatus(ctx, id, status); err != nil {
					break
				}
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestSQLiteStore_UpdateStatusUnknownRun(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateStatus(context.Background(), "ghost", core.StatusDeepEval)
	if !core.IsCategory(err, core.ErrCatNotFound) {
		t.Errorf("error = %v, want not_found", err)
	}
}

func TestSQLiteStore_AppendCriticResult(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := pendingRun("run-1")
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.UpdateStatus(ctx, run.ID, core.StatusDeepEval); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	if err := store.AppendCriticResult(ctx, run.ID, scored("canon", 80, "deep_eval")); err != nil {
		t.Fatalf("AppendCriticResult: %v", err)
	}
	// Re-append replaces, not duplicates.
	if err := store.AppendCriticResult(ctx, run.ID, scored("canon", 85, "deep_eval")); err != nil {
		t.Fatalf("AppendCriticResult (replace): %v", err)
	}

	got, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.CriticScores) != 1 {
		t.Fatalf("critic scores = %d, want 1", len(got.CriticScores))
	}
	if *got.CriticScores["canon"].Score != 85 {
		t.Errorf("score = %v, want 85", *got.CriticScores["canon"].Score)
	}
}

func TestSQLiteStore_TerminalRunsAreFrozen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := completedRun(t, store, "run-1", 88)

	if err := store.AppendCriticResult(ctx, run.ID, scored("late", 10, "deep_eval")); err == nil {
		t.Error("append on terminal run must fail")
	}
	if err := store.UpdateStatus(ctx, run.ID, core.StatusDeepEval); err == nil {
		t.Error("status change on terminal run must fail")
	}
	if err := store.Complete(ctx, run, nil); err == nil {
		t.Error("double complete must fail")
	}
}

// completedRun creates and completes a run with one scored critic.
func completedRun(t *testing.T, store *SQLiteStore, id core.RunID, score float64) *core.EvaluationRun {
	t.Helper()
	ctx := context.Background()

	run := pendingRun(id)
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}
	run.CriticScores["canon"] = scored("canon", score, "deep_eval")
	run.OverallScore = &score
	run.Decision = core.DecisionPass
	run.Status = core.StatusCompleted
	completed := time.Now().UTC().Truncate(time.Second)
	run.CompletedAt = &completed

	prov, err := provenance.Embed(run)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if err := store.Complete(ctx, run, prov); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	return run
}

func TestSQLiteStore_CompletePersistsEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := pendingRun("run-1")
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}

	score := 45.0
	res := scored("safety", 40, "deep_eval")
	res.Flags = []core.Flag{{CriticID: "safety", Code: "WEAPON_REFERENCE", Severity: core.SeverityWarning, Message: "weapon mention"}}
	run.CriticScores["safety"] = res
	run.OverallScore = &score
	run.Decision = core.DecisionQuarantine
	run.Status = core.StatusCompleted
	completed := time.Now().UTC().Truncate(time.Second)
	run.CompletedAt = &completed

	prov, err := provenance.Embed(run)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if err := store.Complete(ctx, run, prov); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Decision != core.DecisionQuarantine {
		t.Errorf("decision = %s, want quarantine", got.Decision)
	}
	if got.OverallScore == nil || *got.OverallScore != 45 {
		t.Errorf("overall score = %v, want 45", got.OverallScore)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at missing")
	}
	flags := got.AllFlags()
	if len(flags) != 1 || flags[0].Code != "WEAPON_REFERENCE" {
		t.Errorf("flags = %+v", flags)
	}

	stored, err := store.Provenance(ctx, run.ID)
	if err != nil {
		t.Fatalf("Provenance: %v", err)
	}
	if stored.PayloadHash != prov.PayloadHash {
		t.Errorf("payload hash mismatch: %s vs %s", stored.PayloadHash, prov.PayloadHash)
	}
	ok, err := provenance.Verify(stored)
	if err != nil || !ok {
		t.Errorf("stored provenance failed verification: ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStore_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, id := range []core.RunID{"run-a", "run-b", "run-c"} {
		run := pendingRun(id)
		run.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if id == "run-c" {
			run.CharacterID = "char-2"
		}
		if err := store.Create(ctx, run); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	completedRun(t, store, "run-d", 92)

	all, err := store.List(ctx, core.RunFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("all runs = %d, want 4", len(all))
	}

	byChar, err := store.List(ctx, core.RunFilter{CharacterID: "char-2"})
	if err != nil {
		t.Fatalf("List by character: %v", err)
	}
	if len(byChar) != 1 || byChar[0].ID != "run-c" {
		t.Errorf("byChar = %+v", byChar)
	}

	byDecision, err := store.List(ctx, core.RunFilter{Decision: core.DecisionPass})
	if err != nil {
		t.Fatalf("List by decision: %v", err)
	}
	if len(byDecision) != 1 || byDecision[0].ID != "run-d" {
		t.Errorf("byDecision = %+v", byDecision)
	}

	limited, err := store.List(ctx, core.RunFilter{Limit: 2})
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited = %d, want 2", len(limited))
	}
}

func TestSQLiteStore_Resolutions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := completedRun(t, store, "run-1", 30)

	res := &core.ReviewResolution{
		ID:         "res-1",
		RunID:      run.ID,
		Action:     "overturn",
		Reason:     "false positive on canon pack",
		ResolvedBy: "reviewer-3",
		ResolvedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := store.AddResolution(ctx, res); err != nil {
		t.Fatalf("AddResolution: %v", err)
	}

	// The run is untouched by the resolution.
	got, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Decision != core.DecisionPass {
		t.Errorf("decision changed to %s after resolution", got.Decision)
	}

	list, err := store.Resolutions(ctx, run.ID)
	if err != nil {
		t.Fatalf("Resolutions: %v", err)
	}
	if len(list) != 1 || list[0].Action != "overturn" {
		t.Errorf("resolutions = %+v", list)
	}
}

func TestSQLiteStore_ResolutionRequiresTerminalRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, pendingRun("run-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := store.AddResolution(ctx, &core.ReviewResolution{
		ID: "res-1", RunID: "run-1", Action: "confirm", ResolvedAt: time.Now(),
	})
	if err == nil {
		t.Fatal("expected resolution on pending run to fail")
	}
}

func TestSQLiteStore_StuckPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := pendingRun("run-old")
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	fresh := pendingRun("run-fresh")
	if err := store.Create(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := store.Create(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	stuck, err := store.StuckPending(ctx, time.Now().UTC().Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("StuckPending: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != "run-old" {
		t.Errorf("stuck = %+v", stuck)
	}
}

func TestSQLiteStore_Cards(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	v1 := &core.CharacterCardVersion{
		CharacterID: "char-1",
		Version:     1,
		Packs:       core.CardPacks{Canon: "v1 canon", Legal: "v1 legal", Safety: "v1 safety"},
		PublishedAt: time.Now().UTC().Add(-time.Hour).Truncate(time.Second),
	}
	if err := store.PublishCard(ctx, v1); err != nil {
		t.Fatalf("PublishCard v1: %v", err)
	}

	v2 := &core.CharacterCardVersion{
		CharacterID: "char-1",
		Version:     2,
		Packs:       core.CardPacks{Canon: "v2 canon", Legal: "v2 legal", Safety: "v2 safety", Visual: "v2 visual"},
		PublishedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := store.PublishCard(ctx, v2); err != nil {
		t.Fatalf("PublishCard v2: %v", err)
	}

	active, err := store.GetActiveVersion(ctx, "char-1")
	if err != nil {
		t.Fatalf("GetActiveVersion: %v", err)
	}
	if active.Version != 2 {
		t.Errorf("active version = %d, want 2", active.Version)
	}
	if active.Packs.Visual != "v2 visual" {
		t.Errorf("visual pack = %q", active.Packs.Visual)
	}

	// The archived version stays readable for pinned comparisons.
	pinned, err := store.GetVersion(ctx, "char-1", 1)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if pinned.Packs.Canon != "v1 canon" {
		t.Errorf("pinned canon = %q", pinned.Packs.Canon)
	}
	if pinned.Status != core.CardArchived {
		t.Errorf("pinned status = %s, want archived", pinned.Status)
	}

	if _, err := store.GetActiveVersion(ctx, "nobody"); !core.IsCategory(err, core.ErrCatNotFound) {
		t.Errorf("unknown character error = %v, want not_found", err)
	}
}

func TestSQLiteStore_Consent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := core.ConsentRecord{
		CharacterID: "char-1",
		Modality:    core.ModalityText,
		Territory:   "US",
		ValidFrom:   time.Now().UTC().Add(-time.Hour).Truncate(time.Second),
		ValidTo:     time.Now().UTC().Add(time.Hour).Truncate(time.Second),
	}
	if err := store.UpsertConsent(ctx, rec); err != nil {
		t.Fatalf("UpsertConsent: %v", err)
	}

	records, err := store.Records(ctx, "char-1")
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 || records[0].Territory != "US" {
		t.Errorf("records = %+v", records)
	}

	// Upserting the same scope replaces rather than duplicates.
	rec.ValidTo = rec.ValidTo.Add(time.Hour)
	if err := store.UpsertConsent(ctx, rec); err != nil {
		t.Fatalf("UpsertConsent (replace): %v", err)
	}
	records, err = store.Records(ctx, "char-1")
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1 after replace", len(records))
	}

	if err := store.SetStrike(ctx, "char-1", true); err != nil {
		t.Fatalf("SetStrike: %v", err)
	}
	records, err = store.Records(ctx, "char-1")
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if !records[0].StrikeActive {
		t.Error("strike flag not persisted")
	}
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	completedRun(t, store, "run-1", 77)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Status != core.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}
