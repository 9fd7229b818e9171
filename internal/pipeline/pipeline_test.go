package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/apm-labs/apm/internal/consent"
	"github.com/apm-labs/apm/internal/core"
	"github.com/apm-labs/apm/internal/critic"
	"github.com/apm-labs/apm/internal/events"
	"github.com/apm-labs/apm/internal/policy"
)

// ---------------------------------------------------------------------------
// Stub collaborators
// ---------------------------------------------------------------------------

type stubCardStore struct {
	card *core.CharacterCardVersion
}

func (s *stubCardStore) GetActiveVersion(_ context.Context, id core.CharacterID) (*core.CharacterCardVersion, error) {
	if s.card == nil || s.card.CharacterID != id {
		return nil, core.ErrNotFound("character_card", string(id))
	}
	return s.card, nil
}

func (s *stubCardStore) GetVersion(_ context.Context, id core.CharacterID, version int) (*core.CharacterCardVersion, error) {
	if s.card == nil || s.card.CharacterID != id || s.card.Version != version {
		return nil, core.ErrNotFound("card_version", string(id))
	}
	return s.card, nil
}

type stubConsent struct {
	records []core.ConsentRecord
	err     error
}

func (s *stubConsent) Records(context.Context, core.CharacterID) ([]core.ConsentRecord, error) {
	return s.records, s.err
}

// memRunStore is an in-memory core.RunStore good enough to observe the
// pipeline's persistence calls.
type memRunStore struct {
	mu         sync.Mutex
	runs       map[core.RunID]*core.EvaluationRun
	prov       map[core.RunID]*core.ProvenanceRecord
	appended   int
	completeAt time.Time
}

func newMemRunStore() *memRunStore {
	return &memRunStore{
		runs: make(map[core.RunID]*core.EvaluationRun),
		prov: make(map[core.RunID]*core.ProvenanceRecord),
	}
}

func (m *memRunStore) Create(_ context.Context, run *core.EvaluationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memRunStore) UpdateStatus(_ context.Context, id core.RunID, status core.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return core.ErrNotFound("run", string(id))
	}
	if !run.Status.CanTransition(status) {
		return core.ErrState(core.CodeInvalidTransition, "illegal transition")
	}
	run.Status = status
	return nil
}

func (m *memRunStore) AppendCriticResult(_ context.Context, id core.RunID, _ core.CriticResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return core.ErrNotFound("run", string(id))
	}
	m.appended++
	return nil
}

func (m *memRunStore) Complete(_ context.Context, run *core.EvaluationRun, prov *core.ProvenanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	m.prov[run.ID] = prov
	m.completeAt = time.Now()
	return nil
}

func (m *memRunStore) Get(_ context.Context, id core.RunID) (*core.EvaluationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, core.ErrNotFound("run", string(id))
	}
	return run, nil
}

func (m *memRunStore) List(context.Context, core.RunFilter) ([]*core.EvaluationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.EvaluationRun, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run)
	}
	return out, nil
}

func (m *memRunStore) Provenance(_ context.Context, id core.RunID) (*core.ProvenanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prov, ok := m.prov[id]
	if !ok {
		return nil, core.ErrNotFound("provenance", string(id))
	}
	return prov, nil
}

func (m *memRunStore) AddResolution(context.Context, *core.ReviewResolution) error {
	return nil
}

func (m *memRunStore) StuckPending(_ context.Context, cutoff time.Time) ([]*core.EvaluationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stuck []*core.EvaluationRun
	for _, run := range m.runs {
		if run.Status == core.StatusPending && run.CreatedAt.Before(cutoff) {
			stuck = append(stuck, run)
		}
	}
	return stuck, nil
}

// scoringJudge returns a fixed score for every invocation and counts calls.
type scoringJudge struct {
	score float64
	flags []core.Flag
	calls int
	mu    sync.Mutex
}

func (j *scoringJudge) Name() string               { return "stub" }
func (j *scoringJudge) Ping(context.Context) error { return nil }

func (j *scoringJudge) Score(_ context.Context, _ core.JudgeRequest) (*core.JudgeResult, error) {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()
	return &core.JudgeResult{Score: j.score, Flags: j.flags, Model: "stub-v1"}, nil
}

func (j *scoringJudge) callCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	pipeline *Pipeline
	store    *memRunStore
	judge    *scoringJudge
	orch     *critic.Orchestrator
}

func newFixture(t *testing.T, judge *scoringJudge, profile core.EvaluationProfile, opts ...Option) *fixture {
	t.Helper()

	card := &core.CharacterCardVersion{
		CharacterID: "char-1",
		Version:     3,
		Status:      core.CardActive,
		Packs:       core.CardPacks{Canon: "stay in character", Legal: "no off-brand use", Safety: "no harm"},
		PublishedAt: time.Now().Add(-24 * time.Hour),
	}
	cards := &stubCardStore{card: card}

	gate := consent.NewGate(&stubConsent{records: []core.ConsentRecord{{
		CharacterID: "char-1",
		Modality:    core.ModalityText,
		Territory:   "US",
		ValidFrom:   time.Now().Add(-time.Hour),
		ValidTo:     time.Now().Add(time.Hour),
	}}})

	registry := critic.NewRegistry(10 * time.Second)
	for _, id := range []core.CriticID{"canon", "legal", "safety"} {
		registry.Define(critic.Definition{ID: id, Weight: 1, Provider: "stub"})
	}
	registry.Define(critic.Definition{ID: "screen", Weight: 1, Threshold: 40, Provider: "stub"})

	orch := critic.NewOrchestrator(
		map[string]core.Judge{"stub": judge},
		registry,
		critic.NewPromptRenderer(),
		4,
	)

	store := newMemRunStore()
	bus := events.New(16)
	t.Cleanup(bus.Close)

	engine := policy.NewEngine(policy.DefaultBands())

	opts = append([]Option{WithSampler(NewSeededSampler(1))}, opts...)
	p := New(cards, gate, registry, orch, store, bus, engine, profile, opts...)
	return &fixture{pipeline: p, store: store, judge: judge, orch: orch}
}

func flatProfile() core.EvaluationProfile {
	return core.EvaluationProfile{
		SamplingRate:     1.0,
		TieredEvaluation: false,
		CriticIDs:        []core.CriticID{"canon", "legal", "safety"},
	}
}

func textRequest() Request {
	return Request{
		CharacterID: "char-1",
		Content:     "Greetings, traveler.",
		ContentRef:  "msg-001",
		Modality:    core.ModalityText,
		Territory:   "US",
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestEvaluate_FlatPass(t *testing.T) {
	f := newFixture(t, &scoringJudge{score: 95}, flatProfile())

	res, err := f.pipeline.Evaluate(context.Background(), textRequest())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Run.Status != core.StatusCompleted {
		t.Errorf("status = %s, want completed", res.Run.Status)
	}
	if res.Run.Decision != core.DecisionPass {
		t.Errorf("decision = %s, want pass", res.Run.Decision)
	}
	if res.Run.OverallScore == nil || *res.Run.OverallScore != 95 {
		t.Errorf("overall score = %v, want 95", res.Run.OverallScore)
	}
	if !res.Run.ConsentVerified {
		t.Error("consent should be verified")
	}
	if res.Provenance == nil || res.Provenance.PayloadHash == "" {
		t.Error("expected provenance with payload hash")
	}
	if f.judge.callCount() != 3 {
		t.Errorf("judge calls = %d, want 3", f.judge.callCount())
	}
	if f.store.appended != 3 {
		t.Errorf("appended results = %d, want 3", f.store.appended)
	}
}

func TestEvaluate_ConsentBlockInvokesNoCritics(t *testing.T) {
	f := newFixture(t, &scoringJudge{score: 95}, flatProfile())

	req := textRequest()
	req.Modality = core.ModalityImage // no consent record for image

	res, err := f.pipeline.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Run.Status != core.StatusBlocked {
		t.Errorf("status = %s, want blocked", res.Run.Status)
	}
	if res.Run.Decision != core.DecisionBlock {
		t.Errorf("decision = %s, want block", res.Run.Decision)
	}
	if res.Run.ConsentVerified {
		t.Error("consent must not be marked verified")
	}
	if f.judge.callCount() != 0 {
		t.Errorf("judge calls = %d, want 0: no critic may run after a consent block", f.judge.callCount())
	}
	if f.orch.InvocationCount() != 0 {
		t.Errorf("orchestrator invocations = %d, want 0", f.orch.InvocationCount())
	}
	if res.Provenance == nil {
		t.Error("blocked runs still get provenance")
	}
}

func TestEvaluate_SamplingExclusion(t *testing.T) {
	profile := flatProfile()
	profile.SamplingRate = 0 // nothing sampled in

	f := newFixture(t, &scoringJudge{score: 95}, profile)

	res, err := f.pipeline.Evaluate(context.Background(), textRequest())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Run.Decision != core.DecisionSampledPass {
		t.Errorf("decision = %s, want sampled-pass", res.Run.Decision)
	}
	if !res.Run.Sampled {
		t.Error("run should be marked sampled out")
	}
	if res.Run.Status != core.StatusCompleted {
		t.Errorf("status = %s, want completed", res.Run.Status)
	}
	if f.judge.callCount() != 0 {
		t.Errorf("judge calls = %d, want 0 for a sampled-out run", f.judge.callCount())
	}
}

func TestEvaluate_ConsentBeatsSampling(t *testing.T) {
	// Even with a zero sampling rate, a consent-ineligible request must
	// come back block, never sampled-pass.
	profile := flatProfile()
	profile.SamplingRate = 0

	f := newFixture(t, &scoringJudge{score: 95}, profile)

	req := textRequest()
	req.Modality = core.ModalityImage

	res, err := f.pipeline.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Run.Decision != core.DecisionBlock {
		t.Errorf("decision = %s, want block", res.Run.Decision)
	}
	if res.Run.Sampled {
		t.Error("blocked run must not be marked sampled")
	}
}

func TestEvaluate_TieredRapidScreenRejects(t *testing.T) {
	profile := core.EvaluationProfile{
		SamplingRate:     1.0,
		TieredEvaluation: true,
		RapidScreenIDs:   []core.CriticID{"screen"},
		DeepEvalIDs:      []core.CriticID{"canon", "legal", "safety"},
	}
	// Score 20 is below the screen critic's threshold of 40.
	f := newFixture(t, &scoringJudge{score: 20}, profile)

	res, err := f.pipeline.Evaluate(context.Background(), textRequest())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if f.judge.callCount() != 1 {
		t.Errorf("judge calls = %d, want 1: deep stage must be skipped", f.judge.callCount())
	}
	if !res.Run.Decision.Rejecting() {
		t.Errorf("decision = %s, want a rejecting decision", res.Run.Decision)
	}
	if res.Run.Status != core.StatusCompleted {
		t.Errorf("status = %s, want completed", res.Run.Status)
	}
}

func TestEvaluate_TieredPassRunsBothStages(t *testing.T) {
	profile := core.EvaluationProfile{
		SamplingRate:     1.0,
		TieredEvaluation: true,
		RapidScreenIDs:   []core.CriticID{"screen"},
		DeepEvalIDs:      []core.CriticID{"canon", "legal", "safety"},
	}
	f := newFixture(t, &scoringJudge{score: 92}, profile)

	res, err := f.pipeline.Evaluate(context.Background(), textRequest())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if f.judge.callCount() != 4 {
		t.Errorf("judge calls = %d, want 4 (1 rapid + 3 deep)", f.judge.callCount())
	}
	if res.Run.Decision != core.DecisionPass {
		t.Errorf("decision = %s, want pass", res.Run.Decision)
	}
	// Rapid-screen scores join the aggregate alongside deep scores.
	if len(res.Run.CriticScores) != 4 {
		t.Errorf("critic scores = %d, want 4", len(res.Run.CriticScores))
	}
}

func TestEvaluate_TieredEmptyRapidSetDegradesToFlat(t *testing.T) {
	profile := core.EvaluationProfile{
		SamplingRate:     1.0,
		TieredEvaluation: true,
		RapidScreenIDs:   nil,
		DeepEvalIDs:      []core.CriticID{"canon", "legal"},
	}
	f := newFixture(t, &scoringJudge{score: 92}, profile)

	res, err := f.pipeline.Evaluate(context.Background(), textRequest())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if f.judge.callCount() != 2 {
		t.Errorf("judge calls = %d, want 2", f.judge.callCount())
	}
	if res.Run.Decision != core.DecisionPass {
		t.Errorf("decision = %s, want pass", res.Run.Decision)
	}
}

func TestEvaluate_CriticalFlagOverridesScore(t *testing.T) {
	judge := &scoringJudge{
		score: 96,
		flags: []core.Flag{{Code: "UNDERAGE_CONTEXT", Severity: core.SeverityCritical, Message: "minors present"}},
	}
	f := newFixture(t, judge, flatProfile())

	res, err := f.pipeline.Evaluate(context.Background(), textRequest())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Run.Decision != core.DecisionBlock {
		t.Errorf("decision = %s, want block despite high score", res.Run.Decision)
	}
}

func TestEvaluate_ValidationErrors(t *testing.T) {
	f := newFixture(t, &scoringJudge{score: 95}, flatProfile())

	tests := []struct {
		name   string
		mutate func(*Request)
		code   string
	}{
		{"empty character", func(r *Request) { r.CharacterID = "" }, core.CodeEmptyCharacter},
		{"empty content", func(r *Request) { r.Content = ""; r.ContentRef = "" }, core.CodeEmptyContent},
		{"bad modality", func(r *Request) { r.Modality = "hologram" }, core.CodeInvalidModality},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := textRequest()
			tt.mutate(&req)
			_, err := f.pipeline.Evaluate(context.Background(), req)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var derr *core.DomainError
			if !errors.As(err, &derr) || derr.Code != tt.code {
				t.Errorf("error = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestEvaluate_UnknownCharacter(t *testing.T) {
	f := newFixture(t, &scoringJudge{score: 95}, flatProfile())

	req := textRequest()
	req.CharacterID = "nobody"
	_, err := f.pipeline.Evaluate(context.Background(), req)
	if err == nil {
		t.Fatal("expected not-found error")
	}
	if !core.IsCategory(err, core.ErrCatNotFound) {
		t.Errorf("error category = %v, want not_found", core.GetCategory(err))
	}
}

func TestEvaluate_PinnedCardVersion(t *testing.T) {
	f := newFixture(t, &scoringJudge{score: 95}, flatProfile())

	req := textRequest()
	req.CardVersion = 3
	res, err := f.pipeline.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Run.CardVersion != 3 {
		t.Errorf("card version = %d, want 3", res.Run.CardVersion)
	}

	req.CardVersion = 99
	if _, err := f.pipeline.Evaluate(context.Background(), req); err == nil {
		t.Fatal("expected error for unknown pinned version")
	}
}

func TestEvaluate_HotSwapProfile(t *testing.T) {
	f := newFixture(t, &scoringJudge{score: 95}, flatProfile())

	next := flatProfile()
	next.SamplingRate = 0
	f.pipeline.SetProfile(next)

	res, err := f.pipeline.Evaluate(context.Background(), textRequest())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Run.Decision != core.DecisionSampledPass {
		t.Errorf("decision = %s, want sampled-pass after profile swap", res.Run.Decision)
	}
}

func TestReaper_SweepEscalatesStuckRuns(t *testing.T) {
	store := newMemRunStore()
	bus := events.New(16)
	defer bus.Close()

	old := &core.EvaluationRun{
		ID:          "stuck-1",
		CharacterID: "char-1",
		Status:      core.StatusPending,
		CreatedAt:   time.Now().Add(-time.Hour),
	}
	fresh := &core.EvaluationRun{
		ID:          "fresh-1",
		CharacterID: "char-1",
		Status:      core.StatusPending,
		CreatedAt:   time.Now(),
	}
	if err := store.Create(context.Background(), old); err != nil {
		t.Fatal(err)
	}
	if err := store.Create(context.Background(), fresh); err != nil {
		t.Fatal(err)
	}

	reaper := NewReaper(store, bus, WithReaperMaxAge(10*time.Minute))
	if err := reaper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	got, err := store.Get(context.Background(), "stuck-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != core.StatusCompleted {
		t.Errorf("stuck run status = %s, want completed", got.Status)
	}
	if got.Decision != core.DecisionEscalate {
		t.Errorf("stuck run decision = %s, want escalate", got.Decision)
	}
	if got.CompletedAt == nil {
		t.Error("stuck run should have a completion time")
	}
	if _, err := store.Provenance(context.Background(), "stuck-1"); err != nil {
		t.Errorf("reaped run should have provenance: %v", err)
	}

	untouched, err := store.Get(context.Background(), "fresh-1")
	if err != nil {
		t.Fatal(err)
	}
	if untouched.Status != core.StatusPending {
		t.Errorf("fresh run status = %s, want pending", untouched.Status)
	}
}
