package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apm-labs/apm/internal/core"
)

// MockJudge implements core.Judge for testing.
type MockJudge struct {
	name      string
	scoreFunc func(context.Context, core.JudgeRequest) (*core.JudgeResult, error)
	pingFunc  func(context.Context) error
	calls     []MockCall
	mu        sync.Mutex
}

// MockCall records a call to the mock.
type MockCall struct {
	Method    string
	Args      interface{}
	Timestamp time.Time
}

// NewMockJudge creates a new mock judge.
func NewMockJudge(name string) *MockJudge {
	return &MockJudge{
		name:  name,
		calls: make([]MockCall, 0),
	}
}

// Name returns the mock name.
func (m *MockJudge) Name() string {
	return m.name
}

// Ping mocks availability check.
func (m *MockJudge) Ping(ctx context.Context) error {
	m.recordCall("Ping", nil)
	if m.pingFunc != nil {
		return m.pingFunc(ctx)
	}
	return nil
}

// Score mocks a judge invocation.
func (m *MockJudge) Score(ctx context.Context, req core.JudgeRequest) (*core.JudgeResult, error) {
	m.recordCall("Score", req)
	if m.scoreFunc != nil {
		return m.scoreFunc(ctx, req)
	}
	return &core.JudgeResult{
		Score:     85,
		Reasoning: fmt.Sprintf("mock reasoning for %s", req.CriticID),
		Model:     "mock-model",
		Latency:   time.Millisecond * 10,
	}, nil
}

// WithScoreFunc sets a custom score function.
func (m *MockJudge) WithScoreFunc(fn func(context.Context, core.JudgeRequest) (*core.JudgeResult, error)) *MockJudge {
	m.scoreFunc = fn
	return m
}

// WithPingFunc sets a custom ping function.
func (m *MockJudge) WithPingFunc(fn func(context.Context) error) *MockJudge {
	m.pingFunc = fn
	return m
}

// WithError configures the mock to fail every invocation.
func (m *MockJudge) WithError(err error) *MockJudge {
	m.scoreFunc = func(ctx context.Context, req core.JudgeRequest) (*core.JudgeResult, error) {
		return nil, err
	}
	return m
}

// WithScore configures a fixed score.
func (m *MockJudge) WithScore(score float64, flags ...core.Flag) *MockJudge {
	m.scoreFunc = func(ctx context.Context, req core.JudgeRequest) (*core.JudgeResult, error) {
		return &core.JudgeResult{
			Score:     score,
			Reasoning: "fixed score",
			Flags:     flags,
			Model:     "mock-model",
			Latency:   time.Millisecond * 10,
		}, nil
	}
	return m
}

// Calls returns recorded calls.
func (m *MockJudge) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall{}, m.calls...)
}

// CallCount returns number of calls to a method.
func (m *MockJudge) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears call history.
func (m *MockJudge) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make([]MockCall, 0)
}

func (m *MockJudge) recordCall(method string, args interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method:    method,
		Args:      args,
		Timestamp: time.Now(),
	})
}

// MemRunStore is an in-memory core.RunStore that enforces the same
// transition rules as the SQLite store.
type MemRunStore struct {
	runs        map[core.RunID]*core.EvaluationRun
	provenance  map[core.RunID]*core.ProvenanceRecord
	resolutions map[core.RunID][]core.ReviewResolution
	order       []core.RunID
	failWith    error
	mu          sync.Mutex
}

// NewMemRunStore creates an empty in-memory run store.
func NewMemRunStore() *MemRunStore {
	return &MemRunStore{
		runs:        make(map[core.RunID]*core.EvaluationRun),
		provenance:  make(map[core.RunID]*core.ProvenanceRecord),
		resolutions: make(map[core.RunID][]core.ReviewResolution),
	}
}

// FailWith makes every subsequent store call return err. Pass nil to
// restore normal behaviour.
func (s *MemRunStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Create persists a new pending run.
func (s *MemRunStore) Create(ctx context.Context, run *core.EvaluationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if run.Status != core.StatusPending {
		return core.ErrState(core.CodeInvalidTransition, "new runs must be pending")
	}
	if _, ok := s.runs[run.ID]; ok {
		return core.ErrState("DUPLICATE_RUN", fmt.Sprintf("run %s already exists", run.ID))
	}
	s.runs[run.ID] = cloneRun(run)
	s.order = append(s.order, run.ID)
	return nil
}

// UpdateStatus advances a run, rejecting backward transitions.
func (s *MemRunStore) UpdateStatus(ctx context.Context, id core.RunID, status core.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	run, ok := s.runs[id]
	if !ok {
		return core.ErrNotFound("evaluation_run", string(id))
	}
	if !run.Status.CanTransition(status) {
		return core.ErrState(core.CodeInvalidTransition,
			fmt.Sprintf("cannot move run from %s to %s", run.Status, status))
	}
	run.Status = status
	return nil
}

// AppendCriticResult records one critic outcome on a non-terminal run.
func (s *MemRunStore) AppendCriticResult(ctx context.Context, id core.RunID, result core.CriticResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	run, ok := s.runs[id]
	if !ok {
		return core.ErrNotFound("evaluation_run", string(id))
	}
	if run.Status.Terminal() {
		return core.ErrState(core.CodeRunTerminal, "run is terminal")
	}
	if run.CriticScores == nil {
		run.CriticScores = make(map[core.CriticID]core.CriticResult)
	}
	run.CriticScores[result.CriticID] = result
	return nil
}

// Complete moves a run terminal and stores its provenance record.
func (s *MemRunStore) Complete(ctx context.Context, run *core.EvaluationRun, prov *core.ProvenanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	stored, ok := s.runs[run.ID]
	if !ok {
		return core.ErrNotFound("evaluation_run", string(run.ID))
	}
	if stored.Status.Terminal() {
		return core.ErrState(core.CodeRunTerminal, "run already terminal")
	}
	if !run.Status.Terminal() || run.CompletedAt == nil {
		return core.ErrState(core.CodeInvalidTransition, "complete requires a terminal run")
	}
	s.runs[run.ID] = cloneRun(run)
	if prov != nil {
		s.provenance[run.ID] = prov
	}
	return nil
}

// Get returns a run by id.
func (s *MemRunStore) Get(ctx context.Context, id core.RunID) (*core.EvaluationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	run, ok := s.runs[id]
	if !ok {
		return nil, core.ErrNotFound("evaluation_run", string(id))
	}
	return cloneRun(run), nil
}

// List returns runs newest first, applying the filter.
func (s *MemRunStore) List(ctx context.Context, filter core.RunFilter) ([]*core.EvaluationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	out := make([]*core.EvaluationRun, 0)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		run := s.runs[s.order[i]]
		if filter.CharacterID != "" && run.CharacterID != filter.CharacterID {
			continue
		}
		if filter.Decision != "" && run.Decision != filter.Decision {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, cloneRun(run))
	}
	return out, nil
}

// Provenance returns the stored provenance record.
func (s *MemRunStore) Provenance(ctx context.Context, id core.RunID) (*core.ProvenanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	prov, ok := s.provenance[id]
	if !ok {
		return nil, core.ErrNotFound("provenance_record", string(id))
	}
	return prov, nil
}

// AddResolution appends a review resolution against a terminal run.
func (s *MemRunStore) AddResolution(ctx context.Context, res *core.ReviewResolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	run, ok := s.runs[res.RunID]
	if !ok {
		return core.ErrNotFound("evaluation_run", string(res.RunID))
	}
	if !run.Status.Terminal() {
		return core.ErrState(core.CodeInvalidTransition, "resolutions require a terminal run")
	}
	s.resolutions[res.RunID] = append(s.resolutions[res.RunID], *res)
	return nil
}

// Resolutions returns recorded resolutions for a run.
func (s *MemRunStore) Resolutions(ctx context.Context, id core.RunID) ([]core.ReviewResolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	return append([]core.ReviewResolution{}, s.resolutions[id]...), nil
}

// StuckPending returns pending runs created before the cutoff.
func (s *MemRunStore) StuckPending(ctx context.Context, cutoff time.Time) ([]*core.EvaluationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := make([]*core.EvaluationRun, 0)
	for _, id := range s.order {
		run := s.runs[id]
		if run.Status == core.StatusPending && run.CreatedAt.Before(cutoff) {
			out = append(out, cloneRun(run))
		}
	}
	return out, nil
}

// Len returns the number of stored runs.
func (s *MemRunStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func cloneRun(run *core.EvaluationRun) *core.EvaluationRun {
	cp := *run
	if run.CriticScores != nil {
		cp.CriticScores = make(map[core.CriticID]core.CriticResult, len(run.CriticScores))
		for id, res := range run.CriticScores {
			cp.CriticScores[id] = res
		}
	}
	cp.Flags = append([]core.Flag{}, run.Flags...)
	return &cp
}

// StubCardStore serves fixed card versions keyed by character.
type StubCardStore struct {
	Cards map[core.CharacterID][]core.CharacterCardVersion
}

// NewStubCardStore creates a card store with one active v1 card per
// character.
func NewStubCardStore(ids ...core.CharacterID) *StubCardStore {
	s := &StubCardStore{Cards: make(map[core.CharacterID][]core.CharacterCardVersion)}
	for _, id := range ids {
		s.Add(NewTestCard(id, 1))
	}
	return s
}

// Add registers a card version.
func (s *StubCardStore) Add(card core.CharacterCardVersion) {
	s.Cards[card.CharacterID] = append(s.Cards[card.CharacterID], card)
}

// GetActiveVersion returns the newest version for the character.
func (s *StubCardStore) GetActiveVersion(ctx context.Context, characterID core.CharacterID) (*core.CharacterCardVersion, error) {
	versions := s.Cards[characterID]
	if len(versions) == 0 {
		return nil, core.ErrNotFound("character_card", string(characterID))
	}
	card := versions[len(versions)-1]
	return &card, nil
}

// GetVersion returns a pinned version.
func (s *StubCardStore) GetVersion(ctx context.Context, characterID core.CharacterID, version int) (*core.CharacterCardVersion, error) {
	for _, card := range s.Cards[characterID] {
		if card.Version == version {
			return &card, nil
		}
	}
	return nil, core.ErrNotFound("character_card", fmt.Sprintf("%s@v%d", characterID, version))
}

// StubConsentStore serves fixed consent records keyed by character.
type StubConsentStore struct {
	Consent map[core.CharacterID][]core.ConsentRecord
	Err     error
}

// NewStubConsentStore creates a consent store granting open-ended text
// consent for the given characters.
func NewStubConsentStore(ids ...core.CharacterID) *StubConsentStore {
	s := &StubConsentStore{Consent: make(map[core.CharacterID][]core.ConsentRecord)}
	for _, id := range ids {
		s.Grant(id, core.ModalityText, "")
	}
	return s
}

// Grant adds a ten-year consent window for a character.
func (s *StubConsentStore) Grant(id core.CharacterID, modality core.Modality, territory string) {
	now := time.Now().UTC()
	s.Consent[id] = append(s.Consent[id], core.ConsentRecord{
		CharacterID: id,
		Modality:    modality,
		Territory:   territory,
		ValidFrom:   now.Add(-time.Hour),
		ValidTo:     now.Add(10 * 365 * 24 * time.Hour),
	})
}

// Records returns consent records for a character.
func (s *StubConsentStore) Records(ctx context.Context, characterID core.CharacterID) ([]core.ConsentRecord, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Consent[characterID], nil
}
