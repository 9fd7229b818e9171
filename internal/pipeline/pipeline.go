// Package pipeline coordinates one evaluation run end to end: consent
// hard gate, sampling, tiered critic orchestration, decision derivation,
// provenance embedding, and persistence. Each run is driven by a single
// coordinating goroutine; concurrency lives inside the critic
// orchestrator's shared worker pool.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apm-labs/apm/internal/consent"
	"github.com/apm-labs/apm/internal/core"
	"github.com/apm-labs/apm/internal/critic"
	"github.com/apm-labs/apm/internal/events"
	"github.com/apm-labs/apm/internal/logging"
	"github.com/apm-labs/apm/internal/policy"
	"github.com/apm-labs/apm/internal/provenance"
)

// Request is a content evaluation request.
type Request struct {
	CharacterID core.CharacterID
	Content     string
	ContentRef  string
	Modality    core.Modality
	AgentID     string
	Territory   string

	// CardVersion pins a specific card version (comparison mode).
	// Zero means the active version.
	CardVersion int
}

// Result is the outcome of a pipeline execution.
type Result struct {
	Run             *core.EvaluationRun
	Provenance      *core.ProvenanceRecord
	Recommendations []string
}

// Pipeline wires the stages together. The orchestrator's worker pool,
// breakers, and limiters are shared across concurrent Evaluate calls;
// everything else is per-run state owned by the coordinating goroutine.
type Pipeline struct {
	cards    core.CardStore
	gate     *consent.Gate
	sampler  *Sampler
	resolver core.CriticResolver
	orch     *critic.Orchestrator
	store    core.RunStore
	bus      *events.Bus
	logger   *logging.Logger

	mu          sync.RWMutex
	engine      *policy.Engine
	profile     core.EvaluationProfile
	runDeadline time.Duration
	now         func() time.Time
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithRunDeadline sets the per-run overall deadline.
func WithRunDeadline(d time.Duration) Option {
	return func(p *Pipeline) { p.runDeadline = d }
}

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithSampler overrides the sampler (for tests).
func WithSampler(s *Sampler) Option {
	return func(p *Pipeline) { p.sampler = s }
}

// New creates a pipeline.
func New(
	cards core.CardStore,
	gate *consent.Gate,
	resolver core.CriticResolver,
	orch *critic.Orchestrator,
	store core.RunStore,
	bus *events.Bus,
	engine *policy.Engine,
	profile core.EvaluationProfile,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		cards:       cards,
		gate:        gate,
		sampler:     NewSampler(),
		resolver:    resolver,
		orch:        orch,
		store:       store,
		bus:         bus,
		engine:      engine,
		profile:     profile,
		runDeadline: 2 * time.Minute,
		now:         time.Now,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetEngine swaps the decision engine (threshold hot-reload).
func (p *Pipeline) SetEngine(e *policy.Engine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engine = e
}

// SetProfile swaps the evaluation profile (sampling hot-reload).
func (p *Pipeline) SetProfile(profile core.EvaluationProfile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profile = profile
}

// Profile returns the current evaluation profile.
func (p *Pipeline) Profile() core.EvaluationProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.profile
}

func (p *Pipeline) currentEngine() *policy.Engine {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.engine
}

// Evaluate runs the full pipeline for one request. For a well-formed
// request it always returns a decision; the worst case is escalate with
// an explanation, never a raw infrastructure error.
func (p *Pipeline) Evaluate(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	card, err := p.loadCard(ctx, req)
	if err != nil {
		return nil, err
	}

	run := &core.EvaluationRun{
		ID:           core.RunID(uuid.NewString()),
		CharacterID:  req.CharacterID,
		CardVersion:  card.Version,
		AgentID:      req.AgentID,
		Modality:     req.Modality,
		ContentRef:   req.ContentRef,
		Territory:    req.Territory,
		Status:       core.StatusPending,
		CriticScores: make(map[core.CriticID]core.CriticResult),
		CreatedAt:    p.now().UTC(),
	}

	if err := p.store.Create(ctx, run); err != nil {
		return nil, core.ErrStoreUnavailable("creating evaluation run").WithCause(err)
	}
	p.bus.Publish(events.NewRunCreated(run))

	logger := p.logger.WithRun(string(run.ID)).WithCharacter(string(run.CharacterID))

	// Consent hard gate. Runs before sampling: a consent-ineligible
	// request must never slip through as sampled-pass.
	gateRes, err := p.gate.Check(ctx, req.CharacterID, req.Modality, req.Territory)
	if err != nil {
		return nil, err
	}
	if !gateRes.Eligible {
		logger.Warn("consent gate blocked run", "reason", gateRes.Reason)
		run.Status = core.StatusBlocked
		run.Decision = core.DecisionBlock
		run.ConsentVerified = false
		run.Flags = append(run.Flags, core.Flag{
			Code:     core.CodeConsentBlocked,
			Severity: core.SeverityCritical,
			Message:  gateRes.Reason,
		})
		return p.finish(ctx, run)
	}
	run.ConsentVerified = true

	profile := p.Profile()
	if !p.sampler.ShouldEvaluate(profile.SamplingRate) {
		logger.Debug("run excluded by sampling", "rate", profile.SamplingRate)
		run.Sampled = true
		run.Status = core.StatusCompleted
		run.Decision = core.DecisionSampledPass
		return p.finish(ctx, run)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.runDeadline)
	defer cancel()

	if err := p.evaluateStages(runCtx, run, card, profile, req.Content, logger); err != nil {
		// Deadline or cancellation: decide over whatever landed, which
		// escalates when no usable scores exist.
		logger.Warn("run cancelled before all stages completed", "error", err)
	}
	return p.decideAndFinish(ctx, run)
}

// evaluateStages runs the tiered or flat critic stages, mutating the run
// as results land. The raw content travels only through judge requests;
// the persisted run carries just the content reference.
func (p *Pipeline) evaluateStages(ctx context.Context, run *core.EvaluationRun, card *core.CharacterCardVersion, profile core.EvaluationProfile, content string, logger *logging.Logger) error {
	creq := critic.Request{
		RunID:      run.ID,
		Card:       *card,
		Content:    content,
		ContentRef: run.ContentRef,
		Modality:   run.Modality,
	}

	tiered := profile.TieredEvaluation
	if tiered && len(profile.RapidScreenIDs) == 0 {
		logger.Warn("tiered evaluation enabled with empty rapid screen set, degrading to flat evaluation")
		tiered = false
	}

	onResult := func(res core.CriticResult) {
		if err := p.store.AppendCriticResult(ctx, run.ID, res); err != nil {
			logger.Warn("failed to persist critic result", "critic_id", res.CriticID, "error", err)
		}
		p.bus.Publish(events.NewCriticCompleted(run.ID, res))
	}

	if tiered {
		if err := p.advance(ctx, run, core.StatusRapidScreen); err != nil {
			return err
		}
		rapid, err := p.resolveSet(ctx, run.CharacterID, profile.RapidScreenIDs)
		if err != nil {
			return err
		}
		out, err := p.orch.EvaluateStage(ctx, critic.StageRapidScreen, creq, rapid, onResult)
		mergeResults(run, out.Results)
		if err != nil {
			return err
		}
		if out.Rejected {
			logger.Info("rapid screen rejected run",
				"rejected_by", out.RejectedBy,
				"critics", len(out.Results),
			)
			return nil
		}
	}

	deepIDs := profile.DeepEvalIDs
	if !tiered && len(profile.CriticIDs) > 0 {
		deepIDs = profile.CriticIDs
	}
	if len(deepIDs) == 0 {
		return core.ErrValidation(core.CodeNoCritics, "evaluation profile names no critics")
	}

	if err := p.advance(ctx, run, core.StatusDeepEval); err != nil {
		return err
	}
	deep, err := p.resolveSet(ctx, run.CharacterID, deepIDs)
	if err != nil {
		return err
	}
	out, err := p.orch.EvaluateStage(ctx, critic.StageDeepEval, creq, deep, onResult)
	mergeResults(run, out.Results)
	return err
}

// decideAndFinish derives the decision from all collected results and
// completes the run.
func (p *Pipeline) decideAndFinish(ctx context.Context, run *core.EvaluationRun) (*Result, error) {
	results := make([]core.CriticResult, 0, len(run.CriticScores))
	for _, res := range run.CriticScores {
		results = append(results, res)
	}
	flags := run.AllFlags()

	outcome := p.currentEngine().Decide(results, flags)
	run.OverallScore = outcome.OverallScore
	run.Decision = outcome.Decision
	run.Status = core.StatusCompleted

	res, err := p.finish(ctx, run)
	if err != nil {
		return nil, err
	}
	res.Recommendations = policy.Recommendations(outcome, flags)
	return res, nil
}

// finish stamps completion, embeds provenance once, persists the
// terminal run, and publishes the completion event.
func (p *Pipeline) finish(ctx context.Context, run *core.EvaluationRun) (*Result, error) {
	completed := p.now().UTC()
	run.CompletedAt = &completed

	prov, err := provenance.Embed(run)
	if err != nil {
		return nil, err
	}
	if err := p.store.Complete(ctx, run, prov); err != nil {
		return nil, core.ErrStoreUnavailable("completing evaluation run").WithCause(err)
	}
	p.bus.PublishPriority(events.NewRunCompleted(run))
	return &Result{Run: run, Provenance: prov}, nil
}

// advance moves the run forward and publishes the stage change.
func (p *Pipeline) advance(ctx context.Context, run *core.EvaluationRun, status core.RunStatus) error {
	if !run.Status.CanTransition(status) {
		return core.ErrState(core.CodeInvalidTransition,
			fmt.Sprintf("cannot move run %s from %s to %s", run.ID, run.Status, status))
	}
	if err := p.store.UpdateStatus(ctx, run.ID, status); err != nil {
		return core.ErrStoreUnavailable("advancing run status").WithCause(err)
	}
	run.Status = status
	p.bus.Publish(events.NewRunStageChanged(run.ID, status))
	return nil
}

// resolveSet resolves critic ids with bounded retry on store errors.
func (p *Pipeline) resolveSet(ctx context.Context, characterID core.CharacterID, ids []core.CriticID) ([]core.ResolvedCritic, error) {
	var resolved []core.ResolvedCritic
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		resolved, err = p.resolver.ResolveCritics(ctx, characterID, ids)
		if err == nil {
			return resolved, nil
		}
		if !core.IsRetryable(err) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	return nil, err
}

// loadCard fetches the pinned or active card version with bounded retry.
func (p *Pipeline) loadCard(ctx context.Context, req Request) (*core.CharacterCardVersion, error) {
	var card *core.CharacterCardVersion
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if req.CardVersion > 0 {
			card, err = p.cards.GetVersion(ctx, req.CharacterID, req.CardVersion)
		} else {
			card, err = p.cards.GetActiveVersion(ctx, req.CharacterID)
		}
		if err == nil {
			return card, nil
		}
		if !core.IsRetryable(err) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	return nil, err
}

// mergeResults copies stage results onto the run. The run map is owned
// by the coordinating goroutine; no lock needed.
func mergeResults(run *core.EvaluationRun, results map[core.CriticID]core.CriticResult) {
	for id, res := range results {
		run.CriticScores[id] = res
	}
}

// validate rejects malformed requests before any state is created.
func validate(req Request) error {
	if strings.TrimSpace(string(req.CharacterID)) == "" {
		return core.ErrValidation(core.CodeEmptyCharacter, "character_id is required")
	}
	if strings.TrimSpace(req.ContentRef) == "" && strings.TrimSpace(req.Content) == "" {
		return core.ErrValidation(core.CodeEmptyContent, "content is required")
	}
	if len(req.Content) > core.MaxContentLength {
		return core.ErrValidation(core.CodeEmptyContent, "content exceeds maximum length")
	}
	if !core.ValidModality(req.Modality) {
		return core.ErrValidation(core.CodeInvalidModality, "unknown modality: "+string(req.Modality))
	}
	return nil
}
