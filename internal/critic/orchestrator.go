// Package critic implements the critic orchestrator: bounded concurrent
// fan-out to independent judges with retries, timeouts, per-critic
// circuit breakers, and provider rate limiting.
package critic

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/apm-labs/apm/internal/core"
)

// Stage names recorded on critic results.
const (
	StageRapidScreen = "rapid_screen"
	StageDeepEval    = "deep_eval"
)

// Request carries the per-run inputs common to every critic invocation.
type Request struct {
	RunID      core.RunID
	Card       core.CharacterCardVersion
	Content    string
	ContentRef string
	Modality   core.Modality
}

// StageOutcome is the result of one evaluation stage.
type StageOutcome struct {
	Results map[core.CriticID]core.CriticResult

	// Rejected is set when a rapid-screen critic rejected the content,
	// short-circuiting the deep stage.
	Rejected   bool
	RejectedBy core.CriticID
}

// Orchestrator fans out critic invocations. The worker pool, breakers,
// and rate limiters are process-wide: concurrent runs share them so the
// total outbound load to judge providers stays capped.
type Orchestrator struct {
	judges   map[string]core.Judge
	registry *Registry
	renderer *PromptRenderer
	breakers *BreakerRegistry
	limiters *LimiterRegistry
	pool     *semaphore.Weighted
	retry    *RetryPolicy
	logger   *slog.Logger

	invocations atomic.Int64
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithRetryPolicy overrides the judge retry policy.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithLimiters sets the provider rate limiter registry.
func WithLimiters(l *LimiterRegistry) Option {
	return func(o *Orchestrator) { o.limiters = l }
}

// WithBreakers sets the circuit breaker registry.
func WithBreakers(b *BreakerRegistry) Option {
	return func(o *Orchestrator) { o.breakers = b }
}

// NewOrchestrator creates an orchestrator with a worker pool of maxInFlight
// concurrent judge calls.
func NewOrchestrator(judges map[string]core.Judge, registry *Registry, renderer *PromptRenderer, maxInFlight int64, opts ...Option) *Orchestrator {
	if maxInFlight <= 0 {
		maxInFlight = 8
	}
	o := &Orchestrator{
		judges:   judges,
		registry: registry,
		renderer: renderer,
		breakers: NewBreakerRegistry(DefaultBreakerThreshold, DefaultBreakerCooldown),
		limiters: NewLimiterRegistry(nil),
		pool:     semaphore.NewWeighted(maxInFlight),
		retry:    DefaultRetryPolicy(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InvocationCount returns the total number of judge invocations made.
// Audit paths use it to assert that gated runs invoked zero critics.
func (o *Orchestrator) InvocationCount() int64 {
	return o.invocations.Load()
}

// BreakerStatus exposes open/closed state per critic for diagnostics.
func (o *Orchestrator) BreakerStatus() map[string]bool {
	return o.breakers.Status()
}

// EvaluateStage invokes the given critics concurrently and blocks until
// every one has completed, failed permanently, or timed out; the stage
// is a synchronization barrier. onResult, when non-nil, is called once
// per critic as its result lands (for incremental persistence).
//
// Critic failures never fail the stage: a failed critic is recorded with
// a nil score and a skip reason. The returned error is only ever the
// parent context's.
func (o *Orchestrator) EvaluateStage(ctx context.Context, stage string, req Request, critics []core.ResolvedCritic, onResult func(core.CriticResult)) (StageOutcome, error) {
	results := make(map[core.CriticID]core.CriticResult, len(critics))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, rc := range critics {
		rc := rc
		g.Go(func() error {
			res := o.invoke(gctx, stage, req, rc)
			mu.Lock()
			results[rc.ID] = res
			mu.Unlock()
			if onResult != nil {
				onResult(res)
			}
			return nil
		})
	}
	// Workers never return errors; Wait is the stage barrier.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return StageOutcome{Results: results}, err
	}

	out := StageOutcome{Results: results}
	if stage == StageRapidScreen {
		out.Rejected, out.RejectedBy = screenRejects(critics, results)
	}
	return out, nil
}

// screenRejects applies the rapid-screen short-circuit rule: any critical
// flag, or any scored critic below its resolved threshold, rejects.
func screenRejects(critics []core.ResolvedCritic, results map[core.CriticID]core.CriticResult) (bool, core.CriticID) {
	for _, rc := range critics {
		res, ok := results[rc.ID]
		if !ok {
			continue
		}
		for _, f := range res.Flags {
			if f.Severity == core.SeverityCritical {
				return true, rc.ID
			}
		}
		if res.Scored() && rc.Threshold > 0 && *res.Score < rc.Threshold {
			return true, rc.ID
		}
	}
	return false, ""
}

// invoke runs a single critic end to end: pool slot, rate limit, breaker
// check, prompt render, judge call with retry and per-critic timeout.
func (o *Orchestrator) invoke(ctx context.Context, stage string, req Request, rc core.ResolvedCritic) core.CriticResult {
	result := core.CriticResult{
		CriticID: rc.ID,
		Weight:   rc.Weight,
		Stage:    stage,
	}

	def, _ := o.registry.Definition(rc.ID)
	judge, ok := o.judges[def.Provider]
	if !ok {
		result.SkipReason = "no judge configured for provider " + def.Provider
		return result
	}

	breaker := o.breakers.Get(string(rc.ID))
	if !breaker.Allow() {
		result.Degraded = true
		result.SkipReason = "circuit open"
		o.logger.Warn("critic degraded, circuit open",
			"run_id", req.RunID,
			"critic_id", rc.ID,
		)
		return result
	}

	if err := o.pool.Acquire(ctx, 1); err != nil {
		result.SkipReason = "cancelled waiting for worker slot"
		return result
	}
	defer o.pool.Release(1)

	if err := o.limiters.Get(def.Provider).Acquire(ctx); err != nil {
		result.SkipReason = "cancelled waiting for rate limit"
		return result
	}

	prompt, err := o.renderer.Render(rc.ID, ParamsFromCard(req.Card, req.Content, req.Modality, rc.ExtraInstructions))
	if err != nil {
		result.SkipReason = "prompt render failed: " + err.Error()
		return result
	}

	start := time.Now()
	var judgeRes *core.JudgeResult
	attempts := 0

	err = o.retry.Execute(ctx, func(ctx context.Context) error {
		attempts++
		o.invocations.Add(1)

		callCtx, cancel := context.WithTimeout(ctx, rc.Timeout)
		defer cancel()

		res, callErr := judge.Score(callCtx, core.JudgeRequest{
			RunID:      req.RunID,
			CriticID:   rc.ID,
			Prompt:     prompt,
			Content:    req.Content,
			ContentRef: req.ContentRef,
			Modality:   req.Modality,
			Card:       req.Card,
			Timeout:    rc.Timeout,
		})
		if callErr != nil {
			if errors.Is(callErr, context.DeadlineExceeded) && ctx.Err() == nil {
				return core.ErrCriticTimeout(rc.ID)
			}
			return callErr
		}
		if res.Score < 0 || res.Score > 100 {
			return core.ErrValidation(core.CodeInvalidScore, "judge score out of range")
		}
		judgeRes = res
		return nil
	})

	result.Latency = time.Since(start)
	result.Attempts = attempts

	if err != nil {
		breaker.RecordFailure()
		result.SkipReason = skipReason(err)
		o.logger.Warn("critic failed permanently",
			"run_id", req.RunID,
			"critic_id", rc.ID,
			"attempts", attempts,
			"error", err,
		)
		return result
	}

	breaker.RecordSuccess()
	score := judgeRes.Score
	result.Score = &score
	result.Reasoning = judgeRes.Reasoning
	result.Flags = normalizeFlags(rc.ID, judgeRes.Flags)

	o.logger.Debug("critic completed",
		"run_id", req.RunID,
		"critic_id", rc.ID,
		"score", score,
		"flags", len(result.Flags),
		"latency", result.Latency,
	)
	return result
}

// skipReason maps a permanent failure to the audit record's skip reason.
func skipReason(err error) string {
	switch {
	case core.IsCategory(err, core.ErrCatTimeout):
		return "timeout"
	case core.IsCategory(err, core.ErrCatRateLimit):
		return "rate limited"
	case core.IsCategory(err, core.ErrCatNetwork):
		return "network failure"
	case core.IsCategory(err, core.ErrCatValidation):
		return "invalid judge response"
	default:
		return "judge error: " + err.Error()
	}
}

// normalizeFlags stamps the critic id on flags the judge returned without
// one and drops flags with unknown severities.
func normalizeFlags(criticID core.CriticID, flags []core.Flag) []core.Flag {
	out := make([]core.Flag, 0, len(flags))
	for _, f := range flags {
		if f.CriticID == "" {
			f.CriticID = criticID
		}
		switch f.Severity {
		case core.SeverityInfo, core.SeverityWarning, core.SeverityCritical:
			out = append(out, f)
		}
	}
	return out
}
