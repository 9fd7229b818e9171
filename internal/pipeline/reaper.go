package pipeline

import (
	"context"
	"time"

	"github.com/apm-labs/apm/internal/core"
	"github.com/apm-labs/apm/internal/events"
	"github.com/apm-labs/apm/internal/logging"
	"github.com/apm-labs/apm/internal/provenance"
)

// Reaper periodically scans for runs stuck in pending, usually left
// behind by a crashed process, and forces them terminal with an
// escalate decision so the review queue picks them up.
type Reaper struct {
	store    core.RunStore
	bus      *events.Bus
	logger   *logging.Logger
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

// ReaperOption configures the reaper.
type ReaperOption func(*Reaper)

// WithReaperInterval sets the scan interval.
func WithReaperInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) { r.interval = d }
}

// WithReaperMaxAge sets how old a pending run must be before it is
// considered stuck.
func WithReaperMaxAge(d time.Duration) ReaperOption {
	return func(r *Reaper) { r.maxAge = d }
}

// WithReaperClock overrides the time source (for tests).
func WithReaperClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) { r.now = now }
}

// WithReaperLogger sets the reaper logger.
func WithReaperLogger(l *logging.Logger) ReaperOption {
	return func(r *Reaper) { r.logger = l }
}

// NewReaper creates a reaper.
func NewReaper(store core.RunStore, bus *events.Bus, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		store:    store,
		bus:      bus,
		logger:   logging.NewNop(),
		interval: time.Minute,
		maxAge:   10 * time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run scans at the configured interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Warn("reaper sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs one scan, forcing stuck pending runs terminal. It
// returns the first store error encountered; already-reaped runs in the
// same sweep stay reaped.
func (r *Reaper) Sweep(ctx context.Context) error {
	cutoff := r.now().UTC().Add(-r.maxAge)
	stuck, err := r.store.StuckPending(ctx, cutoff)
	if err != nil {
		return core.ErrStoreUnavailable("scanning for stuck runs").WithCause(err)
	}

	for _, run := range stuck {
		if err := r.reap(ctx, run); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reaper) reap(ctx context.Context, run *core.EvaluationRun) error {
	r.logger.WithRun(string(run.ID)).Warn("forcing stuck pending run to escalate",
		"created_at", run.CreatedAt,
	)

	run.Status = core.StatusCompleted
	run.Decision = core.DecisionEscalate
	run.Flags = append(run.Flags, core.Flag{
		Code:     core.CodeRunDeadline,
		Severity: core.SeverityWarning,
		Message:  "run abandoned in pending state and escalated by the reaper",
	})
	completed := r.now().UTC()
	run.CompletedAt = &completed

	prov, err := provenance.Embed(run)
	if err != nil {
		return err
	}
	if err := r.store.Complete(ctx, run, prov); err != nil {
		return core.ErrStoreUnavailable("completing reaped run").WithCause(err)
	}
	r.bus.PublishPriority(events.NewRunCompleted(run))
	return nil
}
