// Package consent implements the legal eligibility hard gate. The gate
// runs before any scoring and cannot be overridden by score.
package consent

import (
	"context"
	"log/slog"
	"time"

	"github.com/apm-labs/apm/internal/core"
)

// Result is the outcome of an eligibility check.
type Result struct {
	Eligible bool
	Reason   string
}

// Gate checks consent records for a request. Store failures fail closed:
// the consent subsystem's availability is never traded for throughput.
type Gate struct {
	store   core.ConsentStore
	retries int
	backoff time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures the gate.
type Option func(*Gate)

// WithRetries sets the bounded retry budget for store lookups.
func WithRetries(n int, backoff time.Duration) Option {
	return func(g *Gate) {
		g.retries = n
		g.backoff = backoff
	}
}

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// WithLogger sets the gate logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// NewGate creates a consent gate backed by the given store.
func NewGate(store core.ConsentStore, opts ...Option) *Gate {
	g := &Gate{
		store:   store,
		retries: 2,
		backoff: 200 * time.Millisecond,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check validates legal eligibility for (character, modality, territory).
// Territory may be empty, in which case only modality, validity window,
// and strike checks apply.
func (g *Gate) Check(ctx context.Context, characterID core.CharacterID, modality core.Modality, territory string) (Result, error) {
	if characterID == "" {
		return Result{}, core.ErrValidation(core.CodeEmptyCharacter, "character_id is required")
	}
	if !core.ValidModality(modality) {
		return Result{}, core.ErrValidation(core.CodeInvalidModality, "unknown modality: "+string(modality))
	}

	records, err := g.lookup(ctx, characterID)
	if err != nil {
		// Fail closed: an unreachable consent store means ineligible.
		g.logger.Error("consent store unreachable, failing closed",
			"character_id", characterID,
			"error", err,
		)
		return Result{Eligible: false, Reason: "consent store unavailable"}, nil
	}

	if len(records) == 0 {
		return Result{Eligible: false, Reason: "no consent record for character"}, nil
	}

	now := g.now()
	strike := false
	for _, rec := range records {
		if rec.Covers(modality, territory, now) {
			return Result{Eligible: true}, nil
		}
		if rec.StrikeActive && rec.Modality == modality {
			strike = true
		}
	}

	if strike {
		return Result{Eligible: false, Reason: "active strike for modality " + string(modality)}, nil
	}
	return Result{Eligible: false, Reason: "no consent record covers modality/territory window"}, nil
}

// lookup reads records with bounded backoff on retryable store errors.
func (g *Gate) lookup(ctx context.Context, characterID core.CharacterID) ([]core.ConsentRecord, error) {
	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		records, err := g.store.Records(ctx, characterID)
		if err == nil {
			return records, nil
		}
		lastErr = err
		if !core.IsRetryable(err) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.backoff * time.Duration(attempt+1)):
		}
	}
	return nil, lastErr
}
