package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/apm-labs/apm/internal/api"
	"github.com/apm-labs/apm/internal/core"
	"github.com/apm-labs/apm/internal/events"
)

// Endpoint is one registered webhook receiver.
type Endpoint struct {
	OrgID  string
	URL    string
	Secret string
}

// RunReader is the store subset the dispatcher needs to rebuild the
// full envelope from a completion event.
type RunReader interface {
	Get(ctx context.Context, id core.RunID) (*core.EvaluationRun, error)
	Provenance(ctx context.Context, id core.RunID) (*core.ProvenanceRecord, error)
}

// Dispatcher consumes run completion events from the bus priority
// channel and delivers signed envelopes to every endpoint. Delivery is
// at-least-once: each endpoint gets up to maxAttempts tries with
// exponential backoff, and one slow receiver never blocks another run's
// notification beyond the per-request timeout.
type Dispatcher struct {
	runs        RunReader
	endpoints   []Endpoint
	client      *http.Client
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMaxAttempts bounds delivery retries per endpoint.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithTimeout bounds each delivery request.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.client.Timeout = timeout
		}
	}
}

// WithBackoff sets the initial retry backoff. It doubles per attempt.
func WithBackoff(backoff time.Duration) Option {
	return func(d *Dispatcher) {
		if backoff > 0 {
			d.backoff = backoff
		}
	}
}

// NewDispatcher creates a webhook dispatcher for the given endpoints.
func NewDispatcher(runs RunReader, endpoints []Endpoint, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		runs:        runs,
		endpoints:   endpoints,
		client:      &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run consumes completion events until ctx is cancelled or the bus
// closes the subscription.
func (d *Dispatcher) Run(ctx context.Context, bus *events.Bus) {
	ch := bus.SubscribePriority()
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.EventType() != events.TypeRunCompleted {
				continue
			}
			d.Notify(ctx, core.RunID(event.RunID()))
		}
	}
}

// Notify rebuilds the envelope for a completed run and delivers it to
// every endpoint. Endpoint failures are logged, never propagated; a
// webhook outage must not affect pipeline decisions.
func (d *Dispatcher) Notify(ctx context.Context, id core.RunID) {
	if len(d.endpoints) == 0 {
		return
	}

	run, err := d.runs.Get(ctx, id)
	if err != nil {
		d.logger.Error("webhook: loading completed run", "run_id", id, "error", err)
		return
	}
	prov, err := d.runs.Provenance(ctx, id)
	if err != nil {
		// Reaped or consent-blocked runs still carry provenance, so
		// this is unexpected; deliver the envelope without it.
		d.logger.Warn("webhook: no provenance for run", "run_id", id, "error", err)
	}

	payload, err := json.Marshal(api.NewRunEnvelope(run, prov, nil))
	if err != nil {
		d.logger.Error("webhook: encoding envelope", "run_id", id, "error", err)
		return
	}

	for _, endpoint := range d.endpoints {
		if err := d.deliver(ctx, endpoint, payload); err != nil {
			d.logger.Error("webhook delivery failed",
				"run_id", id,
				"org_id", endpoint.OrgID,
				"url", endpoint.URL,
				"error", err,
			)
			continue
		}
		d.logger.Info("webhook delivered", "run_id", id, "org_id", endpoint.OrgID)
	}
}

// deliver posts the signed payload, retrying with exponential backoff.
func (d *Dispatcher) deliver(ctx context.Context, endpoint Endpoint, payload []byte) error {
	signature := Sign(endpoint.Secret, payload)

	var lastErr error
	backoff := d.backoff
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		lastErr = d.post(ctx, endpoint, payload, signature)
		if lastErr == nil {
			return nil
		}
		d.logger.Warn("webhook attempt failed",
			"org_id", endpoint.OrgID,
			"attempt", attempt,
			"error", lastErr,
		)
	}
	return fmt.Errorf("after %d attempts: %w", d.maxAttempts, lastErr)
}

func (d *Dispatcher) post(ctx context.Context, endpoint Endpoint, payload []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	req.Header.Set(EventHeader, events.TypeRunCompleted)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}
