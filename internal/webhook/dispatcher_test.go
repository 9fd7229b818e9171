package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/apm-labs/apm/internal/api"
	"github.com/apm-labs/apm/internal/core"
	"github.com/apm-labs/apm/internal/events"
	"github.com/apm-labs/apm/internal/provenance"
	"github.com/apm-labs/apm/internal/testutil"
	"github.com/apm-labs/apm/internal/webhook"
)

type delivery struct {
	body      []byte
	signature string
	event     string
}

// receiver is an httptest webhook endpoint recording deliveries and
// optionally failing the first n requests.
type receiver struct {
	mu         sync.Mutex
	deliveries []delivery
	failFirst  int
	seen       int
}

func (r *receiver) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.seen++
		if r.seen <= r.failFirst {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		body, _ := io.ReadAll(req.Body)
		r.deliveries = append(r.deliveries, delivery{
			body:      body,
			signature: req.Header.Get(webhook.SignatureHeader),
			event:     req.Header.Get(webhook.EventHeader),
		})
		w.WriteHeader(http.StatusOK)
	}
}

func (r *receiver) delivered() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery{}, r.deliveries...)
}

// completedRun stores a terminal run with its provenance record.
func completedRun(t *testing.T, store *testutil.MemRunStore) *core.EvaluationRun {
	t.Helper()
	run := testutil.NewTestRun(
		testutil.WithCriticResult("canon", 91),
		testutil.Completed(91, core.DecisionPass),
	)
	pending := testutil.NewTestRun(testutil.WithRunID(run.ID), testutil.WithCreatedAt(run.CreatedAt))
	testutil.AssertNoError(t, store.Create(t.Context(), pending))

	prov, err := provenance.Embed(run)
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, store.Complete(t.Context(), run, prov))
	return run
}

func TestSignRoundTrip(t *testing.T) {
	payload := []byte(`{"eval_run_id":"run-1"}`)
	sig := webhook.Sign("s3cret", payload)

	testutil.AssertLen(t, []byte(sig), 64)
	testutil.AssertTrue(t, webhook.VerifySignature("s3cret", payload, sig), "signature should verify")
	testutil.AssertFalse(t, webhook.VerifySignature("other", payload, sig), "wrong secret should fail")
	testutil.AssertFalse(t, webhook.VerifySignature("s3cret", []byte("tampered"), sig), "tampered payload should fail")
	testutil.AssertFalse(t, webhook.VerifySignature("s3cret", payload, "zz"), "malformed signature should fail")
}

func TestNotify_DeliversSignedEnvelope(t *testing.T) {
	store := testutil.NewMemRunStore()
	run := completedRun(t, store)

	rec := &receiver{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	d := webhook.NewDispatcher(store, []webhook.Endpoint{
		{OrgID: "org-1", URL: srv.URL, Secret: "s3cret"},
	}, webhook.WithLogger(slog.New(slog.DiscardHandler)))

	d.Notify(t.Context(), run.ID)

	deliveries := rec.delivered()
	testutil.AssertLen(t, deliveries, 1)
	got := deliveries[0]
	testutil.AssertEqual(t, got.event, events.TypeRunCompleted)
	testutil.AssertTrue(t, webhook.VerifySignature("s3cret", got.body, got.signature),
		"delivery must carry a valid signature")

	var env api.RunEnvelope
	testutil.AssertNoError(t, json.Unmarshal(got.body, &env))
	testutil.AssertEqual(t, env.EvalRunID, string(run.ID))
	testutil.AssertEqual(t, env.Decision, "pass")
	if env.C2PAMetadata == nil {
		t.Fatal("expected provenance in the envelope")
	}
}

func TestNotify_RetriesUntilSuccess(t *testing.T) {
	store := testutil.NewMemRunStore()
	run := completedRun(t, store)

	rec := &receiver{failFirst: 2}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	d := webhook.NewDispatcher(store, []webhook.Endpoint{
		{OrgID: "org-1", URL: srv.URL, Secret: "s3cret"},
	},
		webhook.WithLogger(slog.New(slog.DiscardHandler)),
		webhook.WithMaxAttempts(3),
		webhook.WithBackoff(time.Millisecond),
	)

	d.Notify(t.Context(), run.ID)

	testutil.AssertLen(t, rec.delivered(), 1)
}

func TestNotify_OneEndpointFailingDoesNotBlockOthers(t *testing.T) {
	store := testutil.NewMemRunStore()
	run := completedRun(t, store)

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer dead.Close()

	rec := &receiver{}
	alive := httptest.NewServer(rec.handler())
	defer alive.Close()

	d := webhook.NewDispatcher(store, []webhook.Endpoint{
		{OrgID: "org-dead", URL: dead.URL, Secret: "a"},
		{OrgID: "org-alive", URL: alive.URL, Secret: "b"},
	},
		webhook.WithLogger(slog.New(slog.DiscardHandler)),
		webhook.WithMaxAttempts(2),
		webhook.WithBackoff(time.Millisecond),
	)

	d.Notify(t.Context(), run.ID)

	testutil.AssertLen(t, rec.delivered(), 1)
}

func TestRun_ConsumesCompletionEvents(t *testing.T) {
	store := testutil.NewMemRunStore()
	run := completedRun(t, store)

	rec := &receiver{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	bus := events.New(16)
	defer bus.Close()

	d := webhook.NewDispatcher(store, []webhook.Endpoint{
		{OrgID: "org-1", URL: srv.URL, Secret: "s3cret"},
	}, webhook.WithLogger(slog.New(slog.DiscardHandler)))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx, bus)
	}()

	bus.PublishPriority(events.NewRunCompleted(run))

	deadline := time.After(2 * time.Second)
	for len(rec.delivered()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for delivery")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
