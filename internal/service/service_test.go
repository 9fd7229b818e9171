package service_test

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/apm-labs/apm/internal/config"
	"github.com/apm-labs/apm/internal/core"
	"github.com/apm-labs/apm/internal/logging"
	"github.com/apm-labs/apm/internal/pipeline"
	"github.com/apm-labs/apm/internal/service"
	"github.com/apm-labs/apm/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	loader := config.NewLoader()
	cfg, err := loader.Load()
	testutil.AssertNoError(t, err)
	cfg.Store.Path = filepath.Join(t.TempDir(), "runs.db")
	cfg.Critics.Definitions = []config.CriticDefinition{
		{ID: "canon", Weight: 1.5, Provider: "rules"},
		{ID: "safety-screen", Weight: 1, Threshold: 40, Provider: "rules"},
	}
	cfg.Sampling.CriticIDs = []string{"canon", "safety-screen"}
	return cfg
}

func TestNew_WiresFullStack(t *testing.T) {
	cfg := testConfig(t)

	svc, err := service.New(cfg, logging.NewNop())
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	if svc.Pipeline == nil || svc.Server == nil || svc.Reaper == nil {
		t.Fatal("expected pipeline, server, and reaper to be wired")
	}
	testutil.AssertTrue(t, svc.Dispatcher == nil, "webhooks default to disabled")

	// The store is usable end to end through the wired stack.
	run := testutil.NewTestRun()
	testutil.AssertNoError(t, svc.Store.Create(t.Context(), run))
	got, err := svc.Store.Get(t.Context(), run.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.ID, run.ID)
}

func TestNew_EndToEndEvaluate(t *testing.T) {
	cfg := testConfig(t)
	svc, err := service.New(cfg, logging.NewNop())
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ctx := t.Context()
	card := testutil.NewTestCard("mira-voss", 1)
	testutil.AssertNoError(t, svc.Store.PublishCard(ctx, &card))
	testutil.AssertNoError(t, svc.Store.UpsertConsent(ctx, core.ConsentRecord{
		CharacterID: "mira-voss",
		Modality:    core.ModalityText,
		ValidFrom:   time.Now().Add(-time.Hour),
		ValidTo:     time.Now().Add(time.Hour),
	}))

	res, err := svc.Pipeline.Evaluate(ctx, pipeline.Request{
		CharacterID: "mira-voss",
		Content:     "She tipped her hat and walked on.",
		Modality:    core.ModalityText,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Run.Decision, core.DecisionPass)
	testutil.AssertTrue(t, res.Provenance != nil, "expected provenance")
}

func TestNew_RequiresJWTSecretWhenAuthEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.AuthDisabled = false
	cfg.Server.JWTSecret = ""

	_, err := service.New(cfg, logging.NewNop())
	testutil.AssertError(t, err)
	testutil.AssertContains(t, err.Error(), "jwt_secret")
}

func TestNew_RegistersConfiguredPromptTemplates(t *testing.T) {
	cfg := testConfig(t)
	cfg.Critics.Definitions[0].PromptTemplate = `Judge {{.CharacterName}}.

{{.Content}}`

	svc, err := service.New(cfg, logging.NewNop())
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	testutil.AssertTrue(t, svc.Renderer.Registered("canon"), "canon template should be registered")
	testutil.AssertFalse(t, svc.Renderer.Registered("safety-screen"), "safety-screen has no template")
}

func TestNew_RejectsMalformedPromptTemplate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Critics.Definitions[0].PromptTemplate = "Judge {{.CharacterName}} only."

	_, err := service.New(cfg, logging.NewNop())
	testutil.AssertError(t, err)
	testutil.AssertContains(t, err.Error(), "prompt template")
}

func TestNew_EnabledWebhooksGetDispatcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Webhooks.Enabled = true
	cfg.Webhooks.Endpoints = []config.WebhookEndpoint{
		{OrgID: "org-1", URL: srv.URL, Secret: "s"},
	}

	svc, err := service.New(cfg, logging.NewNop())
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	testutil.AssertTrue(t, svc.Dispatcher != nil, "expected dispatcher")
}

func TestApplyConfig_HotSwapsProfile(t *testing.T) {
	cfg := testConfig(t)
	svc, err := service.New(cfg, logging.NewNop())
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	next := testConfig(t)
	next.Sampling.Rate = 0.25
	next.Sampling.Tiered = false
	svc.ApplyConfig(next)

	profile := svc.Pipeline.Profile()
	testutil.AssertEqual(t, profile.SamplingRate, 0.25)
	testutil.AssertFalse(t, profile.TieredEvaluation, "tiering should be off")
}

func TestBandsMapping(t *testing.T) {
	bands := service.Bands(config.DecisionConfig{
		PassBand: 95, RegenerateBand: 75, QuarantineBand: 55, EscalateBand: 35,
	})
	testutil.AssertEqual(t, bands.Pass, 95.0)
	testutil.AssertEqual(t, bands.Escalate, 35.0)
}
