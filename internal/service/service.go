// Package service wires configuration into a running evaluation stack:
// store, consent gate, critic registry, judges, orchestrator, pipeline,
// reaper, webhook dispatcher, and the HTTP API.
package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/apm-labs/apm/internal/adapters/judge"
	"github.com/apm-labs/apm/internal/adapters/state"
	"github.com/apm-labs/apm/internal/api"
	"github.com/apm-labs/apm/internal/config"
	"github.com/apm-labs/apm/internal/consent"
	"github.com/apm-labs/apm/internal/core"
	"github.com/apm-labs/apm/internal/critic"
	"github.com/apm-labs/apm/internal/events"
	"github.com/apm-labs/apm/internal/logging"
	"github.com/apm-labs/apm/internal/pipeline"
	"github.com/apm-labs/apm/internal/policy"
	"github.com/apm-labs/apm/internal/webhook"
)

// Service owns the wired evaluation stack.
type Service struct {
	cfg    *config.Config
	logger *logging.Logger

	Store      *state.SQLiteStore
	Bus        *events.Bus
	Registry   *critic.Registry
	Renderer   *critic.PromptRenderer
	Judges     *judge.Registry
	Orch       *critic.Orchestrator
	Pipeline   *pipeline.Pipeline
	Reaper     *pipeline.Reaper
	Server     *api.Server
	Dispatcher *webhook.Dispatcher
}

// New builds the full stack from configuration.
func New(cfg *config.Config, logger *logging.Logger) (*Service, error) {
	store, err := state.NewStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}

	bus := events.New(256)
	gate := consent.NewGate(store)

	registry := buildCriticRegistry(cfg.Critics)
	judges := buildJudgeRegistry(cfg.Judges)

	renderer, err := buildPromptRenderer(cfg.Critics)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	orch := critic.NewOrchestrator(
		judges.All(),
		registry,
		renderer,
		int64(cfg.Pipeline.MaxInFlight),
		critic.WithLogger(logger.Logger),
		critic.WithLimiters(critic.NewLimiterRegistry(limiterConfigs(cfg.Critics.RateLimits))),
	)

	p := pipeline.New(
		store, gate, registry, orch, store, bus,
		policy.NewEngine(Bands(cfg.Decision)),
		Profile(cfg.Sampling),
		pipeline.WithRunDeadline(config.Duration(cfg.Pipeline.RunDeadline, 2*time.Minute)),
		pipeline.WithLogger(logger),
	)

	reaper := pipeline.NewReaper(store, bus,
		pipeline.WithReaperInterval(config.Duration(cfg.Pipeline.ReaperInterval, time.Minute)),
		pipeline.WithReaperMaxAge(config.Duration(cfg.Pipeline.ReaperMaxAge, 10*time.Minute)),
		pipeline.WithReaperLogger(logger),
	)

	svc := &Service{
		cfg:      cfg,
		logger:   logger,
		Store:    store,
		Bus:      bus,
		Registry: registry,
		Renderer: renderer,
		Judges:   judges,
		Orch:     orch,
		Pipeline: p,
		Reaper:   reaper,
	}

	serverOpts := []api.ServerOption{
		api.WithLogger(logger.Logger),
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	}
	if !cfg.Server.AuthDisabled {
		if cfg.Server.JWTSecret == "" {
			_ = store.Close()
			return nil, fmt.Errorf("server.jwt_secret is required unless auth is disabled")
		}
		serverOpts = append(serverOpts, api.WithAuthenticator(api.NewAuthenticator(cfg.Server.JWTSecret)))
	}
	svc.Server = api.NewServer(p, store, serverOpts...)

	if cfg.Webhooks.Enabled {
		svc.Dispatcher = webhook.NewDispatcher(store, endpoints(cfg.Webhooks.Endpoints),
			webhook.WithLogger(logger.Logger),
			webhook.WithMaxAttempts(cfg.Webhooks.MaxAttempts),
			webhook.WithTimeout(config.Duration(cfg.Webhooks.Timeout, 10*time.Second)),
		)
	}

	return svc, nil
}

// Run starts the reaper, webhook dispatcher, and API server, and blocks
// until ctx is cancelled or the server fails.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.Reaper.Run(gctx)
		return nil
	})
	if s.Dispatcher != nil {
		g.Go(func() error {
			s.Dispatcher.Run(gctx, s.Bus)
			return nil
		})
	}
	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
		return s.Server.ListenAndServe(gctx, addr)
	})

	return g.Wait()
}

// ApplyConfig hot-swaps the decision engine and evaluation profile from
// a reloaded config. Store, judges, and transport are not rebuilt.
func (s *Service) ApplyConfig(cfg *config.Config) {
	s.Pipeline.SetEngine(policy.NewEngine(Bands(cfg.Decision)))
	s.Pipeline.SetProfile(Profile(cfg.Sampling))
	s.logger.Info("configuration applied",
		"sampling_rate", cfg.Sampling.Rate,
		"tiered", cfg.Sampling.Tiered,
	)
}

// Close releases the stack's resources.
func (s *Service) Close() error {
	s.Bus.Close()
	return s.Store.Close()
}

// Bands maps decision config to policy bands.
func Bands(cfg config.DecisionConfig) policy.Bands {
	return policy.Bands{
		Pass:       cfg.PassBand,
		Regenerate: cfg.RegenerateBand,
		Quarantine: cfg.QuarantineBand,
		Escalate:   cfg.EscalateBand,
	}
}

// Profile maps sampling config to an evaluation profile.
func Profile(cfg config.SamplingConfig) core.EvaluationProfile {
	return core.EvaluationProfile{
		SamplingRate:     cfg.Rate,
		TieredEvaluation: cfg.Tiered,
		RapidScreenIDs:   criticIDs(cfg.RapidScreenIDs),
		DeepEvalIDs:      criticIDs(cfg.DeepEvalIDs),
		CriticIDs:        criticIDs(cfg.CriticIDs),
	}
}

func buildCriticRegistry(cfg config.CriticsConfig) *critic.Registry {
	registry := critic.NewRegistry(config.Duration(cfg.DefaultTimeout, 30*time.Second))

	for _, def := range cfg.Definitions {
		registry.Define(critic.Definition{
			ID:        core.CriticID(def.ID),
			Weight:    def.Weight,
			Threshold: def.Threshold,
			Timeout:   config.Duration(def.Timeout, 0),
			Provider:  def.Provider,
		})
	}
	for _, o := range cfg.Overrides {
		registry.SetConfig(o.Target, core.CriticConfig{
			CriticID:          core.CriticID(o.CriticID),
			Scope:             core.ConfigScope(o.Scope),
			WeightOverride:    o.Weight,
			ThresholdOverride: o.Threshold,
			ExtraInstructions: o.ExtraInstructions,
		})
	}
	return registry
}

// buildPromptRenderer registers every configured prompt template. The
// config validator runs the same registration, so a failure here means
// the service was built from an unvalidated config.
func buildPromptRenderer(cfg config.CriticsConfig) (*critic.PromptRenderer, error) {
	renderer := critic.NewPromptRenderer()
	for _, def := range cfg.Definitions {
		if def.PromptTemplate == "" {
			continue
		}
		if err := renderer.Register(core.CriticID(def.ID), def.PromptTemplate); err != nil {
			return nil, fmt.Errorf("registering prompt template for critic %s: %w", def.ID, err)
		}
	}
	return renderer, nil
}

func buildJudgeRegistry(cfg config.JudgesConfig) *judge.Registry {
	registry := judge.NewRegistry()
	// Instantiate the rules judge eagerly so critics can reference the
	// provider without explicit configuration.
	_, _ = registry.Get("rules")
	for name, provider := range cfg.Providers {
		if !provider.Enabled {
			continue
		}
		registry.Configure(name, judge.Config{
			BaseURL: provider.BaseURL,
			APIKey:  provider.APIKey,
			Model:   provider.Model,
		})
	}
	return registry
}

func limiterConfigs(limits map[string]config.RateLimit) map[string]critic.RateLimiterConfig {
	out := make(map[string]critic.RateLimiterConfig, len(limits))
	for provider, rl := range limits {
		out[provider] = critic.RateLimiterConfig{
			MaxTokens:  float64(rl.Burst),
			RefillRate: rl.RequestsPerSecond,
		}
	}
	return out
}

func endpoints(cfg []config.WebhookEndpoint) []webhook.Endpoint {
	out := make([]webhook.Endpoint, 0, len(cfg))
	for _, e := range cfg {
		out = append(out, webhook.Endpoint{OrgID: e.OrgID, URL: e.URL, Secret: e.Secret})
	}
	return out
}

func criticIDs(ids []string) []core.CriticID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]core.CriticID, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.CriticID(id))
	}
	return out
}
