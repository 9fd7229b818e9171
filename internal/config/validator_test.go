package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "auto"},
		Server: ServerConfig{
			Host: "127.0.0.1", Port: 8710,
			ReadTimeout: "15s", WriteTimeout: "2m",
			AuthDisabled: true,
		},
		Store: StoreConfig{Path: ".apm/state/runs.db"},
		Pipeline: PipelineConfig{
			RunDeadline: "2m", MaxInFlight: 8,
			ReaperInterval: "1m", ReaperMaxAge: "10m",
		},
		Sampling: SamplingConfig{
			Rate:    1.0,
			Tiered:  true,
			DeepEvalIDs: []string{"canon"},
		},
		Decision: DecisionConfig{
			PassBand: 90, RegenerateBand: 70, QuarantineBand: 50, EscalateBand: 30,
		},
		Critics: CriticsConfig{
			DefaultTimeout: "30s",
			Definitions: []CriticDefinition{
				{ID: "canon", Weight: 1.5, Provider: "openai"},
			},
		},
		Consent: ConsentConfig{LookupRetries: 3, RetryBackoff: "200ms"},
	}
}

func TestValidator_ValidConfig(t *testing.T) {
	if err := NewValidator().Validate(validConfig()); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestValidator_AcceptsWellFormedPromptTemplate(t *testing.T) {
	cfg := validConfig()
	cfg.Critics.Definitions[0].PromptTemplate = `Assess {{.CharacterName}} against the canon pack.

{{.CanonPack}}

Content:
{{.Content}}`

	if err := NewValidator().Validate(cfg); err != nil {
		t.Errorf("well-formed template rejected: %v", err)
	}
}

func TestValidator_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth without secret", func(c *Config) { c.Server.AuthDisabled = false }, "server.jwt_secret"},
		{"empty store path", func(c *Config) { c.Store.Path = " " }, "store.path"},
		{"bad deadline", func(c *Config) { c.Pipeline.RunDeadline = "soon" }, "pipeline.run_deadline"},
		{"zero workers", func(c *Config) { c.Pipeline.MaxInFlight = 0 }, "pipeline.max_in_flight"},
		{"rate above one", func(c *Config) { c.Sampling.Rate = 1.5 }, "sampling.rate"},
		{"negative rate", func(c *Config) { c.Sampling.Rate = -0.1 }, "sampling.rate"},
		{"tiered without deep set", func(c *Config) { c.Sampling.DeepEvalIDs = nil }, "sampling.deep_eval_critics"},
		{
			"flat without critics",
			func(c *Config) { c.Sampling.Tiered = false; c.Sampling.CriticIDs = nil },
			"sampling.critics",
		},
		{"band above 100", func(c *Config) { c.Decision.PassBand = 150 }, "decision.pass_band"},
		{
			"non-monotonic bands",
			func(c *Config) { c.Decision.RegenerateBand = 95 },
			"strictly decreasing",
		},
		{
			"duplicate critic",
			func(c *Config) {
				c.Critics.Definitions = append(c.Critics.Definitions,
					CriticDefinition{ID: "canon", Weight: 1})
			},
			"duplicate critic id",
		},
		{
			"negative weight",
			func(c *Config) { c.Critics.Definitions[0].Weight = -1 },
			"weight",
		},
		{
			"template missing required placeholder",
			func(c *Config) {
				c.Critics.Definitions[0].PromptTemplate = "Judge {{.CharacterName}} on canon fidelity."
			},
			"prompt_template",
		},
		{
			"template with unknown placeholder",
			func(c *Config) {
				c.Critics.Definitions[0].PromptTemplate = "{{.CharacterName}} {{.Content}} {{.Sidekick}}"
			},
			"prompt_template",
		},
		{
			"negative override weight",
			func(c *Config) {
				w := -0.5
				c.Critics.Overrides = []CriticOverride{{CriticID: "canon", Scope: "org", Weight: &w}}
			},
			"must not be negative",
		},
		{
			"override on unknown critic",
			func(c *Config) {
				c.Critics.Overrides = []CriticOverride{{CriticID: "ghost", Scope: "org"}}
			},
			"undefined critic",
		},
		{
			"character override without target",
			func(c *Config) {
				c.Critics.Overrides = []CriticOverride{{CriticID: "canon", Scope: "character"}}
			},
			"target required",
		},
		{
			"bad rate limit",
			func(c *Config) {
				c.Critics.RateLimits = map[string]RateLimit{"openai": {RequestsPerSecond: 0, Burst: 1}}
			},
			"requests_per_second",
		},
		{"zero consent retries", func(c *Config) { c.Consent.LookupRetries = 0 }, "consent.lookup_retries"},
		{
			"webhook without secret",
			func(c *Config) {
				c.Webhooks = WebhooksConfig{
					Enabled: true, MaxAttempts: 3, Timeout: "5s",
					Endpoints: []WebhookEndpoint{{OrgID: "org-1", URL: "https://example.com/hook"}},
				}
			},
			"signing secret",
		},
		{
			"webhook with bad url",
			func(c *Config) {
				c.Webhooks = WebhooksConfig{
					Enabled: true, MaxAttempts: 3, Timeout: "5s",
					Endpoints: []WebhookEndpoint{{OrgID: "org-1", URL: "not-a-url", Secret: "s"}},
				}
			},
			"http(s) URL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := NewValidator().Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantSub)
			}
		})
	}
}

func TestValidator_CollectsMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "verbose"
	cfg.Server.Port = -1
	cfg.Sampling.Rate = 2

	err := NewValidator().Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 3 {
		t.Errorf("errors = %d, want 3: %v", len(verrs), verrs)
	}
}
