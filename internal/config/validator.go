package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/apm-labs/apm/internal/core"
	"github.com/apm-labs/apm/internal/critic"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateServer(&cfg.Server)
	v.validateStore(&cfg.Store)
	v.validatePipeline(&cfg.Pipeline)
	v.validateSampling(&cfg.Sampling)
	v.validateDecision(&cfg.Decision)
	v.validateCritics(&cfg.Critics)
	v.validateConsent(&cfg.Consent)
	v.validateWebhooks(&cfg.Webhooks)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 1 and 65535")
	}
	v.validateDuration("server.read_timeout", cfg.ReadTimeout)
	v.validateDuration("server.write_timeout", cfg.WriteTimeout)
	if !cfg.AuthDisabled && cfg.JWTSecret == "" {
		v.addError("server.jwt_secret", "", "required unless server.auth_disabled is true")
	}
}

func (v *Validator) validateStore(cfg *StoreConfig) {
	if strings.TrimSpace(cfg.Path) == "" {
		v.addError("store.path", cfg.Path, "path required")
	}
}

func (v *Validator) validatePipeline(cfg *PipelineConfig) {
	v.validateDuration("pipeline.run_deadline", cfg.RunDeadline)
	v.validateDuration("pipeline.reaper_interval", cfg.ReaperInterval)
	v.validateDuration("pipeline.reaper_max_age", cfg.ReaperMaxAge)
	if cfg.MaxInFlight < 1 {
		v.addError("pipeline.max_in_flight", cfg.MaxInFlight, "must be at least 1")
	}
}

func (v *Validator) validateSampling(cfg *SamplingConfig) {
	if cfg.Rate < 0 || cfg.Rate > 1 {
		v.addError("sampling.rate", cfg.Rate, "must be between 0.0 and 1.0")
	}
	if cfg.Tiered {
		if len(cfg.DeepEvalIDs) == 0 {
			v.addError("sampling.deep_eval_critics", cfg.DeepEvalIDs, "required when tiered evaluation is enabled")
		}
	} else if len(cfg.CriticIDs) == 0 {
		v.addError("sampling.critics", cfg.CriticIDs, "at least one critic required")
	}
}

func (v *Validator) validateDecision(cfg *DecisionConfig) {
	bands := []struct {
		field string
		value float64
	}{
		{"decision.pass_band", cfg.PassBand},
		{"decision.regenerate_band", cfg.RegenerateBand},
		{"decision.quarantine_band", cfg.QuarantineBand},
		{"decision.escalate_band", cfg.EscalateBand},
	}
	for _, b := range bands {
		if b.value < 0 || b.value > 100 {
			v.addError(b.field, b.value, "must be between 0 and 100")
		}
	}
	if !(cfg.PassBand > cfg.RegenerateBand &&
		cfg.RegenerateBand > cfg.QuarantineBand &&
		cfg.QuarantineBand > cfg.EscalateBand) {
		v.addError("decision", cfg, "bands must be strictly decreasing: pass > regenerate > quarantine > escalate")
	}
}

func (v *Validator) validateCritics(cfg *CriticsConfig) {
	v.validateDuration("critics.default_timeout", cfg.DefaultTimeout)

	seen := make(map[string]bool)
	for i, def := range cfg.Definitions {
		field := fmt.Sprintf("critics.definitions[%d]", i)
		if strings.TrimSpace(def.ID) == "" {
			v.addError(field+".id", def.ID, "id required")
			continue
		}
		if seen[def.ID] {
			v.addError(field+".id", def.ID, "duplicate critic id")
		}
		seen[def.ID] = true
		if def.Weight < 0 {
			v.addError(field+".weight", def.Weight, "must not be negative")
		}
		if def.Threshold < 0 || def.Threshold > 100 {
			v.addError(field+".threshold", def.Threshold, "must be between 0 and 100")
		}
		if def.Timeout != "" {
			v.validateDuration(field+".timeout", def.Timeout)
		}
		if def.PromptTemplate != "" {
			if err := critic.NewPromptRenderer().Register(core.CriticID(def.ID), def.PromptTemplate); err != nil {
				v.addError(field+".prompt_template", def.ID, err.Error())
			}
		}
	}

	validScopes := map[string]bool{"org": true, "franchise": true, "character": true}
	for i, ov := range cfg.Overrides {
		field := fmt.Sprintf("critics.overrides[%d]", i)
		if !seen[ov.CriticID] {
			v.addError(field+".critic_id", ov.CriticID, "override references undefined critic")
		}
		if !validScopes[ov.Scope] {
			v.addError(field+".scope", ov.Scope, "must be one of: org, franchise, character")
		}
		if ov.Scope != "org" && strings.TrimSpace(ov.Target) == "" {
			v.addError(field+".target", ov.Target, "target required for franchise and character scopes")
		}
		if ov.Weight != nil && *ov.Weight < 0 {
			v.addError(field+".weight", *ov.Weight, "must not be negative")
		}
	}

	for provider, rl := range cfg.RateLimits {
		field := "critics.rate_limits." + provider
		if rl.RequestsPerSecond <= 0 {
			v.addError(field+".requests_per_second", rl.RequestsPerSecond, "must be positive")
		}
		if rl.Burst < 1 {
			v.addError(field+".burst", rl.Burst, "must be at least 1")
		}
	}
}

func (v *Validator) validateConsent(cfg *ConsentConfig) {
	if cfg.LookupRetries < 1 {
		v.addError("consent.lookup_retries", cfg.LookupRetries, "must be at least 1")
	}
	v.validateDuration("consent.retry_backoff", cfg.RetryBackoff)
}

func (v *Validator) validateWebhooks(cfg *WebhooksConfig) {
	if !cfg.Enabled {
		return
	}
	if len(cfg.Endpoints) == 0 {
		v.addError("webhooks.endpoints", cfg.Endpoints, "at least one endpoint required when webhooks are enabled")
	}
	if cfg.MaxAttempts < 1 {
		v.addError("webhooks.max_attempts", cfg.MaxAttempts, "must be at least 1")
	}
	v.validateDuration("webhooks.timeout", cfg.Timeout)

	for i, ep := range cfg.Endpoints {
		field := fmt.Sprintf("webhooks.endpoints[%d]", i)
		u, err := url.Parse(ep.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			v.addError(field+".url", ep.URL, "must be a valid http(s) URL")
		}
		if ep.Secret == "" {
			v.addError(field+".secret", "", "signing secret required")
		}
	}
}

func (v *Validator) validateDuration(field, value string) {
	if value == "" {
		v.addError(field, value, "duration required")
		return
	}
	if _, err := time.ParseDuration(value); err != nil {
		v.addError(field, value, "invalid duration (e.g., 30s, 2m)")
	}
}
