// Package config loads and validates application configuration from
// flags, environment, and YAML files, with viper handling precedence.
package config

// Config holds all application configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Sampling   SamplingConfig   `mapstructure:"sampling"`
	Decision   DecisionConfig   `mapstructure:"decision"`
	Critics    CriticsConfig    `mapstructure:"critics"`
	Consent    ConsentConfig    `mapstructure:"consent"`
	Webhooks   WebhooksConfig   `mapstructure:"webhooks"`
	Judges     JudgesConfig     `mapstructure:"judges"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	ReadTimeout    string   `mapstructure:"read_timeout"`
	WriteTimeout   string   `mapstructure:"write_timeout"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	JWTSecret      string   `mapstructure:"jwt_secret"`
	AuthDisabled   bool     `mapstructure:"auth_disabled"`
}

// StoreConfig configures run persistence.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// PipelineConfig configures run execution.
type PipelineConfig struct {
	RunDeadline    string `mapstructure:"run_deadline"`
	MaxInFlight    int    `mapstructure:"max_in_flight"`
	ReaperInterval string `mapstructure:"reaper_interval"`
	ReaperMaxAge   string `mapstructure:"reaper_max_age"`
}

// SamplingConfig configures the evaluation sampler and tiering.
type SamplingConfig struct {
	Rate           float64  `mapstructure:"rate"`
	Tiered         bool     `mapstructure:"tiered"`
	RapidScreenIDs []string `mapstructure:"rapid_screen_critics"`
	DeepEvalIDs    []string `mapstructure:"deep_eval_critics"`
	CriticIDs      []string `mapstructure:"critics"`
}

// DecisionConfig configures the score bands. Each value is the
// inclusive lower bound of its band.
type DecisionConfig struct {
	PassBand       float64 `mapstructure:"pass_band"`
	RegenerateBand float64 `mapstructure:"regenerate_band"`
	QuarantineBand float64 `mapstructure:"quarantine_band"`
	EscalateBand   float64 `mapstructure:"escalate_band"`
}

// CriticsConfig configures critic definitions and scoped overrides.
type CriticsConfig struct {
	DefaultTimeout string               `mapstructure:"default_timeout"`
	Definitions    []CriticDefinition   `mapstructure:"definitions"`
	Overrides      []CriticOverride     `mapstructure:"overrides"`
	RateLimits     map[string]RateLimit `mapstructure:"rate_limits"`
}

// CriticDefinition defines one critic's defaults. PromptTemplate is a
// text/template body rendered against the critic prompt placeholders;
// empty means the generic rubric prompt.
type CriticDefinition struct {
	ID             string  `mapstructure:"id"`
	Weight         float64 `mapstructure:"weight"`
	Threshold      float64 `mapstructure:"threshold"`
	Timeout        string  `mapstructure:"timeout"`
	Provider       string  `mapstructure:"provider"`
	PromptTemplate string  `mapstructure:"prompt_template"`
}

// CriticOverride applies a scoped config override to a critic.
type CriticOverride struct {
	CriticID          string   `mapstructure:"critic_id"`
	Scope             string   `mapstructure:"scope"` // org, franchise, character
	Target            string   `mapstructure:"target"`
	Weight            *float64 `mapstructure:"weight"`
	Threshold         *float64 `mapstructure:"threshold"`
	ExtraInstructions string   `mapstructure:"extra_instructions"`
}

// RateLimit configures a judge provider's token bucket.
type RateLimit struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ConsentConfig configures the consent gate.
type ConsentConfig struct {
	LookupRetries int    `mapstructure:"lookup_retries"`
	RetryBackoff  string `mapstructure:"retry_backoff"`
}

// WebhooksConfig configures decision webhooks.
type WebhooksConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	Endpoints   []WebhookEndpoint `mapstructure:"endpoints"`
	MaxAttempts int               `mapstructure:"max_attempts"`
	Timeout     string            `mapstructure:"timeout"`
}

// WebhookEndpoint is one webhook destination with its signing secret.
type WebhookEndpoint struct {
	OrgID  string `mapstructure:"org_id"`
	URL    string `mapstructure:"url"`
	Secret string `mapstructure:"secret"`
}

// JudgesConfig configures judge providers.
type JudgesConfig struct {
	Default   string           `mapstructure:"default"`
	Providers map[string]Judge `mapstructure:"providers"`
}

// Judge configures a single judge provider endpoint.
type Judge struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}
