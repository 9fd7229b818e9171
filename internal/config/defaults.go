package config

// DefaultConfigYAML contains the default configuration YAML content.
// This is used by `apm init` and the snapshot reset path to ensure
// consistency.
const DefaultConfigYAML = `# APM Configuration
#
# Values not specified here use sensible defaults.

# HTTP API server
server:
  host: 127.0.0.1
  port: 8710
  # Set a signing secret for bearer tokens, or disable auth for local use.
  auth_disabled: true

# Run persistence
store:
  path: .apm/state/runs.db

# Evaluation sampling and tiering
sampling:
  # Fraction of requests that get a full evaluation (1.0 = all).
  rate: 1.0
  # When tiered, cheap screen critics run first and can short-circuit.
  tiered: true
  rapid_screen_critics: [safety-screen]
  deep_eval_critics: [canon, legal, safety]

# Decision score bands (inclusive lower bounds)
decision:
  pass_band: 90
  regenerate_band: 70
  quarantine_band: 50
  escalate_band: 30

# Critic definitions
critics:
  default_timeout: 30s
  definitions:
    - id: safety-screen
      weight: 1.0
      threshold: 40
      provider: openai
    - id: canon
      weight: 1.5
      provider: openai
    - id: legal
      weight: 2.0
      provider: openai
    - id: safety
      weight: 2.0
      provider: openai
  rate_limits:
    openai:
      requests_per_second: 10
      burst: 20

# Judge providers
judges:
  default: openai
  providers:
    openai:
      enabled: true
      base_url: https://api.openai.com/v1
      model: gpt-4o-mini

# Decision webhooks (HMAC-SHA256 signed)
webhooks:
  enabled: false
  max_attempts: 5
  timeout: 10s
  endpoints: []
`
