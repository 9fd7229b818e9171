package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "APM",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "APM",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (APM_*)
// 3. Project config (.apm.yaml in current directory)
// 4. User config (~/.config/apm/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".apm")
		l.v.SetConfigType("yaml")

		// Project config takes precedence over user config
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "apm"))
		}
	}

	// Read config file (ignore not found)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// Server defaults
	l.v.SetDefault("server.host", "127.0.0.1")
	l.v.SetDefault("server.port", 8710)
	l.v.SetDefault("server.read_timeout", "15s")
	l.v.SetDefault("server.write_timeout", "2m")
	l.v.SetDefault("server.allowed_origins", []string{})
	l.v.SetDefault("server.auth_disabled", false)

	// Store defaults (unified under .apm/)
	l.v.SetDefault("store.path", ".apm/state/runs.db")

	// Pipeline defaults
	l.v.SetDefault("pipeline.run_deadline", "2m")
	l.v.SetDefault("pipeline.max_in_flight", 8)
	l.v.SetDefault("pipeline.reaper_interval", "1m")
	l.v.SetDefault("pipeline.reaper_max_age", "10m")

	// Sampling defaults: evaluate everything unless tuned down
	l.v.SetDefault("sampling.rate", 1.0)
	l.v.SetDefault("sampling.tiered", false)
	l.v.SetDefault("sampling.critics", []string{"canon", "legal", "safety"})

	// Decision band lower bounds (90/70/50/30 policy)
	l.v.SetDefault("decision.pass_band", 90.0)
	l.v.SetDefault("decision.regenerate_band", 70.0)
	l.v.SetDefault("decision.quarantine_band", 50.0)
	l.v.SetDefault("decision.escalate_band", 30.0)

	// Critic defaults
	l.v.SetDefault("critics.default_timeout", "30s")

	// Consent gate defaults
	l.v.SetDefault("consent.lookup_retries", 3)
	l.v.SetDefault("consent.retry_backoff", "200ms")

	// Webhook defaults
	l.v.SetDefault("webhooks.enabled", false)
	l.v.SetDefault("webhooks.max_attempts", 5)
	l.v.SetDefault("webhooks.timeout", "10s")

	// Judge defaults
	l.v.SetDefault("judges.default", "openai")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// AllSettings returns all settings as a map.
func (l *Loader) AllSettings() map[string]interface{} {
	return l.v.AllSettings()
}
