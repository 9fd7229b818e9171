// Package judge provides the concrete judge adapters backing critics:
// an HTTP client for hosted scoring endpoints and a deterministic
// rules judge for offline rapid screening.
package judge

import (
	"sync"

	"github.com/apm-labs/apm/internal/core"
)

// Factory creates a judge from configuration.
type Factory func(cfg Config) (core.Judge, error)

// Config configures a single judge provider.
type Config struct {
	Name       string
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    string
	MaxRetries int
}

// Registry manages available judge providers.
type Registry struct {
	factories map[string]Factory
	judges    map[string]core.Judge
	configs   map[string]Config
	mu        sync.RWMutex
}

// NewRegistry creates a judge registry with the built-in factories.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		judges:    make(map[string]core.Judge),
		configs:   make(map[string]Config),
	}
	r.RegisterFactory("http", NewHTTPJudge)
	r.RegisterFactory("rules", NewRulesJudge)
	return r
}

// RegisterFactory registers a factory for a judge type.
func (r *Registry) RegisterFactory(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Register adds a judge directly to the registry.
func (r *Registry) Register(name string, j core.Judge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.judges[name] = j
}

// Configure sets configuration for a provider, clearing any cached
// instance so the next Get rebuilds it.
func (r *Registry) Configure(name string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[name] = cfg
	delete(r.judges, name)
}

// Get returns a judge by provider name, creating it if necessary. A
// configured provider uses the "http" factory unless its name matches
// a registered factory.
func (r *Registry) Get(name string) (core.Judge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if j, ok := r.judges[name]; ok {
		return j, nil
	}

	factoryName := name
	if _, ok := r.factories[factoryName]; !ok {
		factoryName = "http"
	}
	factory := r.factories[factoryName]

	cfg, ok := r.configs[name]
	if !ok && factoryName != name {
		return nil, core.ErrNotFound("judge_provider", name)
	}
	cfg.Name = name

	j, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	r.judges[name] = j
	return j, nil
}

// All returns every instantiable judge keyed by provider name.
func (r *Registry) All() map[string]core.Judge {
	r.mu.RLock()
	names := make([]string, 0, len(r.configs)+len(r.judges))
	for name := range r.configs {
		names = append(names, name)
	}
	for name := range r.judges {
		names = append(names, name)
	}
	r.mu.RUnlock()

	out := make(map[string]core.Judge, len(names))
	for _, name := range names {
		if _, ok := out[name]; ok {
			continue
		}
		if j, err := r.Get(name); err == nil {
			out[name] = j
		}
	}
	return out
}
