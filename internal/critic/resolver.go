package critic

import (
	"context"
	"sync"
	"time"

	"github.com/apm-labs/apm/internal/core"
)

// Definition is a critic's defaults before any scoped config applies.
type Definition struct {
	ID        core.CriticID
	Weight    float64
	Threshold float64 // rapid-screen rejection threshold
	Timeout   time.Duration
	Provider  string // judge provider backing this critic
}

// Registry holds critic definitions and scoped config overrides, and
// implements core.CriticResolver. Resolution order, most specific wins:
// character > franchise > org > critic default.
type Registry struct {
	mu         sync.RWMutex
	defaults   map[core.CriticID]Definition
	orgConfigs map[core.CriticID]core.CriticConfig
	franchise  map[string]map[core.CriticID]core.CriticConfig
	character  map[core.CharacterID]map[core.CriticID]core.CriticConfig
	franchises map[core.CharacterID]string // character -> franchise binding
	timeout    time.Duration               // uniform default when a definition has none
}

// NewRegistry creates an empty critic registry.
func NewRegistry(defaultTimeout time.Duration) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Registry{
		defaults:   make(map[core.CriticID]Definition),
		orgConfigs: make(map[core.CriticID]core.CriticConfig),
		franchise:  make(map[string]map[core.CriticID]core.CriticConfig),
		character:  make(map[core.CharacterID]map[core.CriticID]core.CriticConfig),
		franchises: make(map[core.CharacterID]string),
		timeout:    defaultTimeout,
	}
}

// Define registers or replaces a critic definition.
func (r *Registry) Define(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if def.Weight <= 0 {
		def.Weight = 1
	}
	r.defaults[def.ID] = def
}

// BindFranchise associates a character with a franchise for config
// resolution.
func (r *Registry) BindFranchise(characterID core.CharacterID, franchiseID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.franchises[characterID] = franchiseID
}

// SetConfig installs a scoped override. The key is ignored for org
// scope, a franchise id for franchise scope, and a character id for
// character scope.
func (r *Registry) SetConfig(key string, cfg core.CriticConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch cfg.Scope {
	case core.ScopeOrg:
		r.orgConfigs[cfg.CriticID] = cfg
	case core.ScopeFranchise:
		if r.franchise[key] == nil {
			r.franchise[key] = make(map[core.CriticID]core.CriticConfig)
		}
		r.franchise[key][cfg.CriticID] = cfg
	case core.ScopeCharacter:
		id := core.CharacterID(key)
		if r.character[id] == nil {
			r.character[id] = make(map[core.CriticID]core.CriticConfig)
		}
		r.character[id][cfg.CriticID] = cfg
	}
}

// Defined returns the ids of all defined critics, for validation.
func (r *Registry) Defined() []core.CriticID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]core.CriticID, 0, len(r.defaults))
	for id := range r.defaults {
		ids = append(ids, id)
	}
	return ids
}

// Definition returns the unresolved definition for a critic.
func (r *Registry) Definition(id core.CriticID) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defaults[id]
	return def, ok
}

// ResolveCritics resolves the given critic ids for a character, applying
// scope overrides. Unknown critic ids resolve with neutral defaults so a
// stale profile cannot make the run unprocessable.
func (r *Registry) ResolveCritics(_ context.Context, characterID core.CharacterID, ids []core.CriticID) ([]core.ResolvedCritic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	franchiseID := r.franchises[characterID]
	resolved := make([]core.ResolvedCritic, 0, len(ids))

	for _, id := range ids {
		def, ok := r.defaults[id]
		if !ok {
			def = Definition{ID: id, Weight: 1, Threshold: 0}
		}

		rc := core.ResolvedCritic{
			ID:        id,
			Weight:    def.Weight,
			Threshold: def.Threshold,
			Timeout:   def.Timeout,
		}
		if rc.Timeout <= 0 {
			rc.Timeout = r.timeout
		}

		// Apply in increasing specificity; later wins.
		apply := func(cfg core.CriticConfig, ok bool) {
			if !ok {
				return
			}
			if cfg.WeightOverride != nil {
				rc.Weight = *cfg.WeightOverride
			}
			if cfg.ThresholdOverride != nil {
				rc.Threshold = *cfg.ThresholdOverride
			}
			if cfg.ExtraInstructions != "" {
				rc.ExtraInstructions = cfg.ExtraInstructions
			}
		}

		cfg, ok := r.orgConfigs[id]
		apply(cfg, ok)
		if franchiseID != "" {
			cfg, ok = r.franchise[franchiseID][id]
			apply(cfg, ok)
		}
		cfg, ok = r.character[characterID][id]
		apply(cfg, ok)

		resolved = append(resolved, rc)
	}

	return resolved, nil
}
