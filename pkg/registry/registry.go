package registry

import (
	"sort"
	"sync"

	"ember-gateway/ember/pkg/config"
)

// Diff describes the effect of a Reconcile call on the registry, for the
// Lifecycle Controller to act on.
type Diff struct {
	// Added is the set of model names present in the new config but not
	// the old one. Reconcile creates a STOPPED entry for each; the
	// controller auto-starts it if configured to.
	Added []string

	// Removed is the set of model names present in the old config but not
	// the new one. The controller stops and discards each entry.
	Removed []string

	// Respawn is the set of retained model names whose configuration
	// changed in a way that requires stopping and restarting the backend
	// process (port, model path, or launch args changed).
	Respawn []string

	// Updated is the set of retained model names whose configuration
	// changed in a way that can be applied without restarting the
	// backend process (priority, resource group, queue/timeout overrides).
	Updated []string
}

// Registry owns the name-to-entry map and the most recently applied
// configuration snapshot. It does not itself start or stop processes;
// pkg/lifecycle consumes Reconcile's Diff to do that.
type Registry struct {
	mu      sync.RWMutex
	cfg     *config.Config
	entries map[string]*ModelEntry
}

// New builds a Registry with a STOPPED entry for every model in cfg.
func New(cfg *config.Config) *Registry {
	r := &Registry{cfg: cfg, entries: make(map[string]*ModelEntry, len(cfg.Models))}
	for name, mc := range cfg.Models {
		maxQueue := mc.EffectiveMaxQueueSize(cfg.Queue.MaxSize)
		r.entries[name] = NewModelEntry(mc, maxQueue)
	}
	return r
}

// Get returns the entry for name, or nil if no such model is configured.
func (r *Registry) Get(name string) *ModelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// List returns every model name in stable sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a status snapshot for every configured model, keyed by
// name, for the status and metrics surfaces. The map has no order; callers
// that need one sort the names themselves.
func (r *Registry) Snapshot() map[string]Snapshot {
	r.mu.RLock()
	entries := make(map[string]*ModelEntry, len(r.entries))
	for name, e := range r.entries {
		entries[name] = e
	}
	r.mu.RUnlock()

	out := make(map[string]Snapshot, len(entries))
	for name, e := range entries {
		out[name] = e.Snapshot()
	}
	return out
}

// Config returns the configuration snapshot currently applied.
func (r *Registry) Config() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Reconcile applies a newly loaded configuration, creating entries for
// added models, removing entries for dropped models, and classifying
// retained models as needing a respawn or an in-place update. The caller
// (pkg/lifecycle) is responsible for actually starting/stopping processes
// per the returned Diff; Reconcile only mutates the registry's bookkeeping
// for Added/Updated models and leaves Removed/Respawn entries in place
// until the controller has finished tearing them down, at which point it
// calls Forget and ApplyRespawnedConfig respectively.
func (r *Registry) Reconcile(newCfg *config.Config) Diff {
	r.mu.Lock()
	defer r.mu.Unlock()

	var diff Diff
	oldModels := r.cfg.Models

	for name, newMC := range newCfg.Models {
		oldMC, existed := oldModels[name]
		if !existed {
			diff.Added = append(diff.Added, name)
			maxQueue := newMC.EffectiveMaxQueueSize(newCfg.Queue.MaxSize)
			r.entries[name] = NewModelEntry(newMC, maxQueue)
			continue
		}
		if oldMC.Equal(newMC) {
			continue
		}
		if oldMC.RespawnRequired(newMC) {
			diff.Respawn = append(diff.Respawn, name)
		} else {
			diff.Updated = append(diff.Updated, name)
			if e, ok := r.entries[name]; ok {
				e.UpdateConfig(newMC)
			}
		}
	}

	for name := range oldModels {
		if _, stillExists := newCfg.Models[name]; !stillExists {
			diff.Removed = append(diff.Removed, name)
		}
	}

	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Respawn)
	sort.Strings(diff.Updated)

	r.cfg = newCfg
	return diff
}

// Forget removes name's entry entirely, called by the controller once a
// removed model's process has been stopped.
func (r *Registry) Forget(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// ApplyRespawnedConfig installs the already-reconciled configuration for a
// model the controller has finished respawning, called after
// Reconcile placed the model in diff.Respawn.
func (r *Registry) ApplyRespawnedConfig(name string) {
	r.mu.RLock()
	newMC, ok := r.cfg.Models[name]
	e := r.entries[name]
	r.mu.RUnlock()
	if ok && e != nil {
		e.UpdateConfig(newMC)
	}
}
