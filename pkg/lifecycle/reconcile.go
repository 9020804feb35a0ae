package lifecycle

import (
	"context"

	"ember-gateway/ember/pkg/config"
	"ember-gateway/ember/pkg/registry"
)

// ApplyReload drives a registry.Diff (produced by Registry.Reconcile) to
// completion: removed models are stopped and forgotten, models needing a
// respawn are stopped and then started fresh if they were active before
// the reload or are preload/auto_start, added models are created
// STOPPED and auto-started if configured, and updated models simply keep
// running against their already-applied new configuration. It is safe
// to call with an empty Diff; that is the config-reload-with-no-diff
// no-op property.
func (c *Controller) ApplyReload(ctx context.Context, newCfg *config.Config, diff registry.Diff) {
	c.UpdateConfig(newCfg)

	for _, name := range diff.Removed {
		if err := c.StopModel(ctx, name, nil); err != nil && err != ErrAlreadyStopped {
			c.logger.Warn("reload: stop of removed model failed", "model", name, "error", err)
		}
		c.registry.Forget(name)
	}

	for _, name := range diff.Respawn {
		wasActive := false
		if e := c.registry.Get(name); e != nil {
			st := e.State()
			wasActive = st == registry.StateStarting || st == registry.StateReady || st == registry.StateReloading
		}
		if err := c.StopModel(ctx, name, nil); err != nil && err != ErrAlreadyStopped {
			c.logger.Warn("reload: stop before respawn failed", "model", name, "error", err)
			continue
		}
		c.registry.ApplyRespawnedConfig(name)
		mc, ok := newCfg.Models[name]
		if !ok {
			continue
		}
		if wasActive || mc.Preload || mc.AutoStart {
			c.bootStart(ctx, name)
		}
	}

	for _, name := range diff.Added {
		mc, ok := newCfg.Models[name]
		if !ok {
			continue
		}
		if mc.Preload || (mc.AutoStart && !newCfg.Lifecycle.OnDemandOnly) {
			c.bootStart(ctx, name)
		}
	}

	// diff.Updated models keep running; their entry's config was already
	// swapped in place by Registry.Reconcile.
}
