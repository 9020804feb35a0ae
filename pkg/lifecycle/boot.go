package lifecycle

import (
	"context"
	"sort"

	"ember-gateway/ember/pkg/config"
)

// Boot launches every preload=true model immediately, then — unless
// on_demand_only is set — every auto_start=true model in
// priority-descending order, respecting the global concurrency cap.
// Failures are logged and do not abort the remaining boot sequence; a
// model that fails to start at boot is left FAILED and retried on first
// traffic like any other FAILED model.
func (c *Controller) Boot(ctx context.Context) {
	cfg := c.config()

	models := make([]config.ModelConfig, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Priority > models[j].Priority })

	for _, m := range models {
		if !m.Preload {
			continue
		}
		c.bootStart(ctx, m.Name)
	}

	if cfg.Lifecycle.OnDemandOnly {
		return
	}

	for _, m := range models {
		if m.Preload || !m.AutoStart {
			continue
		}
		c.bootStart(ctx, m.Name)
	}
}

func (c *Controller) bootStart(ctx context.Context, name string) {
	if err := c.StartModel(ctx, name); err != nil && err != ErrAlreadyReady {
		c.logger.Warn("boot auto-start failed", "model", name, "error", err)
	}
}
