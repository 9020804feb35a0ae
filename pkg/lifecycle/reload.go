package lifecycle

import (
	"context"
	"time"

	"ember-gateway/ember/pkg/registry"
)

// ReloadModel is the reload-request event. Each model's port is held
// exclusively by one live process (§3 invariant 1), so a true overlap of
// old and new processes bound to the same port is impossible; instead
// this lets the old process drain gracefully (SIGTERM, same grace period
// as a normal stop, so in-flight requests against it get a chance to
// finish) and only spawns the replacement once the port is free. The gap
// between releasing the old process and the new one reaching READY is
// the "short queueing pause" §5 says is acceptable during a reload swap:
// new requests admitted during RELOADING queue and drain once ready,
// exactly like a cold start. If the model is STARTING, the reload is
// deferred until it reaches READY.
func (c *Controller) ReloadModel(ctx context.Context, name string) error {
	e := c.registry.Get(name)
	if e == nil {
		return ErrModelNotFound
	}

	mc := c.modelControllerFor(name)
	mc.mu.Lock()
	switch e.State() {
	case registry.StateStarting:
		mc.deferReload = true
		mc.mu.Unlock()
		return nil
	case registry.StateReady:
		// fallthrough below, outside the switch, holding nothing
	default:
		mc.mu.Unlock()
		return ErrReloadNotReady
	}

	oldHandle := e.ProcessHandle()
	from := e.State()
	e.SetState(registry.StateReloading)
	fut := newFuture()
	mc.future = fut
	mc.mu.Unlock()
	c.transition(name, from, registry.StateReloading)

	cfg := c.config()
	mcfg := e.Config()
	spec := c.buildSpec(mcfg, cfg)

	// Let in-flight requests against the old process finish (graceful
	// SIGTERM, same grace window as a normal stop) before releasing its
	// port for the replacement.
	if oldHandle != nil {
		if err := c.supervisor.Terminate(context.Background(), oldHandle, cfg.Lifecycle.StopTimeout); err != nil {
			c.logger.Warn("error terminating pre-reload process", "model", name, "error", err)
		}
	}
	e.SetProcessHandle(nil)

	startCtx, cancel := context.WithTimeout(context.Background(), spec.StartTimeout+time.Second)
	defer cancel()

	newHandle, err := c.supervisor.Spawn(startCtx, spec)
	if err != nil {
		e.SetState(registry.StateFailed)
		c.transition(name, registry.StateReloading, registry.StateFailed)
		c.release()
		e.Queue().Fail(err)
		fut.resolve(err)
		c.logger.Warn("reload failed, model demoted to FAILED", "model", name, "error", err)
		return err
	}

	e.SetProcessHandle(newHandle)
	e.MarkStarted()
	e.SetState(registry.StateReady)
	c.transition(name, registry.StateReloading, registry.StateReady)
	e.Queue().Drain()
	fut.resolve(nil)

	c.logger.Info("model reloaded", "model", name, "port", mcfg.Port)
	return nil
}
