package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"ember-gateway/ember/pkg/config"
	"ember-gateway/ember/pkg/lifecycle"
	"ember-gateway/ember/pkg/registry"
)

// Controller is the subset of *lifecycle.Controller the reaper needs,
// kept narrow so this package doesn't have to import the full lifecycle
// surface for a test double.
type Controller interface {
	StopModel(ctx context.Context, name string, reason error) error
}

// Reaper periodically stops idle models and sweeps timed-out queue
// entries.
type Reaper struct {
	logger     *slog.Logger
	registry   *registry.Registry
	controller Controller
	cfg        func() *config.Config

	cron *cron.Cron
}

// New builds a Reaper. cfgFn is called on every sweep so a config reload
// is picked up without restarting the scheduler.
func New(logger *slog.Logger, reg *registry.Registry, controller Controller, cfgFn func() *config.Config) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		logger:     logger,
		registry:   reg,
		controller: controller,
		cfg:        cfgFn,
		cron:       cron.New(),
	}
}

// Start schedules the idle sweep and the queue timeout sweep per the
// configured intervals and begins running them in the background. Call
// Stop to halt both.
func (r *Reaper) Start() error {
	cfg := r.cfg()

	idleSpec := fmt.Sprintf("@every %s", cfg.Lifecycle.CleanupInterval.String())
	if _, err := r.cron.AddFunc(idleSpec, r.sweepIdle); err != nil {
		return fmt.Errorf("schedule idle sweep: %w", err)
	}

	queueSpec := fmt.Sprintf("@every %s", cfg.Queue.SweepInterval.String())
	if _, err := r.cron.AddFunc(queueSpec, r.sweepQueues); err != nil {
		return fmt.Errorf("schedule queue sweep: %w", err)
	}

	r.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish.
func (r *Reaper) Stop(ctx context.Context) {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// sweepIdle stops every READY, non-preload entry whose idle time exceeds
// its inactivity timeout. Reaping is cooperative — the Controller's
// per-model serialization makes this safe to run concurrently with any
// other in-flight transition.
func (r *Reaper) sweepIdle() {
	cfg := r.cfg()
	timeout := cfg.Lifecycle.InactivityTimeout

	for _, name := range r.registry.List() {
		e := r.registry.Get(name)
		if e == nil {
			continue
		}
		snap := e.Snapshot()
		if snap.State != registry.StateReady || snap.Config.Preload {
			continue
		}
		if time.Since(snap.LastActivityTs) <= timeout {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := r.controller.StopModel(ctx, name, nil)
		cancel()
		if err != nil && err != lifecycle.ErrAlreadyStopped {
			r.logger.Warn("idle reap failed", "model", name, "error", err)
			continue
		}
		r.logger.Info("idle reap stopped model", "model", name, "idle_for", time.Since(snap.LastActivityTs))
	}
}

// sweepQueues times out stale entries in every model's request queue.
func (r *Reaper) sweepQueues() {
	cfg := r.cfg()

	for _, name := range r.registry.List() {
		e := r.registry.Get(name)
		if e == nil {
			continue
		}
		requestTimeout := e.Config().EffectiveRequestTimeout(cfg.Queue.RequestTimeout)
		if n := e.Queue().SweepTimeouts(requestTimeout); n > 0 {
			r.logger.Info("queue timeout sweep", "model", name, "expired", n)
		}
	}
}
