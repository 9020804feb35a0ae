package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ember-gateway/ember/pkg/config"
	"ember-gateway/ember/pkg/queue"
	"ember-gateway/ember/pkg/registry"
	"ember-gateway/ember/pkg/supervisor"
)

// transitionFuture lets concurrent callers join a single in-flight
// transition: a start-request arriving during STARTING returns the same
// pending readiness future.
type transitionFuture struct {
	done chan struct{}
	err  error
}

func newFuture() *transitionFuture {
	return &transitionFuture{done: make(chan struct{})}
}

func (f *transitionFuture) resolve(err error) {
	f.err = err
	close(f.done)
}

func (f *transitionFuture) wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// modelController serializes every transition-initiating decision for one
// model. It holds no domain state of its own beyond the bookkeeping
// needed to dedup concurrent requests and defer a reload past an
// in-flight start.
type modelController struct {
	mu            sync.Mutex
	future        *transitionFuture
	deferReload   bool
	reloadTrigger chan struct{}
}

// EventSink receives a notification after every transition, for a
// status-broadcast collaborator: the core only guarantees "emit a
// snapshot on every state transition", the UI layer adapts it to
// WebSocket frames or whatever else it needs.
type EventSink interface {
	OnTransition(model string, from, to registry.State)
}

// Controller is the Lifecycle Controller. One Controller
// manages every model in a Registry.
type Controller struct {
	logger     *slog.Logger
	registry   *registry.Registry
	supervisor *supervisor.Supervisor
	sink       EventSink

	cfgMu sync.RWMutex
	cfg   *config.Config

	admissionMu sync.Mutex
	activeCount int

	controllersMu sync.Mutex
	controllers   map[string]*modelController
}

// New builds a Controller bound to reg and sup, governed by cfg. A nil
// sink disables transition notifications.
func New(logger *slog.Logger, reg *registry.Registry, sup *supervisor.Supervisor, cfg *config.Config, sink EventSink) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		logger:      logger,
		registry:    reg,
		supervisor:  sup,
		sink:        sink,
		cfg:         cfg,
		controllers: make(map[string]*modelController),
	}
}

// UpdateConfig installs a newly reconciled configuration snapshot for
// subsequent spawn/admission decisions (called by the server after
// Registry.Reconcile).
func (c *Controller) UpdateConfig(cfg *config.Config) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.cfg = cfg
}

func (c *Controller) config() *config.Config {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

func (c *Controller) modelControllerFor(name string) *modelController {
	c.controllersMu.Lock()
	defer c.controllersMu.Unlock()
	mc, ok := c.controllers[name]
	if !ok {
		mc = &modelController{}
		c.controllers[name] = mc
	}
	return mc
}

func (c *Controller) transition(name string, from, to registry.State) {
	if c.sink != nil {
		c.sink.OnTransition(name, from, to)
	}
}

// AdmitRequest is the entry point used by the Proxy Forwarder for every
// inbound request. When the model is already READY
// it returns (nil, nil): the caller should forward immediately. Otherwise
// it enqueues the request and, if the model is STOPPED or FAILED, kicks
// off an asynchronous start; the returned entry resolves once the queue
// drains or fails.
func (c *Controller) AdmitRequest(ctx context.Context, name string) (*queue.Entry, error) {
	e := c.registry.Get(name)
	if e == nil {
		return nil, ErrModelNotFound
	}

	switch e.State() {
	case registry.StateReady:
		return nil, nil
	case registry.StateStopped, registry.StateFailed:
		entry, err := e.Queue().Enqueue(ctx, uuid.NewString())
		if err != nil {
			return nil, err
		}
		c.kickStart(name, e)
		return entry, nil
	case registry.StateStarting, registry.StateReloading:
		return e.Queue().Enqueue(ctx, uuid.NewString())
	default: // STOPPING: not a valid Enqueue precondition
		return nil, fmt.Errorf("model %q is stopping, retry shortly", name)
	}
}

// kickStart transitions a STOPPED/FAILED entry to STARTING and launches
// the spawn sequence in the background, deduplicating concurrent callers.
func (c *Controller) kickStart(name string, e *registry.ModelEntry) {
	mc := c.modelControllerFor(name)
	mc.mu.Lock()
	state := e.State()
	if state != registry.StateStopped && state != registry.StateFailed {
		mc.mu.Unlock()
		return
	}
	fut := newFuture()
	mc.future = fut
	e.SetState(registry.StateStarting)
	mc.mu.Unlock()

	c.transition(name, state, registry.StateStarting)
	go c.runStart(name, e, mc, fut)
}

// StartModel is the synchronous admin verb backing POST
// /models/{name}/start. It blocks until the model is READY or the start
// fails, returning ErrAlreadyReady as a no-op success signal.
func (c *Controller) StartModel(ctx context.Context, name string) error {
	e := c.registry.Get(name)
	if e == nil {
		return ErrModelNotFound
	}

	for {
		mc := c.modelControllerFor(name)
		mc.mu.Lock()
		switch e.State() {
		case registry.StateReady:
			mc.mu.Unlock()
			return ErrAlreadyReady
		case registry.StateStarting, registry.StateReloading:
			fut := mc.future
			mc.mu.Unlock()
			if fut == nil {
				return nil
			}
			return fut.wait(ctx)
		case registry.StateStopped, registry.StateFailed:
			fut := newFuture()
			mc.future = fut
			from := e.State()
			e.SetState(registry.StateStarting)
			mc.mu.Unlock()
			c.transition(name, from, registry.StateStarting)
			go c.runStart(name, e, mc, fut)
			return fut.wait(ctx)
		default: // STOPPING
			fut := mc.future
			mc.mu.Unlock()
			if fut != nil {
				_ = fut.wait(ctx)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
	}
}

// runStart performs admission, spawn, and queue drain for one start
// attempt, resolving fut exactly once.
func (c *Controller) runStart(name string, e *registry.ModelEntry, mc *modelController, fut *transitionFuture) {
	mc2 := e.Config()
	cfg := c.config()

	if err := c.admit(name, mc2.Priority); err != nil {
		e.SetState(registry.StateStopped)
		c.transition(name, registry.StateStarting, registry.StateStopped)
		e.Queue().Fail(err)
		fut.resolve(err)
		return
	}

	spec := c.buildSpec(mc2, cfg)

	startCtx, cancel := context.WithTimeout(context.Background(), spec.StartTimeout+time.Second)
	defer cancel()

	handle, err := c.supervisor.Spawn(startCtx, spec)
	if err != nil {
		c.release()
		e.SetState(registry.StateFailed)
		c.transition(name, registry.StateStarting, registry.StateFailed)
		c.logger.Warn("model start failed", "model", name, "error", err)
		e.Queue().Fail(err)
		fut.resolve(err)
		c.maybeRunDeferredReload(name, e, mc)
		return
	}

	e.SetProcessHandle(handle)
	e.MarkStarted()
	e.ResetFailureStreak()
	e.SetState(registry.StateReady)
	c.transition(name, registry.StateStarting, registry.StateReady)
	c.logger.Info("model ready", "model", name, "port", mc2.Port)

	e.Queue().Drain()
	fut.resolve(nil)

	c.maybeRunDeferredReload(name, e, mc)
}

// maybeRunDeferredReload fires a reload that arrived while the model was
// STARTING: a reload-request during STARTING is deferred until READY.
func (c *Controller) maybeRunDeferredReload(name string, e *registry.ModelEntry, mc *modelController) {
	mc.mu.Lock()
	deferred := mc.deferReload
	mc.deferReload = false
	mc.mu.Unlock()

	if deferred && e.State() == registry.StateReady {
		go func() {
			if err := c.ReloadModel(context.Background(), name); err != nil {
				c.logger.Warn("deferred reload failed", "model", name, "error", err)
			}
		}()
	}
}

// StopModel is the stop-request event. It is a no-op success for an
// already-STOPPED model. Stopping during STARTING is deferred until the
// model reaches READY: a stop-request during STARTING cancels after
// readiness, never mid-spawn.
func (c *Controller) StopModel(ctx context.Context, name string, reason error) error {
	e := c.registry.Get(name)
	if e == nil {
		return ErrModelNotFound
	}

	for {
		mc := c.modelControllerFor(name)
		mc.mu.Lock()
		switch e.State() {
		case registry.StateStopped:
			mc.mu.Unlock()
			return ErrAlreadyStopped
		case registry.StateStarting, registry.StateReloading:
			fut := mc.future
			mc.mu.Unlock()
			if fut != nil {
				_ = fut.wait(ctx)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		case registry.StateReady:
			e.SetState(registry.StateStopping)
			mc.mu.Unlock()
			c.transition(name, registry.StateReady, registry.StateStopping)
			return c.doStop(name, e)
		default: // STOPPING
			mc.mu.Unlock()
			return nil
		}
	}
}

// doStop terminates the live process and releases its admission slot. The
// caller must already have set state to STOPPING.
func (c *Controller) doStop(name string, e *registry.ModelEntry) error {
	c.killProcess(name, e, registry.StateStopped)
	c.release()
	return nil
}

// terminateInto kills the live process, releases the admission slot, and
// lands the entry in final. The caller must already have set state to
// STOPPING.
func (c *Controller) terminateInto(name string, e *registry.ModelEntry, final registry.State) error {
	c.killProcess(name, e, final)
	c.release()
	return nil
}

// killProcess stops the live process and lands the entry in final,
// without touching the admission counter. Callers that already hold
// admissionMu (eviction, see admit) call this directly and account for
// the slot themselves; everyone else goes through doStop/terminateInto,
// which call release() afterward.
func (c *Controller) killProcess(name string, e *registry.ModelEntry, final registry.State) {
	handle := e.ProcessHandle()
	cfg := c.config()
	if handle != nil {
		if err := c.supervisor.Terminate(context.Background(), handle, cfg.Lifecycle.StopTimeout); err != nil {
			c.logger.Warn("error terminating backend", "model", name, "error", err)
		}
	}
	e.SetProcessHandle(nil)
	e.SetState(final)
	c.transition(name, registry.StateStopping, final)
	c.logger.Info("model stopped", "model", name, "final_state", final)
}

// FailModel demotes a READY model directly to FAILED, terminating its
// backend process. Used by the Proxy Forwarder after the configured
// consecutive-transport-failure threshold is reached (3 by default). A
// model not currently READY is left untouched; this is a
// defensive best-effort demotion, not an admin verb.
func (c *Controller) FailModel(ctx context.Context, name string, reason error) error {
	e := c.registry.Get(name)
	if e == nil {
		return ErrModelNotFound
	}

	mc := c.modelControllerFor(name)
	mc.mu.Lock()
	if e.State() != registry.StateReady {
		mc.mu.Unlock()
		return nil
	}
	e.SetState(registry.StateStopping)
	mc.mu.Unlock()
	c.transition(name, registry.StateReady, registry.StateStopping)

	c.logger.Warn("demoting model to failed after repeated transport errors", "model", name, "reason", reason)
	return c.terminateInto(name, e, registry.StateFailed)
}

// buildSpec derives a supervisor.Spec from a model's configuration and the
// current lifecycle defaults.
func (c *Controller) buildSpec(mc config.ModelConfig, cfg *config.Config) supervisor.Spec {
	return supervisor.Spec{
		Model:               mc.Name,
		BinaryPath:          mc.EffectiveBinaryPath(cfg.Lifecycle.BinaryPath),
		ModelPath:           mc.ModelPath,
		Port:                mc.Port,
		AdditionalArgs:      mc.AdditionalArgs,
		HealthCheckPath:     cfg.Lifecycle.HealthCheckPath,
		HealthCheckInterval: cfg.Lifecycle.HealthCheckInterval,
		HealthCheckTimeout:  cfg.Lifecycle.HealthCheckTimeout,
		StartTimeout:        cfg.Lifecycle.StartTimeout,
		StopTimeout:         cfg.Lifecycle.StopTimeout,
		TailLines:           cfg.Lifecycle.StderrTailLines,
	}
}

// admit enforces the global concurrent-model cap, evicting the
// lowest-priority READY non-preloaded model (oldest activity on ties) if
// necessary; the requester's own priority is not compared against the
// victim's. It either increments the active-model
// counter and returns nil, or returns ErrAdmissionDenied.
func (c *Controller) admit(excludeName string, _ int) error {
	c.admissionMu.Lock()
	defer c.admissionMu.Unlock()

	cap := c.config().Lifecycle.MaxConcurrentModels
	if c.activeCount < cap {
		c.activeCount++
		return nil
	}

	victim := c.pickEvictionCandidate(excludeName)
	if victim == "" {
		return ErrAdmissionDenied
	}

	ve := c.registry.Get(victim)
	if ve == nil {
		return ErrAdmissionDenied
	}

	mc := c.modelControllerFor(victim)
	mc.mu.Lock()
	if ve.State() != registry.StateReady {
		mc.mu.Unlock()
		return ErrAdmissionDenied
	}
	ve.SetState(registry.StateStopping)
	mc.mu.Unlock()
	c.transition(victim, registry.StateReady, registry.StateStopping)

	c.logger.Info("evicting model for admission", "victim", victim, "for", excludeName)
	// killProcess does not touch activeCount: we already hold admissionMu
	// here, and calling release() (which locks admissionMu) would
	// deadlock. The victim's slot is reused directly for the incoming
	// model, so the net change to activeCount is zero — this keeps the
	// decrement/increment atomic under admissionMu, per the spec's
	// "eviction decisions happen atomically with the increment".
	c.killProcess(victim, ve, registry.StateStopped)
	return nil
}

func (c *Controller) release() {
	c.admissionMu.Lock()
	if c.activeCount > 0 {
		c.activeCount--
	}
	c.admissionMu.Unlock()
}

// pickEvictionCandidate returns the name of the READY, non-preloaded model
// with the lowest priority (ties broken by oldest last_activity_ts),
// excluding excludeName. It returns "" if no candidate exists.
func (c *Controller) pickEvictionCandidate(excludeName string) string {
	names := c.registry.List()

	type candidate struct {
		name     string
		priority int
		lastUsed time.Time
	}
	var candidates []candidate

	for _, name := range names {
		if name == excludeName {
			continue
		}
		e := c.registry.Get(name)
		if e == nil {
			continue
		}
		snap := e.Snapshot()
		if snap.State != registry.StateReady || snap.Config.Preload {
			continue
		}
		candidates = append(candidates, candidate{name: name, priority: snap.Config.Priority, lastUsed: snap.LastActivityTs})
	}

	if len(candidates) == 0 {
		return ""
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].lastUsed.Before(candidates[j].lastUsed)
	})

	return candidates[0].name
}
