package registry

import (
	"sync"
	"time"

	"ember-gateway/ember/pkg/config"
	"ember-gateway/ember/pkg/queue"
	"ember-gateway/ember/pkg/supervisor"
)

// State is one of the six model states a ModelEntry can be in.
type State string

const (
	StateStopped   State = "STOPPED"
	StateStarting  State = "STARTING"
	StateReady     State = "READY"
	StateStopping  State = "STOPPING"
	StateReloading State = "RELOADING"
	StateFailed    State = "FAILED"
)

// ModelEntry is the mutable runtime record for one configured model.
// All mutation goes through the methods below, which hold
// the entry's own mutex; the Lifecycle Controller serializes transitions
// on top of that with a per-model lock and a shared in-flight transition
// future (pkg/lifecycle), so the mutex here only protects the struct's memory,
// not the higher-level "exactly one in-flight transition" invariant.
type ModelEntry struct {
	mu sync.RWMutex

	config config.ModelConfig

	state             State
	processHandle     *supervisor.Handle
	readinessDeadline time.Time
	lastActivityTs    time.Time
	startTs           time.Time
	requestCount      int64
	failureStreak     int

	queue *queue.Queue
}

// NewModelEntry creates a STOPPED entry for cfg with a fresh, empty queue.
func NewModelEntry(cfg config.ModelConfig, maxQueueSize int) *ModelEntry {
	return &ModelEntry{
		config: cfg,
		state:  StateStopped,
		queue:  queue.New(maxQueueSize),
	}
}

// Config returns the entry's immutable configuration.
func (e *ModelEntry) Config() config.ModelConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// State returns the entry's current state.
func (e *ModelEntry) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Queue returns the entry's request queue handle.
func (e *ModelEntry) Queue() *queue.Queue {
	return e.queue
}

// ProcessHandle returns the entry's live process handle, or nil when
// STOPPED.
func (e *ModelEntry) ProcessHandle() *supervisor.Handle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.processHandle
}

// SetState transitions the entry to state. Callers (pkg/lifecycle) are
// responsible for only calling this for allowed transitions; ModelEntry
// itself does not validate the transition.
func (e *ModelEntry) SetState(state State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

// SetProcessHandle installs (or clears, with nil) the live process handle.
func (e *ModelEntry) SetProcessHandle(h *supervisor.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processHandle = h
}

// SetReadinessDeadline records when a STARTING/RELOADING transition must
// resolve by.
func (e *ModelEntry) SetReadinessDeadline(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.readinessDeadline = t
}

// MarkStarted records the start timestamp, used for uptime reporting, and
// seeds last-activity at the same moment. Without this, a freshly
// started model that has not yet served a request would carry a zero
// last_activity_ts and look infinitely idle to the reaper the instant it
// becomes READY.
func (e *ModelEntry) MarkStarted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	e.startTs = now
	e.lastActivityTs = now
}

// TouchActivity updates last-activity and increments the request counter.
// Called on the first byte of a forwarded response, never deferred
// until completion.
func (e *ModelEntry) TouchActivity() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastActivityTs = time.Now()
	e.requestCount++
}

// RecordTransportFailure increments the consecutive-failure streak and
// returns the new value.
func (e *ModelEntry) RecordTransportFailure() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failureStreak++
	return e.failureStreak
}

// ResetFailureStreak clears the consecutive-failure counter, called on
// any successful forward and whenever a fresh start-request resets
// FAILED.
func (e *ModelEntry) ResetFailureStreak() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failureStreak = 0
}

// UpdateConfig replaces the entry's configuration, used by Reconcile for
// in-place updates that don't require a respawn.
func (e *ModelEntry) UpdateConfig(cfg config.ModelConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = cfg
}

// Snapshot is a point-in-time, lock-free copy of an entry's fields for
// status reporting. Read-only callers must use
// Snapshot rather than holding a reference into the live entry.
type Snapshot struct {
	Config         config.ModelConfig
	State          State
	PID            int
	LastActivityTs time.Time
	StartTs        time.Time
	RequestCount   int64
	FailureStreak  int
	QueueDepth     int
}

// Snapshot takes a consistent point-in-time copy of the entry.
func (e *ModelEntry) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pid := 0
	if e.processHandle != nil {
		pid = e.processHandle.PID
	}

	return Snapshot{
		Config:         e.config,
		State:          e.state,
		PID:            pid,
		LastActivityTs: e.lastActivityTs,
		StartTs:        e.startTs,
		RequestCount:   e.requestCount,
		FailureStreak:  e.failureStreak,
		QueueDepth:     e.queue.Len(),
	}
}

// Uptime returns how long the entry's current backend process has been
// running, or 0 when no process is running.
func (s Snapshot) Uptime() time.Duration {
	if s.StartTs.IsZero() || s.PID == 0 {
		return 0
	}
	return time.Since(s.StartTs)
}
