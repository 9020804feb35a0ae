package reaper

import (
	"context"
	"sync"
	"testing"
	"time"

	"ember-gateway/ember/pkg/config"
	"ember-gateway/ember/pkg/registry"
)

type fakeController struct {
	mu      sync.Mutex
	stopped []string
}

func (f *fakeController) StopModel(ctx context.Context, name string, reason error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, name)
	return nil
}

func (f *fakeController) didStop(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.stopped {
		if s == name {
			return true
		}
	}
	return false
}

func testCfg() *config.Config {
	return &config.Config{
		Lifecycle: config.LifecycleConfig{
			InactivityTimeout: 50 * time.Millisecond,
			CleanupInterval:   10 * time.Millisecond,
		},
		Queue: config.QueueConfig{
			RequestTimeout: 50 * time.Millisecond,
			SweepInterval:  10 * time.Millisecond,
			MaxSize:        10,
		},
		Models: map[string]config.ModelConfig{
			"idle":    {Name: "idle", Port: 1, Priority: 5},
			"preload": {Name: "preload", Port: 2, Priority: 5, Preload: true},
		},
	}
}

func TestReaper_SweepIdleStopsInactiveNonPreloadModel(t *testing.T) {
	cfg := testCfg()
	reg := registry.New(cfg)
	reg.Get("idle").SetState(registry.StateReady)
	reg.Get("preload").SetState(registry.StateReady)

	fc := &fakeController{}
	r := New(nil, reg, fc, func() *config.Config { return cfg })

	time.Sleep(60 * time.Millisecond)
	r.sweepIdle()

	if !fc.didStop("idle") {
		t.Fatal("expected idle model to be stopped")
	}
	if fc.didStop("preload") {
		t.Fatal("preload model must never be reaped")
	}
}

func TestReaper_SweepQueuesExpiresStaleEntries(t *testing.T) {
	cfg := testCfg()
	reg := registry.New(cfg)
	e := reg.Get("idle")

	entry, err := e.Queue().Enqueue(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	entry.EnqueuedAt = time.Now().Add(-time.Hour)

	fc := &fakeController{}
	r := New(nil, reg, fc, func() *config.Config { return cfg })
	r.sweepQueues()

	if e.Queue().Len() != 0 {
		t.Fatalf("queue len = %d, want 0 after sweep", e.Queue().Len())
	}
}
