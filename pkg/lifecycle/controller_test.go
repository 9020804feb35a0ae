package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"ember-gateway/ember/pkg/config"
	"ember-gateway/ember/pkg/registry"
	"ember-gateway/ember/pkg/supervisor"
)

// TestMain re-execs this test binary as a fake llama-server-style backend
// when GO_WANT_HELPER_PROCESS is set, the same trick used by
// pkg/supervisor's own tests.
func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") == "1" {
		runHelperBackend()
		return
	}
	os.Exit(m.Run())
}

func runHelperBackend() {
	port := os.Getenv("GO_HELPER_PORT")
	if os.Getenv("GO_HELPER_FAIL") == "1" {
		os.Exit(1)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: "127.0.0.1:" + port, Handler: mux}
	_ = srv.ListenAndServe()
}

func freePort(offset int) int {
	return 19700 + (os.Getpid()+offset)%500
}

func testConfig(models ...config.ModelConfig) *config.Config {
	cfg := &config.Config{
		Lifecycle: config.LifecycleConfig{
			BinaryPath:          os.Args[0],
			HealthCheckPath:     "/health",
			HealthCheckInterval: 20 * time.Millisecond,
			HealthCheckTimeout:  200 * time.Millisecond,
			StartTimeout:        2 * time.Second,
			StopTimeout:         2 * time.Second,
			StderrTailLines:     50,
			MaxConcurrentModels: 2,
		},
		Queue: config.QueueConfig{MaxSize: 10, RequestTimeout: time.Second},
		Models: map[string]config.ModelConfig{},
	}
	for _, m := range models {
		cfg.Models[m.Name] = m
	}
	return cfg
}

func newTestController(t *testing.T, cfg *config.Config) *Controller {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv("GO_HELPER_FAIL", "0")
	reg := registry.New(cfg)
	sup := supervisor.New(nil)
	return New(nil, reg, sup, cfg, nil)
}

func TestController_AdmitRequestStartsStoppedModel(t *testing.T) {
	port := freePort(0)
	os.Setenv("GO_HELPER_PORT", fmt.Sprintf("%d", port))

	m := config.ModelConfig{Name: "m1", Port: port, ModelPath: "unused", Priority: 5}
	cfg := testConfig(m)
	c := newTestController(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	entry, err := c.AdmitRequest(ctx, "m1")
	if err != nil {
		t.Fatalf("AdmitRequest: %v", err)
	}
	if entry == nil {
		t.Fatal("expected a queued entry for a STOPPED model")
	}
	if err := entry.Wait(ctx); err != nil {
		t.Fatalf("entry.Wait: %v", err)
	}

	e := c.registry.Get("m1")
	if e.State() != registry.StateReady {
		t.Fatalf("state = %s, want READY", e.State())
	}
}

func TestController_AdmitRequestReadyModelForwardsImmediately(t *testing.T) {
	port := freePort(1)
	os.Setenv("GO_HELPER_PORT", fmt.Sprintf("%d", port))

	m := config.ModelConfig{Name: "m1", Port: port, ModelPath: "unused", Priority: 5}
	cfg := testConfig(m)
	c := newTestController(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.StartModel(ctx, "m1"); err != nil {
		t.Fatalf("StartModel: %v", err)
	}

	entry, err := c.AdmitRequest(ctx, "m1")
	if err != nil {
		t.Fatalf("AdmitRequest: %v", err)
	}
	if entry != nil {
		t.Fatal("expected nil entry for an already-READY model (forward immediately)")
	}
}

func TestController_AdmitRequestUnknownModel(t *testing.T) {
	cfg := testConfig()
	c := newTestController(t, cfg)

	_, err := c.AdmitRequest(context.Background(), "ghost")
	if err != ErrModelNotFound {
		t.Fatalf("err = %v, want ErrModelNotFound", err)
	}
}

func TestController_StartFailureDemotesToFailed(t *testing.T) {
	port := freePort(2)
	os.Setenv("GO_HELPER_PORT", fmt.Sprintf("%d", port))

	m := config.ModelConfig{Name: "bad", Port: port, ModelPath: "unused", Priority: 5}
	cfg := testConfig(m)
	cfg.Lifecycle.StartTimeout = 2 * time.Second
	c := newTestController(t, cfg)
	t.Setenv("GO_HELPER_FAIL", "1")

	err := c.StartModel(context.Background(), "bad")
	if err == nil {
		t.Fatal("expected start to fail")
	}

	e := c.registry.Get("bad")
	if e.State() != registry.StateFailed {
		t.Fatalf("state = %s, want FAILED", e.State())
	}
}

func TestController_EvictsLowerPriorityModelWhenAtCapacity(t *testing.T) {
	portLow := freePort(3)
	portHigh := freePort(4)
	os.Setenv("GO_HELPER_PORT", fmt.Sprintf("%d", portLow))

	low := config.ModelConfig{Name: "low", Port: portLow, ModelPath: "unused", Priority: 3}
	high := config.ModelConfig{Name: "high", Port: portHigh, ModelPath: "unused", Priority: 7}
	cfg := testConfig(low, high)
	cfg.Lifecycle.MaxConcurrentModels = 1
	c := newTestController(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.StartModel(ctx, "low"); err != nil {
		t.Fatalf("start low: %v", err)
	}

	os.Setenv("GO_HELPER_PORT", fmt.Sprintf("%d", portHigh))
	if err := c.StartModel(ctx, "high"); err != nil {
		t.Fatalf("start high: %v", err)
	}

	if got := c.registry.Get("low").State(); got != registry.StateStopped {
		t.Fatalf("low state = %s, want STOPPED (evicted)", got)
	}
	if got := c.registry.Get("high").State(); got != registry.StateReady {
		t.Fatalf("high state = %s, want READY", got)
	}
}

func TestController_PreloadedModelNeverEvicted(t *testing.T) {
	portPreload := freePort(5)
	portOther := freePort(6)
	os.Setenv("GO_HELPER_PORT", fmt.Sprintf("%d", portPreload))

	preload := config.ModelConfig{Name: "preload", Port: portPreload, ModelPath: "unused", Priority: 1, Preload: true}
	other := config.ModelConfig{Name: "other", Port: portOther, ModelPath: "unused", Priority: 9}
	cfg := testConfig(preload, other)
	cfg.Lifecycle.MaxConcurrentModels = 1
	c := newTestController(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.StartModel(ctx, "preload"); err != nil {
		t.Fatalf("start preload: %v", err)
	}

	os.Setenv("GO_HELPER_PORT", fmt.Sprintf("%d", portOther))
	err := c.StartModel(ctx, "other")
	if err != ErrAdmissionDenied {
		t.Fatalf("err = %v, want ErrAdmissionDenied", err)
	}
	if got := c.registry.Get("preload").State(); got != registry.StateReady {
		t.Fatalf("preload state = %s, want READY (must never be evicted)", got)
	}
}

func TestController_StopModelIsIdempotent(t *testing.T) {
	cfg := testConfig(config.ModelConfig{Name: "m1", Port: freePort(7), ModelPath: "unused"})
	c := newTestController(t, cfg)

	err := c.StopModel(context.Background(), "m1", nil)
	if err != ErrAlreadyStopped {
		t.Fatalf("err = %v, want ErrAlreadyStopped", err)
	}
}
