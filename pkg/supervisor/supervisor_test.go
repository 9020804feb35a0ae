package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestMain re-execs this test binary as a fake backend process when
// GO_WANT_HELPER_PROCESS is set, following the same trick os/exec's own
// tests use to avoid depending on an external binary.
func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") == "1" {
		runHelperBackend()
		return
	}
	os.Exit(m.Run())
}

func runHelperBackend() {
	port := os.Getenv("GO_HELPER_PORT")
	fail := os.Getenv("GO_HELPER_FAIL") == "1"
	if fail {
		os.Exit(1)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: "127.0.0.1:" + port, Handler: mux}
	_ = srv.ListenAndServe()
}

func helperSpec(t *testing.T, port int, extraArgs ...string) Spec {
	t.Helper()
	return Spec{
		Model:               "m1",
		BinaryPath:          os.Args[0],
		ModelPath:           "unused",
		Port:                port,
		AdditionalArgs:      append([]string{}, extraArgs...),
		HealthCheckPath:     "/health",
		HealthCheckInterval: 20 * time.Millisecond,
		HealthCheckTimeout:  200 * time.Millisecond,
		StartTimeout:        2 * time.Second,
		StopTimeout:         2 * time.Second,
		TailLines:           50,
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	return 19500 + (os.Getpid() % 400)
}

func TestSupervisor_SpawnAndTerminate(t *testing.T) {
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv("GO_HELPER_PORT", fmt.Sprintf("%d", freePort(t)))
	t.Setenv("GO_HELPER_FAIL", "0")

	port := freePort(t)
	os.Setenv("GO_HELPER_PORT", fmt.Sprintf("%d", port))

	s := New(nil)
	spec := helperSpec(t, port)

	h, err := s.Spawn(context.Background(), spec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if exited, _ := h.Exited(); exited {
		t.Fatal("handle reported exited immediately after successful spawn")
	}

	if err := s.Terminate(context.Background(), h, spec.StopTimeout); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if exited, _ := h.Exited(); !exited {
		t.Fatal("expected handle to report exited after Terminate")
	}
}

func TestSupervisor_SpawnFailsWhenChildExits(t *testing.T) {
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv("GO_HELPER_FAIL", "1")

	port := freePort(t)
	os.Setenv("GO_HELPER_PORT", fmt.Sprintf("%d", port))

	s := New(nil)
	spec := helperSpec(t, port)
	spec.StartTimeout = 2 * time.Second

	_, err := s.Spawn(context.Background(), spec)
	if err == nil {
		t.Fatal("expected Spawn to fail when the child exits immediately")
	}

	var sfErr *StartFailureError
	if !asStartFailure(err, &sfErr) {
		t.Fatalf("expected *StartFailureError, got %T: %v", err, err)
	}
}

func asStartFailure(err error, target **StartFailureError) bool {
	sf, ok := err.(*StartFailureError)
	if !ok {
		return false
	}
	*target = sf
	return true
}

func TestSupervisor_CheckPortFreeDetectsListener(t *testing.T) {
	port := freePort(t)
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv("GO_HELPER_FAIL", "0")
	os.Setenv("GO_HELPER_PORT", fmt.Sprintf("%d", port))

	s := New(nil)
	spec := helperSpec(t, port)
	h, err := s.Spawn(context.Background(), spec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer s.Terminate(context.Background(), h, spec.StopTimeout)

	if err := CheckPortFree(port); err == nil {
		t.Fatal("expected CheckPortFree to detect the listening backend")
	}
}
