package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"ember-gateway/ember/pkg/config"
	"ember-gateway/ember/pkg/lifecycle"
	"ember-gateway/ember/pkg/proxy/apierror"
	"ember-gateway/ember/pkg/registry"
	"ember-gateway/ember/pkg/supervisor"
)

// TestMain re-execs this test binary as a fake llama-server-style backend
// when GO_WANT_HELPER_PROCESS is set, mirroring pkg/lifecycle's own tests.
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
	readyAt := time.Time{}
	if ms, err := strconv.Atoi(os.Getenv("GO_HELPER_READY_DELAY_MS")); err == nil && ms > 0 {
		readyAt = time.Now().Add(time.Duration(ms) * time.Millisecond)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !readyAt.IsZero() && time.Now().Before(readyAt) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if os.Getenv("GO_HELPER_STREAM") == "1" {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			flusher := w.(http.Flusher)
			fmt.Fprint(w, "data: hello\n\n")
			flusher.Flush()
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"resp1","object":"chat.completion"}`))
	})
	srv := &http.Server{Addr: "127.0.0.1:" + port, Handler: mux}
	_ = srv.ListenAndServe()
}

func freePort(offset int) int {
	return 19800 + (os.Getpid()+offset)%500
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
			MaxConcurrentModels: 4,
		},
		Queue:  config.QueueConfig{MaxSize: 2, RequestTimeout: time.Second},
		Proxy:  config.ProxyConfig{MaxRequestBodyBytes: 1 << 20},
		Models: map[string]config.ModelConfig{},
	}
	for _, m := range models {
		cfg.Models[m.Name] = m
	}
	return cfg
}

func newTestForwarder(t *testing.T, cfg *config.Config) *Forwarder {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv("GO_HELPER_FAIL", "0")
	t.Setenv("GO_HELPER_STREAM", "0")
	reg := registry.New(cfg)
	sup := supervisor.New(nil)
	ctrl := lifecycle.New(nil, reg, sup, cfg, nil)
	return New(nil, reg, ctrl, cfg.Proxy.MaxRequestBodyBytes, nil, nil, cfg.Queue.RequestTimeout, cfg.Lifecycle.TransportFailureThreshold)
}

func chatBody(model string) []byte {
	b, _ := json.Marshal(map[string]any{
		"model":    model,
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	return b
}

func TestForwarder_ColdStartQueueing(t *testing.T) {
	port := freePort(0)
	os.Setenv("GO_HELPER_PORT", fmt.Sprintf("%d", port))

	m := config.ModelConfig{Name: "m1", Port: port, ModelPath: "unused", Priority: 5}
	cfg := testConfig(m)
	fwd := newTestForwarder(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatBody("m1")))
	req = req.WithContext(context.Background())
	rec := httptest.NewRecorder()

	fwd.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "resp1") {
		t.Fatalf("body = %s, want backend JSON passthrough", rec.Body.String())
	}
}

func TestForwarder_UnknownModel(t *testing.T) {
	cfg := testConfig(config.ModelConfig{Name: "m1", Port: freePort(0), ModelPath: "unused", Priority: 5})
	fwd := newTestForwarder(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatBody("ghost")))
	rec := httptest.NewRecorder()

	fwd.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body=%s", rec.Code, rec.Body.String())
	}

	var body apierror.Body
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v; body=%s", err, rec.Body.String())
	}
	if len(body.Error.Models) != 1 || body.Error.Models[0] != "m1" {
		t.Fatalf("error.models = %v, want [m1] (spec.md §4.5 point 2: unknown model lists known models)", body.Error.Models)
	}
}

func TestForwarder_QueueFullReturns503WithRetryAfter(t *testing.T) {
	port := freePort(1)
	os.Setenv("GO_HELPER_PORT", fmt.Sprintf("%d", port))
	t.Setenv("GO_HELPER_READY_DELAY_MS", "400")

	m := config.ModelConfig{Name: "m1", Port: port, ModelPath: "unused", Priority: 5}
	cfg := testConfig(m)
	cfg.Queue.MaxSize = 1 // only one slot stays free once the first request claims it
	fwd := newTestForwarder(t, cfg)

	// First request starts the model (STOPPED->STARTING) and claims the
	// only queue slot; it stays STARTING for ~400ms before the backend
	// reports ready.
	req1 := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatBody("m1")))
	rec1 := httptest.NewRecorder()
	done1 := make(chan struct{})
	go func() {
		fwd.ServeHTTP(rec1, req1)
		close(done1)
	}()

	time.Sleep(100 * time.Millisecond)

	// Second request finds the model still STARTING with a full queue.
	req2 := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatBody("m1")))
	rec2 := httptest.NewRecorder()
	fwd.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503; body=%s", rec2.Code, rec2.Body.String())
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on queue_full response")
	}
	var body map[string]map[string]string
	if err := json.Unmarshal(rec2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"]["code"] != "queue_full" {
		t.Fatalf("code = %s, want queue_full", body["error"]["code"])
	}

	<-done1
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200 once the model becomes ready", rec1.Code)
	}
}

func TestForwarder_StartFailureReturns503(t *testing.T) {
	port := freePort(2)
	os.Setenv("GO_HELPER_PORT", fmt.Sprintf("%d", port))
	t.Setenv("GO_HELPER_FAIL", "1")

	m := config.ModelConfig{Name: "bad", Port: port, ModelPath: "unused", Priority: 5}
	cfg := testConfig(m)
	cfg.Lifecycle.StartTimeout = 2 * time.Second
	fwd := newTestForwarder(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatBody("bad")))
	rec := httptest.NewRecorder()

	fwd.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503; body=%s", rec.Code, rec.Body.String())
	}
	var body map[string]map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"]["code"] != "start_failed" {
		t.Fatalf("code = %s, want start_failed", body["error"]["code"])
	}
}

func TestForwarder_StreamingResponsePassesThrough(t *testing.T) {
	port := freePort(3)
	os.Setenv("GO_HELPER_PORT", fmt.Sprintf("%d", port))
	t.Setenv("GO_HELPER_STREAM", "1")

	m := config.ModelConfig{Name: "m1", Port: port, ModelPath: "unused", Priority: 5}
	cfg := testConfig(m)
	fwd := newTestForwarder(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatBody("m1")))
	rec := httptest.NewRecorder()

	fwd.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("content-type = %s, want text/event-stream", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "data: [DONE]") {
		t.Fatalf("body = %s, want SSE terminated by [DONE]", rec.Body.String())
	}
}

func TestForwarder_RejectsNonPostMethod(t *testing.T) {
	cfg := testConfig()
	fwd := newTestForwarder(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()

	fwd.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestForwarder_MissingModelFieldIsBadRequest(t *testing.T) {
	cfg := testConfig()
	fwd := newTestForwarder(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte(`{"messages":[]}`)))
	rec := httptest.NewRecorder()

	fwd.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body=%s", rec.Code, rec.Body.String())
	}
}
