package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ember-gateway/ember/pkg/telemetry/tracing"
)

// Spec describes the single backend process a Supervisor should manage.
// It is derived from config.ModelConfig by the caller; the supervisor
// package does not import pkg/config to keep it independently testable.
type Spec struct {
	Model               string
	BinaryPath          string
	ModelPath           string
	Port                int
	AdditionalArgs      []string
	HealthCheckPath     string
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	StartTimeout        time.Duration
	StopTimeout         time.Duration
	TailLines           int
}

// Handle represents a running backend process. It is returned by Spawn
// and must be passed to Terminate to reclaim resources. A ModelEntry
// with a READY state holds exactly one live Handle.
type Handle struct {
	Model string
	Port  int
	PID   int

	cmd  *exec.Cmd
	tail *TailBuffer
	done chan struct{}
	err  error
}

// Tail returns the last lines of captured stdout/stderr for diagnostics.
func (h *Handle) Tail() []string {
	return h.tail.Snapshot()
}

// Exited reports whether the child process has already exited, and the
// wait error if any (nil on a clean exit).
func (h *Handle) Exited() (bool, error) {
	select {
	case <-h.done:
		return true, h.err
	default:
		return false, nil
	}
}

// Supervisor spawns, health-checks, and terminates backend processes. It
// holds no per-model scheduling state; one Supervisor instance is reused
// across the lifetime of the gateway and can manage many sequential spawns
// for the same model.
type Supervisor struct {
	logger *slog.Logger
	probe  func(ctx context.Context, url string, timeout time.Duration) bool
	tracer *tracing.Tracer
}

// New creates a Supervisor. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{logger: logger}
	s.probe = s.httpProbe
	return s
}

// WithTracer attaches a Tracer used to wrap Spawn/awaitReady in spans. A
// nil tracer (the zero value if this is never called) leaves Spawn
// untraced, which is what every existing caller that builds a Supervisor
// without tracing gets.
func (s *Supervisor) WithTracer(tr *tracing.Tracer) *Supervisor {
	s.tracer = tr
	return s
}

// startSpan starts a span on s.tracer if one is attached, otherwise
// returns ctx unchanged with a noop span.
func (s *Supervisor) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := s.tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// CheckPortFree reports an error if something is already listening on
// port, implementing inherited-listener detection on boot.
func CheckPortFree(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("%w: 127.0.0.1:%d", ErrPortInUse, port)
	}
	return ln.Close()
}

// Spawn launches the backend process described by spec and blocks until it
// reports readiness, the start timeout elapses, or the child exits early.
// On success it returns a live Handle; on failure it returns a
// *StartFailureError with the captured tail buffer and guarantees the
// child has been reaped.
func (s *Supervisor) Spawn(ctx context.Context, spec Spec) (*Handle, error) {
	ctx, span := s.startSpan(ctx, "supervisor.spawn",
		attribute.String("model.name", spec.Model),
		attribute.Int("model.port", spec.Port),
	)
	defer span.End()

	handle, err := s.spawn(ctx, spec)
	tracing.SetStatus(span, err)
	if err != nil {
		tracing.SetError(span, err)
	}
	return handle, err
}

// spawn is Spawn's untraced body, split out so the outer span covers the
// whole attempt (including the readiness wait) with a single defer.
func (s *Supervisor) spawn(ctx context.Context, spec Spec) (*Handle, error) {
	// Crash-recovery / inherited-listener detection: refuse to spawn onto
	// a port something else already holds, rather than racing the child
	// against whatever inherited it.
	if err := CheckPortFree(spec.Port); err != nil {
		return nil, &StartFailureError{Model: spec.Model, Reason: err.Error()}
	}

	args := append([]string{
		"--model", spec.ModelPath,
		"--port", fmt.Sprintf("%d", spec.Port),
		"--host", "127.0.0.1",
	}, spec.AdditionalArgs...)

	cmd := exec.CommandContext(context.Background(), spec.BinaryPath, args...)

	tail := NewTailBuffer(spec.TailLines)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &StartFailureError{Model: spec.Model, Reason: fmt.Sprintf("stdout pipe: %v", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &StartFailureError{Model: spec.Model, Reason: fmt.Sprintf("stderr pipe: %v", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &StartFailureError{Model: spec.Model, Reason: fmt.Sprintf("exec: %v", err)}
	}

	h := &Handle{Model: spec.Model, Port: spec.Port, PID: cmd.Process.Pid, cmd: cmd, tail: tail, done: make(chan struct{})}

	go drainLines(stdout, tail)
	go drainLines(stderr, tail)
	go func() {
		h.err = cmd.Wait()
		close(h.done)
	}()

	s.logger.Info("backend spawned", "model", spec.Model, "pid", h.PID, "port", spec.Port)

	if err := s.awaitReady(ctx, spec, h); err != nil {
		s.terminateUnready(spec, h)
		return nil, err
	}

	return h, nil
}

// drainLines copies r into the tail buffer line by line until EOF or error.
// It never blocks on a full buffer (TailBuffer.Append is O(1) and
// non-blocking), so a stuck reader cannot backpressure the child.
func drainLines(r io.Reader, tail *TailBuffer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		tail.Append(scanner.Text())
	}
}

// awaitReady polls the readiness endpoint until it answers 2xx, the start
// timeout elapses, or the child exits first.
func (s *Supervisor) awaitReady(ctx context.Context, spec Spec, h *Handle) error {
	ctx, span := s.startSpan(ctx, "supervisor.await_ready", attribute.String("model.name", spec.Model))
	defer span.End()

	err := s.doAwaitReady(ctx, spec, h)
	tracing.SetStatus(span, err)
	if err != nil {
		tracing.SetError(span, err)
	}
	return err
}

// doAwaitReady is awaitReady's untraced body.
func (s *Supervisor) doAwaitReady(ctx context.Context, spec Spec, h *Handle) error {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", spec.Port, spec.HealthCheckPath)

	deadline := time.Now().Add(spec.StartTimeout)
	ticker := time.NewTicker(spec.HealthCheckInterval)
	defer ticker.Stop()

	for {
		if s.probe(ctx, url, spec.HealthCheckTimeout) {
			return nil
		}

		if exited, werr := h.Exited(); exited {
			return &StartFailureError{
				Model:  spec.Model,
				Reason: fmt.Sprintf("backend exited before becoming ready: %v", werr),
				Tail:   h.Tail(),
			}
		}

		if time.Now().After(deadline) {
			return &StartFailureError{
				Model:  spec.Model,
				Reason: fmt.Sprintf("readiness not achieved within %s", spec.StartTimeout),
				Tail:   h.Tail(),
			}
		}

		select {
		case <-ctx.Done():
			return &StartFailureError{Model: spec.Model, Reason: ctx.Err().Error(), Tail: h.Tail()}
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) httpProbe(ctx context.Context, url string, timeout time.Duration) bool {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// terminateUnready is used when Spawn itself fails; it makes a best-effort
// attempt to reap a child that started but never became ready.
func (s *Supervisor) terminateUnready(spec Spec, h *Handle) {
	if exited, _ := h.Exited(); exited {
		return
	}
	_ = s.Terminate(context.Background(), h, spec.StopTimeout)
}

// Terminate gracefully stops the process behind h: SIGTERM, wait up to
// timeout, escalate to SIGKILL. It blocks until the process has been
// reaped, guaranteeing no zombies survive the call.
func (s *Supervisor) Terminate(ctx context.Context, h *Handle, timeout time.Duration) error {
	if exited, _ := h.Exited(); exited {
		return nil
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Warn("SIGTERM failed, escalating to SIGKILL", "model", h.Model, "pid", h.PID, "error", err)
		_ = h.cmd.Process.Kill()
		<-h.done
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		s.logger.Info("backend stopped gracefully", "model", h.Model, "pid", h.PID)
		return nil
	case <-timer.C:
		s.logger.Warn("graceful stop timed out, sending SIGKILL", "model", h.Model, "pid", h.PID)
		_ = h.cmd.Process.Kill()
		<-h.done
		return nil
	case <-ctx.Done():
		_ = h.cmd.Process.Kill()
		<-h.done
		return ctx.Err()
	}
}
