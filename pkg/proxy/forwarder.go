package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ember-gateway/ember/pkg/admission"
	"ember-gateway/ember/pkg/lifecycle"
	"ember-gateway/ember/pkg/proxy/apierror"
	"ember-gateway/ember/pkg/queue"
	"ember-gateway/ember/pkg/registry"
	"ember-gateway/ember/pkg/telemetry/tracing"
)

// hopByHopHeaders are stripped before forwarding, per RFC 7230 §6.1.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// defaultTransportFailureThreshold is the consecutive-failure count that
// demotes a READY model to FAILED when no override is configured. Fixed
// at 3 per the spec's resolution of the "how many consecutive transport
// failures" open question; config.LifecycleConfig.TransportFailureThreshold
// lets an operator override it without a code change.
const defaultTransportFailureThreshold = 3

// RequestMetrics is the narrow metrics-recording surface the Forwarder
// uses, implemented by pkg/telemetry/metrics.RequestMetrics. Kept as an
// interface so this package doesn't depend on Prometheus directly. A nil
// RequestMetrics disables recording.
type RequestMetrics interface {
	ObserveRequest(model string, status int, durationSeconds float64)
	ObserveAdmissionDenied()
}

// Forwarder is the Proxy Forwarder. It couples every
// client-facing request to the Lifecycle Controller's admission decision
// and reverse-proxies to the owning backend once admitted.
type Forwarder struct {
	logger            *slog.Logger
	registry          *registry.Registry
	controller        *lifecycle.Controller
	maxBodyBytes      int64
	client            *http.Client
	admit             admission.Hook
	metrics           RequestMetrics
	defaultReqTimeout time.Duration
	failureThreshold  int
	tracer            *tracing.Tracer
}

// New creates a Forwarder. A nil logger falls back to slog.Default(); a
// nil hook falls back to admission.Allow; a nil metrics disables metrics
// recording. defaultReqTimeout is the fallback (config.QueueConfig.RequestTimeout)
// used to compute Retry-After when a model has no per-model override.
// failureThreshold is config.LifecycleConfig.TransportFailureThreshold; a
// value <= 0 falls back to defaultTransportFailureThreshold.
func New(logger *slog.Logger, reg *registry.Registry, ctrl *lifecycle.Controller, maxBodyBytes int64, hook admission.Hook, metrics RequestMetrics, defaultReqTimeout time.Duration, failureThreshold int) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	if hook == nil {
		hook = admission.Allow
	}
	if failureThreshold <= 0 {
		failureThreshold = defaultTransportFailureThreshold
	}
	return &Forwarder{
		logger:            logger,
		registry:          reg,
		controller:        ctrl,
		maxBodyBytes:      maxBodyBytes,
		admit:             hook,
		metrics:           metrics,
		defaultReqTimeout: defaultReqTimeout,
		failureThreshold:  failureThreshold,
		client: &http.Client{
			// No client-side timeout: a streaming response may legitimately
			// run far longer than any fixed bound. The queue's own request
			// timeout governs how long a caller waits to be admitted.
			Transport: &http.Transport{DisableCompression: true},
		},
	}
}

// WithTracer attaches a Tracer used to wrap forward in a span. A nil
// tracer (the default) leaves forwarding untraced.
func (f *Forwarder) WithTracer(tr *tracing.Tracer) *Forwarder {
	f.tracer = tr
	return f
}

// startSpan starts a span on f.tracer if one is attached, otherwise
// returns ctx unchanged with a noop span.
func (f *Forwarder) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if f.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := f.tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// statusRecorder wraps an http.ResponseWriter to capture the status code
// written, for request-duration metrics recorded after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// ServeHTTP implements the client-facing OpenAI-compatible surface.
// POST /v1/chat/completions and POST /v1/completions both resolve to
// this handler.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	model := "unknown"
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		if f.metrics != nil {
			f.metrics.ObserveRequest(model, rec.status, time.Since(start).Seconds())
		}
	}()
	w = rec

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed,
			apierror.New("method_not_allowed", fmt.Sprintf("method %s not allowed", r.Method), "invalid_request"))
		return
	}

	if err := f.admit(r); err != nil {
		if f.metrics != nil {
			f.metrics.ObserveAdmissionDenied()
		}
		writeError(w, http.StatusUnauthorized, apierror.New("admission_denied", err.Error(), "invalid_request"))
		return
	}

	var body []byte
	var err error
	model, body, err = ExtractModel(r, f.maxBodyBytes)
	if err != nil {
		if IsRequestTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, apierror.RequestTooLarge(err.Error()))
			return
		}
		writeError(w, http.StatusBadRequest, apierror.BadRequest(err.Error()))
		return
	}
	ReplaceBody(r, body)

	entry, err := f.controller.AdmitRequest(ctx, model)
	if err != nil {
		if f.metrics != nil {
			f.metrics.ObserveAdmissionDenied()
		}
		f.writeAdmissionError(w, model, err)
		return
	}

	if entry != nil {
		if err := f.awaitEntry(ctx, model, entry); err != nil {
			f.writeQueueError(w, err)
			return
		}
	}

	me := f.registry.Get(model)
	if me == nil {
		writeError(w, http.StatusNotFound,
			apierror.UnknownModel(fmt.Sprintf("model %q is not configured", model), f.registry.List()))
		return
	}

	f.forward(w, r, me)
}

// awaitEntry waits for a queued entry to resolve, removing it from the
// queue if the client disconnects first so the queue doesn't carry a
// dead waiter.
func (f *Forwarder) awaitEntry(ctx context.Context, model string, entry *queue.Entry) error {
	err := entry.Wait(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if me := f.registry.Get(model); me != nil {
			me.Queue().RemoveIfPresent(entry)
		}
	}
	return err
}

// forward reverse-proxies the request to the backend owning me, streaming
// the response through without buffering.
func (f *Forwarder) forward(w http.ResponseWriter, r *http.Request, me *registry.ModelEntry) {
	cfg := me.Config()
	ctx, span := f.startSpan(r.Context(), "proxy.forward",
		attribute.String("model.name", cfg.Name),
		attribute.Int("model.port", cfg.Port),
	)
	defer span.End()
	r = r.WithContext(ctx)

	target := fmt.Sprintf("http://127.0.0.1:%d%s", cfg.Port, r.URL.Path)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		tracing.SetError(span, err)
		writeError(w, http.StatusInternalServerError, apierror.Internal("failed to build backend request"))
		return
	}
	copyHeaders(outReq.Header, r.Header)
	stripHopByHop(outReq.Header)
	outReq.ContentLength = r.ContentLength

	resp, err := f.client.Do(outReq)
	if err != nil {
		tracing.SetError(span, err)
		f.handleTransportFailure(w, me, err)
		return
	}
	defer resp.Body.Close()

	me.TouchActivity()
	me.ResetFailureStreak()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	tracing.SetStatus(span, nil)

	copyHeaders(w.Header(), resp.Header)
	stripHopByHop(w.Header())
	w.WriteHeader(resp.StatusCode)

	f.stream(w, resp.Body)
}

// handleTransportFailure counts a backend transport error toward the
// FAILED demotion at f.failureThreshold consecutive failures (3 by
// default) and reports a 502 to the client.
func (f *Forwarder) handleTransportFailure(w http.ResponseWriter, me *registry.ModelEntry, err error) {
	cfg := me.Config()
	streak := me.RecordTransportFailure()
	f.logger.Warn("backend transport error", "model", cfg.Name, "error", err, "failure_streak", streak)

	if streak >= f.failureThreshold {
		go func() {
			if ferr := f.controller.FailModel(context.Background(), cfg.Name, err); ferr != nil {
				f.logger.Warn("failed to demote model after repeated transport failures",
					"model", cfg.Name, "error", ferr)
			}
		}()
	}

	writeError(w, http.StatusBadGateway, apierror.BackendTransportError(err.Error()))
}

// stream copies src to w, flushing after every read so SSE and chunked
// responses reach the client without buffering delay.
func (f *Forwarder) stream(w http.ResponseWriter, src io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	reader := bufio.NewReaderSize(src, 32*1024)

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func stripHopByHop(h http.Header) {
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
}

// writeAdmissionError maps a Controller.AdmitRequest failure to the
// standard error taxonomy.
func (f *Forwarder) writeAdmissionError(w http.ResponseWriter, model string, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrModelNotFound):
		writeError(w, http.StatusNotFound,
			apierror.UnknownModel(fmt.Sprintf("model %q is not configured", model), f.registry.List()))
	case errors.Is(err, lifecycle.ErrAdmissionDenied):
		writeError(w, http.StatusServiceUnavailable, apierror.AdmissionDenied(err.Error()))
	case errors.Is(err, queue.ErrQueueFull):
		RetryAfterHeader(w, f.effectiveRequestTimeout(model))
		writeError(w, http.StatusServiceUnavailable, apierror.QueueFull(fmt.Sprintf("model %q request queue is full", model)))
	default:
		writeError(w, http.StatusServiceUnavailable, apierror.New("stopping", err.Error(), "unavailable"))
	}
}

// writeQueueError maps a resolved (or abandoned) queue entry's error to
// the standard error taxonomy.
func (f *Forwarder) writeQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrQueueTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, apierror.QueueTimeout(err.Error()))
	case errors.Is(err, queue.ErrQueueCleared):
		writeError(w, http.StatusServiceUnavailable, apierror.New("queue_cleared", err.Error(), "unavailable"))
	case errors.Is(err, context.Canceled):
		// Client disconnected before resolution; nothing left to write.
	case errors.Is(err, lifecycle.ErrAdmissionDenied):
		writeError(w, http.StatusServiceUnavailable, apierror.AdmissionDenied(err.Error()))
	default:
		writeError(w, http.StatusServiceUnavailable, apierror.StartFailed(err.Error()))
	}
}

// writeError writes body as the standard error envelope.
func writeError(w http.ResponseWriter, status int, body apierror.Body) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// effectiveRequestTimeout returns model's per-model queue timeout override,
// falling back to the Forwarder's configured default.
func (f *Forwarder) effectiveRequestTimeout(model string) time.Duration {
	if me := f.registry.Get(model); me != nil {
		return me.Config().EffectiveRequestTimeout(f.defaultReqTimeout)
	}
	return f.defaultReqTimeout
}

// RetryAfterHeader sets a best-effort Retry-After header for 503s, using
// the model's effective request timeout as a proxy for queue drain time.
func RetryAfterHeader(w http.ResponseWriter, requestTimeout time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(queue.RetryAfterSeconds(requestTimeout)))
}
