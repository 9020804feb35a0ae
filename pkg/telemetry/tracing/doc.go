// Package tracing provides OpenTelemetry distributed tracing for the gateway.
//
// # Overview
//
// The tracing package implements W3C Trace Context propagation, span creation,
// and trace export to an OTLP collector. It provides visibility into cold
// starts, queue waits, and backend forwards with minimal overhead (<100µs per
// span).
//
// # Distributed Tracing
//
// Distributed tracing tracks requests as they flow through multiple services,
// creating a hierarchy of spans that represent operations. Each span records:
//   - Operation name and duration
//   - Attributes (key-value pairs)
//   - Events (timestamped logs within the span)
//   - Trace context (trace ID, span ID, sampling decision)
//
// # Trace Context Propagation
//
// The package implements W3C Trace Context (https://www.w3.org/TR/trace-context/)
// for propagating trace context across HTTP boundaries:
//
//	traceparent: 00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01
//	tracestate: congo=t61rcWkgMzE
//
// # Sampling Strategies
//
// Three sampling strategies are supported:
//   - always: Sample all traces (development/debugging)
//   - never: Sample no traces (tracing disabled)
//   - ratio: Sample a percentage of traces (production)
//
// # Usage
//
//	// Initialize tracer
//	cfg := &config.TracingConfig{
//	    Enabled:     true,
//	    Sampler:     "ratio",
//	    SampleRatio: 0.1,
//	    Exporter:    "otlp",
//	    Endpoint:    "localhost:4317",
//	    ServiceName: "ember",
//	}
//	tracer, err := tracing.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tracer.Shutdown(context.Background())
//
//	// Create span
//	ctx, span := tracer.Start(ctx, "ember.proxy.request")
//	defer span.End()
//
//	// Add attributes
//	tracing.SetModelAttributes(span, "llama-3-8b", 9001)
//
//	// Add event
//	span.AddEvent("backend_spawned", trace.WithAttributes(
//	    attribute.Int("pid", pid),
//	))
//
// # Span Hierarchy
//
// The gateway records these spans:
//
//	proxy.forward                one per request forwarded to a backend
//	supervisor.spawn             one per backend start
//	└── supervisor.await_ready   the readiness wait inside that start
//
// A backend start runs on a context detached from the request that
// triggered it, so supervisor.spawn is a root span rather than a child of
// proxy.forward.
//
// # HTTP Integration
//
// Extract trace context from incoming HTTP requests:
//
//	ctx := tracing.Extract(r.Context(), r.Header)
//	ctx, span := tracer.Start(ctx, "handle_request")
//	defer span.End()
//
// Inject trace context into outgoing HTTP requests:
//
//	req, _ := http.NewRequestWithContext(ctx, "POST", url, body)
//	tracing.Inject(ctx, req.Header)
//
// # Performance
//
// The tracing package is designed for minimal overhead:
//   - Span creation: <100µs per span
//   - Context propagation: <10µs
//   - Sampling decision: <1µs
//   - When disabled: <1µs (noop span)
//
// # Trace Exporter
//
// OTLP (OpenTelemetry Protocol) is the only exporter wired:
//
//	telemetry:
//	  tracing:
//	    exporter: otlp
//	    endpoint: localhost:4317
//	    otlp:
//	      insecure: true
//	      timeout: 10s
//
// # Attribute Helpers
//
// Common attributes can be set using helper functions:
//
//	// Model attributes
//	tracing.SetModelAttributes(span, "llama-3-8b", 9001)
//
//	// Request attributes
//	tracing.SetRequestAttributes(span, requestID)
//
//	// Queue attributes
//	tracing.SetQueueAttributes(span, depth, waitMs)
//
//	// Error attributes
//	tracing.SetErrorAttributes(span, err, "start_failed")
package tracing
