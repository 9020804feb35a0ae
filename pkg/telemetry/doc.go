// Package telemetry provides comprehensive observability for the ember gateway.
//
// # Overview
//
// The telemetry package implements structured logging, Prometheus metrics,
// OpenTelemetry distributed tracing, and health check endpoints. It provides
// visibility into runtime behavior while maintaining low overhead (<50µs per
// request).
//
// # Components
//
//   - logging: Structured logging with PII redaction
//   - metrics: Prometheus metrics collection
//   - tracing: OpenTelemetry distributed tracing
//   - health: Health check endpoints
//
// # Usage
//
// This package holds no code of its own; each subpackage is constructed
// directly:
//
//	// Logger
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json", RedactPII: true})
//	logger.Info("Request processed", "duration_ms", 123)
//
//	// Prometheus metrics bound to the model registry
//	m := metrics.New(reg)
//	m.Request.ObserveRequest("llama-3-8b", 200, 1.5)
//
//	// Tracer and span
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
//	ctx, span := tracer.Start(ctx, "operation")
//	defer span.End()
//
// # Performance
//
// The telemetry package is designed for minimal overhead:
//
//   - Logging: <10µs when enabled, <1µs when disabled
//   - Metrics: <50µs per metric update
//   - Tracing: <100µs per span
//   - Total overhead: <0.5% of request time
//
// # PII Protection
//
// By default, all PII is automatically redacted from logs:
//
//   - API keys: sk-abc123 → sk-***
//   - Emails: user@example.com → u***@example.com
//   - SSN: 123-45-6789 → ***-**-****
//   - IP addresses: 192.168.1.1 → 192.*.*.*
//
// Custom redaction patterns can be configured.
package telemetry
