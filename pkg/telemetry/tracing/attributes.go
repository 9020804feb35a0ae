package tracing

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span Attribute Helpers
//
// These functions provide a convenient way to set common attributes on spans.
// They use semantic conventions where applicable and ensure consistent attribute
// naming across the codebase.
//
// # Attribute Keys
//
// Standard attribute keys follow OpenTelemetry semantic conventions:
//   - http.*: HTTP-related attributes
//   - rpc.*: RPC-related attributes
//
// Custom attribute keys use the "ember.*" namespace:
//   - ember.model: Model name
//   - ember.state: Lifecycle state
//   - ember.queue.*: Request queue attributes

// Common attribute keys used throughout the system.
const (
	// Model attributes
	AttrModel    = "ember.model"
	AttrPort     = "ember.port"
	AttrPriority = "ember.priority"

	// Request attributes
	AttrRequestID = "ember.request_id"

	// Lifecycle attributes
	AttrState          = "ember.state"
	AttrPreviousState  = "ember.previous_state"
	AttrFailureStreak  = "ember.failure_streak"
	AttrEvictionVictim = "ember.eviction.victim"

	// Queue attributes
	AttrQueueDepth   = "ember.queue.depth"
	AttrQueueWaitMs  = "ember.queue.wait_ms"
	AttrQueueOutcome = "ember.queue.outcome"

	// Error attributes
	AttrErrorType    = "ember.error.type"
	AttrErrorMessage = "error.message"

	// Performance attributes
	AttrDuration   = "ember.duration_ms"
	AttrRetryCount = "ember.retry_count"
)

// SetModelAttributes sets model-identity attributes on a span.
//
// Example:
//
//	SetModelAttributes(span, "llama-3-8b", 9001)
func SetModelAttributes(span trace.Span, model string, port int) {
	span.SetAttributes(
		attribute.String(AttrModel, model),
		attribute.Int(AttrPort, port),
	)
}

// SetRequestAttributes sets request-related attributes on a span.
//
// Example:
//
//	SetRequestAttributes(span, "req-123")
func SetRequestAttributes(span trace.Span, requestID string) {
	if requestID != "" {
		span.SetAttributes(attribute.String(AttrRequestID, requestID))
	}
}

// SetTransitionAttributes records a lifecycle state transition on a span.
//
// Example:
//
//	SetTransitionAttributes(span, "STARTING", "READY")
func SetTransitionAttributes(span trace.Span, from, to string) {
	span.SetAttributes(
		attribute.String(AttrPreviousState, from),
		attribute.String(AttrState, to),
	)
}

// SetQueueAttributes sets request-queue attributes on a span.
//
// Example:
//
//	SetQueueAttributes(span, 3, 120)
func SetQueueAttributes(span trace.Span, depth int, waitMs int64) {
	span.SetAttributes(
		attribute.Int(AttrQueueDepth, depth),
		attribute.Int64(AttrQueueWaitMs, waitMs),
	)
}

// SetEvictionAttributes records which model was evicted to admit another.
//
// Example:
//
//	SetEvictionAttributes(span, "m1")
func SetEvictionAttributes(span trace.Span, victim string) {
	if victim != "" {
		span.SetAttributes(attribute.String(AttrEvictionVictim, victim))
	}
}

// SetErrorAttributes sets error-related attributes on a span.
// This also records the error using span.RecordError() and sets the span status.
//
// Example:
//
//	SetErrorAttributes(span, err, "start_failed")
func SetErrorAttributes(span trace.Span, err error, errorType string) {
	if err == nil {
		return
	}

	span.SetAttributes(
		attribute.Bool("error", true),
		attribute.String(AttrErrorType, errorType),
		attribute.String(AttrErrorMessage, err.Error()),
	)

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetDurationAttribute sets the duration attribute on a span.
// Duration is recorded in milliseconds.
//
// Example:
//
//	start := time.Now()
//	// ... do work ...
//	SetDurationAttribute(span, time.Since(start).Milliseconds())
func SetDurationAttribute(span trace.Span, durationMs int64) {
	span.SetAttributes(attribute.Int64(AttrDuration, durationMs))
}

// SetRetryAttribute sets the retry count attribute on a span.
func SetRetryAttribute(span trace.Span, retryCount int) {
	span.SetAttributes(attribute.Int(AttrRetryCount, retryCount))
}

// AddEvent adds a named event to the span with optional attributes.
// Events represent interesting points in the span's lifetime.
//
// Example:
//
//	AddEvent(span, "backend_spawned", attribute.Int("pid", pid))
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordException records an exception event on the span.
func RecordException(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

// AttributeBuilder provides a fluent interface for building span attributes.
type AttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewAttributeBuilder creates a new attribute builder.
func NewAttributeBuilder() *AttributeBuilder {
	return &AttributeBuilder{
		attrs: make([]attribute.KeyValue, 0, 8),
	}
}

// WithModel adds model-identity attributes.
func (ab *AttributeBuilder) WithModel(model string, port int) *AttributeBuilder {
	ab.attrs = append(ab.attrs,
		attribute.String(AttrModel, model),
		attribute.Int(AttrPort, port),
	)
	return ab
}

// WithRequest adds the request ID attribute.
func (ab *AttributeBuilder) WithRequest(requestID string) *AttributeBuilder {
	if requestID != "" {
		ab.attrs = append(ab.attrs, attribute.String(AttrRequestID, requestID))
	}
	return ab
}

// WithTransition adds lifecycle transition attributes.
func (ab *AttributeBuilder) WithTransition(from, to string) *AttributeBuilder {
	ab.attrs = append(ab.attrs,
		attribute.String(AttrPreviousState, from),
		attribute.String(AttrState, to),
	)
	return ab
}

// WithQueue adds request-queue attributes.
func (ab *AttributeBuilder) WithQueue(depth int, waitMs int64) *AttributeBuilder {
	ab.attrs = append(ab.attrs,
		attribute.Int(AttrQueueDepth, depth),
		attribute.Int64(AttrQueueWaitMs, waitMs),
	)
	return ab
}

// WithCustom adds a custom attribute.
func (ab *AttributeBuilder) WithCustom(key string, value interface{}) *AttributeBuilder {
	switch v := value.(type) {
	case string:
		ab.attrs = append(ab.attrs, attribute.String(key, v))
	case int:
		ab.attrs = append(ab.attrs, attribute.Int(key, v))
	case int64:
		ab.attrs = append(ab.attrs, attribute.Int64(key, v))
	case float64:
		ab.attrs = append(ab.attrs, attribute.Float64(key, v))
	case bool:
		ab.attrs = append(ab.attrs, attribute.Bool(key, v))
	default:
		ab.attrs = append(ab.attrs, attribute.String(key, fmt.Sprintf("%v", v)))
	}
	return ab
}

// Build returns the built attributes as a trace.SpanStartOption.
func (ab *AttributeBuilder) Build() trace.SpanStartOption {
	return trace.WithAttributes(ab.attrs...)
}

// Apply applies the attributes to a span.
func (ab *AttributeBuilder) Apply(span trace.Span) {
	span.SetAttributes(ab.attrs...)
}

// Attributes returns the raw attribute slice.
func (ab *AttributeBuilder) Attributes() []attribute.KeyValue {
	return ab.attrs
}
