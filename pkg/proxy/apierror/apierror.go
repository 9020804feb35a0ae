// Package apierror implements the gateway's HTTP error body shape: every
// non-2xx response is
// {"error": {"code": "<snake_case>", "message": "<human>", "type": "<category>"}}.
package apierror

// Body is the JSON shape written for every non-2xx response.
type Body struct {
	Error Detail `json:"error"`
}

// Detail carries the machine-readable code, a human message, a broad
// error category, and, for an unknown-model error, the list of models
// the gateway actually knows about.
type Detail struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Type    string   `json:"type"`
	Models  []string `json:"models,omitempty"`
}

func build(code, message, kind string) Body {
	return Body{Error: Detail{Code: code, Message: message, Type: kind}}
}

// New builds an error body with an explicit code, message, and category.
func New(code, message, kind string) Body {
	return build(code, message, kind)
}

// NotFound is the ModelNotFound error kind, used for an unknown admin
// resource (a group, a queue, an event journal) where there is no model
// list to attach.
func NotFound(message string) Body {
	return build("model_not_found", message, "not_found")
}

// UnknownModel is the ModelNotFound error kind for a client request
// naming a model the gateway doesn't know, carrying the list of known
// models per spec.md §4.5 point 2 ("Unknown model -> 404 with the list
// of known models in the error body").
func UnknownModel(message string, knownModels []string) Body {
	body := build("model_not_found", message, "not_found")
	body.Error.Models = knownModels
	return body
}

// QueueFull is returned when a model's bounded request queue has no
// spare capacity.
func QueueFull(message string) Body {
	return build("queue_full", message, "unavailable")
}

// QueueTimeout is returned when a queued request aged out before the
// model became READY.
func QueueTimeout(message string) Body {
	return build("queue_timeout", message, "timeout")
}

// StartFailed is returned to every caller queued behind a model whose
// start attempt failed.
func StartFailed(message string) Body {
	return build("start_failed", message, "unavailable")
}

// AdmissionDenied is returned when the global concurrency cap is reached
// with no evictable candidate.
func AdmissionDenied(message string) Body {
	return build("no_capacity", message, "unavailable")
}

// BackendTransportError is returned when the backend is unreachable
// mid-request.
func BackendTransportError(message string) Body {
	return build("backend_unavailable", message, "bad_gateway")
}

// BadRequest covers malformed client input, e.g. a body missing "model".
func BadRequest(message string) Body {
	return build("bad_request", message, "invalid_request")
}

// GatewayTimeout covers the gateway's own request-processing timeout.
func GatewayTimeout(message string) Body {
	return build("gateway_timeout", message, "timeout")
}

// Internal covers unexpected, unclassified failures (panics recovered by
// middleware, programming errors).
func Internal(message string) Body {
	return build("internal_error", message, "internal")
}

// RequestTooLarge is returned when a buffered request body exceeds the
// configured cap.
func RequestTooLarge(message string) Body {
	return build("request_too_large", message, "invalid_request")
}

// ConfigError covers malformed YAML, missing required fields, duplicate
// ports, or an unreadable model path at config-reload time. Surfaced as
// 400 from the admin reload verb.
func ConfigError(message string) Body {
	return build("config_error", message, "invalid_request")
}
