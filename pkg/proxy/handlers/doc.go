// Package handlers provides the gateway's client-facing and diagnostic
// HTTP endpoints: GET /v1/models, GET /health, and
// GET /metrics. The chat/completions routes are served directly by
// pkg/proxy.Forwarder; this package covers the rest of the stable
// surface.
//
// # Error format
//
// Every non-2xx response uses the error envelope from pkg/proxy/apierror:
//
//	{"error": {"code": "model_not_found", "message": "...", "type": "not_found"}}
package handlers
