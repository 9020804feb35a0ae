// Package proxy implements the Proxy Forwarder: the
// network-facing path that accepts OpenAI-compatible client requests,
// couples them to the Lifecycle Controller's admission/queueing decision,
// and streams the backend's response straight through to the client.
//
// # Request flow
//
//  1. Buffer (or tee) just enough of the body to extract "model".
//  2. Call lifecycle.Controller.AdmitRequest. A nil entry means the model
//     is already READY: forward immediately. A non-nil entry means the
//     request is queued; wait on it.
//  3. On successful resolution, reverse-proxy to the backend's loopback
//     port, preserving method, headers (minus hop-by-hop), and body.
//  4. Flush streaming (SSE/chunked) responses without buffering, and
//     cancel the upstream request if the client disconnects first.
//
// The Forwarder never interprets the body beyond extracting the model
// name: it is not an OpenAI client library, it is a dumb pipe with a
// routing decision bolted on the front.
package proxy
