// Package queue implements the per-model bounded request FIFO: it holds
// inbound requests while a model's backend is not yet READY, draining
// them in admission order once the backend becomes serviceable, or
// failing them all if the backend never comes up.
package queue
