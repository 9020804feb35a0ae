// Package lifecycle implements the per-model state machine: it
// serializes start/stop/reload transitions for each model, enforces the
// global concurrent-model cap with priority-based eviction, and drains
// each model's request queue on readiness.
//
// The Controller is the only component permitted to call
// registry.ModelEntry.SetState/SetProcessHandle; every other package
// (pkg/proxy, pkg/reaper, the admin HTTP handlers) drives state changes
// exclusively through Controller methods.
package lifecycle
