// Package supervisor spawns, health-checks, and terminates backend
// processes, one per model.
//
// A Supervisor holds no per-model state and is shared across models; each
// Spawn returns a Handle that owns exactly one child process. It never makes
// scheduling decisions — the Lifecycle Controller (pkg/lifecycle) decides
// when to spawn or stop; the Supervisor only executes that decision and
// reports readiness or failure.
package supervisor
