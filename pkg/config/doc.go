// Package config loads and validates the gateway's configuration snapshot.
//
// A Config is an immutable record of every configured model plus the
// proxy, lifecycle, queue, telemetry, and security settings that govern
// the gateway process. Nothing in this package mutates a Config after
// load; configuration reload produces a brand new snapshot which the
// caller diffs against the previous one (see pkg/registry.Reconcile).
package config
