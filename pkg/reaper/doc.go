// Package reaper implements the Idle Reaper: a single background
// sweeper that stops READY, non-preloaded models whose last activity has
// exceeded the configured inactivity timeout, and a second sweep that
// times out stale request-queue entries.
//
// Both sweeps are driven by github.com/robfig/cron/v3 rather than a bare
// time.Ticker, so the same scheduler that will eventually host other
// periodic admin jobs (metrics flush, event-log compaction) has one home.
package reaper
