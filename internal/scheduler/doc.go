// Package scheduler drives automatic sync runs.
//
// Each sync-enabled integration has a schedule row with a next_run_at
// cursor. A ticker polls for due schedules and claims them with a
// leased compare-and-swap, so concurrent workers (or a restarted
// process) never double-run an integration and a crashed worker's claim
// expires on its own.
package scheduler
