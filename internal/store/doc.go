// Package store provides a SQLite-backed ledger of harness runs.
//
// Each run is recorded once, after the last scenario has finished:
//   - runs: one row per run with its address, fixture size and counters
//   - scenario_results: one row per scenario, in execution order
//
// Run IDs are UUIDv7, but ordering never relies on them or on timestamps.
// Runs are ordered by their insertion seq, scenario results by their
// position in the run.
//
// # Database Configuration
//
// Set through the connection string, so every pooled connection gets them:
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The schema version lives in PRAGMA user_version; Open refuses a ledger
// stamped by a newer build.
package store
