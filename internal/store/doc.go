// Package store provides SQLite-backed durable storage for the experiment
// graph, participants, platform notifications and the notification job queue.
//
// # Handles
//
// Every operation is defined once on an unexported query layer and promoted
// onto both *Store (each statement auto-commits) and *Tx (statements join an
// explicit transaction). The database is opened with a single connection, so
// code holding a *Tx must route every statement through that Tx.
//
// # Idempotency
//
//   - notifications: UNIQUE(job_id), so a replayed job appends one record
//   - side_effects: PRIMARY KEY(key), so ClaimEffect grants each key once
//   - participant status updates are conditional on status < 100
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
