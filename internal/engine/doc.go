// Package engine reconciles participant state with platform notifications.
//
// ARCHITECTURE:
//
// Single Worker Loop:
// Webhook requests only enqueue jobs. Engine.Run claims them one at a time
// from the durable queue and processes each one:
//  1. Append the notification to the audit log (when it names an assignment).
//     This write commits on its own, whatever happens next.
//  2. In one store transaction, resolve the participant it concerns
//  3. and apply a status-guarded transition and fire the experiment hook.
//
// A job that fails is nacked and redelivered, after a backoff that doubles
// with each attempt, until its attempt budget runs out. Because delivery is at-least-once and unordered, every step is
// idempotent:
//   - The notification log is keyed by job id.
//   - Status transitions only apply while status < 100, so a terminal status
//     is never reverted and a replayed job finds nothing to do.
//   - Hooks run through fireOnce, which claims a side-effect key derived from
//     (participant, effect) in the same transaction as the hook's writes.
//
// The duplicate-assignment detector and the nudge sweep live here too: both
// change participant status and share the same guards.
package engine
