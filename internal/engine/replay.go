package engine

// # Replay and Idempotency
//
// Idempotency is STRUCTURAL, not a special "replay mode". A redelivered
// job, a job requeued by an operator and a nudge racing the worker all
// take the same code path as the first delivery.
//
// Three mechanisms enforce it:
//
// 1. Database Constraint
//
//	notifications: UNIQUE(job_id)
//	side_effects:  PRIMARY KEY(key)
//
// A job appends at most one notification, and a (participant, effect) pair
// is claimed at most once.
//
// 2. Guarded Transitions
//
//	UPDATE participants SET status = ? WHERE unique_id = ? AND status < 100
//
// Once a participant is terminal, later jobs for it change nothing.
//
// 3. Content-Addressed Effect Keys
//
//	key := ident.EffectKey(participantID, effect)
//
// The same participant and effect always hash to the same key via
// canonical JSON, whichever job or sweep computes it.
//
// ## Replay Flow
//
//	[Claim job] → [Append notification] → [Begin tx] → [Resolve]
//	                                                      ↓
//	                                     [AdvanceStatus (status < 100)]
//	                                                      ↓
//	                   changed=false → Skip (already terminal)
//	                   changed=true  → [ClaimEffect] → claimed → run hook
//	                                                 → not claimed → Skip
//	                                                      ↓
//	                                     [Commit] → [Ack]
//
// The notification append commits on its own, ahead of the transaction, so
// the log records the event even if reconciliation never succeeds.
// A crash before Commit loses the claim together with the hook's writes, so
// the retry runs the hook again from a clean slate. A crash after Commit
// but before Ack redelivers a job whose every step is now a no-op.

import (
	"context"
	"fmt"
	"log/slog"
)

// Replay puts a finished or dead job back on the queue. The rerun is safe
// for the reasons above; it is how an operator retries a job that died on a
// hook error after fixing the cause.
func (e *Engine) Replay(ctx context.Context, jobID string) (bool, error) {
	ok, err := e.queue.Requeue(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("replay %s: %w", jobID, err)
	}
	if ok {
		slog.Info("job requeued", "job", jobID)
	}
	return ok, nil
}
