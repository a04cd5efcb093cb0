package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/wallace-lab/wallace/internal/experiment"
	"github.com/wallace-lab/wallace/internal/ident"
	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/store"
)

// Effect names. They feed the side-effect key, so renaming one lets every
// participant's hook run again.
const (
	effectAccepted   = "accepted"
	effectAbandoned  = "abandoned"
	effectReturned   = "returned"
	effectSubmitted  = "submitted"
	effectSubmission = "submission_trigger"
)

type hookFunc func(ctx context.Context, tx *store.Tx, p models.Participant) error

func effectFor(t models.EventType) string {
	switch t {
	case models.EventAccepted:
		return effectAccepted
	case models.EventAbandoned:
		return effectAbandoned
	case models.EventReturned:
		return effectReturned
	default:
		return effectSubmitted
	}
}

func hookFor(h experiment.Hooks, t models.EventType) hookFunc {
	switch t {
	case models.EventAccepted:
		return h.Accepted
	case models.EventAbandoned:
		return h.Abandoned
	case models.EventReturned:
		return h.Returned
	default:
		return h.Submitted
	}
}

// fireOnce runs fn unless the (participant, effect) key was already claimed,
// and reports whether it ran. The claim shares tx with fn's writes: both
// land or neither does.
func (e *Engine) fireOnce(ctx context.Context, tx *store.Tx, p models.Participant, effect, source string, fn hookFunc) (bool, error) {
	key, err := ident.EffectKey(p.UniqueID, effect)
	if err != nil {
		return false, fmt.Errorf("effect key: %w", err)
	}
	claimed, err := tx.ClaimEffect(ctx, key, p.UniqueID, effect, source)
	if err != nil {
		return false, err
	}
	if !claimed {
		slog.Debug("effect already applied", "participant", p.ShortID(), "effect", effect)
		return false, nil
	}

	slog.Info("running hook", "participant", p.ShortID(), "effect", effect, "source", source)
	if err := callHook(ctx, tx, p, fn); err != nil {
		return false, &HookError{Effect: effect, Participant: p.UniqueID, Err: err}
	}
	return true, nil
}

// trigger runs the submission trigger at most once per participant.
func (e *Engine) trigger(ctx context.Context, tx *store.Tx, p models.Participant, source string) (bool, error) {
	return e.fireOnce(ctx, tx, p, effectSubmission, source, func(ctx context.Context, tx *store.Tx, p models.Participant) error {
		return e.hooks.SubmissionTrigger(ctx, tx, p, p.AssignmentID)
	})
}

func callHook(ctx context.Context, tx *store.Tx, p models.Participant, fn hookFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("hook panicked", "participant", p.ShortID(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, tx, p)
}
