package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/queue"
	"github.com/wallace-lab/wallace/internal/store"
)

// DetectDuplicates enqueues AssignmentAbandoned for every other participant
// holding p's assignment whose status is below 100. The jobs are addressed
// by participant id so the worker does not have to disambiguate the shared
// assignment. Returns the number of jobs enqueued.
func (e *Engine) DetectDuplicates(ctx context.Context, p models.Participant) (int, error) {
	if p.AssignmentID == "" {
		return 0, nil
	}

	enqueued := 0
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		enqueued = 0
		others, err := tx.ParticipantsByAssignment(ctx, p.AssignmentID)
		if err != nil {
			return err
		}
		for _, other := range others {
			if other.UniqueID == p.UniqueID || other.Status.Terminal() {
				continue
			}
			job, err := e.queue.Publish(ctx, tx, queue.ForParticipant(models.EventAbandoned, other.UniqueID))
			if err != nil {
				return err
			}
			slog.Warn("duplicate assignment, abandoning older participant",
				"participant", p.ShortID(),
				"other", other.ShortID(),
				"assignment", p.AssignmentID,
				"job", job.ID,
			)
			enqueued++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("detect duplicates: %w", err)
	}
	return enqueued, nil
}
