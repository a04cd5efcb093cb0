package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/store"
)

const nudgeSource = "nudge"

// NudgeReport lists the participants one sweep moved, by full id.
type NudgeReport struct {
	// Hung participants were at status 4: submitted, but the platform's
	// AssignmentSubmitted notification never arrived.
	Hung []string `json:"hung"`

	// EndedHit participants were at status 3 with an end of HIT recorded.
	EndedHit []string `json:"ended_hit"`

	// Triggered participants had their submission trigger run by this sweep.
	Triggered []string `json:"triggered"`

	// Failed participants could not be finalised. Nothing was kept for them
	// and the next sweep tries again.
	Failed []string `json:"failed"`
}

// Nudge moves stuck participants to status 100 and runs their submission
// trigger if it has never run. Each participant is handled in its own
// transaction with a compare-and-swap on the stuck status, so the sweep can
// run repeatedly and alongside the worker; a participant the worker
// finalised first is skipped. A participant that cannot be finalised is
// logged and reported in Failed; the sweep carries on with the rest. Only a
// failure to list participants is returned as an error.
func (e *Engine) Nudge(ctx context.Context) (NudgeReport, error) {
	report := NudgeReport{Hung: []string{}, EndedHit: []string{}, Triggered: []string{}, Failed: []string{}}
	slog.Info("nudging the experiment along")

	hung, err := e.store.ParticipantsByStatus(ctx, models.StatusSubmitted)
	if err != nil {
		return report, fmt.Errorf("nudge: %w", err)
	}
	for _, p := range hung {
		moved, ran, err := e.finalise(ctx, p, models.StatusSubmitted)
		if err != nil {
			slog.Error("nudge failed for participant", "participant", p.ShortID(), "error", err)
			report.Failed = append(report.Failed, p.UniqueID)
			continue
		}
		if moved {
			report.Hung = append(report.Hung, p.UniqueID)
		}
		if ran {
			report.Triggered = append(report.Triggered, p.UniqueID)
		}
	}

	ended, err := e.store.StuckCompleted(ctx)
	if err != nil {
		return report, fmt.Errorf("nudge: %w", err)
	}
	for _, p := range ended {
		moved, ran, err := e.finalise(ctx, p, models.StatusCompleted)
		if err != nil {
			slog.Error("nudge failed for participant", "participant", p.ShortID(), "error", err)
			report.Failed = append(report.Failed, p.UniqueID)
			continue
		}
		if moved {
			report.EndedHit = append(report.EndedHit, p.UniqueID)
		}
		if ran {
			report.Triggered = append(report.Triggered, p.UniqueID)
		}
	}

	slog.Info("nudge finished",
		"hung", len(report.Hung),
		"ended_hit", len(report.EndedHit),
		"triggered", len(report.Triggered),
		"failed", len(report.Failed),
	)
	return report, nil
}

// finalise moves p from `from` to 100 and fires the submission trigger.
func (e *Engine) finalise(ctx context.Context, p models.Participant, from models.Status) (moved, ran bool, err error) {
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		moved, ran = false, false
		ok, err := tx.TransitionStatus(ctx, p.UniqueID, from, models.StatusComplete)
		if err != nil || !ok {
			return err
		}
		moved = true
		p.Status = models.StatusComplete
		slog.Info("bumping participant to complete", "participant", p.ShortID(), "from", from)

		ran, err = e.trigger(ctx, tx, p, nudgeSource)
		return err
	})
	if err != nil {
		return false, false, err
	}
	return moved, ran, nil
}
