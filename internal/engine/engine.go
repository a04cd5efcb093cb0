package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wallace-lab/wallace/internal/experiment"
	"github.com/wallace-lab/wallace/internal/ident"
	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/queue"
	"github.com/wallace-lab/wallace/internal/store"
)

// DefaultPollInterval bounds how long a job published without a signal
// (for example by another process) waits before the worker sees it.
const DefaultPollInterval = 2 * time.Second

// Engine is the notification worker.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine
//   - Process(), DetectDuplicates(), Nudge(): safe from any goroutine; the
//     store serializes their transactions
type Engine struct {
	store *store.Store
	queue *queue.Queue
	hooks experiment.Hooks
	poll  time.Duration
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithPollInterval sets how often Run checks the queue without a signal.
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.poll = d
		}
	}
}

// New creates an Engine that consumes q and reports to hooks.
func New(s *store.Store, q *queue.Queue, hooks experiment.Hooks, opts ...EngineOption) *Engine {
	e := &Engine{
		store: s,
		queue: q,
		hooks: hooks,
		poll:  DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run processes jobs until ctx is cancelled or the queue is closed.
//
// ERROR HANDLING: a failed job is logged and nacked, then the loop moves
// on. The queue redelivers it later.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "poll", e.poll)

	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	for {
		if _, err := e.Drain(ctx); err != nil && ctx.Err() == nil {
			slog.Error("claim failed", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			return ctx.Err()

		case _, ok := <-e.queue.Wait():
			if !ok {
				slog.Info("engine stopping: queue closed")
				return nil
			}

		case <-ticker.C:
		}
	}
}

// Drain processes jobs until none is deliverable. Returns the number of
// jobs handled, successful or not. Only claim errors are returned.
func (e *Engine) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		job, ok, err := e.queue.Claim(ctx)
		if err != nil {
			return n, fmt.Errorf("drain: %w", err)
		}
		if !ok {
			return n, nil
		}
		n++
		e.handle(ctx, job)
	}
}

func (e *Engine) handle(ctx context.Context, job queue.Job) {
	err := e.Process(ctx, job)
	if err == nil {
		if ackErr := e.queue.Ack(ctx, job.ID); ackErr != nil {
			slog.Error("ack failed", "job", job.ID, "error", ackErr)
		}
		return
	}

	state, nackErr := e.queue.Nack(ctx, job.ID, err)
	if nackErr != nil {
		slog.Error("nack failed", "job", job.ID, "error", nackErr)
	}
	logJobError(job, state, err)
}

// Process applies one notification job. An event with an assignment id is
// logged first, in its own committed write, so the log keeps it even when
// reconciliation fails. Reconciliation then runs in one transaction; a
// returned error means none of its writes were kept.
func (e *Engine) Process(ctx context.Context, job queue.Job) error {
	if assignment := deref(job.AssignmentID); assignment != "" {
		if _, err := e.store.AppendNotification(ctx, job.ID, assignment, job.EventType); err != nil {
			return err
		}
	}
	return e.store.WithTx(ctx, func(tx *store.Tx) error {
		return e.process(ctx, tx, job)
	})
}

func (e *Engine) process(ctx context.Context, tx *store.Tx, job queue.Job) error {
	assignment := deref(job.AssignmentID)

	slog.Debug("processing notification",
		"job", job.ID,
		"event", job.EventType,
		"assignment", assignment,
		"participant", models.ShortID(deref(job.ParticipantID)),
	)

	p, ok, err := e.resolve(ctx, tx, job)
	if err != nil || !ok {
		return err
	}
	log := slog.With("participant", p.ShortID(), "event", job.EventType)

	switch job.EventType {
	case models.EventAccepted:
		_, err := e.fireOnce(ctx, tx, p, effectAccepted, job.ID, e.hooks.Accepted)
		return err

	case models.EventAbandoned, models.EventReturned, models.EventSubmitted:
		target, _ := job.EventType.TargetStatus()
		changed, err := tx.AdvanceStatus(ctx, p.UniqueID, target, models.TerminalThreshold)
		if err != nil {
			return err
		}
		if !changed {
			log.Info("participant already terminal, doing nothing", "status", p.Status)
			return nil
		}
		p.Status = target

		if _, err := e.fireOnce(ctx, tx, p, effectFor(job.EventType), job.ID, hookFor(e.hooks, job.EventType)); err != nil {
			return err
		}
		if job.EventType == models.EventSubmitted {
			_, err := e.trigger(ctx, tx, p, job.ID)
			return err
		}
		return nil

	default:
		log.Warn("unknown event type, doing nothing")
		return nil
	}
}

// resolve finds the participant a job concerns. ok is false when there is
// none; that is logged, not an error, since redelivery cannot fix it.
func (e *Engine) resolve(ctx context.Context, tx *store.Tx, job queue.Job) (models.Participant, bool, error) {
	if assignment := deref(job.AssignmentID); assignment != "" {
		ps, err := tx.ParticipantsByAssignment(ctx, assignment)
		if err != nil {
			return models.Participant{}, false, err
		}
		switch len(ps) {
		case 0:
			slog.Warn("no participant for assignment, notification will not be processed",
				"assignment", assignment, "event", job.EventType)
			return models.Participant{}, false, nil
		case 1:
			return ps[0], true, nil
		default:
			// Ordered by begin time, oldest first; the most recent wins.
			latest := ps[len(ps)-1]
			slog.Warn("multiple participants for assignment, assuming the most recent",
				"assignment", assignment, "count", len(ps), "participant", latest.ShortID())
			return latest, true, nil
		}
	}

	if id := deref(job.ParticipantID); id != "" {
		p, err := tx.Participant(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("notification names an unknown participant", "participant", models.ShortID(id), "event", job.EventType)
			return models.Participant{}, false, nil
		}
		if err != nil {
			return models.Participant{}, false, err
		}
		return p, true, nil
	}

	slog.Warn("notification names no participant", "job", job.ID, "event", job.EventType)
	return models.Participant{}, false, nil
}

func logJobError(job queue.Job, state store.JobState, err error) {
	attrs := []any{
		"error", err,
		"job", job.ID,
		"event", job.EventType,
		"attempt", job.Attempts,
		"state", state,
	}
	if job.AssignmentID != nil {
		attrs = append(attrs, "assignment", *job.AssignmentID)
	}
	if job.ParticipantID != nil {
		attrs = append(attrs, "participant", models.ShortID(*job.ParticipantID))
	}
	if key, keyErr := ident.NotificationKey(string(job.EventType), deref(job.AssignmentID), deref(job.ParticipantID)); keyErr == nil {
		attrs = append(attrs, "fingerprint", key[:12])
	}
	slog.Error("notification processing failed", attrs...)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
