// Package queue is the durable, at-least-once notification job queue.
//
// Jobs live in the store's jobs table, so a job published inside a request
// transaction is only visible once that transaction commits. A coalescing
// signal channel wakes the worker early; the worker also polls, so a missed
// signal only delays delivery.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/store"
)

const (
	DefaultLease       = 30 * time.Second
	DefaultMaxAttempts = 5
	DefaultBackoff     = 5 * time.Second
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("queue closed")

// Job is a notification awaiting reconciliation. Exactly one of
// AssignmentID and ParticipantID is normally set.
type Job struct {
	ID            string           `json:"id"`
	EventType     models.EventType `json:"event_type"`
	AssignmentID  *string          `json:"assignment_id"`
	ParticipantID *string          `json:"participant_id"`
	Attempts      int              `json:"attempts"`
	EnqueuedAt    time.Time        `json:"enqueued_at"`
}

// ForAssignment builds a job addressed by platform assignment id.
func ForAssignment(event models.EventType, assignmentID string) Job {
	return Job{EventType: event, AssignmentID: &assignmentID}
}

// ForParticipant builds a job addressed directly at one participant.
func ForParticipant(event models.EventType, participantID string) Job {
	return Job{EventType: event, ParticipantID: &participantID}
}

// Writer is satisfied by *store.Store and *store.Tx.
type Writer interface {
	InsertJob(ctx context.Context, j store.Job) error
}

// Config tunes delivery.
type Config struct {
	// Lease is how long a claimed job stays invisible before redelivery.
	Lease time.Duration
	// MaxAttempts is the number of deliveries before a job is dead.
	MaxAttempts int
	// Backoff is the wait before the first redelivery of a failed job. It
	// doubles with every further attempt, up to store.MaxRetryDelay.
	Backoff time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithConfig overrides delivery settings. Zero fields keep defaults.
func WithConfig(cfg Config) Option {
	return func(q *Queue) {
		if cfg.Lease > 0 {
			q.cfg.Lease = cfg.Lease
		}
		if cfg.MaxAttempts > 0 {
			q.cfg.MaxAttempts = cfg.MaxAttempts
		}
		if cfg.Backoff > 0 {
			q.cfg.Backoff = cfg.Backoff
		}
	}
}

// WithIDGenerator sets the job id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(q *Queue) { q.ids = g }
}

// Queue publishes and delivers notification jobs.
type Queue struct {
	store *store.Store
	ids   IDGenerator
	cfg   Config

	mu     sync.Mutex
	closed bool
	signal chan struct{} // buffered, size 1
}

// New creates a queue over s.
func New(s *store.Store, opts ...Option) *Queue {
	q := &Queue{
		store:  s,
		ids:    UUIDv7Generator{},
		cfg:    Config{Lease: DefaultLease, MaxAttempts: DefaultMaxAttempts, Backoff: DefaultBackoff},
		signal: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Config returns the effective delivery settings.
func (q *Queue) Config() Config {
	return q.cfg
}

// Publish writes job through w and wakes the worker. Passing a *store.Tx
// makes the job part of that transaction. An empty job id is filled in.
func (q *Queue) Publish(ctx context.Context, w Writer, job Job) (Job, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return Job{}, ErrClosed
	}

	if job.ID == "" {
		job.ID = q.ids.Generate()
	}
	if job.EventType == "" {
		return Job{}, errors.New("publish: event type is empty")
	}
	if err := w.InsertJob(ctx, store.Job{
		ID:            job.ID,
		EventType:     job.EventType,
		AssignmentID:  job.AssignmentID,
		ParticipantID: job.ParticipantID,
		EnqueuedAt:    job.EnqueuedAt,
	}); err != nil {
		return Job{}, fmt.Errorf("publish: %w", err)
	}

	q.Notify()
	return job, nil
}

// Enqueue publishes job outside any transaction.
func (q *Queue) Enqueue(ctx context.Context, job Job) (Job, error) {
	return q.Publish(ctx, q.store, job)
}

// Notify wakes the worker. Multiple signals coalesce.
func (q *Queue) Notify() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Claim leases the next deliverable job. ok is false when the queue is
// empty.
func (q *Queue) Claim(ctx context.Context) (Job, bool, error) {
	row, ok, err := q.store.ClaimJob(ctx, q.cfg.Lease)
	if err != nil || !ok {
		return Job{}, ok, err
	}
	return Job{
		ID:            row.ID,
		EventType:     row.EventType,
		AssignmentID:  row.AssignmentID,
		ParticipantID: row.ParticipantID,
		Attempts:      row.Attempts,
		EnqueuedAt:    row.EnqueuedAt,
	}, true, nil
}

// Ack marks a job finished.
func (q *Queue) Ack(ctx context.Context, id string) error {
	return q.store.AckJob(ctx, id)
}

// Nack records a failed delivery. The job is redelivered after a backoff
// until it has been attempted MaxAttempts times, then it is dead.
func (q *Queue) Nack(ctx context.Context, id string, cause error) (store.JobState, error) {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	return q.store.NackJob(ctx, id, reason, q.cfg.MaxAttempts, q.cfg.Backoff)
}

// Requeue puts a done or dead job back in line and wakes the worker.
func (q *Queue) Requeue(ctx context.Context, id string) (bool, error) {
	ok, err := q.store.RequeueJob(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	q.Notify()
	return true, nil
}

// Wait returns a channel that signals when jobs may be available. It is
// closed by Close.
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}

// Close stops publishing and wakes any waiter.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
