package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wallace-lab/wallace/internal/models"
)

// JobState is the delivery state of a queued notification job.
type JobState string

const (
	JobPending JobState = "pending"
	JobLeased  JobState = "leased"
	JobDone    JobState = "done"
	JobDead    JobState = "dead"
)

// JobStates lists every state in lifecycle order.
var JobStates = []JobState{JobPending, JobLeased, JobDone, JobDead}

// Job is one row of the durable notification queue. LeaseUntil ends the
// lease of a leased job and holds back the retry of a pending one.
type Job struct {
	ID            string           `json:"id"`
	EventType     models.EventType `json:"event_type"`
	AssignmentID  *string          `json:"assignment_id"`
	ParticipantID *string          `json:"participant_id"`
	State         JobState         `json:"state"`
	Attempts      int              `json:"attempts"`
	EnqueuedAt    time.Time        `json:"enqueued_at"`
	LeaseUntil    *time.Time       `json:"lease_until,omitempty"`
	LastError     *string          `json:"last_error,omitempty"`
}

const jobColumns = "id, event_type, assignment_id, participant_id, state, attempts, enqueued_at, lease_until, last_error"

// InsertJob enqueues a job in the pending state.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (h handle) InsertJob(ctx context.Context, j Job) error {
	if j.ID == "" {
		return errors.New("insert job: id is empty")
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = h.now()
	}
	_, err := h.q.ExecContext(ctx, `
		INSERT INTO jobs (id, event_type, assignment_id, participant_id, state, attempts, enqueued_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO NOTHING
	`, j.ID, string(j.EventType), stringArg(j.AssignmentID), stringArg(j.ParticipantID), string(JobPending), formatTime(j.EnqueuedAt))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// MaxRetryDelay caps the backoff between deliveries of a failing job.
const MaxRetryDelay = 10 * time.Minute

// retryDelay doubles base for every attempt after the first.
func retryDelay(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= MaxRetryDelay {
			return MaxRetryDelay
		}
	}
	return d
}

// ClaimJob leases the oldest deliverable job: a pending job whose retry time
// has passed, or a leased job whose lease has expired. For a pending job
// lease_until holds the earliest time it may be retried. Returns ok=false
// when nothing is deliverable.
func (h handle) ClaimJob(ctx context.Context, lease time.Duration) (Job, bool, error) {
	for {
		now := h.now()
		var id string
		err := h.q.QueryRowContext(ctx, `
			SELECT id FROM jobs
			WHERE (state = ? AND (lease_until IS NULL OR lease_until <= ?))
			   OR (state = ? AND lease_until < ?)
			ORDER BY enqueued_at ASC, id ASC
			LIMIT 1
		`, string(JobPending), formatTime(now), string(JobLeased), formatTime(now)).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, false, nil
		}
		if err != nil {
			return Job{}, false, fmt.Errorf("claim job: %w", err)
		}

		// The state guard is repeated so a concurrent claimer cannot take
		// the same row.
		res, err := h.q.ExecContext(ctx, `
			UPDATE jobs SET state = ?, attempts = attempts + 1, lease_until = ?
			WHERE id = ? AND (
				(state = ? AND (lease_until IS NULL OR lease_until <= ?))
				OR (state = ? AND lease_until < ?))
		`, string(JobLeased), formatTime(now.Add(lease)), id, string(JobPending), formatTime(now), string(JobLeased), formatTime(now))
		if err != nil {
			return Job{}, false, fmt.Errorf("claim job: %w", err)
		}
		won, err := affected(res, "claim job")
		if err != nil {
			return Job{}, false, err
		}
		if !won {
			continue
		}

		j, err := h.Job(ctx, id)
		if err != nil {
			return Job{}, false, err
		}
		return j, true, nil
	}
}

// AckJob marks a job done.
func (h handle) AckJob(ctx context.Context, id string) error {
	if _, err := h.q.ExecContext(ctx, `
		UPDATE jobs SET state = ?, lease_until = NULL WHERE id = ?
	`, string(JobDone), id); err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

// NackJob records a failed attempt. The job returns to pending unless it has
// used maxAttempts, in which case it is dead. A pending job is not claimed
// again until backoff has elapsed, doubled for every attempt after the first
// and capped at MaxRetryDelay. Returns the new state.
func (h handle) NackJob(ctx context.Context, id, reason string, maxAttempts int, backoff time.Duration) (JobState, error) {
	j, err := h.Job(ctx, id)
	if err != nil {
		return "", fmt.Errorf("nack job: %w", err)
	}
	next := JobPending
	var retryAt any
	if maxAttempts > 0 && j.Attempts >= maxAttempts {
		next = JobDead
	} else if d := retryDelay(backoff, j.Attempts); d > 0 {
		retryAt = formatTime(h.now().Add(d))
	}
	if _, err := h.q.ExecContext(ctx, `
		UPDATE jobs SET state = ?, lease_until = ?, last_error = ? WHERE id = ?
	`, string(next), retryAt, reason, id); err != nil {
		return "", fmt.Errorf("nack job: %w", err)
	}
	return next, nil
}

// Job returns one job by id.
func (h handle) Job(ctx context.Context, id string) (Job, error) {
	row := h.q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, err
}

// Jobs lists jobs in enqueue order. An empty state lists every job; limit
// <= 0 means no limit.
func (h handle) Jobs(ctx context.Context, state JobState, limit int) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY enqueued_at ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := h.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	out := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// CountJobs returns the number of jobs in each state. Every state is present
// in the result.
func (h handle) CountJobs(ctx context.Context) (map[JobState]int, error) {
	counts := make(map[JobState]int, len(JobStates))
	for _, s := range JobStates {
		counts[s] = 0
	}

	rows, err := h.q.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[JobState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job counts: %w", err)
	}
	return counts, nil
}

func scanJob(s scanner) (Job, error) {
	var j Job
	var event, state, enqueued string
	var assignment, participant, lease, lastErr sql.NullString
	if err := s.Scan(&j.ID, &event, &assignment, &participant, &state, &j.Attempts, &enqueued, &lease, &lastErr); err != nil {
		return Job{}, fmt.Errorf("scan job: %w", err)
	}
	j.EventType = models.EventType(event)
	j.State = JobState(state)
	j.AssignmentID = nullString(assignment)
	j.ParticipantID = nullString(participant)
	j.LastError = nullString(lastErr)

	var err error
	if j.EnqueuedAt, err = parseTime(enqueued); err != nil {
		return Job{}, err
	}
	if j.LeaseUntil, err = parseNullTime(lease); err != nil {
		return Job{}, err
	}
	return j, nil
}

// RequeueJob returns a done or dead job to pending with a fresh attempt
// budget. Reports whether the job was requeued; pending and leased jobs are
// left alone.
func (h handle) RequeueJob(ctx context.Context, id string) (bool, error) {
	res, err := h.q.ExecContext(ctx, `
		UPDATE jobs SET state = ?, attempts = 0, lease_until = NULL
		WHERE id = ? AND state IN (?, ?)
	`, string(JobPending), id, string(JobDone), string(JobDead))
	if err != nil {
		return false, fmt.Errorf("requeue job: %w", err)
	}
	return affected(res, "requeue job")
}
