package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wallace-lab/wallace/internal/models"
)

const participantColumns = "unique_id, assignment_id, worker_id, hit_id, status, begin_hit, end_hit"

// CreateParticipant inserts a participant. BeginHIT defaults to now.
func (h handle) CreateParticipant(ctx context.Context, p models.Participant) (models.Participant, error) {
	if p.UniqueID == "" {
		return models.Participant{}, errors.New("create participant: unique id is empty")
	}
	if p.BeginHIT.IsZero() {
		p.BeginHIT = h.now()
	}
	_, err := h.q.ExecContext(ctx, `
		INSERT INTO participants
		(unique_id, assignment_id, worker_id, hit_id, status, begin_hit, end_hit)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		p.UniqueID,
		p.AssignmentID,
		p.WorkerID,
		p.HITID,
		int(p.Status),
		formatTime(p.BeginHIT),
		formatTimePtr(p.EndHIT),
	)
	if err != nil {
		return models.Participant{}, fmt.Errorf("create participant: %w", err)
	}
	p.BeginHIT = p.BeginHIT.UTC().Truncate(timeResolution)
	return p, nil
}

// ParticipantsByID returns every row carrying uniqueID. More than one row is
// a data error the caller must report.
func (h handle) ParticipantsByID(ctx context.Context, uniqueID string) ([]models.Participant, error) {
	return h.queryParticipants(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE unique_id = ?
		ORDER BY id ASC
	`, uniqueID)
}

// Participant returns the single participant with uniqueID.
// Returns ErrNotFound if none exists.
func (h handle) Participant(ctx context.Context, uniqueID string) (models.Participant, error) {
	ps, err := h.ParticipantsByID(ctx, uniqueID)
	if err != nil {
		return models.Participant{}, err
	}
	if len(ps) == 0 {
		return models.Participant{}, fmt.Errorf("participant %q: %w", uniqueID, ErrNotFound)
	}
	return ps[len(ps)-1], nil
}

// ParticipantsByAssignment returns participants sharing an assignment id,
// oldest begin time first.
func (h handle) ParticipantsByAssignment(ctx context.Context, assignmentID string) ([]models.Participant, error) {
	return h.queryParticipants(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE assignment_id = ?
		ORDER BY begin_hit ASC, id ASC
	`, assignmentID)
}

// ParticipantsByStatus returns participants at exactly status.
func (h handle) ParticipantsByStatus(ctx context.Context, status models.Status) ([]models.Participant, error) {
	return h.queryParticipants(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE status = ?
		ORDER BY id ASC
	`, int(status))
}

// StuckCompleted returns participants at status 3 that already carry an end
// of HIT timestamp.
func (h handle) StuckCompleted(ctx context.Context) ([]models.Participant, error) {
	return h.queryParticipants(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE status = ? AND end_hit IS NOT NULL
		ORDER BY id ASC
	`, int(models.StatusCompleted))
}

// AdvanceStatus sets status to `to` when the current status is below
// onlyBelow. A terminal status is never replaced by a non-terminal one.
// Reports whether a row changed.
func (h handle) AdvanceStatus(ctx context.Context, uniqueID string, to, onlyBelow models.Status) (bool, error) {
	query := `UPDATE participants SET status = ? WHERE unique_id = ? AND status < ?`
	if !to.Terminal() {
		query += ` AND status < 100`
	}
	res, err := h.q.ExecContext(ctx, query, int(to), uniqueID, int(onlyBelow))
	if err != nil {
		return false, fmt.Errorf("advance status: %w", err)
	}
	return affected(res, "advance status")
}

// TransitionStatus moves a participant from exactly `from` to `to`.
// Reports whether a row changed; a concurrent writer that moved the
// participant first makes this a no-op.
func (h handle) TransitionStatus(ctx context.Context, uniqueID string, from, to models.Status) (bool, error) {
	if from.Terminal() && !to.Terminal() {
		return false, fmt.Errorf("transition status: %d -> %d leaves a terminal status", from, to)
	}
	res, err := h.q.ExecContext(ctx, `
		UPDATE participants SET status = ?
		WHERE unique_id = ? AND status = ?
	`, int(to), uniqueID, int(from))
	if err != nil {
		return false, fmt.Errorf("transition status: %w", err)
	}
	return affected(res, "transition status")
}

// MarkCompleted records the client's end-of-HIT signal: status 3 and an end
// timestamp, unless the participant is already terminal.
func (h handle) MarkCompleted(ctx context.Context, uniqueID string) (bool, error) {
	res, err := h.q.ExecContext(ctx, `
		UPDATE participants SET status = ?, end_hit = ?
		WHERE unique_id = ? AND status < 100
	`, int(models.StatusCompleted), formatTime(h.now()), uniqueID)
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}
	return affected(res, "mark completed")
}

// MarkSubmitted records the client's submission signal (status 4) unless the
// participant is already terminal.
func (h handle) MarkSubmitted(ctx context.Context, uniqueID string) (bool, error) {
	res, err := h.q.ExecContext(ctx, `
		UPDATE participants SET status = ?
		WHERE unique_id = ? AND status < 100
	`, int(models.StatusSubmitted), uniqueID)
	if err != nil {
		return false, fmt.Errorf("mark submitted: %w", err)
	}
	return affected(res, "mark submitted")
}

// StatusCount is one bucket of the status histogram.
type StatusCount struct {
	Status models.Status `json:"status"`
	Count  int           `json:"count"`
}

// StatusSummary counts participants per status, lowest status first.
func (h handle) StatusSummary(ctx context.Context) ([]StatusCount, error) {
	rows, err := h.q.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM participants
		GROUP BY status
		ORDER BY status ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query status summary: %w", err)
	}
	defer rows.Close()

	out := []StatusCount{}
	for rows.Next() {
		var sc StatusCount
		var status int
		if err := rows.Scan(&status, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan status summary: %w", err)
		}
		sc.Status = models.Status(status)
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status summary: %w", err)
	}
	return out, nil
}

func (h handle) queryParticipants(ctx context.Context, query string, args ...any) ([]models.Participant, error) {
	rows, err := h.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	out := []models.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return out, nil
}

func scanParticipant(s scanner) (models.Participant, error) {
	var p models.Participant
	var status int
	var begin string
	var end sql.NullString
	if err := s.Scan(&p.UniqueID, &p.AssignmentID, &p.WorkerID, &p.HITID, &status, &begin, &end); err != nil {
		return models.Participant{}, fmt.Errorf("scan participant: %w", err)
	}
	p.Status = models.Status(status)

	var err error
	if p.BeginHIT, err = parseTime(begin); err != nil {
		return models.Participant{}, err
	}
	if p.EndHIT, err = parseNullTime(end); err != nil {
		return models.Participant{}, err
	}
	return p, nil
}

func affected(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n > 0, nil
}
