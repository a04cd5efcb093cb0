package store

import (
	"context"
	"fmt"

	"github.com/wallace-lab/wallace/internal/models"
)

// AppendNotification logs a received platform event. Uses ON CONFLICT DO
// NOTHING on job_id so a replayed job never appends twice; reports whether a
// record was written.
func (h handle) AppendNotification(ctx context.Context, jobID, assignmentID string, event models.EventType) (bool, error) {
	res, err := h.q.ExecContext(ctx, `
		INSERT INTO notifications (job_id, assignment_id, event_type, creation_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(job_id) DO NOTHING
	`, jobID, assignmentID, string(event), formatTime(h.now()))
	if err != nil {
		return false, fmt.Errorf("append notification: %w", err)
	}
	return affected(res, "append notification")
}

// Notifications returns the log for one assignment in arrival order. An
// empty assignmentID returns the whole log.
func (h handle) Notifications(ctx context.Context, assignmentID string) ([]models.Notification, error) {
	query := `SELECT id, job_id, assignment_id, event_type, creation_time FROM notifications`
	var args []any
	if assignmentID != "" {
		query += ` WHERE assignment_id = ?`
		args = append(args, assignmentID)
	}
	query += ` ORDER BY id ASC`

	rows, err := h.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		var event, created string
		if err := rows.Scan(&n.ID, &n.JobID, &n.AssignmentID, &event, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.EventType = models.EventType(event)
		if n.CreationTime, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}
