package store

import (
	"context"
	"fmt"
	"time"
)

// Effect is a claimed side effect.
type Effect struct {
	Key           string    `json:"key"`
	ParticipantID string    `json:"participant_id"`
	Effect        string    `json:"effect"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"created_at"`
}

// ClaimEffect records that the caller is about to run effect for a
// participant. Uses ON CONFLICT(key) DO NOTHING; reports true only for the
// first claim of key, so the effect runs at most once.
func (h handle) ClaimEffect(ctx context.Context, key, participantID, effect, source string) (bool, error) {
	res, err := h.q.ExecContext(ctx, `
		INSERT INTO side_effects (key, participant_id, effect, source, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, participantID, effect, source, formatTime(h.now()))
	if err != nil {
		return false, fmt.Errorf("claim effect: %w", err)
	}
	return affected(res, "claim effect")
}

// Effects lists the claimed effects of one participant in claim order.
func (h handle) Effects(ctx context.Context, participantID string) ([]Effect, error) {
	rows, err := h.q.QueryContext(ctx, `
		SELECT key, participant_id, effect, source, created_at
		FROM side_effects
		WHERE participant_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, participantID)
	if err != nil {
		return nil, fmt.Errorf("query effects: %w", err)
	}
	defer rows.Close()

	out := []Effect{}
	for rows.Next() {
		var e Effect
		var created string
		if err := rows.Scan(&e.Key, &e.ParticipantID, &e.Effect, &e.Source, &created); err != nil {
			return nil, fmt.Errorf("scan effect: %w", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate effects: %w", err)
	}
	return out, nil
}
