package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wallace-lab/wallace/internal/clock"
	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/store"
)

// Epoch is the first timestamp a test store hands out.
var Epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// NewStore opens a store in a temp dir whose clock starts at Epoch and
// advances one second per reading, so every row gets a distinct, stable
// timestamp. The store is closed when the test ends.
func NewStore(t testing.TB) (*store.Store, *clock.Stepping) {
	t.Helper()
	clk := clock.NewStepping(Epoch, time.Second)
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clk
}

// AddParticipant inserts a participant with the given assignment and status.
func AddParticipant(t testing.TB, s *store.Store, id, assignment string, status models.Status) models.Participant {
	t.Helper()
	p, err := s.CreateParticipant(context.Background(), models.Participant{
		UniqueID:     id,
		AssignmentID: assignment,
		WorkerID:     "W-" + id,
		HITID:        "HIT-1",
		Status:       status,
	})
	require.NoError(t, err)
	return p
}

// Status returns a participant's current status.
func Status(t testing.TB, s *store.Store, id string) models.Status {
	t.Helper()
	p, err := s.Participant(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}
