package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wallace-lab/wallace/internal/clock"
	"github.com/wallace-lab/wallace/internal/models"
)

var testEpoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// setupTestStore opens a store in a temp dir driven by a stepping clock.
func setupTestStore(t *testing.T) (*Store, *clock.Stepping) {
	t.Helper()
	clk := clock.NewStepping(testEpoch, time.Second)
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clk
}

func createTestParticipant(t *testing.T, s *Store, id, assignment string, status models.Status) models.Participant {
	t.Helper()
	p, err := s.CreateParticipant(context.Background(), models.Participant{
		UniqueID:     id,
		AssignmentID: assignment,
		WorkerID:     "w-" + id,
		HITID:        "hit-1",
		Status:       status,
	})
	require.NoError(t, err)
	return p
}

func createTestNetwork(t *testing.T, s *Store, maxSize int) models.Network {
	t.Helper()
	n, err := s.CreateNetwork(context.Background(), models.Network{Type: "chain", MaxSize: maxSize})
	require.NoError(t, err)
	return n
}

func createTestNode(t *testing.T, s *Store, networkID int64, typ string) models.Node {
	t.Helper()
	n, err := s.CreateNode(context.Background(), NewNode{Type: typ, NetworkID: networkID})
	require.NoError(t, err)
	return n
}
