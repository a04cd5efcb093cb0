package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallace-lab/wallace/internal/models"
)

func TestNetworks_FilterAndFull(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	n1 := createTestNetwork(t, s, 2)
	createTestNetwork(t, s, 3)

	require.NoError(t, s.SetNetworkFull(ctx, n1.ID, true))

	notFull := false
	open, err := s.Networks(ctx, NetworkFilter{Full: &notFull})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 3, open[0].MaxSize)
	assert.Equal(t, "default", open[0].Role)
}

func TestCreateNode_RequiresNetwork(t *testing.T) {
	s, _ := setupTestStore(t)
	_, err := s.CreateNode(context.Background(), NewNode{Type: "agent", NetworkID: 99})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateNode_Properties(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	net := createTestNetwork(t, s, 2)
	pid := "p1"
	prop := "x"

	n, err := s.CreateNode(ctx, NewNode{
		Type:          "agent",
		NetworkID:     net.ID,
		ParticipantID: &pid,
		Properties:    models.Properties{Property3: &prop},
	})
	require.NoError(t, err)
	assert.Positive(t, n.ID)
	require.NotNil(t, n.ParticipantID)
	assert.Equal(t, "p1", *n.ParticipantID)
	require.NotNil(t, n.Property3)
	assert.Equal(t, "x", *n.Property3)
	assert.Nil(t, n.Property1)
	assert.False(t, n.Failed)
}

func TestNodes_TypeAndFailedFilters(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	net := createTestNetwork(t, s, 5)
	a := createTestNode(t, s, net.ID, "agent")
	src := createTestNode(t, s, net.ID, "source")
	dead := createTestNode(t, s, net.ID, "agent")
	require.NoError(t, s.FailNode(ctx, dead.ID))

	agents, err := s.Nodes(ctx, NodeFilter{NetworkID: net.ID, Types: []string{"agent"}})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, a.ID, agents[0].ID)

	all, err := s.Nodes(ctx, NodeFilter{NetworkID: net.ID, Failed: models.FailedAll})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	failed, err := s.Nodes(ctx, NodeFilter{Failed: models.FailedOnly})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, dead.ID, failed[0].ID)
	assert.NotNil(t, failed[0].TimeOfDeath)

	mixed, err := s.Nodes(ctx, NodeFilter{Types: []string{"agent", "source"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, src.ID}, nodeIDs(mixed))
}

func TestVectors_Direction(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	net := createTestNetwork(t, s, 5)
	a := createTestNode(t, s, net.ID, "agent")
	b := createTestNode(t, s, net.ID, "agent")
	c := createTestNode(t, s, net.ID, "agent")

	ab, err := s.CreateVector(ctx, a.ID, b.ID)
	require.NoError(t, err)
	cb, err := s.CreateVector(ctx, c.ID, b.ID)
	require.NoError(t, err)
	ba, err := s.CreateVector(ctx, b.ID, a.ID)
	require.NoError(t, err)

	to, err := s.Vectors(ctx, b.ID, models.DirectionTo, models.FailedExclude)
	require.NoError(t, err)
	assert.Equal(t, []int64{ab.ID, cb.ID}, vectorIDs(to))
	for _, v := range to {
		assert.Equal(t, b.ID, v.DestinationID)
	}

	from, err := s.Vectors(ctx, b.ID, models.DirectionFrom, models.FailedExclude)
	require.NoError(t, err)
	assert.Equal(t, []int64{ba.ID}, vectorIDs(from))

	all, err := s.Vectors(ctx, b.ID, models.DirectionAll, models.FailedExclude)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.FailVector(ctx, cb.ID))
	to, err = s.Vectors(ctx, b.ID, models.DirectionTo, models.FailedExclude)
	require.NoError(t, err)
	assert.Equal(t, []int64{ab.ID}, vectorIDs(to))

	failed, err := s.Vectors(ctx, b.ID, models.DirectionTo, models.FailedOnly)
	require.NoError(t, err)
	assert.Equal(t, []int64{cb.ID}, vectorIDs(failed))

	_, err = s.Vectors(ctx, b.ID, "sideways", models.FailedExclude)
	assert.Error(t, err)
}

func TestCreateVector_Validation(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	n1 := createTestNetwork(t, s, 5)
	n2 := createTestNetwork(t, s, 5)
	a := createTestNode(t, s, n1.ID, "agent")
	b := createTestNode(t, s, n2.ID, "agent")

	_, err := s.CreateVector(ctx, a.ID, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.CreateVector(ctx, a.ID, b.ID)
	assert.ErrorIs(t, err, ErrCrossNetwork)
}

func TestNeighboursAndConnected(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	net := createTestNetwork(t, s, 5)
	a := createTestNode(t, s, net.ID, "agent")
	b := createTestNode(t, s, net.ID, "agent")
	c := createTestNode(t, s, net.ID, "source")

	_, err := s.CreateVector(ctx, a.ID, b.ID)
	require.NoError(t, err)
	_, err = s.CreateVector(ctx, c.ID, a.ID)
	require.NoError(t, err)

	to, err := s.Neighbours(ctx, a.ID, models.DirectionTo, nil, models.FailedExclude)
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID}, nodeIDs(to))

	from, err := s.Neighbours(ctx, a.ID, models.DirectionFrom, nil, models.FailedExclude)
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ID}, nodeIDs(from))

	all, err := s.Neighbours(ctx, a.ID, models.DirectionAll, []string{"agent"}, models.FailedExclude)
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID}, nodeIDs(all))

	ok, err := s.Connected(ctx, a.ID, b.ID, models.DirectionTo, models.FailedExclude)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Connected(ctx, a.ID, b.ID, models.DirectionFrom, models.FailedExclude)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Connected(ctx, a.ID, b.ID, models.DirectionAll, models.FailedExclude)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Connected(ctx, a.ID, b.ID, models.DirectionBoth, models.FailedExclude)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailNode_FailsVectors(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	net := createTestNetwork(t, s, 5)
	a := createTestNode(t, s, net.ID, "agent")
	b := createTestNode(t, s, net.ID, "agent")
	v, err := s.CreateVector(ctx, a.ID, b.ID)
	require.NoError(t, err)

	require.NoError(t, s.FailNode(ctx, b.ID))

	got, err := s.Vector(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, got.Failed)

	neighbours, err := s.Neighbours(ctx, a.ID, models.DirectionTo, nil, models.FailedExclude)
	require.NoError(t, err)
	assert.Empty(t, neighbours)
}

func nodeIDs(ns []models.Node) []int64 {
	out := make([]int64, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

func vectorIDs(vs []models.Vector) []int64 {
	out := make([]int64, len(vs))
	for i, v := range vs {
		out[i] = v.ID
	}
	return out
}
