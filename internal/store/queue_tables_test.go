package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallace-lab/wallace/internal/models"
)

func strPtr(s string) *string { return &s }

func TestAppendNotification_IdempotentPerJob(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	wrote, err := s.AppendNotification(ctx, "job-1", "A123", models.EventSubmitted)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = s.AppendNotification(ctx, "job-1", "A123", models.EventSubmitted)
	require.NoError(t, err)
	assert.False(t, wrote)

	_, err = s.AppendNotification(ctx, "job-2", "A123", models.EventReturned)
	require.NoError(t, err)

	log, err := s.Notifications(ctx, "A123")
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, models.EventSubmitted, log[0].EventType)
	assert.Equal(t, models.EventReturned, log[1].EventType)

	all, err := s.Notifications(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestJobs_ClaimAckNack(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertJob(ctx, Job{ID: "j1", EventType: models.EventSubmitted, AssignmentID: strPtr("A1")}))
	require.NoError(t, s.InsertJob(ctx, Job{ID: "j2", EventType: models.EventAbandoned, ParticipantID: strPtr("p2")}))
	// Duplicate ids are ignored.
	require.NoError(t, s.InsertJob(ctx, Job{ID: "j1", EventType: models.EventReturned}))

	j, ok, err := s.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "j1", j.ID)
	assert.Equal(t, models.EventSubmitted, j.EventType)
	assert.Equal(t, JobLeased, j.State)
	assert.Equal(t, 1, j.Attempts)
	require.NotNil(t, j.AssignmentID)
	assert.Nil(t, j.ParticipantID)

	require.NoError(t, s.AckJob(ctx, "j1"))

	j, ok, err = s.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "j2", j.ID)

	state, err := s.NackJob(ctx, "j2", "boom", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, JobPending, state)

	j, ok, err = s.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, j.Attempts)
	require.NotNil(t, j.LastError)
	assert.Equal(t, "boom", *j.LastError)

	state, err = s.NackJob(ctx, "j2", "boom again", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, JobDead, state)

	_, ok, err = s.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	counts, err := s.CountJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[JobState]int{JobPending: 0, JobLeased: 0, JobDone: 1, JobDead: 1}, counts)

	dead, err := s.Jobs(ctx, JobDead, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "j2", dead[0].ID)
}

func TestJobs_ExpiredLeaseRedelivered(t *testing.T) {
	s, clk := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertJob(ctx, Job{ID: "j1", EventType: models.EventAccepted}))

	_, ok, err := s.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Still leased.
	_, ok, err = s.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	clk.Advance(2 * time.Minute)

	j, ok, err := s.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "j1", j.ID)
	assert.Equal(t, 2, j.Attempts)
}

func TestJobs_NackedJobWaitsForRetryTime(t *testing.T) {
	s, clk := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertJob(ctx, Job{ID: "j1", EventType: models.EventReturned, AssignmentID: strPtr("A1")}))
	require.NoError(t, s.InsertJob(ctx, Job{ID: "j2", EventType: models.EventAccepted, AssignmentID: strPtr("A2")}))

	j, ok, err := s.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "j1", j.ID)

	state, err := s.NackJob(ctx, "j1", "boom", 5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, JobPending, state)

	j, err = s.Job(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, j.LeaseUntil, "retry time recorded")

	// The waiting job does not hold up the one behind it.
	j, ok, err = s.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "j2", j.ID)
	require.NoError(t, s.AckJob(ctx, "j2"))

	_, ok, err = s.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	clk.Advance(2 * time.Minute)
	j, ok, err = s.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "j1", j.ID)
	assert.Equal(t, 2, j.Attempts)
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		base     time.Duration
		attempts int
		want     time.Duration
	}{
		{0, 3, 0},
		{time.Second, 1, time.Second},
		{time.Second, 2, 2 * time.Second},
		{time.Second, 4, 8 * time.Second},
		{time.Minute, 5, MaxRetryDelay},
		{time.Second, 64, MaxRetryDelay},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryDelay(tt.base, tt.attempts), "base=%s attempts=%d", tt.base, tt.attempts)
	}
}

func TestClaimEffect_OncePerKey(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	owned, err := s.ClaimEffect(ctx, "k1", "p1", "submission_trigger", "nudge")
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = s.ClaimEffect(ctx, "k1", "p1", "submission_trigger", "notification")
	require.NoError(t, err)
	assert.False(t, owned)

	effects, err := s.Effects(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, effects, 1)
	assert.Equal(t, "nudge", effects[0].Source)
}
