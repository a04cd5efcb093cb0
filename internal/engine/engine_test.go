package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallace-lab/wallace/internal/clock"
	"github.com/wallace-lab/wallace/internal/ident"
	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/queue"
	"github.com/wallace-lab/wallace/internal/store"
	"github.com/wallace-lab/wallace/internal/testutil"
)

type fixture struct {
	store  *store.Store
	clock  *clock.Stepping
	queue  *queue.Queue
	hooks  *testutil.RecordingHooks
	engine *Engine
}

func setup(t *testing.T, qopts ...queue.Option) *fixture {
	t.Helper()
	s, clk := testutil.NewStore(t)
	opts := append([]queue.Option{queue.WithIDGenerator(queue.NewSequenceGenerator("job"))}, qopts...)
	q := queue.New(s, opts...)
	t.Cleanup(q.Close)
	hooks := testutil.NewRecordingHooks(nil)
	return &fixture{
		store:  s,
		clock:  clk,
		queue:  q,
		hooks:  hooks,
		engine: New(s, q, hooks, WithPollInterval(10*time.Millisecond)),
	}
}

func assignmentJob(id string, event models.EventType, assignment string) queue.Job {
	j := queue.ForAssignment(event, assignment)
	j.ID = id
	return j
}

func (f *fixture) notifications(t *testing.T, assignment string) []models.Notification {
	t.Helper()
	ns, err := f.store.Notifications(context.Background(), assignment)
	require.NoError(t, err)
	return ns
}

func TestProcess_SubmittedCompletesParticipant(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.AddParticipant(t, f.store, "p1", "A1", models.StatusStarted)

	require.NoError(t, f.engine.Process(ctx, assignmentJob("job-1", models.EventSubmitted, "A1")))

	assert.Equal(t, models.StatusComplete, testutil.Status(t, f.store, "p1"))
	assert.Equal(t, []testutil.HookCall{
		{Hook: testutil.HookSubmitted, Participant: "p1"},
		{Hook: testutil.HookSubmissionTrigger, Participant: "p1", Assignment: "A1"},
	}, f.hooks.Calls())
	assert.Len(t, f.notifications(t, "A1"), 1)
}

func TestProcess_ReplayIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.AddParticipant(t, f.store, "p1", "A1", models.StatusStarted)
	job := assignmentJob("job-1", models.EventSubmitted, "A1")

	require.NoError(t, f.engine.Process(ctx, job))
	once := testutil.Status(t, f.store, "p1")
	require.NoError(t, f.engine.Process(ctx, job))

	assert.Equal(t, once, testutil.Status(t, f.store, "p1"))
	assert.Equal(t, 1, f.hooks.Count(testutil.HookSubmitted, "p1"))
	assert.Equal(t, 1, f.hooks.Count(testutil.HookSubmissionTrigger, "p1"))
	assert.Len(t, f.notifications(t, "A1"), 1, "replayed job appends no second notification")
}

func TestProcess_TerminalStatusNeverReverts(t *testing.T) {
	terminal := []models.Status{
		models.StatusComplete, models.StatusApproved, models.StatusBonused,
		models.StatusReturned, models.StatusAbandoned, models.StatusRecruiterSubmitted,
		models.StatusReassigned,
	}
	events := []models.EventType{models.EventAbandoned, models.EventReturned, models.EventSubmitted, models.EventAccepted}

	for _, status := range terminal {
		t.Run(status.String(), func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			testutil.AddParticipant(t, f.store, "p1", "A1", status)

			for i, ev := range events {
				require.NoError(t, f.engine.Process(ctx, assignmentJob("job-"+string(rune('a'+i)), ev, "A1")))
				assert.Equal(t, status, testutil.Status(t, f.store, "p1"), "after %s", ev)
			}
			assert.Zero(t, f.hooks.Count(testutil.HookAbandoned, "p1"))
			assert.Zero(t, f.hooks.Count(testutil.HookReturned, "p1"))
			assert.Zero(t, f.hooks.Count(testutil.HookSubmitted, "p1"))
		})
	}
}

func TestProcess_GuardedTransitions(t *testing.T) {
	tests := []struct {
		event models.EventType
		want  models.Status
		hook  string
	}{
		{models.EventAbandoned, models.StatusAbandoned, testutil.HookAbandoned},
		{models.EventReturned, models.StatusReturned, testutil.HookReturned},
		{models.EventSubmitted, models.StatusComplete, testutil.HookSubmitted},
	}
	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			f := setup(t)
			testutil.AddParticipant(t, f.store, "p1", "A1", models.StatusCompleted)

			require.NoError(t, f.engine.Process(context.Background(), assignmentJob("job-1", tt.event, "A1")))

			assert.Equal(t, tt.want, testutil.Status(t, f.store, "p1"))
			assert.Equal(t, 1, f.hooks.Count(tt.hook, "p1"))
		})
	}
}

func TestProcess_UnmatchedAssignmentOnlyLogs(t *testing.T) {
	f := setup(t)
	testutil.AddParticipant(t, f.store, "p1", "A1", models.StatusStarted)

	require.NoError(t, f.engine.Process(context.Background(), assignmentJob("job-1", models.EventSubmitted, "A123")))

	assert.Equal(t, models.StatusStarted, testutil.Status(t, f.store, "p1"))
	assert.Empty(t, f.hooks.Calls())
	got := f.notifications(t, "A123")
	require.Len(t, got, 1)
	assert.Equal(t, models.EventSubmitted, got[0].EventType)
}

func TestProcess_AmbiguousAssignmentPicksLatest(t *testing.T) {
	f := setup(t)
	testutil.AddParticipant(t, f.store, "old", "A1", models.StatusStarted)
	testutil.AddParticipant(t, f.store, "new", "A1", models.StatusStarted)

	require.NoError(t, f.engine.Process(context.Background(), assignmentJob("job-1", models.EventAbandoned, "A1")))

	assert.Equal(t, models.StatusStarted, testutil.Status(t, f.store, "old"))
	assert.Equal(t, models.StatusAbandoned, testutil.Status(t, f.store, "new"))
}

func TestProcess_AcceptedRunsHookWithoutStatusChange(t *testing.T) {
	f := setup(t)
	testutil.AddParticipant(t, f.store, "p1", "A1", models.StatusAllocated)

	require.NoError(t, f.engine.Process(context.Background(), assignmentJob("job-1", models.EventAccepted, "A1")))

	assert.Equal(t, models.StatusAllocated, testutil.Status(t, f.store, "p1"))
	assert.Equal(t, 1, f.hooks.Count(testutil.HookAccepted, "p1"))
}

func TestProcess_UnknownEventIsLoggedNotApplied(t *testing.T) {
	f := setup(t)
	testutil.AddParticipant(t, f.store, "p1", "A1", models.StatusStarted)

	job := assignmentJob("job-1", models.EventType("AssignmentRejected"), "A1")
	require.NoError(t, f.engine.Process(context.Background(), job))

	assert.Equal(t, models.StatusStarted, testutil.Status(t, f.store, "p1"))
	assert.Empty(t, f.hooks.Calls())
	assert.Len(t, f.notifications(t, "A1"), 1)
}

func TestProcess_ParticipantAddressedJob(t *testing.T) {
	f := setup(t)
	testutil.AddParticipant(t, f.store, "p1", "A1", models.StatusStarted)

	job := queue.ForParticipant(models.EventAbandoned, "p1")
	job.ID = "job-1"
	require.NoError(t, f.engine.Process(context.Background(), job))

	assert.Equal(t, models.StatusAbandoned, testutil.Status(t, f.store, "p1"))
	assert.Empty(t, f.notifications(t, ""), "no assignment id, nothing to log")

	ghost := queue.ForParticipant(models.EventAbandoned, "ghost")
	ghost.ID = "job-2"
	assert.NoError(t, f.engine.Process(context.Background(), ghost))
}

func TestProcess_HookFailureRollsBack(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.AddParticipant(t, f.store, "p1", "A1", models.StatusStarted)
	job := assignmentJob("job-1", models.EventSubmitted, "A1")

	f.hooks.FailNext(testutil.HookSubmissionTrigger, errors.New("recruiter offline"))
	err := f.engine.Process(ctx, job)
	require.Error(t, err)
	assert.True(t, IsHookError(err))

	assert.Equal(t, models.StatusStarted, testutil.Status(t, f.store, "p1"))
	assert.Len(t, f.notifications(t, "A1"), 1, "the event is logged even though reconciliation failed")
	effects, err := f.store.Effects(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, effects)

	require.NoError(t, f.engine.Process(ctx, job))
	assert.Equal(t, models.StatusComplete, testutil.Status(t, f.store, "p1"))
	assert.Equal(t, 2, f.hooks.Count(testutil.HookSubmissionTrigger, "p1"), "failed attempt plus the retry")

	effects, err = f.store.Effects(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, effects, 2)
	assert.Len(t, f.notifications(t, "A1"), 1, "the retry appends nothing")
}

func TestProcess_HookPanicBecomesHookError(t *testing.T) {
	f := setup(t)
	testutil.AddParticipant(t, f.store, "p1", "A1", models.StatusStarted)
	f.engine.hooks = panicHooks{f.hooks}

	err := f.engine.Process(context.Background(), assignmentJob("job-1", models.EventReturned, "A1"))
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, effectReturned, he.Effect)
	assert.Equal(t, models.StatusStarted, testutil.Status(t, f.store, "p1"))
}

type panicHooks struct {
	*testutil.RecordingHooks
}

func (panicHooks) Returned(context.Context, *store.Tx, models.Participant) error {
	panic("returned hook bug")
}

func TestDrain_AcksAndNacks(t *testing.T) {
	f := setup(t, queue.WithConfig(queue.Config{MaxAttempts: 2, Backoff: 30 * time.Second}))
	ctx := context.Background()
	testutil.AddParticipant(t, f.store, "p1", "A1", models.StatusStarted)
	testutil.AddParticipant(t, f.store, "p2", "A2", models.StatusStarted)

	ok1, err := f.queue.Enqueue(ctx, queue.ForAssignment(models.EventSubmitted, "A1"))
	require.NoError(t, err)
	ok2, err := f.queue.Enqueue(ctx, queue.ForAssignment(models.EventReturned, "A2"))
	require.NoError(t, err)

	f.hooks.FailNext(testutil.HookReturned, errors.New("flaky"))
	n, err := f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the failed job waits out its backoff")

	j1, err := f.store.Job(ctx, ok1.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobDone, j1.State)

	j2, err := f.store.Job(ctx, ok2.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobPending, j2.State)
	assert.Equal(t, 1, j2.Attempts)
	require.NotNil(t, j2.LastError)
	assert.Contains(t, *j2.LastError, "flaky")
	assert.Equal(t, models.StatusStarted, testutil.Status(t, f.store, "p2"))

	n, err = f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "not redelivered before the backoff elapses")

	f.clock.Advance(time.Minute)
	n, err = f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	j2, err = f.store.Job(ctx, ok2.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobDone, j2.State)
	assert.Equal(t, 2, j2.Attempts)
	assert.Equal(t, models.StatusReturned, testutil.Status(t, f.store, "p2"))
}

func TestDrain_ExhaustedJobIsDead(t *testing.T) {
	f := setup(t, queue.WithConfig(queue.Config{MaxAttempts: 1}))
	ctx := context.Background()
	testutil.AddParticipant(t, f.store, "p1", "A1", models.StatusStarted)

	job, err := f.queue.Enqueue(ctx, queue.ForAssignment(models.EventAbandoned, "A1"))
	require.NoError(t, err)
	f.hooks.FailNext(testutil.HookAbandoned, errors.New("broken"))

	n, err := f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobDead, got.State)
	assert.Equal(t, models.StatusStarted, testutil.Status(t, f.store, "p1"))

	ok, err := f.engine.Replay(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err = f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.StatusAbandoned, testutil.Status(t, f.store, "p1"))
}

func TestDrain_DeadJobKeepsNotification(t *testing.T) {
	f := setup(t, queue.WithConfig(queue.Config{MaxAttempts: 1}))
	ctx := context.Background()
	testutil.AddParticipant(t, f.store, "p1", "A1", models.StatusStarted)

	job, err := f.queue.Enqueue(ctx, queue.ForAssignment(models.EventSubmitted, "A1"))
	require.NoError(t, err)
	f.hooks.FailNext(testutil.HookSubmitted, errors.New("recruiter offline"))

	_, err = f.engine.Drain(ctx)
	require.NoError(t, err)

	got, err := f.store.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobDead, got.State)
	assert.Equal(t, models.StatusStarted, testutil.Status(t, f.store, "p1"))

	notes := f.notifications(t, "A1")
	require.Len(t, notes, 1)
	assert.Equal(t, job.ID, notes[0].JobID)
	assert.Equal(t, models.EventSubmitted, notes[0].EventType)
}

func TestReplay_DoneJobChangesNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.AddParticipant(t, f.store, "p1", "A1", models.StatusStarted)

	job, err := f.queue.Enqueue(ctx, queue.ForAssignment(models.EventSubmitted, "A1"))
	require.NoError(t, err)
	_, err = f.engine.Drain(ctx)
	require.NoError(t, err)

	ok, err := f.engine.Replay(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.engine.Drain(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, f.hooks.Count(testutil.HookSubmissionTrigger, "p1"))
	assert.Len(t, f.notifications(t, "A1"), 1)

	ok, err = f.engine.Replay(ctx, "job-missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDetectDuplicates_AbandonsOtherHolders(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.AddParticipant(t, f.store, "first", "A1", models.StatusStarted)
	testutil.AddParticipant(t, f.store, "done", "A1", models.StatusComplete)
	current := testutil.AddParticipant(t, f.store, "second", "A1", models.StatusStarted)
	testutil.AddParticipant(t, f.store, "elsewhere", "A2", models.StatusStarted)

	n, err := f.engine.DetectDuplicates(ctx, current)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.engine.Drain(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.StatusAbandoned, testutil.Status(t, f.store, "first"))
	assert.Equal(t, models.StatusComplete, testutil.Status(t, f.store, "done"))
	assert.Equal(t, models.StatusStarted, testutil.Status(t, f.store, "second"))
	assert.Equal(t, models.StatusStarted, testutil.Status(t, f.store, "elsewhere"))
	assert.Equal(t, 1, f.hooks.Count(testutil.HookAbandoned, "first"))
}

func TestDetectDuplicates_NoAssignment(t *testing.T) {
	f := setup(t)
	n, err := f.engine.DetectDuplicates(context.Background(), models.Participant{UniqueID: "p1"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNudge_HungParticipantTriggeredOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.AddParticipant(t, f.store, "hung", "A1", models.StatusSubmitted)

	report, err := f.engine.Nudge(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hung"}, report.Hung)
	assert.Equal(t, []string{"hung"}, report.Triggered)

	report, err = f.engine.Nudge(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Hung)
	assert.Empty(t, report.Triggered)

	assert.Equal(t, models.StatusComplete, testutil.Status(t, f.store, "hung"))
	assert.Equal(t, 1, f.hooks.Count(testutil.HookSubmissionTrigger, "hung"))

	// The late webhook finds a terminal participant.
	require.NoError(t, f.engine.Process(ctx, assignmentJob("job-late", models.EventSubmitted, "A1")))
	assert.Equal(t, 1, f.hooks.Count(testutil.HookSubmissionTrigger, "hung"))
	assert.Zero(t, f.hooks.Count(testutil.HookSubmitted, "hung"))
}

func TestNudge_EndedHit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.AddParticipant(t, f.store, "ended", "A1", models.StatusStarted)
	testutil.AddParticipant(t, f.store, "triggered", "A2", models.StatusStarted)
	testutil.AddParticipant(t, f.store, "no-end", "A3", models.StatusCompleted)
	for _, id := range []string{"ended", "triggered"} {
		ok, err := f.store.MarkCompleted(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, err := f.store.ClaimEffect(ctx, ident.MustEffectKey("triggered", effectSubmission), "triggered", effectSubmission, "job-earlier")
	require.NoError(t, err)

	report, err := f.engine.Nudge(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ended", "triggered"}, report.EndedHit)
	assert.Equal(t, []string{"ended"}, report.Triggered)

	assert.Equal(t, models.StatusComplete, testutil.Status(t, f.store, "ended"))
	assert.Equal(t, models.StatusComplete, testutil.Status(t, f.store, "triggered"))
	assert.Equal(t, models.StatusCompleted, testutil.Status(t, f.store, "no-end"))
	assert.Zero(t, f.hooks.Count(testutil.HookSubmissionTrigger, "triggered"))
}

func TestNudge_FailureDoesNotBlockSweep(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.AddParticipant(t, f.store, "h1", "A1", models.StatusSubmitted)
	testutil.AddParticipant(t, f.store, "h2", "A2", models.StatusSubmitted)
	f.hooks.FailNext(testutil.HookSubmissionTrigger, errors.New("recruiter down"))

	report, err := f.engine.Nudge(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, report.Failed)
	assert.Equal(t, []string{"h2"}, report.Hung)
	assert.Equal(t, []string{"h2"}, report.Triggered)
	assert.Equal(t, models.StatusSubmitted, testutil.Status(t, f.store, "h1"))
	assert.Equal(t, models.StatusComplete, testutil.Status(t, f.store, "h2"))

	report, err = f.engine.Nudge(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Failed)
	assert.Equal(t, []string{"h1"}, report.Hung)
	assert.Equal(t, models.StatusComplete, testutil.Status(t, f.store, "h1"))
	assert.Equal(t, 2, f.hooks.Count(testutil.HookSubmissionTrigger, "h1"), "failed attempt plus the retry")
	assert.Equal(t, 1, f.hooks.Count(testutil.HookSubmissionTrigger, "h2"))
}

func TestRun_ProcessesUntilCancelled(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	testutil.AddParticipant(t, f.store, "p1", "A1", models.StatusStarted)

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	_, err := f.queue.Enqueue(context.Background(), queue.ForAssignment(models.EventSubmitted, "A1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return testutil.Status(t, f.store, "p1") == models.StatusComplete
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_StopsWhenQueueCloses(t *testing.T) {
	f := setup(t)

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(context.Background()) }()
	f.queue.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
