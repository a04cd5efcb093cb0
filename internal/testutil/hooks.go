package testutil

import (
	"context"
	"sync"

	"github.com/wallace-lab/wallace/internal/experiment"
	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/store"
)

// Hook names as recorded by RecordingHooks.
const (
	HookAccepted          = "accepted"
	HookAbandoned         = "abandoned"
	HookReturned          = "returned"
	HookSubmitted         = "submitted"
	HookSubmissionTrigger = "submission_trigger"
)

// HookCall is one recorded hook invocation.
type HookCall struct {
	Hook        string `yaml:"hook" json:"hook"`
	Participant string `yaml:"participant" json:"participant"`
	Assignment  string `yaml:"assignment,omitempty" json:"assignment,omitempty"`
}

// RecordingHooks records every hook call, then delegates to Inner when set.
//
// Thread-safety: all methods are safe for concurrent use.
type RecordingHooks struct {
	Inner experiment.Hooks

	mu    sync.Mutex
	calls []HookCall
	fail  map[string]error
}

var _ experiment.Hooks = (*RecordingHooks)(nil)

// NewRecordingHooks creates a recorder around inner, which may be nil.
func NewRecordingHooks(inner experiment.Hooks) *RecordingHooks {
	return &RecordingHooks{Inner: inner, fail: map[string]error{}}
}

// FailNext makes the next call of hook return err. The failed call is
// still recorded.
func (r *RecordingHooks) FailNext(hook string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[hook] = err
}

// Calls returns a copy of the recorded calls in order.
func (r *RecordingHooks) Calls() []HookCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HookCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// Count returns how often hook ran for participant.
func (r *RecordingHooks) Count(hook, participant string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Hook == hook && c.Participant == participant {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls and pending failures.
func (r *RecordingHooks) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.fail = map[string]error{}
}

func (r *RecordingHooks) record(hook string, p models.Participant, assignment string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, HookCall{Hook: hook, Participant: p.UniqueID, Assignment: assignment})
	if err, ok := r.fail[hook]; ok {
		delete(r.fail, hook)
		return err
	}
	return nil
}

func (r *RecordingHooks) Accepted(ctx context.Context, tx *store.Tx, p models.Participant) error {
	if err := r.record(HookAccepted, p, ""); err != nil || r.Inner == nil {
		return err
	}
	return r.Inner.Accepted(ctx, tx, p)
}

func (r *RecordingHooks) Abandoned(ctx context.Context, tx *store.Tx, p models.Participant) error {
	if err := r.record(HookAbandoned, p, ""); err != nil || r.Inner == nil {
		return err
	}
	return r.Inner.Abandoned(ctx, tx, p)
}

func (r *RecordingHooks) Returned(ctx context.Context, tx *store.Tx, p models.Participant) error {
	if err := r.record(HookReturned, p, ""); err != nil || r.Inner == nil {
		return err
	}
	return r.Inner.Returned(ctx, tx, p)
}

func (r *RecordingHooks) Submitted(ctx context.Context, tx *store.Tx, p models.Participant) error {
	if err := r.record(HookSubmitted, p, ""); err != nil || r.Inner == nil {
		return err
	}
	return r.Inner.Submitted(ctx, tx, p)
}

func (r *RecordingHooks) SubmissionTrigger(ctx context.Context, tx *store.Tx, p models.Participant, assignmentID string) error {
	if err := r.record(HookSubmissionTrigger, p, assignmentID); err != nil || r.Inner == nil {
		return err
	}
	return r.Inner.SubmissionTrigger(ctx, tx, p, assignmentID)
}
