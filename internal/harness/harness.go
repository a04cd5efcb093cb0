package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wallace-lab/wallace/internal/clock"
	"github.com/wallace-lab/wallace/internal/config"
	"github.com/wallace-lab/wallace/internal/dispatch"
	"github.com/wallace-lab/wallace/internal/engine"
	"github.com/wallace-lab/wallace/internal/experiment"
	"github.com/wallace-lab/wallace/internal/httpapi"
	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/queue"
	"github.com/wallace-lab/wallace/internal/store"
	"github.com/wallace-lab/wallace/internal/testutil"
)

// errInjected is returned by a hook armed with fail_hook.
var errInjected = errors.New("injected hook failure")

// Harness drives one scenario against a real store, queue, engine and
// HTTP API. Hooks are the experiment's own, wrapped in a recorder.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	hooks  *testutil.RecordingHooks
	api    http.Handler

	// traced is the number of recorded hook calls already in the trace.
	traced int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database whose clock starts at
// testutil.Epoch and steps one second per reading, and job ids come from a
// sequence, so traces are identical across runs.
//
// An error is returned only when the scenario could not be executed;
// failed expectations and assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	exp := config.Default()
	if scenario.Experiment != "" {
		var err error
		exp, err = config.LoadExperiment(scenario.Experiment)
		if err != nil {
			return nil, fmt.Errorf("load experiment: %w", err)
		}
	}
	reg, err := exp.Registry()
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	st, err := store.Open(":memory:", store.WithClock(clock.NewStepping(testutil.Epoch, time.Second)))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	base := experiment.NewBase(exp.Settings())
	if _, err := base.Setup(ctx, st); err != nil {
		return nil, err
	}

	q := queue.New(st,
		queue.WithIDGenerator(queue.NewSequenceGenerator("job")),
		queue.WithConfig(queue.Config{MaxAttempts: scenario.MaxAttempts}),
	)
	defer q.Close()

	hooks := testutil.NewRecordingHooks(base)
	eng := engine.New(st, q, hooks)
	disp := dispatch.New(st, reg, base, dispatch.WithDuplicateDetector(eng))

	h := &Harness{
		store:  st,
		engine: eng,
		hooks:  hooks,
		api:    httpapi.NewServer(st, disp, q, eng),
	}

	if err := h.setup(ctx, scenario.Participants); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.step(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.action(), err)
		}
		h.traceHooks(i, result)
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// setup inserts the scenario's participants in declaration order.
func (h *Harness) setup(ctx context.Context, participants []ParticipantSetup) error {
	for _, ps := range participants {
		worker := ps.Worker
		if worker == "" {
			worker = "W-" + ps.ID
		}
		p := models.Participant{
			UniqueID:     ps.ID,
			AssignmentID: ps.Assignment,
			WorkerID:     worker,
			HITID:        "HIT-1",
			Status:       models.Status(ps.Status),
		}
		if ps.Ended {
			end := h.store.Now()
			p.EndHIT = &end
		}
		if _, err := h.store.CreateParticipant(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) step(ctx context.Context, i int, step Step, result *Result) error {
	switch step.action() {
	case "request":
		return h.request(ctx, i, step.Request, result)
	case "notify":
		return h.notify(ctx, i, step.Notify, result)
	case "drain":
		n, err := h.engine.Drain(ctx)
		if err != nil {
			return err
		}
		result.Add(TraceEvent{Type: EventDrain, Step: i, Count: n})
	case "nudge":
		return h.nudge(ctx, i, result)
	case "replay":
		return h.replay(ctx, i, result)
	case "fail_hook":
		h.hooks.FailNext(step.FailHook, errInjected)
		result.Add(TraceEvent{Type: EventFailHook, Step: i, Hook: step.FailHook})
	default:
		return fmt.Errorf("step sets no single action")
	}
	return nil
}

func (h *Harness) request(ctx context.Context, i int, rs *RequestStep, result *Result) error {
	form := url.Values{}
	for k, v := range rs.Params {
		form.Set(k, v)
	}
	code, body, err := h.serve(ctx, rs.Method, rs.Path, form)
	if err != nil {
		return err
	}

	ev := TraceEvent{Type: EventRequest, Step: i, Method: rs.Method, Path: rs.Path, Code: code}
	if err := describe(&ev, body); err != nil {
		return err
	}
	result.Add(ev)

	if rs.Expect != nil {
		checkExpect(i, rs.Expect, ev, result)
	}
	return nil
}

func (h *Harness) notify(ctx context.Context, i int, events []NotifyEvent, result *Result) error {
	form := url.Values{}
	for n, ev := range events {
		prefix := "Event." + strconv.Itoa(n+1) + "."
		form.Set(prefix+"EventType", ev.Event)
		form.Set(prefix+"AssignmentId", ev.Assignment)
	}
	code, body, err := h.serve(ctx, http.MethodPost, "/notifications", form)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("notification batch rejected with %d: %s", code, body)
	}
	for _, ev := range events {
		result.Add(TraceEvent{Type: EventNotify, Step: i, Event: ev.Event, Assignment: ev.Assignment, Code: code})
	}
	return nil
}

func (h *Harness) nudge(ctx context.Context, i int, result *Result) error {
	code, body, err := h.serve(ctx, http.MethodPost, "/nudge", url.Values{})
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("nudge failed with %d: %s", code, body)
	}
	var resp struct {
		Nudged engine.NudgeReport `json:"nudged"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode nudge response: %w", err)
	}
	result.Add(TraceEvent{
		Type:      EventNudge,
		Step:      i,
		Hung:      resp.Nudged.Hung,
		EndedHit:  resp.Nudged.EndedHit,
		Triggered: resp.Nudged.Triggered,
		Failed:    resp.Nudged.Failed,
	})
	return nil
}

// replay requeues every finished and dead job in enqueue order.
func (h *Harness) replay(ctx context.Context, i int, result *Result) error {
	n := 0
	for _, state := range []store.JobState{store.JobDone, store.JobDead} {
		jobs, err := h.store.Jobs(ctx, state, 0)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			ok, err := h.engine.Replay(ctx, j.ID)
			if err != nil {
				return err
			}
			if ok {
				n++
			}
		}
	}
	result.Add(TraceEvent{Type: EventReplay, Step: i, Count: n})
	return nil
}

// serve sends one request through the API handler. GET parameters travel
// in the query string, POST parameters as a form body.
func (h *Harness) serve(ctx context.Context, method, path string, form url.Values) (int, []byte, error) {
	var req *http.Request
	var err error
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, path, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		target := path
		if len(form) > 0 {
			target += "?" + form.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}

	rec := httptest.NewRecorder()
	h.api.ServeHTTP(rec, req)
	return rec.Code, rec.Body.Bytes(), nil
}

// traceHooks appends hook calls recorded since the last step.
func (h *Harness) traceHooks(i int, result *Result) {
	calls := h.hooks.Calls()
	for _, c := range calls[h.traced:] {
		result.Add(TraceEvent{
			Type:        EventHook,
			Step:        i,
			Hook:        c.Hook,
			Participant: c.Participant,
			Assignment:  c.Assignment,
		})
	}
	h.traced = len(calls)
}

// describe copies the interesting parts of a JSON response into ev: the
// status, the error type, and the result key with the entity id, the list
// length or the scalar value found under it.
func describe(ev *TraceEvent, body []byte) error {
	if len(body) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return fmt.Errorf("decode response %q: %w", body, err)
	}

	ev.Status, _ = m["status"].(string)
	ev.ErrorType, _ = m["error_type"].(string)

	var keys []string
	for k := range m {
		if k != "status" && k != "error_type" && k != "message" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	ev.Key = keys[0]

	switch v := m[ev.Key].(type) {
	case map[string]any:
		if id, ok := v["id"].(json.Number); ok {
			ev.EntityID, _ = id.Int64()
		}
	case []any:
		ev.Count = len(v)
	case nil:
	default:
		ev.Value = fmt.Sprint(v)
	}
	return nil
}

func checkExpect(i int, want *ExpectClause, got TraceEvent, result *Result) {
	if want.Code != 0 && want.Code != got.Code {
		result.AddError(fmt.Sprintf("step %d: %s %s: expected code %d, got %d", i, got.Method, got.Path, want.Code, got.Code))
	}
	if want.Status != "" && want.Status != got.Status {
		result.AddError(fmt.Sprintf("step %d: %s %s: expected status %q, got %q", i, got.Method, got.Path, want.Status, got.Status))
	}
	if want.ErrorType != "" && want.ErrorType != got.ErrorType {
		result.AddError(fmt.Sprintf("step %d: %s %s: expected error_type %q, got %q", i, got.Method, got.Path, want.ErrorType, got.ErrorType))
	}
}
