package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/store"
)

// AssertionContext carries what state assertions need.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nHook trace:\n")
		for i, event := range e.Trace {
			if event.Type == EventHook {
				fmt.Fprintf(&buf, "  [%d] step %d %s %s\n", i+1, event.Step, event.Hook, event.Participant)
			}
		}
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion and returns one message per
// failure. An assertion that cannot be evaluated also counts as a failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertHookCount:
		return assertHookCount(result.Trace, a)
	case AssertHookOrder:
		return assertHookOrder(result.Trace, a)
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertParticipantStatus:
		return assertParticipantStatus(actx, a)
	case AssertNotificationCount:
		return assertNotificationCount(actx, a)
	case AssertJobCount:
		return assertJobCount(actx, a)
	case AssertNodeCount:
		return assertNodeCount(actx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertHookCount checks how often a hook ran, optionally for one
// participant.
func assertHookCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, e := range trace {
		if e.Type == EventHook && e.Hook == a.Hook && (a.Participant == "" || e.Participant == a.Participant) {
			count++
		}
	}
	if count != a.Count {
		who := "any participant"
		if a.Participant != "" {
			who = a.Participant
		}
		return &AssertionError{
			Type:     AssertHookCount,
			Expected: fmt.Sprintf("%d calls of %s for %s", a.Count, a.Hook, who),
			Actual:   fmt.Sprintf("%d calls", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertHookOrder checks that the first calls of the listed hooks appear
// in order. Other hook calls may come in between.
func assertHookOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, e := range trace {
		if e.Type != EventHook {
			continue
		}
		if a.Participant != "" && e.Participant != a.Participant {
			continue
		}
		if _, ok := positions[e.Hook]; !ok {
			positions[e.Hook] = i + 1
		}
	}

	for _, hook := range a.Hooks {
		if positions[hook] == 0 {
			return &AssertionError{
				Type:     AssertHookOrder,
				Expected: fmt.Sprintf("all hooks present: %v", a.Hooks),
				Actual:   fmt.Sprintf("missing hook: %s", hook),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Hooks); i++ {
		prev, curr := a.Hooks[i-1], a.Hooks[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertHookOrder,
				Expected: fmt.Sprintf("hooks in order: %v", a.Hooks),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceContains checks that some trace event carries every field in
// a.Match. Values are compared by their printed form, so YAML integers
// match numeric fields.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, e := range trace {
		if matchFields(e.fields(), a.Match) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event matching %v", a.Match),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func matchFields(actual, expected map[string]any) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func assertParticipantStatus(actx *AssertionContext, a Assertion) error {
	p, err := actx.Store.Participant(actx.Ctx, a.Participant)
	if err != nil {
		return fmt.Errorf("load participant %s: %w", a.Participant, err)
	}
	want := models.Status(*a.Status)
	if p.Status != want {
		return &AssertionError{
			Type:     AssertParticipantStatus,
			Expected: fmt.Sprintf("%s at %s (%d)", a.Participant, want, int(want)),
			Actual:   fmt.Sprintf("%s (%d)", p.Status, int(p.Status)),
		}
	}
	return nil
}

func assertNotificationCount(actx *AssertionContext, a Assertion) error {
	ns, err := actx.Store.Notifications(actx.Ctx, a.Assignment)
	if err != nil {
		return err
	}
	if len(ns) != a.Count {
		return &AssertionError{
			Type:     AssertNotificationCount,
			Expected: fmt.Sprintf("%d notifications for %s", a.Count, a.Assignment),
			Actual:   fmt.Sprintf("%d notifications", len(ns)),
		}
	}
	return nil
}

func assertJobCount(actx *AssertionContext, a Assertion) error {
	counts, err := actx.Store.CountJobs(actx.Ctx)
	if err != nil {
		return err
	}
	got := counts[store.JobState(a.State)]
	if got != a.Count {
		return &AssertionError{
			Type:     AssertJobCount,
			Expected: fmt.Sprintf("%d %s jobs", a.Count, a.State),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}

func assertNodeCount(actx *AssertionContext, a Assertion) error {
	failed := models.FailedAll
	desc := "nodes"
	if a.Failed != nil {
		if *a.Failed {
			failed, desc = models.FailedOnly, "failed nodes"
		} else {
			failed, desc = models.FailedExclude, "live nodes"
		}
	}
	nodes, err := actx.Store.Nodes(actx.Ctx, store.NodeFilter{ParticipantID: a.Participant, Failed: failed})
	if err != nil {
		return err
	}
	if len(nodes) != a.Count {
		return &AssertionError{
			Type:     AssertNodeCount,
			Expected: fmt.Sprintf("%d %s for %s", a.Count, desc, a.Participant),
			Actual:   fmt.Sprintf("%d", len(nodes)),
		}
	}
	return nil
}
