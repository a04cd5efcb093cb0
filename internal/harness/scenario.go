package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/store"
	"github.com/wallace-lab/wallace/internal/testutil"
)

// Scenario is a reconciliation scenario: participants in known states, a
// sequence of requests, webhooks and worker passes, and assertions on the
// resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Experiment is an optional experiment definition (YAML or CUE).
	// Relative paths are resolved against the scenario file's directory.
	// The built-in default experiment is used when empty.
	Experiment string `yaml:"experiment,omitempty"`

	// MaxAttempts overrides the queue's delivery limit.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// Participants are inserted before the first step.
	Participants []ParticipantSetup `yaml:"participants,omitempty"`

	// Steps run in order. Each step sets exactly one action.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// ParticipantSetup describes one participant row to insert.
type ParticipantSetup struct {
	ID         string      `yaml:"id"`
	Assignment string      `yaml:"assignment"`
	Worker     string      `yaml:"worker,omitempty"`
	Status     StatusValue `yaml:"status"`

	// Ended records an end-of-HIT time, as the worker_complete signal does.
	Ended bool `yaml:"ended,omitempty"`
}

// StatusValue is a participant status written by name or by code.
type StatusValue models.Status

// UnmarshalYAML accepts "started" as well as 2.
func (s *StatusValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: status must be a name or a code", node.Line)
	}
	st, err := models.ParseStatus(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = StatusValue(st)
	return nil
}

// Step is one scenario action.
type Step struct {
	// Request sends one HTTP request to the API.
	Request *RequestStep `yaml:"request,omitempty"`

	// Notify posts a platform notification batch to /notifications.
	Notify []NotifyEvent `yaml:"notify,omitempty"`

	// Drain runs the worker until no job is deliverable.
	Drain bool `yaml:"drain,omitempty"`

	// Nudge runs the nudge sweep through POST /nudge.
	Nudge bool `yaml:"nudge,omitempty"`

	// Replay requeues every finished and dead job.
	Replay bool `yaml:"replay,omitempty"`

	// FailHook makes the next call of the named hook fail.
	FailHook string `yaml:"fail_hook,omitempty"`
}

// RequestStep is an HTTP request. GET parameters go in the query string,
// POST parameters in a form body.
type RequestStep struct {
	Method string            `yaml:"method"`
	Path   string            `yaml:"path"`
	Params map[string]string `yaml:"params,omitempty"`
	Expect *ExpectClause     `yaml:"expect,omitempty"`
}

// ExpectClause checks a response. Zero fields are not checked.
type ExpectClause struct {
	Code      int    `yaml:"code,omitempty"`
	Status    string `yaml:"status,omitempty"`
	ErrorType string `yaml:"error_type,omitempty"`
}

// NotifyEvent is one event of a notification batch.
type NotifyEvent struct {
	Event      string `yaml:"event"`
	Assignment string `yaml:"assignment"`
}

// action returns the name of the step's single action, or "" if the step
// sets none or several.
func (s Step) action() string {
	var set []string
	if s.Request != nil {
		set = append(set, "request")
	}
	if s.Notify != nil {
		set = append(set, "notify")
	}
	if s.Drain {
		set = append(set, "drain")
	}
	if s.Nudge {
		set = append(set, "nudge")
	}
	if s.Replay {
		set = append(set, "replay")
	}
	if s.FailHook != "" {
		set = append(set, "fail_hook")
	}
	if len(set) != 1 {
		return ""
	}
	return set[0]
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Participant scopes participant_status, hook_count and node_count.
	Participant string `yaml:"participant,omitempty"`

	// Status is the expected status (participant_status).
	Status *StatusValue `yaml:"status,omitempty"`

	// Hook names a hook (hook_count).
	Hook string `yaml:"hook,omitempty"`

	// Hooks is the expected hook order (hook_order).
	Hooks []string `yaml:"hooks,omitempty"`

	// Assignment scopes notification_count.
	Assignment string `yaml:"assignment,omitempty"`

	// State is a job state (job_count).
	State string `yaml:"state,omitempty"`

	// Failed restricts node_count to failed (true) or live (false) nodes.
	Failed *bool `yaml:"failed,omitempty"`

	// Match is a subset of trace event fields (trace_contains).
	Match map[string]any `yaml:"match,omitempty"`

	// Count is the expected number (all *_count types).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertParticipantStatus = "participant_status"
	AssertHookCount         = "hook_count"
	AssertHookOrder         = "hook_order"
	AssertNotificationCount = "notification_count"
	AssertJobCount          = "job_count"
	AssertNodeCount         = "node_count"
	AssertTraceContains     = "trace_contains"
)

var hookNames = map[string]bool{
	testutil.HookAccepted:          true,
	testutil.HookAbandoned:         true,
	testutil.HookReturned:          true,
	testutil.HookSubmitted:         true,
	testutil.HookSubmissionTrigger: true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Experiment != "" && !filepath.IsAbs(scenario.Experiment) {
		scenario.Experiment = filepath.Join(filepath.Dir(path), scenario.Experiment)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// LoadScenarios loads every *.yaml and *.yml file directly inside dir,
// sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]*Scenario, 0, len(names))
	for _, name := range names {
		sc, err := LoadScenario(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be non-negative")
	}
	if s.Experiment != "" {
		if _, err := os.Stat(s.Experiment); err != nil {
			return fmt.Errorf("experiment file not found: %s", s.Experiment)
		}
	}

	seen := map[string]bool{}
	for i, p := range s.Participants {
		if p.ID == "" {
			return fmt.Errorf("participants[%d]: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("participants[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step Step) error {
	switch step.action() {
	case "":
		return fmt.Errorf("steps[%d]: exactly one of request, notify, drain, nudge, replay, fail_hook is required", index)
	case "request":
		if step.Request.Method != "GET" && step.Request.Method != "POST" {
			return fmt.Errorf("steps[%d]: method must be GET or POST, got %q", index, step.Request.Method)
		}
		if step.Request.Path == "" || step.Request.Path[0] != '/' {
			return fmt.Errorf("steps[%d]: path must start with /", index)
		}
	case "notify":
		if len(step.Notify) == 0 {
			return fmt.Errorf("steps[%d]: notify needs at least one event", index)
		}
		for j, ev := range step.Notify {
			if ev.Event == "" || ev.Assignment == "" {
				return fmt.Errorf("steps[%d].notify[%d]: event and assignment are required", index, j)
			}
		}
	case "fail_hook":
		if !hookNames[step.FailHook] {
			return fmt.Errorf("steps[%d]: unknown hook %q", index, step.FailHook)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}

	switch a.Type {
	case AssertParticipantStatus:
		if a.Participant == "" || a.Status == nil {
			return fmt.Errorf("assertions[%d]: participant and status are required for participant_status", index)
		}
	case AssertHookCount:
		if !hookNames[a.Hook] {
			return fmt.Errorf("assertions[%d]: unknown hook %q", index, a.Hook)
		}
	case AssertHookOrder:
		if len(a.Hooks) == 0 {
			return fmt.Errorf("assertions[%d]: hooks list is required for hook_order", index)
		}
		for _, h := range a.Hooks {
			if !hookNames[h] {
				return fmt.Errorf("assertions[%d]: unknown hook %q", index, h)
			}
		}
	case AssertNotificationCount:
		if a.Assignment == "" {
			return fmt.Errorf("assertions[%d]: assignment is required for notification_count", index)
		}
	case AssertJobCount:
		if !validJobState(a.State) {
			return fmt.Errorf("assertions[%d]: unknown job state %q", index, a.State)
		}
	case AssertNodeCount:
		if a.Participant == "" {
			return fmt.Errorf("assertions[%d]: participant is required for node_count", index)
		}
	case AssertTraceContains:
		if len(a.Match) == 0 {
			return fmt.Errorf("assertions[%d]: match is required for trace_contains", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func validJobState(s string) bool {
	for _, st := range store.JobStates {
		if string(st) == s {
			return true
		}
	}
	return false
}
