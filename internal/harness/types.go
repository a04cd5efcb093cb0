package harness

// Trace event types.
const (
	EventRequest  = "request"
	EventNotify   = "notify"
	EventDrain    = "drain"
	EventNudge    = "nudge"
	EventReplay   = "replay"
	EventFailHook = "fail_hook"
	EventHook     = "hook"
)

// TraceEvent is one observable outcome of a scenario step. Hook events
// follow the step that caused them.
type TraceEvent struct {
	Type string `json:"type"`
	Step int    `json:"step"`

	// request
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
	Code      int    `json:"code,omitempty"`
	Status    string `json:"status,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	Key       string `json:"key,omitempty"`
	EntityID  int64  `json:"entity_id,omitempty"`
	Value     string `json:"value,omitempty"`

	// notify, hook
	Event       string `json:"event,omitempty"`
	Assignment  string `json:"assignment,omitempty"`
	Participant string `json:"participant,omitempty"`
	Hook        string `json:"hook,omitempty"`

	// request (list results), drain, replay
	Count int `json:"count"`

	// nudge
	Hung      []string `json:"hung,omitempty"`
	EndedHit  []string `json:"ended_hit,omitempty"`
	Triggered []string `json:"triggered,omitempty"`
	Failed    []string `json:"failed,omitempty"`
}

// fields returns the event as a map holding only the fields meaningful for
// its type. The map is canonical-JSON safe.
func (e TraceEvent) fields() map[string]any {
	m := map[string]any{
		"type": e.Type,
		"step": e.Step,
	}
	put := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	switch e.Type {
	case EventRequest:
		put("method", e.Method)
		put("path", e.Path)
		m["code"] = e.Code
		put("status", e.Status)
		put("error_type", e.ErrorType)
		put("key", e.Key)
		if e.EntityID != 0 {
			m["entity_id"] = e.EntityID
		}
		put("value", e.Value)
		if e.Key != "" && e.EntityID == 0 && e.Value == "" {
			m["count"] = e.Count
		}
	case EventNotify:
		put("event", e.Event)
		put("assignment", e.Assignment)
		m["code"] = e.Code
	case EventDrain, EventReplay:
		m["count"] = e.Count
	case EventNudge:
		m["hung"] = anySlice(e.Hung)
		m["ended_hit"] = anySlice(e.EndedHit)
		m["triggered"] = anySlice(e.Triggered)
		if len(e.Failed) > 0 {
			m["failed"] = anySlice(e.Failed)
		}
	case EventFailHook:
		put("hook", e.Hook)
	case EventHook:
		put("hook", e.Hook)
		put("participant", e.Participant)
		put("assignment", e.Assignment)
	}
	return m
}

func anySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every step outcome and hook call in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Add appends a trace event.
func (r *Result) Add(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}

// Hooks returns the hook events in order.
func (r *Result) Hooks() []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == EventHook {
			out = append(out, e)
		}
	}
	return out
}
