package models

import (
	"fmt"
	"strconv"
)

// Status is a participant's lifecycle code.
type Status int

const (
	StatusNotAccepted Status = 0
	StatusAllocated   Status = 1
	StatusStarted     Status = 2
	// StatusCompleted means the client reported the end of the HIT.
	StatusCompleted Status = 3
	// StatusSubmitted means the client submitted but the platform has not yet
	// confirmed. A participant left here is "hung" and picked up by the nudge.
	StatusSubmitted Status = 4
	StatusCredited  Status = 5

	// StatusComplete is the terminal status reached once submission is confirmed.
	StatusComplete           Status = 100
	StatusApproved           Status = 101
	StatusBonused            Status = 102
	StatusReturned           Status = 103
	StatusAbandoned          Status = 104
	StatusRecruiterSubmitted Status = 105
	StatusReassigned         Status = 106
)

// TerminalThreshold is the lowest terminal status code.
const TerminalThreshold = 100

// Terminal reports whether the participant's involvement is concluded.
func (s Status) Terminal() bool { return s >= TerminalThreshold }

// Active reports whether the participant may still create entities.
func (s Status) Active() bool { return s == StatusAllocated || s == StatusStarted }

// Class groups statuses by how a rejected request should be explained.
type Class string

const (
	ClassNotStarted Class = "not_started"
	ClassActive     Class = "active"
	ClassSubmitted  Class = "already_submitted"
	ClassReturned   Class = "returned"
	ClassExpired    Class = "expired"
	ClassReassigned Class = "reassigned"
	ClassOther      Class = "invalid_status"
)

// Classify maps a status onto its class.
func (s Status) Classify() Class {
	switch s {
	case StatusNotAccepted:
		return ClassNotStarted
	case StatusAllocated, StatusStarted:
		return ClassActive
	case StatusCompleted, StatusSubmitted, StatusCredited,
		StatusComplete, StatusApproved, StatusBonused, StatusRecruiterSubmitted:
		return ClassSubmitted
	case StatusReturned:
		return ClassReturned
	case StatusAbandoned:
		return ClassExpired
	case StatusReassigned:
		return ClassReassigned
	default:
		return ClassOther
	}
}

func (s Status) String() string {
	switch s {
	case StatusNotAccepted:
		return "not_accepted"
	case StatusAllocated:
		return "allocated"
	case StatusStarted:
		return "started"
	case StatusCompleted:
		return "completed"
	case StatusSubmitted:
		return "submitted"
	case StatusCredited:
		return "credited"
	case StatusComplete:
		return "complete"
	case StatusApproved:
		return "approved"
	case StatusBonused:
		return "bonused"
	case StatusReturned:
		return "returned"
	case StatusAbandoned:
		return "abandoned"
	case StatusRecruiterSubmitted:
		return "recruiter_submitted"
	case StatusReassigned:
		return "reassigned"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Statuses lists every known status in ascending order.
var Statuses = []Status{
	StatusNotAccepted, StatusAllocated, StatusStarted, StatusCompleted,
	StatusSubmitted, StatusCredited, StatusComplete, StatusApproved,
	StatusBonused, StatusReturned, StatusAbandoned, StatusRecruiterSubmitted,
	StatusReassigned,
}

// ParseStatus accepts a status name ("started") or its numeric code ("2").
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if st.String() == s {
			return st, nil
		}
	}
	if code, err := strconv.Atoi(s); err == nil {
		for _, st := range Statuses {
			if int(st) == code {
				return st, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// EventType is a crowdsourcing platform lifecycle event.
type EventType string

const (
	EventAccepted  EventType = "AssignmentAccepted"
	EventAbandoned EventType = "AssignmentAbandoned"
	EventReturned  EventType = "AssignmentReturned"
	EventSubmitted EventType = "AssignmentSubmitted"
)

// TargetStatus returns the terminal status an event moves a non-terminal
// participant to. ok is false for events that carry no status change.
func (e EventType) TargetStatus() (status Status, ok bool) {
	switch e {
	case EventAbandoned:
		return StatusAbandoned, true
	case EventReturned:
		return StatusReturned, true
	case EventSubmitted:
		return StatusComplete, true
	default:
		return 0, false
	}
}

// Known reports whether the engine understands this event.
func (e EventType) Known() bool {
	switch e {
	case EventAccepted, EventAbandoned, EventReturned, EventSubmitted:
		return true
	}
	return false
}
