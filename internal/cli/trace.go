package cli

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/wallace-lab/wallace/internal/models"
)

// TraceEvent is one entry of an assignment's timeline: a notification
// that arrived for it, or an experiment hook that ran for one of its
// participants.
type TraceEvent struct {
	Time        time.Time `json:"time"`
	Type        string    `json:"type"` // "notification" or "effect"
	Event       string    `json:"event,omitempty"`
	Job         string    `json:"job,omitempty"`
	Effect      string    `json:"effect,omitempty"`
	Participant string    `json:"participant,omitempty"`
	Source      string    `json:"source,omitempty"`
}

// TraceResult is everything recorded about one assignment.
type TraceResult struct {
	Assignment   string               `json:"assignment_id"`
	Participants []models.Participant `json:"participants"`
	Timeline     []TraceEvent         `json:"timeline"`
}

// RenderText implements TextRenderer.
func (r TraceResult) RenderText(w io.Writer) {
	if len(r.Participants) == 0 && len(r.Timeline) == 0 {
		fmt.Fprintf(w, "Nothing recorded for assignment: %s\n", r.Assignment)
		return
	}

	fmt.Fprintf(w, "Assignment: %s\n", r.Assignment)
	fmt.Fprintln(w, "Participants:")
	for _, p := range r.Participants {
		fmt.Fprintf(w, "  %s  worker=%s status=%s (%d)\n", p.UniqueID, p.WorkerID, p.Status, int(p.Status))
	}
	fmt.Fprintln(w, "Timeline:")
	for _, ev := range r.Timeline {
		ts := ev.Time.Format(time.RFC3339)
		switch ev.Type {
		case "notification":
			fmt.Fprintf(w, "  %s  notification %s (job %s)\n", ts, ev.Event, ev.Job)
		default:
			fmt.Fprintf(w, "  %s  effect %s for %s via %s\n", ts, ev.Effect, models.ShortID(ev.Participant), ev.Source)
		}
	}
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace <assignment>",
		Short: "Show the notification history of an assignment",
		Long: `Show what happened to a platform assignment.

Lists the participants holding the assignment and a chronological timeline
of the notifications logged for it, interleaved with the experiment hooks
that ran for its participants and what caused each one (the worker, the
nudge sweep or the request path).

Examples:
  wallace trace 3XYZ --db ./wallace.db
  wallace trace 3XYZ --db ./wallace.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(rootOpts, args[0], cmd)
		},
	}

	addStoreFlags(cmd)

	return cmd
}

func runTrace(opts *RootOptions, assignment string, cmd *cobra.Command) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("error closing app", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	participants, err := a.store.ParticipantsByAssignment(ctx, assignment)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read participants", err)
	}
	notifications, err := a.store.Notifications(ctx, assignment)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read notifications", err)
	}

	timeline := make([]TraceEvent, 0, len(notifications))
	for _, n := range notifications {
		timeline = append(timeline, TraceEvent{
			Time:  n.CreationTime,
			Type:  "notification",
			Event: string(n.EventType),
			Job:   n.JobID,
		})
	}
	for _, p := range participants {
		effects, err := a.store.Effects(ctx, p.UniqueID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read effects", err)
		}
		for _, e := range effects {
			timeline = append(timeline, TraceEvent{
				Time:        e.CreatedAt,
				Type:        "effect",
				Effect:      e.Effect,
				Participant: e.ParticipantID,
				Source:      e.Source,
			})
		}
	}
	// Notifications sort before the effects they caused at equal times.
	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].Time.Before(timeline[j].Time)
	})

	result := TraceResult{
		Assignment:   assignment,
		Participants: participants,
		Timeline:     timeline,
	}
	return newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(result)
}
