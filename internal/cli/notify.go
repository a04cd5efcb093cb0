package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/queue"
)

// NotifyOptions holds flags for the notify command.
type NotifyOptions struct {
	*RootOptions
	Drain bool // process the queue after enqueueing
}

// NotifyResult reports an enqueued notification.
type NotifyResult struct {
	JobID      string           `json:"job_id"`
	Event      models.EventType `json:"event"`
	Assignment string           `json:"assignment_id"`
	Processed  *int             `json:"processed,omitempty"`
}

// RenderText implements TextRenderer.
func (r NotifyResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Queued %s for assignment %s (job %s)\n", r.Event, r.Assignment, r.JobID)
	if r.Processed != nil {
		fmt.Fprintf(w, "Processed %d job(s).\n", *r.Processed)
	}
}

// NewNotifyCommand creates the notify command.
func NewNotifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NotifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "notify <event> <assignment>",
		Short: "Enqueue a platform notification",
		Long: `Enqueue a crowdsourcing platform notification for an assignment,
exactly as the /notifications endpoint would.

Known events: AssignmentAccepted, AssignmentAbandoned, AssignmentReturned,
AssignmentSubmitted. The running worker picks the job up; use --drain to
process it in this process instead.

Examples:
  wallace notify AssignmentSubmitted 3XYZ --db ./wallace.db
  wallace notify AssignmentAbandoned 3XYZ --drain`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotify(opts, models.EventType(args[0]), args[1], cmd)
		},
	}

	addStoreFlags(cmd)
	addQueueFlags(cmd)
	cmd.Flags().BoolVar(&opts.Drain, "drain", false, "process queued jobs before exiting")

	return cmd
}

func runNotify(opts *NotifyOptions, event models.EventType, assignment string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if !event.Known() {
		_ = formatter.Error(ErrCodeBadArgument, fmt.Sprintf("unknown event %q", event), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown event %q", event))
	}
	if assignment == "" {
		_ = formatter.Error(ErrCodeBadArgument, "assignment id is empty", nil)
		return NewExitError(ExitCommandError, "assignment id is empty")
	}

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
	job, err := a.queue.Enqueue(ctx, queue.ForAssignment(event, assignment))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to enqueue notification", err)
	}
	formatter.VerboseLog("enqueued job %s", job.ID)

	result := NotifyResult{JobID: job.ID, Event: event, Assignment: assignment}
	if opts.Drain {
		n, err := a.engine.Drain(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "drain failed", err)
		}
		result.Processed = &n
	}
	return formatter.Success(result)
}
