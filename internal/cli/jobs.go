package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wallace-lab/wallace/internal/store"
)

// JobsOptions holds flags for the jobs command.
type JobsOptions struct {
	*RootOptions
	State string // optional - filter to one job state
	Limit int
}

// JobsResult lists queue jobs with per-state counts.
type JobsResult struct {
	Jobs   []store.Job            `json:"jobs"`
	Counts map[store.JobState]int `json:"counts"`
}

// RenderText implements TextRenderer.
func (r JobsResult) RenderText(w io.Writer) {
	fmt.Fprint(w, "Jobs:")
	for _, s := range store.JobStates {
		fmt.Fprintf(w, " %s=%d", s, r.Counts[s])
	}
	fmt.Fprintln(w)

	for _, j := range r.Jobs {
		target := "assignment " + deref(j.AssignmentID)
		if j.AssignmentID == nil {
			target = "participant " + deref(j.ParticipantID)
		}
		fmt.Fprintf(w, "  %s  %-8s %-20s %s (attempts=%d)\n", j.ID, j.State, j.EventType, target, j.Attempts)
		if j.LastError != nil {
			fmt.Fprintf(w, "      last error: %s\n", *j.LastError)
		}
	}
}

// NewJobsCommand creates the jobs command.
func NewJobsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JobsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the notification queue",
		Long: `List notification jobs in enqueue order with a count per state.

States: pending, leased, done, dead. Dead jobs exhausted their delivery
attempts; put them back on the queue with "wallace replay".

Examples:
  wallace jobs --db ./wallace.db
  wallace jobs --db ./wallace.db --state dead --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(opts, cmd)
		},
	}

	addStoreFlags(cmd)
	cmd.Flags().StringVar(&opts.State, "state", "", "only list jobs in this state")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum number of jobs to list (0 for all)")

	return cmd
}

func runJobs(opts *JobsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	state := store.JobState(opts.State)
	if state != "" && !validJobState(state) {
		_ = formatter.Error(ErrCodeBadArgument, fmt.Sprintf("unknown job state %q", opts.State), store.JobStates)
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown job state %q", opts.State))
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
	jobs, err := a.store.Jobs(ctx, state, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list jobs", err)
	}
	counts, err := a.store.CountJobs(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count jobs", err)
	}

	return formatter.Success(JobsResult{Jobs: jobs, Counts: counts})
}

func validJobState(s store.JobState) bool {
	for _, known := range store.JobStates {
		if s == known {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
