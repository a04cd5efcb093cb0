package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wallace-lab/wallace/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Dead  bool // replay every dead job
	Drain bool // process the queue after requeueing
}

// ReplayResult reports which jobs went back on the queue.
type ReplayResult struct {
	Requeued  []string `json:"requeued"`
	Skipped   []string `json:"skipped"`
	Processed *int     `json:"processed,omitempty"`
}

// RenderText implements TextRenderer.
func (r ReplayResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Requeued %d job(s).\n", len(r.Requeued))
	for _, id := range r.Requeued {
		fmt.Fprintf(w, "  %s\n", id)
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped %d job(s) still pending or leased:\n", len(r.Skipped))
		for _, id := range r.Skipped {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
	if r.Processed != nil {
		fmt.Fprintf(w, "Processed %d job(s).\n", *r.Processed)
	}
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [job-id...]",
		Short: "Put finished or dead notification jobs back on the queue",
		Long: `Requeue notification jobs with a fresh attempt budget.

Replaying is always safe: status transitions are guarded and every
experiment hook runs at most once per participant, so a job that already
succeeded changes nothing when it runs again. Use it to retry jobs that
died on a hook error once the cause is fixed.

Exit codes:
  0 - All named jobs requeued
  1 - A named job does not exist
  2 - Command error (database not found, etc.)

Examples:
  wallace replay --db ./wallace.db 0190f1c2-...
  wallace replay --db ./wallace.db --dead --drain`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args, cmd)
		},
	}

	addStoreFlags(cmd)
	addQueueFlags(cmd)
	cmd.Flags().BoolVar(&opts.Dead, "dead", false, "replay every dead job")
	cmd.Flags().BoolVar(&opts.Drain, "drain", false, "process queued jobs before exiting")

	return cmd
}

func runReplay(opts *ReplayOptions, ids []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if len(ids) == 0 && !opts.Dead {
		_ = formatter.Error(ErrCodeBadArgument, "name at least one job id or pass --dead", nil)
		return NewExitError(ExitCommandError, "no jobs to replay")
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
	if opts.Dead {
		dead, err := a.store.Jobs(ctx, store.JobDead, 0)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list dead jobs", err)
		}
		for _, j := range dead {
			ids = append(ids, j.ID)
		}
	}

	result := ReplayResult{Requeued: []string{}, Skipped: []string{}}
	for _, id := range ids {
		if _, err := a.store.Job(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("job %s not found", id), nil)
				return WrapExitError(ExitFailure, fmt.Sprintf("job %s not found", id), err)
			}
			return WrapExitError(ExitCommandError, "failed to read job", err)
		}

		ok, err := a.engine.Replay(ctx, id)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay job %s", id), err)
		}
		if ok {
			result.Requeued = append(result.Requeued, id)
		} else {
			formatter.VerboseLog("job %s is still pending or leased", id)
			result.Skipped = append(result.Skipped, id)
		}
	}

	if opts.Drain {
		n, err := a.engine.Drain(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "drain failed", err)
		}
		result.Processed = &n
	}
	return formatter.Success(result)
}
