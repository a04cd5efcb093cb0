package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// WorkerOptions holds flags for the worker command.
type WorkerOptions struct {
	*RootOptions
	Once bool // drain the queue and exit
}

// DrainResult reports one pass over the queue.
type DrainResult struct {
	Processed int `json:"processed"`
}

// RenderText implements TextRenderer.
func (r DrainResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Processed %d job(s).\n", r.Processed)
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued notifications",
		Long: `Run the notification worker without serving HTTP.

The worker claims jobs from the durable queue and reconciles each platform
notification against participant state. With --once it drains every job
that is currently available and exits; otherwise it runs until interrupted.

Examples:
  wallace worker --db ./wallace.db
  wallace worker --db ./wallace.db --once --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(opts, cmd)
		},
	}

	addStoreFlags(cmd)
	addQueueFlags(cmd)
	cmd.Flags().BoolVar(&opts.Once, "once", false, "drain available jobs and exit")

	return cmd
}

func runWorker(opts *WorkerOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("error closing app", "error", closeErr)
		}
	}()

	ctx, stop := signalContext(cmd)
	defer stop()

	if opts.Once {
		n, err := a.engine.Drain(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "drain failed", err)
		}
		return newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(DrainResult{Processed: n})
	}

	slog.Info("worker starting", "db", a.cfg.DB, "poll_interval", a.cfg.PollInterval)
	fmt.Fprintln(cmd.OutOrStdout(), "Worker started. Press Ctrl-C to stop.")

	if err := a.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "worker error", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}
