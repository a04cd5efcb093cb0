package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wallace-lab/wallace/internal/engine"
)

// NudgeResult is the outcome of one nudge sweep.
type NudgeResult struct {
	engine.NudgeReport
}

// RenderText implements TextRenderer.
func (r NudgeResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Hung submissions finalised: %d\n", len(r.Hung))
	for _, id := range r.Hung {
		fmt.Fprintf(w, "  %s\n", id)
	}
	fmt.Fprintf(w, "Ended HITs finalised: %d\n", len(r.EndedHit))
	for _, id := range r.EndedHit {
		fmt.Fprintf(w, "  %s\n", id)
	}
	fmt.Fprintf(w, "Submission triggers run: %d\n", len(r.Triggered))
	if len(r.Failed) > 0 {
		fmt.Fprintf(w, "Failed, retry with the next sweep: %d\n", len(r.Failed))
		for _, id := range r.Failed {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
}

// NewNudgeCommand creates the nudge command.
func NewNudgeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nudge",
		Short: "Finalise participants whose submission notification never arrived",
		Long: `Sweep participants stuck between submitting and being finalised.

Participants at status 4 (the experiment saw the submission but the platform
notification never arrived) and participants at status 3 whose HIT has
ended are moved to status 100. The submission trigger runs for each of them
unless it already ran. The sweep is safe to repeat and to run while the
worker is active.

Examples:
  wallace nudge --db ./wallace.db
  wallace nudge --db ./wallace.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := a.Close(); closeErr != nil {
					slog.Error("error closing app", "error", closeErr)
				}
			}()

			report, err := a.engine.Nudge(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "nudge failed", err)
			}
			return newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(NudgeResult{report})
		},
	}

	addStoreFlags(cmd)

	return cmd
}
