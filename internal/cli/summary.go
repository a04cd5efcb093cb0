package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wallace-lab/wallace/internal/store"
)

// SummaryResult is the participant status histogram.
type SummaryResult struct {
	Statuses []store.StatusCount `json:"statuses"`
	Total    int                 `json:"total"`
}

// RenderText implements TextRenderer.
func (r SummaryResult) RenderText(w io.Writer) {
	if r.Total == 0 {
		fmt.Fprintln(w, "No participants.")
		return
	}
	for _, sc := range r.Statuses {
		fmt.Fprintf(w, "%-20s %4d  %d\n", sc.Status, int(sc.Status), sc.Count)
	}
	fmt.Fprintf(w, "%-20s       %d\n", "total", r.Total)
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count participants per status",
		Long: `Print how many participants are at each status, lowest status first.

Examples:
  wallace summary --db ./wallace.db
  wallace summary --db ./wallace.db --format json`,
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

			counts, err := a.store.StatusSummary(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read summary", err)
			}
			result := SummaryResult{Statuses: counts}
			for _, sc := range counts {
				result.Total += sc.Count
			}
			return newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(result)
		},
	}

	addStoreFlags(cmd)

	return cmd
}
