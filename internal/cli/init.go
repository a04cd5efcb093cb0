package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wallace-lab/wallace/internal/models"
)

// InitResult lists the networks present after setup.
type InitResult struct {
	Networks []models.Network `json:"networks"`
}

// RenderText implements TextRenderer.
func (r InitResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "%d network(s) ready.\n", len(r.Networks))
	for _, n := range r.Networks {
		fmt.Fprintf(w, "  #%d  %-16s max_size=%d role=%s\n", n.ID, n.Type, n.MaxSize, n.Role)
	}
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database and the experiment's networks",
		Long: `Create the database if needed and set up the networks the experiment
declares. Running init again on a database that already has networks
changes nothing and lists the existing ones.

Examples:
  wallace init --db ./wallace.db --experiment ./experiment.yaml`,
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

			networks, err := a.base.Setup(cmd.Context(), a.store)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to set up networks", err)
			}
			if networks == nil {
				networks = []models.Network{}
			}
			return newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(InitResult{Networks: networks})
		},
	}

	addStoreFlags(cmd)

	return cmd
}
