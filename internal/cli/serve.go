package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wallace-lab/wallace/internal/config"
	"github.com/wallace-lab/wallace/internal/httpapi"
)

// shutdownTimeout bounds how long in-flight requests may take to finish
// after a signal.
const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the experiment API and process notifications",
		Long: `Serve the participant-facing experiment API over HTTP.

The database is created if it does not exist and the networks declared by
the experiment are set up on first start. Unless --no-worker is given, the
notification worker runs in the same process, draining the durable queue
that the /notifications endpoint fills.

Settings come from flags, WALLACE_* environment variables and wallace.yaml
in the working directory, in that order of precedence.

Example:
  wallace serve --db ./wallace.db --experiment ./experiment.yaml
  WALLACE_ADDR=:8080 wallace serve --no-worker`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	def := config.DefaultServer()
	addStoreFlags(cmd)
	addQueueFlags(cmd)
	cmd.Flags().String("addr", def.Addr, "listen address")
	cmd.Flags().Bool("no-worker", false, "serve requests without processing notifications")

	return cmd
}

func runServe(cmd *cobra.Command) error {
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

	networks, err := a.base.Setup(ctx, a.store)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up networks", err)
	}
	slog.Info("networks ready", "count", len(networks))

	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           httpapi.NewServer(a.store, a.disp, a.queue, a.engine),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	if !a.cfg.NoWorker {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("worker stopped", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	slog.Info("serving", "addr", a.cfg.Addr, "db", a.cfg.DB, "worker", !a.cfg.NoWorker)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s.\n", a.cfg.Addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	var runErr error
	select {
	case runErr = <-serveErr:
	case <-ctx.Done():
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("error shutting down server", "error", err)
	}
	a.queue.Close()
	wg.Wait()

	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		return WrapExitError(ExitCommandError, "server error", runErr)
	}
	slog.Info("server stopped gracefully")
	return nil
}

// signalContext derives a context from the command's that is cancelled on
// SIGINT or SIGTERM. The returned stop releases the signal handler.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
