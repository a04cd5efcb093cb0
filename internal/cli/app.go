package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wallace-lab/wallace/internal/config"
	"github.com/wallace-lab/wallace/internal/dispatch"
	"github.com/wallace-lab/wallace/internal/engine"
	"github.com/wallace-lab/wallace/internal/experiment"
	"github.com/wallace-lab/wallace/internal/queue"
	"github.com/wallace-lab/wallace/internal/store"
)

// app is the wired runtime shared by the commands that touch the database.
type app struct {
	cfg    config.Server
	store  *store.Store
	base   *experiment.Base
	queue  *queue.Queue
	engine *engine.Engine
	disp   *dispatch.Dispatcher
}

// addStoreFlags registers the flags every database command accepts.
func addStoreFlags(cmd *cobra.Command) {
	def := config.DefaultServer()
	cmd.Flags().String("db", def.DB, "path to SQLite database")
	cmd.Flags().String("experiment", "", "experiment definition (.yaml or .cue); built-in defaults when empty")
}

// addQueueFlags registers the delivery flags of commands that process jobs.
func addQueueFlags(cmd *cobra.Command) {
	def := config.DefaultServer()
	cmd.Flags().Duration("lease", def.Lease, "how long a claimed job stays invisible before redelivery")
	cmd.Flags().Int("max-attempts", def.MaxAttempts, "deliveries before a job is dead")
	cmd.Flags().Duration("backoff", def.Backoff, "wait before redelivering a failed job, doubled per attempt")
	cmd.Flags().Duration("poll-interval", def.PollInterval, "how often the worker checks the queue without a signal")
}

// openApp resolves settings from the command's flags, the environment and
// wallace.yaml, then opens the store and wires the runtime over it.
// The caller must close the returned app.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.LoadServer(cmd.Flags())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	exp := config.Default()
	if cfg.Experiment != "" {
		exp, err = config.LoadExperiment(cfg.Experiment)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load experiment", err)
		}
	}
	settings := exp.Settings()
	if err := settings.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid experiment", err)
	}
	reg, err := exp.Registry()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid experiment", err)
	}

	slog.Debug("opening database", "path", cfg.DB)
	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	base := experiment.NewBase(settings)
	q := queue.New(st, queue.WithConfig(queue.Config{
		Lease:       cfg.Lease,
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.Backoff,
	}))
	eng := engine.New(st, q, base, engine.WithPollInterval(cfg.PollInterval))
	disp := dispatch.New(st, reg, base, dispatch.WithDuplicateDetector(eng))

	return &app{
		cfg:    cfg,
		store:  st,
		base:   base,
		queue:  q,
		engine: eng,
		disp:   disp,
	}, nil
}

// Close stops the queue and closes the database.
func (a *app) Close() error {
	a.queue.Close()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
