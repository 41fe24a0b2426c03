package cli

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotops/presence/internal/syncer"
)

// NewAgentCommand creates the agent command.
func NewAgentCommand(rootOpts *RootOptions) *cobra.Command {
	var probeInterval time.Duration

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the background sync agent",
		Long: `Run the long-lived sync loop: watch connectivity, drain the queue
when online or on a timer, and prune old synced entries. Stops cleanly
on SIGINT or SIGTERM.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(rootOpts, probeInterval, cmd)
		},
	}

	cmd.Flags().DurationVar(&probeInterval, "probe-interval", 15*time.Second, "connectivity probe cadence")

	return cmd
}

func runAgent(opts *RootOptions, probeInterval time.Duration, cmd *cobra.Command) error {
	f := formatter(opts, cmd)

	app, err := openApp(opts, cmd)
	if err != nil {
		_ = f.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Crash recovery before the loop starts: anything still marked
	// syncing was interrupted mid-flight.
	reset, err := app.Store.ResetInFlight(ctx, "interrupted sync", app.Config.Sync.MaxRetries)
	if err != nil {
		_ = f.Error(ErrCodeQueue, err.Error(), nil)
		return WrapExitError(ExitCommandError, "recovering in-flight entries", err)
	}
	if reset > 0 {
		slog.Info("recovered in-flight entries", "count", reset)
	}

	monitor, err := syncer.NewProbeMonitor(app.Config.Sync.Endpoint, probeInterval)
	if err != nil {
		_ = f.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "building connectivity monitor", err)
	}
	go monitor.Run(ctx)

	go prunePeriodically(ctx, app)

	slog.Info("agent started",
		"endpoint", app.Config.Sync.Endpoint,
		"drain_interval", app.Config.Sync.DrainInterval,
	)

	if err := app.engine().Run(ctx, monitor); err != nil && ctx.Err() == nil {
		_ = f.Error(ErrCodeSync, err.Error(), nil)
		return WrapExitError(ExitCommandError, "sync loop", err)
	}

	slog.Info("agent stopped")
	return nil
}

// prunePeriodically removes synced entries older than the configured
// retention, once an hour.
func prunePeriodically(ctx context.Context, app *App) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-app.Config.Queue.PruneAfter)
			removed, err := app.Store.Prune(ctx, cutoff)
			if err != nil {
				slog.Warn("prune failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("pruned synced entries", "count", removed)
			}
		}
	}
}
