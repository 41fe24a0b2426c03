package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Run one sync pass over the offline queue",
		Long: `Submit every due pending entry to the attendance API once.

Transient failures are rescheduled with backoff; entries that exhaust
their retry budget are parked as failed. Exits non-zero when any entry
failed permanently during the pass.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(rootOpts, cmd)
		},
	}
	return cmd
}

func runDrain(opts *RootOptions, cmd *cobra.Command) error {
	f := formatter(opts, cmd)

	app, err := openApp(opts, cmd)
	if err != nil {
		_ = f.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	defer app.Close()

	// Entries stranded in syncing by a previous crash go back to
	// pending before the pass.
	reset, err := app.Store.ResetInFlight(cmd.Context(), "interrupted sync", app.Config.Sync.MaxRetries)
	if err != nil {
		_ = f.Error(ErrCodeQueue, err.Error(), nil)
		return WrapExitError(ExitCommandError, "recovering in-flight entries", err)
	}
	if reset > 0 {
		f.VerboseLog("Recovered %d in-flight entr%s", reset, pluralY(reset))
	}

	report, err := app.engine().Drain(cmd.Context())
	if err != nil {
		_ = f.Error(ErrCodeSync, err.Error(), nil)
		return WrapExitError(ExitCommandError, "draining queue", err)
	}

	if f.Format == "json" {
		if err := f.Success(report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(f.Writer, "Attempted %d: %d synced, %d retried, %d failed\n",
			report.Attempted, report.Synced, report.Retried, report.Failed)
	}

	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d entr%s failed permanently", report.Failed, pluralY(int64(report.Failed))))
	}
	return nil
}

func pluralY(n int64) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
