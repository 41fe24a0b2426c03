package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show queue counts and the last sync time",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	f := formatter(opts, cmd)

	app, err := openApp(opts, cmd)
	if err != nil {
		_ = f.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	defer app.Close()

	stats, err := app.Store.Stats(cmd.Context())
	if err != nil {
		_ = f.Error(ErrCodeQueue, err.Error(), nil)
		return WrapExitError(ExitCommandError, "reading queue stats", err)
	}

	if f.Format == "json" {
		return f.Success(stats)
	}

	fmt.Fprintf(f.Writer, "pending:   %d\n", stats.Pending)
	fmt.Fprintf(f.Writer, "syncing:   %d\n", stats.Syncing)
	fmt.Fprintf(f.Writer, "synced:    %d\n", stats.Synced)
	fmt.Fprintf(f.Writer, "failed:    %d\n", stats.Failed)
	fmt.Fprintf(f.Writer, "last sync: %s\n", formatTime(stats.LastSync))
	return nil
}
