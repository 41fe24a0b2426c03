package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotops/presence/internal/attendance"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export failed entries as JSON",
		Long: `Write every failed entry as an indented JSON array, for manual
inspection or out-of-band submission. Failed entries are never pruned
automatically, so this is the full record of everything that could not
be synced.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(rootOpts, out, cmd)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "write to a file instead of stdout")

	return cmd
}

func runExport(opts *RootOptions, out string, cmd *cobra.Command) error {
	f := formatter(opts, cmd)

	app, err := openApp(opts, cmd)
	if err != nil {
		_ = f.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	defer app.Close()

	failed, err := app.Store.Failed(cmd.Context())
	if err != nil {
		_ = f.Error(ErrCodeQueue, err.Error(), nil)
		return WrapExitError(ExitCommandError, "listing failed entries", err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if out != "" {
		file, err := os.Create(out)
		if err != nil {
			_ = f.Error(ErrCodeInput, err.Error(), nil)
			return WrapExitError(ExitCommandError, "creating output file", err)
		}
		defer file.Close()
		w = file
	}

	if err := writeExport(w, failed); err != nil {
		return WrapExitError(ExitCommandError, "writing export", err)
	}

	if out != "" {
		f.VerboseLog("Wrote %d entr%s to %s", len(failed), pluralY(int64(len(failed))), out)
	}
	return nil
}

// writeExport renders the entries as a stable, indented JSON array.
// An empty queue exports as [] rather than null.
func writeExport(w io.Writer, entries []attendance.QueueEntry) error {
	if entries == nil {
		entries = []attendance.QueueEntry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode entries: %w", err)
	}
	return nil
}
