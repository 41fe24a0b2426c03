package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotops/presence/internal/store"
)

// RetryResult reports which entries were requeued.
type RetryResult struct {
	Requeued []string `json:"requeued"`
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "retry [entry-id...]",
		Short: "Requeue failed entries with a fresh retry budget",
		Long: `Move failed entries back to pending so the next drain picks them up.

Pass entry ids, or --all to requeue every failed entry. The retry count
is reset, so manual retries start over with the full budget.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return NewExitError(ExitCommandError, "pass entry ids or --all")
			}
			if all && len(args) > 0 {
				return NewExitError(ExitCommandError, "--all cannot be combined with entry ids")
			}
			return runRetry(rootOpts, args, all, cmd)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "requeue every failed entry")

	return cmd
}

func runRetry(opts *RootOptions, ids []string, all bool, cmd *cobra.Command) error {
	f := formatter(opts, cmd)

	app, err := openApp(opts, cmd)
	if err != nil {
		_ = f.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	defer app.Close()

	if all {
		failed, err := app.Store.Failed(cmd.Context())
		if err != nil {
			_ = f.Error(ErrCodeQueue, err.Error(), nil)
			return WrapExitError(ExitCommandError, "listing failed entries", err)
		}
		ids = nil
		for _, e := range failed {
			ids = append(ids, e.ID)
		}
	}

	result := RetryResult{Requeued: []string{}}
	for _, id := range ids {
		err := app.Store.RetryFailed(cmd.Context(), id)
		switch {
		case err == nil:
			result.Requeued = append(result.Requeued, id)
		case errors.Is(err, store.ErrNotFound):
			_ = f.Error(ErrCodeInput, fmt.Sprintf("entry %s not found", id), nil)
			return NewExitError(ExitCommandError, "unknown entry id")
		case store.IsTransitionError(err):
			// Entry exists but is not failed; skip rather than abort.
			f.VerboseLog("Skipping %s: %v", id, err)
		default:
			_ = f.Error(ErrCodeQueue, err.Error(), nil)
			return WrapExitError(ExitCommandError, "requeueing entry", err)
		}
	}

	if f.Format == "json" {
		return f.Success(result)
	}

	fmt.Fprintf(f.Writer, "Requeued %d entr%s\n", len(result.Requeued), pluralY(int64(len(result.Requeued))))
	return nil
}
