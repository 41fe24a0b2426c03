package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotops/presence/internal/attendance"
	"github.com/dotops/presence/internal/capture"
)

// CaptureResult holds the outcome of one capture command.
type CaptureResult struct {
	EntryID      string                        `json:"entry_id,omitempty"`
	Queued       bool                          `json:"queued"`
	Verification attendance.VerificationResult `json:"verification"`
}

// NewCaptureCommand creates the capture command.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		methodFlag string
		lat        float64
		lng        float64
		qrPayload  string
		notes      string
		photoRef   string
	)

	cmd := &cobra.Command{
		Use:   "capture <checkin|checkout>",
		Short: "Verify and queue an attendance event",
		Long: `Verify an attendance event locally and add it to the offline queue.

GPS captures need --lat and --lng; QR captures need --qr (coordinates are
optional and cross-checked when given). Rejected captures are never queued.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			in := capture.Input{
				Action:    attendance.ActionType(args[0]),
				QRPayload: qrPayload,
				Notes:     notes,
				PhotoRef:  photoRef,
			}
			latSet, lngSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lng")
			if latSet != lngSet {
				f := formatter(rootOpts, cmd)
				_ = f.Error(ErrCodeInput, "--lat and --lng must be given together", nil)
				return NewExitError(ExitCommandError, "incomplete GPS fix")
			}
			if latSet {
				in.Latitude = &lat
				in.Longitude = &lng
			}
			return runCapture(rootOpts, attendance.Method(methodFlag), in, cmd)
		},
	}

	cmd.Flags().StringVarP(&methodFlag, "method", "m", string(attendance.MethodGPS), "capture method (gps|qr|manual)")
	cmd.Flags().Float64Var(&lat, "lat", 0, "device latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "device longitude")
	cmd.Flags().StringVar(&qrPayload, "qr", "", "scanned QR payload")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form note attached to the entry")
	cmd.Flags().StringVar(&photoRef, "photo", "", "reference to a stored proof photo")

	return cmd
}

func runCapture(opts *RootOptions, method attendance.Method, in capture.Input, cmd *cobra.Command) error {
	f := formatter(opts, cmd)

	if !in.Action.Valid() {
		_ = f.Error(ErrCodeInput, fmt.Sprintf("unknown action %q: must be checkin or checkout", in.Action), nil)
		return NewExitError(ExitCommandError, "invalid action")
	}
	if !method.Valid() {
		_ = f.Error(ErrCodeInput, fmt.Sprintf("unknown method %q: must be gps, qr or manual", method), nil)
		return NewExitError(ExitCommandError, "invalid method")
	}

	app, err := openApp(opts, cmd)
	if err != nil {
		_ = f.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	defer app.Close()

	svc, err := app.service(nil)
	if err != nil {
		_ = f.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}

	f.VerboseLog("Capturing %s via %s for user %s", in.Action, method, app.Config.Device.UserID)

	id, res, err := svc.Capture(cmd.Context(), method, in)
	if err != nil {
		_ = f.Error(ErrCodeQueue, err.Error(), nil)
		return WrapExitError(ExitCommandError, "queueing entry", err)
	}

	if !res.IsValid {
		result := CaptureResult{Queued: false, Verification: res}
		if f.Format == "json" {
			_ = f.Error(ErrCodeVerify, res.ErrorMessage, result)
		} else {
			fmt.Fprintf(f.Writer, "✗ Rejected: %s\n", res.ErrorMessage)
		}
		// Local rejections = exit code 1, not a command error
		return NewExitError(ExitFailure, res.ErrorMessage)
	}

	result := CaptureResult{EntryID: id, Queued: true, Verification: res}
	if f.Format == "json" {
		return f.Success(result)
	}

	fmt.Fprintf(f.Writer, "✓ Queued %s (%s)\n", in.Action, id)
	if res.LocationName != "" {
		fmt.Fprintf(f.Writer, "  location: %s (%.0fm away)\n", res.LocationName, res.DistanceMeters)
	}
	return nil
}
