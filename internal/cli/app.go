package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/dotops/presence/internal/api"
	"github.com/dotops/presence/internal/capture"
	"github.com/dotops/presence/internal/config"
	"github.com/dotops/presence/internal/store"
	"github.com/dotops/presence/internal/syncer"
	"github.com/dotops/presence/internal/verify"
)

// App bundles the resources every command needs: the parsed
// configuration and the open queue database. Close it when done.
type App struct {
	Config config.Config
	Store  *store.Store
}

// openApp loads configuration and opens the queue database. The --db
// flag, when set explicitly, overrides the configured queue path.
func openApp(opts *RootOptions, cmd *cobra.Command) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading configuration", err)
	}

	dbPath := cfg.Queue.Path
	if cmd.Flags().Changed("db") {
		dbPath = opts.DBPath
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "opening queue database", err)
	}

	return &App{Config: cfg, Store: st}, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}

// coordinator builds the verification pipeline from the configuration.
func (a *App) coordinator() (*verify.Coordinator, error) {
	policy, err := a.Config.ShiftPolicy()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "building shift policy", err)
	}
	qr := &verify.QRValidator{
		Prefix: a.Config.QR.Prefix,
		MaxAge: a.Config.QRMaxAge(),
	}
	return verify.NewCoordinator(a.Config.VerifySites(), qr, policy), nil
}

// service builds the capture service, optionally wired to wake the
// sync engine after each enqueue.
func (a *App) service(notify func()) (*capture.Service, error) {
	coord, err := a.coordinator()
	if err != nil {
		return nil, err
	}
	opts := []capture.Option{}
	if notify != nil {
		opts = append(opts, capture.WithNotify(notify))
	}
	return capture.NewService(coord, a.Store, a.Config.Device.UserID, opts...), nil
}

// engine builds the sync engine against the configured API endpoint.
func (a *App) engine() *syncer.Engine {
	client := api.NewClient(a.Config.Sync.Endpoint,
		api.WithToken(a.Config.Sync.AuthToken),
	)
	return syncer.New(a.Store, client,
		syncer.WithMaxRetries(a.Config.Sync.MaxRetries),
		syncer.WithBackoff(syncer.Backoff{
			Base: a.Config.Sync.BaseDelay,
			Max:  a.Config.Sync.MaxDelay,
		}),
		syncer.WithSubmitTimeout(a.Config.Sync.RequestTimeout),
		syncer.WithDrainInterval(a.Config.Sync.DrainInterval),
	)
}

// formatter builds the output formatter for a command invocation.
func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// formatTime renders a timestamp for text output, "never" when zero.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}
