package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mindtastic/roster"
	"github.com/mindtastic/roster/config"
	"github.com/mindtastic/roster/internal/style"
	"github.com/mindtastic/roster/log"
	"github.com/mindtastic/roster/logstore"
	"github.com/mindtastic/roster/registry"
	"github.com/mindtastic/roster/store/localfile"
	"github.com/mindtastic/roster/store/memory"
	"github.com/mindtastic/roster/store/postgres"
)

// skipRegistry marks commands that run without opening the store.
const skipRegistry = "skip-registry"

type application struct {
	out     io.Writer
	cfg     *config.Config
	logger  *log.Logger
	log     *log.Source
	store   roster.Store
	reg     *registry.Registry
	closers []io.Closer

	configPath string
	dataDir    string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

// run executes one command line and always releases the store and the logger.
func run(ctx context.Context, out, errOut io.Writer, args []string) error {
	root, app := newRootCommand(out)
	root.SetErr(errOut)
	root.SetArgs(args)
	err := errors.Join(root.ExecuteContext(ctx), app.teardown())
	if err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "%s %v\n", style.ErrorPrefix, err)
	}
	return err
}

func newRootCommand(out io.Writer) (*cobra.Command, *application) {
	app := &application{out: out}

	root := &cobra.Command{
		Use:   "roster",
		Short: "Manage the bot user registry",
		Long: `Manage the users of the bot: registrations waiting for approval, roles,
bans and linked external accounts.

Default users are read from role files in the defaults directory
(<data-dir>/users/adminX, <data-dir>/users/userX, ...), one user id per line.
Every change is written to the configured store immediately.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: app.setup,
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&app.configPath, "config", "", "Configuration file (toml, yaml or json)")
	flags.StringVar(&app.dataDir, "data-dir", "", "Data directory (overrides the configuration)")
	flags.StringVar(&app.logLevel, "log-level", "", "Log level: debug, info, warning, error")

	root.AddCommand(
		app.newListCommand(),
		app.newPendingCommand(),
		app.newGetCommand(),
		app.newCreateCommand(),
		app.newUpdateCommand(),
		app.newApproveCommand(),
		app.newToggleRoleCommand(),
		app.newBanCommand(),
		app.newSetStatusCommand(),
		app.newSetRoleCommand(),
		app.newAttachCommand(),
		app.newFlushCommand(),
		app.newConfigCommand(),
	)
	return root, app
}

func (a *application) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.SetDataDir(a.dataDir)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if cmd.Annotations[skipRegistry] != "" {
		return nil
	}

	if err := a.openLogger(); err != nil {
		return err
	}
	if err := a.openStore(cmd.Context()); err != nil {
		return err
	}

	a.reg, err = registry.Open(cmd.Context(), a.store,
		registry.WithDefaults(afero.NewOsFs(), cfg.DefaultsDir),
		registry.WithLogger(a.log.With("registry")),
	)
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}
	return nil
}

func (a *application) openLogger() error {
	var files []io.WriteCloser
	if a.cfg.Log.File != "" {
		f, err := os.OpenFile(a.cfg.Log.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		files = append(files, f)
	}

	logger, err := log.New(a.cfg.Log.Level, os.Stderr, files, log.WithRecentLimit(a.cfg.Log.RecentLimit))
	if err != nil {
		return err
	}

	runID, err := uuid.GenerateUUID()
	if err != nil {
		return fmt.Errorf("generating run id: %w", err)
	}
	a.logger = logger
	a.log = logger.Source("roster-" + runID[:8])
	return nil
}

func (a *application) openStore(ctx context.Context) error {
	sc := a.cfg.Store
	src := a.log.With(sc.Backend)

	switch sc.Backend {
	case config.BackendLocalFile:
		lfs, err := localfile.Open(sc.Path, localfile.WithLogger(src))
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		a.store = lfs
		a.closers = append(a.closers, lfs)
	case config.BackendLogStore:
		rs, err := logstore.OpenRecordStore(sc.Path, logstore.WithSync(), logstore.WithLogger(src))
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		a.store = rs
	case config.BackendPostgres:
		var opts []postgres.Option
		if sc.Table != "" {
			opts = append(opts, postgres.WithTable(sc.Table))
		}
		pg, err := postgres.New(ctx, sc.DSN, append(opts, postgres.WithLogger(src))...)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		a.closers = append(a.closers, pg)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		a.store = pg
	case config.BackendMemory:
		a.store = memory.New()
	default:
		return fmt.Errorf("unknown store backend %q", sc.Backend)
	}
	a.log.Debugf("using %s store at %q", sc.Backend, sc.Path)
	return nil
}

func (a *application) teardown() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
		a.logger = nil
	}
	return errors.Join(errs...)
}
