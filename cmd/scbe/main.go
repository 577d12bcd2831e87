package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"scbe/commands"
	"scbe/config"
	"scbe/misc"
	"scbe/state"
)

// initializeAppContext prepares application context before command execution but
// after command line has been parsed
func initializeAppContext(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.NArg() == 0 {
		// nothing to do, just return
		return ctx, nil
	}

	env := state.EnvFromContext(ctx)

	configFile := cmd.String("config")
	cfg, err := config.LoadConfiguration(configFile)
	if err != nil {
		return ctx, fmt.Errorf("unable to prepare configuration: %w", err)
	}
	if dir := cmd.String("projects"); len(dir) > 0 {
		cfg.Storage.ProjectsDir = dir
	}
	if cmd.Bool("debug") {
		cfg.Logging.ConsoleLogger.Level = "debug"
	}
	if env.Log, err = cfg.Logging.Prepare(); err != nil {
		return ctx, fmt.Errorf("unable to prepare logs: %w", err)
	}
	env.RedirectStdLog()

	if err := env.Configure(cfg); err != nil {
		return ctx, err
	}

	env.Log.Debug("Program started", zap.Strings("args", os.Args), zap.String("ver", misc.GetVersion()),
		zap.String("runtime", runtime.Version()), zap.String("hash", misc.GetGitHash()), zap.String("projects", env.ProjectsDir))
	if len(configFile) == 0 {
		env.Log.Debug("Using defaults (no configuration file)")
	}
	return ctx, nil
}

func destroyAppContext(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)

	env.Log.Debug("Program ended", zap.Duration("elapsed", env.Uptime()), zap.Strings("parsed args", cmd.Args().Slice()))

	// close logging
	env.RestoreStdLog()
	return nil
}

// Errors from subcommands are regular errors, they are reported once either
// by exitErrHandler or on exit directly to stderr.
var errWasHandled bool

// this is called before appContext is destroyed, so we have a chance to
// properly log any error from subcommand
func exitErrHandler(ctx context.Context, _ *cli.Command, err error) {
	env := state.EnvFromContext(ctx)

	if env.Cfg != nil {
		env.Log.Error("Program ended with error", zap.Error(err))
		errWasHandled = true
	}
}

func usageErrorHandler(_ context.Context, _ *cli.Command, err error, _ bool) error {
	return err
}

func subcommandNotFoundHandler(ctx context.Context, _ *cli.Command, name string) {
	state.EnvFromContext(ctx).Log.Warn("Unknown command, nothing to do", zap.String("command", name))
}

func main() {

	// interrupt abandons pending writes, seed data is still saved
	ctx, stop := signal.NotifyContext(state.ContextWithEnv(context.Background()), os.Interrupt, syscall.SIGTERM)

	app := &cli.Command{
		Name:            misc.GetAppName(),
		Usage:           "state persistence engine for course projects",
		Version:         misc.GetVersion() + " (" + runtime.Version() + ") : " + misc.GetGitHash(),
		HideHelpCommand: true,
		Before:          initializeAppContext,
		After:           destroyAppContext,
		OnUsageError:    usageErrorHandler,
		ExitErrHandler:  exitErrHandler,
		CommandNotFound: subcommandNotFoundHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, DefaultText: "", Usage: "load configuration from `FILE` (YAML)"},
			&cli.StringFlag{Name: "projects", Aliases: []string{"p"}, Usage: "use projects `DIRECTORY` instead of configured one"},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "output debug messages to console"},
		},
		Commands: []*cli.Command{
			{
				Name:         "create",
				Usage:        "Creates new empty project",
				ArgsUsage:    "[NAME]",
				OnUsageError: usageErrorHandler,
				Action:       commands.Create,
			},
			{
				Name:         "list",
				Usage:        "Lists projects, most recently modified first",
				OnUsageError: usageErrorHandler,
				Action:       commands.List,
			},
			{
				Name:         "open",
				Usage:        "Loads project, reconstructing content when necessary, and prints its state (JSON)",
				ArgsUsage:    "PROJECT",
				OnUsageError: usageErrorHandler,
				Action:       commands.Open,
			},
			{
				Name:         "import",
				Usage:        "Replaces project content with course JSON document",
				ArgsUsage:    "PROJECT FILE",
				OnUsageError: usageErrorHandler,
				Action:       commands.ImportContent,
			},
			{
				Name:         "sweep",
				Usage:        "Removes references to missing media from project content",
				ArgsUsage:    "PROJECT",
				OnUsageError: usageErrorHandler,
				Action:       commands.Sweep,
			},
			{
				Name:         "clear",
				Usage:        "Clears project content and deletes all its media",
				ArgsUsage:    "PROJECT",
				OnUsageError: usageErrorHandler,
				Action:       commands.Clear,
			},
			{
				Name:         "step",
				Usage:        "Moves project to the next, previous or already visited wizard step",
				ArgsUsage:    "PROJECT [next|back|STEP]",
				OnUsageError: usageErrorHandler,
				Action:       commands.Step,
			},
			{
				Name:  "media",
				Usage: "Manages project media",
				Commands: []*cli.Command{
					{
						Name:      "add",
						Usage:     "Stores file as project media and prints its id",
						ArgsUsage: "PROJECT FILE",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "page", Usage: "`ID` of the page media belongs to"},
							&cli.StringFlag{Name: "type", Usage: "media `TYPE`, detected from content when absent"},
							&cli.StringFlag{Name: "title", Usage: "media `TITLE`"},
						},
						OnUsageError: usageErrorHandler,
						Action:       commands.AddMedia,
					},
					{
						Name:         "list",
						Usage:        "Lists project media",
						ArgsUsage:    "PROJECT",
						OnUsageError: usageErrorHandler,
						Action:       commands.ListMedia,
					},
					{
						Name:      "migrate",
						Usage:     "Assigns project media to pages derived from media ids",
						ArgsUsage: "PROJECT",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "dry-run", Usage: "only report media with wrong page"},
						},
						OnUsageError: usageErrorHandler,
						Action:       commands.MigrateMedia,
					},
				},
			},
			{
				Name:         "delete",
				Usage:        "Deletes project with its content and media",
				ArgsUsage:    "PROJECT",
				OnUsageError: usageErrorHandler,
				Action:       commands.Delete,
			},
			{
				Name:         "export",
				Usage:        "Writes project with content and media into zip archive",
				ArgsUsage:    "PROJECT [ARCHIVE]",
				OnUsageError: usageErrorHandler,
				Action:       commands.Export,
			},
			{
				Name:         "restore",
				Usage:        "Creates new project from zip archive made by export",
				ArgsUsage:    "ARCHIVE",
				OnUsageError: usageErrorHandler,
				Action:       commands.Restore,
			},
			{
				Name:         "recover",
				Usage:        "Replaces project file with its backup copy",
				ArgsUsage:    "PROJECT",
				OnUsageError: usageErrorHandler,
				Action:       commands.Recover,
			},
			{
				Name:  "dumpconfig",
				Usage: "Dumps either default or actual configuration (YAML)",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "default", Usage: "output default embedded configuration"},
				},
				OnUsageError: usageErrorHandler,
				Action:       outputConfiguration,
				ArgsUsage:    "DESTINATION",
				CustomHelpTemplate: fmt.Sprintf(`%s

DESTINATION:
    file name to write configuration to, if absent - STDOUT

Produces file with actual "active" configuration values which is composition of
default values and values specified in configuration file. To see default
configuration embedded into the program use --default flag.
`, cli.CommandHelpTemplate),
			},
		},
	}

	var err error
	// NOTE: os.Exit is called at the end of main to set exit code, make sure
	// there are no other deffered functions after that
	defer func() {
		stop()
		if err != nil {
			// log may be not set yet (argument parsing) or already closed,
			// report errors to stderr directly
			if !errWasHandled {
				fmt.Fprintf(os.Stderr, "Program ended with error: %v\n", err)
			}
			os.Exit(1)
		}
	}()
	err = app.Run(ctx, os.Args)
}

func outputConfiguration(ctx context.Context, cmd *cli.Command) error {

	env := state.EnvFromContext(ctx)
	if cmd.Args().Len() > 1 {
		env.Log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[1:]))
	}

	fname := cmd.Args().Get(0)

	var (
		err   error
		data  []byte
		state string
	)

	out := os.Stdout
	if len(fname) > 0 {
		out, err = os.Create(fname)
		if err != nil {
			return fmt.Errorf("unable to create destination file '%s': %w", fname, err)
		}
		defer out.Close()
	}

	if cmd.Bool("default") {
		state = "default"
		data, err = config.Prepare()
	} else {
		state = "actual"
		data, err = config.Dump(env.Cfg)
	}
	if err != nil {
		return fmt.Errorf("unable to get configuration: %w", err)
	}

	if len(fname) == 0 {
		fname = "STDOUT"
	}
	env.Log.Info("Outputing configuration", zap.String("state", state), zap.String("file", fname))

	_, err = out.Write(data)
	if err != nil {
		return fmt.Errorf("unable to write configuration: %w", err)
	}
	return nil
}
