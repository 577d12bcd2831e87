// Package commands implements command line actions of the program.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"scbe/engine"
	"scbe/state"
	"scbe/store"
)

func manager(env *state.LocalEnv) *store.Manager {
	return store.NewManager(env.ProjectsDir, &env.Cfg.Storage, env.Log)
}

func newEngine(env *state.LocalEnv, m *store.Manager) *engine.Engine {
	return engine.New(engine.NewOpener(m, env.Log), engine.Options{
		Engine:   env.Cfg.Engine,
		Autosave: env.Cfg.Autosave,
	}, env.Log)
}

// projectArg returns the first argument, complaining about extra ones.
func projectArg(cmd *cli.Command, log *zap.Logger, max int) (string, error) {
	id := cmd.Args().Get(0)
	if len(id) == 0 {
		return "", errors.New("no project has been specified")
	}
	if cmd.Args().Len() > max {
		log.Warn("Malformed command line, too many arguments", zap.Strings("ignoring", cmd.Args().Slice()[max:]))
	}
	return id, nil
}

// withProject opens project in a new engine, runs fn and closes project.
// When interrupted project is shut down instead, abandoning pending writes.
func withProject(ctx context.Context, env *state.LocalEnv, id string, fn func(e *engine.Engine, snap *engine.Snapshot) error) (err error) {
	e := newEngine(env, manager(env))
	defer func() {
		if ctx.Err() != nil {
			err = multierr.Append(err, e.Shutdown(context.Background()))
			return
		}
		err = multierr.Append(err, e.Close(ctx))
	}()

	snap, err := e.RequestOpen(ctx, id)
	if err != nil {
		return err
	}
	e.StartAutosave(ctx)
	return fn(e, snap)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("unable to write output: %w", err)
	}
	return nil
}
