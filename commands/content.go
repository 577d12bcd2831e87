package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"scbe/engine"
	"scbe/state"
	"scbe/steps"
)

// Open loads project, reconstructing its content when necessary, and prints
// resulting state.
func Open(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	id, err := projectArg(cmd, env.Log, 1)
	if err != nil {
		return err
	}
	return withProject(ctx, env, id, func(_ *engine.Engine, snap *engine.Snapshot) error {
		return printJSON(snap)
	})
}

// ImportContent replaces project content with course JSON document.
func ImportContent(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	id, err := projectArg(cmd, env.Log, 2)
	if err != nil {
		return err
	}
	src := cmd.Args().Get(1)
	if len(src) == 0 {
		return errors.New("no course JSON file has been specified")
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("unable to read course JSON: %w", err)
	}

	return withProject(ctx, env, id, func(e *engine.Engine, _ *engine.Snapshot) error {
		if _, err := e.ImportContent(data); err != nil {
			return err
		}
		return e.Save(ctx)
	})
}

// Sweep removes references to media which does not exist anymore.
func Sweep(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	id, err := projectArg(cmd, env.Log, 1)
	if err != nil {
		return err
	}
	return withProject(ctx, env, id, func(e *engine.Engine, _ *engine.Snapshot) error {
		removed, err := e.Sweep(ctx)
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			env.Log.Info("No orphaned media references found")
		}
		return nil
	})
}

// Clear discards course content and media of the project.
func Clear(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	id, err := projectArg(cmd, env.Log, 1)
	if err != nil {
		return err
	}
	return withProject(ctx, env, id, func(e *engine.Engine, _ *engine.Snapshot) error {
		return e.ClearContent(ctx)
	})
}

// Step navigates wizard: next, back or jump to visited step by name.
func Step(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	id, err := projectArg(cmd, env.Log, 2)
	if err != nil {
		return err
	}
	where := cmd.Args().Get(1)

	return withProject(ctx, env, id, func(e *engine.Engine, snap *engine.Snapshot) error {
		var (
			s   steps.Step
			err error
		)
		switch where {
		case "", "next":
			s, err = e.Next(ctx)
		case "back":
			s, err = e.Back(ctx)
		default:
			var target steps.Step
			if target, err = steps.ParseStep(where); err != nil {
				return err
			}
			s, err = e.JumpTo(ctx, target)
		}
		if err != nil {
			return err
		}
		env.Log.Info("Step changed", zap.Stringer("from", snap.Step), zap.Stringer("to", s))
		return nil
	})
}
