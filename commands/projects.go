package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"scbe/state"
)

// Create makes new empty project, arguments form its name.
func Create(ctx context.Context, cmd *cli.Command) (err error) {
	env := state.EnvFromContext(ctx)

	p, err := manager(env).Create(ctx, strings.Join(cmd.Args().Slice(), " "))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, p.Close()) }()

	env.Log.Info("Project created", zap.String("id", p.ID()), zap.String("file", p.Info().Path))
	return printJSON(p.Info())
}

// List prints all known projects, most recently modified first.
func List(ctx context.Context, _ *cli.Command) error {
	env := state.EnvFromContext(ctx)

	projects, err := manager(env).List(ctx)
	if err != nil {
		return err
	}
	env.Log.Debug("Projects found", zap.Int("count", len(projects)), zap.String("dir", env.ProjectsDir))
	return printJSON(projects)
}

func Delete(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	id, err := projectArg(cmd, env.Log, 1)
	if err != nil {
		return err
	}
	return manager(env).Delete(ctx, id)
}

// Export writes project transfer archive.
func Export(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	id, err := projectArg(cmd, env.Log, 2)
	if err != nil {
		return err
	}
	dst := cmd.Args().Get(1)
	if len(dst) == 0 {
		dst = id + ".zip"
	}
	if dst, err = filepath.Abs(dst); err != nil {
		return err
	}
	return manager(env).Export(ctx, id, dst)
}

// Restore creates new project from transfer archive.
func Restore(ctx context.Context, cmd *cli.Command) (err error) {
	env := state.EnvFromContext(ctx)
	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return errors.New("no archive has been specified")
	}
	if src, err = filepath.Abs(src); err != nil {
		return err
	}

	p, err := manager(env).Import(ctx, src)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, p.Close()) }()
	return printJSON(p.Info())
}

// Recover replaces project file with its backup copy.
func Recover(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	id, err := projectArg(cmd, env.Log, 1)
	if err != nil {
		return err
	}

	m := manager(env)
	r, err := m.CheckRecovery(id)
	if err != nil {
		return err
	}
	if !r.HasBackup {
		return fmt.Errorf("project %s has no backup", id)
	}
	env.Log.Info("Restoring project file", zap.String("backup", r.BackupPath), zap.Time("saved", r.BackupTime))
	_, err = m.Recover(ctx, id)
	return err
}
