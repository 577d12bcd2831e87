package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"scbe/media"
	"scbe/state"
)

type mediaItem struct {
	ID       string         `json:"id"`
	Metadata media.Metadata `json:"metadata"`
}

// mediaStore opens project only to learn its id and media location.
func mediaStore(ctx context.Context, env *state.LocalEnv, idOrPath string) (_ *media.Store, id string, err error) {
	p, err := manager(env).Open(ctx, idOrPath)
	if err != nil {
		return nil, "", err
	}
	defer func() { err = multierr.Append(err, p.Close()) }()
	return media.NewStore(filepath.Dir(p.DataDir()), env.Log), p.ID(), nil
}

// AddMedia stores file as project media asset and prints its id.
func AddMedia(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	id, err := projectArg(cmd, env.Log, 2)
	if err != nil {
		return err
	}
	src := cmd.Args().Get(1)
	if len(src) == 0 {
		return errors.New("no media file has been specified")
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("unable to read media file: %w", err)
	}

	ms, projectID, err := mediaStore(ctx, env, id)
	if err != nil {
		return err
	}
	mediaID, err := ms.Put(ctx, projectID, data, media.Metadata{
		PageID:       cmd.String("page"),
		Type:         cmd.String("type"),
		OriginalName: filepath.Base(src),
		Title:        cmd.String("title"),
	})
	if err != nil {
		return err
	}
	env.Log.Info("Media stored", zap.String("project", projectID), zap.String("id", mediaID))
	fmt.Println(mediaID)
	return nil
}

// ListMedia prints stored media assets of the project.
func ListMedia(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	id, err := projectArg(cmd, env.Log, 1)
	if err != nil {
		return err
	}
	ms, projectID, err := mediaStore(ctx, env, id)
	if err != nil {
		return err
	}
	items, err := ms.List(ctx, projectID)
	if err != nil {
		return err
	}
	out := make([]mediaItem, 0, len(items))
	for _, it := range items {
		out = append(out, mediaItem{ID: it.ID, Metadata: it.Metadata})
	}
	return printJSON(out)
}

// MigrateMedia assigns every media asset to the page derived from its id.
// With --dry-run mismatches are only reported.
func MigrateMedia(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	id, err := projectArg(cmd, env.Log, 1)
	if err != nil {
		return err
	}
	ms, projectID, err := mediaStore(ctx, env, id)
	if err != nil {
		return err
	}
	check := ms.MigratePageIDs
	if cmd.Bool("dry-run") {
		check = ms.ValidatePageIDs
	}
	report, err := check(ctx, projectID)
	if err != nil {
		return err
	}
	if report.Log == nil {
		report.Log = []string{}
	}
	return printJSON(struct {
		Valid   int      `json:"valid"`
		Invalid int      `json:"invalid"`
		Fixed   int      `json:"fixed"`
		Log     []string `json:"log"`
	}{report.Valid, report.Invalid(), report.Fixed, report.Log})
}
