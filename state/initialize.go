package state

import (
	"fmt"
	"os"
	"time"

	"scbe/config"
)

// newLocalEnv creates a new LocalEnv instance with default values
func newLocalEnv() *LocalEnv {
	return &LocalEnv{
		start: time.Now(),
		Log:   nopLogger,
	}
}

// Configure installs loaded configuration and makes sure projects directory
// exists.
func (e *LocalEnv) Configure(cfg *config.Config) error {
	dir, err := cfg.Storage.ResolveProjectsDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("unable to create projects directory (%s): %w", dir, err)
	}
	e.Cfg, e.ProjectsDir = cfg, dir
	return nil
}
