package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"
)

// Recovery describes backup copy of a project file.
type Recovery struct {
	HasBackup  bool
	BackupPath string
	BackupTime time.Time
}

// CheckRecovery reports whether backup copy of project file exists.
func (m *Manager) CheckRecovery(idOrPath string) (*Recovery, error) {
	path, err := m.locate(idOrPath)
	if err != nil {
		return nil, err
	}
	backup := path + BackupExt
	fi, err := os.Stat(backup)
	if errors.Is(err, fs.ErrNotExist) {
		return &Recovery{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to check backup (%s): %w", backup, err)
	}
	return &Recovery{HasBackup: true, BackupPath: backup, BackupTime: fi.ModTime()}, nil
}

// Recover replaces project file with its backup copy. Backup must be a
// readable project file. Project must not be open.
func (m *Manager) Recover(ctx context.Context, idOrPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := m.locate(idOrPath)
	if err != nil {
		return "", err
	}
	backup := path + BackupExt
	if _, err := readProjectFile(backup); err != nil {
		return "", fmt.Errorf("unable to use backup (%s): %w", backup, err)
	}
	data, err := os.ReadFile(backup)
	if err != nil {
		return "", fmt.Errorf("unable to read backup (%s): %w", backup, err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	m.log.Info("Project restored from backup", zap.String("file", path))
	return path, nil
}
