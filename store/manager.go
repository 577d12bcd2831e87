package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maruel/natural"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"scbe/config"
	"scbe/course"
)

// Manager creates, locates and removes projects kept in a single directory.
type Manager struct {
	log          *zap.Logger
	dir          string
	nameTemplate string
	backup       bool
	now          func() time.Time
}

func NewManager(dir string, cfg *config.StorageConfig, log *zap.Logger) *Manager {
	return &Manager{
		log:          log.Named("store"),
		dir:          dir,
		nameTemplate: cfg.NameTemplate,
		backup:       cfg.Backup,
		now:          time.Now,
	}
}

// Dir returns projects directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Create makes new empty project.
func (m *Manager) Create(ctx context.Context, name string) (*Project, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("unable to generate project id: %w", err)
	}
	return m.create(ctx, projectFile{Project: course.ProjectInfo{ID: id.String(), Name: name}})
}

func (m *Manager) create(ctx context.Context, doc projectFile) (*Project, error) {
	doc.Project.Name = strings.TrimSpace(doc.Project.Name)
	if len(doc.Project.Name) == 0 {
		doc.Project.Name = config.UntitledName
	}
	now := m.now().UTC()
	doc.Project.Created, doc.Project.LastModified = now, now

	fileName, err := projectFileName(m.nameTemplate, doc.Project.Name, doc.Project.ID, now)
	if err != nil {
		return nil, fmt.Errorf("unable to build project file name: %w", err)
	}

	dataDir := filepath.Join(m.dir, doc.Project.ID)
	if err := os.MkdirAll(filepath.Join(dataDir, mediaDirName), 0755); err != nil {
		return nil, fmt.Errorf("unable to create project directory (%s): %w", dataDir, err)
	}
	p, err := m.newProject(filepath.Join(m.dir, fileName), dataDir, doc)
	if err != nil {
		return nil, err
	}
	if err := p.SaveProject(ctx); err != nil {
		return nil, multierr.Append(err, p.Close())
	}
	m.log.Info("Project created", zap.String("id", doc.Project.ID), zap.String("file", p.path))
	return p, nil
}

// Open opens existing project by id or by project file path. Damaged project
// file is replaced by backup copy when one is available.
func (m *Manager) Open(ctx context.Context, idOrPath string) (*Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := m.locate(idOrPath)
	if err != nil {
		return nil, err
	}

	doc, err := readProjectFile(path)
	if err != nil {
		backup, berr := readProjectFile(path + BackupExt)
		if berr != nil {
			return nil, fmt.Errorf("unable to read project file (%s): %w", path, err)
		}
		m.log.Warn("Project file is damaged, using backup", zap.String("file", path), zap.Error(err))
		doc = backup
	}
	if len(doc.Project.ID) == 0 {
		doc.Project.ID = ExtractProjectID(path)
		if doc.Project.ID == path {
			return nil, fmt.Errorf("unable to determine project id (%s)", path)
		}
	}

	dataDir := filepath.Join(filepath.Dir(path), doc.Project.ID)
	if err := os.MkdirAll(filepath.Join(dataDir, mediaDirName), 0755); err != nil {
		return nil, fmt.Errorf("unable to create project directory (%s): %w", dataDir, err)
	}
	p, err := m.newProject(path, dataDir, *doc)
	if err != nil {
		return nil, err
	}
	m.log.Debug("Project opened", zap.String("id", doc.Project.ID), zap.String("file", path))
	return p, nil
}

func (m *Manager) newProject(path, dataDir string, doc projectFile) (*Project, error) {
	db, err := openContentDB(filepath.Join(dataDir, contentDBName))
	if err != nil {
		return nil, err
	}
	return &Project{
		log:     m.log.With(zap.String("project", doc.Project.ID)),
		backup:  m.backup,
		now:     m.now,
		path:    path,
		dataDir: dataDir,
		db:      db,
		file:    doc,
	}, nil
}

// List returns all projects in directory, most recently modified first.
// Unreadable project files are skipped.
func (m *Manager) List(ctx context.Context) ([]course.ProjectInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("unable to read projects directory (%s): %w", m.dir, err)
	}

	var projects []course.ProjectInfo
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), ProjectExt) {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		doc, err := readProjectFile(path)
		if err != nil {
			m.log.Warn("Skipping unreadable project file", zap.String("file", path), zap.Error(err))
			continue
		}
		info := doc.Project
		info.Path = path
		if len(info.ID) == 0 {
			info.ID = ExtractProjectID(path)
		}
		if len(info.Name) == 0 {
			info.Name = doc.CourseData.Name()
		}
		projects = append(projects, info)
	}

	sort.SliceStable(projects, func(i, j int) bool {
		a, b := projects[i], projects[j]
		if !a.LastModified.Equal(b.LastModified) {
			return a.LastModified.After(b.LastModified)
		}
		if a.Name != b.Name {
			return natural.Less(a.Name, b.Name)
		}
		return a.ID < b.ID
	})
	return projects, nil
}

// Delete removes project file, its backup and everything stored in project
// directory. Project must not be open.
func (m *Manager) Delete(ctx context.Context, idOrPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := m.locate(idOrPath)
	if err != nil {
		return err
	}

	id := ExtractProjectID(path)
	if doc, err := readProjectFile(path); err == nil && len(doc.Project.ID) > 0 {
		id = doc.Project.ID
	}
	if id == path {
		return fmt.Errorf("unable to determine project id (%s)", path)
	}

	err = multierr.Combine(
		removeIfExists(path),
		removeIfExists(path+BackupExt),
		os.RemoveAll(filepath.Join(filepath.Dir(path), id)),
	)
	if err != nil {
		return fmt.Errorf("unable to delete project %s: %w", id, err)
	}
	m.log.Info("Project deleted", zap.String("id", id), zap.String("file", path))
	return nil
}

// locate returns path of the project file. Project file itself may be absent
// when only backup survived.
func (m *Manager) locate(idOrPath string) (string, error) {
	if strings.HasSuffix(idOrPath, ProjectExt) || strings.HasSuffix(idOrPath, ProjectExt+BackupExt) {
		path := strings.TrimSuffix(idOrPath, BackupExt)
		if exists(path) || exists(path+BackupExt) {
			return path, nil
		}
		return "", fmt.Errorf("%w: %s", ErrNotFound, idOrPath)
	}

	id := idOrPath
	if len(id) == 0 || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: bad project id %q", ErrNotFound, idOrPath)
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return "", fmt.Errorf("unable to read projects directory (%s): %w", m.dir, err)
	}
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), BackupExt)
		if e.IsDir() || !strings.HasSuffix(name, ProjectExt) {
			continue
		}
		if name == id+ProjectExt || strings.HasSuffix(name, "_"+id+ProjectExt) {
			return filepath.Join(m.dir, name), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, idOrPath)
}

func readProjectFile(path string) (*projectFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc projectFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unable to parse project file: %w", err)
	}
	return &doc, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
