package store

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/maruel/natural"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"scbe/archive"
)

// Entries of project transfer archive.
const (
	projectEntry  = "project.scormproj"
	contentPrefix = "content/"
	mediaPrefix   = "media/"
	contentSuffix = ".json"
)

// Export writes project file, all content blobs and media files of the
// project into zip archive dst.
func (m *Manager) Export(ctx context.Context, idOrPath, dst string) (err error) {
	p, err := m.Open(ctx, idOrPath)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, p.Close()) }()

	doc, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("unable to read project file (%s): %w", p.path, err)
	}

	w, err := archive.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, w.Close())
		if err != nil {
			os.Remove(dst)
		}
	}()

	if err := w.Add(projectEntry, doc); err != nil {
		return err
	}

	keys, err := p.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		blob, err := p.GetContent(ctx, key)
		if err != nil {
			return err
		}
		if blob == nil {
			continue
		}
		if err := w.Add(contentPrefix+url.PathEscape(key)+contentSuffix, blob); err != nil {
			return err
		}
	}

	mediaDir := filepath.Join(p.DataDir(), mediaDirName)
	entries, err := os.ReadDir(mediaDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unable to read media directory (%s): %w", mediaDir, err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := w.AddFile(mediaPrefix+e.Name(), filepath.Join(mediaDir, e.Name())); err != nil {
			return err
		}
	}
	m.log.Info("Project exported", zap.String("id", p.ID()), zap.String("archive", dst), zap.Int("keys", len(keys)))
	return nil
}

// Import creates new project from archive made by Export. Imported project
// always gets new id so the same archive could be imported many times.
func (m *Manager) Import(ctx context.Context, src string) (*Project, error) {
	var (
		doc      *projectFile
		contents = make(map[string][]byte)
	)
	err := archive.Walk(ctx, src, "", func(name string, f *zip.File) error {
		switch {
		case name == projectEntry:
			data, err := archive.ReadFile(f)
			if err != nil {
				return err
			}
			doc = &projectFile{}
			if err := json.Unmarshal(data, doc); err != nil {
				return fmt.Errorf("unable to parse project file: %w", err)
			}
		case strings.HasPrefix(name, contentPrefix) && strings.HasSuffix(name, contentSuffix):
			key, err := url.PathUnescape(strings.TrimSuffix(strings.TrimPrefix(name, contentPrefix), contentSuffix))
			if err != nil || len(key) == 0 {
				m.log.Warn("Skipping archive entry with bad key", zap.String("entry", name))
				return nil
			}
			data, err := archive.ReadFile(f)
			if err != nil {
				return err
			}
			if !json.Valid(data) {
				m.log.Warn("Skipping archive entry with invalid JSON", zap.String("entry", name))
				return nil
			}
			contents[key] = data
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("archive %s does not contain %s", src, projectEntry)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("unable to generate project id: %w", err)
	}
	doc.Project.ID = id.String()
	if len(doc.Project.Name) == 0 {
		doc.Project.Name = doc.CourseData.Name()
	}

	p, err := m.create(ctx, *doc)
	if err != nil {
		return nil, err
	}
	if err := m.fillImported(ctx, p, src, contents); err != nil {
		err = multierr.Combine(err, p.Close(), m.Delete(context.Background(), p.path))
		return nil, err
	}
	m.log.Info("Project imported", zap.String("id", p.ID()), zap.String("archive", src))
	return p, nil
}

func (m *Manager) fillImported(ctx context.Context, p *Project, src string, contents map[string][]byte) error {
	keys := make([]string, 0, len(contents))
	for k := range contents {
		keys = append(keys, k)
	}
	sort.Sort(natural.StringSlice(keys))
	for _, key := range keys {
		if err := p.SaveContent(ctx, key, contents[key]); err != nil {
			return err
		}
	}

	mediaDir := filepath.Join(p.DataDir(), mediaDirName)
	err := archive.Walk(ctx, src, mediaPrefix, func(name string, f *zip.File) error {
		base := strings.TrimPrefix(name, mediaPrefix)
		if strings.ContainsAny(base, `/\`) || strings.HasPrefix(base, ".") {
			m.log.Warn("Skipping unexpected media entry", zap.String("entry", name))
			return nil
		}
		return extract(f, filepath.Join(mediaDir, base))
	})
	if err != nil {
		return err
	}
	return p.SaveProject(ctx)
}

func extract(f *zip.File, dst string) (err error) {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("unable to open zip entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer func() { err = multierr.Append(err, out.Close()) }()

	if _, err = io.Copy(out, rc); err != nil {
		return fmt.Errorf("unable to extract %q: %w", f.Name, err)
	}
	return nil
}
