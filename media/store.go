// Package media keeps binary assets of course projects on disk:
// <root>/<projectID>/media/<id>.bin with <id>.json metadata next to it.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/maruel/natural"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	dirName  = "media"
	dataExt  = ".bin"
	metaExt  = ".json"
	typeFile = "file"
)

// ErrBadID is returned for asset and project ids which could not be used as
// file names.
var ErrBadID = errors.New("bad media id")

// Metadata describes stored asset. Field names are shared with older
// versions of the program.
type Metadata struct {
	PageID       string `json:"page_id"`
	Type         string `json:"type"`
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type,omitempty"`
	Source       string `json:"source,omitempty"`
	EmbedURL     string `json:"embed_url,omitempty"`
	Title        string `json:"title,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	Size         int64  `json:"size,omitempty"`
}

// Asset is stored media with its data.
type Asset struct {
	ID       string
	Data     []byte
	Metadata Metadata
}

// Item is listing entry, data is not loaded.
type Item struct {
	ID       string
	Metadata Metadata
}

// Store is file system media store. It is safe for concurrent use.
type Store struct {
	log  *zap.Logger
	root string
	// serializes id allocation and name deduplication
	mu sync.Mutex
}

func NewStore(root string, log *zap.Logger) *Store {
	return &Store{log: log.Named("media"), root: root}
}

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func checkID(id string) error {
	if !validID.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrBadID, id)
	}
	return nil
}

func (s *Store) dir(projectID string) (string, error) {
	if err := checkID(projectID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, projectID, dirName), nil
}

func (s *Store) paths(projectID, id string) (string, string, error) {
	dir, err := s.dir(projectID)
	if err != nil {
		return "", "", err
	}
	if err := checkID(id); err != nil {
		return "", "", err
	}
	return filepath.Join(dir, id+dataExt), filepath.Join(dir, id+metaExt), nil
}

// Put stores new asset and returns its generated id "<type>-<n>".
func (s *Store) Put(ctx context.Context, projectID string, data []byte, meta Metadata) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.list(ctx, projectID)
	if err != nil {
		return "", err
	}
	detect(&meta, data)
	prefix := meta.Type
	if len(prefix) == 0 || checkID(prefix) != nil {
		prefix = typeFile
	}
	id := nextID(prefix, items)
	if err := s.put(ctx, projectID, id, data, meta, items); err != nil {
		return "", err
	}
	return id, nil
}

// PutWithID stores asset under given id replacing previous one.
func (s *Store) PutWithID(ctx context.Context, projectID, id string, data []byte, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.list(ctx, projectID)
	if err != nil {
		return err
	}
	detect(&meta, data)
	return s.put(ctx, projectID, id, data, meta, items)
}

// put expects meta to be already filled by detect.
func (s *Store) put(ctx context.Context, projectID, id string, data []byte, meta Metadata, items []Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dataPath, metaPath, err := s.paths(projectID, id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0755); err != nil {
		return fmt.Errorf("unable to create media directory: %w", err)
	}

	if len(meta.OriginalName) > 0 {
		taken := make([]string, 0, len(items))
		for _, it := range items {
			if it.ID != id {
				taken = append(taken, it.Metadata.OriginalName)
			}
		}
		if name := uniqueName(meta.OriginalName, taken); name != meta.OriginalName {
			s.log.Debug("Renamed duplicate media file", zap.String("from", meta.OriginalName), zap.String("to", name))
			meta.OriginalName = name
		}
	}

	doc, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to encode media metadata: %w", err)
	}
	if err := os.WriteFile(dataPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write media data: %w", err)
	}
	if err := os.WriteFile(metaPath, doc, 0644); err != nil {
		return fmt.Errorf("failed to write media metadata: %w", err)
	}
	s.log.Debug("Media stored", zap.String("project", projectID), zap.String("id", id), zap.Int("bytes", len(data)))
	return nil
}

// GetMedia returns stored asset or nil when there is no such asset.
func (s *Store) GetMedia(ctx context.Context, projectID, id string) (*Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dataPath, metaPath, err := s.paths(projectID, id)
	if err != nil {
		return nil, err
	}
	meta, err := readMetadata(metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read media data: %w", err)
	}
	return &Asset{ID: id, Data: data, Metadata: *meta}, nil
}

// Exists reports whether both data and metadata of the asset are present.
func (s *Store) Exists(ctx context.Context, projectID, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dataPath, metaPath, err := s.paths(projectID, id)
	if err != nil {
		return false, err
	}
	for _, p := range []string{dataPath, metaPath} {
		_, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

// Delete removes asset, deleting absent asset is not an error.
func (s *Store) Delete(ctx context.Context, projectID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dataPath, metaPath, err := s.paths(projectID, id)
	if err != nil {
		return err
	}
	return multierr.Combine(removeIfExists(dataPath), removeIfExists(metaPath))
}

// DeleteAllMedia removes every asset of the project.
func (s *Store) DeleteAllMedia(ctx context.Context, projectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.dir(projectID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to read media directory: %w", err)
	}
	var errs error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == dataExt || ext == metaExt {
			errs = multierr.Append(errs, removeIfExists(filepath.Join(dir, e.Name())))
		}
	}
	if errs != nil {
		return fmt.Errorf("unable to delete media of project %s: %w", projectID, errs)
	}
	s.log.Info("All media deleted", zap.String("project", projectID), zap.Int("files", len(entries)))
	return nil
}

// List returns all assets of the project in natural id order. Assets with
// missing data or unreadable metadata are skipped.
func (s *Store) List(ctx context.Context, projectID string) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(ctx, projectID)
}

func (s *Store) list(ctx context.Context, projectID string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.dir(projectID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read media directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == metaExt {
			ids = append(ids, strings.TrimSuffix(e.Name(), metaExt))
		}
	}
	sort.Sort(natural.StringSlice(ids))

	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		if checkID(id) != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, id+dataExt)); err != nil {
			s.log.Warn("Media metadata without data", zap.String("project", projectID), zap.String("id", id))
			continue
		}
		meta, err := readMetadata(filepath.Join(dir, id+metaExt))
		if err != nil {
			s.log.Warn("Skipping unreadable media metadata", zap.String("project", projectID), zap.String("id", id), zap.Error(err))
			continue
		}
		items = append(items, Item{ID: id, Metadata: *meta})
	}
	return items, nil
}

func nextID(prefix string, items []Item) string {
	next := 0
	for _, it := range items {
		n, ok := strings.CutPrefix(it.ID, prefix+"-")
		if !ok {
			continue
		}
		if v, err := strconv.Atoi(n); err == nil && v >= next {
			next = v + 1
		}
	}
	return prefix + "-" + strconv.Itoa(next)
}

func readMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse media metadata: %w", err)
	}
	return &meta, nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
