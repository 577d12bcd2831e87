package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/maruel/natural"
	"go.uber.org/zap"

	"scbe/course"
)

// Media numbered by page: n=0 belongs to welcome page, n=1 to objectives
// and n>=2 to topic n-2.
var pagedPrefixes = []string{"audio-", "caption-", "image-", "video-"}

// ErrUnexpectedID is returned when page could not be derived from media id.
var ErrUnexpectedID = errors.New("unexpected media id")

// PageReport is the outcome of page id validation or migration.
type PageReport struct {
	// Valid counts files which already had expected page id.
	Valid int
	// Fixed counts rewritten files, always 0 for validation.
	Fixed int
	// Log has a line per mismatch or failure.
	Log []string
}

// Invalid counts files with wrong page id or which could not be processed.
func (r *PageReport) Invalid() int {
	return len(r.Log)
}

// ExpectedPageID returns page the media with id belongs to.
func ExpectedPageID(id string) (string, error) {
	if !paged(id) {
		return "", fmt.Errorf("%w: %q", ErrUnexpectedID, id)
	}
	switch {
	case strings.HasSuffix(id, "-0"):
		return course.WelcomeKey, nil
	case id == "audio-1" || id == "caption-1":
		return course.ObjectivesKey, nil
	}
	n, err := strconv.Atoi(id[strings.LastIndexByte(id, '-')+1:])
	if err != nil {
		return "", fmt.Errorf("%w: %q has no number", ErrUnexpectedID, id)
	}
	if n < 2 {
		return "", fmt.Errorf("%w: %q has no page", ErrUnexpectedID, id)
	}
	return course.TopicKey(n - 2), nil
}

func paged(id string) bool {
	for _, p := range pagedPrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// ValidatePageIDs reports media metadata whose page id does not match its
// media id. Nothing is changed.
func (s *Store) ValidatePageIDs(ctx context.Context, projectID string) (*PageReport, error) {
	return s.checkPageIDs(ctx, projectID, false)
}

// MigratePageIDs rewrites page id of every media metadata file which does
// not match its media id. Other metadata fields are kept as is.
func (s *Store) MigratePageIDs(ctx context.Context, projectID string) (*PageReport, error) {
	return s.checkPageIDs(ctx, projectID, true)
}

func (s *Store) checkPageIDs(ctx context.Context, projectID string, fix bool) (*PageReport, error) {
	dir, err := s.dir(projectID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &PageReport{}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read media directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != metaExt {
			continue
		}
		if id := strings.TrimSuffix(e.Name(), metaExt); paged(id) {
			ids = append(ids, id)
		}
	}
	sort.Sort(natural.StringSlice(ids))

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := checkPageID(filepath.Join(dir, id+metaExt), id, fix)
		switch {
		case err != nil:
			report.Log = append(report.Log, fmt.Sprintf("%s: %v", id, err))
			s.log.Warn("Unable to check media page", zap.String("project", projectID), zap.String("id", id), zap.Error(err))
		case len(line) == 0:
			report.Valid++
		default:
			report.Log = append(report.Log, line)
			if fix {
				report.Fixed++
				s.log.Debug("Media page fixed", zap.String("project", projectID), zap.String("change", line))
			}
		}
	}
	if fix {
		s.log.Info("Media page migration completed", zap.String("project", projectID), zap.Int("fixed", report.Fixed))
	}
	return report, nil
}

// checkPageID returns empty line when page id is already correct.
func checkPageID(path, id string, fix bool) (string, error) {
	want, err := ExpectedPageID(id)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("failed to parse media metadata: %w", err)
	}
	var have string
	if raw, ok := doc["page_id"]; ok {
		// non string page id is treated as absent
		_ = json.Unmarshal(raw, &have)
	}
	if have == want {
		return "", nil
	}
	if !fix {
		return fmt.Sprintf("%s: expected %q, found %q", id, want, have), nil
	}

	doc["page_id"], _ = json.Marshal(want)
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("unable to encode media metadata: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return "", fmt.Errorf("failed to write media metadata: %w", err)
	}
	return fmt.Sprintf("%s: %s -> %s", id, have, want), nil
}
