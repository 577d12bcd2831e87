package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"scbe/course"
)

var (
	// ErrUnavailable is returned when project storage could not be reached,
	// including any access to closed project.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrNotFound is returned when project could not be located.
	ErrNotFound = errors.New("project not found")
	// ErrWriteCancelled is returned for writes abandoned by CancelPending.
	ErrWriteCancelled = errors.New("pending write cancelled")
)

var jsonNull = json.RawMessage("null")

// projectFile is the on-disk project document.
type projectFile struct {
	Project     course.ProjectInfo     `json:"project"`
	CourseData  *course.CourseMetadata `json:"courseData,omitempty"`
	CurrentStep string                 `json:"currentStep,omitempty"`
}

// Project is an opened course project: project file plus keyed content
// blobs. It is safe for concurrent use.
type Project struct {
	log    *zap.Logger
	backup bool
	now    func() time.Time

	path    string
	dataDir string
	db      *contentDB

	mu     sync.Mutex
	file   projectFile
	closed bool

	// writes are serialized, generation is bumped by CancelPending
	writeMu sync.Mutex
	gen     atomic.Uint64
	pending atomic.Int32
}

func (p *Project) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file.Project.ID
}

// Info returns project identity and location.
func (p *Project) Info() course.ProjectInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := p.file.Project
	info.Path = p.path
	return info
}

// DataDir is the directory holding project content database and media.
func (p *Project) DataDir() string {
	return p.dataDir
}

// CurrentStep returns step name mirrored into project file, if any.
func (p *Project) CurrentStep() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file.CurrentStep
}

// SetCurrentStep mirrors step name into project file, it becomes durable on
// next SaveProject.
func (p *Project) SetCurrentStep(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.file.CurrentStep = name
}

// GetContent returns blob stored under key. Absent keys and stored nulls are
// reported as nil blob without error.
func (p *Project) GetContent(ctx context.Context, key string) (json.RawMessage, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}
	value, found, err := p.db.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found || isNull(value) {
		return nil, nil
	}
	return json.RawMessage(value), nil
}

// SaveContent stores blob under key, nil blob is stored as JSON null.
func (p *Project) SaveContent(ctx context.Context, key string, blob json.RawMessage) error {
	if blob == nil {
		blob = jsonNull
	}
	if !json.Valid(blob) {
		return fmt.Errorf("unable to save %q: value is not valid JSON", key)
	}
	return p.write(ctx, func() error {
		return p.db.put(ctx, key, blob, p.now())
	})
}

// Keys lists all stored content keys.
func (p *Project) Keys(ctx context.Context) ([]string, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}
	return p.db.keys(ctx)
}

// GetCourseMetadata returns copy of course metadata kept in project file.
func (p *Project) GetCourseMetadata(_ context.Context) (*course.CourseMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrUnavailable
	}
	if p.file.CourseData == nil {
		return nil, nil
	}
	return course.FoldSeed(p.file.CourseData, nil), nil
}

// SaveCourseMetadata replaces course metadata, it becomes durable on next
// SaveProject.
func (p *Project) SaveCourseMetadata(_ context.Context, meta *course.CourseMetadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrUnavailable
	}
	if meta != nil {
		meta = course.FoldSeed(meta, nil)
	}
	p.file.CourseData = meta
	return nil
}

// SaveProject flushes project file to disk. Previous file is preserved as
// backup when enabled, new content replaces old one atomically.
func (p *Project) SaveProject(ctx context.Context) error {
	return p.write(ctx, func() error {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrUnavailable
		}
		p.file.Project.LastModified = p.now().UTC()
		doc := p.file
		doc.Project.Path = ""
		p.mu.Unlock()

		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("unable to encode project file: %w", err)
		}
		if p.backup {
			if err := copyIfExists(p.path, p.path+BackupExt); err != nil {
				p.log.Warn("Unable to backup project file", zap.String("file", p.path), zap.Error(err))
			}
		}
		if err := writeFileAtomic(p.path, data); err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		p.log.Debug("Project saved", zap.String("file", p.path))
		return nil
	})
}

// CancelPending abandons all writes which were issued but did not start yet.
// Writes issued later are not affected.
func (p *Project) CancelPending() {
	p.gen.Add(1)
}

// Pending returns number of writes waiting for their turn.
func (p *Project) Pending() int {
	return int(p.pending.Load())
}

// Close waits for write in progress and releases project resources. Any
// further access returns ErrUnavailable.
func (p *Project) Close() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	return p.db.close()
}

func (p *Project) usable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrUnavailable
	}
	return nil
}

func (p *Project) write(ctx context.Context, fn func() error) error {
	gen := p.gen.Load()

	p.pending.Add(1)
	p.writeMu.Lock()
	p.pending.Add(-1)
	defer p.writeMu.Unlock()

	if p.gen.Load() != gen {
		return ErrWriteCancelled
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.usable(); err != nil {
		return err
	}
	return fn()
}

func isNull(v []byte) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, jsonNull)
}
