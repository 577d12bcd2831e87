// Package engine keeps state of the opened course project: it loads and
// reconstructs content, tracks unsaved changes and writes them back.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"scbe/autosave"
	"scbe/config"
	"scbe/course"
	"scbe/media"
	"scbe/resolve"
	"scbe/steps"
	"scbe/store"
)

var (
	// ErrNoProject is returned by operations which need opened project.
	ErrNoProject = errors.New("no project is open")
	// ErrClearAborted is returned when content could not be cleared, media
	// was not touched.
	ErrClearAborted = errors.New("clear content aborted")
	// ErrSuperseded is returned to requests for a project whose load was
	// replaced by request for another project.
	ErrSuperseded = errors.New("project load superseded")
)

// Store is project storage used by the engine.
type Store interface {
	resolve.Reader
	ID() string
	Keys(ctx context.Context) ([]string, error)
	SaveContent(ctx context.Context, key string, blob json.RawMessage) error
	SaveCourseMetadata(ctx context.Context, meta *course.CourseMetadata) error
	SaveProject(ctx context.Context) error
	CurrentStep() string
	SetCurrentStep(name string)
	CancelPending()
	Close() error
}

// Media is project media storage used by the engine.
type Media interface {
	Exists(ctx context.Context, projectID, id string) (bool, error)
	DeleteAllMedia(ctx context.Context, projectID string) error
}

// Opener opens project storage by project id or path.
type Opener interface {
	Open(ctx context.Context, idOrPath string) (Store, Media, error)
}

type managerOpener struct {
	m   *store.Manager
	log *zap.Logger
}

// NewOpener opens projects with manager, media of every project lives next to
// its content database.
func NewOpener(m *store.Manager, log *zap.Logger) Opener {
	return &managerOpener{m: m, log: log}
}

func (o *managerOpener) Open(ctx context.Context, idOrPath string) (Store, Media, error) {
	p, err := o.m.Open(ctx, idOrPath)
	if err != nil {
		return nil, nil, err
	}
	return p, media.NewStore(filepath.Dir(p.DataDir()), o.log), nil
}

// Options of the engine.
type Options struct {
	Engine   config.EngineConfig
	Autosave config.AutosaveConfig
	Notifier Notifier
	Clock    autosave.Clock
}

// Snapshot is state of opened project handed to the user interface.
type Snapshot struct {
	ProjectID string                 `json:"projectId"`
	Content   *course.CourseContent  `json:"content"`
	Seed      *course.CourseSeedData `json:"seedData"`
	Step      steps.Step             `json:"step"`
	Visited   []steps.Step           `json:"visited"`
	Tier      string                 `json:"tier,omitempty"`
	Repairs   []string               `json:"repairs,omitempty"`
}

// session is the opened project. Content and seed are never modified in
// place, they are replaced with new values.
type session struct {
	id      string
	store   Store
	media   Media
	content *course.CourseContent
	seed    *course.CourseSeedData
	gate    *steps.Gate
	tier    resolve.Tier
	repairs []string
	// orphan sweep is due after the next commit
	sweep bool
}

type Engine struct {
	log      *zap.Logger
	cfg      config.EngineConfig
	autoCfg  config.AutosaveConfig
	opener   Opener
	resolver *resolve.Resolver
	notifier Notifier

	tracker   *autosave.Tracker
	debouncer *autosave.Debouncer
	scheduler *autosave.Scheduler

	loads loads

	mu   sync.Mutex
	sess *session
}

func New(opener Opener, opts Options, log *zap.Logger) *Engine {
	log = log.Named("engine")
	if opts.Notifier == nil {
		opts.Notifier = NewLogNotifier(log)
	}
	if opts.Clock == nil {
		opts.Clock = autosave.SystemClock
	}
	if opts.Engine.MaxRedundantLoads < 1 {
		opts.Engine.MaxRedundantLoads = 5
	}
	if opts.Engine.SweepConcurrency < 1 {
		opts.Engine.SweepConcurrency = 8
	}

	e := &Engine{
		log:      log,
		cfg:      opts.Engine,
		autoCfg:  opts.Autosave,
		opener:   opener,
		resolver: resolve.New(log),
		notifier: opts.Notifier,
		tracker:  autosave.NewTracker(opts.Clock),
	}
	e.debouncer = autosave.NewDebouncer(e.tracker, opts.Autosave.Debounce, opts.Clock)
	e.scheduler = autosave.NewScheduler(e.tracker, e.commit, autosave.Options{
		Interval:    opts.Autosave.Interval,
		MinInterval: opts.Autosave.MinInterval,
		Clock:       opts.Clock,
		IsOpen:      func() bool { return e.current() != nil },
		OnAutosaveError: func(err error) {
			e.notifier.Notify(Warning, fmt.Sprintf("Autosave failed: %v", err))
		},
	}, log)
	return e
}

func (e *Engine) current() *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess
}

// Snapshot returns current state of opened project.
func (e *Engine) Snapshot() (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil, ErrNoProject
	}
	return e.snapshotLocked(), nil
}

func (e *Engine) snapshotLocked() *Snapshot {
	s := e.sess
	return &Snapshot{
		ProjectID: s.id,
		Content:   s.content,
		Seed:      s.seed,
		Step:      s.gate.Current(),
		Visited:   s.gate.VisitedSteps(),
		Tier:      s.tier.String(),
		Repairs:   s.repairs,
	}
}

// Status is passive save indicator.
func (e *Engine) Status() autosave.Status {
	return e.tracker.Status()
}

// MarkDirty flags section as having unsaved changes.
func (e *Engine) MarkDirty(s autosave.Section) {
	e.tracker.MarkDirty(s)
}

// StartAutosave begins periodic automatic commits when enabled by
// configuration.
func (e *Engine) StartAutosave(ctx context.Context) {
	if !e.autoCfg.Enable {
		e.log.Debug("Autosave disabled")
		return
	}
	e.scheduler.Start(ctx)
}

// Close commits unsaved changes of opened project and closes it.
func (e *Engine) Close(ctx context.Context) error {
	e.scheduler.Stop()
	e.debouncer.Flush()

	var err error
	if e.current() != nil && e.tracker.HasUnsavedChanges() {
		if er := e.scheduler.Save(ctx); er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to save project before closing: %w", er))
		}
	}
	return multierr.Append(err, e.detach())
}

// Shutdown is called when program exits. Writes which did not start yet are
// abandoned, seed data is saved synchronously as a last resort and project
// is closed.
func (e *Engine) Shutdown(ctx context.Context) (err error) {
	e.scheduler.Stop()
	e.debouncer.Stop()

	sess := e.current()
	if sess == nil {
		return nil
	}
	sess.store.CancelPending()

	e.mu.Lock()
	seed := sess.seed
	e.mu.Unlock()
	if seed != nil {
		if er := saveJSON(ctx, sess.store, store.KeySeed, seed); er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to save seed data on shutdown: %w", er))
		}
	}
	err = multierr.Append(err, e.detach())

	e.log.Debug("Engine shut down", zap.String("project", sess.id), zap.Error(err))
	return err
}

// detach closes opened project, if any, and forgets load tracking.
func (e *Engine) detach() error {
	e.loads.reset()

	return e.scheduler.Exclusive(func() error {
		e.mu.Lock()
		sess := e.sess
		e.sess = nil
		e.mu.Unlock()

		if sess == nil {
			return nil
		}
		if err := sess.store.Close(); err != nil {
			return fmt.Errorf("unable to close project %s: %w", sess.id, err)
		}
		e.log.Debug("Project closed", zap.String("project", sess.id))
		return nil
	})
}

func saveJSON(ctx context.Context, st Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("unable to encode %s: %w", key, err)
	}
	if err := st.SaveContent(ctx, key, data); err != nil {
		return fmt.Errorf("unable to save %s: %w", key, err)
	}
	return nil
}
