package autosave

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CommitFunc writes current state of the document.
type CommitFunc func(ctx context.Context) error

// Options of the Scheduler.
type Options struct {
	// Interval between checks of dirty state.
	Interval time.Duration
	// MinInterval is minimal time between two automatic commits.
	MinInterval time.Duration
	Clock       Clock
	// IsOpen reports whether a project is currently open, nil means always.
	IsOpen func() bool
	// OnAutosaveError is called when automatic commit fails. Successful
	// automatic commits are silent.
	OnAutosaveError func(err error)
}

// Scheduler runs automatic commits and serializes them with manual saves.
// Both paths call the same commit function under one lock.
type Scheduler struct {
	log     *zap.Logger
	tracker *Tracker
	commit  CommitFunc
	opts    Options

	mu       sync.Mutex // commit lock
	lastAuto time.Time

	loop    sync.Mutex
	timer   Timer
	ctx     context.Context
	running bool
	wg      sync.WaitGroup
}

func NewScheduler(tracker *Tracker, commit CommitFunc, opts Options, log *zap.Logger) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.IsOpen == nil {
		opts.IsOpen = func() bool { return true }
	}
	return &Scheduler{
		log:     log.Named("autosave"),
		tracker: tracker,
		commit:  commit,
		opts:    opts,
	}
}

// Save commits immediately regardless of dirty state and throttling.
func (s *Scheduler) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, "manual")
}

// Tick performs automatic commit attempt. It does nothing unless project is
// open, something is dirty and minimal interval since previous automatic
// commit has passed. Reports whether commit was attempted.
func (s *Scheduler) Tick(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opts.IsOpen() || !s.tracker.HasUnsavedChanges() {
		return false, nil
	}
	now := s.opts.Clock.Now()
	if !s.lastAuto.IsZero() && now.Sub(s.lastAuto) < s.opts.MinInterval {
		s.log.Debug("Autosave throttled", zap.Duration("since", now.Sub(s.lastAuto)))
		return false, nil
	}
	s.lastAuto = now

	err := s.run(ctx, "auto")
	if err != nil && s.opts.OnAutosaveError != nil {
		s.opts.OnAutosaveError(err)
	}
	return true, err
}

// Exclusive runs fn under commit lock, fn never overlaps with a commit.
func (s *Scheduler) Exclusive(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// run must be called with commit lock held. Dirty state is kept on failure
// so the next save retries.
func (s *Scheduler) run(ctx context.Context, trigger string) error {
	mark := s.tracker.Mark()
	s.tracker.setSaving(true)
	defer s.tracker.setSaving(false)

	start := s.opts.Clock.Now()
	if err := s.commit(ctx); err != nil {
		s.log.Warn("Commit failed", zap.String("trigger", trigger), zap.Error(err))
		return err
	}
	s.tracker.Committed(mark)
	s.log.Debug("Committed", zap.String("trigger", trigger), zap.Duration("elapsed", s.opts.Clock.Now().Sub(start)))
	return nil
}

// Start begins periodic automatic commits. Context is used for every commit
// until Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.loop.Lock()
	defer s.loop.Unlock()
	if s.running {
		return
	}
	s.ctx, s.running = ctx, true
	s.schedule()
	s.log.Debug("Autosave started", zap.Duration("interval", s.opts.Interval), zap.Duration("min_interval", s.opts.MinInterval))
}

// must be called with loop lock held
func (s *Scheduler) schedule() {
	s.timer = s.opts.Clock.AfterFunc(s.opts.Interval, s.fire)
}

func (s *Scheduler) fire() {
	s.loop.Lock()
	if !s.running {
		s.loop.Unlock()
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.loop.Unlock()

	if ctx.Err() == nil {
		_, _ = s.Tick(ctx)
	}
	s.wg.Done()

	s.loop.Lock()
	defer s.loop.Unlock()
	if s.running && ctx.Err() == nil {
		s.schedule()
	}
}

// Stop ends periodic commits and waits for automatic commit in progress.
func (s *Scheduler) Stop() {
	s.loop.Lock()
	if !s.running {
		s.loop.Unlock()
		return
	}
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.loop.Unlock()

	s.wg.Wait()
	s.log.Debug("Autosave stopped")
}

// Running reports whether periodic commits are active.
func (s *Scheduler) Running() bool {
	s.loop.Lock()
	defer s.loop.Unlock()
	return s.running
}
