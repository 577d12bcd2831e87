package autosave

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// fakeClock fires due timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		var due *fakeTimer
		for i, t := range c.timers {
			if t.stopped {
				continue
			}
			if !t.at.After(target) {
				due = t
				t.stopped = true
				c.timers = append(c.timers[:i], c.timers[i+1:]...)
			}
			break
		}
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = due.at
		c.mu.Unlock()
		due.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func TestTracker(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock)

	if st := tr.Status(); st.HasUnsavedChanges || st.IsSaving || !st.LastSavedAt.IsZero() {
		t.Errorf("initial Status() = %+v", st)
	}
	tr.MarkDirty(SectionSeed)
	tr.MarkDirty(SectionContent)
	tr.MarkDirty(SectionSeed)
	if want := []Section{SectionContent, SectionSeed}; !reflect.DeepEqual(tr.Dirty(), want) {
		t.Errorf("Dirty() = %v, want %v", tr.Dirty(), want)
	}

	clock.Advance(time.Minute)
	tr.ResetAll()
	st := tr.Status()
	if st.HasUnsavedChanges || !st.LastSavedAt.Equal(clock.Now()) {
		t.Errorf("Status() after ResetAll() = %+v", st)
	}
}

func TestTrackerCommittedKeepsLaterMarks(t *testing.T) {
	tr := NewTracker(newFakeClock())
	tr.MarkDirty(SectionSeed)
	mark := tr.Mark()
	tr.MarkDirty(SectionContent)
	tr.Committed(mark)
	if want := []Section{SectionContent}; !reflect.DeepEqual(tr.Dirty(), want) {
		t.Errorf("Dirty() = %v, want %v", tr.Dirty(), want)
	}

	// section marked again after mark stays dirty
	tr.MarkDirty(SectionSeed)
	mark = tr.Mark()
	tr.MarkDirty(SectionSeed)
	tr.Committed(mark)
	if !tr.HasUnsavedChanges() {
		t.Errorf("re-marked section was cleared")
	}
}

func TestDebouncer(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock)
	d := NewDebouncer(tr, 200*time.Millisecond, clock)

	title := ""
	topics := 0
	d.Observe(SectionSeed, func() bool { return len(title) > 0 })
	d.Observe(SectionContent, func() bool { return topics > 0 })
	clock.Advance(100 * time.Millisecond)
	title = "Course"
	d.Observe(SectionSeed, func() bool { return len(title) > 0 })

	if tr.HasUnsavedChanges() {
		t.Fatalf("marked before delay elapsed")
	}
	if clock.pending() != 1 {
		t.Errorf("pending timers = %d, want 1", clock.pending())
	}
	clock.Advance(100 * time.Millisecond)
	if want := []Section{SectionSeed}; !reflect.DeepEqual(tr.Dirty(), want) {
		t.Errorf("Dirty() = %v, want %v", tr.Dirty(), want)
	}

	// empty data does not mark
	tr.ResetAll()
	title = ""
	d.Observe(SectionSeed, func() bool { return len(title) > 0 })
	d.Flush()
	if tr.HasUnsavedChanges() || clock.pending() != 0 {
		t.Errorf("empty title marked dirty or timer left")
	}

	d.Observe(SectionStep, nil)
	d.Stop()
	clock.Advance(time.Second)
	if tr.HasUnsavedChanges() {
		t.Errorf("observation survived Stop()")
	}
}

func TestDebouncerWithoutDelay(t *testing.T) {
	tr := NewTracker(newFakeClock())
	d := NewDebouncer(tr, 0, newFakeClock())
	d.Observe(SectionContent, nil)
	if !tr.HasUnsavedChanges() {
		t.Errorf("zero delay did not mark immediately")
	}
}

type commits struct {
	mu    sync.Mutex
	n     int
	fail  error
	block chan struct{}
}

func (c *commits) commit(context.Context) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.fail
}

func (c *commits) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func newScheduler(t *testing.T, clock *fakeClock, c *commits, opts Options) (*Scheduler, *Tracker) {
	t.Helper()
	tr := NewTracker(clock)
	opts.Clock = clock
	return NewScheduler(tr, c.commit, opts, zaptest.NewLogger(t)), tr
}

func TestTickRequiresDirtyAndOpen(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := &commits{}
	open := false
	s, tr := newScheduler(t, clock, c, Options{MinInterval: 5 * time.Second, IsOpen: func() bool { return open }})

	if ok, _ := s.Tick(ctx); ok {
		t.Errorf("Tick() committed clean state")
	}
	tr.MarkDirty(SectionContent)
	if ok, _ := s.Tick(ctx); ok {
		t.Errorf("Tick() committed without open project")
	}
	open = true
	if ok, err := s.Tick(ctx); !ok || err != nil {
		t.Errorf("Tick() = %v, %v", ok, err)
	}
	if c.count() != 1 || tr.HasUnsavedChanges() {
		t.Errorf("commits = %d, dirty = %v", c.count(), tr.Dirty())
	}
}

func TestAutosaveThrottling(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := &commits{}
	s, tr := newScheduler(t, clock, c, Options{MinInterval: 5 * time.Second})

	tr.MarkDirty(SectionContent)
	if ok, _ := s.Tick(ctx); !ok {
		t.Fatalf("first Tick() did not commit")
	}
	clock.Advance(time.Second)
	tr.MarkDirty(SectionContent)
	if ok, _ := s.Tick(ctx); ok {
		t.Errorf("second Tick() within minimal interval committed")
	}
	if c.count() != 1 {
		t.Errorf("commits = %d, want 1", c.count())
	}

	clock.Advance(4 * time.Second)
	if ok, _ := s.Tick(ctx); !ok || c.count() != 2 {
		t.Errorf("Tick() after interval = %v, commits = %d", ok, c.count())
	}
}

func TestManualSaveBypassesThrottle(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := &commits{}
	s, tr := newScheduler(t, clock, c, Options{MinInterval: time.Hour})

	tr.MarkDirty(SectionSeed)
	_, _ = s.Tick(ctx)
	tr.MarkDirty(SectionSeed)
	if err := s.Save(ctx); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx); err != nil {
		t.Fatalf("Save() of clean state error = %v", err)
	}
	if c.count() != 3 || tr.HasUnsavedChanges() {
		t.Errorf("commits = %d, dirty = %v", c.count(), tr.Dirty())
	}
	if !tr.Status().LastSavedAt.Equal(clock.Now()) {
		t.Errorf("LastSavedAt not updated")
	}
}

func TestFailureKeepsDirtyState(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	boom := errors.New("disk full")
	c := &commits{fail: boom}
	var reported []error
	s, tr := newScheduler(t, clock, c, Options{OnAutosaveError: func(err error) { reported = append(reported, err) }})

	tr.MarkDirty(SectionContent)
	if ok, err := s.Tick(ctx); !ok || !errors.Is(err, boom) {
		t.Errorf("Tick() = %v, %v", ok, err)
	}
	if err := s.Save(ctx); !errors.Is(err, boom) {
		t.Errorf("Save() error = %v", err)
	}
	if !tr.HasUnsavedChanges() || !tr.Status().LastSavedAt.IsZero() {
		t.Errorf("failed commit cleared state: %+v", tr.Status())
	}
	if len(reported) != 1 {
		t.Errorf("autosave errors reported = %d, want 1 (manual errors are returned)", len(reported))
	}

	c.fail = nil
	if err := s.Save(ctx); err != nil || tr.HasUnsavedChanges() {
		t.Errorf("retry Save() = %v, dirty = %v", err, tr.Dirty())
	}
}

func TestManualAndAutoSerialized(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := &commits{block: make(chan struct{})}
	s, tr := newScheduler(t, clock, c, Options{})
	tr.MarkDirty(SectionContent)

	saved := make(chan error)
	go func() { saved <- s.Save(ctx) }()

	// wait for manual commit to be in progress
	for !tr.Status().IsSaving {
		time.Sleep(time.Millisecond)
	}
	ticked := make(chan bool)
	go func() {
		ok, _ := s.Tick(ctx)
		ticked <- ok
	}()
	select {
	case <-ticked:
		t.Fatalf("Tick() ran while manual save was in progress")
	case <-time.After(20 * time.Millisecond):
	}

	close(c.block)
	if err := <-saved; err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if ok := <-ticked; ok {
		t.Errorf("Tick() committed after manual save cleaned state")
	}
	if c.count() != 1 {
		t.Errorf("commits = %d, want 1", c.count())
	}
}

func TestStartStop(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := &commits{}
	s, tr := newScheduler(t, clock, c, Options{Interval: 30 * time.Second, MinInterval: 5 * time.Second})

	s.Start(ctx)
	s.Start(ctx)
	if !s.Running() || clock.pending() != 1 {
		t.Fatalf("Running() = %v, pending = %d", s.Running(), clock.pending())
	}

	clock.Advance(30 * time.Second)
	if c.count() != 0 {
		t.Errorf("clean state committed")
	}
	tr.MarkDirty(SectionSeed)
	clock.Advance(30 * time.Second)
	if c.count() != 1 || tr.HasUnsavedChanges() {
		t.Errorf("commits = %d, dirty = %v", c.count(), tr.Dirty())
	}

	s.Stop()
	tr.MarkDirty(SectionSeed)
	clock.Advance(time.Minute)
	if c.count() != 1 || s.Running() || clock.pending() != 0 {
		t.Errorf("commits after Stop() = %d, running = %v", c.count(), s.Running())
	}
	s.Stop()
}

func TestStartStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := newFakeClock()
	c := &commits{}
	s, tr := newScheduler(t, clock, c, Options{Interval: time.Second})
	tr.MarkDirty(SectionSeed)

	s.Start(ctx)
	cancel()
	clock.Advance(time.Second)
	if c.count() != 0 || clock.pending() != 0 {
		t.Errorf("commits = %d, pending = %d", c.count(), clock.pending())
	}
}
