package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"scbe/config"
	"scbe/course"
	"scbe/store"
)

// recorder keeps ordered log of storage operations shared by fakes.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recorder) index(ev string) int {
	for i, e := range r.list() {
		if e == ev {
			return i
		}
	}
	return -1
}

type fakeStore struct {
	id  string
	rec *recorder

	mu          sync.Mutex
	blobs       map[string]json.RawMessage
	meta        *course.CourseMetadata
	step        string
	failGet     map[string]error
	failSave    map[string]error
	failProject error
	closed      bool
	cancelled   int
	flushes     int
}

func newFakeStore(id string, rec *recorder) *fakeStore {
	return &fakeStore{
		id:       id,
		rec:      rec,
		blobs:    make(map[string]json.RawMessage),
		failGet:  make(map[string]error),
		failSave: make(map[string]error),
	}
}

func (s *fakeStore) ID() string { return s.id }

func (s *fakeStore) GetContent(_ context.Context, key string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrUnavailable
	}
	if err := s.failGet[key]; err != nil {
		return nil, err
	}
	blob := s.blobs[key]
	if blob == nil || string(blob) == "null" {
		return nil, nil
	}
	return blob, nil
}

func (s *fakeStore) GetCourseMetadata(context.Context) (*course.CourseMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrUnavailable
	}
	if s.meta == nil {
		return nil, nil
	}
	return course.FoldSeed(s.meta, nil), nil
}

func (s *fakeStore) Keys(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *fakeStore) SaveContent(_ context.Context, key string, blob json.RawMessage) error {
	s.rec.add("save " + key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrUnavailable
	}
	if err := s.failSave[key]; err != nil {
		return err
	}
	if blob == nil {
		blob = json.RawMessage("null")
	}
	s.blobs[key] = append(json.RawMessage(nil), blob...)
	return nil
}

func (s *fakeStore) SaveCourseMetadata(_ context.Context, meta *course.CourseMetadata) error {
	s.rec.add("metadata")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = course.FoldSeed(meta, nil)
	return nil
}

func (s *fakeStore) SaveProject(context.Context) error {
	s.rec.add("project")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrUnavailable
	}
	if s.failProject != nil {
		return s.failProject
	}
	s.flushes++
	return nil
}

func (s *fakeStore) CurrentStep() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

func (s *fakeStore) SetCurrentStep(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step = name
}

func (s *fakeStore) CancelPending() {
	s.rec.add("cancel")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled++
}

func (s *fakeStore) Close() error {
	s.rec.add("close")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStore) blob(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.blobs[key])
}

func (s *fakeStore) set(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch v := v.(type) {
	case string:
		s.blobs[key] = json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		s.blobs[key] = data
	}
}

func (s *fakeStore) failSaving(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failSave, key)
		return
	}
	s.failSave[key] = err
}

type fakeMedia struct {
	rec *recorder

	mu        sync.Mutex
	present   map[string]bool
	existsErr map[string]error
	deleteErr error
	deletes   int
}

func newFakeMedia(rec *recorder, present ...string) *fakeMedia {
	m := &fakeMedia{rec: rec, present: make(map[string]bool), existsErr: make(map[string]error)}
	for _, id := range present {
		m.present[id] = true
	}
	return m
}

func (m *fakeMedia) Exists(_ context.Context, _ string, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.existsErr[id]; err != nil {
		return false, err
	}
	return m.present[id], nil
}

func (m *fakeMedia) DeleteAllMedia(context.Context, string) error {
	m.rec.add("delete media")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.deleteErr != nil {
		return m.deleteErr
	}
	clear(m.present)
	return nil
}

func (m *fakeMedia) deleteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes
}

type fakeOpener struct {
	mu     sync.Mutex
	stores map[string]*fakeStore
	media  map[string]*fakeMedia
	gates  map[string]chan struct{}
	opens  map[string]int
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		stores: make(map[string]*fakeStore),
		media:  make(map[string]*fakeMedia),
		gates:  make(map[string]chan struct{}),
		opens:  make(map[string]int),
	}
}

func (o *fakeOpener) add(st *fakeStore, md *fakeMedia) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stores[st.id], o.media[st.id] = st, md
}

// block makes Open of id wait until returned function is called.
func (o *fakeOpener) block(id string) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch := make(chan struct{})
	o.gates[id] = ch
	return func() { close(ch) }
}

func (o *fakeOpener) Open(ctx context.Context, id string) (Store, Media, error) {
	o.mu.Lock()
	o.opens[id]++
	st, md, gate := o.stores[id], o.media[id], o.gates[id]
	o.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if st == nil {
		return nil, nil, store.ErrNotFound
	}
	st.mu.Lock()
	st.closed = false
	st.mu.Unlock()
	return st, md, nil
}

func (o *fakeOpener) openCount(id string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens[id]
}

type note struct {
	level Level
	msg   string
}

type notes struct {
	mu   sync.Mutex
	list []note
}

func (n *notes) Notify(level Level, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, note{level, msg})
}

func (n *notes) count(level Level) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, x := range n.list {
		if x.level == level {
			c++
		}
	}
	return c
}

func (n *notes) last() note {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.list) == 0 {
		return note{level: -1}
	}
	return n.list[len(n.list)-1]
}

func testOptions() Options {
	return Options{
		Engine: config.EngineConfig{MaxRedundantLoads: 5, SweepConcurrency: 4, SanitizeHTML: true},
	}
}

func newTestEngine(t *testing.T, op Opener, opts Options) (*Engine, *notes) {
	t.Helper()
	n := &notes{}
	opts.Notifier = n
	e := New(op, opts, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e, n
}

func twoTopics() *course.CourseContent {
	return &course.CourseContent{
		WelcomePage:            course.Page{ID: "welcome", Title: "Welcome", Media: []course.MediaReference{}},
		LearningObjectivesPage: course.Page{ID: "objectives", Title: "Objectives", Media: []course.MediaReference{}},
		Topics: []course.Page{
			{ID: "topic-0", Title: "Intro", Content: "<p>intro</p>", Media: []course.MediaReference{
				{ID: "image-0", Type: "image", URL: "u0", PageID: "topic-0"},
			}},
			{ID: "topic-1", Title: "Advanced", Content: "<p>adv</p>", Media: []course.MediaReference{}},
		},
		Assessment: course.Assessment{Questions: []course.Question{{Type: course.QuestionTrueFalse, Question: "Sure?"}}, PassMark: 80},
	}
}

var errBoom = errors.New("boom")
