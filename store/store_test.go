package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"scbe/config"
	"scbe/course"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := &config.StorageConfig{NameTemplate: "{{ .Name | trim | trunc 64 }}", Backup: true}
	return NewManager(t.TempDir(), cfg, zaptest.NewLogger(t))
}

func createProject(t *testing.T, m *Manager, name string) *Project {
	t.Helper()
	p, err := m.Create(context.Background(), name)
	if err != nil {
		t.Fatalf("Create(%q) error = %v", name, err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestCreateAndOpen(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	p := createProject(t, m, "  Safety Basics  ")

	info := p.Info()
	if info.Name != "Safety Basics" {
		t.Errorf("Name = %q", info.Name)
	}
	if want := "Safety Basics_" + info.ID + ProjectExt; filepath.Base(info.Path) != want {
		t.Errorf("file name = %q, want %q", filepath.Base(info.Path), want)
	}
	if _, err := os.Stat(filepath.Join(m.Dir(), info.ID, mediaDirName)); err != nil {
		t.Errorf("media directory was not created: %v", err)
	}

	if err := p.SaveContent(ctx, KeyContent, json.RawMessage(`{"topics":[]}`)); err != nil {
		t.Fatalf("SaveContent() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	for _, ref := range []string{info.ID, info.Path} {
		q, err := m.Open(ctx, ref)
		if err != nil {
			t.Fatalf("Open(%q) error = %v", ref, err)
		}
		if q.ID() != info.ID {
			t.Errorf("Open(%q) id = %q, want %q", ref, q.ID(), info.ID)
		}
		blob, err := q.GetContent(ctx, KeyContent)
		if err != nil || string(blob) != `{"topics":[]}` {
			t.Errorf("GetContent() = %s, %v", blob, err)
		}
		q.Close()
	}

	if _, err := m.Open(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := m.Open(ctx, "../escape"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(../escape) error = %v, want ErrNotFound", err)
	}
}

func TestCreateUntitled(t *testing.T) {
	m := newTestManager(t)
	p := createProject(t, m, "   ")
	if p.Info().Name != config.UntitledName {
		t.Errorf("Name = %q, want %q", p.Info().Name, config.UntitledName)
	}
	if !strings.HasPrefix(filepath.Base(p.Info().Path), config.UntitledName+"_") {
		t.Errorf("file name = %q", filepath.Base(p.Info().Path))
	}
}

func TestContentAbsentAndNull(t *testing.T) {
	ctx := context.Background()
	p := createProject(t, newTestManager(t), "Course")

	blob, err := p.GetContent(ctx, "nothing")
	if blob != nil || err != nil {
		t.Errorf("GetContent(absent) = %s, %v, want nil, nil", blob, err)
	}

	if err := p.SaveContent(ctx, KeyContent, nil); err != nil {
		t.Fatalf("SaveContent(nil) error = %v", err)
	}
	blob, err = p.GetContent(ctx, KeyContent)
	if blob != nil || err != nil {
		t.Errorf("GetContent(null) = %s, %v, want nil, nil", blob, err)
	}

	if err := p.SaveContent(ctx, KeyContent, json.RawMessage(`{"a":`)); err == nil {
		t.Errorf("SaveContent() accepted invalid JSON")
	}

	if err := p.SaveContent(ctx, KeyContent, json.RawMessage(`{"a":1}`)); err != nil {
		t.Fatalf("SaveContent() error = %v", err)
	}
	if err := p.SaveContent(ctx, KeyContent, json.RawMessage(`{"a":2}`)); err != nil {
		t.Fatalf("SaveContent() error = %v", err)
	}
	blob, _ = p.GetContent(ctx, KeyContent)
	if string(blob) != `{"a":2}` {
		t.Errorf("GetContent() = %s, want overwritten value", blob)
	}
}

func TestKeysNaturalOrder(t *testing.T) {
	ctx := context.Background()
	p := createProject(t, newTestManager(t), "Course")
	for _, k := range []string{"content-10", "content-2", "welcome", "content-0"} {
		if err := p.SaveContent(ctx, k, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("SaveContent(%s) error = %v", k, err)
		}
	}
	keys, err := p.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	want := []string{"content-0", "content-2", "content-10", "welcome"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("Keys() = %v, want %v", keys, want)
	}
}

func TestCourseMetadataPersisted(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	p := createProject(t, m, "Course")

	if meta, err := p.GetCourseMetadata(ctx); meta != nil || err != nil {
		t.Errorf("GetCourseMetadata() = %+v, %v, want nil", meta, err)
	}

	meta := &course.CourseMetadata{Title: "Course", Difficulty: 2, Topics: []string{"Intro"}}
	if err := p.SaveCourseMetadata(ctx, meta); err != nil {
		t.Fatalf("SaveCourseMetadata() error = %v", err)
	}
	meta.Topics[0] = "changed"
	p.SetCurrentStep("media")
	if err := p.SaveProject(ctx); err != nil {
		t.Fatalf("SaveProject() error = %v", err)
	}
	p.Close()

	q, err := m.Open(ctx, p.ID())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer q.Close()
	got, err := q.GetCourseMetadata(ctx)
	if err != nil {
		t.Fatalf("GetCourseMetadata() error = %v", err)
	}
	want := &course.CourseMetadata{Title: "Course", Difficulty: 2, Topics: []string{"Intro"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetCourseMetadata() = %+v, want %+v", got, want)
	}
	if q.CurrentStep() != "media" {
		t.Errorf("CurrentStep() = %q", q.CurrentStep())
	}
}

func TestClosedProjectUnavailable(t *testing.T) {
	ctx := context.Background()
	p := createProject(t, newTestManager(t), "Course")
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if _, err := p.GetContent(ctx, KeyContent); !errors.Is(err, ErrUnavailable) {
		t.Errorf("GetContent() error = %v", err)
	}
	if err := p.SaveContent(ctx, KeyContent, json.RawMessage(`{}`)); !errors.Is(err, ErrUnavailable) {
		t.Errorf("SaveContent() error = %v", err)
	}
	if err := p.SaveProject(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("SaveProject() error = %v", err)
	}
	if _, err := p.GetCourseMetadata(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("GetCourseMetadata() error = %v", err)
	}
	if _, err := p.Keys(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Keys() error = %v", err)
	}
}

func TestCancelPending(t *testing.T) {
	ctx := context.Background()
	p := createProject(t, newTestManager(t), "Course")

	p.writeMu.Lock()
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.SaveContent(ctx, KeyContent, json.RawMessage(`{"stale":true}`))
	}()
	deadline := time.Now().Add(5 * time.Second)
	for p.Pending() != 1 {
		if time.Now().After(deadline) {
			p.writeMu.Unlock()
			t.Fatalf("write did not start waiting")
		}
		time.Sleep(time.Millisecond)
	}
	p.CancelPending()
	p.writeMu.Unlock()

	if err := <-errCh; !errors.Is(err, ErrWriteCancelled) {
		t.Errorf("pending SaveContent() error = %v, want ErrWriteCancelled", err)
	}
	if blob, _ := p.GetContent(ctx, KeyContent); blob != nil {
		t.Errorf("cancelled write was applied: %s", blob)
	}

	if err := p.SaveContent(ctx, KeyContent, json.RawMessage(`{"fresh":true}`)); err != nil {
		t.Errorf("SaveContent() after cancel error = %v", err)
	}
}

func TestBackupAndDamagedFile(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	p := createProject(t, m, "Course")
	path := p.Info().Path

	if err := p.SaveCourseMetadata(ctx, &course.CourseMetadata{Title: "First"}); err != nil {
		t.Fatal(err)
	}
	if err := p.SaveProject(ctx); err != nil {
		t.Fatalf("SaveProject() error = %v", err)
	}
	if err := p.SaveProject(ctx); err != nil {
		t.Fatalf("SaveProject() error = %v", err)
	}
	p.Close()

	rec, err := m.CheckRecovery(p.ID())
	if err != nil || !rec.HasBackup || rec.BackupPath != path+BackupExt {
		t.Fatalf("CheckRecovery() = %+v, %v", rec, err)
	}

	if err := os.WriteFile(path, []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}
	q, err := m.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() of damaged project error = %v", err)
	}
	meta, _ := q.GetCourseMetadata(ctx)
	if meta.Name() != "First" {
		t.Errorf("metadata from backup = %+v", meta)
	}
	q.Close()

	if _, err := m.Recover(ctx, p.ID()); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if _, err := readProjectFile(path); err != nil {
		t.Errorf("project file after Recover() is unreadable: %v", err)
	}
}

func TestCheckRecoveryWithoutBackup(t *testing.T) {
	cfg := &config.StorageConfig{}
	m := NewManager(t.TempDir(), cfg, zaptest.NewLogger(t))
	p := createProject(t, m, "Course")
	if err := p.SaveProject(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec, err := m.CheckRecovery(p.ID())
	if err != nil || rec.HasBackup {
		t.Errorf("CheckRecovery() = %+v, %v, want no backup", rec, err)
	}
	if _, err := m.Recover(context.Background(), p.ID()); err == nil {
		t.Errorf("Recover() without backup succeeded")
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	add := func(name string, at time.Time) string {
		m.now = func() time.Time { return at }
		p := createProject(t, m, name)
		return p.ID()
	}
	old := add("Old", base)
	c10 := add("Course 10", base.Add(time.Hour))
	c9 := add("Course 9", base.Add(time.Hour))

	if err := os.WriteFile(filepath.Join(m.Dir(), "junk_1.scormproj"), []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}

	list, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var ids []string
	for _, info := range list {
		ids = append(ids, info.ID)
		if len(info.Path) == 0 {
			t.Errorf("List() entry %s has no path", info.ID)
		}
	}
	if want := []string{c9, c10, old}; !reflect.DeepEqual(ids, want) {
		t.Errorf("List() ids = %v, want %v", ids, want)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	p := createProject(t, m, "Course")
	id, path := p.ID(), p.Info().Path
	if err := p.SaveProject(ctx); err != nil {
		t.Fatal(err)
	}
	p.Close()

	if err := m.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	for _, f := range []string{path, path + BackupExt, filepath.Join(m.Dir(), id)} {
		if _, err := os.Stat(f); !os.IsNotExist(err) {
			t.Errorf("%s still exists after Delete()", f)
		}
	}
	if err := m.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestExtractProjectID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1234567890", "1234567890"},
		{"/home/user/Projects/My_Course_1234567890.scormproj", "1234567890"},
		{"Course_0192f0c1-7a43-7c3e-8f1a-2b3c4d5e6f70.scormproj", "0192f0c1-7a43-7c3e-8f1a-2b3c4d5e6f70"},
		{"Course_0192f0c1-7a43-7c3e-8f1a-2b3c4d5e6f70.scormproj.backup", "0192f0c1-7a43-7c3e-8f1a-2b3c4d5e6f70"},
		{"1234567890.scormproj", "1234567890"},
		{"My_Course.scormproj", "My_Course.scormproj"},
	}
	for _, tt := range tests {
		if got := ExtractProjectID(tt.in); got != tt.want {
			t.Errorf("ExtractProjectID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProjectFileName(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		tmpl, name, want string
		wantErr          bool
	}{
		{"", "Course", "Course_id.scormproj", false},
		{"{{ .Name | upper }}", "Course", "COURSE_id.scormproj", false},
		{"{{ .Created.Format \"2006\" }}-{{ .Name }}", "Course", "2026-Course_id.scormproj", false},
		{"{{ .Name }}", "a/b", "ab_id.scormproj", false},
		{"{{ .Name", "Course", "", true},
	}
	for _, tt := range tests {
		got, err := projectFileName(tt.tmpl, tt.name, "id", created)
		if (err != nil) != tt.wantErr {
			t.Errorf("projectFileName(%q) error = %v", tt.tmpl, err)
			continue
		}
		if got != tt.want {
			t.Errorf("projectFileName(%q) = %q, want %q", tt.tmpl, got, tt.want)
		}
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	p := createProject(t, m, "Course")
	if err := p.SaveContent(ctx, KeyContent, json.RawMessage(`{"topics":[1]}`)); err != nil {
		t.Fatal(err)
	}
	if err := p.SaveContent(ctx, "slug key/with slash", json.RawMessage(`"x"`)); err != nil {
		t.Fatal(err)
	}
	if err := p.SaveContent(ctx, KeyQuiz, nil); err != nil {
		t.Fatal(err)
	}
	if err := p.SaveCourseMetadata(ctx, &course.CourseMetadata{Title: "Course"}); err != nil {
		t.Fatal(err)
	}
	if err := p.SaveProject(ctx); err != nil {
		t.Fatal(err)
	}
	mediaFile := filepath.Join(p.DataDir(), mediaDirName, "image-1.bin")
	if err := os.WriteFile(mediaFile, []byte("pixels"), 0644); err != nil {
		t.Fatal(err)
	}
	p.Close()

	dst := filepath.Join(t.TempDir(), "course.zip")
	if err := m.Export(ctx, p.ID(), dst); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	q, err := m.Import(ctx, dst)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	defer q.Close()

	if q.ID() == p.ID() {
		t.Errorf("imported project reused id %s", q.ID())
	}
	keys, _ := q.Keys(ctx)
	if want := []string{KeyContent, "slug key/with slash"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("imported keys = %v, want %v", keys, want)
	}
	blob, _ := q.GetContent(ctx, KeyContent)
	if string(blob) != `{"topics":[1]}` {
		t.Errorf("imported content = %s", blob)
	}
	meta, _ := q.GetCourseMetadata(ctx)
	if meta.Name() != "Course" {
		t.Errorf("imported metadata = %+v", meta)
	}
	data, err := os.ReadFile(filepath.Join(q.DataDir(), mediaDirName, "image-1.bin"))
	if err != nil || string(data) != "pixels" {
		t.Errorf("imported media = %q, %v", data, err)
	}
}

func TestImportWithoutProjectFile(t *testing.T) {
	m := newTestManager(t)
	src := filepath.Join(t.TempDir(), "empty.zip")
	w, err := os.Create(src)
	if err != nil {
		t.Fatal(err)
	}
	// minimal empty zip: end of central directory record only
	w.Write([]byte{0x50, 0x4b, 0x05, 0x06, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	w.Close()

	if _, err := m.Import(context.Background(), src); err == nil {
		t.Errorf("Import() of archive without project file succeeded")
	}
}
