// Package autosave tracks unsaved sections of the document and schedules
// automatic commits.
package autosave

import (
	"sort"
	"sync"
	"time"

	"github.com/maruel/natural"
)

// Section is a logical part of the document which could be dirty.
type Section string

const (
	SectionSeed    Section = "courseSeed"
	SectionContent Section = "courseContent"
	SectionStep    Section = "currentStep"
)

// Status is presented to the user as passive save indicator.
type Status struct {
	IsSaving          bool      `json:"isSaving"`
	LastSavedAt       time.Time `json:"lastSavedAt"`
	HasUnsavedChanges bool      `json:"hasUnsavedChanges"`
}

// Tracker keeps set of dirty sections. It is safe for concurrent use.
type Tracker struct {
	clock Clock

	mu        sync.Mutex
	seq       uint64
	dirty     map[Section]uint64
	lastSaved time.Time
	saving    bool
}

func NewTracker(clock Clock) *Tracker {
	if clock == nil {
		clock = SystemClock
	}
	return &Tracker{clock: clock, dirty: make(map[Section]uint64)}
}

// MarkDirty adds section to the dirty set.
func (t *Tracker) MarkDirty(s Section) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	t.dirty[s] = t.seq
}

// Mark returns position in the sequence of changes. Sections marked after
// the call are kept by Committed.
func (t *Tracker) Mark() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// ResetAll clears dirty set and records commit time.
func (t *Tracker) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.dirty)
	t.lastSaved = t.clock.Now()
}

// Committed records successful commit of everything marked up to mark.
func (t *Tracker) Committed(mark uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for s, seq := range t.dirty {
		if seq <= mark {
			delete(t.dirty, s)
		}
	}
	t.lastSaved = t.clock.Now()
}

// Dirty lists dirty sections in name order.
func (t *Tracker) Dirty() []Section {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.dirty))
	for s := range t.dirty {
		names = append(names, string(s))
	}
	sort.Sort(natural.StringSlice(names))
	out := make([]Section, len(names))
	for i, n := range names {
		out[i] = Section(n)
	}
	return out
}

func (t *Tracker) HasUnsavedChanges() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dirty) > 0
}

func (t *Tracker) setSaving(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.saving = v
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		IsSaving:          t.saving,
		LastSavedAt:       t.lastSaved,
		HasUnsavedChanges: len(t.dirty) > 0,
	}
}
