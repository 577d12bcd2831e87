package autosave

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of mutation observations into a single pass
// which marks sections dirty. Section is marked only when its check reports
// meaningful data at the time of the pass.
type Debouncer struct {
	tracker *Tracker
	clock   Clock
	delay   time.Duration

	mu      sync.Mutex
	timer   Timer
	pending map[Section]func() bool
}

func NewDebouncer(tracker *Tracker, delay time.Duration, clock Clock) *Debouncer {
	if clock == nil {
		clock = SystemClock
	}
	return &Debouncer{
		tracker: tracker,
		clock:   clock,
		delay:   delay,
		pending: make(map[Section]func() bool),
	}
}

// Observe records mutation of section. Latest check wins. Nil check means
// section always holds meaningful data.
func (d *Debouncer) Observe(s Section, meaningful func() bool) {
	if meaningful == nil {
		meaningful = func() bool { return true }
	}
	d.mu.Lock()
	d.pending[s] = meaningful
	if d.delay <= 0 {
		d.mu.Unlock()
		d.Flush()
		return
	}
	if d.timer == nil {
		d.timer = d.clock.AfterFunc(d.delay, d.Flush)
	}
	d.mu.Unlock()
}

// Flush runs pending pass immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	pending := d.pending
	d.pending = make(map[Section]func() bool)
	d.mu.Unlock()

	for s, meaningful := range pending {
		if meaningful() {
			d.tracker.MarkDirty(s)
		}
	}
}

// Stop drops pending observations.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	clear(d.pending)
}
