package clock

import (
	"sync"
	"time"
)

// Timers holds at most one pending callback per key.
type Timers struct {
	clock Clock

	mu      sync.Mutex
	pending map[string]*keyedTimer
}

type keyedTimer struct {
	timer Timer
}

// NewTimers creates a keyed timer set on the given clock.
func NewTimers(c Clock) *Timers {
	return &Timers{clock: c, pending: make(map[string]*keyedTimer)}
}

// Schedule arms fn to run after d, replacing any timer already pending for key.
func (t *Timers) Schedule(key string, d time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}
	entry := &keyedTimer{}

	t.mu.Lock()
	if old, ok := t.pending[key]; ok {
		old.timer.Stop()
	}
	t.pending[key] = entry
	entry.timer = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if t.pending[key] != entry {
			t.mu.Unlock()
			return
		}
		delete(t.pending, key)
		t.mu.Unlock()
		fn()
	})
	t.mu.Unlock()
}

// Cancel stops the pending timer for key. It reports whether one was pending.
func (t *Timers) Cancel(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.pending[key]
	if !ok {
		return false
	}
	delete(t.pending, key)
	entry.timer.Stop()
	return true
}

// Has reports whether a timer is pending for key.
func (t *Timers) Has(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[key]
	return ok
}

// Len returns the number of pending timers.
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// CancelAll stops every pending timer.
func (t *Timers) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, entry := range t.pending {
		entry.timer.Stop()
		delete(t.pending, key)
	}
}
