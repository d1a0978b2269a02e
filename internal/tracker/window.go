package tracker

import (
	"sync"
	"time"
)

// rateWindow keeps capture times for the spike check. It holds two
// consecutive periods so the latest period can be compared to the one
// before it.
type rateWindow struct {
	mu      sync.Mutex
	period  time.Duration
	events  []time.Time
	maxSize int
}

func newRateWindow(period time.Duration) *rateWindow {
	return &rateWindow{
		period:  period,
		events:  make([]time.Time, 0, 1000),
		maxSize: 100000,
	}
}

// addAt records a capture at now and returns the counts for the current
// period (now-period, now] and the previous one (now-2*period, now-period].
func (w *rateWindow) addAt(now time.Time) (recent, previous int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneOldLocked(now)
	w.events = append(w.events, now)

	// If we exceed max size, keep only the most recent half
	if len(w.events) > w.maxSize {
		w.events = w.events[len(w.events)/2:]
	}

	split := now.Add(-w.period)
	for _, e := range w.events {
		if e.After(split) {
			recent++
		} else {
			previous++
		}
	}
	return recent, previous
}

// pruneOldLocked drops events older than two periods.
// Must be called with lock held.
func (w *rateWindow) pruneOldLocked(now time.Time) {
	cutoff := now.Add(-2 * w.period)

	// Binary search for the first event after cutoff
	left, right := 0, len(w.events)
	for left < right {
		mid := (left + right) / 2
		if !w.events[mid].After(cutoff) {
			left = mid + 1
		} else {
			right = mid
		}
	}
	if left > 0 {
		w.events = w.events[left:]
	}
}

func (w *rateWindow) size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}
