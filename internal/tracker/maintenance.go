package tracker

import (
	"context"
)

// Cleanup drops groups not seen within the retention period from memory
// and the store, deletes expired events and trims histogram buckets of the
// remaining groups. It returns the number of groups dropped from memory.
// Store failures are logged.
func (t *Tracker) Cleanup(ctx context.Context) int {
	now := t.clock.Now()
	cutoff := now.Add(-t.opts.Retention)

	t.groupsMu.Lock()
	entries := make(map[string]*groupEntry, len(t.entries))
	for fp, e := range t.entries {
		entries[fp] = e
	}
	t.groupsMu.Unlock()

	var dropped int
	for fp, e := range entries {
		e.mu.Lock()
		switch {
		case e.group == nil:
			// placeholder left by a failed first capture
		case e.group.LastSeen.Before(cutoff):
			e.group = nil
			dropped++
		default:
			trimBuckets(e.group, now)
			e.mu.Unlock()
			continue
		}
		t.groupsMu.Lock()
		if t.entries[fp] == e {
			delete(t.entries, fp)
		}
		t.groupsMu.Unlock()
		e.mu.Unlock()
	}

	if n, err := t.groups.DeleteStale(ctx, cutoff); err != nil {
		t.logger.Error("delete stale groups failed", "error", err)
	} else if n > 0 {
		t.logger.Info("deleted stale groups", "count", n)
	}
	if n, err := t.events.DeleteBefore(ctx, cutoff); err != nil {
		t.logger.Error("delete expired events failed", "error", err)
	} else if n > 0 {
		t.logger.Info("deleted expired events", "count", n)
	}

	if dropped > 0 {
		t.updateGroupGauge()
	}
	return dropped
}
