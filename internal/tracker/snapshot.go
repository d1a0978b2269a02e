package tracker

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/clock"
	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// defaultSnapshotInterval is how long a runtime sample is reused.
const defaultSnapshotInterval = time.Second

type snapshotSample struct {
	at   time.Time
	snap models.PerformanceSnapshot
}

// snapshotSampler caches a performance snapshot and refreshes it at most
// once per interval. runtime.ReadMemStats stops the world, so it must not
// run on every capture.
type snapshotSampler struct {
	clock    clock.Clock
	interval time.Duration
	read     func() models.PerformanceSnapshot

	refresh sync.Mutex
	current atomic.Pointer[snapshotSample]
}

func newSnapshotSampler(c clock.Clock, interval time.Duration, read func() models.PerformanceSnapshot) *snapshotSampler {
	if interval <= 0 {
		interval = defaultSnapshotInterval
	}
	return &snapshotSampler{clock: c, interval: interval, read: read}
}

// Sample returns the cached snapshot, reading a fresh one when it is older
// than the interval. Callers that lose the refresh race get the old sample.
func (s *snapshotSampler) Sample() models.PerformanceSnapshot {
	now := s.clock.Now()
	cur := s.current.Load()
	if cur != nil && now.Sub(cur.at) < s.interval {
		return cur.snap
	}
	if !s.refresh.TryLock() {
		if cur != nil {
			return cur.snap
		}
		s.refresh.Lock()
	}
	defer s.refresh.Unlock()

	if cur = s.current.Load(); cur != nil && now.Sub(cur.at) < s.interval {
		return cur.snap
	}
	next := &snapshotSample{at: now, snap: s.read()}
	s.current.Store(next)
	return next.snap
}

func runtimeSnapshot() models.PerformanceSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return models.PerformanceSnapshot{
		MemoryBytes: ms.HeapAlloc,
		Goroutines:  runtime.NumGoroutine(),
	}
}
