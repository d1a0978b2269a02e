package tracker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/clock"
	"github.com/good-yellow-bee/blazetrack/internal/models"
)

func TestSnapshotSampler_ReusesWithinInterval(t *testing.T) {
	fc := clock.NewFake(start)
	var reads atomic.Int32
	s := newSnapshotSampler(fc, time.Second, func() models.PerformanceSnapshot {
		n := reads.Add(1)
		return models.PerformanceSnapshot{Goroutines: int(n)}
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Sample()
		}()
	}
	wg.Wait()
	if got := reads.Load(); got != 1 {
		t.Fatalf("reads = %d, want 1", got)
	}

	fc.Advance(999 * time.Millisecond)
	if got := s.Sample().Goroutines; got != 1 {
		t.Errorf("sample before interval = %d, want cached 1", got)
	}
	fc.Advance(time.Millisecond)
	if got := s.Sample().Goroutines; got != 2 {
		t.Errorf("sample after interval = %d, want 2", got)
	}
}

func TestCapture_DefaultSnapshotIsSampled(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Snapshot = nil
		o.SnapshotInterval = time.Minute
	})
	for i := 0; i < 3; i++ {
		f.capture(t, CaptureInput{Type: "E", Message: "x"})
	}

	recent := f.tracker.RecentEvents(0)
	if len(recent) != 3 {
		t.Fatalf("recent = %d", len(recent))
	}
	first := recent[0].Performance
	if first.MemoryBytes == 0 || first.Goroutines == 0 {
		t.Fatalf("snapshot not populated: %+v", first)
	}
	for _, e := range recent[1:] {
		if e.Performance != first {
			t.Errorf("snapshot re-read within interval: %+v vs %+v", e.Performance, first)
		}
	}
}
