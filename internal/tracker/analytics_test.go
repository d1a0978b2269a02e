package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
	"github.com/good-yellow-bee/blazetrack/internal/models"
	"github.com/good-yellow-bee/blazetrack/internal/storage"
)

func TestFingerprint(t *testing.T) {
	fp := NewFingerprinter()

	a := fp.Fingerprint("TypeError", "x is undefined", "at f (a.js:1:2)\nat g (b.js:3:4)")
	b := fp.Fingerprint("TypeError", "x is undefined", "at f (a.js:10:20)\nat g (b.js:30:40)")
	if a != b {
		t.Error("line and column numbers should not affect the fingerprint")
	}

	c := fp.Fingerprint("TypeError", "x is undefined", "at h (a.js:1:2)")
	if a == c {
		t.Error("different frames should change the fingerprint")
	}

	goStack := "goroutine 1 [running]:\nmain.run(0xc000012345)\n\t/src/main.go:42 +0x1d\nmain.main()\n\t/src/main.go:10 +0x25"
	goStackMoved := "goroutine 7 [running]:\nmain.run(0xc000099999)\n\t/src/main.go:57 +0x3f\nmain.main()\n\t/src/main.go:12 +0x25"
	if fp.Fingerprint("E", "m", goStack) != fp.Fingerprint("E", "m", goStackMoved) {
		t.Error("goroutine ids, addresses and offsets should be ignored")
	}

	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestFingerprinter_CacheKeyIncludesFrames(t *testing.T) {
	fp := NewFingerprinter()

	bare := fp.Fingerprint("TypeError", "x is undefined", "")
	withStack := fp.Fingerprint("TypeError", "x is undefined", "at f (a.js:1:2)")
	if bare == withStack {
		t.Error("a cached type:message fingerprint was reused for a different stack")
	}
	if fp.Size() != 2 {
		t.Errorf("cache size = %d, want 2", fp.Size())
	}
	if again := fp.Fingerprint("TypeError", "x is undefined", "at f (a.js:9:9)"); again != withStack {
		t.Error("normalized frames should hit the cached entry")
	}
}

func TestNormalizeFrames_FirstThree(t *testing.T) {
	frames := normalizeFrames("at a (x.js:1:1)\n\nat b (x.js:2:2)\nat c (x.js:3:3)\nat d (x.js:4:4)")
	want := []string{"at a (x.js:0:0)", "at b (x.js:0:0)", "at c (x.js:0:0)"}
	if strings.Join(frames, "|") != strings.Join(want, "|") {
		t.Errorf("frames = %q, want %q", frames, want)
	}
}

func TestFingerprinter_CacheClearedWhenFull(t *testing.T) {
	fp := NewFingerprinter()
	for i := 0; i < maxFingerprintCache; i++ {
		fp.Fingerprint("E", fmt.Sprintf("m%d", i), "")
	}
	if fp.Size() != maxFingerprintCache {
		t.Fatalf("size = %d", fp.Size())
	}
	fp.Fingerprint("E", "one more", "")
	if fp.Size() != 1 {
		t.Errorf("size after overflow = %d, want 1", fp.Size())
	}
}

func TestHealthScore_Clamped(t *testing.T) {
	tests := []struct {
		name string
		in   HealthInputs
		want float64
	}{
		{"healthy", HealthInputs{}, 100},
		{"volume capped at 30", HealthInputs{TotalErrors: 1_000_000}, 70},
		{"some volume", HealthInputs{TotalErrors: 50}, 95},
		{"open groups capped at 20", HealthInputs{OpenGroups: 500}, 80},
		{"critical and trending", HealthInputs{OpenGroups: 2, OpenCriticalGroups: 1, TrendingUpGroups: 2}, 78},
		{"floor at zero", HealthInputs{TotalErrors: 1e9, OpenGroups: 1e6, OpenCriticalGroups: 1e6, TrendingUpGroups: 1e6}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HealthScore(tt.in)
			if got != tt.want {
				t.Errorf("HealthScore(%+v) = %v, want %v", tt.in, got, tt.want)
			}
			if got < 0 || got > 100 {
				t.Errorf("score %v out of bounds", got)
			}
		})
	}
}

func TestClassifyTrend(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	day := func(offset int) string { return now.AddDate(0, 0, -offset).Format(dayLayout) }

	tests := []struct {
		name  string
		daily map[string]int
		want  models.Trend
	}{
		{"no baseline", map[string]int{day(0): 10}, models.TrendStable},
		{"increasing", map[string]int{day(0): 10, day(1): 10, day(2): 10, day(3): 2, day(4): 2, day(5): 2}, models.TrendIncreasing},
		{"decreasing", map[string]int{day(0): 1, day(3): 10, day(4): 10}, models.TrendDecreasing},
		{"stable", map[string]int{day(0): 5, day(1): 5, day(3): 5, day(4): 5}, models.TrendStable},
		{"ignores older days", map[string]int{day(0): 3, day(6): 100}, models.TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyTrend(tt.daily, now); got != tt.want {
				t.Errorf("classifyTrend() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSeverityScore_Bounded(t *testing.T) {
	g := &models.ErrorGroup{Level: models.LevelFatal, Count: 1 << 40, Users: make([]string, 100)}
	g.Stats.Trend = models.TrendIncreasing
	if s := severityScore(g); s > 100 || s < 90 {
		t.Errorf("severityScore = %v", s)
	}
	if s := severityScore(&models.ErrorGroup{Level: models.LevelWarning, Count: 1}); s < 15 || s > 20 {
		t.Errorf("warning score = %v", s)
	}
}

func alertReasons(rec *eventbus.Recorder) []string {
	var out []string
	for _, s := range rec.Signals(eventbus.ErrorAlert) {
		out = append(out, s.Payload.(eventbus.ErrorAlertPayload).Reason)
	}
	return out
}

func TestChecks_SeverityAndNewGroup(t *testing.T) {
	f := newFixture(t)

	f.capture(t, CaptureInput{Type: "E", Message: "warn", Level: models.LevelWarning})
	f.capture(t, CaptureInput{Type: "E", Message: "warn", Level: models.LevelWarning})
	f.capture(t, CaptureInput{Type: "Fatal", Message: "oom", Level: models.LevelFatal,
		Context: models.ErrorContext{WorkflowID: "wf-9", NodeID: "n1"}})

	got := strings.Join(alertReasons(f.rec), ",")
	if got != "new_group,severity,new_group" {
		t.Fatalf("reasons = %s", got)
	}

	sev := f.rec.Signals(eventbus.ErrorAlert)[1].Payload.(eventbus.ErrorAlertPayload)
	if sev.Severity != models.SeverityCritical || sev.Source != alertSource {
		t.Errorf("severity payload = %+v", sev)
	}
	if sev.Metadata["workflowId"] != "wf-9" || sev.Metadata["nodeId"] != "n1" {
		t.Errorf("metadata = %v", sev.Metadata)
	}
}

func TestChecks_Disabled(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.DisableAlerts = true })
	f.capture(t, CaptureInput{Type: "E", Message: "x", Level: models.LevelFatal})
	if n := f.rec.Count(eventbus.ErrorAlert); n != 0 {
		t.Errorf("alerts = %d, want 0", n)
	}
}

func TestChecks_Spike(t *testing.T) {
	f := newFixture(t)

	f.capture(t, CaptureInput{Type: "E", Message: "baseline"})
	f.clock.Advance(6 * time.Minute)
	for i := 0; i < 8; i++ {
		f.capture(t, CaptureInput{Type: "E", Message: "burst"})
	}

	var spikes int
	for _, r := range alertReasons(f.rec) {
		if r == ReasonSpike {
			spikes++
		}
	}
	if spikes != 1 {
		t.Errorf("spike alerts = %d, want 1", spikes)
	}
}

func TestChecks_NoSpikeWithoutBaseline(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 20; i++ {
		f.capture(t, CaptureInput{Type: "E", Message: "burst"})
	}
	for _, r := range alertReasons(f.rec) {
		if r == ReasonSpike {
			t.Fatal("spike without previous window")
		}
	}
}

func TestSafeCheck_RecoversPanic(t *testing.T) {
	f := newFixture(t)
	panicky := func(*models.ErrorEvent, *models.ErrorGroup, bool, time.Time) *eventbus.ErrorAlertPayload {
		panic("boom")
	}
	if p := f.tracker.safeCheck("panicky", panicky, &models.ErrorEvent{}, &models.ErrorGroup{}, false, start); p != nil {
		t.Errorf("payload = %+v, want nil", p)
	}
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.capture(t, CaptureInput{Type: "A", Message: "a", Level: models.LevelError, Context: models.ErrorContext{WorkflowID: "wf"}})
	f.clock.Advance(7 * time.Minute)
	f.capture(t, CaptureInput{Type: "A", Message: "a", Level: models.LevelError})
	f.capture(t, CaptureInput{Type: "B", Message: "b", Level: models.LevelCritical})

	f.clock.Advance(10 * time.Minute)
	fpA := f.tracker.RecentEvents(0)[2].Fingerprint
	if _, err := f.tracker.ResolveGroup(ctx, fpA, "ops"); err != nil {
		t.Fatal(err)
	}

	r := models.TimeRange{Start: start, End: start.Add(time.Hour)}
	a, err := f.tracker.Analytics(ctx, r)
	if err != nil {
		t.Fatalf("Analytics() error = %v", err)
	}

	if a.TotalErrors != 3 || a.NewGroups != 2 || a.ResolvedGroups != 1 {
		t.Errorf("total=%d new=%d resolved=%d", a.TotalErrors, a.NewGroups, a.ResolvedGroups)
	}
	if a.ByLevel["error"] != 2 || a.ByType["B"] != 1 || a.ByWorkflow["wf"] != 1 {
		t.Errorf("breakdowns = %v %v %v", a.ByLevel, a.ByType, a.ByWorkflow)
	}
	if a.BucketSize.Std() != 5*time.Minute || len(a.Histogram) != 12 {
		t.Fatalf("bucket=%s len=%d", a.BucketSize, len(a.Histogram))
	}
	if a.Histogram[0].Count != 1 || a.Histogram[1].Count != 2 {
		t.Errorf("histogram = %+v", a.Histogram[:3])
	}
	if a.MTTR.Std() != 17*time.Minute {
		t.Errorf("MTTR = %s, want 17m", a.MTTR)
	}
	if a.Health.OpenCriticalGroups != 1 || a.Health.OpenGroups != 1 {
		t.Errorf("health inputs = %+v", a.Health)
	}
	if a.HealthScore != HealthScore(a.Health) {
		t.Errorf("score mismatch")
	}

	week := models.TimeRange{Start: start, End: start.Add(7 * 24 * time.Hour)}
	a, _ = f.tracker.Analytics(ctx, week)
	if a.BucketSize.Std() != time.Hour || len(a.Histogram) != 168 {
		t.Errorf("weekly bucket=%s len=%d", a.BucketSize, len(a.Histogram))
	}

	if _, err := f.tracker.Analytics(ctx, models.TimeRange{Start: start, End: start}); err == nil {
		t.Error("empty range should fail")
	}
}

// slowSearch holds Search until release is closed or the caller's ctx ends.
type slowSearch struct {
	storage.EventRepository
	entered chan struct{}
	release chan struct{}
}

func (s *slowSearch) Search(ctx context.Context, filter *storage.ErrorFilter) (*storage.ErrorSearchResult, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.EventRepository.Search(ctx, filter)
}

func TestAnalytics_CanceledCallerDoesNotFailWaiters(t *testing.T) {
	slow := &slowSearch{entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixture(t, func(o *Options) {
		slow.EventRepository = o.Events
		o.Events = slow
	})
	f.capture(t, CaptureInput{Type: "E", Message: "x"})
	r := models.TimeRange{Start: start, End: start.Add(time.Hour)}

	type result struct {
		a   *Analytics
		err error
	}
	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan result, 1)
	go func() {
		a, err := f.tracker.Analytics(ctx, r)
		first <- result{a, err}
	}()
	select {
	case <-slow.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("analytics never reached the store")
	}

	second := make(chan result, 1)
	go func() {
		a, err := f.tracker.Analytics(context.Background(), r)
		second <- result{a, err}
	}()

	cancel()
	if res := <-first; !errors.Is(res.err, context.Canceled) {
		t.Errorf("canceled caller error = %v, want context.Canceled", res.err)
	}

	close(slow.release)
	select {
	case res := <-second:
		if res.err != nil {
			t.Fatalf("waiting caller error = %v", res.err)
		}
		if res.a.TotalErrors != 1 {
			t.Errorf("total = %d, want 1", res.a.TotalErrors)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiting caller never got a result")
	}
}

func TestRefreshAnalytics_Publishes(t *testing.T) {
	f := newFixture(t)
	f.capture(t, CaptureInput{Type: "E", Message: "x"})
	f.clock.Advance(time.Minute)
	f.tracker.RefreshAnalytics(context.Background())

	sigs := f.rec.Signals(eventbus.MetricsUpdated)
	if len(sigs) != 1 {
		t.Fatalf("metrics_updated = %d", len(sigs))
	}
	p := sigs[0].Payload.(eventbus.MetricsPayload)
	if p.Source != "tracker" || p.Report.(*Analytics).TotalErrors != 1 {
		t.Errorf("payload = %+v", p)
	}
}

func TestCleanup_DropsStaleGroups(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Retention = 24 * time.Hour })
	ctx := context.Background()

	f.capture(t, CaptureInput{Type: "E", Message: "old"})
	f.clock.Advance(30 * time.Hour)
	f.capture(t, CaptureInput{Type: "E", Message: "fresh"})

	if n := f.tracker.Cleanup(ctx); n != 1 {
		t.Errorf("Cleanup() = %d, want 1", n)
	}
	groups := f.tracker.Groups()
	if len(groups) != 1 || groups[0].Message != "fresh" {
		t.Errorf("groups after cleanup = %d", len(groups))
	}
	stored, _ := f.store.Groups().List(ctx, nil)
	if len(stored) != 1 {
		t.Errorf("stored groups = %d, want 1", len(stored))
	}
	res, _ := f.tracker.SearchErrors(ctx, nil)
	if res.Total != 1 {
		t.Errorf("events after cleanup = %d, want 1", res.Total)
	}
}

func TestTopGroups(t *testing.T) {
	f := newFixture(t)
	f.capture(t, CaptureInput{Type: "W", Message: "w", Level: models.LevelWarning})
	f.capture(t, CaptureInput{Type: "F", Message: "f", Level: models.LevelFatal})

	top := f.tracker.TopGroups(1)
	if len(top) != 1 || top[0].Type != "F" {
		t.Errorf("TopGroups = %+v", top)
	}
}
