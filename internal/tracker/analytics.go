package tracker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/errs"
	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
	"github.com/good-yellow-bee/blazetrack/internal/metrics"
	"github.com/good-yellow-bee/blazetrack/internal/models"
	"github.com/good-yellow-bee/blazetrack/internal/storage"
)

// analyticsScanLimit caps the events read for breakdowns and histograms.
const analyticsScanLimit = 10000

// HistogramBucket is one slot of the analytics histogram.
type HistogramBucket struct {
	Start time.Time `json:"start"`
	Count int64     `json:"count"`
}

// Analytics is the aggregate report over a time range.
type Analytics struct {
	Range          models.TimeRange  `json:"range"`
	TotalErrors    int64             `json:"total_errors"`
	NewGroups      int               `json:"new_groups"`
	ResolvedGroups int               `json:"resolved_groups"`
	ByLevel        map[string]int64  `json:"by_level"`
	ByType         map[string]int64  `json:"by_type"`
	ByWorkflow     map[string]int64  `json:"by_workflow"`
	BucketSize     models.Duration   `json:"bucket_size"`
	Histogram      []HistogramBucket `json:"histogram"`
	// MTTR is the mean time from first occurrence to resolution.
	MTTR        models.Duration `json:"mttr"`
	HealthScore float64         `json:"health_score"`
	Health      HealthInputs    `json:"health_inputs"`
	// Truncated is set when breakdowns cover only the newest analyticsScanLimit events.
	Truncated   bool      `json:"truncated,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// HealthInputs are the figures the health score is derived from.
type HealthInputs struct {
	TotalErrors        int64 `json:"total_errors"`
	OpenGroups         int   `json:"open_groups"`
	OpenCriticalGroups int   `json:"open_critical_groups"`
	TrendingUpGroups   int   `json:"trending_up_groups"`
}

// HealthScore starts at 100 and subtracts up to 30 for error volume, 10 per
// open critical group, up to 20 for open groups and 5 per group trending
// upward. The result is clamped to [0, 100].
func HealthScore(in HealthInputs) float64 {
	score := 100.0
	score -= math.Min(30, float64(in.TotalErrors)/10)
	score -= 10 * float64(in.OpenCriticalGroups)
	score -= math.Min(20, float64(in.OpenGroups))
	score -= 5 * float64(in.TrendingUpGroups)
	return math.Max(0, math.Min(100, score))
}

// Analytics builds the report for r. Concurrent calls for the same range
// share one computation, which runs detached from any single caller's
// cancellation; a caller whose ctx ends stops waiting on its own.
func (t *Tracker) Analytics(ctx context.Context, r models.TimeRange) (*Analytics, error) {
	if !r.End.After(r.Start) {
		return nil, errs.Validation("analytics", "range end must be after start")
	}

	key := fmt.Sprintf("%d-%d", r.Start.UnixNano(), r.End.UnixNano())
	shared := context.WithoutCancel(ctx)
	ch := t.analytics.DoChan(key, func() (any, error) {
		return t.computeAnalytics(shared, r)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Analytics), nil
	}
}

func (t *Tracker) computeAnalytics(ctx context.Context, r models.TimeRange) (*Analytics, error) {
	res, err := t.events.Search(ctx, &storage.ErrorFilter{
		StartTime: r.Start,
		EndTime:   r.End,
		Limit:     analyticsScanLimit,
	})
	if err != nil {
		return nil, errs.Persistence("analytics", err)
	}

	bucket := time.Hour
	if r.Duration() <= 24*time.Hour {
		bucket = 5 * time.Minute
	}

	a := &Analytics{
		Range:       r,
		TotalErrors: res.Total,
		ByLevel:     make(map[string]int64),
		ByType:      make(map[string]int64),
		ByWorkflow:  make(map[string]int64),
		BucketSize:  models.Duration(bucket),
		Histogram:   emptyHistogram(r, bucket),
		Truncated:   res.HasMore,
		GeneratedAt: t.clock.Now(),
	}

	for _, e := range res.Events {
		if !r.Contains(e.Timestamp) {
			continue
		}
		a.ByLevel[string(e.Level)]++
		a.ByType[e.Type]++
		if e.Context.WorkflowID != "" {
			a.ByWorkflow[e.Context.WorkflowID]++
		}
		if i := int(e.Timestamp.Sub(r.Start) / bucket); i >= 0 && i < len(a.Histogram) {
			a.Histogram[i].Count++
		}
	}

	var resolveTotal time.Duration
	groups := t.Groups()
	for _, g := range groups {
		if r.Contains(g.FirstSeen) {
			a.NewGroups++
		}
		if g.Status == models.GroupResolved && g.ResolvedAt != nil && r.Contains(*g.ResolvedAt) {
			a.ResolvedGroups++
			resolveTotal += g.ResolvedAt.Sub(g.FirstSeen)
		}
		if g.Status != models.GroupOpen {
			continue
		}
		a.Health.OpenGroups++
		if g.Level.Rank() >= models.LevelCritical.Rank() {
			a.Health.OpenCriticalGroups++
		}
		if g.Stats.Trend == models.TrendIncreasing {
			a.Health.TrendingUpGroups++
		}
	}
	if a.ResolvedGroups > 0 {
		a.MTTR = models.Duration(resolveTotal / time.Duration(a.ResolvedGroups))
	}

	a.Health.TotalErrors = a.TotalErrors
	a.HealthScore = HealthScore(a.Health)
	return a, nil
}

func emptyHistogram(r models.TimeRange, bucket time.Duration) []HistogramBucket {
	n := int((r.Duration() + bucket - 1) / bucket)
	h := make([]HistogramBucket, n)
	for i := range h {
		h[i].Start = r.Start.Add(time.Duration(i) * bucket)
	}
	return h
}

// RefreshAnalytics computes the last 24 hours and publishes it as a
// metrics_updated signal. Failures are logged.
func (t *Tracker) RefreshAnalytics(ctx context.Context) {
	a, err := t.Analytics(ctx, models.LastRange(t.clock.Now(), 24*time.Hour))
	if err != nil {
		t.logger.Error("analytics refresh failed", "error", err)
		return
	}
	metrics.HealthScore.Set(a.HealthScore)
	t.bus.Publish(eventbus.MetricsUpdated, eventbus.MetricsPayload{Source: "tracker", Report: a})
}

// TopGroups returns up to n open groups ordered by severity score.
func (t *Tracker) TopGroups(n int) []*models.ErrorGroup {
	var open []*models.ErrorGroup
	for _, g := range t.Groups() {
		if g.Status == models.GroupOpen {
			open = append(open, g)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		return open[i].Stats.SeverityScore > open[j].Stats.SeverityScore
	})
	if n > 0 && len(open) > n {
		open = open[:n]
	}
	return open
}
