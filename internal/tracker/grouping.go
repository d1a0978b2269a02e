package tracker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/blazetrack/internal/errs"
	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
	"github.com/good-yellow-bee/blazetrack/internal/metrics"
	"github.com/good-yellow-bee/blazetrack/internal/models"
)

const (
	dayLayout  = "2006-01-02"
	hourLayout = "2006-01-02T15"

	// Histogram buckets older than these are trimmed.
	dailyRetention  = 90 * 24 * time.Hour
	hourlyRetention = 7 * 24 * time.Hour

	maxTitleLen = 120
)

// entry returns the lock holder for a fingerprint, creating it if needed.
func (t *Tracker) entry(fp string) *groupEntry {
	t.groupsMu.Lock()
	defer t.groupsMu.Unlock()

	e, ok := t.entries[fp]
	if !ok {
		e = &groupEntry{}
		t.entries[fp] = e
	}
	return e
}

// load fills e.group from the store when it is not cached.
// Must be called with e.mu held.
func (t *Tracker) load(ctx context.Context, e *groupEntry, fp string) error {
	if e.group != nil {
		return nil
	}
	g, err := t.groups.Get(ctx, fp)
	if err != nil {
		return fmt.Errorf("load group: %w", err)
	}
	e.group = g
	return nil
}

// group folds event into its ErrorGroup. The cached group is replaced only
// after the store accepted the update.
func (t *Tracker) group(ctx context.Context, event *models.ErrorEvent) (group *models.ErrorGroup, created, reopened bool, err error) {
	e := t.entry(event.Fingerprint)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := t.load(ctx, e, event.Fingerprint); err != nil {
		return nil, false, false, err
	}

	var next *models.ErrorGroup
	if e.group == nil {
		next = newGroup(event)
		created = true
	} else {
		next = e.group.Clone()
		reopened = mergeEvent(next, event)
	}
	updateStats(next, event.Timestamp, t.clock.Now())

	if err := t.groups.Upsert(ctx, next); err != nil {
		return nil, false, false, fmt.Errorf("upsert group: %w", err)
	}
	e.group = next
	return next.Clone(), created, reopened, nil
}

func newGroup(event *models.ErrorEvent) *models.ErrorGroup {
	g := &models.ErrorGroup{
		ID:          uuid.New().String(),
		Fingerprint: event.Fingerprint,
		Title:       groupTitle(event),
		Message:     event.Message,
		Type:        event.Type,
		Level:       event.Level,
		FirstSeen:   event.Timestamp,
		LastSeen:    event.Timestamp,
		Count:       1,
		Status:      models.GroupOpen,
		Stats: models.GroupStats{
			Daily:  make(map[string]int),
			Hourly: make(map[string]int),
			Trend:  models.TrendStable,
		},
	}
	addDimensions(g, event)
	g.Samples = []models.ErrorEvent{sampleOf(event)}
	return g
}

// mergeEvent applies a subsequent occurrence to g. It reports whether a
// resolved group was reopened.
func mergeEvent(g *models.ErrorGroup, event *models.ErrorEvent) bool {
	g.Count++
	if event.Timestamp.After(g.LastSeen) {
		g.LastSeen = event.Timestamp
	}
	if event.Timestamp.Before(g.FirstSeen) {
		g.FirstSeen = event.Timestamp
	}
	g.Level = models.MaxLevel(g.Level, event.Level)
	addDimensions(g, event)

	g.Samples = append(g.Samples, sampleOf(event))
	if over := len(g.Samples) - models.MaxGroupSamples; over > 0 {
		g.Samples = append([]models.ErrorEvent(nil), g.Samples[over:]...)
	}

	if g.Status == models.GroupResolved {
		g.Status = models.GroupOpen
		g.ResolvedAt = nil
		g.ResolvedBy = ""
		return true
	}
	return false
}

func addDimensions(g *models.ErrorGroup, event *models.ErrorEvent) {
	g.Users = models.AddUnique(g.Users, event.Context.UserID)
	g.Environments = models.AddUnique(g.Environments, event.Context.Environment)
	g.Platforms = models.AddUnique(g.Platforms, event.Context.Platform)
	g.AffectedWorkflows = models.AddUnique(g.AffectedWorkflows, event.Context.WorkflowID)
	for _, tag := range event.Metadata.Tags {
		g.Tags = models.AddUnique(g.Tags, tag)
	}
}

// sampleOf strips breadcrumbs so the sample ring stays small.
func sampleOf(event *models.ErrorEvent) models.ErrorEvent {
	s := *event
	s.Breadcrumbs = nil
	return s
}

func groupTitle(event *models.ErrorEvent) string {
	title := event.Type
	if event.Message != "" {
		title += ": " + event.Message
	}
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen-3] + "..."
	}
	return title
}

// updateStats bumps the histogram buckets for ts and recomputes the trend
// and severity score as of now.
func updateStats(g *models.ErrorGroup, ts, now time.Time) {
	if g.Stats.Daily == nil {
		g.Stats.Daily = make(map[string]int)
	}
	if g.Stats.Hourly == nil {
		g.Stats.Hourly = make(map[string]int)
	}
	ts = ts.UTC()
	g.Stats.Daily[ts.Format(dayLayout)]++
	g.Stats.Hourly[ts.Format(hourLayout)]++

	trimBuckets(g, now)
	g.Stats.Trend = classifyTrend(g.Stats.Daily, now)
	g.Stats.SeverityScore = severityScore(g)
}

// trimBuckets drops histogram buckets past their retention.
func trimBuckets(g *models.ErrorGroup, now time.Time) {
	dayCutoff := now.UTC().Add(-dailyRetention).Format(dayLayout)
	for k := range g.Stats.Daily {
		if k < dayCutoff {
			delete(g.Stats.Daily, k)
		}
	}
	hourCutoff := now.UTC().Add(-hourlyRetention).Format(hourLayout)
	for k := range g.Stats.Hourly {
		if k < hourCutoff {
			delete(g.Stats.Hourly, k)
		}
	}
}

// classifyTrend compares the mean of the last three calendar days (today
// included) with the mean of the three before them. Without a baseline the
// trend is stable.
func classifyTrend(daily map[string]int, now time.Time) models.Trend {
	day := now.UTC()
	var recent, previous float64
	for i := 0; i < 6; i++ {
		c := float64(daily[day.AddDate(0, 0, -i).Format(dayLayout)])
		if i < 3 {
			recent += c
		} else {
			previous += c
		}
	}
	recent /= 3
	previous /= 3

	switch {
	case previous == 0:
		return models.TrendStable
	case recent > previous*1.5:
		return models.TrendIncreasing
	case recent < previous*0.5:
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}

// severityScore rates a group 0-100 from its level, volume, reach and trend.
func severityScore(g *models.ErrorGroup) float64 {
	var score float64
	switch g.Level {
	case models.LevelFatal:
		score = 70
	case models.LevelCritical:
		score = 55
	case models.LevelError:
		score = 35
	default:
		score = 15
	}
	score += math.Min(15, math.Log10(float64(g.Count)+1)*5)
	score += math.Min(10, float64(len(g.Users))*2)
	if g.Stats.Trend == models.TrendIncreasing {
		score += 5
	}
	return math.Max(0, math.Min(100, score))
}

// updateGroupGauge must not be called with an entry lock held.
func (t *Tracker) updateGroupGauge() {
	metrics.ErrorGroupsActive.Set(float64(len(t.Groups())))
}

// Group returns the group for a fingerprint, consulting the store when it
// is not cached. It returns a validation error wrapping ErrNotFound when no
// group exists.
func (t *Tracker) Group(ctx context.Context, fp string) (*models.ErrorGroup, error) {
	t.groupsMu.Lock()
	e, ok := t.entries[fp]
	t.groupsMu.Unlock()

	if ok {
		e.mu.Lock()
		g := e.group.Clone()
		e.mu.Unlock()
		if g != nil {
			return g, nil
		}
	}

	g, err := t.groups.Get(ctx, fp)
	if err != nil {
		return nil, errs.Persistence("get group", err)
	}
	if g == nil {
		return nil, errs.NotFound("get group", "error group", fp)
	}
	return g, nil
}

// Groups returns the cached groups, most recently seen first.
func (t *Tracker) Groups() []*models.ErrorGroup {
	t.groupsMu.Lock()
	entries := make([]*groupEntry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.groupsMu.Unlock()

	groups := make([]*models.ErrorGroup, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.group != nil {
			groups = append(groups, e.group.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].LastSeen.After(groups[j].LastSeen)
	})
	return groups
}

// ResolveGroup marks a group resolved.
func (t *Tracker) ResolveGroup(ctx context.Context, fp, by string) (*models.ErrorGroup, error) {
	return t.SetGroupStatus(ctx, fp, models.GroupResolved, by)
}

// SetGroupStatus changes a group's triage status.
func (t *Tracker) SetGroupStatus(ctx context.Context, fp string, status models.GroupStatus, by string) (*models.ErrorGroup, error) {
	if !status.IsValid() {
		return nil, errs.Validation("set group status", "unknown status %q", status)
	}
	return t.mutateGroup(ctx, "set group status", fp, func(g *models.ErrorGroup) {
		g.Status = status
		if status == models.GroupResolved {
			now := t.clock.Now()
			g.ResolvedAt = &now
			g.ResolvedBy = by
		} else {
			g.ResolvedAt = nil
			g.ResolvedBy = ""
		}
	})
}

// AssignGroup sets a group's assignee. An empty assignee unassigns.
func (t *Tracker) AssignGroup(ctx context.Context, fp, assignee string) (*models.ErrorGroup, error) {
	return t.mutateGroup(ctx, "assign group", fp, func(g *models.ErrorGroup) {
		g.Assignee = assignee
	})
}

func (t *Tracker) mutateGroup(ctx context.Context, op, fp string, fn func(*models.ErrorGroup)) (*models.ErrorGroup, error) {
	// Unknown fingerprints must not leave a placeholder entry behind.
	if _, err := t.Group(ctx, fp); err != nil {
		return nil, err
	}

	e := t.entry(fp)
	e.mu.Lock()

	if err := t.load(ctx, e, fp); err != nil {
		e.mu.Unlock()
		return nil, errs.Persistence(op, err)
	}
	if e.group == nil {
		e.mu.Unlock()
		return nil, errs.NotFound(op, "error group", fp)
	}

	next := e.group.Clone()
	fn(next)
	if err := t.groups.Upsert(ctx, next); err != nil {
		e.mu.Unlock()
		return nil, errs.Persistence(op, err)
	}
	e.group = next
	out := next.Clone()
	e.mu.Unlock()

	t.bus.Publish(eventbus.ErrorGroupUpdated, eventbus.GroupPayload{Group: out.Clone()})
	return out, nil
}
