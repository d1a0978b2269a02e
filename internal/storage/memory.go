package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// MemoryStorage keeps everything in process memory. It satisfies both
// Storage and EventStorage.
type MemoryStorage struct {
	mu sync.RWMutex

	events        []*models.ErrorEvent
	groups        map[string]*models.ErrorGroup
	alerts        map[string]*models.Alert
	rules         map[string]*models.AlertRule
	escalations   map[string]*models.EscalationInstance
	notifications map[string]*models.NotificationResult
	suppressions  map[string]time.Time
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		groups:        make(map[string]*models.ErrorGroup),
		alerts:        make(map[string]*models.Alert),
		rules:         make(map[string]*models.AlertRule),
		escalations:   make(map[string]*models.EscalationInstance),
		notifications: make(map[string]*models.NotificationResult),
		suppressions:  make(map[string]time.Time),
	}
}

func (s *MemoryStorage) Open() error                    { return nil }
func (s *MemoryStorage) Close() error                   { return nil }
func (s *MemoryStorage) Migrate() error                 { return nil }
func (s *MemoryStorage) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStorage) Events() EventRepository               { return memEvents{s} }
func (s *MemoryStorage) Groups() GroupRepository               { return memGroups{s} }
func (s *MemoryStorage) Alerts() AlertRepository               { return memAlerts{s} }
func (s *MemoryStorage) Rules() RuleRepository                 { return memRules{s} }
func (s *MemoryStorage) Escalations() EscalationRepository     { return memEscalations{s} }
func (s *MemoryStorage) Notifications() NotificationRepository { return memNotifications{s} }
func (s *MemoryStorage) Suppressions() SuppressionRepository   { return memSuppressions{s} }

type memEvents struct{ s *MemoryStorage }

func (r memEvents) Store(ctx context.Context, event *models.ErrorEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e := *event
	r.s.events = append(r.s.events, &e)
	return nil
}

func (r memEvents) Search(ctx context.Context, filter *ErrorFilter) (*ErrorSearchResult, error) {
	if filter == nil {
		filter = &ErrorFilter{}
	}
	r.s.mu.RLock()
	var matched []*models.ErrorEvent
	for i := len(r.s.events) - 1; i >= 0; i-- {
		if matchEvent(r.s.events[i], filter) {
			e := *r.s.events[i]
			matched = append(matched, &e)
		}
	}
	r.s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	total := int64(len(matched))
	page := paginate(matched, filter.Offset, limitOrDefault(filter.Limit))
	return &ErrorSearchResult{
		Events:  page,
		Total:   total,
		HasMore: int64(filter.Offset+len(page)) < total,
	}, nil
}

func (r memEvents) Trends(ctx context.Context, tr models.TimeRange, g Granularity) ([]TrendPoint, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	counts := make(map[time.Time]int64)
	for _, e := range r.s.events {
		if !tr.Contains(e.Timestamp) {
			continue
		}
		counts[e.Timestamp.UTC().Truncate(g.Bucket())]++
	}
	out := make([]TrendPoint, 0, len(counts))
	for b, c := range counts {
		out = append(out, TrendPoint{Bucket: b, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out, nil
}

func (r memEvents) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.events[:0]
	var n int64
	for _, e := range r.s.events {
		if e.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.s.events = kept
	return n, nil
}

func matchEvent(e *models.ErrorEvent, f *ErrorFilter) bool {
	switch {
	case f.Fingerprint != "" && e.Fingerprint != f.Fingerprint:
		return false
	case f.Type != "" && e.Type != f.Type:
		return false
	case f.WorkflowID != "" && e.Context.WorkflowID != f.WorkflowID:
		return false
	case f.UserID != "" && e.Context.UserID != f.UserID:
		return false
	case f.Environment != "" && e.Context.Environment != f.Environment:
		return false
	case f.MessageContains != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(f.MessageContains)):
		return false
	case !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime):
		return false
	case !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime):
		return false
	}
	if len(f.Levels) > 0 {
		for _, l := range f.Levels {
			if l == e.Level {
				return true
			}
		}
		return false
	}
	return true
}

type memGroups struct{ s *MemoryStorage }

func (r memGroups) Get(ctx context.Context, fingerprint string) (*models.ErrorGroup, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.groups[fingerprint].Clone(), nil
}

func (r memGroups) Upsert(ctx context.Context, group *models.ErrorGroup) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.groups[group.Fingerprint] = group.Clone()
	return nil
}

func (r memGroups) List(ctx context.Context, filter *GroupFilter) ([]*models.ErrorGroup, error) {
	if filter == nil {
		filter = &GroupFilter{}
	}
	r.s.mu.RLock()
	var out []*models.ErrorGroup
	for _, g := range r.s.groups {
		if filter.Type != "" && g.Type != filter.Type {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, g.Status) {
			continue
		}
		out = append(out, g.Clone())
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return paginate(out, filter.Offset, limitOrDefault(filter.Limit)), nil
}

func (r memGroups) Delete(ctx context.Context, fingerprint string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.groups, fingerprint)
	return nil
}

func (r memGroups) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for fp, g := range r.s.groups {
		if g.LastSeen.Before(before) {
			delete(r.s.groups, fp)
			n++
		}
	}
	return n, nil
}

type memAlerts struct{ s *MemoryStorage }

func (r memAlerts) Create(ctx context.Context, alert *models.Alert) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.alerts[alert.ID] = alert.Clone()
	return nil
}

func (r memAlerts) Update(ctx context.Context, alert *models.Alert) error {
	return r.Create(ctx, alert)
}

func (r memAlerts) Get(ctx context.Context, id string) (*models.Alert, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.alerts[id].Clone(), nil
}

func (r memAlerts) Search(ctx context.Context, filter *AlertFilter) ([]*models.Alert, int64, error) {
	if filter == nil {
		filter = &AlertFilter{}
	}
	r.s.mu.RLock()
	var out []*models.Alert
	for _, a := range r.s.alerts {
		if MatchAlert(a, filter) {
			out = append(out, a.Clone())
		}
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return paginate(out, filter.Offset, limitOrDefault(filter.Limit)), int64(len(out)), nil
}

// MatchAlert reports whether an alert satisfies the filter.
func MatchAlert(a *models.Alert, f *AlertFilter) bool {
	switch {
	case f.Type != "" && a.Type != f.Type:
		return false
	case f.Source != "" && a.Source != f.Source:
		return false
	case f.Fingerprint != "" && a.Fingerprint != f.Fingerprint:
		return false
	case !f.StartTime.IsZero() && a.Timestamp.Before(f.StartTime):
		return false
	case !f.EndTime.IsZero() && a.Timestamp.After(f.EndTime):
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if s == a.Status {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Severities) > 0 {
		for _, s := range f.Severities {
			if s == a.Severity {
				return true
			}
		}
		return false
	}
	return true
}

type memRules struct{ s *MemoryStorage }

func (r memRules) Create(ctx context.Context, rule *models.AlertRule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *rule
	r.s.rules[rule.ID] = &c
	return nil
}

func (r memRules) Update(ctx context.Context, rule *models.AlertRule) error {
	return r.Create(ctx, rule)
}

func (r memRules) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.rules, id)
	return nil
}

func (r memRules) Get(ctx context.Context, id string) (*models.AlertRule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rule, ok := r.s.rules[id]
	if !ok {
		return nil, nil
	}
	c := *rule
	return &c, nil
}

func (r memRules) List(ctx context.Context) ([]*models.AlertRule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*models.AlertRule, 0, len(r.s.rules))
	for _, rule := range r.s.rules {
		c := *rule
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memEscalations struct{ s *MemoryStorage }

func (r memEscalations) Upsert(ctx context.Context, inst *models.EscalationInstance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.escalations[inst.ID] = inst.Clone()
	return nil
}

func (r memEscalations) Get(ctx context.Context, id string) (*models.EscalationInstance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.escalations[id].Clone(), nil
}

func (r memEscalations) ListByStatus(ctx context.Context, statuses ...models.EscalationStatus) ([]*models.EscalationInstance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.EscalationInstance
	for _, inst := range r.s.escalations {
		for _, st := range statuses {
			if inst.Status == st {
				out = append(out, inst.Clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

type memNotifications struct{ s *MemoryStorage }

func (r memNotifications) Upsert(ctx context.Context, result *models.NotificationResult) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.notifications[result.ID] = result.Clone()
	return nil
}

func (r memNotifications) Get(ctx context.Context, id string) (*models.NotificationResult, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.notifications[id].Clone(), nil
}

func (r memNotifications) ListRetryable(ctx context.Context) ([]*models.NotificationResult, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.NotificationResult
	for _, n := range r.s.notifications {
		if n.Status == models.NotificationFailed && n.NextRetryAt != nil {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	return out, nil
}

func (r memNotifications) ListSince(ctx context.Context, since time.Time) ([]*models.NotificationResult, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.NotificationResult
	for _, n := range r.s.notifications {
		if !n.CreatedAt.Before(since) {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type memSuppressions struct{ s *MemoryStorage }

func (r memSuppressions) Put(ctx context.Context, fingerprint string, until time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.suppressions[fingerprint] = until
	return nil
}

func (r memSuppressions) Delete(ctx context.Context, fingerprint string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.suppressions, fingerprint)
	return nil
}

func (r memSuppressions) ListActive(ctx context.Context, now time.Time) (map[string]time.Time, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[string]time.Time)
	for fp, until := range r.s.suppressions {
		if until.After(now) {
			out[fp] = until
		}
	}
	return out, nil
}

func (r memSuppressions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for fp, until := range r.s.suppressions {
		if !until.After(now) {
			delete(r.s.suppressions, fp)
			n++
		}
	}
	return n, nil
}

func containsStatus(list []models.GroupStatus, s models.GroupStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
