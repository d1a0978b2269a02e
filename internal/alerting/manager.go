package alerting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/blazetrack/internal/clock"
	"github.com/good-yellow-bee/blazetrack/internal/errs"
	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
	"github.com/good-yellow-bee/blazetrack/internal/metrics"
	"github.com/good-yellow-bee/blazetrack/internal/models"
	"github.com/good-yellow-bee/blazetrack/internal/storage"
)

// Options configures a Manager.
type Options struct {
	Alerts       storage.AlertRepository
	Rules        storage.RuleRepository
	Suppressions storage.SuppressionRepository
	Bus          *eventbus.Bus
	Clock        clock.Clock
	Logger       *slog.Logger

	// RulesFile is the YAML file read by ReloadRules. Optional.
	RulesFile string
	// DefaultRecipients receive alerts raised from tracker signals.
	DefaultRecipients models.Recipients
	// MaxEscalationLevel is used by escalate actions that set no max level.
	MaxEscalationLevel int
	// ScriptTimeout bounds script actions.
	ScriptTimeout time.Duration
	// QueueSize buffers tracker signals waiting for Run. Signals beyond it
	// are dropped and counted by the bus.
	QueueSize int
}

// AlertInput describes an alert to create.
type AlertInput struct {
	Type       string            `json:"type"`
	Severity   models.Severity   `json:"severity"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Source     string            `json:"source"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	Context    map[string]any    `json:"context,omitempty"`
	Recipients models.Recipients `json:"recipients"`
	// EscalationRuleID and MaxEscalationLevel seed the escalation sub-record.
	// The escalation engine starts when MaxEscalationLevel > 0.
	EscalationRuleID   string `json:"escalation_rule_id,omitempty"`
	MaxEscalationLevel int    `json:"max_escalation_level,omitempty"`
}

// Stats are alert manager counters.
type Stats struct {
	Created        int64 `json:"created"`
	Suppressed     int64 `json:"suppressed"`
	RuleSuppressed int64 `json:"rule_suppressed"`
	Throttled      int64 `json:"throttled"`
	ScriptFailures int64 `json:"script_failures"`
	Rules          int   `json:"rules"`
	Indexed        int   `json:"indexed"`
	Suppressions   int   `json:"suppressions"`
}

// Manager is the alert manager.
type Manager struct {
	alerts       storage.AlertRepository
	ruleRepo     storage.RuleRepository
	suppressRepo storage.SuppressionRepository
	bus          *eventbus.Bus
	sub          *eventbus.Subscription
	clock        clock.Clock
	logger       *slog.Logger
	opts         Options

	rulesMu  sync.RWMutex
	rules    []*compiledRule
	fromFile map[string]bool

	indexMu sync.Mutex
	index   map[string]*alertEntry

	throttle     *throttle
	suppressions *suppressionTable

	scripts sync.WaitGroup

	created        atomic.Int64
	suppressed     atomic.Int64
	ruleSuppressed atomic.Int64
	throttled      atomic.Int64
	scriptFailures atomic.Int64
}

// alertEntry serializes read-modify-write cycles on one alert.
type alertEntry struct {
	mu    sync.Mutex
	alert *models.Alert
}

// New creates a manager and registers its bus handlers.
func New(opts Options) (*Manager, error) {
	if opts.Alerts == nil || opts.Rules == nil || opts.Suppressions == nil {
		return nil, errs.Configuration("new alert manager", "alert, rule and suppression repositories are required")
	}
	if opts.Bus == nil {
		return nil, errs.Configuration("new alert manager", "event bus is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxEscalationLevel <= 0 {
		opts.MaxEscalationLevel = 5
	}
	if opts.ScriptTimeout <= 0 {
		opts.ScriptTimeout = 30 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}

	m := &Manager{
		alerts:       opts.Alerts,
		ruleRepo:     opts.Rules,
		suppressRepo: opts.Suppressions,
		bus:          opts.Bus,
		clock:        opts.Clock,
		logger:       opts.Logger.With("component", "alerting"),
		opts:         opts,
		fromFile:     make(map[string]bool),
		index:        make(map[string]*alertEntry),
		throttle:     newThrottle(),
		suppressions: newSuppressionTable(),
	}
	m.subscribe()
	return m, nil
}

// Fingerprint is the dedup key of an alert: type, title, source and the
// workflow and node ids when present in metadata.
func Fingerprint(alertType, title, source string, metadata map[string]any) string {
	parts := []string{alertType, title, source}
	for _, key := range []string{"workflowId", "nodeId"} {
		if v, ok := metadata[key]; ok && v != nil && fmt.Sprint(v) != "" {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// CreateAlert runs the alert pipeline. It returns an empty id and no error
// when the alert is dropped by suppression or throttling.
func (m *Manager) CreateAlert(ctx context.Context, in AlertInput) (string, error) {
	if in.Title == "" {
		return "", errs.Validation("create alert", "title is required")
	}
	if in.Severity == "" {
		in.Severity = models.SeverityMedium
	}
	if !in.Severity.IsValid() {
		return "", errs.Validation("create alert", "invalid severity %q", in.Severity)
	}
	if in.Type == "" {
		in.Type = "alert"
	}
	if in.Source == "" {
		in.Source = "manual"
	}
	if in.MaxEscalationLevel < 0 {
		return "", errs.Validation("create alert", "max escalation level must not be negative")
	}

	now := m.clock.Now()
	fp := Fingerprint(in.Type, in.Title, in.Source, in.Metadata)

	if m.suppressions.active(fp, now) {
		m.drop("suppressed", fp, in.Title)
		m.suppressed.Add(1)
		return "", nil
	}

	alert := &models.Alert{
		ID:          uuid.NewString(),
		Type:        in.Type,
		Severity:    in.Severity,
		Status:      models.AlertOpen,
		Title:       in.Title,
		Message:     in.Message,
		Source:      in.Source,
		Fingerprint: fp,
		Timestamp:   now,
		Metadata:    in.Metadata,
		Context:     in.Context,
		Recipients:  in.Recipients,
		Escalation: models.EscalationState{
			RuleID:   in.EscalationRuleID,
			MaxLevel: in.MaxEscalationLevel,
		},
	}

	matched := m.matchingRules(alert, now)

	var ruleSuppress bool
	for _, cr := range matched {
		if action, ok := cr.rule.SuppressAction(); ok {
			m.addSuppression(ctx, fp, now.Add(action.Duration.Std()))
			ruleSuppress = true
		}
	}
	// Any matching rule carrying a suppress action drops the alert.
	if ruleSuppress {
		m.drop("rule_suppressed", fp, in.Title)
		m.ruleSuppressed.Add(1)
		return "", nil
	}

	allowed := true
	for _, cr := range matched {
		if !m.throttle.allow(cr.rule.ID, fp, cr.rule.Throttle, now) {
			allowed = false
		}
	}
	if !allowed {
		m.drop("throttled", fp, in.Title)
		m.throttled.Add(1)
		return "", nil
	}

	var deferred []models.RuleAction
	for _, cr := range matched {
		for _, a := range cr.rule.Actions {
			if a.Type == models.ActionEscalate {
				m.applyEscalate(alert, a)
				continue
			}
			deferred = append(deferred, a)
		}
	}

	if err := m.alerts.Create(ctx, alert); err != nil {
		return "", errs.Persistence("create alert", err)
	}

	e := &alertEntry{alert: alert}
	m.indexMu.Lock()
	m.index[alert.ID] = e
	m.indexMu.Unlock()

	m.created.Add(1)
	metrics.AlertsCreatedTotal.WithLabelValues(string(alert.Severity)).Inc()
	m.logger.Info("alert created",
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"title", alert.Title,
		"rules", len(matched))

	snapshot := alert.Clone()
	if recipients := alert.Recipients.All(); len(recipients) > 0 {
		m.bus.Publish(eventbus.NotificationRequested, notificationRequest(snapshot, recipients, nil, ""))
	}
	for _, a := range deferred {
		m.runAction(ctx, snapshot, a)
	}
	m.bus.Publish(eventbus.AlertCreated, eventbus.AlertPayload{Alert: snapshot})
	return alert.ID, nil
}

func (m *Manager) drop(reason, fp, title string) {
	metrics.AlertsDroppedTotal.WithLabelValues(reason).Inc()
	m.logger.Debug("alert dropped", "reason", reason, "fingerprint", fp, "title", title)
}

// matchingRules returns enabled rules whose schedule is active and whose
// conditions all hold. Expression errors count as no match.
func (m *Manager) matchingRules(alert *models.Alert, now time.Time) []*compiledRule {
	m.rulesMu.RLock()
	rules := m.rules
	m.rulesMu.RUnlock()

	env := alertEnv(alert)
	var out []*compiledRule
	for _, cr := range rules {
		if !cr.rule.IsEnabled() {
			continue
		}
		if cr.schedule != nil && !cr.schedule.active(now) {
			continue
		}
		ok, err := cr.matches(env)
		if err != nil {
			m.logger.Warn("rule evaluation failed", "rule", cr.rule.ID, "error", err)
			continue
		}
		if ok {
			out = append(out, cr)
		}
	}
	return out
}

func (m *Manager) applyEscalate(alert *models.Alert, a models.RuleAction) {
	if a.EscalationRuleID != "" {
		alert.Escalation.RuleID = a.EscalationRuleID
	}
	level := a.MaxLevel
	if level <= 0 {
		level = m.opts.MaxEscalationLevel
	}
	if level > alert.Escalation.MaxLevel {
		alert.Escalation.MaxLevel = level
	}
}

func (m *Manager) addSuppression(ctx context.Context, fp string, until time.Time) {
	until = m.suppressions.put(fp, until)
	if err := m.suppressRepo.Put(ctx, fp, until); err != nil {
		m.logger.Error("persist suppression failed", "fingerprint", fp, "error", err)
	}
	metrics.SuppressionsActive.Set(float64(m.suppressions.len()))
}

// lockedEntry returns the index entry for id, loading it from the store with the
// entry lock held. The caller must unlock e.mu.
func (m *Manager) lockedEntry(ctx context.Context, op, id string) (*alertEntry, error) {
	m.indexMu.Lock()
	e, ok := m.index[id]
	if !ok {
		e = &alertEntry{}
		m.index[id] = e
	}
	m.indexMu.Unlock()

	e.mu.Lock()
	if e.alert != nil {
		return e, nil
	}
	a, err := m.alerts.Get(ctx, id)
	if err == nil && a == nil {
		err = errs.NotFound(op, "alert", id)
	} else if err != nil {
		err = errs.Persistence(op, err)
	}
	if err != nil {
		m.indexMu.Lock()
		if m.index[id] == e {
			delete(m.index, id)
		}
		m.indexMu.Unlock()
		e.mu.Unlock()
		return nil, err
	}
	e.alert = a
	return e, nil
}

// mutate applies fn to a copy of the alert, persists it and swaps it into
// the index. fn returns an error to abort without changes.
func (m *Manager) mutate(ctx context.Context, op, id string, fn func(*models.Alert) error) (*models.Alert, error) {
	e, err := m.lockedEntry(ctx, op, id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	next := e.alert.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := m.alerts.Update(ctx, next); err != nil {
		return nil, errs.Persistence(op, err)
	}
	e.alert = next
	return next.Clone(), nil
}

// AcknowledgeAlert moves an open alert to acknowledged.
func (m *Manager) AcknowledgeAlert(ctx context.Context, id, by, note string) (*models.Alert, error) {
	now := m.clock.Now()
	a, err := m.mutate(ctx, "acknowledge alert", id, func(a *models.Alert) error {
		if a.Status != models.AlertOpen {
			return errs.Validation("acknowledge alert", "alert %s is %s, only open alerts can be acknowledged", id, a.Status)
		}
		a.Status = models.AlertAcknowledged
		a.Acknowledgment = &models.Acknowledgment{By: by, At: now, Note: note}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.transitioned(a, by, eventbus.AlertAcknowledged)
	return a, nil
}

// ResolveAlert resolves an alert from any status.
func (m *Manager) ResolveAlert(ctx context.Context, id, by, resolution, rootCause string) (*models.Alert, error) {
	now := m.clock.Now()
	a, err := m.mutate(ctx, "resolve alert", id, func(a *models.Alert) error {
		a.Status = models.AlertResolved
		a.Resolution = &models.Resolution{By: by, At: now, Resolution: resolution, RootCause: rootCause}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.transitioned(a, by, eventbus.AlertResolved)
	return a, nil
}

// SuppressAlert marks the alert suppressed and blocks new alerts with the
// same fingerprint until now+d.
func (m *Manager) SuppressAlert(ctx context.Context, id, by string, d time.Duration, reason string) (*models.Alert, error) {
	if d <= 0 {
		return nil, errs.Validation("suppress alert", "duration must be positive")
	}
	until := m.clock.Now().Add(d)
	a, err := m.mutate(ctx, "suppress alert", id, func(a *models.Alert) error {
		a.Status = models.AlertSuppressed
		a.SuppressedUntil = &until
		if reason != "" {
			meta := make(map[string]any, len(a.Metadata)+1)
			for k, v := range a.Metadata {
				meta[k] = v
			}
			meta["suppressReason"] = reason
			a.Metadata = meta
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.addSuppression(ctx, a.Fingerprint, until)
	m.transitioned(a, by, eventbus.AlertSuppressed)
	return a, nil
}

func (m *Manager) transitioned(a *models.Alert, by string, t eventbus.Type) {
	metrics.AlertTransitionsTotal.WithLabelValues(string(a.Status)).Inc()
	m.logger.Info("alert "+string(a.Status), "alert_id", a.ID, "by", by)
	m.bus.Publish(t, eventbus.AlertPayload{Alert: a, By: by})
}

// GetAlert returns an alert by id.
func (m *Manager) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	m.indexMu.Lock()
	e, ok := m.index[id]
	m.indexMu.Unlock()
	if ok {
		e.mu.Lock()
		a := e.alert.Clone()
		e.mu.Unlock()
		if a != nil {
			return a, nil
		}
	}

	a, err := m.alerts.Get(ctx, id)
	if err != nil {
		return nil, errs.Persistence("get alert", err)
	}
	if a == nil {
		return nil, errs.NotFound("get alert", "alert", id)
	}
	return a, nil
}

// SearchAlerts queries the alert store.
func (m *Manager) SearchAlerts(ctx context.Context, filter *storage.AlertFilter) ([]*models.Alert, int64, error) {
	if filter == nil {
		filter = &storage.AlertFilter{}
	}
	alerts, total, err := m.alerts.Search(ctx, filter)
	if err != nil {
		return nil, 0, errs.Persistence("search alerts", err)
	}
	return alerts, total, nil
}

// Unsuppress removes the suppression entry for a fingerprint.
func (m *Manager) Unsuppress(ctx context.Context, fingerprint string) error {
	if !m.suppressions.remove(fingerprint) {
		return errs.NotFound("unsuppress", "suppression", fingerprint)
	}
	if err := m.suppressRepo.Delete(ctx, fingerprint); err != nil {
		return errs.Persistence("unsuppress", err)
	}
	metrics.SuppressionsActive.Set(float64(m.suppressions.len()))
	return nil
}

// Suppressions returns the unexpired suppression entries.
func (m *Manager) Suppressions() map[string]time.Time {
	now := m.clock.Now()
	out := m.suppressions.snapshot()
	for fp, until := range out {
		if !until.After(now) {
			delete(out, fp)
		}
	}
	return out
}

// Stats returns manager counters.
func (m *Manager) Stats() Stats {
	m.rulesMu.RLock()
	rules := len(m.rules)
	m.rulesMu.RUnlock()
	m.indexMu.Lock()
	indexed := len(m.index)
	m.indexMu.Unlock()

	return Stats{
		Created:        m.created.Load(),
		Suppressed:     m.suppressed.Load(),
		RuleSuppressed: m.ruleSuppressed.Load(),
		Throttled:      m.throttled.Load(),
		ScriptFailures: m.scriptFailures.Load(),
		Rules:          rules,
		Indexed:        indexed,
		Suppressions:   m.suppressions.len(),
	}
}

// Close waits for running script actions.
func (m *Manager) Close() {
	m.bus.Unsubscribe(m.sub.Name())
	m.scripts.Wait()
}
