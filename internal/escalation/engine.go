// Package escalation walks alerts through the levels of an escalation rule
// on timers and stops the chain when the alert is acknowledged, resolved or
// suppressed.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
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

const (
	// DefaultDelay applies to levels that set no delay.
	DefaultDelay = 30 * time.Minute
	// DefaultMaxLevel is the global ceiling on escalation levels.
	DefaultMaxLevel = 5
)

// Options configures an Engine.
type Options struct {
	Instances storage.EscalationRepository
	// Alerts is used by Restore to recover alert details. Optional.
	Alerts storage.AlertRepository
	Bus    *eventbus.Bus
	Clock  clock.Clock
	Logger *slog.Logger

	// RulesFile is the YAML file read by ReloadRules. Optional.
	RulesFile    string
	DefaultDelay time.Duration
	MaxLevel     int
}

// Stats are escalation engine counters.
type Stats struct {
	Started   int64 `json:"started"`
	Triggered int64 `json:"triggered"`
	Completed int64 `json:"completed"`
	Stopped   int64 `json:"stopped"`
	Live      int   `json:"live"`
	Pending   int   `json:"pending_timers"`
	Rules     int   `json:"rules"`
}

// Engine is the escalation engine.
type Engine struct {
	instances storage.EscalationRepository
	alerts    storage.AlertRepository
	bus       *eventbus.Bus
	clock     clock.Clock
	logger    *slog.Logger
	opts      Options
	timers    *clock.Timers

	rulesMu  sync.RWMutex
	rules    []*models.EscalationRule
	fromFile map[string]bool

	mu      sync.Mutex
	entries map[string]*entry
	// byAlert maps an alert id to its active or paused instance.
	byAlert map[string]string

	started   atomic.Int64
	triggered atomic.Int64
	completed atomic.Int64
	stopped   atomic.Int64
}

// entry holds one instance together with the rule snapshot it runs on.
// inst is nil when the start failed.
type entry struct {
	mu    sync.Mutex
	inst  *models.EscalationInstance
	rule  *models.EscalationRule
	alert alertInfo
}

type alertInfo struct {
	title    string
	message  string
	severity models.Severity
}

func infoFrom(a *models.Alert) alertInfo {
	if a == nil {
		return alertInfo{}
	}
	return alertInfo{title: a.Title, message: a.Message, severity: a.Severity}
}

// New creates an engine and registers its bus handlers.
func New(opts Options) (*Engine, error) {
	if opts.Instances == nil {
		return nil, errs.Configuration("new escalation engine", "escalation repository is required")
	}
	if opts.Bus == nil {
		return nil, errs.Configuration("new escalation engine", "event bus is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultDelay <= 0 {
		opts.DefaultDelay = DefaultDelay
	}
	if opts.MaxLevel <= 0 {
		opts.MaxLevel = DefaultMaxLevel
	}

	e := &Engine{
		instances: opts.Instances,
		alerts:    opts.Alerts,
		bus:       opts.Bus,
		clock:     opts.Clock,
		logger:    opts.Logger.With("component", "escalation"),
		opts:      opts,
		timers:    clock.NewTimers(opts.Clock),
		fromFile:  make(map[string]bool),
		entries:   make(map[string]*entry),
		byAlert:   make(map[string]string),
	}
	e.subscribe()
	return e, nil
}

// StartEscalation starts an escalation for alert. With an empty ruleID the
// first enabled rule whose triggers match is used; if none matches no
// instance is created and the returned id is empty. An alert that already
// has a live instance gets that instance's id back.
func (e *Engine) StartEscalation(ctx context.Context, alert *models.Alert, ruleID string) (string, error) {
	if alert == nil || alert.ID == "" {
		return "", errs.Validation("start escalation", "alert is required")
	}
	rule, err := e.selectRule(alert, ruleID)
	if err != nil {
		return "", err
	}
	if rule == nil {
		e.logger.Debug("no escalation rule matches", "alert_id", alert.ID)
		return "", nil
	}

	now := e.clock.Now()
	delay := e.levelDelay(rule, 1)
	next := now.Add(delay)
	inst := &models.EscalationInstance{
		ID:               uuid.NewString(),
		AlertID:          alert.ID,
		RuleID:           rule.ID,
		MaxLevel:         e.maxLevel(rule, alert),
		Status:           models.EscalationActive,
		StartedAt:        now,
		NextEscalationAt: &next,
		History: []models.EscalationEvent{{
			Type:   models.EscalationEventStarted,
			Level:  0,
			At:     now,
			Detail: "rule " + rule.ID,
		}},
	}

	en := &entry{inst: inst, rule: rule, alert: infoFrom(alert)}
	e.mu.Lock()
	if id, ok := e.byAlert[alert.ID]; ok {
		e.mu.Unlock()
		return id, nil
	}
	en.mu.Lock()
	e.entries[inst.ID] = en
	e.byAlert[alert.ID] = inst.ID
	e.mu.Unlock()

	if err := e.instances.Upsert(ctx, inst); err != nil {
		en.inst = nil
		en.mu.Unlock()
		e.mu.Lock()
		delete(e.entries, inst.ID)
		delete(e.byAlert, alert.ID)
		e.mu.Unlock()
		return "", errs.Persistence("start escalation", err)
	}
	e.timers.Schedule(inst.ID, delay, e.fire(inst.ID))
	payload := e.payload(en, "started")
	en.mu.Unlock()

	e.started.Add(1)
	metrics.EscalationsStartedTotal.Inc()
	e.updateGauge()
	e.logger.Info("escalation started",
		"escalation_id", inst.ID,
		"alert_id", alert.ID,
		"rule", rule.ID,
		"max_level", inst.MaxLevel,
		"next_at", next)
	e.bus.Publish(eventbus.EscalationStarted, payload)
	return inst.ID, nil
}

func (e *Engine) selectRule(alert *models.Alert, ruleID string) (*models.EscalationRule, error) {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	if ruleID != "" {
		for _, r := range e.rules {
			if r.ID == ruleID {
				return r, nil
			}
		}
		return nil, errs.NotFound("start escalation", "escalation rule", ruleID)
	}
	for _, r := range e.rules {
		if r.IsEnabled() && r.Triggers.Matches(alert) {
			return r, nil
		}
	}
	return nil, nil
}

// maxLevel bounds the chain by the rule's levels, the alert's own max level
// and the global ceiling.
func (e *Engine) maxLevel(rule *models.EscalationRule, alert *models.Alert) int {
	level := len(rule.Levels)
	if alert.Escalation.MaxLevel > 0 && alert.Escalation.MaxLevel < level {
		level = alert.Escalation.MaxLevel
	}
	if e.opts.MaxLevel < level {
		level = e.opts.MaxLevel
	}
	return level
}

// levelDelay is the wait before reaching level (1-based).
func (e *Engine) levelDelay(rule *models.EscalationRule, level int) time.Duration {
	if level < 1 || level > len(rule.Levels) {
		return e.opts.DefaultDelay
	}
	if d := rule.Levels[level-1].Delay.Std(); d > 0 {
		return d
	}
	return e.opts.DefaultDelay
}

// timed reports whether the wait after reaching level runs on a timer.
// The first wait always does; later ones only for auto-escalating levels.
func timed(rule *models.EscalationRule, level int) bool {
	if level == 0 {
		return true
	}
	return rule != nil && level <= len(rule.Levels) && rule.Levels[level-1].AutoEscalate
}

func (e *Engine) fire(id string) func() {
	return func() {
		if err := e.ExecuteEscalation(context.Background(), id); err != nil {
			e.logger.Warn("scheduled escalation skipped", "escalation_id", id, "error", err)
		}
	}
}

// ExecuteEscalation moves an active instance to its next level and
// publishes escalation_triggered with that level's recipients. Reaching
// the max level completes the instance.
func (e *Engine) ExecuteEscalation(ctx context.Context, id string) error {
	en, err := e.lockedEntry(ctx, "execute escalation", id)
	if err != nil {
		return err
	}
	if en.inst.Status != models.EscalationActive {
		status := en.inst.Status
		en.mu.Unlock()
		return errs.Validation("execute escalation", "escalation %s is %s", id, status)
	}
	e.timers.Cancel(id)

	now := e.clock.Now()
	next := en.inst.Clone()
	level := next.CurrentLevel + 1
	cfg := en.rule.Levels[level-1]
	recipients := cfg.Recipients.Flatten()

	next.CurrentLevel = level
	next.LastEscalatedAt = &now
	next.NextEscalationAt = nil
	next.History = append(next.History, models.EscalationEvent{
		Type:       models.EscalationEventEscalated,
		Level:      level,
		At:         now,
		Recipients: recipients,
	})

	// Without auto-escalation no timer is armed; the next level falls due
	// at NextEscalationAt and Sweep or ScheduleEscalation advances it.
	done := level >= next.MaxLevel
	if done {
		next.Status = models.EscalationCompleted
	} else {
		delay := e.levelDelay(en.rule, level+1)
		at := now.Add(delay)
		next.NextEscalationAt = &at
		if cfg.AutoEscalate {
			e.timers.Schedule(id, delay, e.fire(id))
		}
	}

	e.persist(ctx, next)
	en.inst = next
	triggered := e.payload(en, "escalated")
	triggered.Recipients = recipients
	triggered.RequireAck = cfg.RequireAck
	var completed eventbus.EscalationPayload
	if done {
		completed = e.payload(en, "max level reached")
	}
	en.mu.Unlock()

	e.triggered.Add(1)
	metrics.EscalationsTriggeredTotal.WithLabelValues(fmt.Sprint(level)).Inc()
	if len(recipients) == 0 {
		e.logger.Warn("escalation level has no recipients", "escalation_id", id, "level", level)
	}
	e.logger.Info("escalation triggered",
		"escalation_id", id,
		"alert_id", next.AlertID,
		"level", level,
		"max_level", next.MaxLevel,
		"recipients", len(recipients))
	e.bus.Publish(eventbus.EscalationTriggered, triggered)

	if done {
		e.completed.Add(1)
		e.release(next)
		e.logger.Info("escalation completed", "escalation_id", id, "alert_id", next.AlertID)
		e.bus.Publish(eventbus.EscalationCompleted, completed)
	}
	return nil
}

// ScheduleEscalation arms the next level of an active instance after
// delay. A zero delay uses the next level's configured delay.
func (e *Engine) ScheduleEscalation(ctx context.Context, id string, delay time.Duration) error {
	if delay < 0 {
		return errs.Validation("schedule escalation", "delay must not be negative")
	}
	en, err := e.lockedEntry(ctx, "schedule escalation", id)
	if err != nil {
		return err
	}
	defer en.mu.Unlock()
	if en.inst.Status != models.EscalationActive {
		return errs.Validation("schedule escalation", "escalation %s is %s", id, en.inst.Status)
	}
	if delay == 0 {
		delay = e.levelDelay(en.rule, en.inst.CurrentLevel+1)
	}

	at := e.clock.Now().Add(delay)
	next := en.inst.Clone()
	next.NextEscalationAt = &at
	e.persist(ctx, next)
	en.inst = next
	e.timers.Schedule(id, delay, e.fire(id))
	e.logger.Debug("escalation scheduled", "escalation_id", id, "at", at)
	return nil
}

// StopEscalation stops a live instance and cancels its pending level.
func (e *Engine) StopEscalation(ctx context.Context, id, reason string) error {
	en, err := e.lockedEntry(ctx, "stop escalation", id)
	if err != nil {
		return err
	}
	if en.inst.Status.IsTerminal() {
		status := en.inst.Status
		en.mu.Unlock()
		return errs.Validation("stop escalation", "escalation %s is already %s", id, status)
	}
	if reason == "" {
		reason = "stopped manually"
	}
	payload := e.stopLocked(ctx, en, models.EscalationEventStopped, reason)
	en.mu.Unlock()
	e.stoppedPublish(payload)
	return nil
}

// StopForAlert stops the live instance of an alert.
func (e *Engine) StopForAlert(ctx context.Context, alertID, reason string) error {
	id := e.liveInstance(alertID)
	if id == "" {
		return errs.NotFound("stop escalation", "escalation for alert", alertID)
	}
	return e.StopEscalation(ctx, id, reason)
}

// stopLocked moves the instance to stopped. The caller holds en.mu and
// publishes the returned payload after unlocking.
func (e *Engine) stopLocked(ctx context.Context, en *entry, evt models.EscalationEventType, reason string) eventbus.EscalationPayload {
	e.timers.Cancel(en.inst.ID)
	next := en.inst.Clone()
	next.Status = models.EscalationStopped
	next.NextEscalationAt = nil
	next.History = append(next.History, models.EscalationEvent{
		Type:   evt,
		Level:  next.CurrentLevel,
		At:     e.clock.Now(),
		Detail: reason,
	})
	e.persist(ctx, next)
	en.inst = next
	e.release(next)
	return e.payload(en, reason)
}

func (e *Engine) stoppedPublish(p eventbus.EscalationPayload) {
	e.stopped.Add(1)
	e.logger.Info("escalation stopped",
		"escalation_id", p.InstanceID,
		"alert_id", p.AlertID,
		"level", p.Level,
		"reason", p.Reason)
	e.bus.Publish(eventbus.EscalationStopped, p)
}

// PauseEscalation holds an active instance at its current level.
func (e *Engine) PauseEscalation(ctx context.Context, id string) error {
	en, err := e.lockedEntry(ctx, "pause escalation", id)
	if err != nil {
		return err
	}
	defer en.mu.Unlock()
	if en.inst.Status != models.EscalationActive {
		return errs.Validation("pause escalation", "escalation %s is %s, only active escalations can be paused", id, en.inst.Status)
	}
	e.timers.Cancel(id)
	next := en.inst.Clone()
	next.Status = models.EscalationPaused
	e.persist(ctx, next)
	en.inst = next
	e.logger.Info("escalation paused", "escalation_id", id, "level", next.CurrentLevel)
	return nil
}

// ResumeEscalation reactivates a paused instance. A pending level that
// fell due while paused fires immediately.
func (e *Engine) ResumeEscalation(ctx context.Context, id string) error {
	en, err := e.lockedEntry(ctx, "resume escalation", id)
	if err != nil {
		return err
	}
	defer en.mu.Unlock()
	if en.inst.Status != models.EscalationPaused {
		return errs.Validation("resume escalation", "escalation %s is %s, only paused escalations can be resumed", id, en.inst.Status)
	}
	next := en.inst.Clone()
	next.Status = models.EscalationActive
	e.persist(ctx, next)
	en.inst = next
	if next.NextEscalationAt != nil {
		e.timers.Schedule(id, next.NextEscalationAt.Sub(e.clock.Now()), e.fire(id))
	}
	e.logger.Info("escalation resumed", "escalation_id", id, "level", next.CurrentLevel)
	return nil
}

// Instance returns an instance by id.
func (e *Engine) Instance(ctx context.Context, id string) (*models.EscalationInstance, error) {
	e.mu.Lock()
	en, ok := e.entries[id]
	e.mu.Unlock()
	if ok {
		en.mu.Lock()
		inst := en.inst.Clone()
		en.mu.Unlock()
		if inst != nil {
			return inst, nil
		}
	}

	inst, err := e.instances.Get(ctx, id)
	if err != nil {
		return nil, errs.Persistence("get escalation", err)
	}
	if inst == nil {
		return nil, errs.NotFound("get escalation", "escalation", id)
	}
	return inst, nil
}

// ForAlert returns the live instance of an alert.
func (e *Engine) ForAlert(ctx context.Context, alertID string) (*models.EscalationInstance, error) {
	id := e.liveInstance(alertID)
	if id == "" {
		return nil, errs.NotFound("get escalation", "escalation for alert", alertID)
	}
	return e.Instance(ctx, id)
}

// Active returns the active and paused instances, oldest first.
func (e *Engine) Active() []*models.EscalationInstance {
	e.mu.Lock()
	entries := make([]*entry, 0, len(e.byAlert))
	for _, id := range e.byAlert {
		if en, ok := e.entries[id]; ok {
			entries = append(entries, en)
		}
	}
	e.mu.Unlock()

	out := make([]*models.EscalationInstance, 0, len(entries))
	for _, en := range entries {
		en.mu.Lock()
		if en.inst != nil && !en.inst.Status.IsTerminal() {
			out = append(out, en.inst.Clone())
		}
		en.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Stats returns engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	live := len(e.byAlert)
	e.mu.Unlock()
	e.rulesMu.RLock()
	rules := len(e.rules)
	e.rulesMu.RUnlock()
	return Stats{
		Started:   e.started.Load(),
		Triggered: e.triggered.Load(),
		Completed: e.completed.Load(),
		Stopped:   e.stopped.Load(),
		Live:      live,
		Pending:   e.timers.Len(),
		Rules:     rules,
	}
}

// Close cancels all pending levels. Instances stay persisted and are
// re-armed by Restore.
func (e *Engine) Close() {
	e.timers.CancelAll()
}

// lockedEntry returns the in-memory entry for id with its lock held.
// Instances only found in the store are finished and cannot change.
func (e *Engine) lockedEntry(ctx context.Context, op, id string) (*entry, error) {
	e.mu.Lock()
	en, ok := e.entries[id]
	e.mu.Unlock()
	if !ok {
		inst, err := e.instances.Get(ctx, id)
		if err != nil {
			return nil, errs.Persistence(op, err)
		}
		if inst == nil {
			return nil, errs.NotFound(op, "escalation", id)
		}
		return nil, errs.Validation(op, "escalation %s is %s", id, inst.Status)
	}
	en.mu.Lock()
	if en.inst == nil {
		en.mu.Unlock()
		return nil, errs.NotFound(op, "escalation", id)
	}
	return en, nil
}

func (e *Engine) liveInstance(alertID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.byAlert[alertID]
}

// release forgets the alert's live instance once it is finished.
func (e *Engine) release(inst *models.EscalationInstance) {
	e.mu.Lock()
	if e.byAlert[inst.AlertID] == inst.ID {
		delete(e.byAlert, inst.AlertID)
	}
	e.mu.Unlock()
	e.updateGauge()
}

func (e *Engine) updateGauge() {
	e.mu.Lock()
	n := len(e.byAlert)
	e.mu.Unlock()
	metrics.EscalationsActive.Set(float64(n))
}

func (e *Engine) persist(ctx context.Context, inst *models.EscalationInstance) {
	if err := e.instances.Upsert(ctx, inst); err != nil {
		e.logger.Error("persist escalation failed", "escalation_id", inst.ID, "error", err)
	}
}

// payload builds a signal payload from the entry. The caller holds en.mu.
func (e *Engine) payload(en *entry, reason string) eventbus.EscalationPayload {
	inst := en.inst
	p := eventbus.EscalationPayload{
		InstanceID: inst.ID,
		AlertID:    inst.AlertID,
		RuleID:     inst.RuleID,
		Level:      inst.CurrentLevel,
		MaxLevel:   inst.MaxLevel,
		Reason:     reason,
		Severity:   en.alert.severity,
		Subject:    e.subject(en),
		Message:    en.alert.message,
	}
	if p.Message == "" {
		p.Message = en.alert.title
	}
	if inst.LastEscalatedAt != nil {
		t := *inst.LastEscalatedAt
		p.LastEscalatedAt = &t
	}
	if inst.NextEscalationAt != nil {
		t := *inst.NextEscalationAt
		p.NextEscalationAt = &t
	}
	return p
}

func (e *Engine) subject(en *entry) string {
	title := en.alert.title
	if title == "" {
		title = "alert " + en.inst.AlertID
	}
	prefix := fmt.Sprintf("[ESCALATION L%d/%d]", en.inst.CurrentLevel, en.inst.MaxLevel)
	if en.alert.severity != "" {
		prefix += " [" + strings.ToUpper(string(en.alert.severity)) + "]"
	}
	return prefix + " " + title
}
