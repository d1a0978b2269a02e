package escalation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/alerting"
	"github.com/good-yellow-bee/blazetrack/internal/clock"
	"github.com/good-yellow-bee/blazetrack/internal/errs"
	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
	"github.com/good-yellow-bee/blazetrack/internal/logging"
	"github.com/good-yellow-bee/blazetrack/internal/models"
	"github.com/good-yellow-bee/blazetrack/internal/storage"
)

var start = time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC)

type fixture struct {
	e     *Engine
	store *storage.MemoryStorage
	bus   *eventbus.Bus
	clock *clock.Fake
	rec   *eventbus.Recorder
}

func newFixture(t *testing.T, rules ...*models.EscalationRule) *fixture {
	t.Helper()
	store := storage.NewMemoryStorage()
	fc := clock.NewFake(start)
	bus := eventbus.New(eventbus.Options{Logger: logging.Discard(), Clock: fc})
	rec := eventbus.Record(bus, eventbus.AllTypes...)

	e, err := New(Options{
		Instances: store.Escalations(),
		Alerts:    store.Alerts(),
		Bus:       bus,
		Clock:     fc,
		Logger:    logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(e.Close)
	for _, r := range rules {
		if _, err := e.AddRule(r); err != nil {
			t.Fatalf("AddRule(%s) error = %v", r.ID, err)
		}
	}
	return &fixture{e: e, store: store, bus: bus, clock: fc, rec: rec}
}

// chain builds a rule with n levels five minutes apart.
func chain(id string, n int, auto bool) *models.EscalationRule {
	r := &models.EscalationRule{ID: id}
	for i := 0; i < n; i++ {
		r.Levels = append(r.Levels, models.EscalationLevel{
			Delay:        models.Duration(5 * time.Minute),
			Recipients:   models.LevelRecipients{Users: []string{"email:l" + string(rune('1'+i)) + "@example.com"}},
			AutoEscalate: auto,
		})
	}
	return r
}

func testAlert(id string, maxLevel int) *models.Alert {
	return &models.Alert{
		ID:         id,
		Type:       "error.new_group",
		Severity:   models.SeverityHigh,
		Status:     models.AlertOpen,
		Title:      "Database connection refused",
		Source:     "error-tracker",
		Escalation: models.EscalationState{MaxLevel: maxLevel},
	}
}

func (f *fixture) start(t *testing.T, a *models.Alert, ruleID string) string {
	t.Helper()
	id, err := f.e.StartEscalation(context.Background(), a, ruleID)
	if err != nil {
		t.Fatalf("StartEscalation() error = %v", err)
	}
	if id == "" {
		t.Fatal("StartEscalation() returned no instance")
	}
	return id
}

func (f *fixture) instance(t *testing.T, id string) *models.EscalationInstance {
	t.Helper()
	inst, err := f.e.Instance(context.Background(), id)
	if err != nil {
		t.Fatalf("Instance() error = %v", err)
	}
	return inst
}

func TestEscalationTerminatesAtMaxLevel(t *testing.T) {
	f := newFixture(t, chain("sre", 4, true))
	id := f.start(t, testAlert("a-1", 3), "")

	started := f.rec.Signals(eventbus.EscalationStarted)
	if len(started) != 1 {
		t.Fatalf("escalation_started = %d", len(started))
	}
	p := started[0].Payload.(eventbus.EscalationPayload)
	if p.Level != 0 || p.MaxLevel != 3 || p.NextEscalationAt == nil || !p.NextEscalationAt.Equal(start.Add(5*time.Minute)) {
		t.Errorf("started payload = %+v", p)
	}

	f.clock.Advance(2 * time.Hour)

	triggered := f.rec.Signals(eventbus.EscalationTriggered)
	if len(triggered) != 3 {
		t.Fatalf("escalation_triggered = %d, want 3", len(triggered))
	}
	for i, sig := range triggered {
		p := sig.Payload.(eventbus.EscalationPayload)
		if p.Level != i+1 || len(p.Recipients) != 1 {
			t.Errorf("trigger %d payload = %+v", i, p)
		}
		if !sig.Time.Equal(start.Add(time.Duration(i+1) * 5 * time.Minute)) {
			t.Errorf("trigger %d at %v", i, sig.Time)
		}
	}
	if n := f.rec.Count(eventbus.EscalationCompleted); n != 1 {
		t.Errorf("escalation_completed = %d", n)
	}

	inst := f.instance(t, id)
	if inst.Status != models.EscalationCompleted || inst.CurrentLevel != 3 || inst.NextEscalationAt != nil {
		t.Errorf("instance = %+v", inst)
	}
	if len(inst.History) != 4 {
		t.Errorf("history = %+v", inst.History)
	}
	if f.e.Stats().Pending != 0 || f.e.Stats().Live != 0 {
		t.Errorf("stats = %+v", f.e.Stats())
	}

	f.clock.Advance(24 * time.Hour)
	if n := f.rec.Count(eventbus.EscalationTriggered); n != 3 {
		t.Errorf("escalation_triggered after completion = %d", n)
	}
}

func TestMaxLevelBounds(t *testing.T) {
	f := newFixture(t, chain("long", 7, true))
	tests := []struct {
		alertMax int
		want     int
	}{
		{alertMax: 0, want: 5},
		{alertMax: 2, want: 2},
		{alertMax: 9, want: 5},
	}
	for i, tt := range tests {
		id := f.start(t, testAlert("a-"+string(rune('a'+i)), tt.alertMax), "long")
		if got := f.instance(t, id).MaxLevel; got != tt.want {
			t.Errorf("alert max %d: MaxLevel = %d, want %d", tt.alertMax, got, tt.want)
		}
	}

	short := newFixture(t, chain("two", 2, true))
	id := short.start(t, testAlert("a-1", 4), "")
	if got := short.instance(t, id).MaxLevel; got != 2 {
		t.Errorf("MaxLevel = %d, want 2", got)
	}
}

func TestStartSelectsFirstMatchingRule(t *testing.T) {
	critical := chain("critical-only", 1, false)
	critical.Triggers.Severities = []models.Severity{models.SeverityCritical}
	disabled := chain("disabled", 1, false)
	off := false
	disabled.Enabled = &off
	queue := chain("queue", 1, false)
	queue.Triggers.Sources = []string{"queue"}
	fallback := chain("fallback", 1, false)

	f := newFixture(t, critical, disabled, queue, fallback)
	ctx := context.Background()

	id := f.start(t, testAlert("a-1", 1), "")
	if inst := f.instance(t, id); inst.RuleID != "fallback" {
		t.Errorf("rule = %s, want fallback", inst.RuleID)
	}

	a := testAlert("a-2", 1)
	a.Source = "queue"
	id = f.start(t, a, "")
	if inst := f.instance(t, id); inst.RuleID != "queue" {
		t.Errorf("rule = %s, want queue", inst.RuleID)
	}

	// An explicit rule id bypasses triggers and the enabled flag.
	id = f.start(t, testAlert("a-3", 1), "disabled")
	if inst := f.instance(t, id); inst.RuleID != "disabled" {
		t.Errorf("rule = %s, want disabled", inst.RuleID)
	}

	if _, err := f.e.StartEscalation(ctx, testAlert("a-4", 1), "missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("unknown rule error = %v", err)
	}

	none := newFixture(t, critical)
	id, err := none.e.StartEscalation(ctx, testAlert("a-5", 1), "")
	if err != nil || id != "" {
		t.Errorf("no match = %q, %v", id, err)
	}
	if none.rec.Count(eventbus.EscalationStarted) != 0 {
		t.Error("escalation_started published without a matching rule")
	}
}

func TestStartIsIdempotentPerAlert(t *testing.T) {
	f := newFixture(t, chain("sre", 2, true))
	first := f.start(t, testAlert("a-1", 2), "")
	second := f.start(t, testAlert("a-1", 2), "")
	if first != second {
		t.Errorf("second start created %s, want %s", second, first)
	}
	if n := f.rec.Count(eventbus.EscalationStarted); n != 1 {
		t.Errorf("escalation_started = %d", n)
	}
}

func TestManualLevelsWaitForSweepOrSchedule(t *testing.T) {
	rule := chain("manual", 4, false)
	rule.Levels[0].Delay = 0
	f := newFixture(t, rule)
	ctx := context.Background()
	id := f.start(t, testAlert("a-1", 4), "")

	// The first level always runs on a timer.
	f.clock.Advance(DefaultDelay)
	if n := f.rec.Count(eventbus.EscalationTriggered); n != 1 {
		t.Fatalf("escalation_triggered = %d, want 1", n)
	}
	due := start.Add(DefaultDelay + 5*time.Minute)
	inst := f.instance(t, id)
	if inst.NextEscalationAt == nil || !inst.NextEscalationAt.Equal(due) || inst.Status != models.EscalationActive {
		t.Fatalf("waiting instance = %+v, want next escalation at %v", inst, due)
	}
	if f.e.Stats().Pending != 0 {
		t.Error("manual level armed a timer")
	}
	if n := f.e.Sweep(ctx); n != 0 {
		t.Errorf("Sweep() before due = %d", n)
	}

	f.clock.Advance(2 * time.Hour)
	if n := f.rec.Count(eventbus.EscalationTriggered); n != 1 {
		t.Fatalf("manual level escalated on its own: %d", n)
	}

	// Once due, the sweep advances a manual level.
	if n := f.e.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if inst := f.instance(t, id); inst.CurrentLevel != 2 || inst.NextEscalationAt == nil {
		t.Fatalf("instance after sweep = %+v", inst)
	}

	if err := f.e.ScheduleEscalation(ctx, id, 10*time.Minute); err != nil {
		t.Fatalf("ScheduleEscalation() error = %v", err)
	}
	f.clock.Advance(10 * time.Minute)
	if n := f.rec.Count(eventbus.EscalationTriggered); n != 3 {
		t.Errorf("escalation_triggered = %d, want 3", n)
	}

	// Zero delay uses the next level's configured delay.
	if err := f.e.ScheduleEscalation(ctx, id, 0); err != nil {
		t.Fatalf("ScheduleEscalation() error = %v", err)
	}
	f.clock.Advance(4 * time.Minute)
	if n := f.rec.Count(eventbus.EscalationTriggered); n != 3 {
		t.Errorf("fired before the level delay: %d", n)
	}
	f.clock.Advance(time.Minute)
	if inst := f.instance(t, id); inst.Status != models.EscalationCompleted {
		t.Errorf("status = %s, want completed", inst.Status)
	}

	if err := f.e.ScheduleEscalation(ctx, id, time.Minute); !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("schedule completed error = %v", err)
	}
	if err := f.e.ScheduleEscalation(ctx, id, -time.Minute); !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("negative delay error = %v", err)
	}
}

func TestTriggeredPayloadCarriesLevelDetails(t *testing.T) {
	rule := chain("sre", 2, true)
	rule.Levels[0].RequireAck = true
	rule.Levels[0].Recipients = models.LevelRecipients{
		Users:        []string{"alice"},
		Groups:       []string{"sre"},
		Channels:     []string{"chat:#ops"},
		Integrations: []string{"webhook:https://hooks.example.com"},
	}
	f := newFixture(t, rule)
	f.start(t, testAlert("a-1", 2), "")
	f.clock.Advance(5 * time.Minute)

	p := f.rec.Signals(eventbus.EscalationTriggered)[0].Payload.(eventbus.EscalationPayload)
	if len(p.Recipients) != 4 || p.Recipients[1] != "sre" || !p.RequireAck {
		t.Errorf("payload = %+v", p)
	}
	if p.Subject != "[ESCALATION L1/2] [HIGH] Database connection refused" || p.Severity != models.SeverityHigh {
		t.Errorf("subject = %q severity = %s", p.Subject, p.Severity)
	}
	if p.Message != "Database connection refused" {
		t.Errorf("message = %q", p.Message)
	}
}

func newAlertManager(t *testing.T, f *fixture) *alerting.Manager {
	t.Helper()
	m, err := alerting.New(alerting.Options{
		Alerts:       f.store.Alerts(),
		Rules:        f.store.Rules(),
		Suppressions: f.store.Suppressions(),
		Bus:          f.bus,
		Clock:        f.clock,
		Logger:       logging.Discard(),
	})
	if err != nil {
		t.Fatalf("alerting.New() error = %v", err)
	}
	return m
}

func TestAcknowledgeStopsEscalation(t *testing.T) {
	rule := chain("sre", 4, true)
	rule.Triggers.Severities = []models.Severity{models.SeverityHigh, models.SeverityCritical}
	f := newFixture(t, rule)
	m := newAlertManager(t, f)
	ctx := context.Background()

	alertID, err := m.CreateAlert(ctx, alerting.AlertInput{
		Title:              "Database connection refused",
		Severity:           models.SeverityHigh,
		MaxEscalationLevel: 3,
	})
	if err != nil {
		t.Fatalf("CreateAlert() error = %v", err)
	}
	inst, err := f.e.ForAlert(ctx, alertID)
	if err != nil {
		t.Fatalf("ForAlert() error = %v", err)
	}

	f.clock.Advance(5 * time.Minute)
	a, _ := m.GetAlert(ctx, alertID)
	if a.Escalation.Level != 1 || a.Escalation.InstanceID != inst.ID {
		t.Errorf("alert escalation = %+v", a.Escalation)
	}

	a, err = m.AcknowledgeAlert(ctx, alertID, "alice", "")
	if err != nil {
		t.Fatalf("AcknowledgeAlert() error = %v", err)
	}
	if a.Status != models.AlertAcknowledged {
		t.Errorf("alert status = %s", a.Status)
	}

	got := f.instance(t, inst.ID)
	if got.Status != models.EscalationStopped {
		t.Errorf("escalation status = %s, want stopped", got.Status)
	}
	last := got.History[len(got.History)-1]
	if last.Type != models.EscalationEventAcknowledged || last.Detail != "alert acknowledged by alice" {
		t.Errorf("last history entry = %+v", last)
	}

	f.clock.Advance(2 * time.Hour)
	if n := f.rec.Count(eventbus.EscalationTriggered); n != 1 {
		t.Errorf("escalation_triggered = %d, want 1", n)
	}
	if n := f.rec.Count(eventbus.EscalationStopped); n != 1 {
		t.Errorf("escalation_stopped = %d", n)
	}
	a, _ = m.GetAlert(ctx, alertID)
	if a.Escalation.NextEscalationAt != nil || a.Escalation.Level != 1 {
		t.Errorf("alert escalation after stop = %+v", a.Escalation)
	}
}

func TestStopConditionsPerLevel(t *testing.T) {
	rule := chain("sticky", 3, true)
	no := false
	for i := range rule.Levels {
		rule.Levels[i].Stop.OnAcknowledge = &no
	}
	f := newFixture(t, rule)
	m := newAlertManager(t, f)
	ctx := context.Background()

	alertID, err := m.CreateAlert(ctx, alerting.AlertInput{Title: "sticky", MaxEscalationLevel: 3})
	if err != nil {
		t.Fatal(err)
	}
	inst, _ := f.e.ForAlert(ctx, alertID)

	if _, err := m.AcknowledgeAlert(ctx, alertID, "bob", ""); err != nil {
		t.Fatal(err)
	}
	got := f.instance(t, inst.ID)
	if got.Status != models.EscalationActive {
		t.Fatalf("status after ack = %s, want active", got.Status)
	}
	if last := got.History[len(got.History)-1]; last.Type != models.EscalationEventAcknowledged {
		t.Errorf("last history entry = %+v", last)
	}

	f.clock.Advance(5 * time.Minute)
	if n := f.rec.Count(eventbus.EscalationTriggered); n != 1 {
		t.Errorf("escalation_triggered = %d, want 1", n)
	}

	if _, err := m.ResolveAlert(ctx, alertID, "bob", "fixed", ""); err != nil {
		t.Fatal(err)
	}
	got = f.instance(t, inst.ID)
	if got.Status != models.EscalationStopped || got.History[len(got.History)-1].Type != models.EscalationEventResolved {
		t.Errorf("instance after resolve = %+v", got)
	}
}

func TestSuppressStopsEscalation(t *testing.T) {
	rule := chain("sre", 2, true)
	keep := false
	rule.Levels[0].Stop.OnResolve = &keep
	f := newFixture(t, rule)
	m := newAlertManager(t, f)
	ctx := context.Background()

	alertID, _ := m.CreateAlert(ctx, alerting.AlertInput{Title: "noisy", MaxEscalationLevel: 2})
	inst, _ := f.e.ForAlert(ctx, alertID)
	if _, err := m.SuppressAlert(ctx, alertID, "ops", time.Hour, "flapping"); err != nil {
		t.Fatal(err)
	}
	if got := f.instance(t, inst.ID); got.Status != models.EscalationStopped {
		t.Errorf("status = %s, want stopped", got.Status)
	}
	if _, err := f.e.ForAlert(ctx, alertID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("ForAlert() after stop error = %v", err)
	}
}

func TestStopEscalation(t *testing.T) {
	f := newFixture(t, chain("sre", 2, true))
	ctx := context.Background()
	id := f.start(t, testAlert("a-1", 2), "")

	if err := f.e.StopForAlert(ctx, "a-1", ""); err != nil {
		t.Fatalf("StopForAlert() error = %v", err)
	}
	p := f.rec.Signals(eventbus.EscalationStopped)[0].Payload.(eventbus.EscalationPayload)
	if p.InstanceID != id || p.Reason != "stopped manually" {
		t.Errorf("stopped payload = %+v", p)
	}
	if err := f.e.StopEscalation(ctx, id, "again"); !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("second stop error = %v", err)
	}
	if err := f.e.StopEscalation(ctx, "missing", ""); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("unknown stop error = %v", err)
	}
	if err := f.e.StopForAlert(ctx, "a-1", ""); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("stop for alert without escalation error = %v", err)
	}
	if f.e.Stats().Pending != 0 {
		t.Error("stopped escalation left a timer armed")
	}

	// A stopped alert can be escalated again.
	if again := f.start(t, testAlert("a-1", 2), ""); again == id {
		t.Error("restart reused the stopped instance")
	}
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t, chain("sre", 3, true))
	ctx := context.Background()
	id := f.start(t, testAlert("a-1", 3), "")

	f.clock.Advance(5 * time.Minute)
	if err := f.e.PauseEscalation(ctx, id); err != nil {
		t.Fatalf("PauseEscalation() error = %v", err)
	}
	if err := f.e.PauseEscalation(ctx, id); !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("second pause error = %v", err)
	}
	if err := f.e.ExecuteEscalation(ctx, id); !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("execute paused error = %v", err)
	}

	f.clock.Advance(time.Hour)
	if n := f.rec.Count(eventbus.EscalationTriggered); n != 1 {
		t.Fatalf("paused escalation triggered: %d", n)
	}
	inst := f.instance(t, id)
	if inst.Status != models.EscalationPaused || inst.CurrentLevel != 1 {
		t.Errorf("paused instance = %+v", inst)
	}
	if len(f.e.Active()) != 1 {
		t.Errorf("Active() = %d, want 1", len(f.e.Active()))
	}

	if err := f.e.ResumeEscalation(ctx, id); err != nil {
		t.Fatalf("ResumeEscalation() error = %v", err)
	}
	// The overdue level fires right away.
	f.clock.Advance(0)
	if n := f.rec.Count(eventbus.EscalationTriggered); n != 2 {
		t.Errorf("escalation_triggered after resume = %d, want 2", n)
	}
	if err := f.e.ResumeEscalation(ctx, id); !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("resume active error = %v", err)
	}
}

func TestSweepRecoversMissedLevels(t *testing.T) {
	f := newFixture(t, chain("sre", 2, false))
	ctx := context.Background()
	id := f.start(t, testAlert("a-1", 2), "")

	// Move past the due time without firing the timer.
	f.clock.Set(start.Add(time.Hour))
	if n := f.e.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if inst := f.instance(t, id); inst.CurrentLevel != 1 {
		t.Errorf("level = %d, want 1", inst.CurrentLevel)
	}
	// The stale timer was cancelled with the recovery.
	f.clock.Advance(time.Hour)
	if n := f.rec.Count(eventbus.EscalationTriggered); n != 1 {
		t.Errorf("escalation_triggered = %d, want 1", n)
	}
	// Level 1 is manual, so its successor waits for the sweep.
	if n := f.e.Sweep(ctx); n != 1 {
		t.Errorf("second Sweep() = %d, want 1", n)
	}
	if n := f.e.Sweep(ctx); n != 0 {
		t.Errorf("third Sweep() = %d", n)
	}

	f.e.mu.Lock()
	cached := len(f.e.entries)
	f.e.mu.Unlock()
	if cached != 0 {
		t.Errorf("completed instance still cached")
	}
	if inst := f.instance(t, id); inst.Status != models.EscalationCompleted {
		t.Errorf("status from store = %s", inst.Status)
	}
}

func TestRestoreRearmsTimers(t *testing.T) {
	f := newFixture(t, chain("sre", 3, true), chain("gone", 2, true))
	ctx := context.Background()

	running := f.start(t, testAlert("a-1", 3), "sre")
	orphan := f.start(t, testAlert("a-2", 2), "gone")
	closed := f.start(t, testAlert("a-3", 2), "sre")
	resolved := testAlert("a-3", 2)
	resolved.Status = models.AlertResolved
	for _, a := range []*models.Alert{testAlert("a-1", 3), testAlert("a-2", 2), resolved} {
		if err := f.store.Alerts().Create(ctx, a); err != nil {
			t.Fatal(err)
		}
	}
	f.e.Close()

	// A second engine over the same store simulates a restart.
	bus := eventbus.New(eventbus.Options{Logger: logging.Discard(), Clock: f.clock})
	rec := eventbus.Record(bus, eventbus.EscalationTriggered)
	e2, err := New(Options{
		Instances: f.store.Escalations(),
		Alerts:    f.store.Alerts(),
		Bus:       bus,
		Clock:     f.clock,
		Logger:    logging.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer e2.Close()
	if _, err := e2.AddRule(chain("sre", 3, true)); err != nil {
		t.Fatal(err)
	}
	if err := e2.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if got := e2.Stats().Live; got != 1 {
		t.Errorf("live instances = %d, want 1", got)
	}
	for _, id := range []string{orphan, closed} {
		inst, err := e2.Instance(ctx, id)
		if err != nil || inst.Status != models.EscalationStopped {
			t.Errorf("instance %s = %+v, %v", id, inst, err)
		}
	}

	f.clock.Advance(5 * time.Minute)
	if n := rec.Count(eventbus.EscalationTriggered); n != 1 {
		t.Errorf("escalation_triggered after restore = %d, want 1", n)
	}
	p := rec.Signals(eventbus.EscalationTriggered)[0].Payload.(eventbus.EscalationPayload)
	if p.InstanceID != running || p.Subject == "" || p.Severity != models.SeverityHigh {
		t.Errorf("restored payload = %+v", p)
	}
}

func TestRuleManagement(t *testing.T) {
	f := newFixture(t)

	if _, err := f.e.AddRule(&models.EscalationRule{ID: "empty"}); !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("rule without levels error = %v", err)
	}
	r, err := f.e.AddRule(chain("sre", 2, true))
	if err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}
	if r.Name != "sre" {
		t.Errorf("name = %q, want id", r.Name)
	}
	if _, err := f.e.AddRule(chain("sre", 1, true)); !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("duplicate error = %v", err)
	}

	r.Levels[0].Delay = models.Duration(time.Hour)
	if got := f.e.Rule("sre"); got.Levels[0].Delay.Std() != 5*time.Minute {
		t.Error("returned rule shares levels with the engine")
	}

	if err := f.e.RemoveRule("sre"); err != nil {
		t.Fatalf("RemoveRule() error = %v", err)
	}
	if err := f.e.RemoveRule("sre"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("second remove error = %v", err)
	}
	if len(f.e.Rules()) != 0 {
		t.Errorf("rules = %d", len(f.e.Rules()))
	}
}
