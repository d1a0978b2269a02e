package escalation

import (
	"context"

	"github.com/good-yellow-bee/blazetrack/internal/errs"
	"github.com/good-yellow-bee/blazetrack/internal/metrics"
	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// Sweep re-triggers active instances whose next level is overdue and
// drops finished instances from memory. It returns the number re-triggered.
func (e *Engine) Sweep(ctx context.Context) int {
	now := e.clock.Now()

	e.mu.Lock()
	entries := make(map[string]*entry, len(e.entries))
	for id, en := range e.entries {
		entries[id] = en
	}
	e.mu.Unlock()

	var due []string
	var evicted int
	for id, en := range entries {
		en.mu.Lock()
		inst := en.inst
		switch {
		case inst == nil || inst.Status.IsTerminal():
			e.mu.Lock()
			if e.entries[id] == en {
				delete(e.entries, id)
				evicted++
			}
			e.mu.Unlock()
		case inst.Status == models.EscalationActive && inst.NextEscalationAt != nil && !inst.NextEscalationAt.After(now):
			due = append(due, id)
		}
		en.mu.Unlock()
	}

	var recovered int
	for _, id := range due {
		if err := e.ExecuteEscalation(ctx, id); err != nil {
			// A timer may have fired between the scan and now.
			e.logger.Debug("sweep skipped escalation", "escalation_id", id, "error", err)
			continue
		}
		recovered++
		metrics.EscalationSweepRecoveredTotal.Inc()
	}

	if recovered+evicted > 0 {
		e.logger.Info("escalation sweep", "recovered", recovered, "evicted", evicted)
	}
	return recovered
}

// Restore reloads the rules file and rebuilds active and paused instances
// from the store, re-arming timed levels from NextEscalationAt. Manual
// levels stay with Sweep. Instances
// whose rule is gone or whose alert is already closed are stopped.
func (e *Engine) Restore(ctx context.Context) error {
	if err := e.ReloadRules(ctx); err != nil {
		return err
	}
	list, err := e.instances.ListByStatus(ctx, models.EscalationActive, models.EscalationPaused)
	if err != nil {
		return errs.Persistence("restore escalations", err)
	}

	now := e.clock.Now()
	var restored, stopped int
	for _, inst := range list {
		e.mu.Lock()
		_, known := e.entries[inst.ID]
		e.mu.Unlock()
		if known {
			continue
		}

		en := &entry{inst: inst}
		if rule := e.ruleSnapshot(inst.RuleID); rule != nil {
			en.rule = rule
		}
		var alert *models.Alert
		if e.alerts != nil {
			alert, err = e.alerts.Get(ctx, inst.AlertID)
			if err != nil {
				return errs.Persistence("restore escalations", err)
			}
			en.alert = infoFrom(alert)
		}

		reason := ""
		switch {
		case en.rule == nil:
			reason = "escalation rule " + inst.RuleID + " no longer exists"
		case inst.CurrentLevel >= len(en.rule.Levels):
			reason = "escalation rule " + inst.RuleID + " has fewer levels"
		case e.alerts != nil && alert == nil:
			reason = "alert no longer exists"
		case alert != nil && (alert.Status == models.AlertResolved || alert.Status == models.AlertSuppressed):
			reason = "alert " + string(alert.Status) + " while offline"
		}
		if reason != "" {
			next := inst.Clone()
			next.Status = models.EscalationStopped
			next.NextEscalationAt = nil
			next.History = append(next.History, models.EscalationEvent{
				Type: models.EscalationEventStopped, Level: next.CurrentLevel, At: now, Detail: reason,
			})
			e.persist(ctx, next)
			e.logger.Warn("escalation stopped on restore", "escalation_id", inst.ID, "reason", reason)
			stopped++
			continue
		}
		if inst.MaxLevel > len(en.rule.Levels) {
			inst.MaxLevel = len(en.rule.Levels)
		}

		e.mu.Lock()
		e.entries[inst.ID] = en
		e.byAlert[inst.AlertID] = inst.ID
		e.mu.Unlock()

		if inst.Status == models.EscalationActive && inst.NextEscalationAt != nil && timed(en.rule, inst.CurrentLevel) {
			e.timers.Schedule(inst.ID, inst.NextEscalationAt.Sub(now), e.fire(inst.ID))
		}
		restored++
	}

	e.updateGauge()
	e.logger.Info("escalation engine restored",
		"rules", len(e.Rules()),
		"instances", restored,
		"stopped", stopped)
	return nil
}

func (e *Engine) ruleSnapshot(id string) *models.EscalationRule {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	for _, r := range e.rules {
		if r.ID == id {
			return r
		}
	}
	return nil
}
