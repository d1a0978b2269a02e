package escalation

import (
	"context"

	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
	"github.com/good-yellow-bee/blazetrack/internal/models"
)

func (e *Engine) subscribe() {
	e.bus.On(eventbus.AlertCreated, e.onAlertCreated)
	e.bus.On(eventbus.AlertAcknowledged, e.onAlertTransition)
	e.bus.On(eventbus.AlertResolved, e.onAlertTransition)
	e.bus.On(eventbus.AlertSuppressed, e.onAlertTransition)
}

// onAlertCreated starts an escalation for alerts that ask for one.
func (e *Engine) onAlertCreated(sig eventbus.Signal) {
	p, ok := sig.Payload.(eventbus.AlertPayload)
	if !ok || p.Alert == nil || p.Alert.Escalation.MaxLevel <= 0 {
		return
	}
	if _, err := e.StartEscalation(context.Background(), p.Alert, p.Alert.Escalation.RuleID); err != nil {
		e.logger.Error("start escalation failed", "alert_id", p.Alert.ID, "error", err)
	}
}

// onAlertTransition stops the alert's live instance when the current
// level's stop conditions say so. Suppression always stops it.
func (e *Engine) onAlertTransition(sig eventbus.Signal) {
	p, ok := sig.Payload.(eventbus.AlertPayload)
	if !ok || p.Alert == nil {
		return
	}
	id := e.liveInstance(p.Alert.ID)
	if id == "" {
		return
	}

	var (
		evt    models.EscalationEventType
		reason string
		stop   func(models.StopConditions) bool
	)
	switch sig.Type {
	case eventbus.AlertAcknowledged:
		evt, reason = models.EscalationEventAcknowledged, "alert acknowledged"
		stop = models.StopConditions.StopOnAcknowledge
	case eventbus.AlertResolved:
		evt, reason = models.EscalationEventResolved, "alert resolved"
		stop = models.StopConditions.StopOnResolve
	default:
		evt, reason = models.EscalationEventStopped, "alert suppressed"
		stop = func(models.StopConditions) bool { return true }
	}
	if p.By != "" {
		reason += " by " + p.By
	}

	ctx := context.Background()
	en, err := e.lockedEntry(ctx, "stop escalation", id)
	if err != nil {
		e.logger.Debug("alert transition ignored", "escalation_id", id, "error", err)
		return
	}
	if en.inst.Status.IsTerminal() {
		en.mu.Unlock()
		return
	}

	if !stop(e.currentLevel(en).Stop) {
		next := en.inst.Clone()
		next.History = append(next.History, models.EscalationEvent{
			Type:   evt,
			Level:  next.CurrentLevel,
			At:     e.clock.Now(),
			Detail: reason + ", escalation continues",
		})
		e.persist(ctx, next)
		en.inst = next
		en.mu.Unlock()
		e.logger.Info("escalation continues after alert transition", "escalation_id", id, "reason", reason)
		return
	}

	payload := e.stopLocked(ctx, en, evt, reason)
	en.mu.Unlock()
	e.stoppedPublish(payload)
}

// currentLevel is the configuration of the level the instance has reached,
// or the first level before any escalation. The caller holds en.mu.
func (e *Engine) currentLevel(en *entry) models.EscalationLevel {
	i := en.inst.CurrentLevel - 1
	if i < 0 {
		i = 0
	}
	if i >= len(en.rule.Levels) {
		return models.EscalationLevel{}
	}
	return en.rule.Levels[i]
}
