package alerting

import (
	"context"
	"errors"

	"github.com/good-yellow-bee/blazetrack/internal/errs"
	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
	"github.com/good-yellow-bee/blazetrack/internal/models"
)

func (m *Manager) subscribe() {
	m.sub = m.bus.Subscribe("alerting", m.opts.QueueSize, eventbus.ErrorAlert)
	for _, t := range []eventbus.Type{
		eventbus.EscalationStarted,
		eventbus.EscalationTriggered,
		eventbus.EscalationStopped,
		eventbus.EscalationCompleted,
	} {
		m.bus.On(t, m.onEscalation)
	}
	m.bus.On(eventbus.NotificationSent, m.onNotification)
	m.bus.On(eventbus.NotificationFailed, m.onNotification)
}

// Run turns tracker signals into alerts until ctx is done or the manager
// is closed. Signals are handled one at a time so deduplication sees them
// in publish order.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-m.sub.C():
			if !ok {
				return nil
			}
			m.onErrorAlert(ctx, sig)
		}
	}
}

// onErrorAlert creates an alert from a tracker check.
func (m *Manager) onErrorAlert(ctx context.Context, sig eventbus.Signal) {
	p, ok := sig.Payload.(eventbus.ErrorAlertPayload)
	if !ok {
		return
	}
	_, err := m.CreateAlert(ctx, AlertInput{
		Type:       p.Type,
		Severity:   p.Severity,
		Title:      p.Title,
		Message:    p.Message,
		Source:     p.Source,
		Metadata:   p.Metadata,
		Context:    map[string]any{"reason": p.Reason, "errorFingerprint": p.Fingerprint},
		Recipients: m.opts.DefaultRecipients,
	})
	if err != nil {
		m.logger.Error("create alert from error signal failed", "reason", p.Reason, "error", err)
	}
}

// onEscalation mirrors the escalation engine's progress into the alert.
func (m *Manager) onEscalation(sig eventbus.Signal) {
	p, ok := sig.Payload.(eventbus.EscalationPayload)
	if !ok || p.AlertID == "" {
		return
	}
	terminal := sig.Type == eventbus.EscalationStopped || sig.Type == eventbus.EscalationCompleted

	_, err := m.mutate(context.Background(), "update escalation", p.AlertID, func(a *models.Alert) error {
		es := &a.Escalation
		es.InstanceID = p.InstanceID
		if p.RuleID != "" {
			es.RuleID = p.RuleID
		}
		if p.MaxLevel > 0 {
			es.MaxLevel = p.MaxLevel
		}
		if p.Level > es.Level {
			es.Level = p.Level
		}
		if es.Level > es.MaxLevel {
			es.Level = es.MaxLevel
		}
		if p.LastEscalatedAt != nil {
			t := *p.LastEscalatedAt
			es.LastEscalatedAt = &t
		}
		es.NextEscalationAt = nil
		if p.NextEscalationAt != nil && !terminal {
			t := *p.NextEscalationAt
			es.NextEscalationAt = &t
		}
		return nil
	})
	if err != nil {
		m.logHandlerError("escalation update failed", p.AlertID, err)
	}
}

// onNotification appends a delivery attempt to the alert's log.
func (m *Manager) onNotification(sig eventbus.Signal) {
	p, ok := sig.Payload.(eventbus.NotificationPayload)
	if !ok || p.Result == nil || p.Result.Request.AlertID == "" {
		return
	}
	r := p.Result
	attempt := models.NotificationAttempt{
		NotificationID: r.ID,
		Channel:        r.Request.Channel,
		Recipient:      r.Request.Recipient,
		Status:         r.Status,
		Error:          r.LastError,
		At:             sig.Time,
	}
	_, err := m.mutate(context.Background(), "record notification", r.Request.AlertID, func(a *models.Alert) error {
		a.Notifications = append(a.Notifications, attempt)
		return nil
	})
	if err != nil {
		m.logHandlerError("notification log update failed", r.Request.AlertID, err)
	}
}

func (m *Manager) logHandlerError(msg, alertID string, err error) {
	if errors.Is(err, errs.ErrNotFound) {
		m.logger.Debug(msg, "alert_id", alertID, "error", err)
		return
	}
	m.logger.Error(msg, "alert_id", alertID, "error", err)
}
