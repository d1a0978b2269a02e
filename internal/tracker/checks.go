package tracker

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
	"github.com/good-yellow-bee/blazetrack/internal/metrics"
	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// Reasons carried by ErrorAlert signals.
const (
	ReasonSeverity = "severity"
	ReasonNewGroup = "new_group"
	ReasonSpike    = "spike"
)

// alertSource is the Source of alerts raised by the built-in checks.
const alertSource = "error-tracker"

type check func(event *models.ErrorEvent, group *models.ErrorGroup, created bool, now time.Time) *eventbus.ErrorAlertPayload

// runChecks evaluates the built-in alert checks. A failing check is logged
// and does not affect the others or the capture.
func (t *Tracker) runChecks(event *models.ErrorEvent, group *models.ErrorGroup, created bool, now time.Time) {
	checks := []struct {
		name string
		fn   check
	}{
		{ReasonSeverity, severityCheck},
		{ReasonNewGroup, newGroupCheck},
		{ReasonSpike, t.spikeCheck},
	}
	for _, c := range checks {
		if p := t.safeCheck(c.name, c.fn, event, group, created, now); p != nil {
			t.alertSignals.Add(1)
			metrics.ErrorAlertSignalsTotal.WithLabelValues(p.Reason).Inc()
			t.bus.Publish(eventbus.ErrorAlert, *p)
		}
	}
}

func (t *Tracker) safeCheck(name string, fn check, event *models.ErrorEvent, group *models.ErrorGroup, created bool, now time.Time) (p *eventbus.ErrorAlertPayload) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("alert check panicked", "check", name, "panic", r, "stack", string(debug.Stack()))
			p = nil
		}
	}()
	return fn(event, group, created, now)
}

func severityCheck(event *models.ErrorEvent, group *models.ErrorGroup, _ bool, _ time.Time) *eventbus.ErrorAlertPayload {
	if event.Level != models.LevelCritical && event.Level != models.LevelFatal {
		return nil
	}
	return alertPayload(ReasonSeverity, event, group,
		fmt.Sprintf("%s error: %s", event.Level, group.Title),
		models.SeverityForLevel(event.Level))
}

func newGroupCheck(event *models.ErrorEvent, group *models.ErrorGroup, created bool, _ time.Time) *eventbus.ErrorAlertPayload {
	if !created {
		return nil
	}
	return alertPayload(ReasonNewGroup, event, group,
		"New error: "+group.Title,
		models.SeverityForLevel(event.Level))
}

// spikeCheck fires when the latest window holds at least SpikeFactor times
// the captures of the window before it. It fires at most once per window.
func (t *Tracker) spikeCheck(event *models.ErrorEvent, group *models.ErrorGroup, _ bool, now time.Time) *eventbus.ErrorAlertPayload {
	recent, previous := t.rate.addAt(now)
	if previous == 0 || float64(recent) < float64(previous)*t.opts.SpikeFactor {
		return nil
	}

	t.spikeMu.Lock()
	if !t.lastSpike.IsZero() && now.Sub(t.lastSpike) < t.opts.SpikeWindow {
		t.spikeMu.Unlock()
		return nil
	}
	t.lastSpike = now
	t.spikeMu.Unlock()

	p := alertPayload(ReasonSpike, event, group, "Error rate spike", models.SeverityHigh)
	p.Message = fmt.Sprintf("%d errors in the last %s, %d in the %s before", recent, t.opts.SpikeWindow, previous, t.opts.SpikeWindow)
	// The spike is tracker-wide, so it must not dedup per workflow.
	delete(p.Metadata, "workflowId")
	delete(p.Metadata, "nodeId")
	p.Metadata["recent"] = recent
	p.Metadata["previous"] = previous
	return p
}

func alertPayload(reason string, event *models.ErrorEvent, group *models.ErrorGroup, title string, sev models.Severity) *eventbus.ErrorAlertPayload {
	meta := map[string]any{
		"fingerprint": group.Fingerprint,
		"groupId":     group.ID,
		"level":       string(event.Level),
		"count":       group.Count,
	}
	if event.Context.WorkflowID != "" {
		meta["workflowId"] = event.Context.WorkflowID
	}
	if event.Context.NodeID != "" {
		meta["nodeId"] = event.Context.NodeID
	}
	if event.Context.Environment != "" {
		meta["environment"] = event.Context.Environment
	}

	return &eventbus.ErrorAlertPayload{
		Reason:      reason,
		Type:        "error." + reason,
		Severity:    sev,
		Title:       title,
		Message:     event.Message,
		Source:      alertSource,
		Fingerprint: group.Fingerprint,
		Metadata:    meta,
	}
}
