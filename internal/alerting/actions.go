package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// maxScriptOutput bounds the script output kept in logs.
const maxScriptOutput = 2048

// runAction executes a deferred rule action for a persisted alert.
func (m *Manager) runAction(ctx context.Context, alert *models.Alert, a models.RuleAction) {
	switch a.Type {
	case models.ActionNotify:
		recipients := a.Recipients
		if len(recipients) == 0 {
			recipients = alert.Recipients.All()
		}
		if len(recipients) == 0 {
			m.logger.Warn("notify action has no recipients", "alert_id", alert.ID)
			return
		}
		m.bus.Publish(eventbus.NotificationRequested, notificationRequest(alert, recipients, a.Channels, a.Template))
	case models.ActionWebhook:
		target := string(models.ChannelWebhook) + ":" + a.URL
		m.bus.Publish(eventbus.NotificationRequested, notificationRequest(alert, []string{target}, nil, a.Template))
	case models.ActionScript:
		m.runScript(alert, a)
	default:
		m.logger.Debug("action skipped", "alert_id", alert.ID, "type", a.Type)
	}
}

// runScript starts the command with the alert JSON on stdin. The run is
// bounded by ScriptTimeout and outlives the request that created the alert.
func (m *Manager) runScript(alert *models.Alert, a models.RuleAction) {
	payload, err := json.Marshal(alert)
	if err != nil {
		m.scriptFailures.Add(1)
		m.logger.Error("encode alert for script failed", "alert_id", alert.ID, "error", err)
		return
	}

	m.scripts.Add(1)
	go func() {
		defer m.scripts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.ScriptTimeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, a.Command, a.Args...)
		cmd.Stdin = bytes.NewReader(payload)
		cmd.Env = append(os.Environ(),
			"BLAZETRACK_ALERT_ID="+alert.ID,
			"BLAZETRACK_ALERT_SEVERITY="+string(alert.Severity),
			"BLAZETRACK_ALERT_TITLE="+alert.Title,
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			m.scriptFailures.Add(1)
			m.logger.Error("script action failed",
				"alert_id", alert.ID,
				"command", a.Command,
				"error", err,
				"output", truncate(string(out), maxScriptOutput))
			return
		}
		m.logger.Debug("script action finished", "alert_id", alert.ID, "command", a.Command)
	}()
}

func notificationRequest(alert *models.Alert, recipients []string, channels []models.ChannelType, template string) eventbus.NotificationRequestPayload {
	message := alert.Message
	if message == "" {
		message = alert.Title
	}
	return eventbus.NotificationRequestPayload{
		AlertID:    alert.ID,
		Recipients: recipients,
		Channels:   channels,
		Subject:    fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title),
		Message:    message,
		Priority:   models.PriorityForSeverity(alert.Severity),
		Template:   template,
		Metadata:   templateVars(alert),
	}
}

// templateVars are the variables notification templates can reference.
func templateVars(alert *models.Alert) map[string]any {
	vars := make(map[string]any, len(alert.Metadata)+7)
	for k, v := range alert.Metadata {
		vars[k] = v
	}
	vars["alertId"] = alert.ID
	vars["title"] = alert.Title
	vars["message"] = alert.Message
	vars["severity"] = string(alert.Severity)
	vars["type"] = alert.Type
	vars["source"] = alert.Source
	vars["timestamp"] = alert.Timestamp.Format("2006-01-02T15:04:05Z07:00")
	return vars
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
