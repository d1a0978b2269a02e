package eventbus

import (
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// Type names a signal.
type Type string

const (
	ErrorCaptured     Type = "error_captured"
	NewErrorGroup     Type = "new_error_group"
	ErrorGroupUpdated Type = "error_group_updated"
	// ErrorAlert is an alert-worthy signal raised by the tracker's built-in checks.
	ErrorAlert Type = "error_alert"

	AlertCreated      Type = "alert_created"
	AlertAcknowledged Type = "alert_acknowledged"
	AlertResolved     Type = "alert_resolved"
	AlertSuppressed   Type = "alert_suppressed"

	EscalationStarted   Type = "escalation_started"
	EscalationTriggered Type = "escalation_triggered"
	EscalationStopped   Type = "escalation_stopped"
	EscalationCompleted Type = "escalation_completed"

	NotificationRequested Type = "notification_requested"
	NotificationSent      Type = "notification_sent"
	NotificationFailed    Type = "notification_failed"

	MetricsUpdated Type = "metrics_updated"
)

// AllTypes lists every signal type.
var AllTypes = []Type{
	ErrorCaptured, NewErrorGroup, ErrorGroupUpdated, ErrorAlert,
	AlertCreated, AlertAcknowledged, AlertResolved, AlertSuppressed,
	EscalationStarted, EscalationTriggered, EscalationStopped, EscalationCompleted,
	NotificationRequested, NotificationSent, NotificationFailed,
	MetricsUpdated,
}

// ParseType returns the signal type named s.
func ParseType(s string) (Type, bool) {
	for _, t := range AllTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Signal is a published event.
type Signal struct {
	Type    Type      `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// ErrorCapturedPayload accompanies ErrorCaptured.
type ErrorCapturedPayload struct {
	Event *models.ErrorEvent `json:"event"`
}

// GroupPayload accompanies NewErrorGroup and ErrorGroupUpdated.
type GroupPayload struct {
	Group *models.ErrorGroup `json:"group"`
	// Reopened is set when a resolved group received a new occurrence.
	Reopened bool `json:"reopened,omitempty"`
}

// ErrorAlertPayload accompanies ErrorAlert.
type ErrorAlertPayload struct {
	Reason      string          `json:"reason"` // severity, new_group, spike
	Type        string          `json:"type"`
	Severity    models.Severity `json:"severity"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	Source      string          `json:"source"`
	Fingerprint string          `json:"fingerprint"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// AlertPayload accompanies the alert lifecycle signals.
type AlertPayload struct {
	Alert *models.Alert `json:"alert"`
	By    string        `json:"by,omitempty"`
}

// EscalationPayload accompanies the escalation signals.
type EscalationPayload struct {
	InstanceID       string          `json:"instance_id"`
	AlertID          string          `json:"alert_id"`
	RuleID           string          `json:"rule_id"`
	Level            int             `json:"level"`
	MaxLevel         int             `json:"max_level"`
	Recipients       []string        `json:"recipients,omitempty"`
	RequireAck       bool            `json:"require_ack,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	Subject          string          `json:"subject,omitempty"`
	Message          string          `json:"message,omitempty"`
	Severity         models.Severity `json:"severity,omitempty"`
	LastEscalatedAt  *time.Time      `json:"last_escalated_at,omitempty"`
	NextEscalationAt *time.Time      `json:"next_escalation_at,omitempty"`
}

// NotificationRequestPayload asks the notifier to deliver to each recipient.
// Recipients are "channel:address" or bare ids routed to the default
// channel. Channels, when set, fan bare ids out to each listed channel.
type NotificationRequestPayload struct {
	AlertID    string               `json:"alert_id"`
	Recipients []string             `json:"recipients"`
	Channels   []models.ChannelType `json:"channels,omitempty"`
	Subject    string               `json:"subject"`
	Message    string               `json:"message"`
	Priority   models.Priority      `json:"priority"`
	Template   string               `json:"template,omitempty"`
	Metadata   map[string]any       `json:"metadata,omitempty"`
}

// NotificationPayload accompanies NotificationSent and NotificationFailed.
type NotificationPayload struct {
	Result *models.NotificationResult `json:"result"`
}

// MetricsPayload accompanies MetricsUpdated.
type MetricsPayload struct {
	Source string `json:"source"`
	Report any    `json:"report"`
}
