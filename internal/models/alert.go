package models

import (
	"strings"
	"time"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertSuppressed   AlertStatus = "suppressed"
)

// Severity represents alert severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity converts a string to Severity.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "info":
		return SeverityInfo
	case "low":
		return SeverityLow
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// Rank orders severities from info (0) to critical (4). Unknown values rank -1.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return -1
	}
}

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	return s.Rank() >= 0
}

// SeverityForLevel maps an error level to the alert severity used for
// alerts raised by the tracker.
func SeverityForLevel(l Level) Severity {
	switch l {
	case LevelFatal, LevelCritical:
		return SeverityCritical
	case LevelError:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// Recipients lists who is notified about an alert.
type Recipients struct {
	Users        []string `json:"users,omitempty" yaml:"users,omitempty"`
	Channels     []string `json:"channels,omitempty" yaml:"channels,omitempty"`
	Integrations []string `json:"integrations,omitempty" yaml:"integrations,omitempty"`
}

// All flattens the recipient sets into one list.
func (r Recipients) All() []string {
	out := make([]string, 0, len(r.Users)+len(r.Channels)+len(r.Integrations))
	out = append(out, r.Users...)
	out = append(out, r.Channels...)
	out = append(out, r.Integrations...)
	return out
}

// EscalationState is the escalation sub-record of an alert.
// Level never exceeds MaxLevel.
type EscalationState struct {
	Level            int        `json:"level"`
	MaxLevel         int        `json:"max_level"`
	RuleID           string     `json:"rule_id,omitempty"`
	InstanceID       string     `json:"instance_id,omitempty"`
	LastEscalatedAt  *time.Time `json:"last_escalated_at,omitempty"`
	NextEscalationAt *time.Time `json:"next_escalation_at,omitempty"`
}

// Acknowledgment records who acknowledged an alert.
type Acknowledgment struct {
	By   string    `json:"by"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// Resolution records who resolved an alert.
type Resolution struct {
	By         string    `json:"by"`
	At         time.Time `json:"at"`
	Resolution string    `json:"resolution"`
	RootCause  string    `json:"root_cause,omitempty"`
}

// NotificationAttempt is one entry of the alert's delivery log.
type NotificationAttempt struct {
	NotificationID string             `json:"notification_id"`
	Channel        ChannelType        `json:"channel"`
	Recipient      string             `json:"recipient"`
	Status         NotificationStatus `json:"status"`
	Error          string             `json:"error,omitempty"`
	At             time.Time          `json:"at"`
}

// Alert is an actionable incident derived from one or more signals.
type Alert struct {
	ID              string                `json:"id"`
	Type            string                `json:"type"`
	Severity        Severity              `json:"severity"`
	Status          AlertStatus           `json:"status"`
	Title           string                `json:"title"`
	Message         string                `json:"message"`
	Source          string                `json:"source"`
	Fingerprint     string                `json:"fingerprint"`
	Timestamp       time.Time             `json:"timestamp"`
	Metadata        map[string]any        `json:"metadata,omitempty"`
	Context         map[string]any        `json:"context,omitempty"`
	Recipients      Recipients            `json:"recipients"`
	Escalation      EscalationState       `json:"escalation"`
	Acknowledgment  *Acknowledgment       `json:"acknowledgment,omitempty"`
	Resolution      *Resolution           `json:"resolution,omitempty"`
	Notifications   []NotificationAttempt `json:"notifications,omitempty"`
	SuppressedUntil *time.Time            `json:"suppressed_until,omitempty"`
}

// Clone returns a copy whose slices can be mutated independently.
// Metadata and Context maps are shared; they are not mutated after creation.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	c := *a
	c.Notifications = append([]NotificationAttempt(nil), a.Notifications...)
	c.Recipients.Users = append([]string(nil), a.Recipients.Users...)
	c.Recipients.Channels = append([]string(nil), a.Recipients.Channels...)
	c.Recipients.Integrations = append([]string(nil), a.Recipients.Integrations...)
	if a.Acknowledgment != nil {
		ack := *a.Acknowledgment
		c.Acknowledgment = &ack
	}
	if a.Resolution != nil {
		res := *a.Resolution
		c.Resolution = &res
	}
	return &c
}

// ActionType is the kind of a rule action.
type ActionType string

const (
	ActionNotify   ActionType = "notify"
	ActionEscalate ActionType = "escalate"
	ActionSuppress ActionType = "suppress"
	ActionWebhook  ActionType = "webhook"
	ActionScript   ActionType = "script"
)

// RuleCondition compares a field of the alert against a value.
type RuleCondition struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    any    `json:"value" yaml:"value"`
}

// RuleAction is executed when all conditions of a rule match.
type RuleAction struct {
	Type ActionType `json:"type" yaml:"type"`
	// Channels and Recipients are used by notify actions.
	Channels   []ChannelType `json:"channels,omitempty" yaml:"channels,omitempty"`
	Recipients []string      `json:"recipients,omitempty" yaml:"recipients,omitempty"`
	// Duration is used by suppress actions.
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	// EscalationRuleID and MaxLevel are used by escalate actions.
	EscalationRuleID string `json:"escalation_rule_id,omitempty" yaml:"escalation_rule_id,omitempty"`
	MaxLevel         int    `json:"max_level,omitempty" yaml:"max_level,omitempty"`
	// URL is used by webhook actions.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
	// Command and Args are used by script actions.
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	// Template names a notification template.
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
}

// ThrottlePolicy bounds how many alerts a rule lets through per window.
type ThrottlePolicy struct {
	Window    Duration `json:"window" yaml:"window"`
	MaxAlerts int      `json:"max_alerts" yaml:"max_alerts"`
}

// Schedule restricts a rule to days of week and a local time range.
// Start after End describes an overnight range.
type Schedule struct {
	Days     []string `json:"days,omitempty" yaml:"days,omitempty"`
	Start    string   `json:"start,omitempty" yaml:"start,omitempty"`
	End      string   `json:"end,omitempty" yaml:"end,omitempty"`
	Timezone string   `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// AlertRule is an alerting policy.
type AlertRule struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     *bool           `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Conditions  []RuleCondition `json:"conditions" yaml:"conditions"`
	Expression  string          `json:"expression,omitempty" yaml:"expression,omitempty"`
	Actions     []RuleAction    `json:"actions" yaml:"actions"`
	Throttle    *ThrottlePolicy `json:"throttle,omitempty" yaml:"throttle,omitempty"`
	Schedule    *Schedule       `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time       `json:"updated_at" yaml:"-"`
}

// IsEnabled returns whether the rule is enabled. Rules are enabled by default.
func (r *AlertRule) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// SuppressAction returns the rule's first suppress action, if any.
func (r *AlertRule) SuppressAction() (RuleAction, bool) {
	for _, a := range r.Actions {
		if a.Type == ActionSuppress {
			return a, true
		}
	}
	return RuleAction{}, false
}
