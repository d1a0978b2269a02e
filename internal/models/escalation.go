package models

import "time"

// EscalationTriggers select which alerts a rule applies to. Empty lists
// match everything.
type EscalationTriggers struct {
	Severities []Severity `json:"severities,omitempty" yaml:"severities,omitempty"`
	Types      []string   `json:"types,omitempty" yaml:"types,omitempty"`
	Sources    []string   `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// Matches reports whether the alert satisfies every non-empty predicate.
func (t EscalationTriggers) Matches(a *Alert) bool {
	if len(t.Severities) > 0 {
		ok := false
		for _, s := range t.Severities {
			if s == a.Severity {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(t.Types) > 0 && !containsString(t.Types, a.Type) {
		return false
	}
	if len(t.Sources) > 0 && !containsString(t.Sources, a.Source) {
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v || s == "*" {
			return true
		}
	}
	return false
}

// LevelRecipients is the audience of one escalation level.
type LevelRecipients struct {
	Users        []string `json:"users,omitempty" yaml:"users,omitempty"`
	Groups       []string `json:"groups,omitempty" yaml:"groups,omitempty"`
	Channels     []string `json:"channels,omitempty" yaml:"channels,omitempty"`
	Integrations []string `json:"integrations,omitempty" yaml:"integrations,omitempty"`
}

// Flatten returns users, groups, channels and integrations as one list.
func (r LevelRecipients) Flatten() []string {
	out := make([]string, 0, len(r.Users)+len(r.Groups)+len(r.Channels)+len(r.Integrations))
	out = append(out, r.Users...)
	out = append(out, r.Groups...)
	out = append(out, r.Channels...)
	out = append(out, r.Integrations...)
	return out
}

// StopConditions decide when an escalation level stops the chain.
type StopConditions struct {
	OnAcknowledge *bool `json:"on_acknowledge,omitempty" yaml:"on_acknowledge,omitempty"`
	OnResolve     *bool `json:"on_resolve,omitempty" yaml:"on_resolve,omitempty"`
}

// StopOnAcknowledge defaults to true.
func (s StopConditions) StopOnAcknowledge() bool {
	return s.OnAcknowledge == nil || *s.OnAcknowledge
}

// StopOnResolve defaults to true.
func (s StopConditions) StopOnResolve() bool {
	return s.OnResolve == nil || *s.OnResolve
}

// EscalationLevel is one step of an escalation chain.
type EscalationLevel struct {
	// Delay is measured from the previous level.
	Delay        Duration        `json:"delay" yaml:"delay"`
	Recipients   LevelRecipients `json:"recipients" yaml:"recipients"`
	RequireAck   bool            `json:"require_ack,omitempty" yaml:"require_ack,omitempty"`
	AutoEscalate bool            `json:"auto_escalate,omitempty" yaml:"auto_escalate,omitempty"`
	Stop         StopConditions  `json:"stop,omitempty" yaml:"stop,omitempty"`
}

// EscalationRule is the escalation policy, independent of AlertRule.
type EscalationRule struct {
	ID       string             `json:"id" yaml:"id"`
	Name     string             `json:"name" yaml:"name"`
	Enabled  *bool              `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Triggers EscalationTriggers `json:"triggers" yaml:"triggers"`
	Levels   []EscalationLevel  `json:"levels" yaml:"levels"`
}

// IsEnabled returns whether the rule is enabled. Rules are enabled by default.
func (r *EscalationRule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// EscalationStatus is the state of a running escalation.
type EscalationStatus string

const (
	EscalationActive    EscalationStatus = "active"
	EscalationPaused    EscalationStatus = "paused"
	EscalationStopped   EscalationStatus = "stopped"
	EscalationCompleted EscalationStatus = "completed"
)

// IsTerminal reports whether no further transitions are possible.
func (s EscalationStatus) IsTerminal() bool {
	return s == EscalationStopped || s == EscalationCompleted
}

// EscalationEventType labels an escalation history entry.
type EscalationEventType string

const (
	EscalationEventStarted      EscalationEventType = "started"
	EscalationEventEscalated    EscalationEventType = "escalated"
	EscalationEventAcknowledged EscalationEventType = "acknowledged"
	EscalationEventResolved     EscalationEventType = "resolved"
	EscalationEventStopped      EscalationEventType = "stopped"
	EscalationEventFailed       EscalationEventType = "failed"
)

// EscalationEvent is an append-only history entry.
type EscalationEvent struct {
	Type       EscalationEventType `json:"type"`
	Level      int                 `json:"level"`
	At         time.Time           `json:"at"`
	Recipients []string            `json:"recipients,omitempty"`
	Detail     string              `json:"detail,omitempty"`
}

// EscalationInstance is a running escalation for one alert.
type EscalationInstance struct {
	ID               string            `json:"id"`
	AlertID          string            `json:"alert_id"`
	RuleID           string            `json:"rule_id"`
	CurrentLevel     int               `json:"current_level"`
	MaxLevel         int               `json:"max_level"`
	Status           EscalationStatus  `json:"status"`
	StartedAt        time.Time         `json:"started_at"`
	LastEscalatedAt  *time.Time        `json:"last_escalated_at,omitempty"`
	NextEscalationAt *time.Time        `json:"next_escalation_at,omitempty"`
	History          []EscalationEvent `json:"history"`
}

// Clone returns a copy with its own history slice.
func (e *EscalationInstance) Clone() *EscalationInstance {
	if e == nil {
		return nil
	}
	c := *e
	c.History = append([]EscalationEvent(nil), e.History...)
	if e.LastEscalatedAt != nil {
		t := *e.LastEscalatedAt
		c.LastEscalatedAt = &t
	}
	if e.NextEscalationAt != nil {
		t := *e.NextEscalationAt
		c.NextEscalationAt = &t
	}
	return &c
}
