package models

import "time"

// ChannelType identifies a delivery channel.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelChat    ChannelType = "chat"
	ChannelSMS     ChannelType = "sms"
	ChannelWebhook ChannelType = "webhook"
	ChannelPush    ChannelType = "push"
)

// ChannelTypes lists every supported channel.
var ChannelTypes = []ChannelType{ChannelEmail, ChannelChat, ChannelSMS, ChannelWebhook, ChannelPush}

// IsValid reports whether c is a supported channel type.
func (c ChannelType) IsValid() bool {
	for _, t := range ChannelTypes {
		if t == c {
			return true
		}
	}
	return false
}

// Priority is the urgency of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// PriorityForSeverity maps alert severity to notification priority.
func PriorityForSeverity(s Severity) Priority {
	switch s {
	case SeverityCritical:
		return PriorityUrgent
	case SeverityHigh:
		return PriorityHigh
	case SeverityInfo, SeverityLow:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// NotificationStatus is the delivery state of a notification.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationSent      NotificationStatus = "sent"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationFailed    NotificationStatus = "failed"
	NotificationBounced   NotificationStatus = "bounced"
)

// NotificationRequest describes one message to deliver.
type NotificationRequest struct {
	AlertID   string         `json:"alert_id"`
	Recipient string         `json:"recipient"`
	Channel   ChannelType    `json:"channel"`
	Subject   string         `json:"subject"`
	Message   string         `json:"message"`
	Priority  Priority       `json:"priority"`
	Template  string         `json:"template,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NotificationResult tracks delivery of one request across retries.
type NotificationResult struct {
	ID          string              `json:"id"`
	Request     NotificationRequest `json:"request"`
	Status      NotificationStatus  `json:"status"`
	RetryCount  int                 `json:"retry_count"`
	LastError   string              `json:"last_error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	SentAt      *time.Time          `json:"sent_at,omitempty"`
	DeliveredAt *time.Time          `json:"delivered_at,omitempty"`
	NextRetryAt *time.Time          `json:"next_retry_at,omitempty"`
}

// Clone returns an independent copy.
func (r *NotificationResult) Clone() *NotificationResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.SentAt != nil {
		t := *r.SentAt
		c.SentAt = &t
	}
	if r.DeliveredAt != nil {
		t := *r.DeliveredAt
		c.DeliveredAt = &t
	}
	if r.NextRetryAt != nil {
		t := *r.NextRetryAt
		c.NextRetryAt = &t
	}
	return &c
}
