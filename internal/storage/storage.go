// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// Storage is the main interface for database operations.
// Writes are idempotent upserts keyed by fingerprint or id.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error
	// Ping checks the connection health.
	Ping(ctx context.Context) error

	// Repository accessors
	Events() EventRepository
	Groups() GroupRepository
	Alerts() AlertRepository
	Rules() RuleRepository
	Escalations() EscalationRepository
	Notifications() NotificationRepository
	Suppressions() SuppressionRepository
}

// EventStorage holds error events separately from the main store.
// Events have different access patterns (high-volume writes, time-series
// queries), so they may live in ClickHouse.
type EventStorage interface {
	Open() error
	Close() error
	Migrate() error
	Ping(ctx context.Context) error

	Events() EventRepository
}

// EventRepository stores immutable error events.
type EventRepository interface {
	Store(ctx context.Context, event *models.ErrorEvent) error
	Search(ctx context.Context, filter *ErrorFilter) (*ErrorSearchResult, error)
	Trends(ctx context.Context, r models.TimeRange, g Granularity) ([]TrendPoint, error)
	// DeleteBefore removes events older than the specified time.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// GroupRepository stores error groups keyed by fingerprint.
type GroupRepository interface {
	// Get returns nil, nil when no group exists for the fingerprint.
	Get(ctx context.Context, fingerprint string) (*models.ErrorGroup, error)
	Upsert(ctx context.Context, group *models.ErrorGroup) error
	List(ctx context.Context, filter *GroupFilter) ([]*models.ErrorGroup, error)
	Delete(ctx context.Context, fingerprint string) error
	// DeleteStale removes groups whose LastSeen is before the given time.
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// AlertRepository stores alerts keyed by id.
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	Update(ctx context.Context, alert *models.Alert) error
	// Get returns nil, nil when the alert does not exist.
	Get(ctx context.Context, id string) (*models.Alert, error)
	Search(ctx context.Context, filter *AlertFilter) ([]*models.Alert, int64, error)
}

// RuleRepository stores alert rules.
type RuleRepository interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	Update(ctx context.Context, rule *models.AlertRule) error
	Delete(ctx context.Context, id string) error
	// Get returns nil, nil when the rule does not exist.
	Get(ctx context.Context, id string) (*models.AlertRule, error)
	List(ctx context.Context) ([]*models.AlertRule, error)
}

// EscalationRepository stores escalation instances.
type EscalationRepository interface {
	Upsert(ctx context.Context, inst *models.EscalationInstance) error
	// Get returns nil, nil when the instance does not exist.
	Get(ctx context.Context, id string) (*models.EscalationInstance, error)
	ListByStatus(ctx context.Context, statuses ...models.EscalationStatus) ([]*models.EscalationInstance, error)
}

// NotificationRepository stores notification results.
type NotificationRepository interface {
	Upsert(ctx context.Context, result *models.NotificationResult) error
	// Get returns nil, nil when the result does not exist.
	Get(ctx context.Context, id string) (*models.NotificationResult, error)
	// ListRetryable returns failed results with a scheduled retry.
	ListRetryable(ctx context.Context) ([]*models.NotificationResult, error)
	// ListSince returns results created at or after since.
	ListSince(ctx context.Context, since time.Time) ([]*models.NotificationResult, error)
}

// SuppressionRepository stores the fingerprint suppression table.
type SuppressionRepository interface {
	Put(ctx context.Context, fingerprint string, until time.Time) error
	Delete(ctx context.Context, fingerprint string) error
	// ListActive returns suppressions expiring after now.
	ListActive(ctx context.Context, now time.Time) (map[string]time.Time, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ErrorFilter selects error events.
type ErrorFilter struct {
	Fingerprint     string
	Type            string
	Levels          []models.Level
	WorkflowID      string
	UserID          string
	Environment     string
	MessageContains string
	StartTime       time.Time
	EndTime         time.Time
	Limit           int
	Offset          int
}

// ErrorSearchResult is a page of events.
type ErrorSearchResult struct {
	Events  []*models.ErrorEvent `json:"events"`
	Total   int64                `json:"total"`
	HasMore bool                 `json:"has_more"`
}

// Granularity is the bucket size of a trend query.
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

// ParseGranularity defaults to hour.
func ParseGranularity(s string) Granularity {
	if s == string(GranularityDay) {
		return GranularityDay
	}
	return GranularityHour
}

// Bucket returns the bucket width.
func (g Granularity) Bucket() time.Duration {
	if g == GranularityDay {
		return 24 * time.Hour
	}
	return time.Hour
}

// TrendPoint is one bucket of a trend series.
type TrendPoint struct {
	Bucket time.Time `json:"bucket"`
	Count  int64     `json:"count"`
}

// GroupFilter selects error groups.
type GroupFilter struct {
	Statuses []models.GroupStatus
	Type     string
	Limit    int
	Offset   int
}

// AlertFilter selects alerts.
type AlertFilter struct {
	Statuses    []models.AlertStatus
	Severities  []models.Severity
	Type        string
	Source      string
	Fingerprint string
	StartTime   time.Time
	EndTime     time.Time
	Limit       int
	Offset      int
}

const defaultLimit = 100

func limitOrDefault(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return n
}
