// Package models defines the domain types shared by the tracker, the alert
// manager, the escalation engine and the notification service.
package models

import (
	"strings"
	"time"
)

// Level is the severity of a captured error.
type Level string

const (
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
	LevelFatal    Level = "fatal"
)

// Rank orders levels: warning < error < critical < fatal.
// Unknown levels rank below warning.
func (l Level) Rank() int {
	switch l {
	case LevelWarning:
		return 1
	case LevelError:
		return 2
	case LevelCritical:
		return 3
	case LevelFatal:
		return 4
	default:
		return 0
	}
}

// IsValid reports whether l is one of the known levels.
func (l Level) IsValid() bool {
	return l.Rank() > 0
}

// ParseLevel converts a string to Level, defaulting to LevelError.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning", "warn":
		return LevelWarning
	case "critical":
		return LevelCritical
	case "fatal":
		return LevelFatal
	default:
		return LevelError
	}
}

// MaxLevel returns the more severe of two levels.
func MaxLevel(a, b Level) Level {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ErrorContext describes where an error happened.
type ErrorContext struct {
	WorkflowID  string `json:"workflow_id,omitempty"`
	NodeID      string `json:"node_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	Environment string `json:"environment,omitempty"`
	Version     string `json:"version,omitempty"`
	Platform    string `json:"platform,omitempty"`
}

// ErrorMetadata carries free-form tags and extra data.
type ErrorMetadata struct {
	Tags  []string       `json:"tags,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// Breadcrumb is a timestamped trace entry recorded before an error.
type Breadcrumb struct {
	Timestamp time.Time      `json:"timestamp"`
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	Level     string         `json:"level,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// PerformanceSnapshot is the runtime state at capture time.
type PerformanceSnapshot struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
	QueueSize   int     `json:"queue_size"`
}

// ErrorEvent is a single error occurrence. It is immutable once stored.
type ErrorEvent struct {
	ID          string              `json:"id"`
	Fingerprint string              `json:"fingerprint"`
	Timestamp   time.Time           `json:"timestamp"`
	Level       Level               `json:"level"`
	Message     string              `json:"message"`
	Type        string              `json:"type"`
	StackTrace  string              `json:"stack_trace,omitempty"`
	Context     ErrorContext        `json:"context"`
	Metadata    ErrorMetadata       `json:"metadata"`
	Breadcrumbs []Breadcrumb        `json:"breadcrumbs,omitempty"`
	Performance PerformanceSnapshot `json:"performance"`
	Resolved    bool                `json:"resolved"`
}

// GroupStatus is the triage state of an ErrorGroup.
type GroupStatus string

const (
	GroupOpen     GroupStatus = "open"
	GroupResolved GroupStatus = "resolved"
	GroupIgnored  GroupStatus = "ignored"
	GroupMuted    GroupStatus = "muted"
)

// IsValid reports whether s is a known group status.
func (s GroupStatus) IsValid() bool {
	switch s {
	case GroupOpen, GroupResolved, GroupIgnored, GroupMuted:
		return true
	}
	return false
}

// Trend classifies the direction of a group's daily volume.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// GroupStats holds histograms and derived statistics for a group.
type GroupStats struct {
	// Daily is keyed by "2006-01-02".
	Daily map[string]int `json:"daily"`
	// Hourly is keyed by "2006-01-02T15".
	Hourly        map[string]int `json:"hourly"`
	Trend         Trend          `json:"trend"`
	SeverityScore float64        `json:"severity_score"`
}

// MaxGroupSamples is the size of the per-group sample ring.
const MaxGroupSamples = 10

// ErrorGroup is the deduplicated issue for one fingerprint.
type ErrorGroup struct {
	ID                string       `json:"id"`
	Fingerprint       string       `json:"fingerprint"`
	Title             string       `json:"title"`
	Message           string       `json:"message"`
	Type              string       `json:"type"`
	Level             Level        `json:"level"`
	FirstSeen         time.Time    `json:"first_seen"`
	LastSeen          time.Time    `json:"last_seen"`
	Count             int64        `json:"count"`
	Users             []string     `json:"users,omitempty"`
	Status            GroupStatus  `json:"status"`
	Assignee          string       `json:"assignee,omitempty"`
	Tags              []string     `json:"tags,omitempty"`
	Environments      []string     `json:"environments,omitempty"`
	Platforms         []string     `json:"platforms,omitempty"`
	AffectedWorkflows []string     `json:"affected_workflows,omitempty"`
	Stats             GroupStats   `json:"stats"`
	Samples           []ErrorEvent `json:"samples,omitempty"`
	ResolvedAt        *time.Time   `json:"resolved_at,omitempty"`
	ResolvedBy        string       `json:"resolved_by,omitempty"`
}

// UserCount returns the number of distinct users affected.
func (g *ErrorGroup) UserCount() int {
	return len(g.Users)
}

// Clone returns a deep copy safe to hand out of a lock.
func (g *ErrorGroup) Clone() *ErrorGroup {
	if g == nil {
		return nil
	}
	c := *g
	c.Users = append([]string(nil), g.Users...)
	c.Tags = append([]string(nil), g.Tags...)
	c.Environments = append([]string(nil), g.Environments...)
	c.Platforms = append([]string(nil), g.Platforms...)
	c.AffectedWorkflows = append([]string(nil), g.AffectedWorkflows...)
	c.Samples = append([]ErrorEvent(nil), g.Samples...)
	c.Stats.Daily = cloneCounts(g.Stats.Daily)
	c.Stats.Hourly = cloneCounts(g.Stats.Hourly)
	if g.ResolvedAt != nil {
		t := *g.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

func cloneCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AddUnique appends v to set if it is non-empty and not already present.
func AddUnique(set []string, v string) []string {
	if v == "" {
		return set
	}
	for _, s := range set {
		if s == v {
			return set
		}
	}
	return append(set, v)
}
