package alerting

import (
	"context"
	"sort"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/errs"
	"github.com/good-yellow-bee/blazetrack/internal/models"
	"github.com/good-yellow-bee/blazetrack/internal/storage"
)

const (
	reportScanLimit = 10000
	topSourceCount  = 10
)

// SourceCount is one entry of the top sources list.
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// HourBucket is one slot of the alert frequency histogram.
type HourBucket struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// DeliveryCounts are notification attempts per status.
type DeliveryCounts struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Other  int `json:"other"`
}

// Metrics is the alert report over a time range.
type Metrics struct {
	Range      models.TimeRange `json:"range"`
	Total      int              `json:"total"`
	ByType     map[string]int   `json:"by_type"`
	BySeverity map[string]int   `json:"by_severity"`
	ByStatus   map[string]int   `json:"by_status"`
	// MeanAckTime and MeanResolveTime are measured from alert creation.
	MeanAckTime     models.Duration `json:"mean_ack_time"`
	MeanResolveTime models.Duration `json:"mean_resolve_time"`
	Hourly          []HourBucket    `json:"hourly"`
	TopSources      []SourceCount   `json:"top_sources"`
	// EscalationRate is the fraction of alerts that reached level > 0.
	EscalationRate  float64                   `json:"escalation_rate"`
	SuppressionRate float64                   `json:"suppression_rate"`
	Delivery        map[string]DeliveryCounts `json:"delivery"`
	Dropped         Stats                     `json:"dropped"`
	Truncated       bool                      `json:"truncated,omitempty"`
	GeneratedAt     time.Time                 `json:"generated_at"`
}

// Metrics aggregates the alerts created within r.
func (m *Manager) Metrics(ctx context.Context, r models.TimeRange) (*Metrics, error) {
	if !r.End.After(r.Start) {
		return nil, errs.Validation("alert metrics", "range end must be after start")
	}
	alerts, total, err := m.alerts.Search(ctx, &storage.AlertFilter{
		StartTime: r.Start,
		EndTime:   r.End,
		Limit:     reportScanLimit,
	})
	if err != nil {
		return nil, errs.Persistence("alert metrics", err)
	}

	rep := &Metrics{
		Range:       r,
		ByType:      make(map[string]int),
		BySeverity:  make(map[string]int),
		ByStatus:    make(map[string]int),
		Hourly:      hourlyBuckets(r),
		Delivery:    make(map[string]DeliveryCounts),
		Truncated:   total > int64(len(alerts)),
		GeneratedAt: m.clock.Now(),
	}
	stats := m.Stats()
	rep.Dropped = Stats{Suppressed: stats.Suppressed, RuleSuppressed: stats.RuleSuppressed, Throttled: stats.Throttled}

	var (
		ackTotal, resolveTotal time.Duration
		acked, resolved        int
		escalated, suppressed  int
		sources                = make(map[string]int)
	)
	for _, a := range alerts {
		if !r.Contains(a.Timestamp) {
			continue
		}
		rep.Total++
		rep.ByType[a.Type]++
		rep.BySeverity[string(a.Severity)]++
		rep.ByStatus[string(a.Status)]++
		sources[a.Source]++

		if a.Acknowledgment != nil {
			ackTotal += a.Acknowledgment.At.Sub(a.Timestamp)
			acked++
		}
		if a.Resolution != nil {
			resolveTotal += a.Resolution.At.Sub(a.Timestamp)
			resolved++
		}
		if a.Escalation.Level > 0 {
			escalated++
		}
		if a.Status == models.AlertSuppressed {
			suppressed++
		}
		if i := int(a.Timestamp.Sub(r.Start) / time.Hour); i >= 0 && i < len(rep.Hourly) {
			rep.Hourly[i].Count++
		}
		for _, n := range a.Notifications {
			c := rep.Delivery[string(n.Channel)]
			switch n.Status {
			case models.NotificationSent, models.NotificationDelivered:
				c.Sent++
			case models.NotificationFailed, models.NotificationBounced:
				c.Failed++
			default:
				c.Other++
			}
			rep.Delivery[string(n.Channel)] = c
		}
	}

	if acked > 0 {
		rep.MeanAckTime = models.Duration(ackTotal / time.Duration(acked))
	}
	if resolved > 0 {
		rep.MeanResolveTime = models.Duration(resolveTotal / time.Duration(resolved))
	}
	if rep.Total > 0 {
		rep.EscalationRate = float64(escalated) / float64(rep.Total)
		rep.SuppressionRate = float64(suppressed) / float64(rep.Total)
	}
	rep.TopSources = topSources(sources, topSourceCount)
	return rep, nil
}

func hourlyBuckets(r models.TimeRange) []HourBucket {
	n := int((r.Duration() + time.Hour - 1) / time.Hour)
	out := make([]HourBucket, n)
	for i := range out {
		out[i].Start = r.Start.Add(time.Duration(i) * time.Hour)
	}
	return out
}

func topSources(counts map[string]int, n int) []SourceCount {
	out := make([]SourceCount, 0, len(counts))
	for s, c := range counts {
		out = append(out, SourceCount{Source: s, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Source < out[j].Source
		}
		return out[i].Count > out[j].Count
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
