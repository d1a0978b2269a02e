package notifier

import (
	"context"
	"strings"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/errs"
	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// Report summarizes notifications created since a point in time.
type Report struct {
	Since     time.Time `json:"since"`
	Total     int       `json:"total"`
	Pending   int       `json:"pending"`
	Sent      int       `json:"sent"`
	Delivered int       `json:"delivered"`
	Failed    int       `json:"failed"`
	Bounced   int       `json:"bounced"`
	Retries   int       `json:"retries"`
	// DeliveryRate is the share of notifications sent or delivered.
	DeliveryRate float64 `json:"delivery_rate"`
	// AverageLatencyMs is the mean time from creation to the successful send.
	AverageLatencyMs float64                                `json:"average_latency_ms"`
	ByChannel        map[models.ChannelType]*ChannelReport `json:"by_channel"`
	ByPriority       map[models.Priority]int               `json:"by_priority"`
	// ErrorCauses counts the first word of each failure message.
	ErrorCauses map[string]int `json:"error_causes"`
}

// ChannelReport is the per-channel part of a Report.
type ChannelReport struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Metrics reports on notifications created at or after since. Channel
// tests are never recorded and do not appear.
func (s *Service) Metrics(ctx context.Context, since time.Time) (*Report, error) {
	list, err := s.results.ListSince(ctx, since)
	if err != nil {
		return nil, errs.Persistence("notification metrics", err)
	}

	rep := &Report{
		Since:       since,
		ByChannel:   make(map[models.ChannelType]*ChannelReport),
		ByPriority:  make(map[models.Priority]int),
		ErrorCauses: make(map[string]int),
	}
	var latency time.Duration
	var timed int
	for _, r := range list {
		rep.Total++
		rep.Retries += r.RetryCount
		rep.ByPriority[r.Request.Priority]++

		ch := rep.ByChannel[r.Request.Channel]
		if ch == nil {
			ch = &ChannelReport{}
			rep.ByChannel[r.Request.Channel] = ch
		}
		ch.Total++

		switch r.Status {
		case models.NotificationPending:
			rep.Pending++
		case models.NotificationSent:
			rep.Sent++
			ch.Sent++
		case models.NotificationDelivered:
			rep.Delivered++
			ch.Sent++
		case models.NotificationFailed:
			rep.Failed++
			ch.Failed++
		case models.NotificationBounced:
			rep.Bounced++
			ch.Failed++
		}
		if r.SentAt != nil {
			latency += r.SentAt.Sub(r.CreatedAt)
			timed++
		}
		if r.LastError != "" && (r.Status == models.NotificationFailed || r.Status == models.NotificationBounced) {
			rep.ErrorCauses[errorCause(r.LastError)]++
		}
	}

	if rep.Total > 0 {
		rep.DeliveryRate = float64(rep.Sent+rep.Delivered) / float64(rep.Total)
	}
	if timed > 0 {
		rep.AverageLatencyMs = float64(latency.Milliseconds()) / float64(timed)
	}
	return rep, nil
}

// errorCause is the first word of an error message.
func errorCause(msg string) string {
	fields := strings.Fields(msg)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.TrimRight(fields[0], ":,;")
}
