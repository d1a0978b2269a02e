package api

import (
	"net/http"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/alerting"
	"github.com/good-yellow-bee/blazetrack/internal/api/respond"
	"github.com/good-yellow-bee/blazetrack/internal/models"
	"github.com/good-yellow-bee/blazetrack/internal/notifier"
)

// Stats is a snapshot across all components.
type Stats struct {
	Range             models.TimeRange      `json:"range"`
	Groups            int                   `json:"groups"`
	OpenGroups        int                   `json:"open_groups"`
	ActiveEscalations int                   `json:"active_escalations"`
	Channels          int                   `json:"channels"`
	SignalsPublished  uint64                `json:"signals_published"`
	Alerts            *alerting.Metrics     `json:"alerts"`
	Notifications     *notifier.Report      `json:"notifications"`
}

// stats handles GET /api/v1/stats. Alert and notification figures cover
// the requested period, 24h by default.
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	tr, err := respond.TimeRange(r, s.services.Clock.Now(), 24*time.Hour)
	if err != nil {
		respond.Fail(w, s.logger, err)
		return
	}

	out := Stats{
		Range:             tr,
		ActiveEscalations: len(s.services.Escalations.Active()),
		Channels:          len(s.services.Notifier.Channels()),
		SignalsPublished:  s.services.Bus.Published(),
	}
	for _, g := range s.services.Tracker.Groups() {
		out.Groups++
		if g.Status == models.GroupOpen {
			out.OpenGroups++
		}
	}

	if out.Alerts, err = s.services.Alerts.Metrics(r.Context(), tr); err != nil {
		respond.Fail(w, s.logger, err)
		return
	}
	if out.Notifications, err = s.services.Notifier.Metrics(r.Context(), tr.Start); err != nil {
		respond.Fail(w, s.logger, err)
		return
	}
	respond.OK(w, out)
}
