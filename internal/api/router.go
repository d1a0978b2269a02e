package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/blazetrack/internal/api/alerts"
	"github.com/good-yellow-bee/blazetrack/internal/api/auth"
	"github.com/good-yellow-bee/blazetrack/internal/api/escalations"
	"github.com/good-yellow-bee/blazetrack/internal/api/events"
	"github.com/good-yellow-bee/blazetrack/internal/api/middleware"
	"github.com/good-yellow-bee/blazetrack/internal/api/notifications"
	"github.com/good-yellow-bee/blazetrack/internal/api/stream"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	captureLimiter := middleware.NewRateLimiter(s.config.RateLimitPerMinute, 0)

	// Global middleware
	r.Use(middleware.RequestLogger(s.logger, s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.PrometheusMiddleware)

	// Probes are public.
	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	svc := s.services
	eventsHandler := events.NewHandler(svc.Tracker, svc.Clock, s.logger)
	alertsHandler := alerts.NewHandler(svc.Alerts, svc.Clock, s.logger)
	escalationsHandler := escalations.NewHandler(svc.Escalations, svc.Alerts, s.logger)
	notificationsHandler := notifications.NewHandler(svc.Notifier, svc.Clock, s.logger)
	streamHandler := stream.NewHandler(svc.Bus, s.logger, s.config.AllowedOrigins)

	r.Route("/api/v1", func(r chi.Router) {
		if s.jwt != nil {
			r.Use(middleware.JWTAuth(s.jwt, s.logger))
		}

		// Reads: any authenticated role.
		r.Group(func(r chi.Router) {
			r.Get("/errors", eventsHandler.Search)
			r.Get("/errors/recent", eventsHandler.Recent)
			r.Get("/errors/trends", eventsHandler.Trends)
			r.Get("/errors/analytics", eventsHandler.Analytics)
			r.Get("/groups", eventsHandler.ListGroups)
			r.Get("/groups/{fingerprint}", eventsHandler.GetGroup)
			r.Get("/breadcrumbs", eventsHandler.Breadcrumbs)

			r.Get("/alerts", alertsHandler.List)
			r.Get("/alerts/metrics", alertsHandler.Metrics)
			r.Get("/alerts/{id}", alertsHandler.GetByID)
			r.Get("/alert-rules", alertsHandler.ListRules)
			r.Get("/alert-rules/{id}", alertsHandler.GetRule)
			r.Get("/suppressions", alertsHandler.ListSuppressions)

			r.Get("/escalations", escalationsHandler.List)
			r.Get("/escalations/{id}", escalationsHandler.Get)
			r.Get("/escalation-rules", escalationsHandler.ListRules)
			r.Get("/escalation-rules/{id}", escalationsHandler.GetRule)

			r.Get("/channels", notificationsHandler.ListChannels)
			r.Get("/templates", notificationsHandler.ListTemplates)
			r.Get("/notifications/metrics", notificationsHandler.Metrics)
			r.Get("/notifications/{id}", notificationsHandler.Get)

			r.Get("/stats", s.stats)
			r.Get("/stream", streamHandler.WebSocket)
			r.Get("/events", streamHandler.Events)
		})

		// Capture and lifecycle: operator or admin.
		r.Group(func(r chi.Router) {
			s.require(r, middleware.RequireCanWrite)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimitByClient(captureLimiter))
				r.Post("/errors", eventsHandler.Capture)
				r.Post("/breadcrumbs", eventsHandler.AddBreadcrumb)
			})

			r.Post("/groups/{fingerprint}/resolve", eventsHandler.ResolveGroup)
			r.Put("/groups/{fingerprint}/status", eventsHandler.SetGroupStatus)
			r.Put("/groups/{fingerprint}/assignee", eventsHandler.AssignGroup)

			r.Post("/alerts", alertsHandler.Create)
			r.Post("/alerts/{id}/acknowledge", alertsHandler.Acknowledge)
			r.Post("/alerts/{id}/resolve", alertsHandler.Resolve)
			r.Post("/alerts/{id}/suppress", alertsHandler.Suppress)
			r.Delete("/suppressions/{fingerprint}", alertsHandler.DeleteSuppression)

			r.Post("/escalations", escalationsHandler.Start)
			r.Post("/escalations/{id}/execute", escalationsHandler.Execute)
			r.Post("/escalations/{id}/schedule", escalationsHandler.Schedule)
			r.Post("/escalations/{id}/stop", escalationsHandler.Stop)
			r.Post("/escalations/{id}/pause", escalationsHandler.Pause)
			r.Post("/escalations/{id}/resume", escalationsHandler.Resume)

			r.Post("/notifications", notificationsHandler.Send)
			r.Post("/notifications/{id}/delivered", notificationsHandler.MarkDelivered)
			r.Post("/notifications/{id}/bounced", notificationsHandler.MarkBounced)
		})

		// Rules, channels and templates: admin only.
		r.Group(func(r chi.Router) {
			s.require(r, middleware.RequireAdmin)

			r.Post("/alert-rules", alertsHandler.CreateRule)
			r.Post("/alert-rules/reload", alertsHandler.ReloadRules)
			r.Put("/alert-rules/{id}", alertsHandler.UpdateRule)
			r.Delete("/alert-rules/{id}", alertsHandler.DeleteRule)

			r.Post("/escalation-rules", escalationsHandler.CreateRule)
			r.Post("/escalation-rules/reload", escalationsHandler.ReloadRules)
			r.Delete("/escalation-rules/{id}", escalationsHandler.DeleteRule)

			r.Put("/channels", notificationsHandler.ConfigureChannel)
			r.Delete("/channels/{type}", notificationsHandler.RemoveChannel)
			r.Post("/channels/{type}/test", notificationsHandler.TestChannel)
			r.Post("/templates", notificationsHandler.RegisterTemplate)
		})
	})

	return r
}

// require installs a role check when auth is enabled. Without auth there
// are no claims to check.
func (s *Server) require(r chi.Router, mw func(http.Handler) http.Handler) {
	if s.jwt != nil {
		r.Use(mw)
	}
}

// JWT returns the token service, or nil when auth is disabled.
func (s *Server) JWT() *auth.JWTService {
	return s.jwt
}
