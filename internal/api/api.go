// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/alerting"
	"github.com/good-yellow-bee/blazetrack/internal/api/alerts"
	"github.com/good-yellow-bee/blazetrack/internal/api/auth"
	"github.com/good-yellow-bee/blazetrack/internal/api/escalations"
	"github.com/good-yellow-bee/blazetrack/internal/api/events"
	"github.com/good-yellow-bee/blazetrack/internal/api/health"
	"github.com/good-yellow-bee/blazetrack/internal/api/notifications"
	"github.com/good-yellow-bee/blazetrack/internal/clock"
	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address string
	// JWTSecret enables bearer-token auth. Empty leaves the API open, which
	// is only meant for local use.
	JWTSecret          []byte
	TokenTTL           time.Duration
	RateLimitPerMinute int           // capture and breadcrumb requests per client
	AllowedOrigins     []string      // websocket origins; empty allows any
	TLSEnabled         bool
	TLSCertFile        string
	TLSKeyFile         string
	ReadTimeout        time.Duration
	Verbose            bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 600
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
}

// Services are the components the API serves.
type Services struct {
	Tracker     events.Tracker
	Alerts      AlertManager
	Escalations escalations.Engine
	Notifier    notifications.Notifier
	Bus         *eventbus.Bus
	Clock       clock.Clock
}

// AlertManager is the alert manager as the API uses it; the escalation
// endpoints look alerts up through it too.
type AlertManager interface {
	alerts.Manager
	escalations.AlertGetter
}

var _ AlertManager = (*alerting.Manager)(nil)

// Server is the HTTP API server.
type Server struct {
	config        *Config
	services      Services
	jwt           *auth.JWTService
	server        *http.Server
	healthHandler *health.Handler
	logger        *slog.Logger
}

// New creates a new API server.
func New(cfg *Config, svc Services, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if svc.Tracker == nil || svc.Alerts == nil || svc.Escalations == nil || svc.Notifier == nil || svc.Bus == nil {
		return nil, fmt.Errorf("all services are required")
	}
	if svc.Clock == nil {
		svc.Clock = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		services:      svc,
		healthHandler: health.NewHandler(health.Options{Clock: svc.Clock}),
		logger:        logger.With("component", "api"),
	}
	if len(cfg.JWTSecret) > 0 {
		s.jwt = auth.NewJWTService(cfg.JWTSecret, cfg.TokenTTL)
	} else {
		s.logger.Warn("no jwt secret configured, api authentication disabled")
	}

	s.server = &http.Server{
		Addr:        cfg.Address,
		Handler:     s.setupRouter(),
		ReadTimeout: cfg.ReadTimeout,
		// No WriteTimeout: the signal stream holds connections open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.TLSEnabled {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	return s, nil
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("http api listening", "addr", s.config.Address, "tls", s.config.TLSEnabled)
		var err error
		if s.config.TLSEnabled {
			err = s.server.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("http api: %w", err)
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the readiness probe.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	s.healthHandler.RegisterChecker(c)
}

// RegisterHealthComponent adds a component to the /health report.
func (s *Server) RegisterHealthComponent(name string, fn health.ReportFunc) {
	s.healthHandler.RegisterComponent(name, fn)
}

// SetVersion sets the version reported by the health endpoint.
func (s *Server) SetVersion(v string) {
	s.healthHandler.SetVersion(v)
}
