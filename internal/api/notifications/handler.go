// Package notifications serves notification channels, templates and
// delivery results.
package notifications

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/blazetrack/internal/api/middleware"
	"github.com/good-yellow-bee/blazetrack/internal/api/respond"
	"github.com/good-yellow-bee/blazetrack/internal/clock"
	"github.com/good-yellow-bee/blazetrack/internal/models"
	"github.com/good-yellow-bee/blazetrack/internal/notifier"
)

// Notifier is the part of the notification service the handler uses.
type Notifier interface {
	ConfigureChannel(cfg notifier.ChannelConfig) error
	RemoveChannel(t models.ChannelType) error
	Channels() []notifier.ChannelStatus
	TestChannel(ctx context.Context, t models.ChannelType, recipient string) error
	RegisterTemplate(t notifier.Template) error
	Templates() []notifier.Template
	Send(ctx context.Context, req models.NotificationRequest) (string, error)
	Result(ctx context.Context, id string) (*models.NotificationResult, error)
	MarkDelivered(ctx context.Context, id string) (*models.NotificationResult, error)
	MarkBounced(ctx context.Context, id, reason string) (*models.NotificationResult, error)
	Metrics(ctx context.Context, since time.Time) (*notifier.Report, error)
}

// Handler handles notification endpoints.
type Handler struct {
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger
}

// NewHandler creates a new notifications handler.
func NewHandler(n Notifier, c clock.Clock, logger *slog.Logger) *Handler {
	if c == nil {
		c = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{notifier: n, clock: c, logger: logger}
}

// ListChannels handles GET /api/v1/channels.
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	respond.OK(w, h.notifier.Channels())
}

// ConfigureChannel handles PUT /api/v1/channels. Secrets are not accepted
// here; channels that need them are configured from the config file.
func (h *Handler) ConfigureChannel(w http.ResponseWriter, r *http.Request) {
	var cfg notifier.ChannelConfig
	if err := respond.Decode(w, r, &cfg); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	if err := h.notifier.ConfigureChannel(cfg); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	h.logger.Info("channel configured via api", "channel", cfg.Type, "by", middleware.Actor(r.Context(), ""))
	respond.OK(w, h.notifier.Channels())
}

// RemoveChannel handles DELETE /api/v1/channels/{type}.
func (h *Handler) RemoveChannel(w http.ResponseWriter, r *http.Request) {
	if err := h.notifier.RemoveChannel(models.ChannelType(chi.URLParam(r, "type"))); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.NoContent(w)
}

// TestRequest is the body of TestChannel. It may be omitted to use the
// channel's placeholder recipient.
type TestRequest struct {
	Recipient string `json:"recipient"`
}

// TestChannel handles POST /api/v1/channels/{type}/test.
func (h *Handler) TestChannel(w http.ResponseWriter, r *http.Request) {
	var req TestRequest
	if err := respond.DecodeOptional(w, r, &req); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	t := models.ChannelType(chi.URLParam(r, "type"))
	if err := h.notifier.TestChannel(r.Context(), t, req.Recipient); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, map[string]bool{"ok": true})
}

// ListTemplates handles GET /api/v1/templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	respond.OK(w, h.notifier.Templates())
}

// RegisterTemplate handles POST /api/v1/templates. A template with an
// existing id is replaced.
func (h *Handler) RegisterTemplate(w http.ResponseWriter, r *http.Request) {
	var t notifier.Template
	if err := respond.Decode(w, r, &t); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	if err := h.notifier.RegisterTemplate(t); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.Created(w, t)
}

// SendResponse is returned by Send.
type SendResponse struct {
	ID     string                    `json:"id"`
	Result *models.NotificationResult `json:"result,omitempty"`
}

// Send handles POST /api/v1/notifications. The first delivery attempt has
// been made when it returns; failures are retried in the background.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req models.NotificationRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	id, err := h.notifier.Send(r.Context(), req)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	res, err := h.notifier.Result(r.Context(), id)
	if err != nil {
		h.logger.Warn("notification result lookup failed", "id", id, "error", err)
	}
	respond.Accepted(w, SendResponse{ID: id, Result: res})
}

// Get handles GET /api/v1/notifications/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.notifier.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, res)
}

// MarkDelivered handles POST /api/v1/notifications/{id}/delivered.
func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	res, err := h.notifier.MarkDelivered(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, res)
}

// BounceRequest is the body of MarkBounced. It may be omitted.
type BounceRequest struct {
	Reason string `json:"reason"`
}

// MarkBounced handles POST /api/v1/notifications/{id}/bounced.
func (h *Handler) MarkBounced(w http.ResponseWriter, r *http.Request) {
	var req BounceRequest
	if err := respond.DecodeOptional(w, r, &req); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	res, err := h.notifier.MarkBounced(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, res)
}

// Metrics handles GET /api/v1/notifications/metrics. The report covers
// results created within period, 24h by default.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	tr, err := respond.TimeRange(r, h.clock.Now(), 24*time.Hour)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	rep, err := h.notifier.Metrics(r.Context(), tr.Start)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, rep)
}
