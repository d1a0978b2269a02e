// Package escalations serves escalation instances and escalation rules.
package escalations

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/blazetrack/internal/api/respond"
	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// Engine is the part of the escalation engine the handler uses.
type Engine interface {
	StartEscalation(ctx context.Context, alert *models.Alert, ruleID string) (string, error)
	ExecuteEscalation(ctx context.Context, id string) error
	ScheduleEscalation(ctx context.Context, id string, delay time.Duration) error
	StopEscalation(ctx context.Context, id, reason string) error
	PauseEscalation(ctx context.Context, id string) error
	ResumeEscalation(ctx context.Context, id string) error
	Instance(ctx context.Context, id string) (*models.EscalationInstance, error)
	ForAlert(ctx context.Context, alertID string) (*models.EscalationInstance, error)
	Active() []*models.EscalationInstance

	AddRule(rule *models.EscalationRule) (*models.EscalationRule, error)
	RemoveRule(id string) error
	Rule(id string) *models.EscalationRule
	Rules() []*models.EscalationRule
	ReloadRules(ctx context.Context) error
}

// AlertGetter looks up the alert an escalation is started for.
type AlertGetter interface {
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
}

// Handler handles escalation endpoints.
type Handler struct {
	engine Engine
	alerts AlertGetter
	logger *slog.Logger
}

// NewHandler creates a new escalations handler.
func NewHandler(e Engine, alerts AlertGetter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: e, alerts: alerts, logger: logger}
}

// List handles GET /api/v1/escalations. With alert_id it returns that
// alert's instance; otherwise the live instances.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if alertID := r.URL.Query().Get("alert_id"); alertID != "" {
		inst, err := h.engine.ForAlert(r.Context(), alertID)
		if err != nil {
			respond.Fail(w, h.logger, err)
			return
		}
		respond.OK(w, []*models.EscalationInstance{inst})
		return
	}
	active := h.engine.Active()
	if active == nil {
		active = []*models.EscalationInstance{}
	}
	respond.OK(w, active)
}

// StartRequest is the body of Start. An empty rule id selects the first
// matching rule.
type StartRequest struct {
	AlertID string `json:"alert_id"`
	RuleID  string `json:"rule_id"`
}

// StartResponse is returned by Start. Started is false when no rule
// matched the alert.
type StartResponse struct {
	ID      string `json:"id,omitempty"`
	Started bool   `json:"started"`
}

// Start handles POST /api/v1/escalations.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	if strings.TrimSpace(req.AlertID) == "" {
		respond.JSONError(w, respond.NewBadRequest("alert_id is required"))
		return
	}

	alert, err := h.alerts.GetAlert(r.Context(), req.AlertID)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	id, err := h.engine.StartEscalation(r.Context(), alert, req.RuleID)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	if id == "" {
		respond.OK(w, StartResponse{})
		return
	}
	respond.Created(w, StartResponse{ID: id, Started: true})
}

// Get handles GET /api/v1/escalations/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	inst, err := h.engine.Instance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, inst)
}

// Execute handles POST /api/v1/escalations/{id}/execute.
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id string) error {
		return h.engine.ExecuteEscalation(ctx, id)
	})
}

// ScheduleRequest is the body of Schedule. An empty delay uses the next
// level's configured delay.
type ScheduleRequest struct {
	Delay string `json:"delay"`
}

// Schedule handles POST /api/v1/escalations/{id}/schedule.
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := respond.DecodeOptional(w, r, &req); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	var delay time.Duration
	if req.Delay != "" {
		d, err := time.ParseDuration(req.Delay)
		if err != nil || d < 0 {
			respond.JSONError(w, respond.NewBadRequest("delay must be a non-negative duration"))
			return
		}
		delay = d
	}
	h.transition(w, r, func(ctx context.Context, id string) error {
		return h.engine.ScheduleEscalation(ctx, id, delay)
	})
}

// StopRequest is the body of Stop. It may be omitted.
type StopRequest struct {
	Reason string `json:"reason"`
}

// Stop handles POST /api/v1/escalations/{id}/stop.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if err := respond.DecodeOptional(w, r, &req); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	h.transition(w, r, func(ctx context.Context, id string) error {
		return h.engine.StopEscalation(ctx, id, req.Reason)
	})
}

// Pause handles POST /api/v1/escalations/{id}/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.PauseEscalation)
}

// Resume handles POST /api/v1/escalations/{id}/resume.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.ResumeEscalation)
}

// transition applies fn to the instance named in the path and responds
// with its new state.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")
	if err := fn(r.Context(), id); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	inst, err := h.engine.Instance(r.Context(), id)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, inst)
}

// ListRules handles GET /api/v1/escalation-rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	respond.OK(w, h.engine.Rules())
}

// GetRule handles GET /api/v1/escalation-rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule := h.engine.Rule(id)
	if rule == nil {
		respond.JSONError(w, respond.NewNotFound("escalation rule "+id+" not found"))
		return
	}
	respond.OK(w, rule)
}

// CreateRule handles POST /api/v1/escalation-rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.EscalationRule
	if err := respond.Decode(w, r, &rule); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	added, err := h.engine.AddRule(&rule)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.Created(w, added)
}

// DeleteRule handles DELETE /api/v1/escalation-rules/{id}.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RemoveRule(chi.URLParam(r, "id")); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.NoContent(w)
}

// ReloadRules handles POST /api/v1/escalation-rules/reload.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ReloadRules(r.Context()); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, h.engine.Rules())
}
