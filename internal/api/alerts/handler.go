// Package alerts serves the alert lifecycle, alert rules and suppressions.
package alerts

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/blazetrack/internal/alerting"
	"github.com/good-yellow-bee/blazetrack/internal/api/middleware"
	"github.com/good-yellow-bee/blazetrack/internal/api/respond"
	"github.com/good-yellow-bee/blazetrack/internal/clock"
	"github.com/good-yellow-bee/blazetrack/internal/models"
	"github.com/good-yellow-bee/blazetrack/internal/storage"
)

// Manager is the part of the alert manager the handler uses.
type Manager interface {
	CreateAlert(ctx context.Context, in alerting.AlertInput) (string, error)
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	SearchAlerts(ctx context.Context, filter *storage.AlertFilter) ([]*models.Alert, int64, error)
	AcknowledgeAlert(ctx context.Context, id, by, note string) (*models.Alert, error)
	ResolveAlert(ctx context.Context, id, by, resolution, rootCause string) (*models.Alert, error)
	SuppressAlert(ctx context.Context, id, by string, d time.Duration, reason string) (*models.Alert, error)
	Metrics(ctx context.Context, r models.TimeRange) (*alerting.Metrics, error)

	AddRule(ctx context.Context, rule *models.AlertRule) (*models.AlertRule, error)
	UpdateRule(ctx context.Context, rule *models.AlertRule) (*models.AlertRule, error)
	RemoveRule(ctx context.Context, id string) error
	Rule(id string) *models.AlertRule
	Rules() []*models.AlertRule
	ReloadRules(ctx context.Context) error

	Suppressions() map[string]time.Time
	Unsuppress(ctx context.Context, fingerprint string) error
}

// Handler handles alert endpoints.
type Handler struct {
	manager Manager
	clock   clock.Clock
	logger  *slog.Logger
}

// NewHandler creates a new alerts handler.
func NewHandler(m Manager, c clock.Clock, logger *slog.Logger) *Handler {
	if c == nil {
		c = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{manager: m, clock: c, logger: logger}
}

// CreateResponse is returned by Create. Dropped is set when a suppression
// or a rule swallowed the alert.
type CreateResponse struct {
	ID      string `json:"id,omitempty"`
	Dropped bool   `json:"dropped,omitempty"`
}

// Create handles POST /api/v1/alerts.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in alerting.AlertInput
	if err := respond.Decode(w, r, &in); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	if err := ValidateTitle(in.Title); err != nil {
		respond.JSONError(w, respond.NewBadRequest(err.Error()))
		return
	}
	if err := ValidateSeverity(in.Severity); err != nil {
		respond.JSONError(w, respond.NewBadRequest(err.Error()))
		return
	}
	in.Title = strings.TrimSpace(in.Title)

	id, err := h.manager.CreateAlert(r.Context(), in)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	if id == "" {
		respond.Accepted(w, CreateResponse{Dropped: true})
		return
	}
	respond.Created(w, CreateResponse{ID: id})
}

// List handles GET /api/v1/alerts.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := respond.Pagination(r)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	statuses, err := ParseStatuses(respond.List(r, "status"))
	if err != nil {
		respond.JSONError(w, respond.NewBadRequest(err.Error()))
		return
	}
	severities, err := ParseSeverities(respond.List(r, "severity"))
	if err != nil {
		respond.JSONError(w, respond.NewBadRequest(err.Error()))
		return
	}

	q := r.URL.Query()
	filter := &storage.AlertFilter{
		Statuses:    statuses,
		Severities:  severities,
		Type:        q.Get("type"),
		Source:      q.Get("source"),
		Fingerprint: q.Get("fingerprint"),
		Limit:       limit,
		Offset:      offset,
	}
	if q.Get("start") != "" || q.Get("end") != "" || q.Get("period") != "" {
		tr, err := respond.TimeRange(r, h.clock.Now(), 24*time.Hour)
		if err != nil {
			respond.Fail(w, h.logger, err)
			return
		}
		filter.StartTime, filter.EndTime = tr.Start, tr.End
	}

	alerts, total, err := h.manager.SearchAlerts(r.Context(), filter)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	respond.OK(w, respond.Page{
		Items:   alerts,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+len(alerts)) < total,
	})
}

// GetByID handles GET /api/v1/alerts/{id}.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	a, err := h.manager.GetAlert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, a)
}

// Metrics handles GET /api/v1/alerts/metrics.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	tr, err := respond.TimeRange(r, h.clock.Now(), 24*time.Hour)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	m, err := h.manager.Metrics(r.Context(), tr)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, m)
}

// AcknowledgeRequest is the body of Acknowledge. It may be omitted.
type AcknowledgeRequest struct {
	By   string `json:"by"`
	Note string `json:"note"`
}

// Acknowledge handles POST /api/v1/alerts/{id}/acknowledge.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var req AcknowledgeRequest
	if err := respond.DecodeOptional(w, r, &req); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	by := middleware.Actor(r.Context(), req.By)
	a, err := h.manager.AcknowledgeAlert(r.Context(), chi.URLParam(r, "id"), by, req.Note)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, a)
}

// ResolveRequest is the body of Resolve. It may be omitted.
type ResolveRequest struct {
	By         string `json:"by"`
	Resolution string `json:"resolution"`
	RootCause  string `json:"root_cause"`
}

// Resolve handles POST /api/v1/alerts/{id}/resolve.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := respond.DecodeOptional(w, r, &req); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	by := middleware.Actor(r.Context(), req.By)
	a, err := h.manager.ResolveAlert(r.Context(), chi.URLParam(r, "id"), by, req.Resolution, req.RootCause)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, a)
}

// SuppressRequest is the body of Suppress.
type SuppressRequest struct {
	By       string `json:"by"`
	Duration string `json:"duration"`
	Reason   string `json:"reason"`
}

// Suppress handles POST /api/v1/alerts/{id}/suppress.
func (h *Handler) Suppress(w http.ResponseWriter, r *http.Request) {
	var req SuppressRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	d, err := ParseSuppressDuration(req.Duration)
	if err != nil {
		respond.JSONError(w, respond.NewBadRequest(err.Error()))
		return
	}
	by := middleware.Actor(r.Context(), req.By)
	a, err := h.manager.SuppressAlert(r.Context(), chi.URLParam(r, "id"), by, d, req.Reason)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, a)
}

// ListRules handles GET /api/v1/alert-rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	respond.OK(w, h.manager.Rules())
}

// GetRule handles GET /api/v1/alert-rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule := h.manager.Rule(id)
	if rule == nil {
		respond.JSONError(w, respond.NewNotFound("rule "+id+" not found"))
		return
	}
	respond.OK(w, rule)
}

// CreateRule handles POST /api/v1/alert-rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.AlertRule
	if err := respond.Decode(w, r, &rule); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	added, err := h.manager.AddRule(r.Context(), &rule)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	h.logger.Info("alert rule created", "rule", added.ID, "by", middleware.Actor(r.Context(), ""))
	respond.Created(w, added)
}

// UpdateRule handles PUT /api/v1/alert-rules/{id}. The path id wins over
// any id in the body.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.AlertRule
	if err := respond.Decode(w, r, &rule); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	rule.ID = chi.URLParam(r, "id")
	updated, err := h.manager.UpdateRule(r.Context(), &rule)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, updated)
}

// DeleteRule handles DELETE /api/v1/alert-rules/{id}.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.RemoveRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.NoContent(w)
}

// ReloadRules handles POST /api/v1/alert-rules/reload.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.ReloadRules(r.Context()); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, h.manager.Rules())
}

// Suppression is one active suppression entry.
type Suppression struct {
	Fingerprint string    `json:"fingerprint"`
	Until       time.Time `json:"until"`
}

// ListSuppressions handles GET /api/v1/suppressions. Entries are sorted by
// expiry, soonest first.
func (h *Handler) ListSuppressions(w http.ResponseWriter, r *http.Request) {
	entries := h.manager.Suppressions()
	out := make([]Suppression, 0, len(entries))
	for fp, until := range entries {
		out = append(out, Suppression{Fingerprint: fp, Until: until})
	}
	slices.SortFunc(out, func(a, b Suppression) int {
		if c := a.Until.Compare(b.Until); c != 0 {
			return c
		}
		return strings.Compare(a.Fingerprint, b.Fingerprint)
	})
	respond.OK(w, out)
}

// DeleteSuppression handles DELETE /api/v1/suppressions/{fingerprint}.
func (h *Handler) DeleteSuppression(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Unsuppress(r.Context(), chi.URLParam(r, "fingerprint")); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.NoContent(w)
}
