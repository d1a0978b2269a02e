// Package events serves error capture, search, trends, analytics, error
// groups and breadcrumbs.
package events

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/blazetrack/internal/api/middleware"
	"github.com/good-yellow-bee/blazetrack/internal/api/respond"
	"github.com/good-yellow-bee/blazetrack/internal/clock"
	"github.com/good-yellow-bee/blazetrack/internal/models"
	"github.com/good-yellow-bee/blazetrack/internal/storage"
	"github.com/good-yellow-bee/blazetrack/internal/tracker"
)

// Tracker is the part of the error tracker the handler uses.
type Tracker interface {
	Capture(ctx context.Context, in tracker.CaptureInput) (string, error)
	RecentEvents(n int) []*models.ErrorEvent
	SearchErrors(ctx context.Context, filter *storage.ErrorFilter) (*storage.ErrorSearchResult, error)
	Trends(ctx context.Context, r models.TimeRange, g storage.Granularity) ([]storage.TrendPoint, error)
	Analytics(ctx context.Context, r models.TimeRange) (*tracker.Analytics, error)
	Group(ctx context.Context, fp string) (*models.ErrorGroup, error)
	Groups() []*models.ErrorGroup
	ResolveGroup(ctx context.Context, fp, by string) (*models.ErrorGroup, error)
	SetGroupStatus(ctx context.Context, fp string, status models.GroupStatus, by string) (*models.ErrorGroup, error)
	AssignGroup(ctx context.Context, fp, assignee string) (*models.ErrorGroup, error)
	AddBreadcrumb(b models.Breadcrumb)
	Breadcrumbs() []models.Breadcrumb
}

// Handler handles error tracking endpoints.
type Handler struct {
	tracker Tracker
	clock   clock.Clock
	logger  *slog.Logger
}

// NewHandler creates a handler. A nil clock uses the wall clock.
func NewHandler(t Tracker, c clock.Clock, logger *slog.Logger) *Handler {
	if c == nil {
		c = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{tracker: t, clock: c, logger: logger}
}

// CaptureResponse is returned by Capture.
type CaptureResponse struct {
	ID string `json:"id"`
}

// Capture handles POST /api/v1/errors.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	var in tracker.CaptureInput
	if err := respond.Decode(w, r, &in); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	id, err := h.tracker.Capture(r.Context(), in)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.Created(w, CaptureResponse{ID: id})
}

// Search handles GET /api/v1/errors.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := respond.Pagination(r)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	filter := &storage.ErrorFilter{
		Fingerprint:     q.Get("fingerprint"),
		Type:            q.Get("type"),
		WorkflowID:      q.Get("workflow_id"),
		UserID:          q.Get("user_id"),
		Environment:     q.Get("environment"),
		MessageContains: q.Get("q"),
		Limit:           limit,
		Offset:          offset,
	}
	for _, l := range respond.List(r, "level") {
		level := models.Level(strings.ToLower(l))
		if !level.IsValid() {
			respond.JSONError(w, respond.NewBadRequest("unknown level "+strconv.Quote(l)))
			return
		}
		filter.Levels = append(filter.Levels, level)
	}
	if q.Get("start") != "" || q.Get("end") != "" || q.Get("period") != "" {
		tr, err := respond.TimeRange(r, h.clock.Now(), 24*time.Hour)
		if err != nil {
			respond.Fail(w, h.logger, err)
			return
		}
		filter.StartTime, filter.EndTime = tr.Start, tr.End
	}

	res, err := h.tracker.SearchErrors(r.Context(), filter)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, respond.Page{
		Items:   res.Events,
		Total:   res.Total,
		Limit:   limit,
		Offset:  offset,
		HasMore: res.HasMore,
	})
}

// Recent handles GET /api/v1/errors/recent.
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, _, err := respond.Pagination(r)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, h.tracker.RecentEvents(limit))
}

// TrendsResponse is returned by Trends.
type TrendsResponse struct {
	Range       models.TimeRange     `json:"range"`
	Granularity storage.Granularity  `json:"granularity"`
	Points      []storage.TrendPoint `json:"points"`
}

// Trends handles GET /api/v1/errors/trends.
func (h *Handler) Trends(w http.ResponseWriter, r *http.Request) {
	g := r.URL.Query().Get("granularity")
	if g != "" && g != string(storage.GranularityHour) && g != string(storage.GranularityDay) {
		respond.JSONError(w, respond.NewBadRequest("granularity must be hour or day"))
		return
	}
	gran := storage.ParseGranularity(g)

	def := 24 * time.Hour
	if gran == storage.GranularityDay {
		def = 30 * 24 * time.Hour
	}
	tr, err := respond.TimeRange(r, h.clock.Now(), def)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}

	points, err := h.tracker.Trends(r.Context(), tr, gran)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, TrendsResponse{Range: tr, Granularity: gran, Points: points})
}

// Analytics handles GET /api/v1/errors/analytics.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	tr, err := respond.TimeRange(r, h.clock.Now(), 24*time.Hour)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	a, err := h.tracker.Analytics(r.Context(), tr)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, a)
}

// ListGroups handles GET /api/v1/groups. Groups are most recently seen first.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := respond.Pagination(r)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	var statuses []models.GroupStatus
	for _, s := range respond.List(r, "status") {
		st := models.GroupStatus(s)
		if !st.IsValid() {
			respond.JSONError(w, respond.NewBadRequest("unknown status "+strconv.Quote(s)))
			return
		}
		statuses = append(statuses, st)
	}
	typ := r.URL.Query().Get("type")

	var matched []*models.ErrorGroup
	for _, g := range h.tracker.Groups() {
		if len(statuses) > 0 && !containsStatus(statuses, g.Status) {
			continue
		}
		if typ != "" && g.Type != typ {
			continue
		}
		matched = append(matched, g)
	}

	total := len(matched)
	end := min(offset+limit, total)
	page := []*models.ErrorGroup{}
	if offset < total {
		page = matched[offset:end]
	}
	respond.OK(w, respond.Page{
		Items:   page,
		Total:   int64(total),
		Limit:   limit,
		Offset:  offset,
		HasMore: end < total,
	})
}

func containsStatus(list []models.GroupStatus, s models.GroupStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// GetGroup handles GET /api/v1/groups/{fingerprint}.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.tracker.Group(r.Context(), chi.URLParam(r, "fingerprint"))
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, g)
}

// ResolveRequest is the body of ResolveGroup. It may be omitted.
type ResolveRequest struct {
	By string `json:"by"`
}

// ResolveGroup handles POST /api/v1/groups/{fingerprint}/resolve.
func (h *Handler) ResolveGroup(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := respond.DecodeOptional(w, r, &req); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	g, err := h.tracker.ResolveGroup(r.Context(), chi.URLParam(r, "fingerprint"), middleware.Actor(r.Context(), req.By))
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, g)
}

// StatusRequest is the body of SetGroupStatus.
type StatusRequest struct {
	Status models.GroupStatus `json:"status"`
	By     string             `json:"by"`
}

// SetGroupStatus handles PUT /api/v1/groups/{fingerprint}/status.
func (h *Handler) SetGroupStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	if !req.Status.IsValid() {
		respond.JSONError(w, respond.NewBadRequest("status must be one of open, resolved, ignored, muted"))
		return
	}
	g, err := h.tracker.SetGroupStatus(r.Context(), chi.URLParam(r, "fingerprint"), req.Status, middleware.Actor(r.Context(), req.By))
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, g)
}

// AssignRequest is the body of AssignGroup. An empty assignee unassigns.
type AssignRequest struct {
	Assignee string `json:"assignee"`
}

// AssignGroup handles PUT /api/v1/groups/{fingerprint}/assignee.
func (h *Handler) AssignGroup(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	g, err := h.tracker.AssignGroup(r.Context(), chi.URLParam(r, "fingerprint"), strings.TrimSpace(req.Assignee))
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.OK(w, g)
}

// AddBreadcrumb handles POST /api/v1/breadcrumbs.
func (h *Handler) AddBreadcrumb(w http.ResponseWriter, r *http.Request) {
	var b models.Breadcrumb
	if err := respond.Decode(w, r, &b); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	if strings.TrimSpace(b.Message) == "" {
		respond.JSONError(w, respond.NewBadRequest("message is required"))
		return
	}
	h.tracker.AddBreadcrumb(b)
	respond.NoContent(w)
}

// Breadcrumbs handles GET /api/v1/breadcrumbs.
func (h *Handler) Breadcrumbs(w http.ResponseWriter, r *http.Request) {
	respond.OK(w, h.tracker.Breadcrumbs())
}
