package events

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/blazetrack/internal/clock"
	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
	"github.com/good-yellow-bee/blazetrack/internal/logging"
	"github.com/good-yellow-bee/blazetrack/internal/models"
	"github.com/good-yellow-bee/blazetrack/internal/storage"
	"github.com/good-yellow-bee/blazetrack/internal/tracker"
)

var now = time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) (http.Handler, *tracker.Tracker) {
	t.Helper()

	store := storage.NewMemoryStorage()
	fc := clock.NewFake(now)
	bus := eventbus.New(eventbus.Options{Logger: logging.Discard(), Clock: fc})
	tr, err := tracker.New(tracker.Options{
		Events:        store.Events(),
		Groups:        store.Groups(),
		Bus:           bus,
		Clock:         fc,
		Logger:        logging.Discard(),
		DisableAlerts: true,
		Snapshot:      func() models.PerformanceSnapshot { return models.PerformanceSnapshot{} },
	})
	if err != nil {
		t.Fatalf("tracker.New() error = %v", err)
	}

	h := NewHandler(tr, fc, logging.Discard())
	r := chi.NewRouter()
	r.Post("/errors", h.Capture)
	r.Get("/errors", h.Search)
	r.Get("/errors/recent", h.Recent)
	r.Get("/errors/trends", h.Trends)
	r.Get("/errors/analytics", h.Analytics)
	r.Get("/groups", h.ListGroups)
	r.Get("/groups/{fingerprint}", h.GetGroup)
	r.Post("/groups/{fingerprint}/resolve", h.ResolveGroup)
	r.Put("/groups/{fingerprint}/status", h.SetGroupStatus)
	r.Put("/groups/{fingerprint}/assignee", h.AssignGroup)
	r.Post("/breadcrumbs", h.AddBreadcrumb)
	r.Get("/breadcrumbs", h.Breadcrumbs)
	return r, tr
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, env.Data
}

func TestCapture(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{"valid", tracker.CaptureInput{Type: "TypeError", Message: "x is undefined", Level: models.LevelCritical}, http.StatusCreated},
		{"message only", map[string]string{"message": "boom"}, http.StatusCreated},
		{"empty", map[string]string{}, http.StatusBadRequest},
		{"bad level", map[string]string{"message": "boom", "level": "loud"}, http.StatusBadRequest},
		{"unknown field", `{"message":"boom","colour":"red"}`, http.StatusBadRequest},
		{"no body", nil, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router, _ := newTestRouter(t)
			rec, data := do(t, router, "POST", "/errors", tc.body)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
			if tc.wantStatus == http.StatusCreated {
				var resp CaptureResponse
				if err := json.Unmarshal(data, &resp); err != nil || resp.ID == "" {
					t.Errorf("missing id in %s", data)
				}
			}
		})
	}
}

func TestSearchAndRecent(t *testing.T) {
	router, _ := newTestRouter(t)
	for _, in := range []tracker.CaptureInput{
		{Type: "TypeError", Message: "a", Level: models.LevelError, Context: models.ErrorContext{Environment: "prod"}},
		{Type: "TypeError", Message: "b", Level: models.LevelCritical, Context: models.ErrorContext{Environment: "prod"}},
		{Type: "IOError", Message: "c", Level: models.LevelWarning, Context: models.ErrorContext{Environment: "staging"}},
	} {
		if rec, _ := do(t, router, "POST", "/errors", in); rec.Code != http.StatusCreated {
			t.Fatalf("capture status = %d", rec.Code)
		}
	}

	rec, data := do(t, router, "GET", "/errors?environment=prod&limit=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d", rec.Code)
	}
	var page struct {
		Items   []models.ErrorEvent `json:"items"`
		Total   int64               `json:"total"`
		HasMore bool                `json:"has_more"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 1 || !page.HasMore {
		t.Errorf("page = total %d items %d has_more %v, want 2/1/true", page.Total, len(page.Items), page.HasMore)
	}

	if rec, _ := do(t, router, "GET", "/errors?level=loud", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown level status = %d, want 400", rec.Code)
	}
	if rec, _ := do(t, router, "GET", "/errors?offset=-1", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("negative offset status = %d, want 400", rec.Code)
	}

	rec, data = do(t, router, "GET", "/errors/recent?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recent status = %d", rec.Code)
	}
	var recent []models.ErrorEvent
	if err := json.Unmarshal(data, &recent); err != nil {
		t.Fatalf("decode recent: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("recent = %d events, want 2", len(recent))
	}
}

func TestTrendsAndAnalytics(t *testing.T) {
	router, _ := newTestRouter(t)
	do(t, router, "POST", "/errors", tracker.CaptureInput{Type: "TypeError", Message: "a"})

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/errors/trends", http.StatusOK},
		{"/errors/trends?granularity=day", http.StatusOK},
		{"/errors/trends?granularity=week", http.StatusBadRequest},
		{"/errors/trends?period=-1h", http.StatusBadRequest},
		{"/errors/analytics?period=1h", http.StatusOK},
		{"/errors/analytics?start=2024-03-11T12:00:00Z&end=2024-03-11T11:00:00Z", http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			rec, _ := do(t, router, "GET", tc.path, nil)
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestGroupLifecycle(t *testing.T) {
	router, tr := newTestRouter(t)
	do(t, router, "POST", "/errors", tracker.CaptureInput{Type: "TypeError", Message: "a"})
	do(t, router, "POST", "/errors", tracker.CaptureInput{Type: "IOError", Message: "disk full"})

	groups := tr.Groups()
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	fp := groups[0].Fingerprint

	rec, data := do(t, router, "GET", "/groups/"+fp, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get group status = %d", rec.Code)
	}
	var g models.ErrorGroup
	if err := json.Unmarshal(data, &g); err != nil || g.Fingerprint != fp {
		t.Fatalf("get group = %s", data)
	}

	if rec, _ := do(t, router, "GET", "/groups/missing", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing group status = %d, want 404", rec.Code)
	}

	rec, data = do(t, router, "POST", "/groups/"+fp+"/resolve", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d (%s)", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(data, &g); err != nil || g.Status != models.GroupResolved || g.ResolvedBy != "api" {
		t.Errorf("resolved group = %s", data)
	}

	var page struct {
		Items []models.ErrorGroup `json:"items"`
		Total int64               `json:"total"`
	}
	_, data = do(t, router, "GET", "/groups?status=resolved", nil)
	if err := json.Unmarshal(data, &page); err != nil || page.Total != 1 || page.Items[0].Fingerprint != fp {
		t.Errorf("resolved groups = %s", data)
	}
	if rec, _ := do(t, router, "GET", "/groups?status=sleeping", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown status filter = %d, want 400", rec.Code)
	}

	rec, data = do(t, router, "PUT", "/groups/"+fp+"/status", StatusRequest{Status: models.GroupIgnored, By: "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("set status = %d", rec.Code)
	}
	g = models.ErrorGroup{}
	if err := json.Unmarshal(data, &g); err != nil || g.Status != models.GroupIgnored || g.ResolvedAt != nil {
		t.Errorf("ignored group = %s", data)
	}
	if rec, _ := do(t, router, "PUT", "/groups/"+fp+"/status", StatusRequest{Status: "gone"}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad status = %d, want 400", rec.Code)
	}

	rec, data = do(t, router, "PUT", "/groups/"+fp+"/assignee", AssignRequest{Assignee: " bob "})
	if rec.Code != http.StatusOK {
		t.Fatalf("assign = %d", rec.Code)
	}
	if err := json.Unmarshal(data, &g); err != nil || g.Assignee != "bob" {
		t.Errorf("assigned group = %s", data)
	}
}

func TestBreadcrumbs(t *testing.T) {
	router, _ := newTestRouter(t)

	if rec, _ := do(t, router, "POST", "/breadcrumbs", models.Breadcrumb{Category: "nav"}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty message = %d, want 400", rec.Code)
	}
	if rec, _ := do(t, router, "POST", "/breadcrumbs", models.Breadcrumb{Category: "nav", Message: "opened editor"}); rec.Code != http.StatusNoContent {
		t.Fatalf("add = %d, want 204", rec.Code)
	}

	rec, data := do(t, router, "GET", "/breadcrumbs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	var crumbs []models.Breadcrumb
	if err := json.Unmarshal(data, &crumbs); err != nil || len(crumbs) != 1 || crumbs[0].Message != "opened editor" {
		t.Errorf("breadcrumbs = %s", data)
	}
}
