package notifications

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/blazetrack/internal/clock"
	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
	"github.com/good-yellow-bee/blazetrack/internal/logging"
	"github.com/good-yellow-bee/blazetrack/internal/models"
	"github.com/good-yellow-bee/blazetrack/internal/notifier"
	"github.com/good-yellow-bee/blazetrack/internal/storage"
)

// hook is a webhook receiver that fails while failing is set.
type hook struct {
	srv      *httptest.Server
	received atomic.Int32
	failing  atomic.Bool
}

func newHook(t *testing.T) *hook {
	t.Helper()
	h := &hook{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		h.received.Add(1)
		if h.failing.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func setupTestHandler(t *testing.T) http.Handler {
	t.Helper()
	store := storage.NewMemoryStorage()
	fc := clock.NewFake(time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC))
	bus := eventbus.New(eventbus.Options{Logger: logging.Discard(), Clock: fc})
	svc, err := notifier.New(notifier.Options{
		Results: store.Notifications(),
		Bus:     bus,
		Clock:   fc,
		Logger:  logging.Discard(),
	})
	if err != nil {
		t.Fatalf("notifier.New() error = %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	h := NewHandler(svc, fc, logging.Discard())
	r := chi.NewRouter()
	r.Get("/channels", h.ListChannels)
	r.Put("/channels", h.ConfigureChannel)
	r.Delete("/channels/{type}", h.RemoveChannel)
	r.Post("/channels/{type}/test", h.TestChannel)
	r.Get("/templates", h.ListTemplates)
	r.Post("/templates", h.RegisterTemplate)
	r.Post("/notifications", h.Send)
	r.Get("/notifications/metrics", h.Metrics)
	r.Get("/notifications/{id}", h.Get)
	r.Post("/notifications/{id}/delivered", h.MarkDelivered)
	r.Post("/notifications/{id}/bounced", h.MarkBounced)
	return r
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
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))

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

func configureWebhook(t *testing.T, h http.Handler, url string) {
	t.Helper()
	cfg := notifier.ChannelConfig{
		Type:    models.ChannelWebhook,
		Retry:   notifier.RetryPolicy{MaxRetries: -1},
		Webhook: &notifier.WebhookConfig{URL: url},
	}
	if rec, _ := do(t, h, "PUT", "/channels", cfg); rec.Code != http.StatusOK {
		t.Fatalf("configure status = %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestChannels(t *testing.T) {
	h := setupTestHandler(t)
	receiver := newHook(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown type", `{"type":"pager"}`, http.StatusUnprocessableEntity},
		{"missing settings", `{"type":"sms"}`, http.StatusUnprocessableEntity},
		{"bad webhook url", `{"type":"webhook","webhook":{"url":"ftp://example.com"}}`, http.StatusUnprocessableEntity},
		{"unknown field", `{"type":"webhook","colour":"red"}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if rec, _ := do(t, h, "PUT", "/channels", tc.body); rec.Code != tc.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}

	configureWebhook(t, h, receiver.srv.URL)
	_, data := do(t, h, "GET", "/channels", nil)
	var channels []notifier.ChannelStatus
	if err := json.Unmarshal(data, &channels); err != nil || len(channels) != 1 || channels[0].Type != models.ChannelWebhook {
		t.Fatalf("channels = %s", data)
	}

	if rec, _ := do(t, h, "POST", "/channels/webhook/test", nil); rec.Code != http.StatusOK {
		t.Errorf("test status = %d (%s)", rec.Code, rec.Body.String())
	}
	if receiver.received.Load() != 1 {
		t.Errorf("receiver got %d requests, want 1", receiver.received.Load())
	}
	receiver.failing.Store(true)
	if rec, _ := do(t, h, "POST", "/channels/webhook/test", nil); rec.Code != http.StatusBadGateway {
		t.Errorf("failing test status = %d, want 502", rec.Code)
	}
	if rec, _ := do(t, h, "POST", "/channels/email/test", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unconfigured test status = %d, want 422", rec.Code)
	}

	if rec, _ := do(t, h, "DELETE", "/channels/webhook", nil); rec.Code != http.StatusNoContent {
		t.Errorf("remove status = %d", rec.Code)
	}
	if rec, _ := do(t, h, "DELETE", "/channels/webhook", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second remove status = %d, want 404", rec.Code)
	}
}

func TestTemplates(t *testing.T) {
	h := setupTestHandler(t)

	if rec, _ := do(t, h, "POST", "/templates", notifier.Template{ID: "empty"}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty template status = %d, want 400", rec.Code)
	}
	tpl := notifier.Template{ID: "alert", Subject: "[{{severity}}] {{title}}", Body: "{{message}}"}
	if rec, _ := do(t, h, "POST", "/templates", tpl); rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d (%s)", rec.Code, rec.Body.String())
	}
	_, data := do(t, h, "GET", "/templates", nil)
	var list []notifier.Template
	if err := json.Unmarshal(data, &list); err != nil || len(list) != 1 || list[0].Name != "alert" {
		t.Errorf("templates = %s", data)
	}
}

func TestSendAndReceipts(t *testing.T) {
	h := setupTestHandler(t)
	receiver := newHook(t)
	configureWebhook(t, h, receiver.srv.URL)

	if rec, _ := do(t, h, "POST", "/notifications", models.NotificationRequest{Channel: models.ChannelWebhook}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing recipient status = %d, want 400", rec.Code)
	}
	if rec, _ := do(t, h, "POST", "/notifications", models.NotificationRequest{Channel: models.ChannelSMS, Recipient: "+15550001"}); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unconfigured channel status = %d, want 422", rec.Code)
	}

	req := models.NotificationRequest{AlertID: "a1", Channel: models.ChannelWebhook, Recipient: "ops", Subject: "Disk full", Message: "95%"}
	rec, data := do(t, h, "POST", "/notifications", req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("send status = %d (%s)", rec.Code, rec.Body.String())
	}
	var sent SendResponse
	if err := json.Unmarshal(data, &sent); err != nil || sent.Result == nil || sent.Result.Status != models.NotificationSent {
		t.Fatalf("send response = %s", data)
	}

	rec, data = do(t, h, "POST", "/notifications/"+sent.ID+"/delivered", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delivered status = %d (%s)", rec.Code, rec.Body.String())
	}
	var res models.NotificationResult
	if err := json.Unmarshal(data, &res); err != nil || res.Status != models.NotificationDelivered {
		t.Errorf("delivered result = %s", data)
	}
	if rec, _ := do(t, h, "POST", "/notifications/"+sent.ID+"/delivered", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("second delivered status = %d, want 400", rec.Code)
	}

	rec, data = do(t, h, "POST", "/notifications/"+sent.ID+"/bounced", BounceRequest{Reason: "mailbox full"})
	if rec.Code != http.StatusOK {
		t.Fatalf("bounced status = %d", rec.Code)
	}
	res = models.NotificationResult{}
	if err := json.Unmarshal(data, &res); err != nil || res.Status != models.NotificationBounced || res.LastError != "mailbox full" {
		t.Errorf("bounced result = %s", data)
	}

	if rec, _ := do(t, h, "GET", "/notifications/"+sent.ID, nil); rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}
	if rec, _ := do(t, h, "GET", "/notifications/missing", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rec.Code)
	}

	// A failed first attempt is still accepted; the result records the error.
	receiver.failing.Store(true)
	_, data = do(t, h, "POST", "/notifications", req)
	sent = SendResponse{}
	if err := json.Unmarshal(data, &sent); err != nil || sent.Result == nil || sent.Result.Status != models.NotificationFailed {
		t.Errorf("failed send response = %s", data)
	}

	rec, data = do(t, h, "GET", "/notifications/metrics?period=1h", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	var rep notifier.Report
	if err := json.Unmarshal(data, &rep); err != nil || rep.Total != 2 || rep.Bounced != 1 || rep.Failed != 1 {
		t.Errorf("report = %s", data)
	}
}
