package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestSMSAdapterDeliver(t *testing.T) {
	var (
		path string
		form url.Values
		user string
		pass string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		user, pass, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		form = r.PostForm
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM123"}`))
	}))
	defer server.Close()

	adapter := newSMSAdapter(SMSConfig{
		AccountSID: "AC42",
		AuthToken:  "secret",
		From:       "+15550001111",
		BaseURL:    server.URL + "/",
	}, &httpSender{client: server.Client()})

	m := testMessage()
	m.Recipient = "+15552223333"
	if err := adapter.Deliver(context.Background(), m); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	if path != "/2010-04-01/Accounts/AC42/Messages.json" {
		t.Errorf("path = %q", path)
	}
	if user != "AC42" || pass != "secret" {
		t.Errorf("basic auth = %q/%q", user, pass)
	}
	if form.Get("To") != "+15552223333" || form.Get("From") != "+15550001111" {
		t.Errorf("form = %v", form)
	}
	if form.Get("Body") != "[HIGH] Database unreachable\nconnection refused on db-1" {
		t.Errorf("body = %q", form.Get("Body"))
	}
}

func TestSMSBodyTruncated(t *testing.T) {
	m := testMessage()
	m.Body = strings.Repeat("x", 2000)
	if got := len(smsBody(m)); got != maxSMSLength {
		t.Errorf("sms body length = %d, want %d", got, maxSMSLength)
	}
}

func TestSMSConfigValidation(t *testing.T) {
	if err := (&SMSConfig{From: "+1"}).Validate(); err == nil {
		t.Error("expected error without credentials")
	}
	if err := (&SMSConfig{AccountSID: "a", AuthToken: "b"}).Validate(); err == nil {
		t.Error("expected error without from number")
	}
	if err := (&SMSConfig{AccountSID: "a", AuthToken: "b", From: "+1"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWebhookAdapterDeliver(t *testing.T) {
	var (
		body      []byte
		signature string
		custom    string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		signature = r.Header.Get(SignatureHeader)
		custom = r.Header.Get("X-Team")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	adapter := newWebhookAdapter(WebhookConfig{
		URL:     server.URL,
		Secret:  "s3cret",
		Headers: map[string]string{"X-Team": "sre"},
	}, &httpSender{client: server.Client()})

	m := testMessage()
	m.Recipient = "ops-hook"
	if err := adapter.Deliver(context.Background(), m); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	for _, key := range []string{"alertId", "subject", "message", "priority", "recipient", "timestamp", "metadata"} {
		if _, ok := got[key]; !ok {
			t.Errorf("body missing %q: %s", key, body)
		}
	}
	if got["alertId"] != "alert-1" || got["recipient"] != "ops-hook" || got["priority"] != "high" {
		t.Errorf("body = %s", body)
	}
	if custom != "sre" {
		t.Errorf("custom header = %q", custom)
	}
	if !strings.HasPrefix(signature, "sha256=") || !VerifySignature(body, strings.TrimPrefix(signature, "sha256="), "s3cret") {
		t.Errorf("signature %q does not match body", signature)
	}
}

func TestWebhookAdapterRecipientURL(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.Header.Get(SignatureHeader) != "" {
			t.Error("unexpected signature without secret")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	adapter := newWebhookAdapter(WebhookConfig{}, &httpSender{client: server.Client()})

	m := testMessage()
	m.Recipient = server.URL + "/hook"
	if err := adapter.Deliver(context.Background(), m); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}

	m.Recipient = "not-a-url"
	if err := adapter.Deliver(context.Background(), m); err == nil || !strings.HasPrefix(err.Error(), "invalid_recipient") {
		t.Errorf("Deliver() error = %v, want invalid_recipient", err)
	}
}

func TestPushAdapterDeliver(t *testing.T) {
	var (
		auth    string
		payload fcmMessage
	)
	reply := `{"success":1,"failure":0,"results":[{"message_id":"m1"}]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(reply))
	}))
	defer server.Close()

	adapter := newPushAdapter(PushConfig{ServerKey: "k", URL: server.URL, Sound: "alarm"}, &httpSender{client: server.Client()})

	m := testMessage()
	m.Recipient = "device-token"
	if err := adapter.Deliver(context.Background(), m); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if auth != "key=k" {
		t.Errorf("Authorization = %q", auth)
	}
	if payload.To != "device-token" || payload.Priority != "high" || payload.Notification.Sound != "alarm" {
		t.Errorf("payload = %+v", payload)
	}
	if payload.Data["alertId"] != "alert-1" {
		t.Errorf("data = %v", payload.Data)
	}

	reply = `{"success":0,"failure":1,"results":[{"error":"NotRegistered"}]}`
	err := adapter.Deliver(context.Background(), m)
	if err == nil || errorCause(err.Error()) != "fcm_NotRegistered" {
		t.Errorf("Deliver() error = %v, want fcm_NotRegistered", err)
	}
}

func TestChannelConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  ChannelConfig
		wantErr string
	}{
		{"unknown type", ChannelConfig{Type: "pager"}, "unknown channel type"},
		{"missing section", ChannelConfig{Type: "email"}, "email settings are required"},
		{"negative limit", ChannelConfig{Type: "webhook", RateLimit: RateLimitConfig{PerMinute: -1}}, "must not be negative"},
		{"webhook without section", ChannelConfig{Type: "webhook"}, ""},
		{"bad webhook URL", ChannelConfig{Type: "webhook", Webhook: &WebhookConfig{URL: "ftp://x"}}, "http or https"},
		{"push", ChannelConfig{Type: "push", Push: &PushConfig{ServerKey: "k"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
