package notifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when a
// webhook secret is configured.
const SignatureHeader = "X-Blazetrack-Signature"

// WebhookConfig holds generic webhook configuration.
type WebhookConfig struct {
	// URL is used when the recipient is not itself a URL.
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Secret  string            `yaml:"secret,omitempty" json:"-"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// Validate validates the webhook configuration.
func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return nil
	}
	if !isHTTPURL(c.URL) {
		return fmt.Errorf("webhook URL must be an http or https URL")
	}
	return nil
}

// webhookBody is the JSON document posted to webhook endpoints.
type webhookBody struct {
	AlertID   string          `json:"alertId"`
	Subject   string          `json:"subject"`
	Message   string          `json:"message"`
	Priority  models.Priority `json:"priority"`
	Recipient string          `json:"recipient"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// webhookAdapter posts notifications as JSON.
type webhookAdapter struct {
	config WebhookConfig
	sender *httpSender
}

func newWebhookAdapter(config WebhookConfig, sender *httpSender) *webhookAdapter {
	return &webhookAdapter{config: config, sender: sender}
}

// Type returns the webhook channel.
func (w *webhookAdapter) Type() models.ChannelType {
	return models.ChannelWebhook
}

// Deliver posts msg to the recipient URL, or to the configured URL when
// the recipient is a plain name.
func (w *webhookAdapter) Deliver(ctx context.Context, msg *Message) error {
	target := w.config.URL
	if isHTTPURL(msg.Recipient) {
		target = msg.Recipient
	}
	if target == "" {
		return fmt.Errorf("invalid_recipient: no webhook URL for %q", msg.Recipient)
	}

	data, err := json.Marshal(webhookBody{
		AlertID:   msg.AlertID,
		Subject:   msg.Subject,
		Message:   msg.Body,
		Priority:  msg.Priority,
		Recipient: msg.Recipient,
		Timestamp: msg.Timestamp,
		Metadata:  msg.Metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	headers := make(map[string]string, len(w.config.Headers)+1)
	for k, v := range w.config.Headers {
		headers[k] = v
	}
	if w.config.Secret != "" {
		headers[SignatureHeader] = "sha256=" + Sign(data, w.config.Secret)
	}
	_, err = w.sender.postJSON(ctx, target, json.RawMessage(data), headers)
	return err
}

// Close is a no-op for the webhook adapter.
func (w *webhookAdapter) Close() error {
	return nil
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature reports whether signature matches body.
func VerifySignature(body []byte, signature, secret string) bool {
	return hmac.Equal([]byte(signature), []byte(Sign(body, secret)))
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
