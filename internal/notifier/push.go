package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

const defaultFCMURL = "https://fcm.googleapis.com/fcm/send"

// PushConfig holds FCM-compatible push gateway configuration.
type PushConfig struct {
	ServerKey string `yaml:"server_key" json:"-"`
	// URL overrides the send endpoint.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// Sound is attached to urgent and high priority pushes.
	Sound string `yaml:"sound,omitempty" json:"sound,omitempty"`
}

// Validate validates the push configuration.
func (c *PushConfig) Validate() error {
	if c.ServerKey == "" {
		return fmt.Errorf("FCM server key is required")
	}
	return nil
}

// pushAdapter sends to a device token through an FCM-compatible gateway.
type pushAdapter struct {
	config PushConfig
	sender *httpSender
}

func newPushAdapter(config PushConfig, sender *httpSender) *pushAdapter {
	if config.URL == "" {
		config.URL = defaultFCMURL
	}
	return &pushAdapter{config: config, sender: sender}
}

// Type returns the push channel.
func (p *pushAdapter) Type() models.ChannelType {
	return models.ChannelPush
}

type fcmMessage struct {
	To           string            `json:"to"`
	Priority     string            `json:"priority"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound,omitempty"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// Deliver pushes msg to the device token in msg.Recipient.
func (p *pushAdapter) Deliver(ctx context.Context, msg *Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("invalid_recipient: device token is required")
	}

	payload := fcmMessage{
		To:       msg.Recipient,
		Priority: fcmPriority(msg.Priority),
		Notification: fcmNotification{
			Title: truncate(msg.Subject, 200),
			Body:  truncate(msg.Body, 1000),
		},
		Data: map[string]string{
			"notificationId": msg.ID,
			"priority":       string(msg.Priority),
		},
	}
	if msg.AlertID != "" {
		payload.Data["alertId"] = msg.AlertID
	}
	if payload.Priority == "high" {
		payload.Notification.Sound = p.config.Sound
	}

	body, err := p.sender.postJSON(ctx, p.config.URL, payload, map[string]string{
		"Authorization": "key=" + p.config.ServerKey,
	})
	if err != nil {
		return err
	}

	var resp fcmResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// Still consider it success if status was 2xx
		return nil
	}
	if len(resp.Results) > 0 && resp.Results[0].Error != "" {
		return fmt.Errorf("fcm_%s: push rejected", resp.Results[0].Error)
	}
	if resp.Failure > 0 {
		return fmt.Errorf("fcm_failure: push rejected")
	}
	return nil
}

// Close is a no-op for the push adapter.
func (p *pushAdapter) Close() error {
	return nil
}

func fcmPriority(p models.Priority) string {
	if p == models.PriorityUrgent || p == models.PriorityHigh {
		return "high"
	}
	return "normal"
}
