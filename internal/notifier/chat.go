package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// Chat providers.
const (
	ChatSlack = "slack"
	ChatTeams = "teams"
)

// ChatConfig holds incoming-webhook configuration for a chat provider.
type ChatConfig struct {
	Provider   string `yaml:"provider" json:"provider"`                     // slack or teams
	WebhookURL string `yaml:"webhook_url" json:"-"`                         // incoming webhook URL
	Username   string `yaml:"username,omitempty" json:"username,omitempty"` // Slack display name override
}

// Validate validates the chat configuration.
func (c *ChatConfig) Validate() error {
	switch c.Provider {
	case ChatSlack, ChatTeams:
	case "":
		return fmt.Errorf("chat provider is required")
	default:
		return fmt.Errorf("unknown chat provider %q", c.Provider)
	}
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// chatAdapter posts Slack Block Kit messages or Teams Adaptive Cards.
type chatAdapter struct {
	config ChatConfig
	sender *httpSender
}

func newChatAdapter(config ChatConfig, sender *httpSender) *chatAdapter {
	return &chatAdapter{config: config, sender: sender}
}

// Type returns the chat channel.
func (c *chatAdapter) Type() models.ChannelType {
	return models.ChannelChat
}

// Deliver posts msg to the webhook. A Slack recipient starting with # or @
// overrides the webhook's default channel.
func (c *chatAdapter) Deliver(ctx context.Context, msg *Message) error {
	var payload any
	if c.config.Provider == ChatTeams {
		payload = buildTeamsPayload(msg)
	} else {
		m := buildSlackPayload(msg)
		if strings.HasPrefix(msg.Recipient, "#") || strings.HasPrefix(msg.Recipient, "@") {
			m.Channel = msg.Recipient
		}
		m.Username = c.config.Username
		payload = m
	}
	_, err := c.sender.postJSON(ctx, c.config.WebhookURL, payload, nil)
	return err
}

// Close is a no-op for the chat adapter.
func (c *chatAdapter) Close() error {
	return nil
}

// priorityEmoji returns an emoji for the priority.
func priorityEmoji(p models.Priority) string {
	switch p {
	case models.PriorityUrgent:
		return "\U0001F534" // red circle
	case models.PriorityHigh:
		return "\U0001F7E0" // orange circle
	case models.PriorityNormal:
		return "\U0001F7E1" // yellow circle
	case models.PriorityLow:
		return "\U0001F7E2" // green circle
	default:
		return "⚪" // white circle
	}
}
