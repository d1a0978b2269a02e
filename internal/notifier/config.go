package notifier

import (
	"fmt"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// Retry defaults applied when a channel sets no policy.
const (
	DefaultMaxRetries        = 3
	DefaultRetryDelay        = 60 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// ChannelConfig configures one delivery channel. Exactly the section
// matching Type is read.
type ChannelConfig struct {
	Type      models.ChannelType `yaml:"type" json:"type"`
	RateLimit RateLimitConfig    `yaml:"rate_limit" json:"rate_limit"`
	Retry     RetryPolicy        `yaml:"retry" json:"retry"`

	Email   *EmailConfig   `yaml:"email,omitempty" json:"email,omitempty"`
	Chat    *ChatConfig    `yaml:"chat,omitempty" json:"chat,omitempty"`
	SMS     *SMSConfig     `yaml:"sms,omitempty" json:"sms,omitempty"`
	Webhook *WebhookConfig `yaml:"webhook,omitempty" json:"webhook,omitempty"`
	Push    *PushConfig    `yaml:"push,omitempty" json:"push,omitempty"`
}

// RetryPolicy controls redelivery of failed notifications. Attempt n
// (counting from zero) is retried after RetryDelay * BackoffMultiplier^n.
type RetryPolicy struct {
	// MaxRetries of zero means DefaultMaxRetries; negative disables retries.
	MaxRetries        int             `yaml:"max_retries" json:"max_retries"`
	RetryDelay        models.Duration `yaml:"retry_delay" json:"retry_delay"`
	BackoffMultiplier float64         `yaml:"backoff_multiplier" json:"backoff_multiplier"`
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries == 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = models.Duration(DefaultRetryDelay)
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = DefaultBackoffMultiplier
	}
	return p
}

// delay returns the wait before retrying after the given number of retries.
func (p RetryPolicy) delay(retries int) time.Duration {
	d := float64(p.RetryDelay.Std())
	for i := 0; i < retries; i++ {
		d *= p.BackoffMultiplier
	}
	return time.Duration(d)
}

// Validate checks the section for the channel type.
func (c *ChannelConfig) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("unknown channel type %q", c.Type)
	}
	if c.RateLimit.PerMinute < 0 || c.RateLimit.PerHour < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.Retry.RetryDelay < 0 {
		return fmt.Errorf("retry delay must not be negative")
	}

	missing := fmt.Errorf("%s settings are required", c.Type)
	switch c.Type {
	case models.ChannelEmail:
		if c.Email == nil {
			return missing
		}
		return c.Email.Validate()
	case models.ChannelChat:
		if c.Chat == nil {
			return missing
		}
		return c.Chat.Validate()
	case models.ChannelSMS:
		if c.SMS == nil {
			return missing
		}
		return c.SMS.Validate()
	case models.ChannelWebhook:
		if c.Webhook == nil {
			// Recipients may carry the URL.
			return nil
		}
		return c.Webhook.Validate()
	case models.ChannelPush:
		if c.Push == nil {
			return missing
		}
		return c.Push.Validate()
	}
	return nil
}
