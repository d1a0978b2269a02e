package notifier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

const (
	defaultSMSBaseURL = "https://api.twilio.com"
	maxSMSLength      = 1600
)

// SMSConfig holds Twilio-compatible messaging API configuration.
type SMSConfig struct {
	AccountSID string `yaml:"account_sid" json:"account_sid"`
	AuthToken  string `yaml:"auth_token" json:"-"`
	From       string `yaml:"from" json:"from"`
	// BaseURL overrides the API host, e.g. for a regional edge.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// Validate validates the SMS configuration.
func (c *SMSConfig) Validate() error {
	if c.AccountSID == "" || c.AuthToken == "" {
		return fmt.Errorf("account SID and auth token are required")
	}
	if c.From == "" {
		return fmt.Errorf("from number is required")
	}
	return nil
}

// smsAdapter posts messages to the Twilio Messages resource.
type smsAdapter struct {
	config SMSConfig
	sender *httpSender
}

func newSMSAdapter(config SMSConfig, sender *httpSender) *smsAdapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultSMSBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &smsAdapter{config: config, sender: sender}
}

// Type returns the SMS channel.
func (s *smsAdapter) Type() models.ChannelType {
	return models.ChannelSMS
}

// Deliver sends the subject and body as one text message.
func (s *smsAdapter) Deliver(ctx context.Context, msg *Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("invalid_recipient: phone number is required")
	}

	form := url.Values{}
	form.Set("To", msg.Recipient)
	form.Set("From", s.config.From)
	form.Set("Body", smsBody(msg))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.config.BaseURL, url.PathEscape(s.config.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.config.AccountSID, s.config.AuthToken)

	_, err = s.sender.do(req)
	return err
}

// Close is a no-op for the SMS adapter.
func (s *smsAdapter) Close() error {
	return nil
}

func smsBody(msg *Message) string {
	body := msg.Subject
	if msg.Body != "" && msg.Body != msg.Subject {
		body += "\n" + msg.Body
	}
	return truncate(body, maxSMSLength)
}
