package notifier

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"sort"
	"strings"

	"github.com/good-yellow-bee/blazetrack/internal/errs"
	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// Template is a named subject and body with {{var}} placeholders filled
// from the request metadata.
type Template struct {
	ID      string             `yaml:"id" json:"id"`
	Name    string             `yaml:"name" json:"name"`
	Channel models.ChannelType `yaml:"channel,omitempty" json:"channel,omitempty"`
	Subject string             `yaml:"subject" json:"subject"`
	Body    string             `yaml:"body" json:"body"`
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Render substitutes {{var}} placeholders with values from vars. Unknown
// placeholders are left as written.
func Render(text string, vars map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok || v == nil {
			return m
		}
		return fmt.Sprint(v)
	})
}

// RegisterTemplate adds or replaces a template.
func (s *Service) RegisterTemplate(t Template) error {
	if t.ID == "" {
		return errs.Validation("register template", "template id is required")
	}
	if t.Subject == "" && t.Body == "" {
		return errs.Validation("register template", "template %q has no subject or body", t.ID)
	}
	if t.Channel != "" && !t.Channel.IsValid() {
		return errs.Validation("register template", "unknown channel %q", t.Channel)
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	s.mu.Lock()
	s.templates[t.ID] = t
	s.mu.Unlock()
	s.logger.Debug("template registered", "template", t.ID)
	return nil
}

// Templates returns registered templates sorted by id.
func (s *Service) Templates() []Template {
	s.mu.RLock()
	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// render builds the adapter message for a result. A named template that
// is missing, or bound to another channel, falls back to the raw text.
func (s *Service) render(r *models.NotificationResult) *Message {
	req := r.Request
	vars := make(map[string]any, len(req.Metadata)+5)
	vars["alertId"] = req.AlertID
	vars["recipient"] = req.Recipient
	vars["priority"] = string(req.Priority)
	vars["subject"] = req.Subject
	vars["message"] = req.Message
	for k, v := range req.Metadata {
		vars[k] = v
	}

	subject, body := req.Subject, req.Message
	if req.Template != "" {
		s.mu.RLock()
		t, ok := s.templates[req.Template]
		s.mu.RUnlock()
		switch {
		case !ok:
			s.logger.Warn("notification template not found", "template", req.Template, "notification_id", r.ID)
		case t.Channel != "" && t.Channel != req.Channel:
			s.logger.Warn("notification template bound to another channel",
				"template", req.Template, "template_channel", t.Channel, "channel", req.Channel)
		default:
			if t.Subject != "" {
				subject = t.Subject
			}
			if t.Body != "" {
				body = t.Body
			}
		}
	}

	return &Message{
		ID:        r.ID,
		AlertID:   req.AlertID,
		Recipient: req.Recipient,
		Subject:   Render(subject, vars),
		Body:      Render(body, vars),
		Priority:  req.Priority,
		Metadata:  req.Metadata,
		Timestamp: r.CreatedAt,
	}
}

const emailHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <div style="border-left: 4px solid {{.Color}}; padding: 12px 16px;">
    <h2 style="margin: 0 0 8px 0;">{{.Subject}}</h2>
    <p style="margin: 0 0 8px 0; color: {{.Color}}; font-weight: bold;">Priority: {{.Priority}}</p>
    <pre style="white-space: pre-wrap; font-family: inherit;">{{.Body}}</pre>
    {{if .AlertID}}<p style="font-size: 12px; color: #757575;">Alert {{.AlertID}} &middot; {{.Timestamp}}</p>{{end}}
  </div>
</body>
</html>
`

var emailHTMLTemplate = template.Must(template.New("email.html").Parse(emailHTML))

type emailData struct {
	Subject   string
	Body      string
	Priority  string
	Color     string
	AlertID   string
	Timestamp string
}

// renderEmail returns the plain and HTML bodies of an email.
func renderEmail(msg *Message) (plain, html string, err error) {
	data := emailData{
		Subject:   msg.Subject,
		Body:      msg.Body,
		Priority:  strings.ToUpper(string(msg.Priority)),
		Color:     priorityColor(msg.Priority),
		AlertID:   msg.AlertID,
		Timestamp: msg.Timestamp.Format("2006-01-02 15:04:05 MST"),
	}
	var buf bytes.Buffer
	if err := emailHTMLTemplate.Execute(&buf, data); err != nil {
		return "", "", err
	}

	var pb strings.Builder
	pb.WriteString(msg.Body)
	if msg.AlertID != "" {
		fmt.Fprintf(&pb, "\r\n\r\n--\r\nAlert %s, priority %s, %s\r\n", msg.AlertID, data.Priority, data.Timestamp)
	}
	return pb.String(), buf.String(), nil
}

// priorityColor returns the color for a priority.
func priorityColor(p models.Priority) string {
	switch p {
	case models.PriorityUrgent:
		return "#d32f2f" // red
	case models.PriorityHigh:
		return "#f57c00" // orange
	case models.PriorityNormal:
		return "#fbc02d" // yellow
	case models.PriorityLow:
		return "#388e3c" // green
	default:
		return "#757575" // gray
	}
}
