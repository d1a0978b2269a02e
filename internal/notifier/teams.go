package notifier

import (
	"fmt"
	"strings"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// teamsMessage represents the Teams webhook payload with Adaptive Card.
type teamsMessage struct {
	Type        string            `json:"type"`
	Attachments []teamsAttachment `json:"attachments"`
}

// teamsAttachment represents an attachment in the Teams message.
type teamsAttachment struct {
	ContentType string       `json:"contentType"`
	ContentURL  *string      `json:"contentUrl"`
	Content     adaptiveCard `json:"content"`
}

// adaptiveCard represents a Microsoft Adaptive Card.
type adaptiveCard struct {
	Schema  string        `json:"$schema"`
	Type    string        `json:"type"`
	Version string        `json:"version"`
	Body    []interface{} `json:"body"`
}

// Adaptive Card element types
type textBlock struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Size   string `json:"size,omitempty"`
	Weight string `json:"weight,omitempty"`
	Color  string `json:"color,omitempty"`
	Wrap   bool   `json:"wrap,omitempty"`
}

type factSet struct {
	Type  string `json:"type"`
	Facts []fact `json:"facts"`
}

type fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type container struct {
	Type  string        `json:"type"`
	Style string        `json:"style,omitempty"`
	Items []interface{} `json:"items"`
}

// buildTeamsPayload builds the Teams Adaptive Card message payload.
func buildTeamsPayload(msg *Message) teamsMessage {
	emoji := priorityEmoji(msg.Priority)

	body := []interface{}{
		container{
			Type:  "Container",
			Style: teamsPriorityStyle(msg.Priority),
			Items: []interface{}{
				textBlock{
					Type:   "TextBlock",
					Text:   fmt.Sprintf("%s %s", emoji, msg.Subject),
					Size:   "Large",
					Weight: "Bolder",
					Wrap:   true,
				},
			},
		},
	}

	facts := []fact{
		{Title: "Priority", Value: fmt.Sprintf("%s %s", emoji, strings.ToUpper(string(msg.Priority)))},
		{Title: "Time", Value: msg.Timestamp.Format("2006-01-02 15:04:05 MST")},
	}
	if msg.AlertID != "" {
		facts = append(facts, fact{Title: "Alert", Value: msg.AlertID})
	}
	body = append(body,
		factSet{Type: "FactSet", Facts: facts},
		textBlock{Type: "TextBlock", Text: msg.Body, Wrap: true},
	)

	if tags := metadataTags(msg.Metadata, "`%s=%v`"); len(tags) > 0 {
		body = append(body, textBlock{
			Type:  "TextBlock",
			Text:  truncate(strings.Join(tags, " "), 2000),
			Wrap:  true,
			Color: "light",
		})
	}

	return teamsMessage{
		Type: "message",
		Attachments: []teamsAttachment{
			{
				ContentType: "application/vnd.microsoft.card.adaptive",
				ContentURL:  nil,
				Content: adaptiveCard{
					Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
					Type:    "AdaptiveCard",
					Version: "1.4",
					Body:    body,
				},
			},
		},
	}
}

// teamsPriorityStyle returns an Adaptive Card container style for the priority.
func teamsPriorityStyle(p models.Priority) string {
	switch p {
	case models.PriorityUrgent:
		return "attention" // red
	case models.PriorityHigh:
		return "warning" // orange/yellow
	case models.PriorityNormal:
		return "accent" // blue
	case models.PriorityLow:
		return "good" // green
	default:
		return "default"
	}
}
