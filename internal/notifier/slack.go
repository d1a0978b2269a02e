package notifier

import (
	"fmt"
	"sort"
	"strings"
)

// slackMessage represents the Slack webhook payload.
type slackMessage struct {
	Channel  string       `json:"channel,omitempty"`
	Username string       `json:"username,omitempty"`
	Text     string       `json:"text"`
	Blocks   []slackBlock `json:"blocks"`
}

// slackBlock represents a Slack Block Kit block.
type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

// slackText represents text in Slack Block Kit.
type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// buildSlackPayload builds the Slack Block Kit message payload.
func buildSlackPayload(msg *Message) slackMessage {
	emoji := priorityEmoji(msg.Priority)
	timestamp := msg.Timestamp.Format("2006-01-02 15:04:05 MST")

	blocks := []slackBlock{
		// Header
		{
			Type: "header",
			Text: &slackText{
				Type:  "plain_text",
				Text:  truncate(fmt.Sprintf("%s %s", emoji, msg.Subject), 150),
				Emoji: true,
			},
		},
		// Priority and Time fields
		{
			Type: "section",
			Fields: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Priority:*\n%s %s", emoji, strings.ToUpper(string(msg.Priority))),
				},
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Time:*\n%s", timestamp),
				},
			},
		},
		// Message
		{
			Type: "section",
			Text: &slackText{
				Type: "mrkdwn",
				Text: truncate(msg.Body, 3000),
			},
		},
	}

	if msg.AlertID != "" {
		blocks = append(blocks, slackBlock{
			Type: "context",
			Elements: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("Alert `%s`", msg.AlertID),
				},
			},
		})
	}

	if tags := metadataTags(msg.Metadata, "`%s=%v`"); len(tags) > 0 {
		blocks = append(blocks, slackBlock{
			Type: "context",
			Elements: []slackText{
				{
					Type: "mrkdwn",
					Text: truncate(strings.Join(tags, " "), 2000),
				},
			},
		})
	}

	return slackMessage{Text: msg.Subject, Blocks: blocks}
}

// metadataTags formats scalar metadata values sorted by key.
func metadataTags(meta map[string]any, format string) []string {
	keys := make([]string, 0, len(meta))
	for k, v := range meta {
		switch v.(type) {
		case string, bool, int, int64, float64:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	tags := make([]string, len(keys))
	for i, k := range keys {
		tags[i] = fmt.Sprintf(format, k, meta[k])
	}
	return tags
}
