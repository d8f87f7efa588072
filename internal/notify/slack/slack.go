// Package slack delivers notification intents to a Slack channel.
package slack

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
	"github.com/verdant/sluice/internal/notify"
)

// client abstracts the Slack API methods we use, enabling test mocks.
type client interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Notifier implements notify.Notifier for Slack.
type Notifier struct {
	client    client
	channelID string
}

// Opts holds parameters for creating a Slack Notifier.
type Opts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client client
}

// New creates a Slack Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel ID is required")
	}
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}

	n := &Notifier{channelID: opts.ChannelID, client: opts.Client}
	if n.client == nil {
		n.client = slackapi.New(opts.BotToken)
	}
	return n, nil
}

// Send posts the intent as an attachment with a severity color sidebar.
func (n *Notifier) Send(ctx context.Context, intent notify.Intent) error {
	attachment := slackapi.Attachment{
		Title: intent.Title,
		Text:  intent.Body,
		Color: severityColor(intent.Severity),
		Fields: []slackapi.AttachmentField{
			{Title: "Unit", Value: intent.UnitID, Short: true},
			{Title: "Kind", Value: intent.Kind, Short: true},
		},
	}
	_, _, err := n.client.PostMessageContext(ctx, n.channelID,
		slackapi.MsgOptionAttachments(attachment))
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// severityColor maps intent severity to a Slack sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "error":
		return "#d62728"
	case "warning":
		return "#ff7f0e"
	default:
		return "#36a64f"
	}
}
