// Package discord delivers notification intents to a Discord channel.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/verdant/sluice/internal/notify"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier implements notify.Notifier for Discord via the REST API.
type Notifier struct {
	sess      session
	channelID string
}

// Opts holds parameters for creating a Discord Notifier.
type Opts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel ID is required")
	}
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}

	n := &Notifier{channelID: opts.ChannelID, sess: opts.Session}
	if n.sess == nil {
		s, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		n.sess = s
	}
	return n, nil
}

// Send posts the intent as an embed with a severity color.
func (n *Notifier) Send(ctx context.Context, intent notify.Intent) error {
	embed := &discordgo.MessageEmbed{
		Title:       intent.Title,
		Description: intent.Body,
		Color:       severityColor(intent.Severity),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Unit", Value: intent.UnitID, Inline: true},
			{Name: "Kind", Value: intent.Kind, Inline: true},
		},
	}
	if _, err := n.sess.ChannelMessageSendEmbed(n.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send embed: %w", err)
	}
	return nil
}

// severityColor maps intent severity to a Discord embed color.
func severityColor(severity string) int {
	switch severity {
	case "error":
		return 0xd62728
	case "warning":
		return 0xff7f0e
	default:
		return 0x36a64f
	}
}
