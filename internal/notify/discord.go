package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// severityInts maps event severity to Discord embed colors.
var severityInts = map[string]int{
	"success": 0x36a64f,
	"warning": 0xf2c744,
	"error":   0xd72b3f,
}

// discordSender abstracts the discordgo method we use, enabling test mocks.
type discordSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts run events to a Discord channel.
type Discord struct {
	session   discordSender
	channelID string
}

// NewDiscord builds a Discord notifier from a bot token and channel ID.
func NewDiscord(token, channelID string) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("notify: discord session: %w", err)
	}
	return &Discord{session: session, channelID: channelID}, nil
}

// RunCompleted implements Notifier.
func (d *Discord) RunCompleted(_ context.Context, ev Event) error {
	embed := &discordgo.MessageEmbed{
		Title: ev.Headline(),
		Color: severityInts[ev.Severity()],
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Uploaded", Value: fmt.Sprintf("%d", ev.Uploaded), Inline: true},
			{Name: "Failed", Value: fmt.Sprintf("%d", ev.Failed), Inline: true},
			{Name: "Skipped", Value: fmt.Sprintf("%d", ev.Skipped), Inline: true},
		},
	}
	if len(ev.Errors) > 0 {
		text := ev.Errors
		if len(text) > 10 {
			text = text[:10]
		}
		embed.Description = strings.Join(text, "\n")
	}

	if _, err := d.session.ChannelMessageSendEmbed(d.channelID, embed); err != nil {
		return fmt.Errorf("notify: discord post: %w", err)
	}
	return nil
}
