package notify

import (
	"context"
	"fmt"
	"strings"

	slackapi "github.com/slack-go/slack"
)

// severityColors maps event severity to Slack attachment sidebar colors.
var severityColors = map[string]string{
	"success": "#36a64f",
	"warning": "#f2c744",
	"error":   "#d72b3f",
}

// slackPoster abstracts the Slack API method we use, enabling test mocks.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts run events to a Slack channel.
type Slack struct {
	client  slackPoster
	channel string
}

// NewSlack builds a Slack notifier from a bot token and channel ID.
func NewSlack(token, channel string) *Slack {
	return &Slack{client: slackapi.New(token), channel: channel}
}

// RunCompleted implements Notifier.
func (s *Slack) RunCompleted(ctx context.Context, ev Event) error {
	attachment := slackapi.Attachment{
		Color: severityColors[ev.Severity()],
		Title: ev.Headline(),
		Fields: []slackapi.AttachmentField{
			{Title: "Uploaded", Value: fmt.Sprintf("%d", ev.Uploaded), Short: true},
			{Title: "Failed", Value: fmt.Sprintf("%d", ev.Failed), Short: true},
			{Title: "Skipped", Value: fmt.Sprintf("%d", ev.Skipped), Short: true},
		},
	}
	if len(ev.Errors) > 0 {
		text := ev.Errors
		if len(text) > 10 {
			text = text[:10]
		}
		attachment.Text = strings.Join(text, "\n")
	}

	_, _, err := s.client.PostMessageContext(ctx, s.channel, slackapi.MsgOptionAttachments(attachment))
	if err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	return nil
}
