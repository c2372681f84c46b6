package notify

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/oldmantran/backlogsmith/internal/config"
	slackapi "github.com/slack-go/slack"
)

func TestEvent_Severity(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"clean run", Event{Uploaded: 10}, "success"},
		{"failures", Event{Uploaded: 8, Failed: 2}, "error"},
		{"skips only", Event{Uploaded: 8, Skipped: 2}, "warning"},
		{"errors without failures", Event{Uploaded: 8, Errors: []string{"x"}}, "warning"},
		{"failed wins over skipped", Event{Failed: 1, Skipped: 5}, "error"},
	}
	for _, tt := range tests {
		if got := tt.ev.Severity(); got != tt.want {
			t.Errorf("%s: Severity() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestEvent_Headline(t *testing.T) {
	ev := Event{
		JobID:    "job-1",
		Title:    "Shop",
		Staged:   14,
		Uploaded: 12,
		Failed:   1,
		Skipped:  1,
		Duration: 90*time.Second + 300*time.Millisecond,
	}
	got := ev.Headline()
	for _, want := range []string{"job-1", "Shop", "14 staged", "12 uploaded", "1 failed", "1 skipped", "1m30s"} {
		if !strings.Contains(got, want) {
			t.Errorf("Headline() = %q, missing %q", got, want)
		}
	}
}

type fakePoster struct {
	channel string
	opts    []slackapi.MsgOption
	err     error
	calls   int
}

func (f *fakePoster) PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	f.calls++
	f.channel = channelID
	f.opts = options
	return "", "", f.err
}

func TestSlack_RunCompleted(t *testing.T) {
	poster := &fakePoster{}
	s := &Slack{client: poster, channel: "C123"}

	err := s.RunCompleted(context.Background(), Event{JobID: "job-1", Uploaded: 5})
	if err != nil {
		t.Fatalf("RunCompleted: %v", err)
	}
	if poster.channel != "C123" {
		t.Errorf("channel = %q, want C123", poster.channel)
	}
	if len(poster.opts) != 1 {
		t.Errorf("posted %d options, want 1 attachment option", len(poster.opts))
	}
}

func TestSlack_RunCompleted_Error(t *testing.T) {
	s := &Slack{client: &fakePoster{err: fmt.Errorf("channel_not_found")}, channel: "C123"}
	err := s.RunCompleted(context.Background(), Event{})
	if err == nil || !strings.Contains(err.Error(), "slack post") {
		t.Fatalf("error = %v, want wrapped slack error", err)
	}
}

type fakeSender struct {
	channelID string
	embed     *discordgo.MessageEmbed
	err       error
}

func (f *fakeSender) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channelID = channelID
	f.embed = embed
	return nil, f.err
}

func TestNewDiscord(t *testing.T) {
	d, err := NewDiscord("bot-token", "987")
	if err != nil {
		t.Fatalf("NewDiscord: %v", err)
	}
	if d.session == nil {
		t.Fatal("notifier built without a session")
	}
	if d.channelID != "987" {
		t.Errorf("channel = %q, want 987", d.channelID)
	}
}

func TestDiscord_RunCompleted(t *testing.T) {
	sender := &fakeSender{}
	d := &Discord{session: sender, channelID: "987"}

	errs := make([]string, 15)
	for i := range errs {
		errs[i] = fmt.Sprintf("error %d", i)
	}
	err := d.RunCompleted(context.Background(), Event{JobID: "job-1", Failed: 2, Errors: errs})
	if err != nil {
		t.Fatalf("RunCompleted: %v", err)
	}
	if sender.channelID != "987" {
		t.Errorf("channel = %q, want 987", sender.channelID)
	}
	if sender.embed.Color != severityInts["error"] {
		t.Errorf("color = %#x, want error color", sender.embed.Color)
	}
	// Long error lists are capped at 10 lines.
	if got := strings.Count(sender.embed.Description, "\n"); got != 9 {
		t.Errorf("description has %d newlines, want 9 (10 lines)", got)
	}
}

type recordingNotifier struct {
	calls int
	err   error
}

func (r *recordingNotifier) RunCompleted(ctx context.Context, ev Event) error {
	r.calls++
	return r.err
}

func TestMulti_FansOutAndCollectsFirstError(t *testing.T) {
	a := &recordingNotifier{err: fmt.Errorf("a failed")}
	b := &recordingNotifier{}
	err := Multi{a, b}.RunCompleted(context.Background(), Event{})
	if err == nil || !strings.Contains(err.Error(), "a failed") {
		t.Errorf("error = %v, want first failure", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("calls = %d/%d, want both notifiers invoked", a.calls, b.calls)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.NotifyConfig{
		Slack:   config.SlackConfig{TokenEnv: "BSM_TEST_SLACK", Channel: "C1"},
		Discord: config.DiscordConfig{TokenEnv: "BSM_TEST_DISCORD", ChannelID: "D1"},
	}

	// No tokens in the environment: nothing configured.
	t.Setenv("BSM_TEST_SLACK", "")
	t.Setenv("BSM_TEST_DISCORD", "")
	if n := FromConfig(cfg); n != nil {
		t.Errorf("FromConfig = %v, want nil without tokens", n)
	}

	t.Setenv("BSM_TEST_SLACK", "xoxb-test")
	n := FromConfig(cfg)
	multi, ok := n.(Multi)
	if !ok || len(multi) != 1 {
		t.Fatalf("FromConfig = %T %v, want Multi with 1 notifier", n, n)
	}

	t.Setenv("BSM_TEST_DISCORD", "bot-test")
	multi = FromConfig(cfg).(Multi)
	if len(multi) != 2 {
		t.Errorf("FromConfig has %d notifiers, want 2", len(multi))
	}
}
