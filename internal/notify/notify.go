// Package notify delivers run-completion events to chat platforms
// (Slack, Discord). Delivery is best effort: a notification failure never
// fails the run that produced it.
package notify

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/oldmantran/backlogsmith/internal/config"
)

// Event summarizes a completed pipeline run.
type Event struct {
	JobID    string
	Title    string
	Staged   int
	Uploaded int
	Failed   int
	Skipped  int
	Errors   []string
	Duration time.Duration
}

// Headline renders the one-line event summary shared by all platforms.
func (e Event) Headline() string {
	return fmt.Sprintf("Backlog run %s (%s): %d staged, %d uploaded, %d failed, %d skipped in %s",
		e.JobID, e.Title, e.Staged, e.Uploaded, e.Failed, e.Skipped, e.Duration.Round(time.Second))
}

// Severity classifies the event for display color hints.
func (e Event) Severity() string {
	switch {
	case e.Failed > 0:
		return "error"
	case e.Skipped > 0 || len(e.Errors) > 0:
		return "warning"
	default:
		return "success"
	}
}

// Notifier delivers run events to one platform.
type Notifier interface {
	RunCompleted(ctx context.Context, ev Event) error
}

// Multi fans an event out to several notifiers, collecting errors rather
// than stopping at the first failure.
type Multi []Notifier

// RunCompleted implements Notifier.
func (m Multi) RunCompleted(ctx context.Context, ev Event) error {
	var firstErr error
	for _, n := range m {
		if err := n.RunCompleted(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FromConfig builds a notifier from configuration. Platforms without a
// token in the environment are silently omitted; returns nil when nothing
// is configured.
func FromConfig(cfg config.NotifyConfig) Notifier {
	var ns Multi
	if cfg.Slack.Channel != "" {
		if token := os.Getenv(cfg.Slack.TokenEnv); token != "" {
			ns = append(ns, NewSlack(token, cfg.Slack.Channel))
		}
	}
	if cfg.Discord.ChannelID != "" {
		if token := os.Getenv(cfg.Discord.TokenEnv); token != "" {
			d, err := NewDiscord(token, cfg.Discord.ChannelID)
			if err != nil {
				log.Printf("notify: discord disabled: %v", err)
			} else {
				ns = append(ns, d)
			}
		}
	}
	if len(ns) == 0 {
		return nil
	}
	return ns
}
