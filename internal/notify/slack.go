// Package notify sends pipeline summaries and alerts to Slack. Without
// a webhook URL every call is a no-op.
package notify

import (
	"context"
	"fmt"
	"strings"

	goslack "github.com/slack-go/slack"

	"github.com/stadspuls/eventpipe/internal/logger"
)

// Attachment colors per Slack convention.
const (
	colorGood   = "good"
	colorDanger = "danger"
)

const maxFailureLines = 10

// RunSummary is what the coordinator and worker report after a tick.
type RunSummary struct {
	Component  string // "coordinator" or "worker"
	Processed  int
	Completed  int
	Failed     int
	Scraped    int
	Inserted   int
	Duplicates int
	Failures   []string // "source: error" lines
}

// Notifier posts to a Slack incoming webhook.
type Notifier struct {
	webhookURL string
	logger     logger.Interface
	post       func(ctx context.Context, url string, msg *goslack.WebhookMessage) error
}

// New creates a notifier. An empty webhook URL disables posting.
func New(webhookURL string, log logger.Interface) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		logger:     log,
		post:       goslack.PostWebhookContext,
	}
}

// Enabled reports whether a webhook is configured.
func (n *Notifier) Enabled() bool { return n.webhookURL != "" }

// RunCompleted posts a run summary: green when everything succeeded,
// red when anything failed.
func (n *Notifier) RunCompleted(ctx context.Context, summary RunSummary) error {
	if !n.Enabled() {
		return nil
	}

	color := colorGood
	if summary.Failed > 0 {
		color = colorDanger
	}

	text := fmt.Sprintf("*%s run*: %d processed, %d completed, %d failed\n"+
		"events: %d scraped, %d inserted, %d duplicates",
		summary.Component, summary.Processed, summary.Completed, summary.Failed,
		summary.Scraped, summary.Inserted, summary.Duplicates)

	if len(summary.Failures) > 0 {
		lines := summary.Failures
		if len(lines) > maxFailureLines {
			lines = append(lines[:maxFailureLines:maxFailureLines],
				fmt.Sprintf("... and %d more", len(summary.Failures)-maxFailureLines))
		}
		text += "\n*failures:*\n" + strings.Join(lines, "\n")
	}

	return n.send(ctx, &goslack.WebhookMessage{
		Attachments: []goslack.Attachment{{Color: color, Text: text}},
	})
}

// Alert posts a red alert line, used for DLQ depth and systemic errors.
func (n *Notifier) Alert(ctx context.Context, title, detail string) error {
	if !n.Enabled() {
		return nil
	}
	return n.send(ctx, &goslack.WebhookMessage{
		Attachments: []goslack.Attachment{{
			Color: colorDanger,
			Text:  fmt.Sprintf(":rotating_light: *%s*\n%s", title, detail),
		}},
	})
}

// Info posts a plain informational line.
func (n *Notifier) Info(ctx context.Context, text string) error {
	if !n.Enabled() {
		return nil
	}
	return n.send(ctx, &goslack.WebhookMessage{Text: text})
}

func (n *Notifier) send(ctx context.Context, msg *goslack.WebhookMessage) error {
	if err := n.post(ctx, n.webhookURL, msg); err != nil {
		// Notification failure must never fail the run.
		n.logger.Warn("slack post failed", "error", err)
		return fmt.Errorf("failed to post to slack: %w", err)
	}
	return nil
}
