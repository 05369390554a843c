package supervisor

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"
)

// maxNotifiedCommits caps how many commit subjects a notification lists.
const maxNotifiedCommits = 10

// Notifier posts deploy lifecycle messages to a Slack-style webhook. All
// methods are nil-safe no-ops and never fail the caller.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

// NewNotifier creates a webhook notifier, or nil when no URL is set.
func NewNotifier(webhookURL string) *Notifier {
	if webhookURL == "" {
		return nil
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default().With("component", "deploy-notifier"),
	}
}

// ChangeDetected announces pending commits, bounded to the first ten.
func (n *Notifier) ChangeDetected(commits []string) {
	if n == nil {
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔄 Upstream change detected (%d commits)", len(commits))
	shown := commits
	if len(shown) > maxNotifiedCommits {
		shown = shown[:maxNotifiedCommits]
	}
	for _, c := range shown {
		sb.WriteString("\n• ")
		sb.WriteString(c)
	}
	if len(commits) > maxNotifiedCommits {
		fmt.Fprintf(&sb, "\n…and %d more", len(commits)-maxNotifiedCommits)
	}
	n.post(sb.String())
}

// WaitingSessions announces that a deploy is parked behind live agents.
func (n *Notifier) WaitingSessions(count int) {
	if n == nil {
		return
	}
	n.post(fmt.Sprintf("⏳ Deploy waiting: %d agent session(s) still active", count))
}

// DeployStarted announces the beginning of a deploy.
func (n *Notifier) DeployStarted() {
	if n == nil {
		return
	}
	n.post("🚀 Deploy started")
}

// DeploySucceeded announces a successful deploy.
func (n *Notifier) DeploySucceeded() {
	if n == nil {
		return
	}
	n.post("✅ Deploy succeeded")
}

// DeployFailed announces a failed deploy.
func (n *Notifier) DeployFailed(err error) {
	if n == nil {
		return
	}
	n.post("❌ Deploy failed: " + err.Error())
}

func (n *Notifier) post(text string) {
	msg := &goslack.WebhookMessage{Text: text}
	if err := goslack.PostWebhookCustomHTTP(n.webhookURL, n.client, msg); err != nil {
		n.logger.Warn("Webhook post failed", "error", err)
	}
}
