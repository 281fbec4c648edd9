// Package alert notifies operators about conditions that stop message
// processing.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/KafClaw/wsagent/internal/config"
	"github.com/slack-go/slack"
)

// Severity levels.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is one operator notification.
type Alert struct {
	Severity string
	Title    string
	Detail   string
	StoreID  string
}

// Text renders the alert as a single chat message.
func (a Alert) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(a.Severity), a.Title)
	if a.StoreID != "" {
		fmt.Fprintf(&b, " (store %s)", a.StoreID)
	}
	if a.Detail != "" {
		b.WriteString("\n")
		b.WriteString(a.Detail)
	}
	return b.String()
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Noop drops alerts after logging them.
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(_ context.Context, a Alert) error {
	slog.Debug("Alert not delivered: no notifier configured", "title", a.Title, "severity", a.Severity)
	return nil
}

// SlackNotifier posts alerts to a Slack channel.
type SlackNotifier struct {
	api     *slack.Client
	channel string
}

// NewSlackNotifier creates a notifier for channel. apiURL overrides the Slack
// API base and may be empty.
func NewSlackNotifier(token, channel, apiURL string) (*SlackNotifier, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("missing slack token")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, errors.New("missing slack channel")
	}
	base := strings.TrimSpace(apiURL)
	if base == "" {
		base = "https://slack.com/api"
	}
	base = strings.TrimRight(base, "/") + "/"
	client := &http.Client{Timeout: 10 * time.Second}
	return &SlackNotifier{
		api:     slack.New(token, slack.OptionHTTPClient(client), slack.OptionAPIURL(base)),
		channel: channel,
	}, nil
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, a Alert) error {
	_, _, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionText(a.Text(), false))
	if err != nil {
		return fmt.Errorf("slack alert: %w", err)
	}
	return nil
}

// FromConfig returns a Slack notifier when alerts are configured and Noop
// otherwise.
func FromConfig(cfg config.AlertsConfig) Notifier {
	if !cfg.Enabled() {
		return Noop{}
	}
	n, err := NewSlackNotifier(cfg.SlackToken, cfg.SlackChannel, cfg.SlackAPIURL)
	if err != nil {
		slog.Warn("Slack alerts disabled", "error", err)
		return Noop{}
	}
	return n
}
