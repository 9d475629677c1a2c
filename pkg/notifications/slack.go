// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package notifications provides alerting capabilities via various channels.
//
// This package implements notification delivery for backend connection
// failure and backend recovery, which the WriterPool reports through
// SendAlert, and for the daemon's fatal-exit alert. A cache-capacity
// warning helper exists as well; nothing in the daemon sends it, since the
// daemon keeps no local cache. Notifications help
// operators respond to an outage before the gap it leaves grows large
// enough to exceed the daemon's backlog window.
//
// # Notification Channels
//
// Currently supported:
//   - Slack: Webhook-based notifications with formatted attachments
//
// # Slack Integration
//
// Slack notifications use Incoming Webhooks for message delivery. The
// webhook URL is configured via SLACK_WEBHOOK_URL or config.yaml's
// notifications.slack_webhook_url.
//
// # Alert Severity Levels
//
//   - danger/error: Red - a backend is unreachable
//   - warning/warn: Yellow - degraded but not fatal (cache nearing capacity)
//   - good/success: Green - a previously failing backend has recovered
//
// # Error Handling
//
// Notification failures are logged by the caller but never block the
// collection cycle: a Slack outage must not become a data-collection
// outage.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bolausson/SensorPush/pkg/logger"
)

// SlackNotifier sends notifications to Slack via webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	enabled    bool
}

// SlackMessage represents a Slack webhook message payload.
type SlackMessage struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment represents a Slack attachment.
type Attachment struct {
	Color  string `json:"color,omitempty"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text,omitempty"`
	Footer string `json:"footer,omitempty"`
	Ts     int64  `json:"ts,omitempty"`
}

// NewSlackNotifier creates a new Slack notifier. An empty webhookURL
// disables the notifier: every send becomes a silent no-op.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		enabled:    webhookURL != "",
	}
}

// IsEnabled returns whether Slack notifications are enabled.
func (s *SlackNotifier) IsEnabled() bool {
	return s.enabled
}

// SendMessage sends a simple text message to Slack.
func (s *SlackNotifier) SendMessage(ctx context.Context, message string) error {
	if !s.enabled {
		logger.Debug().Msg("slack notifications disabled, skipping message")
		return nil
	}
	return s.sendPayload(ctx, SlackMessage{Text: message})
}

// SendAlert sends a formatted alert to Slack.
func (s *SlackNotifier) SendAlert(ctx context.Context, severity, title, message string) error {
	if !s.enabled {
		logger.Debug().Msg("slack notifications disabled, skipping alert")
		return nil
	}

	payload := SlackMessage{
		Attachments: []Attachment{{
			Color:  s.severityToColor(severity),
			Title:  title,
			Text:   message,
			Footer: "SensorPush collection daemon",
			Ts:     time.Now().Unix(),
		}},
	}
	return s.sendPayload(ctx, payload)
}

// SendBackendFailure alerts that a backend writer could not be reached.
func (s *SlackNotifier) SendBackendFailure(ctx context.Context, backend string, err error) error {
	return s.SendAlert(ctx, "danger", "Backend connection failure",
		fmt.Sprintf("Backend %q is unreachable: %v\nSamples will not be written to it until it recovers.", backend, err))
}

// SendBackendRecovery alerts that a previously failing backend has
// reconnected.
func (s *SlackNotifier) SendBackendRecovery(ctx context.Context, backend string) error {
	return s.SendAlert(ctx, "good", "Backend connection restored",
		fmt.Sprintf("Backend %q is reachable again.", backend))
}

// SendCacheWarning alerts that a cache of cacheSize bytes is nearing its
// maxSize capacity. No component of the daemon calls it.
func (s *SlackNotifier) SendCacheWarning(ctx context.Context, cacheSize, maxSize int64) error {
	percentage := float64(cacheSize) / float64(maxSize) * 100
	return s.SendAlert(ctx, "warning", "Diagnostic spool usage high",
		fmt.Sprintf("Spool size: %d bytes (%.1f%% of max %d bytes).", cacheSize, percentage, maxSize))
}

func (s *SlackNotifier) sendPayload(ctx context.Context, payload SlackMessage) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	if len(payload.Attachments) > 0 {
		logger.Debug().Str("title", payload.Attachments[0].Title).Msg("slack notification sent")
	} else {
		logger.Debug().Str("text", payload.Text).Msg("slack notification sent")
	}
	return nil
}

// severityToColor maps severity levels to Slack attachment colors.
func (s *SlackNotifier) severityToColor(severity string) string {
	switch severity {
	case "danger", "error":
		return "danger"
	case "warning", "warn":
		return "warning"
	case "good", "success":
		return "good"
	default:
		return "#808080"
	}
}
