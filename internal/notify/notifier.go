// Package notify delivers operator notifications about upload outcomes
package notify

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/curtbushko/zoom-watchman/internal/config"
	"github.com/curtbushko/zoom-watchman/internal/logging"
)

const userAgent = "zoom-watchman/1.0"

// Status classifies a notification
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFail    Status = "FAIL"
	StatusRetry   Status = "RETRY"
)

// Message is one notification about a meeting
type Message struct {
	Status  Status
	Topic   string
	Brand   string
	Details string
}

// Subject renders the one-line subject for the message
func (m Message) Subject() string {
	switch m.Status {
	case StatusSuccess:
		return "✅ Upload Success: " + m.Topic
	case StatusFail:
		return "❌ Upload Failed: " + m.Topic
	case StatusRetry:
		return "⚠️ Upload Issue: Retrying " + m.Topic
	default:
		return m.Topic
	}
}

// Body renders the message text. retryInterval is quoted in RETRY messages.
func (m Message) Body(retryInterval time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Video: %s\nBrand: %s\n\n", m.Topic, m.Brand)

	switch m.Status {
	case StatusSuccess:
		fmt.Fprintf(&b, "-- LINKS --\n%s", m.Details)
	case StatusFail:
		fmt.Fprintf(&b, "Failed to find brand in ClickUp.\nReason: %s", m.Details)
	case StatusRetry:
		b.WriteString("Some artifacts were corrupted or did not finish downloading.\n\n")
		fmt.Fprintf(&b, "ACTION: The next attempt runs in %d minutes.\n\n", int(retryInterval.Minutes()))
		fmt.Fprintf(&b, "DETAILS:\n%s", m.Details)
	default:
		b.WriteString(m.Details)
	}
	return b.String()
}

// Notifier sends messages. Implementations never block the caller on delivery problems
// for longer than their request timeout.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Doer is satisfied by *http.Client and the retrying client
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// New builds the configured notifier backend
func New(cfg config.NotifyConfig, retryInterval time.Duration, client Doer) Notifier {
	switch cfg.Backend {
	case "ntfy":
		if strings.TrimSpace(cfg.NtfyURL) == "" {
			return LogNotifier{RetryInterval: retryInterval}
		}
		if client == nil {
			client = &http.Client{Timeout: 10 * time.Second}
		}
		return &NtfyNotifier{
			endpoint:      strings.TrimSpace(cfg.NtfyURL),
			token:         cfg.NtfyToken,
			priority:      cfg.Priority,
			retryInterval: retryInterval,
			client:        client,
		}
	case "none":
		return NoopNotifier{}
	default:
		return LogNotifier{RetryInterval: retryInterval}
	}
}

// NtfyNotifier publishes to an ntfy topic URL
type NtfyNotifier struct {
	endpoint      string
	token         string
	priority      string
	retryInterval time.Duration
	client        Doer
}

// Notify posts the message body with title, tags and priority headers
func (n *NtfyNotifier) Notify(ctx context.Context, msg Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.Body(n.retryInterval)))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", mime.BEncoding.Encode("utf-8", msg.Subject()))
	req.Header.Set("Tags", strings.Join(tagsFor(msg.Status), ","))
	if priority := n.priorityFor(msg.Status); priority != "" && priority != "default" {
		req.Header.Set("Priority", priority)
	}
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	logging.Debug("Notification sent: %s", msg.Subject())
	return nil
}

// priorityFor raises failures above the configured default
func (n *NtfyNotifier) priorityFor(status Status) string {
	if status == StatusFail {
		return "high"
	}
	return n.priority
}

func tagsFor(status Status) []string {
	switch status {
	case StatusSuccess:
		return []string{"white_check_mark", "zoom", "upload"}
	case StatusFail:
		return []string{"x", "zoom", "brand"}
	case StatusRetry:
		return []string{"warning", "zoom", "retry"}
	default:
		return []string{"zoom"}
	}
}

// LogNotifier writes notifications to the log
type LogNotifier struct {
	RetryInterval time.Duration
}

// Notify logs the subject and body
func (l LogNotifier) Notify(ctx context.Context, msg Message) error {
	body := strings.ReplaceAll(msg.Body(l.RetryInterval), "\n", " | ")
	if msg.Status == StatusSuccess {
		logging.InfoWithContext(ctx, "%s: %s", msg.Subject(), body)
	} else {
		logging.WarnWithContext(ctx, "%s: %s", msg.Subject(), body)
	}
	return nil
}

// NoopNotifier drops every message
type NoopNotifier struct{}

// Notify does nothing
func (NoopNotifier) Notify(context.Context, Message) error { return nil }
