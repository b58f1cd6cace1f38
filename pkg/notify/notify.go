// Package notify tells the user when a bot session ends, through a desktop
// notification and an optional webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gen2brain/beeep"

	"botpilot/pkg/logx"
	"botpilot/pkg/proto"
)

const (
	appName          = "Botpilot"
	maxMessageLength = 800
)

// Config selects the notification channels.
type Config struct {
	WebhookURL string `json:"webhook_url"`
	Desktop    bool   `json:"desktop"`
}

// Enabled reports whether any channel is configured.
func (c Config) Enabled() bool {
	return c.Desktop || c.WebhookURL != ""
}

// Event is one user-facing notification.
type Event struct {
	Timestamp time.Time
	SessionID string
	State     proto.BotState
	Title     string
	Message   string
}

// DesktopFunc shows a desktop notification.
type DesktopFunc func(title, message, icon string) error

// Dispatcher sends notifications to configured channels.
type Dispatcher struct {
	client  *http.Client
	desktop DesktopFunc
	logger  *logx.Logger
	cfg     Config
}

// NewDispatcher creates a Dispatcher for cfg.
func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: 5 * time.Second},
		desktop: func(title, message, icon string) error { return beeep.Notify(title, message, icon) },
		logger:  logx.NewLogger("notify"),
	}
}

// SetDesktopFunc replaces the desktop notifier.
func (d *Dispatcher) SetDesktopFunc(fn DesktopFunc) {
	if fn != nil {
		d.desktop = fn
	}
}

// SessionEnded notifies about a transition into a terminal state. Other
// notifications are ignored.
func (d *Dispatcher) SessionEnded(ctx context.Context, n proto.StateChangeNotification) {
	if !n.ToState.IsTerminal() || !d.cfg.Enabled() {
		return
	}
	d.Dispatch(ctx, EventFromNotification(n))
}

// EventFromNotification describes a terminal notification for the user.
func EventFromNotification(n proto.StateChangeNotification) Event {
	ev := Event{
		Timestamp: n.Timestamp,
		SessionID: n.SessionID,
		State:     n.ToState,
	}
	summary := fmt.Sprintf("Found %d jobs, applied to %d, %d failed, %d credits used.",
		n.SessionStats.JobsFound, n.SessionStats.JobsApplied, n.SessionStats.JobsFailed, n.SessionStats.CreditsUsed)

	switch n.ToState {
	case proto.StateCompleted:
		ev.Title = "Bot finished"
		ev.Message = summary
	case proto.StateFailed:
		ev.Title = "Bot failed"
		ev.Message = n.ErrorMessage
		if ev.Message == "" {
			ev.Message = summary
		}
	default:
		ev.Title = "Bot stopped"
		ev.Message = summary
		if n.Reason != "" {
			ev.Message = fmt.Sprintf("%s (%s)", summary, n.Reason)
		}
	}
	return ev
}

// Dispatch sends ev on every configured channel. Failures are logged, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	title := strings.TrimSpace(ev.Title)
	if title == "" {
		title = appName
	}
	message := strings.TrimSpace(ev.Message)
	if message == "" {
		message = string(ev.State)
	}
	if len(message) > maxMessageLength {
		message = message[:maxMessageLength] + "..."
	}

	if d.cfg.Desktop {
		if err := d.desktop(title, message, ""); err != nil {
			d.logger.Warn("Desktop notification failed: %v", err)
		}
	}
	if d.cfg.WebhookURL != "" {
		if err := d.postWebhook(ctx, ev, title, message); err != nil {
			d.logger.Warn("Webhook notification failed: %v", err)
		}
	}
}

func (d *Dispatcher) postWebhook(ctx context.Context, ev Event, title, message string) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	body, err := json.Marshal(map[string]any{
		"session_id": ev.SessionID,
		"state":      ev.State,
		"title":      title,
		"message":    message,
		"timestamp":  ts.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
