// Package webhook implements the notifier port by POSTing JSON to a
// configured endpoint of the strategic orchestrator.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tacticore/tacticore/internal/port/notifier"
	"github.com/tacticore/tacticore/internal/resilience"
)

// Notifier delivers notifications over HTTP with a bounded timeout and
// a single retry. An empty URL yields a no-op notifier so callers never
// need to branch on configuration.
type Notifier struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// New creates a webhook notifier. url may be empty (delivery disabled).
func New(url string, timeout time.Duration) *Notifier {
	return &Notifier{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Notify POSTs the notification as JSON. Failures after the retry are
// logged and returned; the engine never blocks on upstream delivery.
func (n *Notifier) Notify(ctx context.Context, note notifier.Notification) error {
	if n.url == "" {
		slog.Debug("webhook not configured, dropping notification", "objective_id", note.ObjectiveID)
		return nil
	}

	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = resilience.Retry(ctx, n.timeout, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		slog.Error("webhook delivery failed", "objective_id", note.ObjectiveID, "error", err)
		return fmt.Errorf("notify %s: %w", note.ObjectiveID, err)
	}

	slog.Info("notification delivered", "objective_id", note.ObjectiveID, "status", note.Status)
	return nil
}
