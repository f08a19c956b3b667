// Package notify derives the pending-count badge and hands notify-sets
// to the outward notification channel, rate-limiting bursts.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vigiapainel/vigia/pkg/models"
)

// Notification is one outward system-level notification covering a
// notify-set.
type Notification struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Message      string        `json:"message"`
	Tasks        []models.Task `json:"tasks"`
	PendingCount int           `json:"pendingCount"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Notifier delivers a notification to the external notification/UI
// layer. The engine is done once delivery is handed off; delivery
// failures are retried by the dispatcher's bounded retry wrapper and
// then only logged.
type Notifier interface {
	Notify(n Notification) error
}

// webhookNotifier posts notifications as JSON to a webhook URL.
type webhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a Notifier that posts to the given URL.
func NewWebhookNotifier(url string) Notifier {
	return &webhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *webhookNotifier) Notify(n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("posting to webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
