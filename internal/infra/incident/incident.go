package incident

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Notifier raises an incident for human follow-up. Invoked on terminal
// failures and retry exhaustion, e.g. so someone can refresh expired cookies.
type Notifier interface {
	Create(ctx context.Context, summary string, details map[string]string) error
}

// Config holds incident escalation configuration.
type Config struct {
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookNotifier posts incidents to an HTTP webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewWebhookNotifier creates a webhook-backed incident notifier.
func NewWebhookNotifier(cfg Config, log *slog.Logger) *WebhookNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookNotifier{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

type incidentPayload struct {
	ID        string            `json:"id"`
	Summary   string            `json:"summary"`
	Details   map[string]string `json:"details"`
	CreatedAt time.Time         `json:"created_at"`
}

// Create posts one incident to the webhook.
func (n *WebhookNotifier) Create(ctx context.Context, summary string, details map[string]string) error {
	payload := incidentPayload{
		ID:        uuid.NewString(),
		Summary:   summary,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal incident: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build incident request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post incident: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("incident webhook returned status %d", resp.StatusCode)
	}

	n.log.Info("incident created", "incident_id", payload.ID, "summary", summary)
	return nil
}

// NoopNotifier drops incidents. Used when no webhook is configured; terminal
// failures still land in logs and metrics.
type NoopNotifier struct{}

func (NoopNotifier) Create(ctx context.Context, summary string, details map[string]string) error {
	return nil
}
