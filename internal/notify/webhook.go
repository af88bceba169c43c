package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/zgpcy/cloud-cost-monitor/internal/config"
	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
	"github.com/zgpcy/cloud-cost-monitor/internal/version"
)

// SignatureHeader carries the HMAC-SHA256 of the request body
const SignatureHeader = "X-Signature-256"

// WebhookNotifier sends alerts to a generic HTTP webhook
type WebhookNotifier struct {
	url     string
	secret  string
	headers map[string]string
	client  *http.Client
}

// NewWebhookNotifier creates a generic webhook notifier.
// If a secret is configured, requests are signed with HMAC-SHA256.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		secret:  cfg.Secret,
		headers: cfg.Headers,
		client:  newHTTPClient(),
	}
}

// Name returns the notifier identifier
func (w *WebhookNotifier) Name() string { return "webhook" }

// Send posts the alert wrapped in an event envelope
func (w *WebhookNotifier) Send(ctx context.Context, alert monitor.Alert) error {
	event := "cost_threshold_alert"
	if alert.Resolved {
		event = "cost_threshold_resolved"
	}

	payload := webhookPayload{
		Event:      event,
		DeliveryID: uuid.NewString(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Alert:      alert,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	if w.secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(body, []byte(w.secret)))
	}

	return post(w.client, req, "webhook")
}

type webhookPayload struct {
	Event      string        `json:"event"`
	DeliveryID string        `json:"delivery_id"`
	Timestamp  string        `json:"timestamp"`
	Alert      monitor.Alert `json:"alert"`
}

// Sign returns the hex HMAC-SHA256 of message
func Sign(message, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}
