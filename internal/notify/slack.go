package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/zgpcy/cloud-cost-monitor/internal/config"
	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
	"github.com/zgpcy/cloud-cost-monitor/internal/version"
)

// SlackNotifier sends alerts to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

// NewSlackNotifier creates a Slack webhook notifier
func NewSlackNotifier(cfg config.SlackConfig) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		username:   cfg.Username,
		client:     newHTTPClient(),
	}
}

// Name returns the notifier identifier
func (s *SlackNotifier) Name() string { return "slack" }

// Send posts the alert as a colored attachment
func (s *SlackNotifier) Send(ctx context.Context, alert monitor.Alert) error {
	color := "#ff9900" // orange
	if alert.Level == monitor.LevelCritical {
		color = "#ff0000" // red
	}
	if alert.Resolved {
		color = "#36a64f" // green
	}

	payload := slackPayload{
		Channel:  s.channel,
		Username: s.username,
		Attachments: []slackAttachment{
			{
				Color: color,
				Title: fmt.Sprintf("Cloud cost %s: %s", alert.Level, providerLabel(alert.Provider)),
				Text:  alert.Message,
				Fields: []slackField{
					{Title: "Provider", Value: providerLabel(alert.Provider), Short: true},
					{Title: "Date", Value: alert.AsOfDate, Short: true},
					{Title: "Current Cost", Value: fmt.Sprintf("%.2f %s", alert.CurrentValue, alert.Currency), Short: true},
					{Title: "Threshold", Value: fmt.Sprintf("%.2f %s", alert.ThresholdValue, alert.Currency), Short: true},
				},
				Footer: "Cloud Cost Monitor",
				Ts:     alert.Timestamp.Unix(),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	return post(s.client, req, "slack")
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
