package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
)

// DefaultSendTimeout bounds a single notifier HTTP call
const DefaultSendTimeout = 10 * time.Second

// Notifier sends alerts to an external system
type Notifier interface {
	// Name returns the notifier identifier
	Name() string

	// Send delivers an alert. Implementations must be safe for concurrent use.
	Send(ctx context.Context, alert monitor.Alert) error
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultSendTimeout}
}

// post sends the request and treats any non-2xx status as failure
func post(client *http.Client, req *http.Request, target string) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s alert: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", target, resp.StatusCode)
	}
	return nil
}

func providerLabel(p string) string {
	if p == monitor.TotalKey {
		return "All providers"
	}
	return p
}
