package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zgpcy/cloud-cost-monitor/internal/config"
	"github.com/zgpcy/cloud-cost-monitor/internal/logger"
	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
)

// DefaultQueueSize is the number of alerts buffered for background delivery
const DefaultQueueSize = 100

// Dispatcher sends every alert to all registered notifiers
type Dispatcher struct {
	notifiers []Notifier
	logger    *logger.Logger

	queue   chan monitor.Alert
	started atomic.Bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given notifiers
func NewDispatcher(log *logger.Logger, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{
		notifiers: notifiers,
		logger:    log,
		queue:     make(chan monitor.Alert, DefaultQueueSize),
	}
}

// FromConfig builds a dispatcher for every configured notification target
func FromConfig(cfg config.NotificationsConfig, log *logger.Logger) *Dispatcher {
	var notifiers []Notifier
	if cfg.Slack.WebhookURL != "" {
		notifiers = append(notifiers, NewSlackNotifier(cfg.Slack))
	}
	if cfg.Webhook.URL != "" {
		notifiers = append(notifiers, NewWebhookNotifier(cfg.Webhook))
	}
	return NewDispatcher(log, notifiers...)
}

// Len returns the number of notifiers
func (d *Dispatcher) Len() int {
	return len(d.notifiers)
}

// Dispatch sends the alert to every notifier and joins their errors.
// A failing notifier does not stop delivery to the others.
func (d *Dispatcher) Dispatch(ctx context.Context, alert monitor.Alert) error {
	var errs []error
	for _, n := range d.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			d.logger.Warn("Failed to send alert notification",
				"notifier", n.Name(),
				"alert_id", alert.ID,
				"error", err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		d.logger.Debug("Alert notification sent", "notifier", n.Name(), "alert_id", alert.ID)
	}
	return errors.Join(errs...)
}

// Handle is an alert callback for monitor.ThresholdMonitor.OnAlert. Once
// Start has been called alerts are queued for background delivery; when the
// queue is full the alert is dropped and logged. Before Start, delivery is
// synchronous.
func (d *Dispatcher) Handle(alert monitor.Alert) {
	if len(d.notifiers) == 0 {
		return
	}
	if !d.started.Load() {
		_ = d.Dispatch(context.Background(), alert)
		return
	}
	select {
	case d.queue <- alert:
	default:
		d.logger.Warn("Notification queue full, dropping alert", "alert_id", alert.ID)
	}
}

// Start delivers queued alerts until ctx is cancelled.
// Calling Start multiple times has no effect after the first call.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		d.logger.Warn("Notification dispatcher already started, ignoring duplicate call")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				d.logger.Debug("Notification dispatcher stopped")
				return
			case alert := <-d.queue:
				_ = d.Dispatch(ctx, alert)
			}
		}
	}()
}

// Wait blocks until the delivery goroutine has exited
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
