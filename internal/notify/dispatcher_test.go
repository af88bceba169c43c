package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zgpcy/cloud-cost-monitor/internal/config"
	"github.com/zgpcy/cloud-cost-monitor/internal/logger"
	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
	"github.com/zgpcy/cloud-cost-monitor/internal/notify"
)

// recordingNotifier records delivered alerts
type recordingNotifier struct {
	mu        sync.Mutex
	name      string
	err       error
	delivered []monitor.Alert
	sent      chan struct{}
}

func newRecordingNotifier(name string, err error) *recordingNotifier {
	return &recordingNotifier{name: name, err: err, sent: make(chan struct{}, 10)}
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Send(_ context.Context, alert monitor.Alert) error {
	r.mu.Lock()
	r.delivered = append(r.delivered, alert)
	r.mu.Unlock()
	r.sent <- struct{}{}
	return r.err
}

func (r *recordingNotifier) Delivered() []monitor.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]monitor.Alert(nil), r.delivered...)
}

func TestDispatcher_DispatchJoinsErrors(t *testing.T) {
	failing := newRecordingNotifier("broken", errors.New("unreachable"))
	ok := newRecordingNotifier("ok", nil)
	d := notify.NewDispatcher(logger.New("error"), failing, ok)

	err := d.Dispatch(context.Background(), sampleAlert(monitor.LevelWarning))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: unreachable")

	assert.Len(t, failing.Delivered(), 1)
	assert.Len(t, ok.Delivered(), 1, "a failing notifier must not block others")
}

func TestDispatcher_HandleSynchronousBeforeStart(t *testing.T) {
	rec := newRecordingNotifier("rec", nil)
	d := notify.NewDispatcher(logger.New("error"), rec)

	d.Handle(sampleAlert(monitor.LevelCritical))
	assert.Len(t, rec.Delivered(), 1)
}

func TestDispatcher_BackgroundDelivery(t *testing.T) {
	rec := newRecordingNotifier("rec", nil)
	d := notify.NewDispatcher(logger.New("error"), rec)

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	d.Start(ctx) // duplicate call is ignored

	d.Handle(sampleAlert(monitor.LevelWarning))

	select {
	case <-rec.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("alert was not delivered")
	}

	cancel()
	d.Wait()
	assert.Len(t, rec.Delivered(), 1)
}

func TestDispatcher_WiredToMonitor(t *testing.T) {
	rec := newRecordingNotifier("rec", nil)
	d := notify.NewDispatcher(logger.New("error"), rec)

	th := monitor.NewThresholds()
	th.SetGlobal(monitor.LevelWarning, 100)
	m, err := monitor.NewThresholdMonitor(th)
	require.NoError(t, err)
	m.OnAlert(d.Handle)

	m.CheckThresholds(map[string]float64{"aws": 150}, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), nil)

	delivered := rec.Delivered()
	require.Len(t, delivered, 1)
	assert.Equal(t, "aws", delivered[0].Provider)
	assert.Equal(t, monitor.LevelWarning, delivered[0].Level)
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.NotificationsConfig
		want int
	}{
		{"none", config.NotificationsConfig{}, 0},
		{"slack", config.NotificationsConfig{Slack: config.SlackConfig{WebhookURL: "https://hooks.slack.com/x"}}, 1},
		{"both", config.NotificationsConfig{
			Slack:   config.SlackConfig{WebhookURL: "https://hooks.slack.com/x"},
			Webhook: config.WebhookConfig{URL: "https://example.com/hook"},
		}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, notify.FromConfig(tt.cfg, logger.New("error")).Len())
		})
	}
}
