package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/zgpcy/cloud-cost-monitor/internal/aggregator"
	"github.com/zgpcy/cloud-cost-monitor/internal/collector"
	"github.com/zgpcy/cloud-cost-monitor/internal/engine"
	"github.com/zgpcy/cloud-cost-monitor/internal/logger"
	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
)

// fakeSource is a mock implementation of Source for testing
type fakeSource struct {
	mu        sync.Mutex
	report    *engine.Report
	alerts    []monitor.Alert
	listeners []func(*engine.Report, error)
}

func (f *fakeSource) Providers() []provider.ProviderType {
	return []provider.ProviderType{provider.ProviderAWS, provider.ProviderGCP}
}

func (f *fakeSource) LastReport() *engine.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.report
}

func (f *fakeSource) ActiveAlerts(levels ...monitor.Level) []monitor.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alerts
}

func (f *fakeSource) OnRefresh(fn func(*engine.Report, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

// refresh publishes a report the way engine.Service does
func (f *fakeSource) refresh(r *engine.Report, err error) {
	f.mu.Lock()
	if r != nil && r.Summary != nil {
		f.report = r
	}
	listeners := append([]func(*engine.Report, error){}, f.listeners...)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(r, err)
	}
}

var finished = time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC)

func partialReport() *engine.Report {
	return &engine.Report{
		Summary: &aggregator.MultiCloudCostSummary{
			TotalCost:         120,
			Currency:          "USD",
			PeriodStart:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			PeriodEnd:         time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
			ProviderBreakdown: map[string]float64{"aws": 120},
		},
		Errors: map[provider.ProviderType]*engine.ProviderError{
			provider.ProviderGCP: {Provider: provider.ProviderGCP, Stage: engine.StageCollect, Kind: provider.KindAuth, Message: "denied"},
		},
		Stats: map[provider.ProviderType]collector.ProviderStat{
			provider.ProviderAWS: {Duration: 2 * time.Second, Success: true, DataPoints: 12, FinishedAt: finished},
			provider.ProviderGCP: {Duration: time.Second, FinishedAt: finished},
		},
		Partial:     true,
		GeneratedAt: finished,
	}
}

func gather(t *testing.T, c prometheus.Collector) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

// value returns the value of the metric whose labels include want
func value(t *testing.T, families map[string]*dto.MetricFamily, name string, want map[string]string) float64 {
	t.Helper()
	mf, ok := families[name]
	if !ok {
		t.Fatalf("metric %s not found", name)
	}
	for _, m := range mf.GetMetric() {
		labels := make(map[string]string)
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		match := true
		for k, v := range want {
			if labels[k] != v {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		switch {
		case m.GetGauge() != nil:
			return m.GetGauge().GetValue()
		case m.GetCounter() != nil:
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, want)
	return 0
}

func TestDescribe(t *testing.T) {
	c := NewCostCollector(&fakeSource{}, logger.New("error"))

	ch := make(chan *prometheus.Desc, 32)
	go func() {
		c.Describe(ch)
		close(ch)
	}()

	count := 0
	for range ch {
		count++
	}
	// 11 render descriptors plus up, duration, errors, last scrape, data points, build info
	if count != 17 {
		t.Errorf("Expected 17 descriptors, got %d", count)
	}
}

func TestCollect_BeforeFirstRefresh(t *testing.T) {
	c := NewCostCollector(&fakeSource{}, logger.New("error"))
	families := gather(t, c)

	if got := value(t, families, "cloud_cost_provider_up", map[string]string{"provider": "aws"}); got != 0 {
		t.Errorf("up before refresh: got %v, want 0", got)
	}
	if _, ok := families["cloud_cost_total"]; ok {
		t.Error("cost gauges should be absent before the first report")
	}
	if _, ok := families["cloud_cost_monitor_last_scrape_timestamp_seconds"]; ok {
		t.Error("last scrape timestamp should be absent before a success")
	}
	if got := value(t, families, "cloud_cost_monitor_build_info", nil); got != 1 {
		t.Errorf("build_info: got %v, want 1", got)
	}
	if got := value(t, families, "cloud_cost_alerts_active", map[string]string{"level": "warning"}); got != 0 {
		t.Errorf("alerts_active: got %v, want 0", got)
	}
}

func TestCollect_PartialRefresh(t *testing.T) {
	src := &fakeSource{
		alerts: []monitor.Alert{{Provider: "aws", Level: monitor.LevelWarning, CurrentValue: 120, AsOfDate: "2024-03-02"}},
	}
	c := NewCostCollector(src, logger.New("error"))
	src.refresh(partialReport(), nil)

	families := gather(t, c)

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"cloud_cost_provider_up", map[string]string{"provider": "aws"}, 1},
		{"cloud_cost_provider_up", map[string]string{"provider": "gcp"}, 0},
		{"cloud_cost_monitor_scrape_duration_seconds", map[string]string{"provider": "aws"}, 2},
		{"cloud_cost_monitor_data_points", map[string]string{"provider": "aws"}, 12},
		{"cloud_cost_monitor_last_scrape_timestamp_seconds", map[string]string{"provider": "aws"}, float64(finished.Unix())},
		{"cloud_cost_monitor_scrape_errors_total", map[string]string{"provider": "gcp", "kind": "AuthError"}, 1},
		{"cloud_cost_total", map[string]string{"currency": "USD"}, 120},
		{"cloud_cost_provider_total", map[string]string{"provider": "aws"}, 120},
		{"cloud_cost_alerts_active", map[string]string{"level": "warning"}, 1},
	}
	for _, tt := range tests {
		if got := value(t, families, tt.name, tt.labels); got != tt.want {
			t.Errorf("%s%v: got %v, want %v", tt.name, tt.labels, got, tt.want)
		}
	}
}

func TestCollect_ErrorsAccumulate(t *testing.T) {
	src := &fakeSource{}
	c := NewCostCollector(src, logger.New("error"))

	src.refresh(partialReport(), nil)
	src.refresh(partialReport(), nil)

	// Total failure: report without summary, previous report stays cached
	failed := partialReport()
	failed.Summary = nil
	failed.Errors[provider.ProviderAWS] = &engine.ProviderError{Provider: provider.ProviderAWS, Kind: provider.KindRateLimit}
	src.refresh(failed, collector.ErrNoDataAvailable)

	families := gather(t, c)
	if got := value(t, families, "cloud_cost_monitor_scrape_errors_total", map[string]string{"provider": "gcp"}); got != 3 {
		t.Errorf("gcp errors: got %v, want 3", got)
	}
	if got := value(t, families, "cloud_cost_provider_up", map[string]string{"provider": "aws"}); got != 0 {
		t.Errorf("aws up after failure: got %v, want 0", got)
	}
	if got := value(t, families, "cloud_cost_monitor_last_scrape_timestamp_seconds", map[string]string{"provider": "aws"}); got != float64(finished.Unix()) {
		t.Errorf("last success should be kept, got %v", got)
	}
	if got := value(t, families, "cloud_cost_total", nil); got != 120 {
		t.Errorf("cached total: got %v, want 120", got)
	}
}

func TestCollect_NormalizationFailure(t *testing.T) {
	src := &fakeSource{}
	c := NewCostCollector(src, logger.New("error"))

	r := partialReport()
	delete(r.Stats, provider.ProviderGCP)
	r.Errors[provider.ProviderGCP] = &engine.ProviderError{
		Provider: provider.ProviderGCP,
		Stage:    engine.StageNormalize,
		Kind:     engine.KindMissingExchangeRate,
		Err:      errors.New("missing exchange rate"),
	}
	src.refresh(r, nil)

	families := gather(t, c)
	if got := value(t, families, "cloud_cost_monitor_scrape_errors_total", map[string]string{"kind": string(engine.KindMissingExchangeRate)}); got != 1 {
		t.Errorf("normalize errors: got %v, want 1", got)
	}
	if got := value(t, families, "cloud_cost_provider_up", map[string]string{"provider": "gcp"}); got != 0 {
		t.Errorf("gcp up: got %v, want 0", got)
	}
}
