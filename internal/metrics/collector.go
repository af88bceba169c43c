package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zgpcy/cloud-cost-monitor/internal/aggregator"
	"github.com/zgpcy/cloud-cost-monitor/internal/engine"
	"github.com/zgpcy/cloud-cost-monitor/internal/logger"
	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
	"github.com/zgpcy/cloud-cost-monitor/internal/render"
	"github.com/zgpcy/cloud-cost-monitor/internal/version"
)

// Source is the part of engine.Service the collector reads
type Source interface {
	Providers() []provider.ProviderType
	LastReport() *engine.Report
	ActiveAlerts(levels ...monitor.Level) []monitor.Alert
	OnRefresh(fn func(*engine.Report, error))
}

// providerState is what the last refresh reported for one provider
type providerState struct {
	up          bool
	duration    time.Duration
	dataPoints  int
	lastSuccess time.Time
}

// CostCollector implements prometheus.Collector for cloud cost metrics
type CostCollector struct {
	source Source
	logger *logger.Logger

	// Metrics
	upMetric             *prometheus.Desc
	scrapeDurationMetric *prometheus.Desc
	scrapeErrorsTotal    *prometheus.CounterVec
	lastScrapeTimeMetric *prometheus.Desc
	dataPointsMetric     *prometheus.Desc
	buildInfo            *prometheus.GaugeVec

	// State
	mu        sync.RWMutex
	providers map[provider.ProviderType]*providerState
}

// NewCostCollector creates a collector and subscribes it to source refreshes
func NewCostCollector(source Source, log *logger.Logger) *CostCollector {
	scrapeErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloud_cost_monitor_scrape_errors_total",
			Help: "Total number of failed provider fetches since startup",
		},
		[]string{"provider", "kind"},
	)

	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cloud_cost_monitor_build_info",
			Help: "Build version information",
		},
		[]string{"version", "git_commit", "build_date", "go_version"},
	)

	versionInfo := version.Info()
	buildInfo.With(prometheus.Labels{
		"version":    versionInfo["version"],
		"git_commit": versionInfo["git_commit"],
		"build_date": versionInfo["build_date"],
		"go_version": versionInfo["go_version"],
	}).Set(1)

	c := &CostCollector{
		source: source,
		logger: log,
		upMetric: prometheus.NewDesc(
			"cloud_cost_provider_up",
			"Was the last cost fetch of the provider successful (1 = success, 0 = failure)",
			[]string{"provider"},
			nil,
		),
		scrapeDurationMetric: prometheus.NewDesc(
			"cloud_cost_monitor_scrape_duration_seconds",
			"Duration of the last provider fetch in seconds",
			[]string{"provider"},
			nil,
		),
		scrapeErrorsTotal: scrapeErrorsTotal,
		lastScrapeTimeMetric: prometheus.NewDesc(
			"cloud_cost_monitor_last_scrape_timestamp_seconds",
			"Unix timestamp of the last successful provider fetch",
			[]string{"provider"},
			nil,
		),
		dataPointsMetric: prometheus.NewDesc(
			"cloud_cost_monitor_data_points",
			"Number of cost data points returned by the last provider fetch",
			[]string{"provider"},
			nil,
		),
		buildInfo: buildInfo,
		providers: make(map[provider.ProviderType]*providerState),
	}

	for _, p := range source.Providers() {
		c.providers[p] = &providerState{}
	}
	source.OnRefresh(c.observe)
	return c
}

// observe records the per-provider outcome of one refresh
func (c *CostCollector) observe(report *engine.Report, err error) {
	if report == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for p, stat := range report.Stats {
		st, ok := c.providers[p]
		if !ok {
			st = &providerState{}
			c.providers[p] = st
		}
		st.duration = stat.Duration
		st.dataPoints = stat.DataPoints

		if perr, failed := report.Errors[p]; failed {
			st.up = false
			c.scrapeErrorsTotal.With(prometheus.Labels{
				"provider": string(p),
				"kind":     string(perr.Kind),
			}).Inc()
			continue
		}
		st.up = true
		st.lastSuccess = stat.FinishedAt
	}

	// Normalization failures have no collection stat of their own
	for p, perr := range report.Errors {
		if _, seen := report.Stats[p]; seen {
			continue
		}
		if st, ok := c.providers[p]; ok {
			st.up = false
		}
		c.scrapeErrorsTotal.With(prometheus.Labels{
			"provider": string(p),
			"kind":     string(perr.Kind),
		}).Inc()
	}

	if err != nil {
		c.logger.Debug("Recorded failed refresh", "error", err)
	}
}

// Describe implements prometheus.Collector
func (c *CostCollector) Describe(ch chan<- *prometheus.Desc) {
	render.Describe(ch)
	ch <- c.upMetric
	ch <- c.scrapeDurationMetric
	c.scrapeErrorsTotal.Describe(ch)
	ch <- c.lastScrapeTimeMetric
	ch <- c.dataPointsMetric
	c.buildInfo.Describe(ch)
}

// Collect implements prometheus.Collector
func (c *CostCollector) Collect(ch chan<- prometheus.Metric) {
	var (
		summary *aggregator.MultiCloudCostSummary
		updated time.Time
	)
	if report := c.source.LastReport(); report != nil {
		summary = report.Summary
		updated = report.GeneratedAt
	}
	for _, m := range render.Metrics(summary, c.source.ActiveAlerts(), updated) {
		ch <- m
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for p, st := range c.providers {
		name := string(p)

		upValue := 0.0
		if st.up {
			upValue = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.upMetric, prometheus.GaugeValue, upValue, name)
		ch <- prometheus.MustNewConstMetric(c.scrapeDurationMetric, prometheus.GaugeValue, st.duration.Seconds(), name)
		ch <- prometheus.MustNewConstMetric(c.dataPointsMetric, prometheus.GaugeValue, float64(st.dataPoints), name)

		if !st.lastSuccess.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.lastScrapeTimeMetric, prometheus.GaugeValue, float64(st.lastSuccess.Unix()), name)
		}
	}

	c.scrapeErrorsTotal.Collect(ch)
	c.buildInfo.Collect(ch)
}
