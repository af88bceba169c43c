package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/zgpcy/cloud-cost-monitor/internal/aggregator"
	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
)

const (
	namespace = "cloud_cost"

	// DailyMetricDays limits the daily series to the most recent days
	DailyMetricDays = 7

	// maxLabelLength truncates long service and account names
	maxLabelLength = 100
)

// Cost and alert metric descriptors
var (
	totalDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "total"),
		"Total cloud cost across all providers",
		[]string{"currency"}, nil,
	)
	providerDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "provider", "total"),
		"Cost by cloud provider",
		[]string{"provider", "currency"}, nil,
	)
	serviceDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "service", "total"),
		"Cost by service",
		[]string{"provider", "service", "currency"}, nil,
	)
	regionDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "region", "total"),
		"Cost by region",
		[]string{"region", "currency"}, nil,
	)
	accountDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "account", "total"),
		"Cost by account, subscription or project",
		[]string{"provider", "account_id", "account_name", "currency"}, nil,
	)
	dailyDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "daily", "total"),
		"Daily cost totals",
		[]string{"date", "currency"}, nil,
	)
	dailyProviderDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "daily_provider", "total"),
		"Daily cost by provider",
		[]string{"date", "provider", "currency"}, nil,
	)
	rangeDaysDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "data_range", "days"),
		"Number of days covered by the cost data",
		nil, nil,
	)
	lastUpdateDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "last_update", "timestamp"),
		"Unix time of the last cost data update",
		nil, nil,
	)
	alertsActiveDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "alerts", "active"),
		"Number of unresolved threshold alerts by level",
		[]string{"level"}, nil,
	)
	alertValueDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "alert", "current_value"),
		"Cost that triggered an unresolved threshold alert",
		[]string{"provider", "level", "date"}, nil,
	)
)

// Describe sends every descriptor Metrics can produce
func Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		totalDesc, providerDesc, serviceDesc, regionDesc, accountDesc,
		dailyDesc, dailyProviderDesc, rangeDaysDesc, lastUpdateDesc,
		alertsActiveDesc, alertValueDesc,
	} {
		ch <- d
	}
}

// Metrics converts a summary and alert set into const gauges. A nil summary
// yields only the alert metrics.
func Metrics(s *aggregator.MultiCloudCostSummary, alerts []monitor.Alert, updated time.Time) []prometheus.Metric {
	var out []prometheus.Metric
	gauge := func(desc *prometheus.Desc, v float64, labels ...string) {
		out = append(out, prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, labels...))
	}

	if s != nil {
		cur := s.Currency
		gauge(totalDesc, s.TotalCost, cur)

		for _, p := range s.Providers() {
			gauge(providerDesc, s.ProviderBreakdown[p], p, cur)
		}

		for _, e := range s.TopServices(0) {
			p, svc := splitServiceKey(e.Name)
			gauge(serviceDesc, e.Cost, p, labelValue(svc), cur)
		}

		for _, e := range s.TopRegions(0) {
			gauge(regionDesc, e.Cost, labelValue(e.Name), cur)
		}

		for _, a := range s.TopAccounts(0) {
			gauge(accountDesc, a.TotalCost, a.Provider, a.AccountID, labelValue(a.AccountName), cur)
		}

		days := s.CombinedDailyCosts
		if len(days) > DailyMetricDays {
			days = days[len(days)-DailyMetricDays:]
		}
		for _, d := range days {
			gauge(dailyDesc, d.TotalCost, d.Date, cur)
			for _, p := range s.Providers() {
				gauge(dailyProviderDesc, d.ProviderBreakdown[p], d.Date, p, cur)
			}
		}

		if !s.PeriodStart.IsZero() && !s.PeriodEnd.IsZero() {
			gauge(rangeDaysDesc, s.PeriodEnd.Sub(s.PeriodStart).Hours()/24+1)
		}
		if !updated.IsZero() {
			gauge(lastUpdateDesc, float64(updated.Unix()))
		}
	}

	active := make(map[monitor.Level]int)
	for _, a := range alerts {
		if a.Resolved {
			continue
		}
		active[a.Level]++
		gauge(alertValueDesc, a.CurrentValue, a.Provider, string(a.Level), a.AsOfDate)
	}
	for _, level := range monitor.Levels {
		gauge(alertsActiveDesc, float64(active[level]), string(level))
	}

	return out
}

// exposition is a one-shot collector over precomputed metrics
type exposition []prometheus.Metric

func (e exposition) Describe(ch chan<- *prometheus.Desc) { Describe(ch) }

func (e exposition) Collect(ch chan<- prometheus.Metric) {
	for _, m := range e {
		ch <- m
	}
}

// Prometheus writes the summary and alerts in the text exposition format
func Prometheus(w io.Writer, s *aggregator.MultiCloudCostSummary, alerts []monitor.Alert, now time.Time) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(exposition(Metrics(s, alerts, now))); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}

// splitServiceKey reverses aggregator.ServiceKey
func splitServiceKey(key string) (providerName, service string) {
	if p, svc, ok := strings.Cut(key, ": "); ok {
		return strings.ToLower(p), svc
	}
	return "unknown", key
}

func labelValue(v string) string {
	v = strings.ToValidUTF8(strings.NewReplacer("\n", " ", "\r", " ").Replace(v), "?")
	if v == "" {
		return "unknown"
	}
	if r := []rune(v); len(r) > maxLabelLength {
		v = string(r[:maxLabelLength])
	}
	return v
}
