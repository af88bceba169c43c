package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zgpcy/cloud-cost-monitor/internal/aggregator"
	"github.com/zgpcy/cloud-cost-monitor/internal/clock"
	"github.com/zgpcy/cloud-cost-monitor/internal/collector"
	"github.com/zgpcy/cloud-cost-monitor/internal/currency"
	"github.com/zgpcy/cloud-cost-monitor/internal/history"
	"github.com/zgpcy/cloud-cost-monitor/internal/logger"
	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
)

const (
	// DefaultRefreshInterval is used when no interval is configured
	DefaultRefreshInterval = time.Hour

	// DefaultDaysToQuery is the window of the default query
	DefaultDaysToQuery = 7

	// AnomalyLookbackDays bounds the history series scanned for anomalies
	AnomalyLookbackDays = 90
)

var (
	// ErrUnknownProvider is returned when a requested provider has no gateway
	ErrUnknownProvider = errors.New("provider not configured")

	// ErrCurrencyMismatch is returned when a report is compared with limits
	// configured in another currency
	ErrCurrencyMismatch = errors.New("report currency differs from configured currency")
)

// Option configures a Service
type Option func(*Service)

// WithHistory persists every cycle to store
func WithHistory(store *history.Store, retentionDays int) Option {
	return func(s *Service) {
		s.history = store
		s.retentionDays = retentionDays
	}
}

// WithBudgets enables budget tracking
func WithBudgets(b *monitor.BudgetMonitor) Option {
	return func(s *Service) {
		s.budgets = b
	}
}

// WithAnomalyDetector enables spike detection on daily totals
func WithAnomalyDetector(d *monitor.AnomalyDetector) Option {
	return func(s *Service) {
		s.anomalies = d
	}
}

// WithClock sets the time source
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithLogger sets the service logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithRefreshInterval sets the background refresh interval
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.refreshInterval = d
		}
	}
}

// WithQuery sets how the refresh window is derived from the current time
func WithQuery(fn func(now time.Time) provider.Query) Option {
	return func(s *Service) {
		if fn != nil {
			s.query = fn
		}
	}
}

// WithCurrency sets the target currency of refresh cycles
func WithCurrency(code string) Option {
	return func(s *Service) {
		if code != "" {
			s.currency = strings.ToUpper(code)
		}
	}
}

// Service runs cost cycles over a fixed set of gateways
type Service struct {
	gateways   []provider.Gateway
	collector  *collector.Collector
	normalizer *currency.Normalizer
	monitor    *monitor.ThresholdMonitor
	budgets    *monitor.BudgetMonitor
	anomalies  *monitor.AnomalyDetector
	history    *history.Store

	currency        string
	refreshInterval time.Duration
	retentionDays   int
	query           func(time.Time) provider.Query
	logger          *logger.Logger
	clock           clock.Clock

	// State
	mu             sync.RWMutex
	lastReport     *Report
	lastAlerts     []monitor.Alert
	lastError      error
	lastRefresh    time.Time
	lastDuration   time.Duration
	isReady        bool
	listeners      []func(*Report, error)
	refreshStarted atomic.Bool
}

// New creates a Service. Gateways are kept in provider order.
func New(gateways []provider.Gateway, c *collector.Collector, n *currency.Normalizer, m *monitor.ThresholdMonitor, opts ...Option) *Service {
	gws := append([]provider.Gateway(nil), gateways...)
	sort.SliceStable(gws, func(i, j int) bool { return gws[i].Name() < gws[j].Name() })

	s := &Service{
		gateways:        gws,
		collector:       c,
		normalizer:      n,
		monitor:         m,
		currency:        "USD",
		refreshInterval: DefaultRefreshInterval,
		logger:          logger.Discard(),
		clock:           clock.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.query == nil {
		s.query = defaultQuery
	}
	return s
}

// defaultQuery covers the last DefaultDaysToQuery full days
func defaultQuery(now time.Time) provider.Query {
	end := clock.TruncateDay(now).AddDate(0, 0, -1)
	return provider.Query{
		Start:       end.AddDate(0, 0, -(DefaultDaysToQuery - 1)),
		End:         end,
		Granularity: provider.GranularityDaily,
	}
}

// Providers returns the configured providers in order
func (s *Service) Providers() []provider.ProviderType {
	out := make([]provider.ProviderType, len(s.gateways))
	for i, gw := range s.gateways {
		out[i] = gw.Name()
	}
	return out
}

// Monitor returns the threshold monitor
func (s *Service) Monitor() *monitor.ThresholdMonitor {
	return s.monitor
}

// Currency returns the target currency of refresh cycles
func (s *Service) Currency() string {
	return s.currency
}

// OnRefresh registers fn to run after every refresh cycle
func (s *Service) OnRefresh(fn func(*Report, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// selectGateways returns the gateways for providers, or all of them when
// providers is empty
func (s *Service) selectGateways(providers []provider.ProviderType) ([]provider.Gateway, error) {
	if len(providers) == 0 {
		return s.gateways, nil
	}

	byName := make(map[provider.ProviderType]provider.Gateway, len(s.gateways))
	for _, gw := range s.gateways {
		byName[gw.Name()] = gw
	}

	var out []provider.Gateway
	seen := make(map[provider.ProviderType]bool)
	for _, p := range providers {
		gw, ok := byName[p]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, p)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, gw)
		}
	}
	return out, nil
}

// GetCombinedSummary collects, normalizes and aggregates costs for
// [start, end] in target currency. An empty providers list queries every
// gateway and an empty target uses the service currency.
//
// Failing providers are listed in Report.Errors and the report is marked
// Partial. When no provider yields usable data the report is still
// returned, with a nil Summary, together with collector.ErrNoDataAvailable.
func (s *Service) GetCombinedSummary(ctx context.Context, providers []provider.ProviderType, start, end time.Time, target string) (*Report, error) {
	gateways, err := s.selectGateways(providers)
	if err != nil {
		return nil, err
	}
	if target == "" {
		target = s.currency
	}
	target = strings.ToUpper(target)

	q := provider.Query{
		Start:       clock.TruncateDay(start),
		End:         clock.TruncateDay(end),
		Granularity: s.query(s.clock.Now()).Granularity,
	}

	result, err := s.collector.Collect(ctx, gateways, q)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Errors:      make(map[provider.ProviderType]*ProviderError, len(result.Errors)),
		Stats:       result.Stats,
		Query:       q,
		GeneratedAt: s.clock.Now(),
	}
	for p, perr := range result.Errors {
		report.Errors[p] = collectError(perr)
	}
	report.Truncated = result.Truncated()

	for _, summary := range result.Summaries {
		normalized, err := s.normalizer.Normalize(ctx, summary, target)
		if err != nil {
			report.Errors[summary.Provider] = normalizeError(summary.Provider, err)
			s.logger.Error("Failed to normalize cost data",
				"provider", summary.Provider,
				"currency", summary.Currency,
				"target_currency", target,
				"error", err)
			continue
		}
		report.Normalized = append(report.Normalized, normalized)
	}
	report.Partial = len(report.Errors) > 0 || len(report.Truncated) > 0

	if len(report.Normalized) == 0 {
		return report, collector.ErrNoDataAvailable
	}

	summary, err := aggregator.Aggregate(target, q.Start, q.End, report.Normalized...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate costs: %w", err)
	}
	report.Summary = summary

	s.logger.Info("Combined cost summary ready",
		"providers", summary.Providers(),
		"failed_providers", len(report.Errors),
		"total_cost", summary.TotalCost,
		"currency", target)

	return report, nil
}

// CheckThresholds evaluates the as-of day of a report, its last day: every
// provider of the report on its own and the combined total under
// monitor.TotalKey. A report in another currency than the thresholds is
// rejected with ErrCurrencyMismatch.
func (s *Service) CheckThresholds(report *Report) ([]monitor.Alert, error) {
	if report == nil || report.Summary == nil {
		return nil, nil
	}

	sum := report.Summary
	if !strings.EqualFold(sum.Currency, s.monitor.Currency()) {
		return nil, fmt.Errorf("%w: report in %s, thresholds in %s", ErrCurrencyMismatch, sum.Currency, s.monitor.Currency())
	}

	day, ok := sum.AsOfDay()
	if !ok {
		return nil, nil
	}
	asOf, err := time.Parse(provider.DateLayout, day.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid as-of date %q: %w", day.Date, err)
	}

	breakdown := make(map[string]float64, len(sum.ProviderBreakdown))
	for p := range sum.ProviderBreakdown {
		breakdown[p] = day.ProviderBreakdown[p]
	}
	costs := make(map[string]float64, len(breakdown)+1)
	for p, cost := range breakdown {
		costs[p] = cost
	}
	costs[monitor.TotalKey] = day.TotalCost

	return s.monitor.CheckThresholds(costs, asOf, breakdown), nil
}

// ActiveAlerts returns unresolved alerts, optionally filtered by level
func (s *Service) ActiveAlerts(levels ...monitor.Level) []monitor.Alert {
	return s.monitor.ActiveAlerts(levels...)
}

// Refresh runs one cycle over the configured window, evaluates thresholds,
// records history and updates the cached state
func (s *Service) Refresh(ctx context.Context) (*Report, error) {
	now := s.clock.Now()
	q := s.query(now)

	s.logger.Info("Refreshing cost data",
		"providers", s.Providers(),
		"start_date", q.Start.Format(provider.DateLayout),
		"end_date", q.End.Format(provider.DateLayout))
	start := time.Now()

	report, err := s.GetCombinedSummary(ctx, nil, q.Start, q.End, s.currency)
	duration := time.Since(start)

	var alerts []monitor.Alert
	if err == nil {
		var cerr error
		if alerts, cerr = s.CheckThresholds(report); cerr != nil {
			s.logger.Error("Failed to evaluate cost thresholds", "error", cerr)
		}
	}
	if report != nil {
		s.persist(ctx, report)
	}

	s.mu.Lock()
	s.lastRefresh = now
	s.lastDuration = duration
	s.lastError = err
	if report != nil && report.Summary != nil {
		s.lastReport = report
		s.lastAlerts = alerts
	}
	s.isReady = err == nil
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Failed to refresh cost data", "error", err)
	} else {
		s.logger.Info("Successfully refreshed cost data",
			"total_cost", report.Summary.TotalCost,
			"currency", report.Summary.Currency,
			"partial", report.Partial,
			"new_alerts", len(alerts),
			"duration_seconds", duration.Seconds())
	}

	for _, fn := range listeners {
		fn(report, err)
	}
	return report, err
}

// persist writes a cycle to the history store. Failures are logged only.
func (s *Service) persist(ctx context.Context, report *Report) {
	if s.history == nil {
		return
	}

	if report.Summary != nil {
		rows, err := s.history.SaveSummary(ctx, report.Summary, report.GeneratedAt)
		if err != nil {
			s.logger.Warn("Failed to store cost history", "error", err)
		} else {
			s.logger.Debug("Stored cost history", "rows", rows)
		}
	}

	for p, stat := range report.Stats {
		run := history.SyncRun{
			Provider:   string(p),
			StartedAt:  stat.FinishedAt.Add(-stat.Duration),
			Duration:   stat.Duration,
			Success:    stat.Success,
			DataPoints: stat.DataPoints,
		}
		if perr, ok := report.Errors[p]; ok {
			run.Success = false
			run.ErrorKind = string(perr.Kind)
			run.Error = perr.Message
		}
		if err := s.history.RecordSync(ctx, run); err != nil {
			s.logger.Warn("Failed to record sync run", "provider", p, "error", err)
		}
	}

	if s.retentionDays > 0 {
		cutoff := clock.TruncateDay(report.GeneratedAt).AddDate(0, 0, -s.retentionDays)
		if n, err := s.history.Prune(ctx, cutoff); err != nil {
			s.logger.Warn("Failed to prune cost history", "error", err)
		} else if n > 0 {
			s.logger.Debug("Pruned cost history", "rows", n)
		}
	}
}

// StartBackgroundRefresh runs an initial refresh, then refreshes on the
// configured interval until ctx is cancelled. Only one loop runs at a time.
func (s *Service) StartBackgroundRefresh(ctx context.Context) {
	if !s.refreshStarted.CompareAndSwap(false, true) {
		s.logger.Warn("Background refresh already started, skipping")
		return
	}

	// Initial fetch
	_, _ = s.Refresh(ctx)

	ticker := time.NewTicker(s.refreshInterval)
	go func() {
		defer ticker.Stop()
		defer s.refreshStarted.Store(false)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Stopping background refresh")
				return
			case <-ticker.C:
				_, _ = s.Refresh(ctx)
			}
		}
	}()
}

// LastReport returns a copy of the latest report that carried data, or nil
func (s *Service) LastReport() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport.Copy()
}

// IsReady returns true if the last refresh produced data
func (s *Service) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isReady
}

// LastError returns the error of the last refresh
func (s *Service) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// LastRefreshTime returns the time of the last refresh attempt
func (s *Service) LastRefreshTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRefresh
}

// LastRefreshDuration returns how long the last refresh took
func (s *Service) LastRefreshDuration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastDuration
}

// DataPointCount returns the number of data points behind the cached report
func (s *Service) DataPointCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastReport == nil {
		return 0
	}
	n := 0
	for _, ns := range s.lastReport.Normalized {
		n += ns.DataPointCount
	}
	return n
}
