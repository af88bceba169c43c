package engine

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zgpcy/cloud-cost-monitor/internal/clock"
	"github.com/zgpcy/cloud-cost-monitor/internal/collector"
	"github.com/zgpcy/cloud-cost-monitor/internal/currency"
	"github.com/zgpcy/cloud-cost-monitor/internal/history"
	"github.com/zgpcy/cloud-cost-monitor/internal/logger"
	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
)

var (
	testStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	testEnd   = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	testNow   = time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC)
)

// mockGateway returns fixed daily amounts for one provider
type mockGateway struct {
	mu       sync.Mutex
	name     provider.ProviderType
	currency string
	days     map[string]string
	err      error
	delay    time.Duration
	calls    int
}

func (m *mockGateway) Name() provider.ProviderType {
	return m.name
}

func (m *mockGateway) AccountCount() int {
	return 1
}

func (m *mockGateway) Authenticate(ctx context.Context) error {
	return nil
}

func (m *mockGateway) FetchCosts(ctx context.Context, q provider.Query) (*provider.CostSummary, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}

	cur := m.currency
	if cur == "" {
		cur = "USD"
	}
	summary := &provider.CostSummary{
		Provider:    m.name,
		Currency:    cur,
		PeriodStart: q.Start,
		PeriodEnd:   q.End,
		Granularity: q.Granularity,
	}
	for day, amount := range m.days {
		date, _ := time.Parse(provider.DateLayout, day)
		summary.DataPoints = append(summary.DataPoints, provider.CostDataPoint{
			Provider:  m.name,
			Date:      date,
			Amount:    decimal.RequireFromString(amount),
			Currency:  cur,
			Service:   "compute",
			AccountID: "acct-" + string(m.name),
			Region:    "us-east",
		})
	}
	summary.SortDataPoints()
	return summary, nil
}

func (m *mockGateway) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testThresholds(t *testing.T, warning, critical float64) *monitor.ThresholdMonitor {
	t.Helper()
	th := monitor.NewThresholds()
	th.SetGlobal(monitor.LevelWarning, warning)
	th.SetGlobal(monitor.LevelCritical, critical)
	m, err := monitor.NewThresholdMonitor(th, monitor.WithClock(clock.Fixed(testNow)))
	if err != nil {
		t.Fatalf("NewThresholdMonitor() error = %v", err)
	}
	return m
}

func newTestService(t *testing.T, gateways []provider.Gateway, opts ...Option) *Service {
	t.Helper()
	rates, err := currency.NewStaticRates(nil)
	if err != nil {
		t.Fatalf("NewStaticRates() error = %v", err)
	}
	c := collector.New(
		collector.WithLogger(logger.New("error")),
		collector.WithProviderTimeout(200*time.Millisecond),
	)
	base := []Option{
		WithClock(clock.Fixed(testNow)),
		WithLogger(logger.New("error")),
		WithQuery(func(time.Time) provider.Query {
			return provider.Query{Start: testStart, End: testEnd, Granularity: provider.GranularityDaily}
		}),
	}
	return New(gateways, c, currency.NewNormalizer(rates), testThresholds(t, 150, 250), append(base, opts...)...)
}

func twoProviders() []provider.Gateway {
	return []provider.Gateway{
		&mockGateway{name: provider.ProviderAzure, days: map[string]string{"2024-03-01": "10", "2024-03-02": "70"}},
		&mockGateway{name: provider.ProviderAWS, days: map[string]string{"2024-03-01": "20", "2024-03-02": "100"}},
	}
}

func TestGetCombinedSummary_TotalsAndWarning(t *testing.T) {
	svc := newTestService(t, twoProviders())

	report, err := svc.GetCombinedSummary(context.Background(), nil, testStart, testEnd, "usd")
	if err != nil {
		t.Fatalf("GetCombinedSummary() error = %v", err)
	}
	if report.Partial || len(report.Errors) != 0 {
		t.Errorf("expected a complete report, got errors %v", report.Errors)
	}

	s := report.Summary
	if s.Currency != "USD" {
		t.Errorf("Currency: got %s, want USD", s.Currency)
	}
	if s.TotalCost != 200 {
		t.Errorf("TotalCost: got %v, want 200", s.TotalCost)
	}
	if s.ProviderBreakdown["aws"] != 120 || s.ProviderBreakdown["azure"] != 80 {
		t.Errorf("ProviderBreakdown: got %v", s.ProviderBreakdown)
	}
	if len(s.CombinedDailyCosts) != 2 || s.CombinedDailyCosts[0].TotalCost != 30 || s.CombinedDailyCosts[1].TotalCost != 170 {
		t.Errorf("CombinedDailyCosts: got %+v", s.CombinedDailyCosts)
	}

	alerts, err := svc.CheckThresholds(report)
	if err != nil {
		t.Fatalf("CheckThresholds() error = %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("Expected exactly one alert, got %d: %+v", len(alerts), alerts)
	}
	a := alerts[0]
	if a.Provider != monitor.TotalKey || a.Level != monitor.LevelWarning {
		t.Errorf("alert: got %s/%s, want all/warning", a.Provider, a.Level)
	}
	if a.CurrentValue != 170 || a.ThresholdValue != 150 || a.Currency != "USD" {
		t.Errorf("alert values: got %v/%v %s", a.CurrentValue, a.ThresholdValue, a.Currency)
	}
	snap, _ := a.Metadata[monitor.MetaProviderBreakdown].(map[string]float64)
	if snap["aws"] != 100 || snap["azure"] != 70 {
		t.Errorf("provider_breakdown: got %v, want the as-of day", snap)
	}
	if a.AsOfDate != "2024-03-02" {
		t.Errorf("AsOfDate: got %s, want 2024-03-02", a.AsOfDate)
	}

	// Same costs again raise nothing new
	if again, _ := svc.CheckThresholds(report); len(again) != 0 {
		t.Errorf("re-evaluation raised %d alerts", len(again))
	}
	if active := svc.ActiveAlerts(); len(active) != 1 {
		t.Errorf("ActiveAlerts: got %d, want 1", len(active))
	}
}

func TestGetCombinedSummary_ProviderTimeoutIsPartial(t *testing.T) {
	slow := &mockGateway{name: provider.ProviderGCP, delay: 5 * time.Second, days: map[string]string{"2024-03-01": "999"}}
	svc := newTestService(t, append(twoProviders(), slow))

	report, err := svc.GetCombinedSummary(context.Background(), nil, testStart, testEnd, "")
	if err != nil {
		t.Fatalf("GetCombinedSummary() error = %v", err)
	}
	if !report.Partial {
		t.Error("report should be partial")
	}
	perr, ok := report.Errors[provider.ProviderGCP]
	if !ok {
		t.Fatalf("expected a gcp error, got %v", report.Errors)
	}
	if perr.Kind != provider.KindTransient || perr.Stage != StageCollect {
		t.Errorf("gcp error: got %s/%s, want transient collect failure", perr.Kind, perr.Stage)
	}
	if !errors.Is(perr, provider.ErrTransient) {
		t.Error("gcp error should unwrap to ErrTransient")
	}
	if report.Summary.TotalCost != 200 {
		t.Errorf("TotalCost: got %v, want 200", report.Summary.TotalCost)
	}
	if _, ok := report.Summary.ProviderBreakdown["gcp"]; ok {
		t.Error("failed provider must not appear in the breakdown")
	}
	if got := report.Failures(); len(got) != 1 || got["gcp"] == nil {
		t.Errorf("Failures: got %v", got)
	}
}

func TestGetCombinedSummary_AllProvidersFail(t *testing.T) {
	svc := newTestService(t, []provider.Gateway{
		&mockGateway{name: provider.ProviderAWS, err: provider.ErrAuth},
		&mockGateway{name: provider.ProviderAzure, err: provider.ErrRateLimit},
	})

	report, err := svc.GetCombinedSummary(context.Background(), nil, testStart, testEnd, "USD")
	if !errors.Is(err, collector.ErrNoDataAvailable) {
		t.Fatalf("error: got %v, want ErrNoDataAvailable", err)
	}
	if report == nil || report.Summary != nil {
		t.Fatalf("expected a report without summary, got %+v", report)
	}
	if report.Errors[provider.ProviderAWS].Kind != provider.KindAuth {
		t.Errorf("aws kind: got %s", report.Errors[provider.ProviderAWS].Kind)
	}
	if report.Errors[provider.ProviderAzure].Kind != provider.KindRateLimit {
		t.Errorf("azure kind: got %s", report.Errors[provider.ProviderAzure].Kind)
	}
	if alerts, err := svc.CheckThresholds(report); alerts != nil || err != nil {
		t.Errorf("no alerts expected without data, got %v (err %v)", alerts, err)
	}
}

func TestGetCombinedSummary_MissingExchangeRate(t *testing.T) {
	gws := twoProviders()
	gws = append(gws, &mockGateway{name: provider.ProviderGCP, currency: "XYZ", days: map[string]string{"2024-03-01": "10"}})
	svc := newTestService(t, gws)

	report, err := svc.GetCombinedSummary(context.Background(), nil, testStart, testEnd, "USD")
	if err != nil {
		t.Fatalf("GetCombinedSummary() error = %v", err)
	}
	perr := report.Errors[provider.ProviderGCP]
	if perr == nil || perr.Kind != KindMissingExchangeRate || perr.Stage != StageNormalize {
		t.Fatalf("gcp error: got %+v", perr)
	}
	if !errors.Is(perr, currency.ErrMissingExchangeRate) {
		t.Error("error should unwrap to ErrMissingExchangeRate")
	}
	if report.Summary.TotalCost != 200 {
		t.Errorf("TotalCost: got %v, want 200", report.Summary.TotalCost)
	}
}

func TestGetCombinedSummary_ConvertsCurrency(t *testing.T) {
	svc := newTestService(t, []provider.Gateway{
		&mockGateway{name: provider.ProviderAzure, currency: "EUR", days: map[string]string{"2024-03-01": "100"}},
	})

	report, err := svc.GetCombinedSummary(context.Background(), nil, testStart, testEnd, "USD")
	if err != nil {
		t.Fatalf("GetCombinedSummary() error = %v", err)
	}
	if got := report.Summary.TotalCost; math.Abs(got-110) > 1e-9 {
		t.Errorf("TotalCost: got %v, want 110", got)
	}
}

func TestGetCombinedSummary_ProviderFilter(t *testing.T) {
	gws := twoProviders()
	svc := newTestService(t, gws)

	report, err := svc.GetCombinedSummary(context.Background(), []provider.ProviderType{provider.ProviderAWS}, testStart, testEnd, "USD")
	if err != nil {
		t.Fatalf("GetCombinedSummary() error = %v", err)
	}
	if got := report.Summary.Providers(); len(got) != 1 || got[0] != "aws" {
		t.Errorf("Providers: got %v, want [aws]", got)
	}
	if calls := gws[0].(*mockGateway).Calls(); calls != 0 {
		t.Errorf("azure should not be queried, got %d calls", calls)
	}

	_, err = svc.GetCombinedSummary(context.Background(), []provider.ProviderType{provider.ProviderGCP}, testStart, testEnd, "USD")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("error: got %v, want ErrUnknownProvider", err)
	}
}

func TestGetCombinedSummary_InvalidRange(t *testing.T) {
	svc := newTestService(t, twoProviders())
	if _, err := svc.GetCombinedSummary(context.Background(), nil, testEnd, testStart, "USD"); err == nil {
		t.Error("expected an error for end before start")
	}
}

// The window total crosses the warning threshold but no single day does.
func TestCheckThresholds_EvaluatesAsOfDay(t *testing.T) {
	svc := newTestService(t, []provider.Gateway{
		&mockGateway{name: provider.ProviderAWS, days: map[string]string{"2024-03-01": "100", "2024-03-02": "100"}},
	})

	report, err := svc.GetCombinedSummary(context.Background(), nil, testStart, testEnd, "USD")
	if err != nil {
		t.Fatalf("GetCombinedSummary() error = %v", err)
	}
	if report.Summary.TotalCost != 200 {
		t.Fatalf("TotalCost: got %v, want 200", report.Summary.TotalCost)
	}

	alerts, err := svc.CheckThresholds(report)
	if err != nil {
		t.Fatalf("CheckThresholds() error = %v", err)
	}
	if len(alerts) != 0 || len(svc.ActiveAlerts()) != 0 {
		t.Errorf("no day exceeds 150, got alerts %+v", alerts)
	}
}

func TestCheckThresholds_CurrencyMismatch(t *testing.T) {
	budgets := monitor.NewBudgetMonitor()
	if err := budgets.SetBudget(monitor.Budget{Provider: monitor.TotalKey, Period: monitor.PeriodMonthly, Amount: 100}); err != nil {
		t.Fatalf("SetBudget() error = %v", err)
	}
	svc := newTestService(t, []provider.Gateway{
		&mockGateway{name: provider.ProviderAWS, days: map[string]string{"2024-03-02": "20000"}},
	}, WithBudgets(budgets))

	report, err := svc.GetCombinedSummary(context.Background(), nil, testStart, testEnd, "JPY")
	if err != nil {
		t.Fatalf("GetCombinedSummary() error = %v", err)
	}
	if report.Summary.Currency != "JPY" {
		t.Fatalf("Currency: got %s, want JPY", report.Summary.Currency)
	}

	alerts, err := svc.CheckThresholds(report)
	if !errors.Is(err, ErrCurrencyMismatch) {
		t.Errorf("CheckThresholds() error = %v, want ErrCurrencyMismatch", err)
	}
	if len(alerts) != 0 || len(svc.ActiveAlerts()) != 0 {
		t.Errorf("a JPY report must not raise USD alerts, got %+v", alerts)
	}

	if _, err := svc.BudgetStatuses(context.Background(), report); !errors.Is(err, ErrCurrencyMismatch) {
		t.Errorf("BudgetStatuses() error = %v, want ErrCurrencyMismatch", err)
	}
}

func TestGetCombinedSummary_TruncatedIsPartial(t *testing.T) {
	rates, err := currency.NewStaticRates(nil)
	if err != nil {
		t.Fatalf("NewStaticRates() error = %v", err)
	}
	c := collector.New(collector.WithLogger(logger.New("error")), collector.WithMaxDataPoints(1))
	svc := New(twoProviders(), c, currency.NewNormalizer(rates), testThresholds(t, 150, 250),
		WithClock(clock.Fixed(testNow)),
		WithLogger(logger.New("error")))

	report, err := svc.GetCombinedSummary(context.Background(), nil, testStart, testEnd, "USD")
	if err != nil {
		t.Fatalf("GetCombinedSummary() error = %v", err)
	}
	if !report.Partial {
		t.Error("report with truncated data should be partial")
	}
	if len(report.Truncated) != 2 || len(report.Errors) != 0 {
		t.Errorf("Truncated: got %v, errors %v", report.Truncated, report.Errors)
	}
	if got := report.Copy().Truncated; len(got) != 2 {
		t.Errorf("Copy should keep Truncated, got %v", got)
	}
}

func TestRefresh_UpdatesState(t *testing.T) {
	svc := newTestService(t, twoProviders())

	var (
		mu     sync.Mutex
		events []error
	)
	svc.OnRefresh(func(r *Report, err error) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, err)
	})

	if svc.IsReady() {
		t.Error("service should not be ready before the first refresh")
	}

	report, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !svc.IsReady() || svc.LastError() != nil {
		t.Errorf("IsReady: got %v, LastError: %v", svc.IsReady(), svc.LastError())
	}
	if !svc.LastRefreshTime().Equal(testNow) {
		t.Errorf("LastRefreshTime: got %v", svc.LastRefreshTime())
	}
	if svc.DataPointCount() != 4 {
		t.Errorf("DataPointCount: got %d, want 4", svc.DataPointCount())
	}
	if got := svc.LastReport(); got == nil || got.Summary.TotalCost != report.Summary.TotalCost {
		t.Errorf("LastReport: got %+v", got)
	}
	if len(svc.ActiveAlerts(monitor.LevelWarning)) != 1 {
		t.Error("refresh should raise the warning alert")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0] != nil {
		t.Errorf("listener events: got %v", events)
	}
}

func TestRefresh_FailureKeepsLastReport(t *testing.T) {
	aws := &mockGateway{name: provider.ProviderAWS, days: map[string]string{"2024-03-01": "10"}}
	svc := newTestService(t, []provider.Gateway{aws})

	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	aws.mu.Lock()
	aws.err = provider.ErrAuth
	aws.mu.Unlock()

	if _, err := svc.Refresh(context.Background()); !errors.Is(err, collector.ErrNoDataAvailable) {
		t.Fatalf("Refresh() error = %v, want ErrNoDataAvailable", err)
	}
	if svc.IsReady() {
		t.Error("service should not be ready after a failed refresh")
	}
	if got := svc.LastReport(); got == nil || got.Summary.TotalCost != 10 {
		t.Errorf("last good report should be kept, got %+v", got)
	}
}

func TestRefresh_RecordsHistory(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open() error = %v", err)
	}
	defer store.Close()

	gws := append(twoProviders(), &mockGateway{name: provider.ProviderGCP, err: provider.ErrAuth})
	svc := newTestService(t, gws, WithHistory(store, 0))

	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	days, err := store.DailyCosts(context.Background(), monitor.TotalKey, testStart, testEnd)
	if err != nil {
		t.Fatalf("DailyCosts() error = %v", err)
	}
	if len(days) != 2 || days[0].Cost != 30 || days[1].Cost != 170 {
		t.Errorf("stored totals: got %+v", days)
	}

	runs, err := store.LastSyncs(context.Background())
	if err != nil {
		t.Fatalf("LastSyncs() error = %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("sync runs: got %d, want 3", len(runs))
	}
	for _, run := range runs {
		if run.Provider == "gcp" {
			if run.Success || run.ErrorKind != string(provider.KindAuth) {
				t.Errorf("gcp run: got %+v", run)
			}
		} else if !run.Success {
			t.Errorf("%s run should succeed", run.Provider)
		}
	}
}

func TestStartBackgroundRefresh_RunsOnce(t *testing.T) {
	aws := &mockGateway{name: provider.ProviderAWS, days: map[string]string{"2024-03-01": "10"}}
	svc := newTestService(t, []provider.Gateway{aws}, WithRefreshInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.StartBackgroundRefresh(ctx)
	svc.StartBackgroundRefresh(ctx)

	if !svc.IsReady() {
		t.Error("initial refresh should complete before returning")
	}
	if calls := aws.Calls(); calls != 1 {
		t.Errorf("FetchCosts calls: got %d, want 1", calls)
	}
}

func TestProviderStatuses(t *testing.T) {
	gws := append(twoProviders(), &mockGateway{name: provider.ProviderGCP, err: provider.ErrAuth})
	svc := newTestService(t, gws)

	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	statuses := svc.ProviderStatuses()
	if len(statuses) != 3 {
		t.Fatalf("statuses: got %d, want 3", len(statuses))
	}
	if statuses[0].Provider != provider.ProviderAWS || !statuses[0].Healthy || statuses[0].TotalCost != 120 {
		t.Errorf("aws status: got %+v", statuses[0])
	}
	if statuses[2].Provider != provider.ProviderGCP || statuses[2].Healthy || statuses[2].ErrorKind != provider.KindAuth {
		t.Errorf("gcp status: got %+v", statuses[2])
	}
	if statuses[1].AccountLabel != provider.ProviderAzure.AccountLabel() {
		t.Errorf("AccountLabel: got %q", statuses[1].AccountLabel)
	}
}

func TestBudgetStatuses(t *testing.T) {
	budgets := monitor.NewBudgetMonitor()
	for _, b := range []monitor.Budget{
		{Provider: "aws", Period: monitor.PeriodDaily, Amount: 40},
		{Provider: monitor.TotalKey, Period: monitor.PeriodMonthly, Amount: 1000},
	} {
		if err := budgets.SetBudget(b); err != nil {
			t.Fatalf("SetBudget() error = %v", err)
		}
	}
	svc := newTestService(t, twoProviders(), WithBudgets(budgets))

	report, err := svc.GetCombinedSummary(context.Background(), nil, testStart, testEnd, "USD")
	if err != nil {
		t.Fatalf("GetCombinedSummary() error = %v", err)
	}
	statuses, err := svc.BudgetStatuses(context.Background(), report)
	if err != nil {
		t.Fatalf("BudgetStatuses() error = %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("statuses: got %d, want 2", len(statuses))
	}

	byProvider := map[string]monitor.BudgetStatus{}
	for _, st := range statuses {
		byProvider[st.Provider] = st
	}
	if st := byProvider["aws"]; st.CurrentSpend != 100 || st.Status != monitor.BudgetExceeded {
		t.Errorf("aws daily: got %+v", st)
	}
	if st := byProvider[monitor.TotalKey]; st.CurrentSpend != 200 || st.Status != monitor.BudgetOK {
		t.Errorf("all monthly: got %+v", st)
	}
}

func TestAnomalies_FromReport(t *testing.T) {
	days := map[string]string{
		"2024-03-01": "10", "2024-03-02": "12", "2024-03-03": "9", "2024-03-04": "11",
		"2024-03-05": "10", "2024-03-06": "12", "2024-03-07": "9", "2024-03-08": "100",
	}

	svc := newTestService(t,
		[]provider.Gateway{&mockGateway{name: provider.ProviderAWS, days: days}},
		WithAnomalyDetector(monitor.NewAnomalyDetector(2, 7)))

	report, err := svc.GetCombinedSummary(context.Background(), nil, testStart, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), "USD")
	if err != nil {
		t.Fatalf("GetCombinedSummary() error = %v", err)
	}
	anomalies, err := svc.Anomalies(context.Background(), report)
	if err != nil {
		t.Fatalf("Anomalies() error = %v", err)
	}
	if len(anomalies) != 1 || anomalies[0].Date != "2024-03-08" {
		t.Errorf("anomalies: got %+v", anomalies)
	}
}

func TestPeriodStart(t *testing.T) {
	day := time.Date(2024, 5, 17, 13, 0, 0, 0, time.UTC)
	tests := []struct {
		period monitor.BudgetPeriod
		want   string
	}{
		{monitor.PeriodDaily, "2024-05-17"},
		{monitor.PeriodMonthly, "2024-05-01"},
		{monitor.PeriodYearly, "2024-01-01"},
	}
	for _, tt := range tests {
		if got := PeriodStart(tt.period, day).Format(provider.DateLayout); got != tt.want {
			t.Errorf("PeriodStart(%s): got %s, want %s", tt.period, got, tt.want)
		}
	}
}
