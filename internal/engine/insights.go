package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zgpcy/cloud-cost-monitor/internal/clock"
	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
)

// ProviderStatus describes one configured provider for the API
type ProviderStatus struct {
	Provider        provider.ProviderType `json:"provider"`
	AccountLabel    string                `json:"account_label"`
	Accounts        int                   `json:"accounts"`
	Healthy         bool                  `json:"healthy"`
	TotalCost       float64               `json:"total_cost"`
	DataPoints      int                   `json:"data_points"`
	TruncatedPoints int                   `json:"truncated_points,omitempty"`
	DurationSeconds float64               `json:"duration_seconds"`
	ErrorKind       provider.ErrorKind    `json:"error_kind,omitempty"`
	Error           string                `json:"error,omitempty"`
	LastUpdated     time.Time             `json:"last_updated,omitempty"`
}

// ProviderStatuses reports every gateway against the latest report
func (s *Service) ProviderStatuses() []ProviderStatus {
	s.mu.RLock()
	report := s.lastReport
	s.mu.RUnlock()

	out := make([]ProviderStatus, 0, len(s.gateways))
	for _, gw := range s.gateways {
		p := gw.Name()
		st := ProviderStatus{
			Provider:     p,
			AccountLabel: p.AccountLabel(),
			Accounts:     gw.AccountCount(),
		}
		if report != nil {
			if stat, ok := report.Stats[p]; ok {
				st.DataPoints = stat.DataPoints
				st.TruncatedPoints = stat.Truncated
				st.DurationSeconds = stat.Duration.Seconds()
				st.LastUpdated = stat.FinishedAt
			}
			if perr, ok := report.Errors[p]; ok {
				st.ErrorKind = perr.Kind
				st.Error = perr.Message
			} else if report.Summary != nil {
				cost, ok := report.Summary.ProviderBreakdown[string(p)]
				st.Healthy = ok
				st.TotalCost = cost
			}
		}
		out = append(out, st)
	}
	return out
}

// Anomalies returns days whose combined cost spiked above the rolling band.
// The history store is used when configured and report is in the service
// currency, otherwise the daily totals of report (or of the latest report
// when report is nil).
func (s *Service) Anomalies(ctx context.Context, report *Report) ([]monitor.Anomaly, error) {
	if s.anomalies == nil {
		return nil, nil
	}
	if report == nil {
		report = s.LastReport()
	}

	if s.history != nil && (report == nil || report.Summary == nil || strings.EqualFold(report.Summary.Currency, s.currency)) {
		end := clock.TruncateDay(s.clock.Now())
		if report != nil {
			end = report.Query.End
		}
		dates, costs, err := s.history.Series(ctx, monitor.TotalKey, end.AddDate(0, 0, -AnomalyLookbackDays), end)
		if err != nil {
			return nil, fmt.Errorf("failed to load cost history: %w", err)
		}
		return s.anomalies.DetectSeries(dates, costs), nil
	}

	if report == nil || report.Summary == nil {
		return nil, nil
	}
	days := report.Summary.CombinedDailyCosts
	dates := make([]string, len(days))
	costs := make([]float64, len(days))
	for i, d := range days {
		dates[i] = d.Date
		costs[i] = d.TotalCost
	}
	return s.anomalies.DetectSeries(dates, costs), nil
}

// BudgetStatuses compares period-to-date spend with every configured budget.
// Periods end at the last day of report; spend comes from the history store
// when configured, otherwise from the days covered by report.
func (s *Service) BudgetStatuses(ctx context.Context, report *Report) ([]monitor.BudgetStatus, error) {
	if s.budgets == nil {
		return nil, nil
	}
	if report == nil {
		report = s.LastReport()
	}
	if report == nil || report.Summary == nil {
		return nil, nil
	}
	if !strings.EqualFold(report.Summary.Currency, s.currency) {
		return nil, fmt.Errorf("%w: report in %s, budgets in %s", ErrCurrencyMismatch, report.Summary.Currency, s.currency)
	}

	budgets := s.budgets.Budgets()
	out := make([]monitor.BudgetStatus, 0, len(budgets))
	for _, b := range budgets {
		spend, err := s.periodSpend(ctx, b.Provider, b.Period, report)
		if err != nil {
			return nil, err
		}
		out = append(out, s.budgets.Check(b.Provider, b.Period, spend))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Period < out[j].Period
	})
	return out, nil
}

// periodSpend sums the spend of provider p (or monitor.TotalKey) from the
// start of period up to the report end
func (s *Service) periodSpend(ctx context.Context, p string, period monitor.BudgetPeriod, report *Report) (float64, error) {
	end := report.Query.End
	start := PeriodStart(period, end)

	var spend float64
	if s.history != nil {
		days, err := s.history.DailyCosts(ctx, p, start, end)
		if err != nil {
			return 0, fmt.Errorf("failed to load spend for %s: %w", p, err)
		}
		for _, d := range days {
			spend += d.Cost
		}
		return spend, nil
	}

	from, to := start.Format(provider.DateLayout), end.Format(provider.DateLayout)
	for _, d := range report.Summary.CombinedDailyCosts {
		if d.Date < from || d.Date > to {
			continue
		}
		if p == monitor.TotalKey {
			spend += d.TotalCost
		} else {
			spend += d.ProviderBreakdown[p]
		}
	}
	return spend, nil
}

// PeriodStart returns the first day of the budget period containing day
func PeriodStart(period monitor.BudgetPeriod, day time.Time) time.Time {
	day = clock.TruncateDay(day)
	switch period {
	case monitor.PeriodMonthly:
		return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	case monitor.PeriodYearly:
		return time.Date(day.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}
