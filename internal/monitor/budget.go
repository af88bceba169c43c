package monitor

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// BudgetPeriod is the window a budget applies to
type BudgetPeriod string

// Budget periods
const (
	PeriodDaily   BudgetPeriod = "daily"
	PeriodMonthly BudgetPeriod = "monthly"
	PeriodYearly  BudgetPeriod = "yearly"
)

// ParseBudgetPeriod converts a case-insensitive period name
func ParseBudgetPeriod(s string) (BudgetPeriod, error) {
	switch p := BudgetPeriod(strings.ToLower(strings.TrimSpace(s))); p {
	case PeriodDaily, PeriodMonthly, PeriodYearly:
		return p, nil
	default:
		return "", fmt.Errorf("unknown budget period %q", s)
	}
}

// Budget status values, by percentage of budget used
const (
	BudgetNone     = "no_budget"
	BudgetOK       = "ok"
	BudgetWarning  = "warning"  // >= 75%
	BudgetCritical = "critical" // >= 90%
	BudgetExceeded = "exceeded" // >= 100%
)

// Budget is a spending limit for one provider and period
type Budget struct {
	Provider string       `json:"provider"`
	Period   BudgetPeriod `json:"period"`
	Amount   float64      `json:"amount"`
	Currency string       `json:"currency"`
}

// BudgetStatus reports spend against a budget
type BudgetStatus struct {
	Provider       string       `json:"provider"`
	Period         BudgetPeriod `json:"period"`
	BudgetSet      bool         `json:"budget_set"`
	BudgetAmount   float64      `json:"budget_amount,omitempty"`
	CurrentSpend   float64      `json:"current_spend"`
	Remaining      float64      `json:"remaining,omitempty"`
	PercentageUsed float64      `json:"percentage_used,omitempty"`
	Status         string       `json:"status"`
	Currency       string       `json:"currency,omitempty"`
}

// BudgetMonitor tracks budgets per provider and period
type BudgetMonitor struct {
	mu      sync.RWMutex
	budgets map[string]map[BudgetPeriod]Budget
}

// NewBudgetMonitor creates an empty budget monitor
func NewBudgetMonitor() *BudgetMonitor {
	return &BudgetMonitor{budgets: make(map[string]map[BudgetPeriod]Budget)}
}

// SetBudget adds or replaces the budget for b.Provider and b.Period
func (m *BudgetMonitor) SetBudget(b Budget) error {
	if math.IsNaN(b.Amount) || b.Amount <= 0 {
		return fmt.Errorf("budget for %s/%s must be positive, got %v", b.Provider, b.Period, b.Amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.budgets[b.Provider] == nil {
		m.budgets[b.Provider] = make(map[BudgetPeriod]Budget)
	}
	m.budgets[b.Provider][b.Period] = b
	return nil
}

// Budgets returns every configured budget ordered by provider then period
func (m *BudgetMonitor) Budgets() []Budget {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Budget
	for _, periods := range m.budgets {
		for _, b := range periods {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Period < out[j].Period
	})
	return out
}

// Check compares spend with the provider's budget for period
func (m *BudgetMonitor) Check(provider string, period BudgetPeriod, spend float64) BudgetStatus {
	m.mu.RLock()
	b, ok := m.budgets[provider][period]
	m.mu.RUnlock()

	if !ok {
		return BudgetStatus{Provider: provider, Period: period, CurrentSpend: spend, Status: BudgetNone}
	}

	pct := spend / b.Amount * 100
	status := BudgetOK
	switch {
	case pct >= 100:
		status = BudgetExceeded
	case pct >= 90:
		status = BudgetCritical
	case pct >= 75:
		status = BudgetWarning
	}

	return BudgetStatus{
		Provider:       provider,
		Period:         period,
		BudgetSet:      true,
		BudgetAmount:   b.Amount,
		CurrentSpend:   spend,
		Remaining:      b.Amount - spend,
		PercentageUsed: pct,
		Status:         status,
		Currency:       b.Currency,
	}
}
