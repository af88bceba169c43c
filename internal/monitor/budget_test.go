package monitor

import "testing"

func TestBudgetMonitor_Check(t *testing.T) {
	m := NewBudgetMonitor()
	if err := m.SetBudget(Budget{Provider: "aws", Period: PeriodMonthly, Amount: 1000, Currency: "USD"}); err != nil {
		t.Fatalf("SetBudget() error = %v", err)
	}

	tests := []struct {
		spend float64
		want  string
	}{
		{100, BudgetOK},
		{750, BudgetWarning},
		{900, BudgetCritical},
		{1000, BudgetExceeded},
		{1500, BudgetExceeded},
	}

	for _, tt := range tests {
		got := m.Check("aws", PeriodMonthly, tt.spend)
		if got.Status != tt.want {
			t.Errorf("spend %v: got %s, want %s", tt.spend, got.Status, tt.want)
		}
		if !got.BudgetSet || got.Remaining != 1000-tt.spend {
			t.Errorf("spend %v: got %+v", tt.spend, got)
		}
	}
}

func TestBudgetMonitor_NoBudget(t *testing.T) {
	m := NewBudgetMonitor()
	got := m.Check("gcp", PeriodYearly, 10)
	if got.BudgetSet || got.Status != BudgetNone {
		t.Errorf("got %+v, want no_budget", got)
	}
}

func TestBudgetMonitor_SetBudgetRejectsNonPositive(t *testing.T) {
	m := NewBudgetMonitor()
	if err := m.SetBudget(Budget{Provider: "aws", Period: PeriodDaily, Amount: 0}); err == nil {
		t.Error("zero budget should be rejected")
	}
}

func TestBudgetMonitor_BudgetsSorted(t *testing.T) {
	m := NewBudgetMonitor()
	_ = m.SetBudget(Budget{Provider: "gcp", Period: PeriodMonthly, Amount: 5})
	_ = m.SetBudget(Budget{Provider: "aws", Period: PeriodYearly, Amount: 5})
	_ = m.SetBudget(Budget{Provider: "aws", Period: PeriodMonthly, Amount: 5})

	got := m.Budgets()
	want := []string{"aws/monthly", "aws/yearly", "gcp/monthly"}
	for i, b := range got {
		if key := b.Provider + "/" + string(b.Period); key != want[i] {
			t.Errorf("Budgets()[%d]: got %s, want %s", i, key, want[i])
		}
	}
}

func TestParseBudgetPeriod(t *testing.T) {
	if p, err := ParseBudgetPeriod("Monthly"); err != nil || p != PeriodMonthly {
		t.Errorf("got %v, %v", p, err)
	}
	if _, err := ParseBudgetPeriod("weekly"); err == nil {
		t.Error("weekly should be rejected")
	}
}
