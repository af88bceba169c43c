package aggregator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zgpcy/cloud-cost-monitor/internal/currency"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
)

// CombinedDailyCost is one day across every provider of the cycle
type CombinedDailyCost struct {
	Date              string             `json:"date"`
	TotalCost         float64            `json:"total_cost"`
	Currency          string             `json:"currency"`
	ProviderBreakdown map[string]float64 `json:"provider_breakdown"`
}

// CombinedAccount is one provider-qualified account
type CombinedAccount struct {
	Provider      string  `json:"provider"`
	AccountID     string  `json:"account_id"`
	AccountName   string  `json:"account_name"`
	ProviderLabel string  `json:"provider_label"`
	TotalCost     float64 `json:"total_cost"`
	Percentage    float64 `json:"percentage"`
	Currency      string  `json:"currency"`
}

// MultiCloudCostSummary is the merged view over all normalized providers
type MultiCloudCostSummary struct {
	TotalCost                 float64                    `json:"total_cost"`
	Currency                  string                     `json:"currency"`
	PeriodStart               time.Time                  `json:"period_start"`
	PeriodEnd                 time.Time                  `json:"period_end"`
	ProviderBreakdown         map[string]float64         `json:"provider_breakdown"`
	CombinedDailyCosts        []CombinedDailyCost        `json:"combined_daily_costs"`
	CombinedServiceBreakdown  map[string]float64         `json:"combined_service_breakdown"`
	CombinedAccountBreakdown  map[string]CombinedAccount `json:"combined_account_breakdown"`
	CombinedRegionalBreakdown map[string]float64         `json:"combined_regional_breakdown"`
}

// ServiceKey qualifies a service name with its provider, e.g. "AWS: Amazon S3"
func ServiceKey(p provider.ProviderType, service string) string {
	return fmt.Sprintf("%s: %s", strings.ToUpper(string(p)), service)
}

// AccountKey qualifies an account ID with its provider, e.g. "aws:123456789012"
func AccountKey(p provider.ProviderType, accountID string) string {
	return fmt.Sprintf("%s:%s", p, accountID)
}

// Aggregate merges normalized summaries into one view in target currency.
// Inputs are processed in provider order so float sums do not depend on
// argument order. Summaries in another currency or duplicated providers
// are rejected. The result does not share maps with the inputs.
func Aggregate(target string, start, end time.Time, summaries ...*currency.NormalizedCostSummary) (*MultiCloudCostSummary, error) {
	target = strings.ToUpper(target)

	out := &MultiCloudCostSummary{
		Currency:                  target,
		PeriodStart:               start,
		PeriodEnd:                 end,
		ProviderBreakdown:         make(map[string]float64, len(summaries)),
		CombinedServiceBreakdown:  make(map[string]float64),
		CombinedAccountBreakdown:  make(map[string]CombinedAccount),
		CombinedRegionalBreakdown: make(map[string]float64),
	}

	ordered := make([]*currency.NormalizedCostSummary, 0, len(summaries))
	for _, s := range summaries {
		if s != nil {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Provider < ordered[j].Provider })

	providers := make([]string, 0, len(ordered))
	daily := make(map[string]map[string]float64)

	for _, s := range ordered {
		if s.Currency != target {
			return nil, fmt.Errorf("summary for %s is in %s, expected %s", s.Provider, s.Currency, target)
		}

		p := string(s.Provider)
		if _, dup := out.ProviderBreakdown[p]; dup {
			return nil, fmt.Errorf("duplicate summary for provider %s", p)
		}
		providers = append(providers, p)

		out.TotalCost += s.TotalCost
		out.ProviderBreakdown[p] = s.TotalCost

		for _, d := range s.DailyCosts {
			if daily[d.Date] == nil {
				daily[d.Date] = make(map[string]float64)
			}
			daily[d.Date][p] += d.TotalCost
		}

		for service, cost := range s.ServiceBreakdown {
			out.CombinedServiceBreakdown[ServiceKey(s.Provider, service)] += cost
		}

		for _, acct := range s.AccountBreakdown {
			key := AccountKey(s.Provider, acct.AccountID)
			entry := out.CombinedAccountBreakdown[key]
			entry.Provider = p
			entry.AccountID = acct.AccountID
			entry.AccountName = acct.AccountName
			entry.ProviderLabel = s.Provider.AccountLabel()
			entry.Currency = target
			entry.TotalCost += acct.Cost
			out.CombinedAccountBreakdown[key] = entry
		}

		for region, cost := range s.RegionBreakdown {
			out.CombinedRegionalBreakdown[region] += cost
		}
	}

	dates := make([]string, 0, len(daily))
	for d := range daily {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out.CombinedDailyCosts = make([]CombinedDailyCost, 0, len(dates))
	for _, d := range dates {
		entry := CombinedDailyCost{
			Date:              d,
			Currency:          target,
			ProviderBreakdown: make(map[string]float64, len(providers)),
		}
		for _, p := range providers {
			cost := daily[d][p]
			entry.ProviderBreakdown[p] = cost
			entry.TotalCost += cost
		}
		out.CombinedDailyCosts = append(out.CombinedDailyCosts, entry)
	}

	accountKeys := make([]string, 0, len(out.CombinedAccountBreakdown))
	for key := range out.CombinedAccountBreakdown {
		accountKeys = append(accountKeys, key)
	}
	sort.Strings(accountKeys)

	var accountTotal float64
	for _, key := range accountKeys {
		accountTotal += out.CombinedAccountBreakdown[key].TotalCost
	}
	if accountTotal > 0 {
		for key, a := range out.CombinedAccountBreakdown {
			a.Percentage = a.TotalCost / accountTotal * 100
			out.CombinedAccountBreakdown[key] = a
		}
	}

	return out, nil
}

// Providers returns the provider keys of the summary in sorted order
func (s *MultiCloudCostSummary) Providers() []string {
	out := make([]string, 0, len(s.ProviderBreakdown))
	for p := range s.ProviderBreakdown {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// AsOfDay returns the last day of the period, the day thresholds are
// evaluated against. ok is false when the summary has no days.
func (s *MultiCloudCostSummary) AsOfDay() (day CombinedDailyCost, ok bool) {
	if len(s.CombinedDailyCosts) == 0 {
		return CombinedDailyCost{}, false
	}
	return s.CombinedDailyCosts[len(s.CombinedDailyCosts)-1], true
}

// Copy returns a deep copy, safe to hand to renderers while evaluation continues
func (s *MultiCloudCostSummary) Copy() *MultiCloudCostSummary {
	if s == nil {
		return nil
	}
	c := *s
	c.ProviderBreakdown = copyFloats(s.ProviderBreakdown)
	c.CombinedServiceBreakdown = copyFloats(s.CombinedServiceBreakdown)
	c.CombinedRegionalBreakdown = copyFloats(s.CombinedRegionalBreakdown)
	c.CombinedAccountBreakdown = make(map[string]CombinedAccount, len(s.CombinedAccountBreakdown))
	for k, v := range s.CombinedAccountBreakdown {
		c.CombinedAccountBreakdown[k] = v
	}
	c.CombinedDailyCosts = make([]CombinedDailyCost, len(s.CombinedDailyCosts))
	for i, d := range s.CombinedDailyCosts {
		d.ProviderBreakdown = copyFloats(d.ProviderBreakdown)
		c.CombinedDailyCosts[i] = d
	}
	return &c
}

func copyFloats(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
