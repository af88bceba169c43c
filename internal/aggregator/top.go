package aggregator

import "sort"

// Entry is one named cost in a ranked view
type Entry struct {
	Name string  `json:"name"`
	Cost float64 `json:"cost"`
}

// Rank sorts m by cost descending, name ascending, and keeps the first n.
// n <= 0 keeps everything.
func Rank(m map[string]float64, n int) []Entry {
	out := make([]Entry, 0, len(m))
	for name, cost := range m {
		out = append(out, Entry{Name: name, Cost: cost})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost > out[j].Cost
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// TopProviders ranks providers by total cost
func (s *MultiCloudCostSummary) TopProviders(n int) []Entry {
	return Rank(s.ProviderBreakdown, n)
}

// TopServices ranks provider-qualified services by cost
func (s *MultiCloudCostSummary) TopServices(n int) []Entry {
	return Rank(s.CombinedServiceBreakdown, n)
}

// TopRegions ranks regions by cost
func (s *MultiCloudCostSummary) TopRegions(n int) []Entry {
	return Rank(s.CombinedRegionalBreakdown, n)
}

// TopAccounts ranks accounts by cost, provider then account ID breaking ties
func (s *MultiCloudCostSummary) TopAccounts(n int) []CombinedAccount {
	out := make([]CombinedAccount, 0, len(s.CombinedAccountBreakdown))
	for _, a := range s.CombinedAccountBreakdown {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCost != out[j].TotalCost {
			return out[i].TotalCost > out[j].TotalCost
		}
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].AccountID < out[j].AccountID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
