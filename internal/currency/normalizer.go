package currency

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zgpcy/cloud-cost-monitor/internal/logger"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
)

// UnknownBucket collects costs whose service, region or account is absent
const UnknownBucket = "unknown"

// amountPlaces is the rounding applied to converted amounts
const amountPlaces = 6

// Tag keys consulted, in order, for an account display name
var accountNameTags = []string{
	"subscription_display_name",
	"account_name",
	"project_name",
	"subscription_name",
}

// DailyCost is one day's cost within a summary
type DailyCost struct {
	Date              string             `json:"date"`
	TotalCost         float64            `json:"total_cost"`
	ProviderBreakdown map[string]float64 `json:"provider_breakdown"`
}

// AccountCost is the cost of one account within a provider
type AccountCost struct {
	AccountID   string  `json:"account_id"`
	AccountName string  `json:"account_name"`
	Cost        float64 `json:"cost"`
}

// NormalizedCostSummary is one provider's costs expressed in the target currency
type NormalizedCostSummary struct {
	Provider         provider.ProviderType  `json:"provider"`
	Currency         string                 `json:"currency"`
	OriginalCurrency string                 `json:"original_currency"`
	PeriodStart      time.Time              `json:"period_start"`
	PeriodEnd        time.Time              `json:"period_end"`
	TotalCost        float64                `json:"total_cost"`
	DailyCosts       []DailyCost            `json:"daily_costs"`
	ServiceBreakdown map[string]float64     `json:"service_breakdown"`
	AccountBreakdown map[string]AccountCost `json:"account_breakdown"`
	RegionBreakdown  map[string]float64     `json:"region_breakdown"`
	DataPointCount   int                    `json:"data_points_count"`
	LastUpdated      time.Time              `json:"last_updated"`
}

// AccountNamer resolves display names for accounts the gateway did not name
type AccountNamer interface {
	AccountName(ctx context.Context, p provider.ProviderType, accountID string) (string, bool)
}

// AccountNamerFunc adapts a function to AccountNamer
type AccountNamerFunc func(ctx context.Context, p provider.ProviderType, accountID string) (string, bool)

// AccountName calls f
func (f AccountNamerFunc) AccountName(ctx context.Context, p provider.ProviderType, accountID string) (string, bool) {
	return f(ctx, p, accountID)
}

// NormalizerOption configures a Normalizer
type NormalizerOption func(*Normalizer)

// WithAccountNamer installs a fallback account name resolver
func WithAccountNamer(n AccountNamer) NormalizerOption {
	return func(nz *Normalizer) { nz.namer = n }
}

// WithCanonicalNames maps service and region names onto shared categories
func WithCanonicalNames(enabled bool) NormalizerOption {
	return func(nz *Normalizer) { nz.canonical = enabled }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) NormalizerOption {
	return func(nz *Normalizer) { nz.logger = l }
}

// Normalizer converts provider summaries into the target currency
type Normalizer struct {
	rates     RateSource
	namer     AccountNamer
	canonical bool
	logger    *logger.Logger
}

// NewNormalizer creates a normalizer using rates for conversion
func NewNormalizer(rates RateSource, opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		rates:  rates,
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type bucket struct {
	accountID   string
	accountName string
	cost        decimal.Decimal
}

// Normalize converts every data point of s into target and groups the
// result by day, service, account and region. Amounts already in target
// are summed without conversion. A missing rate for any required day
// fails the whole summary with ErrMissingExchangeRate.
func (n *Normalizer) Normalize(ctx context.Context, s *provider.CostSummary, target string) (*NormalizedCostSummary, error) {
	if s == nil {
		return nil, fmt.Errorf("nil cost summary")
	}
	target = strings.ToUpper(strings.TrimSpace(target))
	if target == "" {
		return nil, fmt.Errorf("target currency is required")
	}

	p := s.Provider
	rates := make(map[string]decimal.Decimal)

	total := decimal.Zero
	daily := make(map[string]decimal.Decimal)
	services := make(map[string]decimal.Decimal)
	regions := make(map[string]decimal.Decimal)
	accounts := make(map[string]*bucket)

	for _, dp := range s.DataPoints {
		from := strings.ToUpper(dp.Currency)
		if from == "" {
			from = strings.ToUpper(s.Currency)
		}
		if from == "" {
			return nil, fmt.Errorf("%s data point on %s has no currency", p, dp.DateKey())
		}

		amount := dp.Amount
		if from != target {
			rate, err := n.rate(ctx, rates, from, target, dp.Date)
			if err != nil {
				return nil, fmt.Errorf("failed to normalize %s costs: %w", p, err)
			}
			amount = amount.Mul(rate).Round(amountPlaces)
		}

		total = total.Add(amount)
		dateKey := dp.DateKey()
		daily[dateKey] = daily[dateKey].Add(amount)

		service := dp.Service
		region := dp.Region
		if n.canonical {
			service = CanonicalService(p, service)
			region = CanonicalRegion(p, region)
		}
		services[orUnknown(service)] = services[orUnknown(service)].Add(amount)
		regions[orUnknown(region)] = regions[orUnknown(region)].Add(amount)

		accountID := orUnknown(dp.AccountID)
		b, ok := accounts[accountID]
		if !ok {
			b = &bucket{accountID: accountID, accountName: n.accountName(ctx, p, dp)}
			accounts[accountID] = b
		} else if b.accountName == b.accountID {
			if name := n.accountName(ctx, p, dp); name != accountID {
				b.accountName = name
			}
		}
		b.cost = b.cost.Add(amount)
	}

	out := &NormalizedCostSummary{
		Provider:         p,
		Currency:         target,
		OriginalCurrency: strings.ToUpper(s.Currency),
		PeriodStart:      s.PeriodStart,
		PeriodEnd:        s.PeriodEnd,
		TotalCost:        total.InexactFloat64(),
		DailyCosts:       make([]DailyCost, 0, len(daily)),
		ServiceBreakdown: floats(services),
		AccountBreakdown: make(map[string]AccountCost, len(accounts)),
		RegionBreakdown:  floats(regions),
		DataPointCount:   len(s.DataPoints),
		LastUpdated:      s.LastUpdated,
	}

	dates := make([]string, 0, len(daily))
	for d := range daily {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for _, d := range dates {
		cost := daily[d].InexactFloat64()
		out.DailyCosts = append(out.DailyCosts, DailyCost{
			Date:              d,
			TotalCost:         cost,
			ProviderBreakdown: map[string]float64{string(p): cost},
		})
	}

	for id, b := range accounts {
		out.AccountBreakdown[id] = AccountCost{
			AccountID:   b.accountID,
			AccountName: b.accountName,
			Cost:        b.cost.InexactFloat64(),
		}
	}

	n.logger.Debug("Normalized provider costs",
		"provider", p,
		"from", out.OriginalCurrency,
		"to", target,
		"data_points", len(s.DataPoints),
		"total", out.TotalCost)

	return out, nil
}

// rate looks up from->target for day, memoized for the duration of one call
func (n *Normalizer) rate(ctx context.Context, seen map[string]decimal.Decimal, from, target string, day time.Time) (decimal.Decimal, error) {
	key := from + "|" + day.Format(provider.DateLayout)
	if r, ok := seen[key]; ok {
		return r, nil
	}
	if n.rates == nil {
		return decimal.Zero, fmt.Errorf("%w: no rate source for %s->%s", ErrMissingExchangeRate, from, target)
	}
	r, err := n.rates.Rate(ctx, from, target, day)
	if err != nil {
		return decimal.Zero, err
	}
	seen[key] = r
	return r, nil
}

// accountName resolves a display name: gateway value, then tags, then the
// configured namer, then the raw ID
func (n *Normalizer) accountName(ctx context.Context, p provider.ProviderType, dp provider.CostDataPoint) string {
	if dp.AccountName != "" {
		return dp.AccountName
	}
	for _, tag := range accountNameTags {
		if v := dp.Tags[tag]; v != "" {
			return v
		}
	}
	id := orUnknown(dp.AccountID)
	if n.namer != nil && dp.AccountID != "" {
		if name, ok := n.namer.AccountName(ctx, p, dp.AccountID); ok && name != "" {
			return name
		}
	}
	return id
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return UnknownBucket
	}
	return s
}

func floats(m map[string]decimal.Decimal) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v.InexactFloat64()
	}
	return out
}
