package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProviderType represents a cloud provider
type ProviderType string

// Supported cloud providers
const (
	ProviderAzure ProviderType = "azure"
	ProviderAWS   ProviderType = "aws"
	ProviderGCP   ProviderType = "gcp"
)

// AllProviders lists every supported provider in stable order
var AllProviders = []ProviderType{ProviderAWS, ProviderAzure, ProviderGCP}

// ParseProviderType converts a case-insensitive name into a ProviderType
func ParseProviderType(name string) (ProviderType, error) {
	p := ProviderType(strings.ToLower(strings.TrimSpace(name)))
	switch p {
	case ProviderAWS, ProviderAzure, ProviderGCP:
		return p, nil
	default:
		return "", fmt.Errorf("unknown provider %q", name)
	}
}

// AccountLabel returns the human name of the provider's billing unit
func (p ProviderType) AccountLabel() string {
	switch p {
	case ProviderAWS:
		return "AWS Account"
	case ProviderAzure:
		return "Azure Subscription"
	case ProviderGCP:
		return "GCP Project"
	default:
		return strings.ToUpper(string(p)) + " Account"
	}
}

// Granularity is the time bucket size of returned cost data
type Granularity string

// Supported granularities
const (
	GranularityDaily   Granularity = "DAILY"
	GranularityMonthly Granularity = "MONTHLY"
)

// ParseGranularity converts a case-insensitive name into a Granularity
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToUpper(strings.TrimSpace(s)))
	switch g {
	case GranularityDaily, GranularityMonthly:
		return g, nil
	default:
		return "", fmt.Errorf("unknown granularity %q", s)
	}
}

// Bucket truncates a day to the start of its granularity period
func (g Granularity) Bucket(t time.Time) time.Time {
	t = t.UTC()
	if g == GranularityMonthly {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DateLayout is the canonical calendar-day format used in breakdown keys
const DateLayout = "2006-01-02"

// Query describes one cost fetch against a provider
type Query struct {
	Start       time.Time
	End         time.Time
	Granularity Granularity
	GroupBy     []string
}

// Validate checks that the query range and granularity are usable
func (q Query) Validate() error {
	if q.Start.IsZero() || q.End.IsZero() {
		return fmt.Errorf("query range must have both start and end")
	}
	if q.End.Before(q.Start) {
		return fmt.Errorf("query end %s is before start %s",
			q.End.Format(DateLayout), q.Start.Format(DateLayout))
	}
	switch q.Granularity {
	case GranularityDaily, GranularityMonthly:
	default:
		return fmt.Errorf("unsupported granularity %q", q.Granularity)
	}
	return nil
}

// Gateway is the interface that all cloud cost providers must implement
type Gateway interface {
	// Name returns the provider name (azure, aws, gcp)
	Name() ProviderType

	// Authenticate verifies credentials before any cost query is issued
	Authenticate(ctx context.Context) error

	// FetchCosts retrieves cost data points for the query range
	FetchCosts(ctx context.Context, q Query) (*CostSummary, error)

	// AccountCount returns the number of accounts/subscriptions/projects being monitored
	AccountCount() int
}

// CostDataPoint is a single cost fact returned by a provider
type CostDataPoint struct {
	Provider    ProviderType
	Date        time.Time // calendar day, UTC midnight
	Amount      decimal.Decimal
	Currency    string
	Service     string
	AccountID   string
	AccountName string
	Region      string
	Tags        map[string]string
}

// DateKey returns the data point's day formatted as YYYY-MM-DD
func (p CostDataPoint) DateKey() string {
	return p.Date.Format(DateLayout)
}

// CostSummary holds every data point one provider returned for one query
type CostSummary struct {
	Provider    ProviderType
	Currency    string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Granularity Granularity
	DataPoints  []CostDataPoint
	LastUpdated time.Time
}

// Total sums every data point amount
func (s *CostSummary) Total() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.DataPoints {
		total = total.Add(p.Amount)
	}
	return total
}

// SortDataPoints orders data points by date, keeping insertion order within a day
func (s *CostSummary) SortDataPoints() {
	sort.SliceStable(s.DataPoints, func(i, j int) bool {
		return s.DataPoints[i].Date.Before(s.DataPoints[j].Date)
	})
}
