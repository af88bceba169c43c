package engine

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/zgpcy/cloud-cost-monitor/internal/aggregator"
	"github.com/zgpcy/cloud-cost-monitor/internal/collector"
	"github.com/zgpcy/cloud-cost-monitor/internal/currency"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
)

// Stage names the step of a cycle at which a provider failed
type Stage string

// Failure stages
const (
	StageCollect   Stage = "collect"
	StageNormalize Stage = "normalize"
)

// KindMissingExchangeRate is reported for providers whose currency could not be converted
const KindMissingExchangeRate provider.ErrorKind = "MissingExchangeRate"

// ProviderError is a provider failure retained in a Report
type ProviderError struct {
	Provider provider.ProviderType `json:"provider"`
	Stage    Stage                 `json:"stage"`
	Kind     provider.ErrorKind    `json:"kind"`
	Message  string                `json:"message"`
	Err      error                 `json:"-"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed (%s): %s", e.Provider, e.Stage, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func collectError(perr *provider.Error) *ProviderError {
	return &ProviderError{
		Provider: perr.Provider,
		Stage:    StageCollect,
		Kind:     perr.Kind,
		Message:  perr.Err.Error(),
		Err:      perr,
	}
}

func normalizeError(p provider.ProviderType, err error) *ProviderError {
	kind := provider.KindTransient
	if errors.Is(err, currency.ErrMissingExchangeRate) {
		kind = KindMissingExchangeRate
	}
	return &ProviderError{
		Provider: p,
		Stage:    StageNormalize,
		Kind:     kind,
		Message:  err.Error(),
		Err:      err,
	}
}

// Report is the outcome of one cycle. Summary is nil when no provider
// produced data. Partial is set when a provider failed or when its data was
// cut at the collector's data point limit (listed in Truncated).
type Report struct {
	Summary     *aggregator.MultiCloudCostSummary                `json:"summary"`
	Normalized  []*currency.NormalizedCostSummary                `json:"-"`
	Errors      map[provider.ProviderType]*ProviderError         `json:"errors"`
	Stats       map[provider.ProviderType]collector.ProviderStat `json:"-"`
	Query       provider.Query                                   `json:"-"`
	Truncated   []provider.ProviderType                          `json:"truncated,omitempty"`
	Partial     bool                                             `json:"partial"`
	GeneratedAt time.Time                                        `json:"generated_at"`
}

// Failures returns the provider errors keyed by provider name
func (r *Report) Failures() map[string]error {
	if r == nil || len(r.Errors) == 0 {
		return nil
	}
	out := make(map[string]error, len(r.Errors))
	for p, err := range r.Errors {
		out[string(p)] = err
	}
	return out
}

// Copy returns a report whose summary can be handed to readers
func (r *Report) Copy() *Report {
	if r == nil {
		return nil
	}
	c := *r
	if r.Summary != nil {
		c.Summary = r.Summary.Copy()
	}
	c.Errors = make(map[provider.ProviderType]*ProviderError, len(r.Errors))
	for p, e := range r.Errors {
		ec := *e
		c.Errors[p] = &ec
	}
	c.Truncated = slices.Clone(r.Truncated)
	c.Stats = make(map[provider.ProviderType]collector.ProviderStat, len(r.Stats))
	for p, s := range r.Stats {
		c.Stats[p] = s
	}
	return &c
}
