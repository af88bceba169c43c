package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMissingExchangeRate is returned when no rate exists for a currency pair and day
var ErrMissingExchangeRate = errors.New("missing exchange rate")

// RateSource looks up the multiplier converting one unit of from into to on asOf
type RateSource interface {
	Rate(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, error)
}

// DefaultUSDValues is the USD value of one unit of each built-in currency
var DefaultUSDValues = map[string]float64{
	"USD": 1.0,
	"EUR": 1.1,
	"GBP": 1.25,
	"JPY": 0.0067,
	"CAD": 0.74,
	"AUD": 0.66,
}

// StaticRates converts through a fixed table of USD values. The table does
// not vary by day.
type StaticRates struct {
	usd map[string]decimal.Decimal
}

// NewStaticRates builds a table from DefaultUSDValues plus overrides.
// Non-positive override values are rejected.
func NewStaticRates(overrides map[string]float64) (*StaticRates, error) {
	usd := make(map[string]decimal.Decimal, len(DefaultUSDValues)+len(overrides))
	for code, v := range DefaultUSDValues {
		usd[code] = decimal.NewFromFloat(v)
	}
	for code, v := range overrides {
		if v <= 0 {
			return nil, fmt.Errorf("exchange rate for %s must be positive, got %v", code, v)
		}
		usd[strings.ToUpper(code)] = decimal.NewFromFloat(v)
	}
	return &StaticRates{usd: usd}, nil
}

// Rate returns usd[from] / usd[to]
func (s *StaticRates) Rate(_ context.Context, from, to string, asOf time.Time) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	fromUSD, ok := s.usd[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s->%s on %s", ErrMissingExchangeRate, from, to, asOf.Format("2006-01-02"))
	}
	toUSD, ok := s.usd[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s->%s on %s", ErrMissingExchangeRate, from, to, asOf.Format("2006-01-02"))
	}
	return fromUSD.DivRound(toUSD, 12), nil
}

// Currencies lists the codes the table knows about
func (s *StaticRates) Currencies() []string {
	out := make([]string, 0, len(s.usd))
	for code := range s.usd {
		out = append(out, code)
	}
	return out
}

type rateKey struct {
	from, to, day string
}

// CachingRates memoizes successful lookups of another source per pair and day
type CachingRates struct {
	source RateSource

	mu    sync.RWMutex
	cache map[rateKey]decimal.Decimal
}

// NewCachingRates wraps source with a lookup cache
func NewCachingRates(source RateSource) *CachingRates {
	return &CachingRates{
		source: source,
		cache:  make(map[rateKey]decimal.Decimal),
	}
}

// Rate serves from the cache, falling through to the wrapped source.
// Failures are not cached.
func (c *CachingRates) Rate(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, error) {
	key := rateKey{from: strings.ToUpper(from), to: strings.ToUpper(to), day: asOf.Format("2006-01-02")}

	c.mu.RLock()
	r, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return r, nil
	}

	r, err := c.source.Rate(ctx, from, to, asOf)
	if err != nil {
		return decimal.Zero, err
	}

	c.mu.Lock()
	c.cache[key] = r
	c.mu.Unlock()
	return r, nil
}
