package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zgpcy/cloud-cost-monitor/internal/clock"
	"github.com/zgpcy/cloud-cost-monitor/internal/logger"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
)

// ErrNoDataAvailable is returned when every provider call of a cycle failed
var ErrNoDataAvailable = errors.New("no cost data available from any provider")

const (
	// DefaultMaxConcurrency caps concurrent provider calls
	DefaultMaxConcurrency = 3

	// DefaultProviderTimeout bounds a single provider call including retries
	DefaultProviderTimeout = 5 * time.Minute

	// MaxDataPointsPerProvider limits memory usage per cycle.
	// At ~250 bytes per point, 100K points = ~25MB
	MaxDataPointsPerProvider = 100000
)

// ProviderStat records how one provider call went
type ProviderStat struct {
	Duration   time.Duration
	Success    bool
	DataPoints int
	// Truncated counts data points dropped over the per-provider limit
	Truncated  int
	FinishedAt time.Time
}

// Result is the outcome of one collection cycle. A provider appears either
// in Summaries or in Errors, never both.
type Result struct {
	Summaries []*provider.CostSummary
	Errors    map[provider.ProviderType]*provider.Error
	Stats     map[provider.ProviderType]ProviderStat
}

// Err returns ErrNoDataAvailable when no provider produced a summary
func (r *Result) Err() error {
	if len(r.Summaries) == 0 {
		return ErrNoDataAvailable
	}
	return nil
}

// Truncated returns the providers whose data was cut at the data point limit
func (r *Result) Truncated() []provider.ProviderType {
	var out []provider.ProviderType
	for p, st := range r.Stats {
		if st.Truncated > 0 {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Succeeded returns the providers that produced a summary, in order
func (r *Result) Succeeded() []provider.ProviderType {
	out := make([]provider.ProviderType, 0, len(r.Summaries))
	for _, s := range r.Summaries {
		out = append(out, s.Provider)
	}
	return out
}

// Option configures a Collector
type Option func(*Collector)

// WithMaxConcurrency sets how many providers are queried at once
func WithMaxConcurrency(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.maxConcurrency = n
		}
	}
}

// WithProviderTimeout sets the deadline of each provider call
func WithProviderTimeout(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.providerTimeout = d
		}
	}
}

// WithMaxDataPoints sets how many data points are kept per provider
func WithMaxDataPoints(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.maxDataPoints = n
		}
	}
}

// WithLogger sets the collector logger
func WithLogger(l *logger.Logger) Option {
	return func(c *Collector) {
		c.logger = l
	}
}

// WithClock sets the time source used for stats
func WithClock(clk clock.Clock) Option {
	return func(c *Collector) {
		c.clock = clk
	}
}

// Collector fans a query out to provider gateways
type Collector struct {
	maxConcurrency  int
	providerTimeout time.Duration
	maxDataPoints   int
	logger          *logger.Logger
	clock           clock.Clock
}

// New creates a Collector
func New(opts ...Option) *Collector {
	c := &Collector{
		maxConcurrency:  DefaultMaxConcurrency,
		providerTimeout: DefaultProviderTimeout,
		maxDataPoints:   MaxDataPointsPerProvider,
		logger:          logger.Discard(),
		clock:           clock.RealClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect queries every gateway concurrently, at most maxConcurrency at a
// time. Each call runs under its own timeout, and a failing provider never
// cancels the others: its classified error is stored in Result.Errors.
// The returned error is only non-nil for an invalid query.
func (c *Collector) Collect(ctx context.Context, gateways []provider.Gateway, q provider.Query) (*Result, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cost query: %w", err)
	}

	result := &Result{
		Errors: make(map[provider.ProviderType]*provider.Error),
		Stats:  make(map[provider.ProviderType]ProviderStat),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.maxConcurrency)

	for _, gw := range gateways {
		g.Go(func() error {
			start := time.Now()
			summary, dropped, err := c.fetch(ctx, gw, q)
			stat := ProviderStat{
				Duration:   time.Since(start),
				Success:    err == nil,
				Truncated:  dropped,
				FinishedAt: c.clock.Now(),
			}

			name := gw.Name()

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				perr := provider.Classify(name, err)
				result.Errors[name] = perr
				result.Stats[name] = stat
				c.logger.Error("Failed to collect cost data",
					"provider", name,
					"kind", perr.Kind,
					"duration_seconds", stat.Duration.Seconds(),
					"error", err)
				return nil
			}

			stat.DataPoints = len(summary.DataPoints)
			result.Stats[name] = stat
			result.Summaries = append(result.Summaries, summary)
			c.logger.Info("Collected cost data",
				"provider", name,
				"data_points", stat.DataPoints,
				"duration_seconds", stat.Duration.Seconds())
			return nil
		})
	}

	// goroutines never return an error
	_ = g.Wait()

	sort.Slice(result.Summaries, func(i, j int) bool {
		return result.Summaries[i].Provider < result.Summaries[j].Provider
	})

	return result, nil
}

// fetch authenticates and queries one gateway under the provider timeout.
// It also returns how many data points were dropped over the limit.
func (c *Collector) fetch(ctx context.Context, gw provider.Gateway, q provider.Query) (*provider.CostSummary, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.providerTimeout)
	defer cancel()

	name := gw.Name()

	if err := gw.Authenticate(ctx); err != nil {
		return nil, 0, c.wrapTimeout(ctx, fmt.Errorf("failed to authenticate: %w", err))
	}

	summary, err := gw.FetchCosts(ctx, q)
	if err != nil {
		return nil, 0, c.wrapTimeout(ctx, fmt.Errorf("failed to fetch costs: %w", err))
	}
	if summary == nil {
		return nil, 0, fmt.Errorf("%w: gateway returned no summary", provider.ErrTransient)
	}

	if summary.Provider == "" {
		summary.Provider = name
	}
	if summary.Provider != name {
		return nil, 0, fmt.Errorf("gateway %s returned summary for %s", name, summary.Provider)
	}

	dropped := 0
	if len(summary.DataPoints) > c.maxDataPoints {
		dropped = len(summary.DataPoints) - c.maxDataPoints
		c.logger.Warn("Received data points exceeding limit, truncating to prevent memory issues",
			"provider", name,
			"received_count", len(summary.DataPoints),
			"limit", c.maxDataPoints)
		summary.DataPoints = summary.DataPoints[:c.maxDataPoints]
	}
	summary.SortDataPoints()

	return summary, dropped, nil
}

// wrapTimeout marks an error caused by the provider deadline as transient
func (c *Collector) wrapTimeout(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out after %s: %v", provider.ErrTransient, c.providerTimeout, err)
	}
	return err
}
