package monitor

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/zgpcy/cloud-cost-monitor/internal/clock"
	"github.com/zgpcy/cloud-cost-monitor/internal/logger"
)

// ErrAlertNotFound is returned by lifecycle operations on unknown alert IDs
var ErrAlertNotFound = errors.New("alert not found")

// Metadata keys recorded on every alert
const (
	MetaExceededBy        = "threshold_exceeded_by"
	MetaProviderBreakdown = "provider_breakdown"
	MetaThresholdScope    = "threshold_scope"
)

// State is the lifecycle position of an alert
type State string

// Alert states. Inactive means no alert exists for the key.
const (
	StateInactive     State = "inactive"
	StateActive       State = "active"
	StateAcknowledged State = "acknowledged"
	StateResolved     State = "resolved"
)

// Alert is one threshold breach for (provider, level, as-of date)
type Alert struct {
	ID             string         `json:"id"`
	Provider       string         `json:"provider"`
	Level          Level          `json:"level"`
	Message        string         `json:"message"`
	CurrentValue   float64        `json:"current_value"`
	ThresholdValue float64        `json:"threshold_value"`
	Currency       string         `json:"currency"`
	Timestamp      time.Time      `json:"timestamp"`
	AsOfDate       string         `json:"as_of_date"`
	Metadata       map[string]any `json:"metadata"`
	Acknowledged   bool           `json:"acknowledged"`
	Resolved       bool           `json:"resolved"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// State derives the lifecycle state from the flags
func (a Alert) State() State {
	switch {
	case a.Resolved:
		return StateResolved
	case a.Acknowledged:
		return StateAcknowledged
	default:
		return StateActive
	}
}

// copy returns a deep copy safe to hand outside the monitor
func (a *Alert) copy() Alert {
	c := *a
	c.Metadata = make(map[string]any, len(a.Metadata))
	for k, v := range a.Metadata {
		if m, ok := v.(map[string]float64); ok {
			mc := make(map[string]float64, len(m))
			for mk, mv := range m {
				mc[mk] = mv
			}
			v = mc
		}
		c.Metadata[k] = v
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

type alertKey struct {
	provider string
	level    Level
	date     string
}

// Summary counts the alert set
type Summary struct {
	Total        int            `json:"total"`
	Active       int            `json:"active"`
	Acknowledged int            `json:"acknowledged"`
	Resolved     int            `json:"resolved"`
	ByLevel      map[Level]int  `json:"by_level"`
	ByProvider   map[string]int `json:"by_provider"`
}

// Option configures a ThresholdMonitor
type Option func(*ThresholdMonitor)

// WithClock overrides the time source
func WithClock(c clock.Clock) Option {
	return func(m *ThresholdMonitor) { m.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(m *ThresholdMonitor) { m.logger = l }
}

// WithCurrency sets the currency stamped on alerts
func WithCurrency(currency string) Option {
	return func(m *ThresholdMonitor) { m.currency = currency }
}

// WithIDGenerator overrides alert ID generation
func WithIDGenerator(fn func() string) Option {
	return func(m *ThresholdMonitor) { m.newID = fn }
}

// ThresholdMonitor owns the live alert set. Evaluation passes are
// serialized; readers take snapshots and never block on a running pass
// longer than the final write.
type ThresholdMonitor struct {
	thresholds Thresholds
	currency   string
	clock      clock.Clock
	logger     *logger.Logger
	newID      func() string

	evalMu sync.Mutex

	mu        sync.RWMutex
	alerts    []*Alert
	byKey     map[alertKey]*Alert
	byID      map[string]*Alert
	callbacks []func(Alert)
}

// NewThresholdMonitor validates thresholds and creates a monitor
func NewThresholdMonitor(thresholds Thresholds, opts ...Option) (*ThresholdMonitor, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}

	m := &ThresholdMonitor{
		thresholds: thresholds,
		currency:   "USD",
		clock:      clock.RealClock{},
		logger:     logger.Discard(),
		newID:      uuid.NewString,
		byKey:      make(map[alertKey]*Alert),
		byID:       make(map[string]*Alert),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Thresholds returns the configured limits
func (m *ThresholdMonitor) Thresholds() Thresholds {
	return m.thresholds
}

// Currency returns the currency thresholds are expressed in
func (m *ThresholdMonitor) Currency() string {
	return m.currency
}

// OnAlert registers a callback invoked for every newly raised or re-raised
// alert. Callbacks run after the evaluation pass has released its locks.
func (m *ThresholdMonitor) OnAlert(fn func(Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// CheckThresholds evaluates costs (provider key to cost) for asOf and
// returns the alerts raised or re-raised by this pass. breakdown is
// recorded on each alert as the cost snapshot at evaluation time.
// Costs that are NaN, infinite or negative are skipped.
func (m *ThresholdMonitor) CheckThresholds(costs map[string]float64, asOf time.Time, breakdown map[string]float64) []Alert {
	m.evalMu.Lock()
	raised := m.evaluate(costs, asOf, breakdown)

	m.mu.RLock()
	callbacks := append([]func(Alert){}, m.callbacks...)
	m.mu.RUnlock()
	m.evalMu.Unlock()

	for _, a := range raised {
		for _, cb := range callbacks {
			cb(a)
		}
	}
	return raised
}

func (m *ThresholdMonitor) evaluate(costs map[string]float64, asOf time.Time, breakdown map[string]float64) []Alert {
	date := clock.TruncateDay(asOf).Format("2006-01-02")
	now := m.clock.Now()

	providers := lo.Keys(costs)
	sort.Strings(providers)

	m.mu.Lock()
	defer m.mu.Unlock()

	var raised []Alert
	for _, p := range providers {
		cost := costs[p]
		if math.IsNaN(cost) || math.IsInf(cost, 0) || cost < 0 {
			m.logger.Warn("Skipping threshold evaluation for unusable cost",
				"provider", p, "cost", cost)
			continue
		}

		m.supersede(p, date, now)
		firing, threshold := m.thresholds.Firing(p, cost)

		for _, level := range Levels {
			key := alertKey{provider: p, level: level, date: date}
			existing := m.byKey[key]

			if level != firing {
				if existing != nil && !existing.Resolved {
					existing.Resolved = true
					resolvedAt := now
					existing.ResolvedAt = &resolvedAt
					m.logger.Info("Alert resolved",
						"alert_id", existing.ID, "provider", p, "level", level, "cost", cost)
				}
				continue
			}

			meta := alertMetadata(cost, threshold, breakdown)
			if existing == nil {
				a := &Alert{
					ID:             m.newID(),
					Provider:       p,
					Level:          level,
					Message:        alertMessage(p, level, cost, threshold.Amount, m.currency),
					CurrentValue:   cost,
					ThresholdValue: threshold.Amount,
					Currency:       m.currency,
					Timestamp:      now,
					AsOfDate:       date,
					Metadata:       meta,
				}
				m.alerts = append(m.alerts, a)
				m.byKey[key] = a
				m.byID[a.ID] = a
				raised = append(raised, a.copy())
				m.logger.Warn("Cost threshold exceeded",
					"alert_id", a.ID, "provider", p, "level", level,
					"cost", cost, "threshold", threshold.Amount)
				continue
			}

			existing.CurrentValue = cost
			existing.ThresholdValue = threshold.Amount
			existing.Message = alertMessage(p, level, cost, threshold.Amount, m.currency)
			existing.Metadata = meta
			if existing.Resolved {
				existing.Resolved = false
				existing.Acknowledged = false
				existing.ResolvedAt = nil
				existing.Timestamp = now
				raised = append(raised, existing.copy())
				m.logger.Warn("Cost threshold exceeded again",
					"alert_id", existing.ID, "provider", p, "level", level, "cost", cost)
			}
		}
	}
	return raised
}

// supersede resolves the unresolved alerts of provider p dated before date.
// Caller holds m.mu.
func (m *ThresholdMonitor) supersede(p, date string, now time.Time) {
	for _, a := range m.alerts {
		if a.Provider != p || a.Resolved || a.AsOfDate >= date {
			continue
		}
		a.Resolved = true
		resolvedAt := now
		a.ResolvedAt = &resolvedAt
		m.logger.Info("Alert superseded by a later evaluation",
			"alert_id", a.ID, "provider", p, "level", a.Level, "as_of_date", a.AsOfDate, "evaluated_date", date)
	}
}

func alertMetadata(cost float64, th Threshold, breakdown map[string]float64) map[string]any {
	snapshot := make(map[string]float64, len(breakdown))
	for k, v := range breakdown {
		snapshot[k] = v
	}
	return map[string]any{
		MetaExceededBy:        cost - th.Amount,
		MetaProviderBreakdown: snapshot,
		MetaThresholdScope:    string(th.Scope),
	}
}

func alertMessage(p string, level Level, cost, threshold float64, currency string) string {
	subject := "Total"
	if p != TotalKey {
		subject = strings.ToUpper(p)
	}
	return fmt.Sprintf("%s cost %.2f %s exceeds %s threshold %.2f %s",
		subject, cost, currency, level, threshold, currency)
}

// ActiveAlerts returns unresolved alerts, optionally restricted to levels
func (m *ThresholdMonitor) ActiveAlerts(levels ...Level) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Alert
	for _, a := range m.alerts {
		if a.Resolved {
			continue
		}
		if len(levels) > 0 && !lo.Contains(levels, a.Level) {
			continue
		}
		out = append(out, a.copy())
	}
	return out
}

// AllAlerts returns every retained alert, resolved ones included
func (m *ThresholdMonitor) AllAlerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, a.copy())
	}
	return out
}

// Get returns a copy of the alert with the given ID
func (m *ThresholdMonitor) Get(id string) (Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.byID[id]
	if !ok {
		return Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	return a.copy(), nil
}

// Acknowledge marks an alert as seen; it stays tracked until resolved
func (m *ThresholdMonitor) Acknowledge(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	a.Acknowledged = true
	return nil
}

// Resolve closes an alert manually. A later breach re-raises it.
func (m *ThresholdMonitor) Resolve(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if !a.Resolved {
		a.Resolved = true
		now := m.clock.Now()
		a.ResolvedAt = &now
	}
	return nil
}

// ClearResolved drops resolved alerts and returns how many were removed
func (m *ThresholdMonitor) ClearResolved() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.alerts[:0]
	removed := 0
	for _, a := range m.alerts {
		if a.Resolved {
			delete(m.byID, a.ID)
			delete(m.byKey, alertKey{provider: a.Provider, level: a.Level, date: a.AsOfDate})
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.alerts = kept
	return removed
}

// Summary counts retained alerts by state, level and provider
func (m *ThresholdMonitor) Summary() Summary {
	return Summarize(m.AllAlerts())
}

// Summarize counts the given alerts
func Summarize(alerts []Alert) Summary {
	s := Summary{
		ByLevel:    make(map[Level]int),
		ByProvider: make(map[string]int),
	}
	for _, a := range alerts {
		s.Total++
		switch a.State() {
		case StateResolved:
			s.Resolved++
			continue
		case StateAcknowledged:
			s.Acknowledged++
		default:
			s.Active++
		}
		s.ByLevel[a.Level]++
		s.ByProvider[a.Provider]++
	}
	return s
}
