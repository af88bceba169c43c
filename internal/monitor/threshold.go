package monitor

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrInvalidThresholdConfig is returned when a threshold amount is not a positive finite number
var ErrInvalidThresholdConfig = errors.New("invalid threshold config")

// Level is the severity of a threshold
type Level string

// Threshold levels, in ascending severity
const (
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Levels lists every level, least severe first
var Levels = []Level{LevelWarning, LevelCritical}

// ParseLevel converts a case-insensitive level name
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelWarning, LevelCritical:
		return l, nil
	default:
		return "", fmt.Errorf("unknown alert level %q", s)
	}
}

// Scope tells whether a threshold came from the global or a provider section
type Scope string

// Threshold scopes
const (
	ScopeGlobal   Scope = "global"
	ScopeProvider Scope = "provider"
)

// TotalKey is the provider key under which the combined total is evaluated
const TotalKey = "all"

// Threshold is one configured limit
type Threshold struct {
	Scope    Scope   `json:"scope"`
	Provider string  `json:"provider,omitempty"`
	Level    Level   `json:"level"`
	Amount   float64 `json:"amount"`
}

// Thresholds holds global limits and provider overrides, per level
type Thresholds struct {
	Global   map[Level]float64
	Provider map[string]map[Level]float64
}

// NewThresholds returns an empty threshold set
func NewThresholds() Thresholds {
	return Thresholds{
		Global:   make(map[Level]float64),
		Provider: make(map[string]map[Level]float64),
	}
}

// SetGlobal sets the global limit for a level
func (t *Thresholds) SetGlobal(level Level, amount float64) {
	if t.Global == nil {
		t.Global = make(map[Level]float64)
	}
	t.Global[level] = amount
}

// SetProvider sets a provider-scoped limit for a level
func (t *Thresholds) SetProvider(provider string, level Level, amount float64) {
	if t.Provider == nil {
		t.Provider = make(map[string]map[Level]float64)
	}
	if t.Provider[provider] == nil {
		t.Provider[provider] = make(map[Level]float64)
	}
	t.Provider[provider][level] = amount
}

// Validate rejects non-positive, NaN and infinite amounts
func (t Thresholds) Validate() error {
	for _, th := range t.List() {
		if math.IsNaN(th.Amount) || math.IsInf(th.Amount, 0) || th.Amount <= 0 {
			where := "global"
			if th.Scope == ScopeProvider {
				where = "provider " + th.Provider
			}
			return fmt.Errorf("%w: %s %s threshold must be a positive number, got %v",
				ErrInvalidThresholdConfig, where, th.Level, th.Amount)
		}
	}
	return nil
}

// Effective returns the limit that applies to provider at level.
// A provider-scoped value wins over the global one.
func (t Thresholds) Effective(provider string, level Level) (Threshold, bool) {
	if levels, ok := t.Provider[provider]; ok {
		if amount, ok := levels[level]; ok {
			return Threshold{Scope: ScopeProvider, Provider: provider, Level: level, Amount: amount}, true
		}
	}
	if amount, ok := t.Global[level]; ok {
		return Threshold{Scope: ScopeGlobal, Level: level, Amount: amount}, true
	}
	return Threshold{}, false
}

// Firing picks the most severe level whose threshold cost reaches. The
// level is empty when no threshold is reached.
func (t Thresholds) Firing(provider string, cost float64) (Level, Threshold) {
	if th, ok := t.Effective(provider, LevelCritical); ok && cost >= th.Amount {
		return LevelCritical, th
	}
	if th, ok := t.Effective(provider, LevelWarning); ok && cost >= th.Amount {
		return LevelWarning, th
	}
	return "", Threshold{}
}

// List flattens the set, globals first then providers by name
func (t Thresholds) List() []Threshold {
	var out []Threshold
	for _, level := range Levels {
		if amount, ok := t.Global[level]; ok {
			out = append(out, Threshold{Scope: ScopeGlobal, Level: level, Amount: amount})
		}
	}

	providers := make([]string, 0, len(t.Provider))
	for p := range t.Provider {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	for _, p := range providers {
		for _, level := range Levels {
			if amount, ok := t.Provider[p][level]; ok {
				out = append(out, Threshold{Scope: ScopeProvider, Provider: p, Level: level, Amount: amount})
			}
		}
	}
	return out
}
