package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zgpcy/cloud-cost-monitor/internal/aggregator"
	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
)

// IcingaStatus is a Nagios/Icinga plugin state. Its value is the plugin exit code.
type IcingaStatus int

// Plugin states
const (
	IcingaOK IcingaStatus = iota
	IcingaWarning
	IcingaCritical
	IcingaUnknown
)

func (s IcingaStatus) String() string {
	switch s {
	case IcingaOK:
		return "OK"
	case IcingaWarning:
		return "WARNING"
	case IcingaCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

func icingaStatus(level monitor.Level) IcingaStatus {
	switch level {
	case monitor.LevelCritical:
		return IcingaCritical
	case monitor.LevelWarning:
		return IcingaWarning
	default:
		return IcingaOK
	}
}

// Icinga writes a monitoring plugin result for the as-of day of s, its last
// day: a status line with performance data, one line per provider and
// failure, then the period total. The status is the worst level reached
// that day by any provider or by the combined total. A nil summary, or one
// without days, yields UNKNOWN.
func Icinga(w io.Writer, s *aggregator.MultiCloudCostSummary, failures map[string]error, th monitor.Thresholds) (IcingaStatus, error) {
	if s == nil {
		return icingaUnknown(w, failures)
	}
	day, ok := s.AsOfDay()
	if !ok {
		return icingaUnknown(w, failures)
	}

	dayCosts := make(map[string]float64, len(s.ProviderBreakdown))
	for p := range s.ProviderBreakdown {
		dayCosts[p] = day.ProviderBreakdown[p]
	}

	totalLevel, _ := th.Firing(monitor.TotalKey, day.TotalCost)
	status := icingaStatus(totalLevel)

	providers := aggregator.Rank(dayCosts, 0)
	perfdata := []string{perfItem("total_cost", monitor.TotalKey, day.TotalCost, s.Currency, th)}
	breakdown := make([]string, 0, len(providers))
	var long []string

	for _, e := range providers {
		level, _ := th.Firing(e.Name, e.Cost)
		ps := icingaStatus(level)
		if ps > status {
			status = ps
		}
		breakdown = append(breakdown, fmt.Sprintf("%s: %.2f", e.Name, e.Cost))
		perfdata = append(perfdata, perfItem(e.Name+"_cost", e.Name, e.Cost, s.Currency, th))
		long = append(long, fmt.Sprintf("%s: %s [%s]", strings.ToUpper(e.Name), money(e.Cost, s.Currency), ps))
	}
	for _, p := range sortedFailures(failures) {
		long = append(long, fmt.Sprintf("%s: ERROR - %v", strings.ToUpper(p), failures[p]))
	}
	long = append(long, fmt.Sprintf("Period %s: %s", period(s), money(s.TotalCost, s.Currency)))

	var b strings.Builder
	fmt.Fprintf(&b, "%s - Cost %s: %s (%s) | %s\n",
		status, day.Date, money(day.TotalCost, s.Currency), strings.Join(breakdown, ", "), strings.Join(perfdata, " "))
	for _, line := range long {
		b.WriteString(line)
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return status, err
}

func icingaUnknown(w io.Writer, failures map[string]error) (IcingaStatus, error) {
	var b strings.Builder
	b.WriteString("UNKNOWN - no cost data available\n")
	for _, p := range sortedFailures(failures) {
		fmt.Fprintf(&b, "%s: ERROR - %v\n", strings.ToUpper(p), failures[p])
	}
	_, err := io.WriteString(w, b.String())
	return IcingaUnknown, err
}

// perfItem formats 'label'=value[UOM];warn;crit;min;max
func perfItem(label, key string, value float64, currency string, th monitor.Thresholds) string {
	limit := func(level monitor.Level) string {
		if t, ok := th.Effective(key, level); ok {
			return strconv.FormatFloat(t.Amount, 'f', -1, 64)
		}
		return ""
	}
	return fmt.Sprintf("'%s'=%.2f%s;%s;%s;0;", label, value, currency, limit(monitor.LevelWarning), limit(monitor.LevelCritical))
}
