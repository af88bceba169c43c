package render

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
)

// timeLayout is used for alert timestamps in human formats
const timeLayout = "2006-01-02 15:04:05"

// NoAlerts is written instead of an empty list
const NoAlerts = "No alerts to display."

// SortAlerts returns a sorted copy of alerts. Level puts critical first,
// newest first within a level; provider sorts by name, oldest first;
// timestamp lists newest first.
func SortAlerts(alerts []monitor.Alert, by SortBy) []monitor.Alert {
	out := append([]monitor.Alert(nil), alerts...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch by {
		case SortByLevel:
			if a.Level != b.Level {
				return a.Level == monitor.LevelCritical
			}
			return a.Timestamp.After(b.Timestamp)
		case SortByProvider:
			if a.Provider != b.Provider {
				return a.Provider < b.Provider
			}
			return a.Timestamp.Before(b.Timestamp)
		default:
			return a.Timestamp.After(b.Timestamp)
		}
	})
	return out
}

// Alerts writes alerts in the requested format and order
func Alerts(w io.Writer, alerts []monitor.Alert, f Format, by SortBy) error {
	sorted := SortAlerts(alerts, by)

	if f == FormatJSON {
		if sorted == nil {
			sorted = []monitor.Alert{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sorted)
	}

	if len(sorted) == 0 {
		_, err := fmt.Fprintln(w, NoAlerts)
		return err
	}

	switch f {
	case FormatTable:
		return alertTable(w, sorted)
	case FormatMarkdown:
		var b strings.Builder
		for i, a := range sorted {
			if i > 0 {
				b.WriteString("\n")
			}
			alertMarkdown(&b, a)
		}
		_, err := io.WriteString(w, b.String())
		return err
	case FormatText, "":
		for _, a := range sorted {
			if _, err := fmt.Fprintln(w, AlertLine(a)); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported format %q", f)
	}
}

// AlertLine formats one alert on a single line
func AlertLine(a monitor.Alert) string {
	parts := []string{
		a.Timestamp.Format(timeLayout),
		"[" + strings.ToUpper(string(a.Level)) + "]",
		"[" + strings.ToUpper(a.Provider) + "]",
		a.Message,
		fmt.Sprintf("(Current: %s, Threshold: %s)", money(a.CurrentValue, a.Currency), money(a.ThresholdValue, a.Currency)),
	}
	if state := a.State(); state != monitor.StateActive {
		parts = append(parts, "<"+string(state)+">")
	}
	return strings.Join(parts, " ")
}

func alertTable(w io.Writer, alerts []monitor.Alert) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tLEVEL\tPROVIDER\tDATE\tCURRENT\tTHRESHOLD\tSTATE")
	for _, a := range alerts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\t%.2f\t%s\n",
			a.ID,
			a.Timestamp.Format(timeLayout),
			strings.ToUpper(string(a.Level)),
			strings.ToUpper(a.Provider),
			a.AsOfDate,
			a.CurrentValue,
			a.ThresholdValue,
			a.State())
	}
	return tw.Flush()
}

func alertMarkdown(b *strings.Builder, a monitor.Alert) {
	fmt.Fprintf(b, "## %s Alert\n\n", strings.ToUpper(string(a.Level)))
	fmt.Fprintf(b, "**Provider:** %s  \n", strings.ToUpper(a.Provider))
	fmt.Fprintf(b, "**Message:** %s  \n", a.Message)
	fmt.Fprintf(b, "**Current Cost:** %s  \n", money(a.CurrentValue, a.Currency))
	fmt.Fprintf(b, "**Threshold:** %s  \n", money(a.ThresholdValue, a.Currency))
	fmt.Fprintf(b, "**Date:** %s  \n", a.AsOfDate)
	fmt.Fprintf(b, "**State:** %s\n", a.State())

	exceeded, hasExceeded := a.Metadata[monitor.MetaExceededBy].(float64)
	breakdown, _ := a.Metadata[monitor.MetaProviderBreakdown].(map[string]float64)
	if !hasExceeded && len(breakdown) == 0 {
		return
	}

	b.WriteString("\n**Details:**\n")
	if hasExceeded {
		fmt.Fprintf(b, "- Exceeded by: %s\n", money(exceeded, a.Currency))
	}
	if len(breakdown) > 0 {
		b.WriteString("- Provider breakdown:\n")
		keys := make([]string, 0, len(breakdown))
		for k := range breakdown {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "  - %s: %s\n", k, money(breakdown[k], a.Currency))
		}
	}
}

// AlertSummary describes the unresolved part of an alert set in one line
func AlertSummary(alerts []monitor.Alert) string {
	var active []monitor.Alert
	for _, a := range alerts {
		if !a.Resolved {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		return "No active alerts"
	}

	s := monitor.Summarize(active)
	providers := make([]string, 0, len(s.ByProvider))
	for p := range s.ByProvider {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	noun := "alerts"
	if len(active) == 1 {
		noun = "alert"
	}
	return fmt.Sprintf("%d active %s: %d critical, %d warning (providers: %s)",
		len(active), noun,
		s.ByLevel[monitor.LevelCritical], s.ByLevel[monitor.LevelWarning],
		strings.Join(providers, ", "))
}
