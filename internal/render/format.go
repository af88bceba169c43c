package render

import (
	"fmt"
	"strings"
)

// Format selects an output representation
type Format string

// Supported formats
const (
	FormatText     Format = "text"
	FormatTable    Format = "table"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat converts a case-insensitive format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatTable, FormatMarkdown, FormatJSON:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, table, markdown or json)", s)
	}
}

// SortBy selects the alert ordering
type SortBy string

// Alert orderings
const (
	SortByTimestamp SortBy = "timestamp"
	SortByLevel     SortBy = "level"
	SortByProvider  SortBy = "provider"
)

// ParseSortBy converts a case-insensitive sort key
func ParseSortBy(s string) (SortBy, error) {
	switch b := SortBy(strings.ToLower(strings.TrimSpace(s))); b {
	case SortByTimestamp, SortByLevel, SortByProvider:
		return b, nil
	case "":
		return SortByTimestamp, nil
	default:
		return "", fmt.Errorf("unknown sort key %q (want timestamp, level or provider)", s)
	}
}

// money formats an amount with its currency
func money(v float64, currency string) string {
	return fmt.Sprintf("%.2f %s", v, currency)
}

// percent returns part as a share of total
func percent(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return part / total * 100
}

// mdEscape keeps table cells from breaking Markdown rows
func mdEscape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
