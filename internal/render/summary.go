package render

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"

	"github.com/zgpcy/cloud-cost-monitor/internal/aggregator"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
)

// TopN is how many services, accounts and regions summaries list
const TopN = 10

// summaryDocument is the JSON shape of a rendered summary
type summaryDocument struct {
	Summary *aggregator.MultiCloudCostSummary `json:"summary"`
	Errors  map[string]string                 `json:"errors,omitempty"`
}

// Summary writes the combined view followed by any provider failures
func Summary(w io.Writer, s *aggregator.MultiCloudCostSummary, failures map[string]error, f Format) error {
	if s == nil {
		return fmt.Errorf("no summary to render")
	}

	switch f {
	case FormatJSON:
		doc := summaryDocument{Summary: s}
		if len(failures) > 0 {
			doc.Errors = make(map[string]string, len(failures))
			for p, err := range failures {
				doc.Errors[p] = err.Error()
			}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatMarkdown:
		return summaryMarkdown(w, s, failures)
	case FormatTable:
		return summaryTable(w, s, failures)
	case FormatText, "":
		return summaryText(w, s, failures)
	default:
		return fmt.Errorf("unsupported format %q", f)
	}
}

func period(s *aggregator.MultiCloudCostSummary) string {
	return fmt.Sprintf("%s to %s", s.PeriodStart.Format(provider.DateLayout), s.PeriodEnd.Format(provider.DateLayout))
}

func sortedFailures(failures map[string]error) []string {
	keys := make([]string, 0, len(failures))
	for k := range failures {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func accountName(a aggregator.CombinedAccount) string {
	if a.AccountName != "" && a.AccountName != a.AccountID {
		return fmt.Sprintf("%s (%s)", a.AccountName, a.AccountID)
	}
	return a.AccountID
}

func summaryText(w io.Writer, s *aggregator.MultiCloudCostSummary, failures map[string]error) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Multi-cloud cost summary (%s)\n", period(s))
	fmt.Fprintf(&b, "Total: %s\n", money(s.TotalCost, s.Currency))

	b.WriteString("\nBy provider:\n")
	for _, e := range s.TopProviders(0) {
		fmt.Fprintf(&b, "  %-8s %14s  %5.1f%%\n", strings.ToUpper(e.Name), money(e.Cost, s.Currency), percent(e.Cost, s.TotalCost))
	}

	if services := s.TopServices(TopN); len(services) > 0 {
		b.WriteString("\nTop services:\n")
		for _, e := range services {
			fmt.Fprintf(&b, "  %s: %s\n", e.Name, money(e.Cost, s.Currency))
		}
	}

	if accounts := s.TopAccounts(TopN); len(accounts) > 0 {
		b.WriteString("\nTop accounts:\n")
		for _, a := range accounts {
			fmt.Fprintf(&b, "  %s %s: %s (%.1f%%)\n", a.ProviderLabel, accountName(a), money(a.TotalCost, s.Currency), a.Percentage)
		}
	}

	if regions := s.TopRegions(TopN); len(regions) > 0 {
		b.WriteString("\nTop regions:\n")
		for _, e := range regions {
			fmt.Fprintf(&b, "  %s: %s\n", e.Name, money(e.Cost, s.Currency))
		}
	}

	if len(s.CombinedDailyCosts) > 0 {
		b.WriteString("\nDaily:\n")
		for _, d := range s.CombinedDailyCosts {
			fmt.Fprintf(&b, "  %s  %s\n", d.Date, money(d.TotalCost, s.Currency))
		}
	}

	if len(failures) > 0 {
		b.WriteString("\nProvider errors:\n")
		for _, p := range sortedFailures(failures) {
			fmt.Fprintf(&b, "  %s: %v\n", p, failures[p])
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func summaryTable(w io.Writer, s *aggregator.MultiCloudCostSummary, failures map[string]error) error {
	providers := s.Providers()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := append([]string{"DATE"}, lo.Map(providers, func(p string, _ int) string {
		return strings.ToUpper(p)
	})...)
	header = append(header, "TOTAL")
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, d := range s.CombinedDailyCosts {
		row := []string{d.Date}
		for _, p := range providers {
			row = append(row, fmt.Sprintf("%.2f", d.ProviderBreakdown[p]))
		}
		row = append(row, fmt.Sprintf("%.2f", d.TotalCost))
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	total := []string{"TOTAL"}
	for _, p := range providers {
		total = append(total, fmt.Sprintf("%.2f", s.ProviderBreakdown[p]))
	}
	total = append(total, fmt.Sprintf("%.2f", s.TotalCost))
	fmt.Fprintln(tw, strings.Join(total, "\t"))

	if err := tw.Flush(); err != nil {
		return err
	}

	if accounts := s.TopAccounts(TopN); len(accounts) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PROVIDER\tACCOUNT\tNAME\tCOST\tSHARE")
		for _, a := range accounts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.1f%%\n", strings.ToUpper(a.Provider), a.AccountID, a.AccountName, a.TotalCost, a.Percentage)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(failures) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PROVIDER\tERROR")
		for _, p := range sortedFailures(failures) {
			fmt.Fprintf(tw, "%s\t%v\n", strings.ToUpper(p), failures[p])
		}
		return tw.Flush()
	}
	return nil
}

func summaryMarkdown(w io.Writer, s *aggregator.MultiCloudCostSummary, failures map[string]error) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Multi-cloud cost summary\n\n")
	fmt.Fprintf(&b, "**Period:** %s  \n", period(s))
	fmt.Fprintf(&b, "**Total:** %s\n\n", money(s.TotalCost, s.Currency))

	b.WriteString("## Providers\n\n| Provider | Cost | Share |\n|---|---:|---:|\n")
	for _, e := range s.TopProviders(0) {
		fmt.Fprintf(&b, "| %s | %.2f | %.1f%% |\n", strings.ToUpper(e.Name), e.Cost, percent(e.Cost, s.TotalCost))
	}

	if services := s.TopServices(TopN); len(services) > 0 {
		b.WriteString("\n## Top services\n\n| Service | Cost |\n|---|---:|\n")
		for _, e := range services {
			fmt.Fprintf(&b, "| %s | %.2f |\n", mdEscape(e.Name), e.Cost)
		}
	}

	if accounts := s.TopAccounts(TopN); len(accounts) > 0 {
		b.WriteString("\n## Top accounts\n\n| Provider | Account | Cost | Share |\n|---|---|---:|---:|\n")
		for _, a := range accounts {
			fmt.Fprintf(&b, "| %s | %s | %.2f | %.1f%% |\n", a.ProviderLabel, mdEscape(accountName(a)), a.TotalCost, a.Percentage)
		}
	}

	if len(failures) > 0 {
		b.WriteString("\n## Provider errors\n\n")
		for _, p := range sortedFailures(failures) {
			fmt.Fprintf(&b, "- **%s**: %v\n", strings.ToUpper(p), failures[p])
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
