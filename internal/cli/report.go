package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zgpcy/cloud-cost-monitor/internal/collector"
	"github.com/zgpcy/cloud-cost-monitor/internal/render"
)

// formatPrometheus selects the Prometheus text exposition for report
const formatPrometheus = "prometheus"

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a combined cost summary",
	Long: `Report fetches costs from the selected providers, converts them to one
currency and prints the combined summary. Provider failures are listed after
the summary; the command fails only when no provider returned data.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().String("format", "text", "output format: text, table, markdown, json or prometheus")
	reportCmd.Flags().String("providers", "", "comma-separated providers (default: all configured)")
	reportCmd.Flags().String("start", "", "first day, YYYY-MM-DD (default: configured date range)")
	reportCmd.Flags().String("end", "", "last day, YYYY-MM-DD (default: configured date range)")
	reportCmd.Flags().String("currency", "", "target currency (default: configured currency)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	formatStr, _ := cmd.Flags().GetString("format")
	providersStr, _ := cmd.Flags().GetString("providers")
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")
	target, _ := cmd.Flags().GetString("currency")

	var format render.Format
	if !strings.EqualFold(formatStr, formatPrometheus) {
		f, err := render.ParseFormat(formatStr)
		if err != nil {
			return err
		}
		format = f
	}

	providers, err := parseProviders(providersStr)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	defStart, defEnd := cfg.DateRange.Range(time.Now())
	start, err := parseDate("start", startStr, defStart)
	if err != nil {
		return err
	}
	end, err := parseDate("end", endStr, defEnd)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.service.GetCombinedSummary(cmd.Context(), providers, start, end, target)
	if errors.Is(err, collector.ErrNoDataAvailable) {
		for p, perr := range report.Failures() {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", p, perr)
		}
		return err
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == "" {
		alerts, err := a.service.CheckThresholds(report)
		if err != nil {
			a.logger.Warn("Rendering without threshold alerts", "error", err)
		}
		return render.Prometheus(out, report.Summary, alerts, report.GeneratedAt)
	}
	return render.Summary(out, report.Summary, report.Failures(), format)
}
