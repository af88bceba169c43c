package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zgpcy/cloud-cost-monitor/internal/aggregator"
	"github.com/zgpcy/cloud-cost-monitor/internal/engine"
	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
	"github.com/zgpcy/cloud-cost-monitor/internal/render"
)

// errThresholdExceeded makes check exit non-zero
var errThresholdExceeded = errors.New("cost threshold exceeded")

// formatIcinga selects monitoring plugin output for check
const formatIcinga = "icinga"

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate cost thresholds once",
	Long: `Check runs one refresh over the configured date range, evaluates the
thresholds against the last day of the range, sends notifications for new
alerts and prints the result. It exits non-zero when an alert at or above
--fail-on is active, which makes it usable from cron jobs and CI pipelines.

With --format icinga the output follows the Nagios/Icinga plugin convention
(status line with performance data) and the exit code is 0 for OK, 1 for
WARNING, 2 for CRITICAL and 3 for UNKNOWN; --fail-on is ignored.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().String("format", "text", "output format: text or icinga")
	checkCmd.Flags().String("fail-on", string(monitor.LevelCritical), "lowest alert level that fails the check: warning, critical or none")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	failOnStr, _ := cmd.Flags().GetString("fail-on")
	format, _ := cmd.Flags().GetString("format")
	format = strings.ToLower(format)
	if format != "text" && format != formatIcinga {
		return fmt.Errorf("invalid --format %q: want text or icinga", format)
	}

	var failOn []monitor.Level
	switch strings.ToLower(failOnStr) {
	case "none":
	case string(monitor.LevelWarning):
		failOn = []monitor.Level{monitor.LevelWarning, monitor.LevelCritical}
	case string(monitor.LevelCritical):
		failOn = []monitor.Level{monitor.LevelCritical}
	default:
		return fmt.Errorf("invalid --fail-on %q: want warning, critical or none", failOnStr)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.service.Refresh(cmd.Context())
	if format == formatIcinga {
		return icingaResult(cmd, a, report)
	}
	if err != nil {
		if report != nil {
			for p, perr := range report.Failures() {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", p, perr)
			}
		}
		return err
	}

	out := cmd.OutOrStdout()
	s := report.Summary
	fmt.Fprintf(out, "Total %s to %s: %.2f %s\n",
		report.Query.Start.Format(provider.DateLayout), report.Query.End.Format(provider.DateLayout), s.TotalCost, s.Currency)
	if day, ok := s.AsOfDay(); ok {
		fmt.Fprintf(out, "Cost on %s: %.2f %s\n", day.Date, day.TotalCost, s.Currency)
	}
	for p, perr := range report.Failures() {
		fmt.Fprintf(out, "Provider %s failed: %v\n", p, perr)
	}

	active := a.service.ActiveAlerts()
	fmt.Fprintln(out, render.AlertSummary(active))
	for _, alert := range render.SortAlerts(active, render.SortByLevel) {
		fmt.Fprintln(out, "  "+render.AlertLine(alert))
	}

	budgets, err := a.service.BudgetStatuses(cmd.Context(), report)
	if err != nil {
		return err
	}
	for _, b := range budgets {
		fmt.Fprintf(out, "Budget %s/%s: %.2f of %.2f %s (%.1f%%) %s\n",
			b.Provider, b.Period, b.CurrentSpend, b.BudgetAmount, b.Currency, b.PercentageUsed, b.Status)
	}

	anomalies, err := a.service.Anomalies(cmd.Context(), report)
	if err != nil {
		return err
	}
	for _, an := range anomalies {
		fmt.Fprintf(out, "Anomaly on %s: %.2f %s (expected at most %.2f)\n", an.Date, an.Cost, s.Currency, an.Threshold)
	}

	if len(failOn) > 0 && len(a.service.ActiveAlerts(failOn...)) > 0 {
		return errThresholdExceeded
	}
	return nil
}

// icingaResult writes the plugin output and maps its status to the exit code
func icingaResult(cmd *cobra.Command, a *app, report *engine.Report) error {
	var (
		summary  *aggregator.MultiCloudCostSummary
		failures map[string]error
	)
	if report != nil {
		summary = report.Summary
		failures = report.Failures()
	}

	status, err := render.Icinga(cmd.OutOrStdout(), summary, failures, a.service.Monitor().Thresholds())
	if err != nil {
		return err
	}
	if status == render.IcingaOK {
		return nil
	}
	return &exitError{code: int(status), err: fmt.Errorf("cost check %s", status)}
}
