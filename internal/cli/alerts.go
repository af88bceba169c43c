package cli

import (
	"github.com/spf13/cobra"

	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
	"github.com/zgpcy/cloud-cost-monitor/internal/render"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List active cost alerts",
	Long: `Alerts runs one refresh over the configured date range and lists the
alerts raised by the thresholds.`,
	RunE: runAlerts,
}

func init() {
	alertsCmd.Flags().String("level", "", "only show alerts of this level: warning or critical")
	alertsCmd.Flags().String("sort", string(render.SortByTimestamp), "sort by timestamp, level or provider")
	alertsCmd.Flags().String("format", "text", "output format: text, table, markdown or json")
	rootCmd.AddCommand(alertsCmd)
}

func runAlerts(cmd *cobra.Command, args []string) error {
	levelStr, _ := cmd.Flags().GetString("level")
	sortStr, _ := cmd.Flags().GetString("sort")
	formatStr, _ := cmd.Flags().GetString("format")

	var levels []monitor.Level
	if levelStr != "" {
		level, err := monitor.ParseLevel(levelStr)
		if err != nil {
			return err
		}
		levels = append(levels, level)
	}
	by, err := render.ParseSortBy(sortStr)
	if err != nil {
		return err
	}
	format, err := render.ParseFormat(formatStr)
	if err != nil {
		return err
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

	if _, err := a.service.Refresh(cmd.Context()); err != nil {
		return err
	}

	return render.Alerts(cmd.OutOrStdout(), a.service.ActiveAlerts(levels...), format, by)
}
