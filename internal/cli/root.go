package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zgpcy/cloud-cost-monitor/internal/config"
	"github.com/zgpcy/cloud-cost-monitor/internal/logger"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cost-monitor",
	Short: "Cloud Cost Monitor - multi-cloud cost aggregation and alerting",
	Long: `Cloud Cost Monitor collects cost data from AWS, Azure and GCP, converts it
to a single currency, aggregates it into one view and raises alerts when
spend crosses the configured thresholds. It can run as a long-lived server
exposing Prometheus metrics and a JSON API, or as one-shot commands.`,
	SilenceUsage: true,
}

// exitError carries a specific process exit code
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to configuration file")
}

// loadConfig loads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger creates a structured logger from config. Logs go to stderr so
// command output on stdout stays machine readable.
func newLogger(cfg *config.Config) *logger.Logger {
	return logger.NewWithFormat(cfg.LogLevel, cfg.LogFormat, os.Stderr)
}

// parseProviders converts a comma-separated provider list. An empty list
// selects every configured provider.
func parseProviders(s string) ([]provider.ProviderType, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []provider.ProviderType
	for _, name := range strings.Split(s, ",") {
		p, err := provider.ParseProviderType(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// parseDate parses a YYYY-MM-DD flag value, returning fallback when empty
func parseDate(flag, value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	t, err := time.Parse(provider.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: want YYYY-MM-DD", flag, value)
	}
	return t, nil
}
