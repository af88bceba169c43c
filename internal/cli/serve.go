package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/zgpcy/cloud-cost-monitor/internal/metrics"
	"github.com/zgpcy/cloud-cost-monitor/internal/server"
	"github.com/zgpcy/cloud-cost-monitor/internal/version"
)

const (
	// DefaultShutdownTimeout is the maximum time to wait for graceful shutdown
	DefaultShutdownTimeout = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server with background cost refresh",
	Long: `Serve refreshes cost data on the configured interval and exposes it as
Prometheus metrics on /metrics, a JSON API under /api and a status page on /.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := newLogger(cfg)
	log.Info("Cloud cost monitor starting",
		"version", version.Version,
		"config_path", cfgFile)
	log.Info("Configuration loaded successfully",
		"providers", cfg.EnabledProviders(),
		"refresh_interval_seconds", cfg.RefreshInterval,
		"http_port", cfg.HTTPPort,
		"days_to_query", cfg.DateRange.DaysToQuery,
		"currency", cfg.Currency,
		"api_timeout_seconds", cfg.APITimeout)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize service", "error", err)
		return err
	}
	defer a.Close()

	registry := prometheus.NewRegistry()
	if err := registry.Register(metrics.NewCostCollector(a.service, log)); err != nil {
		log.Error("Failed to register collector", "error", err)
		return err
	}
	// Go runtime and process metrics
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		log.Warn("Failed to register Go collector", "error", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		log.Warn("Failed to register process collector", "error", err)
	}

	a.dispatcher.Start(ctx)

	log.Info("Starting background cost data refresh")
	a.service.StartBackgroundRefresh(ctx)

	srv := server.NewServer(cfg, a.service, registry, log)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		log.Error("Server error", "error", err)
		return err

	case sig := <-shutdown:
		log.Info("Received shutdown signal, starting graceful shutdown", "signal", sig.String())

		// Stop background refresh and notification delivery
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Error during server shutdown", "error", err)
			return err
		}
		a.dispatcher.Wait()

		log.Info("Server stopped gracefully")
		return nil
	}
}
