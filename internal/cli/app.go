package cli

import (
	"context"
	"fmt"

	"github.com/zgpcy/cloud-cost-monitor/internal/aws"
	"github.com/zgpcy/cloud-cost-monitor/internal/azure"
	"github.com/zgpcy/cloud-cost-monitor/internal/collector"
	"github.com/zgpcy/cloud-cost-monitor/internal/config"
	"github.com/zgpcy/cloud-cost-monitor/internal/currency"
	"github.com/zgpcy/cloud-cost-monitor/internal/engine"
	"github.com/zgpcy/cloud-cost-monitor/internal/gcp"
	"github.com/zgpcy/cloud-cost-monitor/internal/history"
	"github.com/zgpcy/cloud-cost-monitor/internal/logger"
	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
	"github.com/zgpcy/cloud-cost-monitor/internal/notify"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
)

// gatewayFactory builds the enabled provider gateways and an optional
// account namer. Replaced in tests.
var gatewayFactory = buildGateways

// app holds a fully wired service and the resources it owns
type app struct {
	cfg        *config.Config
	logger     *logger.Logger
	service    *engine.Service
	dispatcher *notify.Dispatcher
	history    *history.Store
}

// newApp wires gateways, currency normalization, monitoring, notifications
// and the optional history store into an engine.Service.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	gateways, namer, err := gatewayFactory(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	rates, err := currency.NewStaticRates(cfg.ExchangeRates)
	if err != nil {
		return nil, fmt.Errorf("init exchange rates: %w", err)
	}
	normOpts := []currency.NormalizerOption{
		currency.WithCanonicalNames(cfg.NormalizeNames),
		currency.WithLogger(log),
	}
	if namer != nil {
		normOpts = append(normOpts, currency.WithAccountNamer(namer))
	}
	normalizer := currency.NewNormalizer(currency.NewCachingRates(rates), normOpts...)

	thresholds, err := cfg.BuildThresholds()
	if err != nil {
		return nil, err
	}
	mon, err := monitor.NewThresholdMonitor(thresholds,
		monitor.WithCurrency(cfg.Currency),
		monitor.WithLogger(log))
	if err != nil {
		return nil, err
	}

	dispatcher := notify.FromConfig(cfg.Notifications, log)
	if dispatcher.Len() > 0 {
		mon.OnAlert(dispatcher.Handle)
		log.Info("Alert notifications enabled", "notifiers", dispatcher.Len())
	}

	coll := collector.New(
		collector.WithMaxConcurrency(cfg.MaxConcurrency),
		collector.WithProviderTimeout(cfg.ProviderTimeoutDuration()),
		collector.WithLogger(log))

	opts := []engine.Option{
		engine.WithLogger(log),
		engine.WithQuery(cfg.Query),
		engine.WithRefreshInterval(cfg.RefreshDuration()),
		engine.WithCurrency(cfg.Currency),
	}

	if len(cfg.Budgets) > 0 {
		budgets := monitor.NewBudgetMonitor()
		for _, b := range cfg.Budgets {
			period, err := monitor.ParseBudgetPeriod(b.Period)
			if err != nil {
				return nil, err
			}
			if err := budgets.SetBudget(monitor.Budget{
				Provider: b.Provider,
				Period:   period,
				Amount:   b.Amount,
				Currency: cfg.Currency,
			}); err != nil {
				return nil, err
			}
		}
		opts = append(opts, engine.WithBudgets(budgets))
	}

	if cfg.Anomaly.Enabled {
		opts = append(opts, engine.WithAnomalyDetector(
			monitor.NewAnomalyDetector(cfg.Anomaly.Sensitivity, cfg.Anomaly.Window)))
	}

	a := &app{
		cfg:        cfg,
		logger:     log,
		dispatcher: dispatcher,
	}

	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("init history: %w", err)
		}
		a.history = store
		opts = append(opts, engine.WithHistory(store, cfg.History.RetentionDays))
		log.Info("Cost history enabled", "path", cfg.History.Path, "retention_days", cfg.History.RetentionDays)
	}

	a.service = engine.New(gateways, coll, normalizer, mon, opts...)
	return a, nil
}

// Close releases the history store
func (a *app) Close() error {
	if a.history == nil {
		return nil
	}
	return a.history.Close()
}

// buildGateways creates a gateway per enabled provider. With
// resolve_account_names the AWS Organizations directory names AWS accounts.
func buildGateways(ctx context.Context, cfg *config.Config, log *logger.Logger) ([]provider.Gateway, currency.AccountNamer, error) {
	var (
		gateways []provider.Gateway
		namer    currency.AccountNamer
	)
	apiTimeout := cfg.APITimeoutDuration()

	if cfg.Providers.AWS.Enabled {
		awsCfg, err := aws.LoadConfig(ctx, cfg.Providers.AWS)
		if err != nil {
			return nil, nil, err
		}
		gwLog := log.WithFields("provider", provider.ProviderAWS)
		gateways = append(gateways, aws.NewClient(awsCfg, cfg.Providers.AWS, apiTimeout, gwLog))
		if cfg.Providers.AWS.ResolveAccountNames {
			namer = aws.NewAccountDirectory(awsCfg, gwLog)
		}
	}

	if cfg.Providers.Azure.Enabled {
		client, err := azure.NewClient(cfg.Providers.Azure, apiTimeout, log.WithFields("provider", provider.ProviderAzure))
		if err != nil {
			return nil, nil, err
		}
		gateways = append(gateways, client)
	}

	if cfg.Providers.GCP.Enabled {
		client, err := gcp.NewClient(ctx, cfg.Providers.GCP, apiTimeout, log.WithFields("provider", provider.ProviderGCP))
		if err != nil {
			return nil, nil, err
		}
		gateways = append(gateways, client)
	}

	for _, gw := range gateways {
		log.Info("Provider gateway initialized", "provider", gw.Name(), "accounts", gw.AccountCount())
	}
	return gateways, namer, nil
}
