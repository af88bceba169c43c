// Package metrics implements a Prometheus collector for the cost service.
//
// CostCollector serves the report cached by the engine, so scrapes never
// trigger provider calls. It exposes the cost and alert gauges built by
// package render plus per-provider operational metrics:
//   - cloud_cost_provider_up: 1 when the provider's last fetch succeeded
//   - cloud_cost_monitor_scrape_duration_seconds: duration of the last fetch
//   - cloud_cost_monitor_scrape_errors_total: failed fetches by error kind
//   - cloud_cost_monitor_last_scrape_timestamp_seconds: time of the last successful fetch
//   - cloud_cost_monitor_data_points: data points returned by the last fetch
//   - cloud_cost_monitor_build_info: version labels
//
// Example usage:
//
//	svc := engine.New(gateways, coll, normalizer, mon)
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(metrics.NewCostCollector(svc, log))
//	svc.StartBackgroundRefresh(ctx)
package metrics
