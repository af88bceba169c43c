// Package config provides configuration management for the cloud cost monitor.
//
// This package handles loading configuration from YAML files, applying
// environment variable overrides, setting defaults, and validating the
// configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (highest priority)
//  2. YAML configuration file
//  3. Default values (lowest priority)
//
// Supported environment variables:
//   - COST_MONITOR_PROVIDERS: Comma-separated providers to enable (aws,azure,gcp)
//   - COST_MONITOR_CURRENCY: Target ISO currency code
//   - COST_MONITOR_REFRESH_INTERVAL: Refresh interval in seconds (minimum: 60)
//   - COST_MONITOR_HTTP_PORT: HTTP server port (1-65535)
//   - COST_MONITOR_LOG_LEVEL / COST_MONITOR_LOG_FORMAT: Logging
//   - COST_MONITOR_END_DATE_OFFSET / COST_MONITOR_DAYS_TO_QUERY: Query window
//   - COST_MONITOR_API_TIMEOUT / COST_MONITOR_PROVIDER_TIMEOUT: Timeouts in seconds
//   - COST_MONITOR_MAX_CONCURRENCY: Providers queried at once
//   - COST_MONITOR_WARNING_THRESHOLD / COST_MONITOR_CRITICAL_THRESHOLD: Global thresholds
//   - COST_MONITOR_AZURE_SUBSCRIPTIONS: Comma-separated subscription IDs or id:name pairs
//   - COST_MONITOR_AWS_REGION, COST_MONITOR_GCP_BILLING_TABLE
//   - COST_MONITOR_HISTORY_PATH: SQLite history file
//   - COST_MONITOR_SLACK_WEBHOOK_URL, COST_MONITOR_WEBHOOK_URL, COST_MONITOR_WEBHOOK_SECRET
//
// Thresholds must be positive. A provider section's thresholds override
// the global ones for that provider only.
//
// Example configuration file (config.yaml):
//
//	providers:
//	  aws:
//	    enabled: true
//	    region: us-east-1
//	    resolve_account_names: true
//	    group_by: [LINKED_ACCOUNT, SERVICE]
//	  azure:
//	    enabled: true
//	    subscriptions:
//	      - id: "sub-123"
//	        name: "Production"
//	    thresholds:
//	      critical: 800
//	  gcp:
//	    enabled: true
//	    billing_table: "billing-proj.billing.gcp_billing_export_v1_XXXX"
//
//	currency: "USD"
//	thresholds:
//	  warning: 500
//	  critical: 1000
//
//	date_range:
//	  end_date_offset: 1    # Yesterday
//	  days_to_query: 7      # Last 7 days
//
//	refresh_interval: 3600
//	http_port: 8080
//	history:
//	  path: /var/lib/costmonitor/history.db
//
// Example usage:
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//		log.Fatalf("Failed to load config: %v", err)
//	}
//	query := cfg.Query(time.Now())
package config
