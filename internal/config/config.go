package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
)

// Configuration validation constants
const (
	MinRefreshInterval = 60    // Minimum refresh interval in seconds
	MinPort            = 1     // Minimum valid port number
	MaxPort            = 65535 // Maximum valid port number
	MinDaysToQuery     = 1     // Minimum days to query
	MaxAPITimeout      = 300   // Maximum single API call timeout in seconds

	// Default values
	DefaultCurrency                = "USD"
	DefaultEndDateOffset           = 1
	DefaultDaysToQuery             = 7
	DefaultGranularity             = "DAILY"
	DefaultRefreshInterval         = 3600 // 1 hour in seconds
	DefaultHTTPPort                = 8080
	DefaultLogLevel                = "info"
	DefaultLogFormat               = "json"
	DefaultAPITimeout              = 30  // API timeout in seconds
	DefaultProviderTimeout         = 300 // whole-provider timeout in seconds
	DefaultMaxConcurrency          = 3
	DefaultSubscriptionConcurrency = 4
	DefaultAWSRegion               = "us-east-1"
	DefaultAWSMetric               = "UnblendedCost"
	DefaultAnomalySensitivity      = 2.0
	DefaultAnomalyWindow           = 7
)

// Cost Explorer dimensions accepted in the AWS group_by list
const (
	AWSDimensionLinkedAccount = "LINKED_ACCOUNT"
	AWSDimensionService       = "SERVICE"
	AWSDimensionRegion        = "REGION"
)

// DefaultAWSGroupBy groups AWS costs by account and service
var DefaultAWSGroupBy = []string{AWSDimensionLinkedAccount, AWSDimensionService}

// envPrefix prefixes every environment override
const envPrefix = "COST_MONITOR_"

// Subscription represents an Azure subscription to monitor
type Subscription struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// GroupBy represents an Azure grouping dimension for cost queries
type GroupBy struct {
	Type string `yaml:"type"`
	Name string `yaml:"name"`
}

// ThresholdConfig holds warning and critical amounts.
// Pointers distinguish unset from an explicit value.
type ThresholdConfig struct {
	Warning  *float64 `yaml:"warning"`
	Critical *float64 `yaml:"critical"`
}

// AzureConfig configures the Azure Cost Management gateway
type AzureConfig struct {
	Enabled                 bool            `yaml:"enabled"`
	Subscriptions           []Subscription  `yaml:"subscriptions"`
	GroupBy                 []GroupBy       `yaml:"group_by"`
	SubscriptionConcurrency int             `yaml:"subscription_concurrency"`
	Thresholds              ThresholdConfig `yaml:"thresholds"`
}

// AWSConfig configures the AWS Cost Explorer gateway
type AWSConfig struct {
	Enabled             bool            `yaml:"enabled"`
	Region              string          `yaml:"region"`
	Profile             string          `yaml:"profile"`
	Metric              string          `yaml:"metric"`
	GroupBy             []string        `yaml:"group_by"` // at most two Cost Explorer dimensions
	ResolveAccountNames bool            `yaml:"resolve_account_names"`
	Thresholds          ThresholdConfig `yaml:"thresholds"`
}

// Project represents a GCP project to report on
type Project struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// GCPConfig configures the BigQuery billing export gateway
type GCPConfig struct {
	Enabled         bool            `yaml:"enabled"`
	BillingProject  string          `yaml:"billing_project"` // project that runs the query job
	BillingTable    string          `yaml:"billing_table"`   // project.dataset.table of the billing export
	CredentialsFile string          `yaml:"credentials_file"`
	Projects        []Project       `yaml:"projects"` // optional filter
	Thresholds      ThresholdConfig `yaml:"thresholds"`
}

// ProvidersConfig holds every provider section
type ProvidersConfig struct {
	AWS   AWSConfig   `yaml:"aws"`
	Azure AzureConfig `yaml:"azure"`
	GCP   GCPConfig   `yaml:"gcp"`
}

// DateRange represents the date range configuration
type DateRange struct {
	EndDateOffset *int   `yaml:"end_date_offset"` // Pointer to distinguish between 0 and unset
	DaysToQuery   int    `yaml:"days_to_query"`
	Granularity   string `yaml:"granularity"`
}

// HistoryConfig configures the SQLite cost history. An empty path disables it.
type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// SlackConfig configures the Slack notifier
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// WebhookConfig configures the generic webhook notifier
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Secret  string            `yaml:"secret"`
	Headers map[string]string `yaml:"headers"`
}

// NotificationsConfig holds alert notification targets
type NotificationsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// BudgetConfig is one provider budget
type BudgetConfig struct {
	Provider string  `yaml:"provider"` // provider name or "all"
	Period   string  `yaml:"period"`
	Amount   float64 `yaml:"amount"`
}

// AnomalyConfig configures spike detection on daily totals
type AnomalyConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Sensitivity float64 `yaml:"sensitivity"`
	Window      int     `yaml:"window"`
}

// Config represents the application configuration
type Config struct {
	Providers       ProvidersConfig     `yaml:"providers"`
	Currency        string              `yaml:"currency"`
	Thresholds      ThresholdConfig     `yaml:"thresholds"`
	DateRange       DateRange           `yaml:"date_range"`
	RefreshInterval int                 `yaml:"refresh_interval"` // seconds
	HTTPPort        int                 `yaml:"http_port"`
	LogLevel        string              `yaml:"log_level"`
	LogFormat       string              `yaml:"log_format"`
	APITimeout      int                 `yaml:"api_timeout"`      // single API call timeout in seconds
	ProviderTimeout int                 `yaml:"provider_timeout"` // whole provider fetch timeout in seconds
	MaxConcurrency  int                 `yaml:"max_concurrency"`
	ExchangeRates   map[string]float64  `yaml:"exchange_rates"` // USD value of one unit, overrides built-in table
	NormalizeNames  bool                `yaml:"normalize_names"`
	History         HistoryConfig       `yaml:"history"`
	Notifications   NotificationsConfig `yaml:"notifications"`
	Budgets         []BudgetConfig      `yaml:"budgets"`
	Anomaly         AnomalyConfig       `yaml:"anomaly"`
}

// Load loads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 -- Config file path is provided by administrator via CLI flag, not user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a configuration from YAML bytes, then applies defaults,
// environment overrides and validation
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment variable error: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for configuration
func applyDefaults(cfg *Config) {
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	cfg.Currency = strings.ToUpper(cfg.Currency)

	// Only apply default if EndDateOffset is nil (not set), not if it's explicitly 0
	if cfg.DateRange.EndDateOffset == nil {
		offset := DefaultEndDateOffset
		cfg.DateRange.EndDateOffset = &offset
	}
	if cfg.DateRange.DaysToQuery == 0 {
		cfg.DateRange.DaysToQuery = DefaultDaysToQuery
	}
	if cfg.DateRange.Granularity == "" {
		cfg.DateRange.Granularity = DefaultGranularity
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = DefaultHTTPPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = DefaultLogFormat
	}
	if cfg.APITimeout == 0 {
		cfg.APITimeout = DefaultAPITimeout
	}
	if cfg.ProviderTimeout == 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Providers.Azure.SubscriptionConcurrency == 0 {
		cfg.Providers.Azure.SubscriptionConcurrency = DefaultSubscriptionConcurrency
	}
	if cfg.Providers.AWS.Region == "" {
		cfg.Providers.AWS.Region = DefaultAWSRegion
	}
	if cfg.Providers.AWS.Metric == "" {
		cfg.Providers.AWS.Metric = DefaultAWSMetric
	}
	if len(cfg.Providers.AWS.GroupBy) == 0 {
		cfg.Providers.AWS.GroupBy = append([]string(nil), DefaultAWSGroupBy...)
	}
	for i, dim := range cfg.Providers.AWS.GroupBy {
		cfg.Providers.AWS.GroupBy[i] = strings.ToUpper(strings.TrimSpace(dim))
	}
	if cfg.Anomaly.Sensitivity == 0 {
		cfg.Anomaly.Sensitivity = DefaultAnomalySensitivity
	}
	if cfg.Anomaly.Window == 0 {
		cfg.Anomaly.Window = DefaultAnomalyWindow
	}
	for i := range cfg.Providers.Azure.Subscriptions {
		sub := &cfg.Providers.Azure.Subscriptions[i]
		if sub.Name == "" {
			sub.Name = sub.ID
		}
	}
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) error {
	if val := getenv("CURRENCY"); val != "" {
		cfg.Currency = strings.ToUpper(val)
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"REFRESH_INTERVAL", &cfg.RefreshInterval},
		{"HTTP_PORT", &cfg.HTTPPort},
		{"DAYS_TO_QUERY", &cfg.DateRange.DaysToQuery},
		{"API_TIMEOUT", &cfg.APITimeout},
		{"PROVIDER_TIMEOUT", &cfg.ProviderTimeout},
		{"MAX_CONCURRENCY", &cfg.MaxConcurrency},
	}
	for _, o := range ints {
		if val := getenv(o.name); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("invalid %s%s: must be an integer, got %q", envPrefix, o.name, val)
			}
			*o.dst = i
		}
	}

	// Override end date offset
	if val := getenv("END_DATE_OFFSET"); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %sEND_DATE_OFFSET: must be an integer, got %q", envPrefix, val)
		}
		cfg.DateRange.EndDateOffset = &i
	}

	// Override global thresholds
	floats := []struct {
		name string
		dst  **float64
	}{
		{"WARNING_THRESHOLD", &cfg.Thresholds.Warning},
		{"CRITICAL_THRESHOLD", &cfg.Thresholds.Critical},
	}
	for _, o := range floats {
		if val := getenv(o.name); val != "" {
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return fmt.Errorf("invalid %s%s: must be a number, got %q", envPrefix, o.name, val)
			}
			*o.dst = &f
		}
	}

	if val := getenv("LOG_LEVEL"); val != "" {
		cfg.LogLevel = val
	}
	if val := getenv("LOG_FORMAT"); val != "" {
		cfg.LogFormat = val
	}
	if val := getenv("HISTORY_PATH"); val != "" {
		cfg.History.Path = val
	}
	if val := getenv("AWS_REGION"); val != "" {
		cfg.Providers.AWS.Region = val
	}
	if val := getenv("GCP_BILLING_TABLE"); val != "" {
		cfg.Providers.GCP.BillingTable = val
	}
	if val := getenv("SLACK_WEBHOOK_URL"); val != "" {
		cfg.Notifications.Slack.WebhookURL = val
	}
	if val := getenv("WEBHOOK_URL"); val != "" {
		cfg.Notifications.Webhook.URL = val
	}
	if val := getenv("WEBHOOK_SECRET"); val != "" {
		cfg.Notifications.Webhook.Secret = val
	}

	// Override enabled providers (comma-separated)
	// Example: COST_MONITOR_PROVIDERS="aws,azure"
	if val := getenv("PROVIDERS"); val != "" {
		enabled := map[provider.ProviderType]bool{}
		for _, name := range strings.Split(val, ",") {
			p, err := provider.ParseProviderType(name)
			if err != nil {
				return fmt.Errorf("invalid %sPROVIDERS: %w", envPrefix, err)
			}
			enabled[p] = true
		}
		cfg.Providers.AWS.Enabled = enabled[provider.ProviderAWS]
		cfg.Providers.Azure.Enabled = enabled[provider.ProviderAzure]
		cfg.Providers.GCP.Enabled = enabled[provider.ProviderGCP]
	}

	// Override subscriptions (comma-separated id:name pairs)
	// Example: COST_MONITOR_AZURE_SUBSCRIPTIONS="sub1:prod,sub2:dev"
	if val := getenv("AZURE_SUBSCRIPTIONS"); val != "" {
		subs := []Subscription{}
		for _, pair := range strings.Split(val, ",") {
			parts := strings.SplitN(pair, ":", 2)
			id := strings.TrimSpace(parts[0])
			if id == "" {
				continue
			}
			name := id
			if len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
				name = strings.TrimSpace(parts[1])
			}
			subs = append(subs, Subscription{ID: id, Name: name})
		}
		if len(subs) > 0 {
			cfg.Providers.Azure.Subscriptions = subs
		}
	}

	return nil
}

func getenv(name string) string {
	return os.Getenv(envPrefix + name)
}

// validateAWSGroupBy checks the Cost Explorer limit of two distinct group-by dimensions
func validateAWSGroupBy(dims []string) error {
	if len(dims) == 0 || len(dims) > 2 {
		return fmt.Errorf("aws group_by must list one or two dimensions, got %d", len(dims))
	}
	seen := make(map[string]bool, len(dims))
	for _, dim := range dims {
		switch dim {
		case AWSDimensionLinkedAccount, AWSDimensionService, AWSDimensionRegion:
		default:
			return fmt.Errorf("aws group_by dimension %q is not one of %s, %s, %s",
				dim, AWSDimensionLinkedAccount, AWSDimensionService, AWSDimensionRegion)
		}
		if seen[dim] {
			return fmt.Errorf("aws group_by dimension %q is listed twice", dim)
		}
		seen[dim] = true
	}
	return nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	if len(cfg.EnabledProviders()) == 0 {
		return fmt.Errorf("no providers enabled")
	}

	if cfg.Providers.Azure.Enabled {
		if len(cfg.Providers.Azure.Subscriptions) == 0 {
			return fmt.Errorf("azure is enabled but no subscriptions are configured")
		}
		for i, sub := range cfg.Providers.Azure.Subscriptions {
			if sub.ID == "" {
				return fmt.Errorf("subscription at index %d has empty ID", i)
			}
		}
		if cfg.Providers.Azure.SubscriptionConcurrency < 1 {
			return fmt.Errorf("subscription_concurrency must be at least 1, got %d", cfg.Providers.Azure.SubscriptionConcurrency)
		}
	}

	if cfg.Providers.AWS.Enabled {
		if err := validateAWSGroupBy(cfg.Providers.AWS.GroupBy); err != nil {
			return err
		}
	}

	if cfg.Providers.GCP.Enabled {
		if len(strings.Split(cfg.Providers.GCP.BillingTable, ".")) != 3 {
			return fmt.Errorf("gcp billing_table must be project.dataset.table, got %q", cfg.Providers.GCP.BillingTable)
		}
	}

	if len(cfg.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter ISO code, got %q", cfg.Currency)
	}

	if cfg.RefreshInterval < MinRefreshInterval {
		return fmt.Errorf("refresh_interval must be at least %d seconds, got %d", MinRefreshInterval, cfg.RefreshInterval)
	}

	if cfg.DateRange.DaysToQuery < MinDaysToQuery {
		return fmt.Errorf("days_to_query must be at least %d", MinDaysToQuery)
	}

	if cfg.DateRange.EndDateOffset != nil && *cfg.DateRange.EndDateOffset < 0 {
		return fmt.Errorf("end_date_offset cannot be negative, got %d", *cfg.DateRange.EndDateOffset)
	}

	if _, err := provider.ParseGranularity(cfg.DateRange.Granularity); err != nil {
		return err
	}

	if cfg.HTTPPort < MinPort || cfg.HTTPPort > MaxPort {
		return fmt.Errorf("http_port must be between %d and %d", MinPort, MaxPort)
	}

	if cfg.APITimeout <= 0 || cfg.APITimeout > MaxAPITimeout {
		return fmt.Errorf("api_timeout must be between 1 and %d seconds, got %d", MaxAPITimeout, cfg.APITimeout)
	}

	if cfg.ProviderTimeout < cfg.APITimeout {
		return fmt.Errorf("provider_timeout (%d) must not be shorter than api_timeout (%d)", cfg.ProviderTimeout, cfg.APITimeout)
	}

	if cfg.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1, got %d", cfg.MaxConcurrency)
	}

	switch cfg.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log_format must be json or text, got %q", cfg.LogFormat)
	}

	for code, v := range cfg.ExchangeRates {
		if v <= 0 {
			return fmt.Errorf("exchange rate for %s must be positive, got %v", code, v)
		}
	}

	if _, err := cfg.BuildThresholds(); err != nil {
		return err
	}

	for i, b := range cfg.Budgets {
		if b.Provider != monitor.TotalKey {
			if _, err := provider.ParseProviderType(b.Provider); err != nil {
				return fmt.Errorf("budget at index %d: %w", i, err)
			}
		}
		if _, err := monitor.ParseBudgetPeriod(b.Period); err != nil {
			return fmt.Errorf("budget at index %d: %w", i, err)
		}
		if b.Amount <= 0 {
			return fmt.Errorf("budget at index %d: amount must be positive, got %v", i, b.Amount)
		}
	}

	if cfg.Anomaly.Sensitivity <= 0 {
		return fmt.Errorf("anomaly sensitivity must be positive, got %v", cfg.Anomaly.Sensitivity)
	}
	if cfg.Anomaly.Window < 2 {
		return fmt.Errorf("anomaly window must be at least 2, got %d", cfg.Anomaly.Window)
	}

	return nil
}

// EnabledProviders returns the enabled providers in stable order
func (c *Config) EnabledProviders() []provider.ProviderType {
	var out []provider.ProviderType
	if c.Providers.AWS.Enabled {
		out = append(out, provider.ProviderAWS)
	}
	if c.Providers.Azure.Enabled {
		out = append(out, provider.ProviderAzure)
	}
	if c.Providers.GCP.Enabled {
		out = append(out, provider.ProviderGCP)
	}
	return out
}

// BuildThresholds converts the global and provider threshold sections
// into a validated monitor.Thresholds
func (c *Config) BuildThresholds() (monitor.Thresholds, error) {
	th := monitor.NewThresholds()

	set := func(tc ThresholdConfig, fn func(monitor.Level, float64)) {
		if tc.Warning != nil {
			fn(monitor.LevelWarning, *tc.Warning)
		}
		if tc.Critical != nil {
			fn(monitor.LevelCritical, *tc.Critical)
		}
	}

	set(c.Thresholds, th.SetGlobal)
	for p, tc := range map[provider.ProviderType]ThresholdConfig{
		provider.ProviderAWS:   c.Providers.AWS.Thresholds,
		provider.ProviderAzure: c.Providers.Azure.Thresholds,
		provider.ProviderGCP:   c.Providers.GCP.Thresholds,
	} {
		set(tc, func(level monitor.Level, amount float64) {
			th.SetProvider(string(p), level, amount)
		})
	}

	if err := th.Validate(); err != nil {
		return monitor.Thresholds{}, err
	}
	return th, nil
}

// Query builds the provider query for the configured date range relative to now
func (c *Config) Query(now time.Time) provider.Query {
	start, end := c.DateRange.Range(now)
	granularity, _ := provider.ParseGranularity(c.DateRange.Granularity)
	return provider.Query{
		Start:       start,
		End:         end,
		Granularity: granularity,
	}
}

// Range returns the first and last day (UTC midnight) of the window
func (d DateRange) Range(now time.Time) (time.Time, time.Time) {
	offset := 0
	if d.EndDateOffset != nil {
		offset = *d.EndDateOffset
	}
	days := d.DaysToQuery
	if days < 1 {
		days = 1
	}

	now = now.UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
	start := end.AddDate(0, 0, -(days - 1))
	return start, end
}

// RefreshDuration returns the refresh interval as a duration
func (c *Config) RefreshDuration() time.Duration {
	return time.Duration(c.RefreshInterval) * time.Second
}

// APITimeoutDuration returns the single API call timeout as a duration
func (c *Config) APITimeoutDuration() time.Duration {
	return time.Duration(c.APITimeout) * time.Second
}

// ProviderTimeoutDuration returns the whole-provider timeout as a duration
func (c *Config) ProviderTimeoutDuration() time.Duration {
	return time.Duration(c.ProviderTimeout) * time.Second
}
