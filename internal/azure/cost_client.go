package azure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/zgpcy/cloud-cost-monitor/internal/clock"
	"github.com/zgpcy/cloud-cost-monitor/internal/config"
	"github.com/zgpcy/cloud-cost-monitor/internal/logger"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
)

// Azure API retry constants
const (
	// MaxRetryElapsedTime is the maximum time to spend retrying a failed API call
	MaxRetryElapsedTime = 2 * time.Minute

	// InitialRetryInterval is the initial backoff interval for retries
	InitialRetryInterval = 1 * time.Second

	// MaxRetryInterval is the maximum backoff interval between retries
	MaxRetryInterval = 30 * time.Second
)

// DefaultCurrency is used when a response carries no Currency column
const DefaultCurrency = "USD"

// managementScope is the token scope of the Azure Resource Manager API
const managementScope = "https://management.azure.com/.default"

// defaultGrouping populates service and region when no group_by is configured
var defaultGrouping = []config.GroupBy{
	{Type: "Dimension", Name: "ServiceName"},
	{Type: "Dimension", Name: "ResourceLocation"},
}

// UsageAPI is the subset of armcostmanagement.QueryClient used by the gateway
type UsageAPI interface {
	Usage(ctx context.Context, scope string, parameters armcostmanagement.QueryDefinition, options *armcostmanagement.QueryClientUsageOptions) (armcostmanagement.QueryClientUsageResponse, error)
}

// Client wraps the Azure Cost Management client and implements provider.Gateway
type Client struct {
	api        UsageAPI
	cred       azcore.TokenCredential
	cfg        config.AzureConfig
	apiTimeout time.Duration
	logger     *logger.Logger
	clock      clock.Clock // Time provider for testing
	newBackOff func() backoff.BackOff
}

// Verify that Client implements provider.Gateway
var _ provider.Gateway = (*Client)(nil)

// NewClient creates a new Azure Cost Management client
func NewClient(cfg config.AzureConfig, apiTimeout time.Duration, log *logger.Logger) (*Client, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	client, err := armcostmanagement.NewQueryClient(cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cost management client: %w", err)
	}

	return newClient(client, cred, cfg, apiTimeout, log), nil
}

func newClient(api UsageAPI, cred azcore.TokenCredential, cfg config.AzureConfig, apiTimeout time.Duration, log *logger.Logger) *Client {
	if cfg.SubscriptionConcurrency < 1 {
		cfg.SubscriptionConcurrency = config.DefaultSubscriptionConcurrency
	}
	return &Client{
		api:        api,
		cred:       cred,
		cfg:        cfg,
		apiTimeout: apiTimeout,
		logger:     log,
		clock:      clock.RealClock{}, // Use real system time by default
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = InitialRetryInterval
	bo.MaxInterval = MaxRetryInterval
	bo.MaxElapsedTime = MaxRetryElapsedTime
	return bo
}

// Name returns the provider type
func (c *Client) Name() provider.ProviderType {
	return provider.ProviderAzure
}

// AccountCount returns the number of Azure subscriptions being monitored
func (c *Client) AccountCount() int {
	return len(c.cfg.Subscriptions)
}

// Authenticate acquires a management token to verify the credential chain
func (c *Client) Authenticate(ctx context.Context) error {
	if c.cred == nil {
		return nil
	}
	if _, err := c.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{managementScope}}); err != nil {
		return fmt.Errorf("%w: azure credential: %v", provider.ErrAuth, err)
	}
	return nil
}

// FetchCosts retrieves cost data for all configured subscriptions, at most
// SubscriptionConcurrency at a time. Returns partial data if some
// subscriptions fail (best-effort approach).
func (c *Client) FetchCosts(ctx context.Context, q provider.Query) (*provider.CostSummary, error) {
	subs := c.cfg.Subscriptions
	results := make([][]provider.CostDataPoint, len(subs))
	errs := make([]error, len(subs))

	var g errgroup.Group
	g.SetLimit(c.cfg.SubscriptionConcurrency)

	for i, sub := range subs {
		g.Go(func() error {
			points, err := c.queryCostsForSubscription(ctx, sub, q)
			if err != nil {
				// Log the error but continue with other subscriptions
				c.logger.Warn("Failed to query subscription, continuing with others",
					"subscription_name", sub.Name,
					"subscription_id", sub.ID,
					"error", err)
				errs[i] = fmt.Errorf("subscription %s: %w", sub.Name, err)
				return nil
			}
			results[i] = points
			return nil
		})
	}
	_ = g.Wait()

	var (
		points []provider.CostDataPoint
		failed []error
	)
	for i := range subs {
		if errs[i] != nil {
			failed = append(failed, errs[i])
			continue
		}
		points = append(points, results[i]...)
	}

	// Only return error if ALL subscriptions failed
	if len(failed) > 0 && len(failed) == len(subs) {
		return nil, fmt.Errorf("all %d subscriptions failed (check Azure credentials and permissions): %w",
			len(subs), errors.Join(failed...))
	}

	if len(failed) > 0 {
		c.logger.Warn("Some subscriptions failed, returning partial data",
			"failed_count", len(failed),
			"total_subscriptions", len(subs),
			"data_points", len(points))
	}

	summary := &provider.CostSummary{
		Provider:    provider.ProviderAzure,
		Currency:    summaryCurrency(points),
		PeriodStart: q.Start,
		PeriodEnd:   q.End,
		Granularity: q.Granularity,
		DataPoints:  points,
		LastUpdated: c.clock.Now(),
	}
	summary.SortDataPoints()
	return summary, nil
}

// summaryCurrency returns the currency of the first point, or the default
func summaryCurrency(points []provider.CostDataPoint) string {
	for _, p := range points {
		if p.Currency != "" {
			return p.Currency
		}
	}
	return DefaultCurrency
}

// queryCostsForSubscription queries costs for a single subscription with retry logic.
// Authentication failures are not retried.
func (c *Client) queryCostsForSubscription(ctx context.Context, sub config.Subscription, q provider.Query) ([]provider.CostDataPoint, error) {
	var result []provider.CostDataPoint

	operation := func() error {
		points, err := c.queryCostsForSubscriptionInternal(ctx, sub, q)
		if err != nil {
			if errors.Is(err, provider.ErrAuth) {
				return backoff.Permanent(err)
			}
			c.logger.Debug("Azure API call failed, will retry",
				"subscription_name", sub.Name,
				"subscription_id", sub.ID,
				"error", err)
			return err
		}
		result = points
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, fmt.Errorf("subscription %s (ID: %s) failed after retries: %w", sub.Name, sub.ID, err)
	}

	return result, nil
}

// queryCostsForSubscriptionInternal performs the actual API call without retry logic
func (c *Client) queryCostsForSubscriptionInternal(ctx context.Context, sub config.Subscription, q provider.Query) ([]provider.CostDataPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	defer cancel()

	startDate := clock.TruncateDay(q.Start)
	endDate := clock.TruncateDay(q.End)

	c.logger.Debug("Querying Azure Cost Management API",
		"subscription", sub.Name,
		"start_date", startDate.Format(provider.DateLayout),
		"end_date", endDate.Format(provider.DateLayout))

	resp, err := c.api.Usage(ctx, "/subscriptions/"+sub.ID, c.queryDefinition(startDate, endDate), nil)
	if err != nil {
		return nil, classifyError(fmt.Errorf("cost query failed for date range %s to %s: %w",
			startDate.Format(provider.DateLayout), endDate.Format(provider.DateLayout), err))
	}

	return c.parseResponse(resp.QueryResult, sub, q.Granularity), nil
}

// queryDefinition builds a daily ActualCost query over [start, end]
func (c *Client) queryDefinition(startDate, endDate time.Time) armcostmanagement.QueryDefinition {
	groups := c.cfg.GroupBy
	if len(groups) == 0 {
		groups = defaultGrouping
	}

	var grouping []*armcostmanagement.QueryGrouping
	for _, g := range groups {
		groupType := armcostmanagement.QueryColumnType(g.Type)
		name := g.Name
		grouping = append(grouping, &armcostmanagement.QueryGrouping{
			Type: &groupType,
			Name: &name,
		})
	}

	queryType := armcostmanagement.ExportTypeActualCost
	timeframe := armcostmanagement.TimeframeTypeCustom
	granularity := armcostmanagement.GranularityTypeDaily

	aggregation := map[string]*armcostmanagement.QueryAggregation{
		"totalCost": {
			Name:     stringPtr("Cost"),
			Function: functionPtr(armcostmanagement.FunctionTypeSum),
		},
	}

	return armcostmanagement.QueryDefinition{
		Type:      &queryType,
		Timeframe: &timeframe,
		TimePeriod: &armcostmanagement.QueryTimePeriod{
			From: &startDate,
			To:   &endDate,
		},
		Dataset: &armcostmanagement.QueryDataset{
			Granularity: &granularity,
			Aggregation: aggregation,
			Grouping:    grouping,
		},
	}
}

// classifyError attaches the provider sentinel matching an Azure HTTP failure
func classifyError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return fmt.Errorf("%w: %v", provider.StatusError(respErr.StatusCode), err)
	}
	return err
}

// buildColumnMap creates a map of column names to their indices
func buildColumnMap(columns []*armcostmanagement.QueryColumn) map[string]int {
	columnMap := make(map[string]int)
	for i, col := range columns {
		if col.Name != nil {
			columnMap[*col.Name] = i
		}
	}
	return columnMap
}

// getStringFromRow extracts a string value from a row by column name
func getStringFromRow(row []any, columnMap map[string]int, columnName string) string {
	if idx, ok := columnMap[columnName]; ok && len(row) > idx && row[idx] != nil {
		value := strings.TrimSpace(fmt.Sprintf("%v", row[idx]))
		if value != "" && value != "<nil>" {
			return value
		}
	}
	return ""
}

// parseCost extracts a cost value. Unusable values are reported as not ok.
func parseCost(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

// formatDateValue converts various date types to string
func formatDateValue(value any) string {
	switch v := value.(type) {
	case int, int64:
		return fmt.Sprintf("%d", v)
	case float64:
		return fmt.Sprintf("%.0f", v)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// extractDigits extracts only digit characters from a string
func extractDigits(s string) string {
	var digits strings.Builder
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			digits.WriteRune(ch)
		}
	}
	return digits.String()
}

// parseDate converts a UsageDate value (20260115, "2026-01-15", ...) into a UTC day
func parseDate(value any) (time.Time, bool) {
	digits := extractDigits(formatDateValue(value))
	if len(digits) != 8 {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102", digits)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// extractService extracts service name with fallback to MeterCategory
func extractService(row []any, columnMap map[string]int) string {
	if service := getStringFromRow(row, columnMap, "ServiceName"); service != "" {
		return service
	}
	return getStringFromRow(row, columnMap, "MeterCategory")
}

// extractResourceGroup extracts resource group with fallback to ResourceGroupName
func extractResourceGroup(row []any, columnMap map[string]int) string {
	if rg := getStringFromRow(row, columnMap, "ResourceGroup"); rg != "" {
		return rg
	}
	return getStringFromRow(row, columnMap, "ResourceGroupName")
}

// costColumn finds the cost column; its name depends on the query type
func costColumn(columnMap map[string]int) (int, bool) {
	for _, name := range []string{"Cost", "PreTaxCost", "totalCost"} {
		if idx, ok := columnMap[name]; ok {
			return idx, true
		}
	}
	return 0, false
}

// parseRow parses a single row from the Azure API response
func (c *Client) parseRow(row []any, columnMap map[string]int, costIdx, dateIdx int, sub config.Subscription, g provider.Granularity) (provider.CostDataPoint, bool) {
	cost, ok := parseCost(row[costIdx])
	if !ok || cost.IsNegative() {
		return provider.CostDataPoint{}, false
	}
	date, ok := parseDate(row[dateIdx])
	if !ok {
		return provider.CostDataPoint{}, false
	}

	currency := strings.ToUpper(getStringFromRow(row, columnMap, "Currency"))
	if currency == "" {
		currency = DefaultCurrency
	}

	tags := map[string]string{
		"subscription_display_name": sub.Name,
	}
	if rg := extractResourceGroup(row, columnMap); rg != "" {
		tags["resource_group"] = rg
	}
	if mc := getStringFromRow(row, columnMap, "MeterCategory"); mc != "" {
		tags["meter_category"] = mc
	}
	if ct := getStringFromRow(row, columnMap, "ChargeType"); ct != "" {
		tags["charge_type"] = ct
	}

	return provider.CostDataPoint{
		Provider:    provider.ProviderAzure,
		Date:        g.Bucket(date),
		Amount:      cost,
		Currency:    currency,
		Service:     extractService(row, columnMap),
		AccountID:   sub.ID,
		AccountName: sub.Name,
		Region:      getStringFromRow(row, columnMap, "ResourceLocation"),
		Tags:        tags,
	}, true
}

// parseResponse converts an Azure API response into data points. Rows with
// an unusable date or a negative or unparsable cost are skipped.
func (c *Client) parseResponse(result armcostmanagement.QueryResult, sub config.Subscription, g provider.Granularity) []provider.CostDataPoint {
	var points []provider.CostDataPoint

	if result.Properties == nil || result.Properties.Rows == nil {
		return points
	}

	columnMap := buildColumnMap(result.Properties.Columns)

	// Verify required columns exist
	costIdx, hasCost := costColumn(columnMap)
	dateIdx, hasDate := columnMap["UsageDate"]
	if !hasCost || !hasDate {
		c.logger.Warn("Azure response is missing required columns",
			"subscription", sub.Name,
			"has_cost", hasCost,
			"has_usage_date", hasDate)
		return points
	}

	skipped := 0
	for _, row := range result.Properties.Rows {
		if len(row) <= costIdx || len(row) <= dateIdx {
			skipped++
			continue
		}
		point, ok := c.parseRow(row, columnMap, costIdx, dateIdx, sub, g)
		if !ok {
			skipped++
			continue
		}
		points = append(points, point)
	}

	if skipped > 0 {
		c.logger.Debug("Skipped unusable Azure rows", "subscription", sub.Name, "skipped", skipped)
	}

	return points
}

// Helper functions
func stringPtr(s string) *string {
	return &s
}

func functionPtr(f armcostmanagement.FunctionType) *armcostmanagement.FunctionType {
	return &f
}
