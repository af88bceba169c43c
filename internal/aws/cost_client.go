package aws

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/zgpcy/cloud-cost-monitor/internal/clock"
	"github.com/zgpcy/cloud-cost-monitor/internal/config"
	"github.com/zgpcy/cloud-cost-monitor/internal/logger"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
)

// AWS API retry constants
const (
	// MaxRetryElapsedTime is the maximum time to spend retrying a failed API call
	MaxRetryElapsedTime = 2 * time.Minute

	// InitialRetryInterval is the initial backoff interval for retries
	InitialRetryInterval = 1 * time.Second

	// MaxRetryInterval is the maximum backoff interval between retries
	MaxRetryInterval = 30 * time.Second

	// MaxPages bounds pagination of a single query
	MaxPages = 100
)

// Cost Explorer dimensions used for grouping
const (
	DimensionLinkedAccount = config.AWSDimensionLinkedAccount
	DimensionService       = config.AWSDimensionService
	DimensionRegion        = config.AWSDimensionRegion
)

// CostExplorerAPI is the subset of costexplorer.Client used by the gateway
type CostExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// Client queries AWS Cost Explorer and implements provider.Gateway
type Client struct {
	api        CostExplorerAPI
	creds      aws.CredentialsProvider
	cfg        config.AWSConfig
	apiTimeout time.Duration
	logger     *logger.Logger
	clock      clock.Clock
	newBackOff func() backoff.BackOff

	accounts atomic.Int64
}

// Verify that Client implements provider.Gateway
var _ provider.Gateway = (*Client)(nil)

// LoadConfig resolves the AWS SDK configuration for the configured region and profile
func LoadConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewClient creates a Cost Explorer gateway from a resolved SDK configuration
func NewClient(awsCfg aws.Config, cfg config.AWSConfig, apiTimeout time.Duration, log *logger.Logger) *Client {
	return newClient(costexplorer.NewFromConfig(awsCfg), awsCfg.Credentials, cfg, apiTimeout, log)
}

func newClient(api CostExplorerAPI, creds aws.CredentialsProvider, cfg config.AWSConfig, apiTimeout time.Duration, log *logger.Logger) *Client {
	if cfg.Metric == "" {
		cfg.Metric = config.DefaultAWSMetric
	}
	if len(cfg.GroupBy) == 0 {
		cfg.GroupBy = config.DefaultAWSGroupBy
	}
	return &Client{
		api:        api,
		creds:      creds,
		cfg:        cfg,
		apiTimeout: apiTimeout,
		logger:     log,
		clock:      clock.RealClock{},
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
	return provider.ProviderAWS
}

// AccountCount returns the number of linked accounts seen in the last fetch
func (c *Client) AccountCount() int {
	return int(c.accounts.Load())
}

// Authenticate retrieves credentials to verify the provider chain
func (c *Client) Authenticate(ctx context.Context) error {
	if c.creds == nil {
		return nil
	}
	if _, err := c.creds.Retrieve(ctx); err != nil {
		return fmt.Errorf("%w: aws credentials: %v", provider.ErrAuth, err)
	}
	return nil
}

// FetchCosts retrieves costs grouped by the configured dimensions (linked
// account and service unless group_by says otherwise), following
// pagination. Cost Explorer accepts at most two dimensions, so costs for a
// dimension not grouped on land in the normalizer's unknown bucket. Cost
// Explorer treats the end date as exclusive, so one day is added to include
// q.End.
func (c *Client) FetchCosts(ctx context.Context, q provider.Query) (*provider.CostSummary, error) {
	groupBy := make([]types.GroupDefinition, 0, len(c.cfg.GroupBy))
	for _, dim := range c.cfg.GroupBy {
		groupBy = append(groupBy, types.GroupDefinition{Type: types.GroupDefinitionTypeDimension, Key: aws.String(dim)})
	}

	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(clock.TruncateDay(q.Start).Format(provider.DateLayout)),
			End:   aws.String(clock.TruncateDay(q.End).AddDate(0, 0, 1).Format(provider.DateLayout)),
		},
		Granularity: granularity(q.Granularity),
		Metrics:     []string{c.cfg.Metric},
		GroupBy:     groupBy,
	}

	c.logger.Debug("Querying AWS Cost Explorer",
		"start_date", aws.ToString(input.TimePeriod.Start),
		"end_date_exclusive", aws.ToString(input.TimePeriod.End),
		"metric", c.cfg.Metric,
		"group_by", c.cfg.GroupBy)

	var (
		points   []provider.CostDataPoint
		names    = make(map[string]string)
		accounts = make(map[string]struct{})
	)

	for page := 0; page < MaxPages; page++ {
		out, err := c.getPage(ctx, input)
		if err != nil {
			return nil, err
		}

		for _, attr := range out.DimensionValueAttributes {
			if desc := attr.Attributes["description"]; desc != "" {
				names[aws.ToString(attr.Value)] = desc
			}
		}

		for _, result := range out.ResultsByTime {
			for _, point := range c.parseResult(result, q.Granularity) {
				if point.AccountID != "" {
					accounts[point.AccountID] = struct{}{}
				}
				points = append(points, point)
			}
		}

		if aws.ToString(out.NextPageToken) == "" {
			break
		}
		input.NextPageToken = out.NextPageToken
	}

	for i := range points {
		if name, ok := names[points[i].AccountID]; ok {
			points[i].AccountName = name
			points[i].Tags["account_name"] = name
		}
	}
	c.accounts.Store(int64(len(accounts)))

	summary := &provider.CostSummary{
		Provider:    provider.ProviderAWS,
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

// getPage fetches one page with retry; authentication failures are not retried
func (c *Client) getPage(ctx context.Context, input *costexplorer.GetCostAndUsageInput) (*costexplorer.GetCostAndUsageOutput, error) {
	var result *costexplorer.GetCostAndUsageOutput

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.apiTimeout)
		defer cancel()

		out, err := c.api.GetCostAndUsage(callCtx, input)
		if err != nil {
			err = classifyError(err)
			if errors.Is(err, provider.ErrAuth) {
				return backoff.Permanent(err)
			}
			c.logger.Debug("AWS API call failed, will retry", "error", err)
			return err
		}
		result = out
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, fmt.Errorf("cost explorer query failed after retries: %w", err)
	}
	return result, nil
}

// parseResult converts one time bucket into data points. Groups with an
// unparsable or negative amount are skipped.
func (c *Client) parseResult(result types.ResultByTime, g provider.Granularity) []provider.CostDataPoint {
	if result.TimePeriod == nil {
		return nil
	}
	date, err := time.Parse(provider.DateLayout, aws.ToString(result.TimePeriod.Start))
	if err != nil {
		c.logger.Debug("Skipping result with unparsable date", "start", aws.ToString(result.TimePeriod.Start))
		return nil
	}

	var points []provider.CostDataPoint
	for _, group := range result.Groups {
		metric, ok := group.Metrics[c.cfg.Metric]
		if !ok {
			continue
		}
		amount, err := decimal.NewFromString(aws.ToString(metric.Amount))
		if err != nil || amount.IsNegative() {
			continue
		}

		var accountID, service, region string
		for i, dim := range c.cfg.GroupBy {
			if i >= len(group.Keys) {
				break
			}
			switch dim {
			case DimensionLinkedAccount:
				accountID = group.Keys[i]
			case DimensionService:
				service = group.Keys[i]
			case DimensionRegion:
				region = group.Keys[i]
			}
		}

		currency := aws.ToString(metric.Unit)
		if currency == "" {
			currency = "USD"
		}

		tags := map[string]string{}
		if result.Estimated {
			tags["estimated"] = "true"
		}

		points = append(points, provider.CostDataPoint{
			Provider:  provider.ProviderAWS,
			Date:      g.Bucket(date),
			Amount:    amount,
			Currency:  currency,
			Service:   service,
			AccountID: accountID,
			Region:    region,
			Tags:      tags,
		})
	}
	return points
}

func granularity(g provider.Granularity) types.Granularity {
	if g == provider.GranularityMonthly {
		return types.GranularityMonthly
	}
	return types.GranularityDaily
}

func summaryCurrency(points []provider.CostDataPoint) string {
	for _, p := range points {
		if p.Currency != "" {
			return p.Currency
		}
	}
	return "USD"
}

// Error codes returned by AWS APIs, grouped by provider error kind
var (
	authErrorCodes = map[string]bool{
		"AccessDeniedException":       true,
		"UnrecognizedClientException": true,
		"ExpiredTokenException":       true,
		"InvalidClientTokenId":        true,
		"UnauthorizedOperation":       true,
	}
	rateLimitErrorCodes = map[string]bool{
		"LimitExceededException":   true,
		"ThrottlingException":      true,
		"TooManyRequestsException": true,
		"RequestLimitExceeded":     true,
	}
)

// classifyError attaches the provider sentinel matching an AWS API failure
func classifyError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.ErrorCode(); {
		case authErrorCodes[code]:
			return fmt.Errorf("%w: %v", provider.ErrAuth, err)
		case rateLimitErrorCodes[code]:
			return fmt.Errorf("%w: %v", provider.ErrRateLimit, err)
		}
	}

	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		return fmt.Errorf("%w: %v", provider.StatusError(statusErr.HTTPStatusCode()), err)
	}
	return err
}
