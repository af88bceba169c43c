package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/zgpcy/cloud-cost-monitor/internal/clock"
	"github.com/zgpcy/cloud-cost-monitor/internal/config"
	"github.com/zgpcy/cloud-cost-monitor/internal/logger"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
)

// GCP API retry constants
const (
	// MaxRetryElapsedTime is the maximum time to spend retrying a failed API call
	MaxRetryElapsedTime = 2 * time.Minute

	// InitialRetryInterval is the initial backoff interval for retries
	InitialRetryInterval = 1 * time.Second

	// MaxRetryInterval is the maximum backoff interval between retries
	MaxRetryInterval = 30 * time.Second

	// MaxPages bounds result pagination of a single query
	MaxPages = 100

	// pageSize is the number of rows requested per page
	pageSize = 10000
)

// DefaultBaseURL is the BigQuery REST endpoint
const DefaultBaseURL = "https://bigquery.googleapis.com/bigquery/v2"

// Scopes requested for the billing export query
var Scopes = []string{
	"https://www.googleapis.com/auth/bigquery.readonly",
	"https://www.googleapis.com/auth/cloud-platform.read-only",
}

// Client queries the Cloud Billing BigQuery export and implements provider.Gateway
type Client struct {
	httpClient  *http.Client
	tokenSource oauth2.TokenSource
	baseURL     string
	jobProject  string
	cfg         config.GCPConfig
	apiTimeout  time.Duration
	logger      *logger.Logger
	clock       clock.Clock
	newBackOff  func() backoff.BackOff

	projects atomic.Int64
}

// Verify that Client implements provider.Gateway
var _ provider.Gateway = (*Client)(nil)

// NewClient creates a BigQuery billing client. Credentials come from
// credentials_file when set, otherwise from Application Default Credentials.
func NewClient(ctx context.Context, cfg config.GCPConfig, apiTimeout time.Duration, log *logger.Logger) (*Client, error) {
	var (
		creds *google.Credentials
		err   error
	)
	if cfg.CredentialsFile != "" {
		// #nosec G304 -- Credentials path is provided by administrator via config
		data, readErr := os.ReadFile(cfg.CredentialsFile)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read GCP credentials file: %w", readErr)
		}
		creds, err = google.CredentialsFromJSON(ctx, data, Scopes...)
	} else {
		creds, err = google.FindDefaultCredentials(ctx, Scopes...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create GCP credentials: %w", err)
	}

	c := newClient(oauth2.NewClient(ctx, creds.TokenSource), creds.TokenSource, cfg, apiTimeout, log)
	if c.jobProject == "" {
		c.jobProject = creds.ProjectID
	}
	return c, nil
}

func newClient(httpClient *http.Client, ts oauth2.TokenSource, cfg config.GCPConfig, apiTimeout time.Duration, log *logger.Logger) *Client {
	jobProject := cfg.BillingProject
	if jobProject == "" {
		jobProject = strings.SplitN(cfg.BillingTable, ".", 2)[0]
	}
	return &Client{
		httpClient:  httpClient,
		tokenSource: ts,
		baseURL:     DefaultBaseURL,
		jobProject:  jobProject,
		cfg:         cfg,
		apiTimeout:  apiTimeout,
		logger:      log,
		clock:       clock.RealClock{},
		newBackOff:  defaultBackOff,
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
	return provider.ProviderGCP
}

// AccountCount returns the configured project count, or the number of
// projects seen in the last fetch when no filter is configured
func (c *Client) AccountCount() int {
	if len(c.cfg.Projects) > 0 {
		return len(c.cfg.Projects)
	}
	return int(c.projects.Load())
}

// Authenticate obtains an access token to verify the credentials
func (c *Client) Authenticate(ctx context.Context) error {
	if c.tokenSource == nil {
		return nil
	}
	if _, err := c.tokenSource.Token(); err != nil {
		return fmt.Errorf("%w: gcp credentials: %v", provider.ErrAuth, err)
	}
	return nil
}

// queryParameter is a named BigQuery query parameter
type queryParameter struct {
	Name           string         `json:"name"`
	ParameterType  parameterType  `json:"parameterType"`
	ParameterValue parameterValue `json:"parameterValue"`
}

type parameterType struct {
	Type      string         `json:"type"`
	ArrayType *parameterType `json:"arrayType,omitempty"`
}

type parameterValue struct {
	Value       string           `json:"value,omitempty"`
	ArrayValues []parameterValue `json:"arrayValues,omitempty"`
}

// queryRequest represents a BigQuery jobs.query request
type queryRequest struct {
	Query           string           `json:"query"`
	UseLegacySQL    bool             `json:"useLegacySql"`
	ParameterMode   string           `json:"parameterMode"`
	QueryParameters []queryParameter `json:"queryParameters"`
	MaxResults      int              `json:"maxResults,omitempty"`
	TimeoutMs       int              `json:"timeoutMs,omitempty"`
}

// queryResponse represents a BigQuery jobs.query or jobs.getQueryResults response
type queryResponse struct {
	JobComplete  bool `json:"jobComplete"`
	JobReference struct {
		JobID    string `json:"jobId"`
		Location string `json:"location"`
	} `json:"jobReference"`
	Schema struct {
		Fields []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"fields"`
	} `json:"schema"`
	Rows      []tableRow `json:"rows"`
	PageToken string     `json:"pageToken"`
}

type tableRow struct {
	F []tableCell `json:"f"`
}

// tableCell holds one value; the REST API encodes every scalar as a string
type tableCell struct {
	V any `json:"v"`
}

// apiError is the error body returned by Google APIs
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// buildQuery returns the billing export SQL. Credits are netted into cost.
func (c *Client) buildQuery(q provider.Query) queryRequest {
	sql := fmt.Sprintf(`
SELECT
  FORMAT_DATE('%%Y-%%m-%%d', DATE(usage_start_time)) AS usage_date,
  project.id AS project_id,
  project.name AS project_name,
  service.description AS service_name,
  IFNULL(location.region, location.location) AS region,
  currency,
  SUM(cost) + SUM(IFNULL((SELECT SUM(c.amount) FROM UNNEST(credits) c), 0)) AS total_cost
FROM `+"`%s`"+`
WHERE DATE(usage_start_time) BETWEEN @start_date AND @end_date%s
GROUP BY usage_date, project_id, project_name, service_name, region, currency
ORDER BY usage_date`, c.cfg.BillingTable, c.projectFilter())

	params := []queryParameter{
		{
			Name:           "start_date",
			ParameterType:  parameterType{Type: "DATE"},
			ParameterValue: parameterValue{Value: q.Start.Format(provider.DateLayout)},
		},
		{
			Name:           "end_date",
			ParameterType:  parameterType{Type: "DATE"},
			ParameterValue: parameterValue{Value: q.End.Format(provider.DateLayout)},
		},
	}
	if len(c.cfg.Projects) > 0 {
		values := make([]parameterValue, 0, len(c.cfg.Projects))
		for _, p := range c.cfg.Projects {
			values = append(values, parameterValue{Value: p.ID})
		}
		params = append(params, queryParameter{
			Name:           "projects",
			ParameterType:  parameterType{Type: "ARRAY", ArrayType: &parameterType{Type: "STRING"}},
			ParameterValue: parameterValue{ArrayValues: values},
		})
	}

	return queryRequest{
		Query:           sql,
		UseLegacySQL:    false,
		ParameterMode:   "NAMED",
		QueryParameters: params,
		MaxResults:      pageSize,
		TimeoutMs:       int(c.apiTimeout / time.Millisecond),
	}
}

func (c *Client) projectFilter() string {
	if len(c.cfg.Projects) == 0 {
		return ""
	}
	return "\n  AND project.id IN UNNEST(@projects)"
}

// FetchCosts runs the billing export query and pages through its results
func (c *Client) FetchCosts(ctx context.Context, q provider.Query) (*provider.CostSummary, error) {
	body, err := json.Marshal(c.buildQuery(q))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	queryURL := fmt.Sprintf("%s/projects/%s/queries", c.baseURL, url.PathEscape(c.jobProject))

	c.logger.Debug("Querying GCP billing export",
		"table", c.cfg.BillingTable,
		"start_date", q.Start.Format(provider.DateLayout),
		"end_date", q.End.Format(provider.DateLayout))

	resp, err := c.do(ctx, http.MethodPost, queryURL, body)
	if err != nil {
		return nil, err
	}

	var (
		points   []provider.CostDataPoint
		projects = make(map[string]struct{})
	)

	for page := 0; ; page++ {
		if resp.JobComplete {
			for _, p := range c.parseResponse(resp, q.Granularity) {
				projects[p.AccountID] = struct{}{}
				points = append(points, p)
			}
			if resp.PageToken == "" {
				break
			}
		}
		if page >= MaxPages {
			return nil, fmt.Errorf("%w: billing query exceeded %d result pages", provider.ErrTransient, MaxPages)
		}

		resp, err = c.do(ctx, http.MethodGet, c.resultsURL(resp), nil)
		if err != nil {
			return nil, err
		}
	}

	c.projects.Store(int64(len(projects)))

	summary := &provider.CostSummary{
		Provider:    provider.ProviderGCP,
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

// resultsURL builds the jobs.getQueryResults URL for the next page or poll
func (c *Client) resultsURL(prev *queryResponse) string {
	values := url.Values{}
	values.Set("maxResults", fmt.Sprintf("%d", pageSize))
	values.Set("timeoutMs", fmt.Sprintf("%d", int(c.apiTimeout/time.Millisecond)))
	if prev.PageToken != "" {
		values.Set("pageToken", prev.PageToken)
	}
	if prev.JobReference.Location != "" {
		values.Set("location", prev.JobReference.Location)
	}
	return fmt.Sprintf("%s/projects/%s/queries/%s?%s",
		c.baseURL, url.PathEscape(c.jobProject), url.PathEscape(prev.JobReference.JobID), values.Encode())
}

// do sends one request with retry; authentication failures are not retried
func (c *Client) do(ctx context.Context, method, target string, body []byte) (*queryResponse, error) {
	var result *queryResponse

	operation := func() error {
		resp, err := c.doOnce(ctx, method, target, body)
		if err != nil {
			if errors.Is(err, provider.ErrAuth) {
				return backoff.Permanent(err)
			}
			c.logger.Debug("BigQuery API call failed, will retry", "error", err)
			return err
		}
		result = resp
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, fmt.Errorf("billing export query failed after retries: %w", err)
	}
	return result, nil
}

// doOnce performs the actual API call without retry logic
func (c *Client) doOnce(ctx context.Context, method, target string, body []byte) (*queryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("%w: %v", provider.ErrAuth, err)
		}
		return nil, fmt.Errorf("%w: request failed: %v", provider.ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return nil, fmt.Errorf("%w: BigQuery API returned %d: %s", provider.StatusError(resp.StatusCode), resp.StatusCode, msg)
	}

	var out queryResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// parseResponse converts BigQuery rows into data points. Rows missing a
// date or cost, or with a negative net cost, are skipped.
func (c *Client) parseResponse(resp *queryResponse, g provider.Granularity) []provider.CostDataPoint {
	idx := make(map[string]int, len(resp.Schema.Fields))
	for i, field := range resp.Schema.Fields {
		idx[field.Name] = i
	}

	dateIdx, hasDate := idx["usage_date"]
	costIdx, hasCost := idx["total_cost"]
	if !hasDate || !hasCost {
		if len(resp.Rows) > 0 {
			c.logger.Warn("BigQuery response is missing required columns",
				"has_usage_date", hasDate,
				"has_total_cost", hasCost)
		}
		return nil
	}

	cell := func(row []tableCell, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) || row[i].V == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprintf("%v", row[i].V))
	}

	var points []provider.CostDataPoint
	for _, row := range resp.Rows {
		if len(row.F) <= dateIdx || len(row.F) <= costIdx {
			continue
		}

		date, err := time.Parse(provider.DateLayout, cell(row.F, "usage_date"))
		if err != nil {
			continue
		}
		amount, err := decimal.NewFromString(cell(row.F, "total_cost"))
		if err != nil || amount.IsNegative() {
			continue
		}

		currency := strings.ToUpper(cell(row.F, "currency"))
		if currency == "" {
			currency = "USD"
		}

		tags := map[string]string{}
		if name := cell(row.F, "project_name"); name != "" {
			tags["project_name"] = name
		}

		points = append(points, provider.CostDataPoint{
			Provider:    provider.ProviderGCP,
			Date:        g.Bucket(date),
			Amount:      amount,
			Currency:    currency,
			Service:     cell(row.F, "service_name"),
			AccountID:   cell(row.F, "project_id"),
			AccountName: c.projectName(cell(row.F, "project_id")),
			Region:      cell(row.F, "region"),
			Tags:        tags,
		})
	}
	return points
}

// projectName returns the configured display name of a project, if any
func (c *Client) projectName(id string) string {
	for _, p := range c.cfg.Projects {
		if p.ID == id {
			return p.Name
		}
	}
	return ""
}

func summaryCurrency(points []provider.CostDataPoint) string {
	for _, p := range points {
		if p.Currency != "" {
			return p.Currency
		}
	}
	return "USD"
}
