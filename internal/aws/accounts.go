package aws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"

	"github.com/zgpcy/cloud-cost-monitor/internal/logger"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
)

// DefaultAccountCacheTTL is how long the organization account list is reused
const DefaultAccountCacheTTL = 6 * time.Hour

// AccountDirectory resolves linked account IDs to names through AWS
// Organizations. It satisfies currency.AccountNamer. The account list is
// loaded lazily and cached; a failed load is logged and retried on the next
// lookup after the TTL.
type AccountDirectory struct {
	api    organizations.ListAccountsAPIClient
	ttl    time.Duration
	logger *logger.Logger
	now    func() time.Time

	mu       sync.Mutex
	names    map[string]string
	loadedAt time.Time
}

// NewAccountDirectory creates a directory backed by the Organizations API
func NewAccountDirectory(awsCfg aws.Config, log *logger.Logger) *AccountDirectory {
	return newAccountDirectory(organizations.NewFromConfig(awsCfg), log)
}

func newAccountDirectory(api organizations.ListAccountsAPIClient, log *logger.Logger) *AccountDirectory {
	return &AccountDirectory{
		api:    api,
		ttl:    DefaultAccountCacheTTL,
		logger: log,
		now:    time.Now,
	}
}

// AccountName returns the organization name of an AWS account
func (d *AccountDirectory) AccountName(ctx context.Context, p provider.ProviderType, accountID string) (string, bool) {
	if p != provider.ProviderAWS || accountID == "" {
		return "", false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.names == nil || d.now().Sub(d.loadedAt) > d.ttl {
		names, err := d.load(ctx)
		d.loadedAt = d.now()
		if err != nil {
			d.logger.Warn("Failed to list AWS organization accounts", "error", err)
			if d.names == nil {
				d.names = map[string]string{}
			}
		} else {
			d.names = names
		}
	}

	name, ok := d.names[accountID]
	return name, ok
}

// load lists every account of the organization
func (d *AccountDirectory) load(ctx context.Context) (map[string]string, error) {
	names := make(map[string]string)
	paginator := organizations.NewListAccountsPaginator(d.api, &organizations.ListAccountsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list accounts: %w", classifyError(err))
		}
		for _, acct := range page.Accounts {
			if id := aws.ToString(acct.Id); id != "" {
				names[id] = aws.ToString(acct.Name)
			}
		}
	}
	d.logger.Debug("Loaded AWS organization accounts", "count", len(names))
	return names, nil
}
