// Package azure provides the Azure Cost Management gateway.
//
// The gateway queries ActualCost usage per configured subscription and
// parses the result rows into provider.CostDataPoint values. It handles:
//   - Authentication using Azure Default Credentials
//   - Daily cost queries grouped by ServiceName and ResourceLocation unless
//     group_by is configured
//   - Bounded per-subscription fan-out (subscription_concurrency)
//   - Exponential backoff retries; 401/403 responses are not retried
//   - Partial data when only some subscriptions fail
//
// Example usage:
//
//	client, err := azure.NewClient(cfg.Providers.Azure, cfg.APITimeoutDuration(), log)
//	if err != nil {
//		log.Error("Failed to create Azure client", "error", err)
//		os.Exit(1)
//	}
//
//	summary, err := client.FetchCosts(ctx, cfg.Query(time.Now()))
package azure
